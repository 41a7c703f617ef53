package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleStatus(c *gin.Context) {
	symbols := s.deps.Store.Symbols()
	restricted := make([]string, 0)
	for _, symbol := range symbols {
		if r, _ := s.deps.Store.Restriction(symbol); r {
			restricted = append(restricted, symbol)
		}
	}

	successResponse(c, gin.H{
		"running":      !s.deps.Global.ShuttingDown(),
		"conservative": s.deps.Global.Conservative(),
		"symbols":      symbols,
		"restricted":   restricted,
		"uptime":       time.Since(s.startedAt).Round(time.Second).String(),
		"ws_clients":   s.hub.ClientCount(),
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	positions, err := s.deps.Client.AllPositions(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusBadGateway, err.Error())
		return
	}
	successResponse(c, positions)
}

func (s *Server) handleStats(c *gin.Context) {
	successResponse(c, s.deps.Tracker.Snapshot())
}

func (s *Server) handleState(c *gin.Context) {
	successResponse(c, s.deps.Store.Snapshots())
}

func (s *Server) handleSymbolState(c *gin.Context) {
	symbol := c.Param("symbol")
	snap, ok := s.deps.Store.SnapshotFor(symbol)
	if !ok {
		errorResponse(c, http.StatusNotFound, "unknown symbol")
		return
	}
	successResponse(c, snap)
}

type conservativeRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleConservative(c *gin.Context) {
	var req conservativeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}

	s.deps.Global.SetConservative(req.Enabled)
	s.deps.Bus.PublishTradingModeChanged(req.Enabled)
	s.logger.Info().Bool("conservative", req.Enabled).Msg("trading mode changed")
	successResponse(c, gin.H{"conservative": req.Enabled})
}

func (s *Server) handleRestrict(c *gin.Context) {
	symbol := c.Param("symbol")
	if _, ok := s.deps.Store.SnapshotFor(symbol); !ok {
		errorResponse(c, http.StatusNotFound, "unknown symbol")
		return
	}

	s.deps.Store.Restrict(symbol, time.Now())
	s.deps.Bus.PublishSymbolRestricted(symbol, s.deps.Store.ConsecutiveLosses(symbol))
	s.logger.Warn().Str("symbol", symbol).Msg("symbol restricted via api")
	successResponse(c, gin.H{"symbol": symbol, "restricted": true})
}

func (s *Server) handleUnrestrict(c *gin.Context) {
	symbol := c.Param("symbol")
	if _, ok := s.deps.Store.SnapshotFor(symbol); !ok {
		errorResponse(c, http.StatusNotFound, "unknown symbol")
		return
	}

	s.deps.Store.Unrestrict(symbol)
	s.logger.Info().Str("symbol", symbol).Msg("symbol unrestricted via api")
	successResponse(c, gin.H{"symbol": symbol, "restricted": false})
}

func (s *Server) handleShutdown(c *gin.Context) {
	s.logger.Warn().Msg("shutdown requested via api")
	successResponse(c, gin.H{"shutting_down": true})

	if s.deps.Shutdown != nil {
		// After the response is written; the engine stop tears this
		// server down too.
		go s.deps.Shutdown()
	}
}
