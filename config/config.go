package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	GatewayConfig GatewayConfig `json:"gateway"`
	TradingConfig TradingConfig `json:"trading"`
	RiskConfig    RiskConfig    `json:"risk"`
	ModelConfig   ModelConfig   `json:"model"`
	SignalConfig  SignalConfig  `json:"signal"`
	ServerConfig  ServerConfig  `json:"server"`
	LoggingConfig LoggingConfig `json:"logging"`
	StatsConfig   StatsConfig   `json:"stats"`
}

// GatewayConfig holds the MetaTrader 5 gateway connection settings.
type GatewayConfig struct {
	BaseURL     string        `json:"base_url"`
	Token       string        `json:"token"`
	Timeout     time.Duration `json:"timeout"`
	MaxQuoteAge time.Duration `json:"max_quote_age"`
}

type TradingConfig struct {
	Symbols            []string `json:"symbols"`
	BaseVolume         float64  `json:"base_volume"`
	ProfitThreshold    float64  `json:"profit_threshold"`
	MinProfitThreshold float64  `json:"min_profit_threshold"`
	DryRun             bool     `json:"dry_run"`           // simulated venue, no real orders
	Conservative       bool     `json:"conservative"`      // start in conservative mode
	CloseOnShutdown    bool     `json:"close_on_shutdown"` // close all positions on exit
}

type RiskConfig struct {
	Profile     string `json:"profile"`      // CONSERVATIVE, MODERATE or AGGRESSIVE
	ProfilesDir string `json:"profiles_dir"` // optional yaml overrides
}

// ModelConfig holds the ONNX predictor settings.
type ModelConfig struct {
	Enabled     bool   `json:"enabled"`
	Dir         string `json:"dir"`          // per-symbol model artifacts
	LibraryPath string `json:"library_path"` // onnxruntime shared library
}

type SignalConfig struct {
	Timeframe string `json:"timeframe"` // M1, M5, M15 or H1
	Bars      int    `json:"bars"`
}

type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ProductionMode bool     `json:"production_mode"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

type StatsConfig struct {
	ReportInterval time.Duration `json:"report_interval"`
}

// Load reads config.json when present and applies environment variable
// overrides on top.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)

	if len(cfg.TradingConfig.Symbols) == 0 {
		return nil, fmt.Errorf("no trading symbols configured")
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over file values.
func applyEnvOverrides(cfg *Config) {
	// Gateway
	cfg.GatewayConfig.BaseURL = getEnvOrDefault("MT5_GATEWAY_URL", cfg.GatewayConfig.BaseURL)
	if cfg.GatewayConfig.BaseURL == "" {
		cfg.GatewayConfig.BaseURL = "http://localhost:5001"
	}
	cfg.GatewayConfig.Token = getEnvOrDefault("MT5_GATEWAY_TOKEN", cfg.GatewayConfig.Token)
	cfg.GatewayConfig.Timeout = getEnvDurationOrDefault("MT5_GATEWAY_TIMEOUT", orDuration(cfg.GatewayConfig.Timeout, 10*time.Second))
	cfg.GatewayConfig.MaxQuoteAge = getEnvDurationOrDefault("MT5_MAX_QUOTE_AGE", orDuration(cfg.GatewayConfig.MaxQuoteAge, 30*time.Second))

	// Trading
	if symbols := os.Getenv("TRADING_SYMBOLS"); symbols != "" {
		cfg.TradingConfig.Symbols = splitSymbols(symbols)
	}
	if len(cfg.TradingConfig.Symbols) == 0 {
		cfg.TradingConfig.Symbols = []string{"EURUSD"}
	}
	cfg.TradingConfig.BaseVolume = getEnvFloatOrDefault("TRADING_BASE_VOLUME", orFloat(cfg.TradingConfig.BaseVolume, 0.10))
	cfg.TradingConfig.ProfitThreshold = getEnvFloatOrDefault("TRADING_PROFIT_THRESHOLD", orFloat(cfg.TradingConfig.ProfitThreshold, 10.0))
	cfg.TradingConfig.MinProfitThreshold = getEnvFloatOrDefault("TRADING_MIN_PROFIT_THRESHOLD", orFloat(cfg.TradingConfig.MinProfitThreshold, 5.0))
	if v := os.Getenv("TRADING_DRY_RUN"); v != "" {
		cfg.TradingConfig.DryRun = v == "true"
	}
	if v := os.Getenv("TRADING_CONSERVATIVE"); v != "" {
		cfg.TradingConfig.Conservative = v == "true"
	}
	if v := os.Getenv("TRADING_CLOSE_ON_SHUTDOWN"); v != "" {
		cfg.TradingConfig.CloseOnShutdown = v == "true"
	}

	// Risk
	cfg.RiskConfig.Profile = strings.ToUpper(getEnvOrDefault("RISK_PROFILE", orString(cfg.RiskConfig.Profile, "MODERATE")))
	cfg.RiskConfig.ProfilesDir = getEnvOrDefault("RISK_PROFILES_DIR", cfg.RiskConfig.ProfilesDir)

	// Model
	if v := os.Getenv("MODEL_ENABLED"); v != "" {
		cfg.ModelConfig.Enabled = v == "true"
	}
	cfg.ModelConfig.Dir = getEnvOrDefault("MODEL_DIR", orString(cfg.ModelConfig.Dir, "models"))
	cfg.ModelConfig.LibraryPath = getEnvOrDefault("ONNXRUNTIME_LIB_PATH", cfg.ModelConfig.LibraryPath)

	// Signal
	cfg.SignalConfig.Timeframe = getEnvOrDefault("SIGNAL_TIMEFRAME", orString(cfg.SignalConfig.Timeframe, "M5"))
	cfg.SignalConfig.Bars = getEnvIntOrDefault("SIGNAL_BARS", orInt(cfg.SignalConfig.Bars, 100))

	// Server
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", orString(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", orInt(cfg.ServerConfig.Port, 8080))
	if v := os.Getenv("WEB_PRODUCTION"); v != "" {
		cfg.ServerConfig.ProductionMode = v == "true"
	}
	if origins := os.Getenv("WEB_ALLOWED_ORIGINS"); origins != "" {
		cfg.ServerConfig.AllowedOrigins = splitSymbols(origins)
	}

	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", orString(cfg.LoggingConfig.Level, "INFO"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", orString(cfg.LoggingConfig.Output, "stdout"))
	if v := os.Getenv("LOG_JSON"); v != "" {
		cfg.LoggingConfig.JSONFormat = v == "true"
	}
	if v := os.Getenv("LOG_INCLUDE_FILE"); v != "" {
		cfg.LoggingConfig.IncludeFile = v == "true"
	}

	// Stats
	cfg.StatsConfig.ReportInterval = getEnvDurationOrDefault("STATS_REPORT_INTERVAL", orDuration(cfg.StatsConfig.ReportInterval, 5*time.Minute))
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func splitSymbols(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func orString(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func orInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func orFloat(v, fallback float64) float64 {
	if v != 0 {
		return v
	}
	return fallback
}

func orDuration(v, fallback time.Duration) time.Duration {
	if v != 0 {
		return v
	}
	return fallback
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GenerateSampleConfig writes a starter config.json.
func GenerateSampleConfig(filename string) error {
	sample := Config{
		GatewayConfig: GatewayConfig{
			BaseURL:     "http://localhost:5001",
			Timeout:     10 * time.Second,
			MaxQuoteAge: 30 * time.Second,
		},
		TradingConfig: TradingConfig{
			Symbols:            []string{"EURUSD", "GBPUSD", "USDJPY"},
			BaseVolume:         0.10,
			ProfitThreshold:    10.0,
			MinProfitThreshold: 5.0,
			DryRun:             true,
			CloseOnShutdown:    true,
		},
		RiskConfig: RiskConfig{
			Profile: "MODERATE",
		},
		ModelConfig: ModelConfig{
			Enabled: true,
			Dir:     "models",
		},
		SignalConfig: SignalConfig{
			Timeframe: "M5",
			Bars:      100,
		},
		ServerConfig: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
		StatsConfig: StatsConfig{
			ReportInterval: 5 * time.Minute,
		},
	}

	data, err := json.MarshalIndent(sample, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling sample config: %w", err)
	}
	return os.WriteFile(filename, data, 0o644)
}
