// Package predictor runs the per-symbol ONNX models that supply the ML
// leg of signal fusion: a direction classifier and an expected-return
// regressor.
package predictor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
)

// FeatureWidth is the size of the input vector both models expect.
const FeatureWidth = 8

// ErrNoModel means no model artifact exists for the symbol. The caller
// treats this as "predictor unavailable", not as a failure.
var ErrNoModel = errors.New("no model for symbol")

// Prediction is the ML view of a symbol's next move.
type Prediction struct {
	Direction      int     // +1 buy, -1 sell, 0 undecided
	Confidence     float64 // [0, 1]
	ExpectedReturn float64 // fractional expected price move
}

// Predictor answers predictions for any registered symbol.
type Predictor interface {
	Predict(symbol string, features []float32) (Prediction, error)
	Close()
}

// disabled always reports ErrNoModel, dropping the engine back to its
// technical-only path.
type disabled struct{}

func (disabled) Predict(symbol string, features []float32) (Prediction, error) {
	return Prediction{}, fmt.Errorf("%w: predictor disabled", ErrNoModel)
}

func (disabled) Close() {}

// Disabled returns a predictor that never has a model.
func Disabled() Predictor { return disabled{} }

var ortInit sync.Once

func initRuntime(libPath string) error {
	var err error
	ortInit.Do(func() {
		if libPath == "" {
			switch runtime.GOOS {
			case "windows":
				libPath = "onnxruntime.dll"
			case "darwin":
				libPath = "libonnxruntime.dylib"
			default:
				libPath = "/usr/lib/libonnxruntime.so"
			}
		}
		ort.SetSharedLibraryPath(libPath)
		err = ort.InitializeEnvironment()
	})
	return err
}

// model wraps one ONNX session with fixed-shape tensors.
type model struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	outLen  int
}

func newModel(path string, outLen int) (*model, error) {
	inputTensor, err := ort.NewTensor(ort.NewShape(1, FeatureWidth), make([]float32, FeatureWidth))
	if err != nil {
		return nil, fmt.Errorf("creating input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(outLen)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{"input"}, []string{"output"},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor}, nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("creating session for %s: %w", path, err)
	}

	return &model{session: session, input: inputTensor, output: outputTensor, outLen: outLen}, nil
}

func (m *model) run(features []float32) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.input.GetData(), features)
	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	out := make([]float32, m.outLen)
	copy(out, m.output.GetData())
	return out, nil
}

func (m *model) close() {
	if m.session != nil {
		m.session.Destroy()
	}
	if m.input != nil {
		m.input.Destroy()
	}
	if m.output != nil {
		m.output.Destroy()
	}
}

// symbolModels is the direction + return pair for one symbol.
type symbolModels struct {
	direction *model // output [1,3]: sell/neutral/buy probabilities
	ret       *model // output [1,1]: expected fractional return
}

// OnnxPredictor loads model pairs from a directory at startup.
type OnnxPredictor struct {
	models map[string]*symbolModels
	logger zerolog.Logger
}

// NewOnnxPredictor warm-loads models for the given symbols from dir.
// Symbols without artifacts are noted and skipped; predictions for them
// return ErrNoModel.
func NewOnnxPredictor(dir, libPath string, symbols []string, logger zerolog.Logger) (*OnnxPredictor, error) {
	if err := initRuntime(libPath); err != nil {
		return nil, fmt.Errorf("initializing onnx runtime: %w", err)
	}

	p := &OnnxPredictor{
		models: make(map[string]*symbolModels),
		logger: logger.With().Str("component", "predictor").Logger(),
	}

	for _, symbol := range symbols {
		dirPath := filepath.Join(dir, symbol+"_direction.onnx")
		retPath := filepath.Join(dir, symbol+"_return.onnx")
		if !fileExists(dirPath) || !fileExists(retPath) {
			p.logger.Warn().Str("symbol", symbol).Msg("model artifacts missing, predictor disabled for symbol")
			continue
		}

		dirModel, err := newModel(dirPath, 3)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("loading direction model for %s: %w", symbol, err)
		}
		retModel, err := newModel(retPath, 1)
		if err != nil {
			dirModel.close()
			p.Close()
			return nil, fmt.Errorf("loading return model for %s: %w", symbol, err)
		}
		p.models[symbol] = &symbolModels{direction: dirModel, ret: retModel}
		p.logger.Info().Str("symbol", symbol).Msg("models loaded")
	}

	return p, nil
}

// Predict runs both models for a symbol and fuses their outputs.
func (p *OnnxPredictor) Predict(symbol string, features []float32) (Prediction, error) {
	sm, ok := p.models[symbol]
	if !ok {
		return Prediction{}, fmt.Errorf("%w: %s", ErrNoModel, symbol)
	}
	if len(features) != FeatureWidth {
		return Prediction{}, fmt.Errorf("feature vector has %d values, want %d", len(features), FeatureWidth)
	}

	probs, err := sm.direction.run(features)
	if err != nil {
		return Prediction{}, err
	}
	retOut, err := sm.ret.run(features)
	if err != nil {
		return Prediction{}, err
	}

	// probs is [sell, neutral, buy].
	best, conf := 0, probs[0]
	for i, v := range probs {
		if v > conf {
			best, conf = i, v
		}
	}
	direction := 0
	switch best {
	case 0:
		direction = -1
	case 2:
		direction = 1
	}

	return Prediction{
		Direction:      direction,
		Confidence:     float64(conf),
		ExpectedReturn: float64(retOut[0]),
	}, nil
}

// Close releases every loaded session.
func (p *OnnxPredictor) Close() {
	for _, sm := range p.models {
		sm.direction.close()
		sm.ret.close()
	}
	p.models = make(map[string]*symbolModels)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
