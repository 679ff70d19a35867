package vision

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/presence/internal/config"
	"github.com/your-org/presence/internal/observability"
)

const (
	detectorModel = "det_10g.onnx"
	embedderModel = "w600k_r50.onnx"
	cropQuality   = 85
)

// InitRuntime loads the ONNX Runtime shared library. The returned func
// tears the environment down.
func InitRuntime(libPath string) (func(), error) {
	if libPath == "" {
		libPath = defaultLibraryPath()
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("init onnx runtime: %w", err)
	}
	return func() { _ = ort.DestroyEnvironment() }, nil
}

func defaultLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// ONNXProvider runs detector and embedder in-process. Calls are serialized
// because both sessions reuse preallocated tensors.
type ONNXProvider struct {
	mu       sync.Mutex
	detector *Detector
	embedder *Embedder
}

func NewONNXProvider(cfg config.VisionConfig) (*ONNXProvider, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetIntraOpNumThreads(max(1, runtime.NumCPU()/max(1, cfg.WorkerCount))); err != nil {
		return nil, fmt.Errorf("set intra-op threads: %w", err)
	}

	detPath := filepath.Join(cfg.ModelsDir, detectorModel)
	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold), opts)
	if err != nil {
		return nil, err
	}

	embPath := filepath.Join(cfg.ModelsDir, embedderModel)
	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath, opts)
	if err != nil {
		det.Close()
		return nil, err
	}

	return &ONNXProvider{detector: det, embedder: emb}, nil
}

func (p *ONNXProvider) EmbeddingDim() int { return embDim }

func (p *ONNXProvider) DetectAndEncode(ctx context.Context, data []byte) ([]Face, error) {
	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()

	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	dets, err := p.detector.Detect(toCHW(img, detInputSize, detMean, detStd), b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	faces := make([]Face, 0, len(dets))
	for _, d := range dets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		crop := cropFace(img, d.BBox)
		if crop == nil {
			continue
		}

		start = time.Now()
		emb, err := p.embedder.Extract(toCHW(crop, embInputSize, embMean, embStd))
		if err != nil {
			return nil, err
		}
		observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())

		jpg, err := encodeJPEG(crop, cropQuality)
		if err != nil {
			slog.Warn("encode face crop", "error", err)
		}
		faces = append(faces, Face{BBox: d.BBox, Confidence: d.Confidence, Embedding: emb, Crop: jpg})
	}
	return faces, nil
}

func (p *ONNXProvider) Close() {
	p.detector.Close()
	p.embedder.Close()
}
