package detect

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"os"

	"github.com/disintegration/imaging"
	"github.com/lehigh-university-libraries/annotator/internal/inference"
	ort "github.com/yalue/onnxruntime_go"
)

// defaultLibraryPaths are searched when no ONNX Runtime library path is configured
var defaultLibraryPaths = []string{
	"/usr/local/lib/libonnxruntime.so",
	"/usr/lib/libonnxruntime.so",
	"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	"/opt/homebrew/lib/libonnxruntime.dylib",
	"/usr/local/lib/libonnxruntime.dylib",
}

// ONNXConfig configures the local YOLOv8 detector
type ONNXConfig struct {
	ModelPath   string
	LibraryPath string
	InputSize   int
	Confidence  float64
	IoU         float64
	NumThreads  int
}

// ONNXDetector runs a YOLOv8 model exported to ONNX in-process
type ONNXDetector struct {
	session *ort.DynamicAdvancedSession
	config  ONNXConfig
}

// NewONNXDetector loads the model once; the session is shared by all requests until Close
func NewONNXDetector(config ONNXConfig) (*ONNXDetector, error) {
	if config.InputSize <= 0 {
		config.InputSize = 640
	}
	if config.IoU <= 0 {
		config.IoU = 0.45
	}
	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, fmt.Errorf("detection model not found: %w", err)
	}

	if err := setupEnvironment(config.LibraryPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(config.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model inputs and outputs: %w", err)
	}
	if len(inputs) != 1 || len(outputs) == 0 {
		return nil, fmt.Errorf("unexpected model signature: %d inputs, %d outputs", len(inputs), len(outputs))
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		if err := options.Destroy(); err != nil {
			slog.Warn("Failed to destroy session options", "err", err)
		}
	}()

	if config.NumThreads > 0 {
		if err := options.SetIntraOpNumThreads(config.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(config.ModelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	slog.Info("Loaded detection model", "path", config.ModelPath, "input", inputs[0].Name, "output", outputs[0].Name)
	return &ONNXDetector{session: session, config: config}, nil
}

func setupEnvironment(libraryPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath == "" {
		for _, candidate := range defaultLibraryPaths {
			if _, err := os.Stat(candidate); err == nil {
				libraryPath = candidate
				break
			}
		}
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	return nil
}

// Close destroys the session
func (d *ONNXDetector) Close() error {
	return d.session.Destroy()
}

func (d *ONNXDetector) Detect(ctx context.Context, img inference.Image) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img.Pixels == nil {
		return nil, errors.New("detection: image has no decoded pixels")
	}

	size := d.config.InputSize
	data, lb := letterbox(img.Pixels, size)

	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(size), int64(size)), data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() {
		if err := input.Destroy(); err != nil {
			slog.Warn("Failed to destroy input tensor", "err", err)
		}
	}()

	outputs := []ort.Value{nil}
	if err := d.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, inference.Malformedf("detection inference failed: %v", err)
	}
	defer func() {
		if err := outputs[0].Destroy(); err != nil {
			slog.Warn("Failed to destroy output tensor", "err", err)
		}
	}()

	output, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, inference.Malformedf("expected float32 output tensor, got %T", outputs[0])
	}

	detections, err := decodeYOLOv8(output.GetData(), output.GetShape(), lb, d.config.Confidence)
	if err != nil {
		return nil, err
	}
	return nonMaxSuppression(detections, d.config.IoU), nil
}

// letterboxInfo maps model coordinates back onto the original image
type letterboxInfo struct {
	scale        float64
	padX, padY   int
	sourceBounds image.Rectangle
}

// letterbox resizes img to fit a size x size square padded with gray,
// returning the normalized CHW RGB tensor data.
func letterbox(img image.Image, size int) ([]float32, letterboxInfo) {
	bounds := img.Bounds()
	scale := math.Min(float64(size)/float64(bounds.Dx()), float64(size)/float64(bounds.Dy()))
	w := max(1, int(math.Round(float64(bounds.Dx())*scale)))
	h := max(1, int(math.Round(float64(bounds.Dy())*scale)))
	padX, padY := (size-w)/2, (size-h)/2

	resized := imaging.Resize(img, w, h, imaging.Linear)
	canvas := imaging.New(size, size, color.NRGBA{R: 114, G: 114, B: 114, A: 255})
	canvas = imaging.Paste(canvas, resized, image.Pt(padX, padY))

	plane := size * size
	data := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := y*canvas.Stride + x*4
			p := y*size + x
			data[p] = float32(canvas.Pix[i]) / 255
			data[plane+p] = float32(canvas.Pix[i+1]) / 255
			data[2*plane+p] = float32(canvas.Pix[i+2]) / 255
		}
	}

	return data, letterboxInfo{scale: scale, padX: padX, padY: padY, sourceBounds: bounds}
}

// decodeYOLOv8 reads a [1, 4+classes, anchors] output of (cx, cy, w, h, scores...)
func decodeYOLOv8(data []float32, shape ort.Shape, lb letterboxInfo, confidence float64) ([]Detection, error) {
	if len(shape) != 3 || shape[0] != 1 {
		return nil, inference.Malformedf("unexpected detection output shape %v", shape)
	}
	attrs, anchors := int(shape[1]), int(shape[2])
	numClasses := attrs - 4
	if numClasses <= 0 || len(data) < attrs*anchors {
		return nil, inference.Malformedf("unexpected detection output shape %v", shape)
	}

	var detections []Detection
	for i := 0; i < anchors; i++ {
		best, bestScore := -1, float32(0)
		for c := 0; c < numClasses; c++ {
			if s := data[(4+c)*anchors+i]; s > bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 || float64(bestScore) < confidence {
			continue
		}

		cx, cy := float64(data[i]), float64(data[anchors+i])
		w, h := float64(data[2*anchors+i]), float64(data[3*anchors+i])
		box := image.Rect(
			int(math.Round((cx-w/2-float64(lb.padX))/lb.scale)),
			int(math.Round((cy-h/2-float64(lb.padY))/lb.scale)),
			int(math.Round((cx+w/2-float64(lb.padX))/lb.scale)),
			int(math.Round((cy+h/2-float64(lb.padY))/lb.scale)),
		).Add(lb.sourceBounds.Min).Intersect(lb.sourceBounds)

		detections = append(detections, Detection{
			Label:      className(best),
			Confidence: float64(bestScore),
			Box:        box,
		})
	}
	return detections, nil
}

func className(i int) string {
	if i < len(cocoClasses) {
		return cocoClasses[i]
	}
	return fmt.Sprintf("class_%d", i)
}
