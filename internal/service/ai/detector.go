package ai

import (
	"bufio"
	"fmt"
	"image"
	"os"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/jonathanvineet/DAIO/internal/config"
	"github.com/jonathanvineet/DAIO/internal/logger"
	"github.com/jonathanvineet/DAIO/internal/model"
)

// Detector finds objects in an image. Boxes are returned in the pixel space
// of img.
type Detector interface {
	Predict(img gocv.Mat, confThreshold, overlapThreshold float32) ([]model.Detection, error)
}

// DetectorFunc adapts a plain function to the Detector interface.
type DetectorFunc func(img gocv.Mat, confThreshold, overlapThreshold float32) ([]model.Detection, error)

func (f DetectorFunc) Predict(img gocv.Mat, confThreshold, overlapThreshold float32) ([]model.Detection, error) {
	return f(img, confThreshold, overlapThreshold)
}

// DNNDetector runs an SSD-style network through the OpenCV dnn module.
type DNNDetector struct {
	net        gocv.Net
	mu         sync.Mutex
	modelPath  string
	configPath string
	labels     map[int]string
	logger     *logger.Logger
}

// NewDNNDetector loads the network described by config. It fails when the
// model files are missing or cannot be loaded.
func NewDNNDetector(config *config.Config, logger *logger.Logger) (*DNNDetector, error) {
	d := &DNNDetector{
		modelPath:  config.ModelPath,
		configPath: config.ModelConfigPath,
		labels:     defaultLabels(),
		logger:     logger,
	}

	if config.LabelsPath != "" {
		labels, err := loadLabels(config.LabelsPath)
		if err != nil {
			return nil, err
		}
		d.labels = labels
	}

	if err := d.initializeNet(); err != nil {
		return nil, err
	}
	return d, nil
}

// initializeNet loads the DNN network and sets backend/target preferences.
func (d *DNNDetector) initializeNet() error {
	if _, err := os.Stat(d.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", d.modelPath)
	}

	if d.configPath != "" {
		if _, err := os.Stat(d.configPath); os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", d.configPath)
		}
	}

	net := gocv.ReadNet(d.modelPath, d.configPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network from %s", d.modelPath)
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend or target")
	}

	d.net = net
	d.logger.Info("Detection network initialized from %s", d.modelPath)
	return nil
}

// Predict runs the network on img. Output rows follow the SSD layout
// [batch_id, class_id, confidence, x1, y1, x2, y2] with normalized corners.
func (d *DNNDetector) Predict(img gocv.Mat, confThreshold, overlapThreshold float32) ([]model.Detection, error) {
	if img.Empty() {
		return nil, fmt.Errorf("empty input image")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	blob := gocv.BlobFromImage(img, 1.0/127.5, image.Pt(img.Cols(), img.Rows()), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	if output.Total()%7 != 0 {
		return nil, fmt.Errorf("unexpected detector output size %d", output.Total())
	}

	rows := output.Reshape(1, output.Total()/7)
	defer rows.Close()

	w, h := float32(img.Cols()), float32(img.Rows())
	var (
		rects   []image.Rectangle
		scores  []float32
		results []model.Detection
	)
	for i := 0; i < rows.Rows(); i++ {
		confidence := rows.GetFloatAt(i, 2)
		if confidence < confThreshold {
			continue
		}
		classID := int(rows.GetFloatAt(i, 1))
		box := model.Box{
			X1: float64(clamp01(rows.GetFloatAt(i, 3)) * w),
			Y1: float64(clamp01(rows.GetFloatAt(i, 4)) * h),
			X2: float64(clamp01(rows.GetFloatAt(i, 5)) * w),
			Y2: float64(clamp01(rows.GetFloatAt(i, 6)) * h),
		}
		results = append(results, model.Detection{
			Box:        box,
			Confidence: float64(confidence),
			Class:      classID,
			Label:      d.label(classID),
		})
		rects = append(rects, box.Rect())
		scores = append(scores, confidence)
	}

	if len(results) == 0 {
		return nil, nil
	}

	indices := gocv.NMSBoxes(rects, scores, confThreshold, overlapThreshold)
	kept := make([]model.Detection, 0, len(indices))
	for _, idx := range indices {
		kept = append(kept, results[idx])
	}
	return kept, nil
}

// Close releases the network.
func (d *DNNDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

func (d *DNNDetector) label(classID int) string {
	if label, exists := d.labels[classID]; exists {
		return label
	}
	return fmt.Sprintf("class%d", classID)
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// loadLabels reads one label per line; line n is class n. Blank lines keep
// their index.
func loadLabels(path string) (map[int]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels file: %w", err)
	}
	defer file.Close()

	labels := make(map[int]string)
	scanner := bufio.NewScanner(file)
	for i := 0; scanner.Scan(); i++ {
		if label := strings.TrimSpace(scanner.Text()); label != "" {
			labels[i] = label
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels file: %w", err)
	}
	return labels, nil
}

// defaultLabels maps COCO class IDs, as numbered by the TensorFlow SSD
// models, to labels.
func defaultLabels() map[int]string {
	return map[int]string{
		1:  "person",
		2:  "bicycle",
		3:  "car",
		4:  "motorcycle",
		5:  "airplane",
		6:  "bus",
		7:  "train",
		8:  "truck",
		9:  "boat",
		16: "bird",
		17: "cat",
		18: "dog",
		19: "horse",
		44: "bottle",
		47: "cup",
		62: "chair",
		63: "couch",
		64: "potted plant",
		67: "dining table",
		72: "tv",
		73: "laptop",
		76: "keyboard",
		77: "cell phone",
		84: "book",
	}
}
