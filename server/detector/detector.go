package detector

import (
	"github.com/bmharper/cimg/v2"
	"github.com/zonecam/zonecam/pkg/vision"
)

const DefaultMinConfidence = 0.5

// DetectParams control a single detection request
type DetectParams struct {
	MinConfidence float32 // Reject detections below this confidence. Zero value uses the default.
	Classes       []int   // Restrict detection to these classes. Empty means all classes.
}

func NewDetectParams() *DetectParams {
	return &DetectParams{
		MinConfidence: DefaultMinConfidence,
	}
}

// Detector turns a frame into a list of detected objects.
// One detector is shared by all camera sessions, so implementations must be
// safe for concurrent use.
type Detector interface {
	// DetectObjects returns the objects found in the image.
	// img is a 24-bit RGB image.
	DetectObjects(img *cimg.Image, params *DetectParams) ([]vision.Detection, error)

	// Close releases the detector
	Close()
}

// FuncDetector adapts a function to the Detector interface. Tests use this
// to script detection results.
type FuncDetector struct {
	Fn func(img *cimg.Image, params *DetectParams) ([]vision.Detection, error)
}

func (d *FuncDetector) DetectObjects(img *cimg.Image, params *DetectParams) ([]vision.Detection, error) {
	return d.Fn(img, params)
}

func (d *FuncDetector) Close() {
}
