package detector

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/bmharper/cimg/v2"
	"github.com/zonecam/zonecam/pkg/requests"
	"github.com/zonecam/zonecam/pkg/vision"
)

// ModelConfig describes the model running on the detection service
type ModelConfig struct {
	Architecture string   `json:"architecture"` // eg "yolov8"
	Width        int      `json:"width"`        // eg 640
	Height       int      `json:"height"`       // eg 640
	Classes      []string `json:"classes"`      // eg ["person", "bicycle", "car", ...]
}

// HTTPDetector runs detection on a remote inference service. We send the
// frame as a JPEG, and the service replies with the detected objects.
type HTTPDetector struct {
	baseURL string

	configLock sync.Mutex
	config     *ModelConfig
}

func NewHTTPDetector(baseURL string) *HTTPDetector {
	return &HTTPDetector{
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (d *HTTPDetector) DetectObjects(img *cimg.Image, params *DetectParams) ([]vision.Detection, error) {
	jpg, err := cimg.Compress(img, cimg.MakeCompressParams(cimg.Sampling420, 85, 0))
	if err != nil {
		return nil, fmt.Errorf("Failed to compress frame for detection: %w", err)
	}
	minConfidence := params.MinConfidence
	if minConfidence == 0 {
		minConfidence = DefaultMinConfidence
	}
	args := url.Values{}
	args.Set("minConfidence", strconv.FormatFloat(float64(minConfidence), 'f', -1, 32))
	for _, class := range params.Classes {
		args.Add("classes", strconv.Itoa(class))
	}
	result, err := requests.RequestBinary[vision.DetectionResult]("POST", d.baseURL+"/api/detect?"+args.Encode(), "image/jpeg", bytes.NewReader(jpg))
	if err != nil {
		return nil, err
	}
	// The service is told about the threshold, but we enforce it here too
	objects := make([]vision.Detection, 0, len(result.Objects))
	for _, obj := range result.Objects {
		if obj.Confidence >= minConfidence {
			objects = append(objects, obj)
		}
	}
	return objects, nil
}

// ModelConfig fetches the config of the model that the service is running.
// The result is cached after the first successful fetch.
func (d *HTTPDetector) ModelConfig() (*ModelConfig, error) {
	d.configLock.Lock()
	defer d.configLock.Unlock()
	if d.config != nil {
		return d.config, nil
	}
	config, err := requests.RequestJSON[ModelConfig]("GET", d.baseURL+"/api/model", nil)
	if err != nil {
		return nil, err
	}
	d.config = config
	return config, nil
}

func (d *HTTPDetector) Close() {
}
