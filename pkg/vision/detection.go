package vision

// Detection is an object that the detector has found in a frame
type Detection struct {
	Class      int     `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
}

// ClassName returns the COCO name of the detection's class.
func (d Detection) ClassName() string {
	return ClassName(d.Class)
}

// DetectionResult is the set of objects found in a single frame.
type DetectionResult struct {
	CameraID    int64       `json:"cameraID"`
	ImageWidth  int         `json:"imageWidth"`
	ImageHeight int         `json:"imageHeight"`
	Objects     []Detection `json:"objects"`
}
