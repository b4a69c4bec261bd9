package camera

import (
	"errors"
	"fmt"
	"image"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"gocv.io/x/gocv"
)

// DirectSource decodes a stream in-process with OpenCV. We keep the capture
// buffer at depth 1, so a slow consumer receives the newest frame instead of
// a growing backlog of stale ones.
type DirectSource struct {
	log    logs.Log
	url    string
	width  int
	height int

	cap *gocv.VideoCapture
	mat gocv.Mat
	rgb gocv.Mat
}

func NewDirectSource(log logs.Log, url string, width, height int) *DirectSource {
	return &DirectSource{
		log:    log,
		url:    url,
		width:  width,
		height: height,
	}
}

func (d *DirectSource) Connect() error {
	cap, err := gocv.OpenVideoCapture(d.url)
	if err != nil {
		return fmt.Errorf("Failed to open %v: %w", d.url, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return fmt.Errorf("Failed to open %v", d.url)
	}
	cap.Set(gocv.VideoCaptureBufferSize, 1)
	d.cap = cap
	d.mat = gocv.NewMat()
	d.rgb = gocv.NewMat()
	return nil
}

func (d *DirectSource) ReadFrame() (*cimg.Image, error) {
	if d.cap == nil {
		return nil, errors.New("direct source is not connected")
	}
	if ok := d.cap.Read(&d.mat); !ok || d.mat.Empty() {
		// On a live stream a failed read means the connection is dead.
		return nil, errors.New("Stream ended")
	}
	gocv.CvtColor(d.mat, &d.rgb, gocv.ColorBGRToRGB)
	if d.rgb.Cols() != d.width || d.rgb.Rows() != d.height {
		gocv.Resize(d.rgb, &d.rgb, image.Pt(d.width, d.height), 0, 0, gocv.InterpolationLinear)
	}
	img := cimg.NewImage(d.width, d.height, cimg.PixelFormatRGB)
	copy(img.Pixels, d.rgb.ToBytes())
	return img, nil
}

func (d *DirectSource) Release() {
	if d.cap != nil {
		d.cap.Close()
		d.mat.Close()
		d.rgb.Close()
		d.cap = nil
	}
}

func (d *DirectSource) Dims() (int, int) {
	return d.width, d.height
}
