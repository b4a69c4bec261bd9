package annotate

import (
	"fmt"
	"image"

	"github.com/bmharper/cimg/v2"
	"github.com/fogleman/gg"
	"github.com/zonecam/zonecam/pkg/gen"
	"github.com/zonecam/zonecam/pkg/vision"
	"github.com/zonecam/zonecam/server/analytics"
	"github.com/zonecam/zonecam/server/zones"
)

const (
	boxLineWidth  = 2
	zoneLineWidth = 2
	zoneFillAlpha = 0.2
)

// Render returns a new frame with detection boxes, labels and zone overlays
// drawn over img. img is never modified, so the caller can fall back to the
// raw frame when rendering fails.
func Render(img *cimg.Image, objects []analytics.KeptDetection, zoneList []zones.Zone) (*cimg.Image, error) {
	rgba, err := toRGBA(img)
	if err != nil {
		return nil, err
	}
	dc := gg.NewContextForRGBA(rgba)

	for _, obj := range objects {
		drawDetection(dc, obj)
	}

	// Zones go on top of the boxes, like a tinted pane of glass
	for _, z := range zoneList {
		if !z.Points.Valid() {
			continue
		}
		tracePolygon(dc, z.Points)
		dc.SetRGBA(1, 1, 1, zoneFillAlpha)
		dc.Fill()
	}
	for _, z := range zoneList {
		if !z.Points.Valid() {
			continue
		}
		tracePolygon(dc, z.Points)
		dc.SetRGBA(1, 1, 1, 1)
		dc.SetLineWidth(zoneLineWidth)
		dc.Stroke()
	}

	return fromRGBA(rgba), nil
}

func drawDetection(dc *gg.Context, obj analytics.KeptDetection) {
	x1 := float64(obj.Box.X)
	y1 := float64(obj.Box.Y)
	dc.SetRGBA(1, 1, 1, 1)
	dc.SetLineWidth(boxLineWidth)
	dc.DrawRectangle(x1, y1, float64(obj.Box.Width), float64(obj.Box.Height))
	dc.Stroke()

	label := fmt.Sprintf("%v %.2f", obj.ClassName(), obj.Confidence)
	tw, th := dc.MeasureString(label)
	textY := y1 - 10
	if textY <= th {
		textY = y1 + th + 10
	}
	textY = gen.Clamp(textY, th, float64(dc.Height())-2)

	dc.DrawRectangle(x1, textY-th-2, tw+4, th+6)
	dc.Fill()
	dc.SetRGBA(0, 0, 0, 1)
	dc.DrawString(label, x1+2, textY)
}

func tracePolygon(dc *gg.Context, poly vision.Polygon) {
	dc.MoveTo(float64(poly[0].X), float64(poly[0].Y))
	for _, p := range poly[1:] {
		dc.LineTo(float64(p.X), float64(p.Y))
	}
	dc.ClosePath()
}

func toRGBA(img *cimg.Image) (*image.RGBA, error) {
	if img.NChan() != 3 {
		return nil, fmt.Errorf("Annotation requires RGB frames, not %v channels", img.NChan())
	}
	rgba := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		src := img.Pixels[y*img.Stride : y*img.Stride+img.Width*3]
		dst := rgba.Pix[y*rgba.Stride:]
		di := 0
		for si := 0; si < len(src); si += 3 {
			dst[di] = src[si]
			dst[di+1] = src[si+1]
			dst[di+2] = src[si+2]
			dst[di+3] = 255
			di += 4
		}
	}
	return rgba, nil
}

func fromRGBA(rgba *image.RGBA) *cimg.Image {
	img := cimg.NewImage(rgba.Rect.Dx(), rgba.Rect.Dy(), cimg.PixelFormatRGB)
	for y := 0; y < img.Height; y++ {
		src := rgba.Pix[y*rgba.Stride:]
		dst := img.Pixels[y*img.Stride : y*img.Stride+img.Width*3]
		si := 0
		for di := 0; di < len(dst); di += 3 {
			dst[di] = src[si]
			dst[di+1] = src[si+1]
			dst[di+2] = src[si+2]
			si += 4
		}
	}
	return img
}
