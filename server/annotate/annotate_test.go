package annotate

import (
	"testing"

	"github.com/bmharper/cimg/v2"
	"github.com/stretchr/testify/require"
	"github.com/zonecam/zonecam/pkg/vision"
	"github.com/zonecam/zonecam/server/analytics"
	"github.com/zonecam/zonecam/server/zones"
)

func flatImage(width, height int, r, g, b byte) *cimg.Image {
	img := cimg.NewImage(width, height, cimg.PixelFormatRGB)
	for i := 0; i < len(img.Pixels); i += 3 {
		img.Pixels[i] = r
		img.Pixels[i+1] = g
		img.Pixels[i+2] = b
	}
	return img
}

func pixelAt(img *cimg.Image, x, y int) (byte, byte, byte) {
	i := y*img.Stride + x*3
	return img.Pixels[i], img.Pixels[i+1], img.Pixels[i+2]
}

func TestRender(t *testing.T) {
	img := flatImage(200, 150, 10, 20, 30)
	before := append([]byte{}, img.Pixels...)

	objects := []analytics.KeptDetection{
		{
			Detection: vision.Detection{Class: vision.COCOCar, Confidence: 0.87, Box: vision.Rect{X: 20, Y: 20, Width: 40, Height: 30}},
			Zone:      0,
		},
	}
	zoneList := []zones.Zone{
		{Name: "gate", Points: vision.Polygon{{100, 20}, {180, 20}, {180, 120}, {100, 120}}},
	}

	out, err := Render(img, objects, zoneList)
	require.NoError(t, err)
	require.NotNil(t, out)

	// The input frame is untouched
	require.Equal(t, before, img.Pixels)

	// Top edge of the detection box is a white stroke
	r, g, b := pixelAt(out, 25, 20)
	require.GreaterOrEqual(t, int(r), 200)
	require.GreaterOrEqual(t, int(g), 200)
	require.GreaterOrEqual(t, int(b), 200)

	// Deep inside the zone the white fill is blended at 0.2 alpha
	r, g, b = pixelAt(out, 140, 70)
	require.InDelta(t, 0.2*255+0.8*10, float64(r), 3)
	require.InDelta(t, 0.2*255+0.8*20, float64(g), 3)
	require.InDelta(t, 0.2*255+0.8*30, float64(b), 3)

	// The zone outline is solid white
	r, _, _ = pixelAt(out, 100, 70)
	require.GreaterOrEqual(t, int(r), 200)

	// Far corner is untouched
	r, g, b = pixelAt(out, 5, 145)
	require.Equal(t, byte(10), r)
	require.Equal(t, byte(20), g)
	require.Equal(t, byte(30), b)
}

func TestRenderEmpty(t *testing.T) {
	img := flatImage(64, 48, 1, 2, 3)
	before := append([]byte{}, img.Pixels...)

	out, err := Render(img, nil, nil)
	require.NoError(t, err)
	require.Equal(t, before, out.Pixels)

	// The output is a distinct buffer
	out.Pixels[0] = 99
	require.Equal(t, before, img.Pixels)
}

func TestRenderSkipsDegenerateZones(t *testing.T) {
	img := flatImage(64, 48, 1, 2, 3)
	zoneList := []zones.Zone{
		{Name: "stub", Points: vision.Polygon{{0, 0}, {10, 10}}},
	}
	out, err := Render(img, nil, zoneList)
	require.NoError(t, err)
	require.Equal(t, img.Pixels, out.Pixels)
}
