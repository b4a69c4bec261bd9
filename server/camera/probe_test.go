package camera

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFFProbeOutput(t *testing.T) {
	out := []byte(`{
		"streams": [
			{"codec_type": "audio", "codec_name": "aac"},
			{"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080, "r_frame_rate": "30000/1001"}
		]
	}`)
	result, err := parseFFProbeOutput(out)
	require.NoError(t, err)
	require.Equal(t, "h264", result.Codec)
	require.Equal(t, 1920, result.Width)
	require.Equal(t, 1080, result.Height)
	require.InDelta(t, 29.97, result.FPS, 0.001)

	_, err = parseFFProbeOutput([]byte(`{"streams": []}`))
	require.Error(t, err)

	_, err = parseFFProbeOutput([]byte(`not json`))
	require.Error(t, err)
}

func TestParseFrameRate(t *testing.T) {
	require.Equal(t, 30.0, parseFrameRate("30/1"))
	require.Equal(t, 0.0, parseFrameRate("30"))
	require.Equal(t, 0.0, parseFrameRate("30/0"))
	require.Equal(t, 0.0, parseFrameRate(""))
}
