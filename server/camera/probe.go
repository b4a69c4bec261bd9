package camera

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/pkg/codecs/h265"
)

// ProbeResult describes what we learned about a stream without decoding any video.
type ProbeResult struct {
	Codec  string  `json:"codec"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps,omitempty"`
}

// Probe inspects a stream URL and reports the codec and native resolution.
// RTSP URLs are queried with a DESCRIBE, which is cheap because no video
// flows. Everything else (files, HTTP streams) goes through ffprobe.
func Probe(streamURL string, timeout time.Duration) (*ProbeResult, error) {
	if strings.HasPrefix(streamURL, "rtsp") {
		return probeRTSP(streamURL, timeout)
	}
	return probeFFProbe(streamURL, timeout)
}

func probeRTSP(streamURL string, timeout time.Duration) (*ProbeResult, error) {
	u, err := base.ParseURL(streamURL)
	if err != nil {
		return nil, err
	}
	client := &gortsplib.Client{
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	if err := client.Start(u.Scheme, u.Host); err != nil {
		return nil, err
	}
	defer client.Close()
	desc, _, err := client.Describe(u)
	if err != nil {
		return nil, err
	}
	for _, media := range desc.Medias {
		for _, forma := range media.Formats {
			switch f := forma.(type) {
			case *format.H264:
				result := &ProbeResult{Codec: "h264"}
				sps := h264.SPS{}
				// Some cameras only send SPS in-band, in which case we
				// know the codec but not the resolution.
				if err := sps.Unmarshal(f.SPS); err == nil {
					result.Width = sps.Width()
					result.Height = sps.Height()
				}
				return result, nil
			case *format.H265:
				result := &ProbeResult{Codec: "h265"}
				sps := h265.SPS{}
				if err := sps.Unmarshal(f.SPS); err == nil {
					result.Width = sps.Width()
					result.Height = sps.Height()
				}
				return result, nil
			}
		}
	}
	return nil, fmt.Errorf("No video track found")
}

func probeFFProbe(streamURL string, timeout time.Duration) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-print_format", "json", "-show_streams", streamURL)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseFFProbeOutput(out)
}

type ffprobeStream struct {
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
}

func parseFFProbeOutput(out []byte) (*ProbeResult, error) {
	parsed := struct {
		Streams []ffprobeStream `json:"streams"`
	}{}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("Failed to parse ffprobe output: %w", err)
	}
	for _, stream := range parsed.Streams {
		if stream.CodecType == "video" {
			return &ProbeResult{
				Codec:  stream.CodecName,
				Width:  stream.Width,
				Height: stream.Height,
				FPS:    parseFrameRate(stream.RFrameRate),
			}, nil
		}
	}
	return nil, fmt.Errorf("No video stream found")
}

// parseFrameRate parses ffprobe's rational frame rate, eg "30000/1001"
func parseFrameRate(r string) float64 {
	num, den, ok := strings.Cut(r, "/")
	if !ok {
		return 0
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
