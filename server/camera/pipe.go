package camera

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// How long we give ffmpeg to exit after SIGTERM, before killing it
const pipeReleaseTimeout = 5 * time.Second

// PipeSource decodes a stream by running ffmpeg as a child process and
// reading raw rgb24 frames from its stdout. Every frame is exactly
// width*height*3 bytes, so frame boundaries need no framing protocol.
type PipeSource struct {
	log    logs.Log
	url    string
	width  int
	height int
	fps    int

	procLock sync.Mutex
	proc     *exec.Cmd
	stdout   io.ReadCloser

	frame []byte
}

// NewPipeSource fails if ffmpeg is not installed. That is a machine setup
// problem, not something a reconnect loop can fix.
func NewPipeSource(log logs.Log, url string, width, height, fps int) (*PipeSource, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	return &PipeSource{
		log:    log,
		url:    url,
		width:  width,
		height: height,
		fps:    fps,
		frame:  make([]byte, width*height*3),
	}, nil
}

// buildArgs constructs the ffmpeg command line. The video filter drops the
// frame rate, scales to the configured size while preserving aspect ratio,
// and pads the remainder.
func (p *PipeSource) buildArgs() []string {
	inputArgs := ffmpeg.KwArgs{}
	if strings.HasPrefix(p.url, "rtsp") {
		inputArgs["rtsp_transport"] = "tcp"
	}
	vf := fmt.Sprintf("fps=%v,scale=%v:%v:force_original_aspect_ratio=decrease,pad=%v:%v:(ow-iw)/2:(oh-ih)/2",
		p.fps, p.width, p.height, p.width, p.height)
	stream := ffmpeg.Input(p.url, inputArgs).
		Output("pipe:", ffmpeg.KwArgs{
			"vf":      vf,
			"f":       "rawvideo",
			"pix_fmt": "rgb24",
		})
	return stream.Compile().Args
}

func (p *PipeSource) Connect() error {
	args := p.buildArgs()
	cmd := exec.Command(args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("Failed to start ffmpeg: %w", err)
	}
	p.procLock.Lock()
	p.proc = cmd
	p.stdout = stdout
	p.procLock.Unlock()
	p.log.Infof("ffmpeg started (pid %v)", cmd.Process.Pid)
	return nil
}

func (p *PipeSource) ReadFrame() (*cimg.Image, error) {
	p.procLock.Lock()
	stdout := p.stdout
	p.procLock.Unlock()
	if stdout == nil {
		return nil, errors.New("pipe source is not connected")
	}
	n, err := io.ReadFull(stdout, p.frame)
	if err != nil {
		// A zero or short read means ffmpeg is gone. A partial frame is
		// unusable, so this is the end of the stream, not a retryable error.
		return nil, fmt.Errorf("Stream ended after %v of %v frame bytes: %w", n, len(p.frame), err)
	}
	return cimg.WrapImage(p.width, p.height, cimg.PixelFormatRGB, p.frame), nil
}

// Release closes the pipe, which unblocks a concurrent ReadFrame, and then
// shuts ffmpeg down. SIGTERM first, SIGKILL if it dawdles.
func (p *PipeSource) Release() {
	p.procLock.Lock()
	proc := p.proc
	stdout := p.stdout
	p.proc = nil
	p.stdout = nil
	p.procLock.Unlock()
	if proc == nil {
		return
	}
	stdout.Close()
	proc.Process.Signal(syscall.SIGTERM)
	done := make(chan error, 1)
	go func() {
		done <- proc.Wait()
	}()
	select {
	case <-done:
	case <-time.After(pipeReleaseTimeout):
		p.log.Warnf("ffmpeg ignored SIGTERM for %v. Killing it.", pipeReleaseTimeout)
		proc.Process.Kill()
		<-done
	}
}

func (p *PipeSource) Dims() (int, int) {
	return p.width, p.height
}
