package server

import (
	"io"
	"net/http"

	"github.com/cyclopcam/www"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/zonecam/zonecam/server/session"
)

// streamFrames subscribes to a session's output and invokes send for every
// frame, until the client goes away, the session stops, the server shuts
// down, or send fails. This is the common core of the MJPEG and websocket
// streamers.
// A slow client does not stall the camera. Each subscriber holds only the
// latest frame, and older frames are dropped, not queued.
func (s *Server) streamFrames(sess *session.Session, clientGone <-chan struct{}, send func(jpg []byte) error) {
	frames := sess.Subscribe()
	defer sess.Unsubscribe(frames)

	s.metrics.ActiveStreams.Add(1)
	defer s.metrics.ActiveStreams.Add(-1)

	for {
		select {
		case jpg, ok := <-frames:
			if !ok {
				// The session has stopped
				return
			}
			if err := send(jpg); err != nil {
				return
			}
		case <-clientGone:
			return
		case <-s.shutdown:
			return
		}
	}
}

// Stream a camera's processed frames as multipart MJPEG. This plays in an
// ordinary <img> tag, with no client-side code.
// Example: <img src="/api/camera/stream/1">
func (s *Server) httpCamStreamMJPEG(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cam := s.getCameraFromIDOrPanic(params.ByName("cameraID"))
	// GetOrCreate revives a stopped session, so attaching a viewer brings a
	// camera back if its session fell over
	sess, err := s.LiveSessions.GetOrCreate(cam)
	www.Check(err)

	flusher, ok := w.(http.Flusher)
	if !ok {
		www.PanicServerError("Streaming not supported")
	}

	www.CacheNever(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace;boundary=frame")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.Log.Infof("MJPEG stream of camera %v starting", sess.CameraID)

	s.streamFrames(sess, r.Context().Done(), func(jpg []byte) error {
		if _, err := io.WriteString(w, "--frame\r\nContent-Type: image/jpeg\r\n\r\n"); err != nil {
			return err
		}
		if _, err := w.Write(jpg); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})

	s.Log.Infof("MJPEG stream of camera %v finished", sess.CameraID)
}

// Stream frames over a websocket, one binary message per JPEG. This is for
// clients that want frame boundaries without parsing multipart.
func (s *Server) httpCamStreamWS(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cam := s.getCameraFromIDOrPanic(params.ByName("cameraID"))
	sess, err := s.LiveSessions.GetOrCreate(cam)
	www.Check(err)

	c, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("httpCamStreamWS websocket upgrade failed: %v", err)
		return
	}
	defer c.Close()

	s.Log.Infof("Websocket stream of camera %v starting", sess.CameraID)

	// Read from the websocket until the client goes away, discarding whatever
	// arrives. Reading is what notices the close handshake.
	clientGone := make(chan struct{})
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		close(clientGone)
	}()

	s.streamFrames(sess, clientGone, func(jpg []byte) error {
		return c.WriteMessage(websocket.BinaryMessage, jpg)
	})

	s.Log.Infof("Websocket stream of camera %v finished", sess.CameraID)
}
