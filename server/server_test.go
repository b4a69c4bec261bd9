package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/zonecam/zonecam/pkg/vision"
	"github.com/zonecam/zonecam/server/analytics"
	"github.com/zonecam/zonecam/server/camera"
	"github.com/zonecam/zonecam/server/configdb"
	"github.com/zonecam/zonecam/server/detector"
	"github.com/zonecam/zonecam/server/session"
	"github.com/zonecam/zonecam/server/zones"
)

// fakeSource feeds test frames into a camera session
type fakeSource struct {
	frames chan *cimg.Image
}

func newFakeSource() *fakeSource {
	return &fakeSource{frames: make(chan *cimg.Image, 16)}
}

func (f *fakeSource) ReadFrame() (*cimg.Image, error) {
	select {
	case img := <-f.frames:
		return img, nil
	default:
		return nil, camera.ErrNoFrame
	}
}
func (f *fakeSource) Release()                {}
func (f *fakeSource) State() camera.ConnState { return camera.Connected }
func (f *fakeSource) Dims() (int, int)        { return 64, 48 }

func testFrame() *cimg.Image {
	img := cimg.NewImage(64, 48, cimg.PixelFormatRGB)
	for i := range img.Pixels {
		img.Pixels[i] = 90
	}
	return img
}

// feedFrames pushes a frame into the source every few milliseconds, until the
// returned stop function is called. Streaming handlers subscribe after their
// request has started, so a single frame is easy to miss.
func feedFrames(src *fakeSource) (stop func()) {
	done := make(chan bool)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				select {
				case src.frames <- testFrame():
				default:
				}
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

type fixture struct {
	t       *testing.T
	server  *Server
	http    *httptest.Server
	sources sync.Map // camera ID -> *fakeSource
}

func setup(t *testing.T) *fixture {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	cfg.DataRoot = t.TempDir()
	s, err := newServer(logs.NewTestingLog(t), cfg)
	require.NoError(t, err)

	f := &fixture{t: t, server: s}
	s.env.Detector = &detector.FuncDetector{
		Fn: func(img *cimg.Image, params *detector.DetectParams) ([]vision.Detection, error) {
			return nil, nil
		},
	}
	s.LiveSessions.NewSource = func(cam *configdb.Camera) (session.FrameSource, error) {
		src := newFakeSource()
		f.sources.Store(cam.ID, src)
		return src, nil
	}
	s.LiveSessions.Run()

	f.http = httptest.NewServer(s.httpRouter)
	t.Cleanup(func() {
		f.http.Close()
		s.Shutdown()
	})
	return f
}

func (f *fixture) get(path string) *http.Response {
	resp, err := http.Get(f.http.URL + path)
	require.NoError(f.t, err)
	return resp
}

func (f *fixture) post(path string) *http.Response {
	resp, err := http.Post(f.http.URL+path, "", nil)
	require.NoError(f.t, err)
	return resp
}

func (f *fixture) postJSON(path string, obj any) *http.Response {
	body, err := json.Marshal(obj)
	require.NoError(f.t, err)
	resp, err := http.Post(f.http.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(f.t, err)
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

// addCamera adds a camera through the API and returns its ID
func (f *fixture) addCamera(name string) int64 {
	resp := f.postJSON("/api/config/addCamera", &configdb.Camera{Name: name, URL: "rtsp://example/" + name})
	body := readBody(f.t, resp)
	require.Equal(f.t, http.StatusOK, resp.StatusCode, body)
	id, err := strconv.ParseInt(body, 10, 64)
	require.NoError(f.t, err)
	return id
}

// waitForSession waits for the sync thread to start the camera's session
func (f *fixture) waitForSession(id int64) (*session.Session, *fakeSource) {
	require.Eventually(f.t, func() bool {
		_, haveSource := f.sources.Load(id)
		return haveSource && f.server.LiveSessions.SessionFromID(id) != nil
	}, 5*time.Second, 10*time.Millisecond)
	src, _ := f.sources.Load(id)
	return f.server.LiveSessions.SessionFromID(id), src.(*fakeSource)
}

func TestPing(t *testing.T) {
	f := setup(t)
	resp := f.get("/api/ping")
	body := readBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "time")
}

func TestCameraCRUD(t *testing.T) {
	f := setup(t)

	resp := f.get("/api/config/cameras")
	require.Equal(t, "[]", readBody(t, resp))

	id := f.addCamera("gate")

	// URL is required
	resp = f.postJSON("/api/config/addCamera", &configdb.Camera{Name: "broken"})
	readBody(t, resp)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.get(fmt.Sprintf("/api/config/camera/%v", id))
	cam := configdb.Camera{}
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &cam))
	require.Equal(t, id, cam.ID)
	require.Equal(t, "gate", cam.Name)

	cam.Name = "gate-2"
	cam.URL = "rtsp://example/gate-2"
	resp = f.postJSON("/api/config/changeCamera", &cam)
	require.Equal(t, "OK", readBody(t, resp))

	resp = f.get(fmt.Sprintf("/api/config/camera/%v", id))
	changed := configdb.Camera{}
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &changed))
	require.Equal(t, "gate-2", changed.Name)
	require.Equal(t, cam.CreatedAt, changed.CreatedAt)

	resp = f.post(fmt.Sprintf("/api/config/removeCamera/%v", id))
	require.Equal(t, "OK", readBody(t, resp))

	resp = f.get(fmt.Sprintf("/api/config/camera/%v", id))
	readBody(t, resp)
	require.NotEqual(t, http.StatusOK, resp.StatusCode)
}

func TestZones(t *testing.T) {
	f := setup(t)
	id := f.addCamera("gate")

	// Before any zones are saved, the editor gets an empty document
	resp := f.get(fmt.Sprintf("/api/camera/zones/%v", id))
	require.JSONEq(t, `{"zones":[]}`, readBody(t, resp))

	zf := zones.ZoneFile{Zones: []zones.Zone{
		{ID: 1, Name: "entry", Points: vision.Polygon{{X: 0, Y: 0}, {X: 32, Y: 0}, {X: 32, Y: 48}}},
	}}
	resp = f.postJSON(fmt.Sprintf("/api/camera/zones/%v", id), &zf)
	require.Equal(t, "OK", readBody(t, resp))

	resp = f.get(fmt.Sprintf("/api/camera/zones/%v", id))
	roundTrip := zones.ZoneFile{}
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &roundTrip))
	require.Equal(t, zf, roundTrip)

	resp = f.get("/api/camera/zones/999")
	readBody(t, resp)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStats(t *testing.T) {
	f := setup(t)
	id := f.addCamera("gate")

	// A camera that has never processed a frame returns an empty object
	resp := f.get(fmt.Sprintf("/api/camera/stats/%v", id))
	require.Equal(t, "{}", readBody(t, resp))

	stats := analytics.NewZoneStats(1)
	stats.TotalVehicles = 3
	stats.VehicleTypeCounts["car"] = 2
	stats.VehicleTypeCounts["bus"] = 1
	stats.ZoneVehicleCounts[0]["car"] = 2
	require.NoError(t, f.server.statsSink.Write(id, &stats))

	resp = f.get(fmt.Sprintf("/api/camera/stats/%v", id))
	body := readBody(t, resp)
	require.Contains(t, body, `"total_vehicles":3`)
	got := analytics.ZoneStats{}
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	require.Equal(t, stats, got)
}

func TestRemoveCameraDeletesFiles(t *testing.T) {
	f := setup(t)
	id := f.addCamera("gate")
	f.waitForSession(id)

	zf := zones.ZoneFile{Zones: []zones.Zone{
		{ID: 1, Name: "entry", Points: vision.Polygon{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}}},
	}}
	require.NoError(t, f.server.zoneStore.Save(id, &zf))
	stats := analytics.NewZoneStats(1)
	require.NoError(t, f.server.statsSink.Write(id, &stats))

	resp := f.post(fmt.Sprintf("/api/config/removeCamera/%v", id))
	require.Equal(t, "OK", readBody(t, resp))

	// The response means the session is stopped and the files are gone
	require.Nil(t, f.server.LiveSessions.SessionFromID(id))
	_, haveZones := f.server.zoneStore.RawFile(id)
	require.False(t, haveZones)
	_, haveStats := f.server.statsSink.Read(id)
	require.False(t, haveStats)
}

func TestLatestImageAndInfo(t *testing.T) {
	f := setup(t)
	id := f.addCamera("gate")
	sess, src := f.waitForSession(id)

	resp := f.get(fmt.Sprintf("/api/camera/latestImage/%v", id))
	readBody(t, resp)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	src.frames <- testFrame()
	require.Eventually(t, func() bool { return sess.LatestJPEG() != nil }, 5*time.Second, 10*time.Millisecond)

	resp = f.get(fmt.Sprintf("/api/camera/latestImage/%v", id))
	body := readBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	require.True(t, strings.HasPrefix(body, "\xff\xd8"))

	resp = f.get(fmt.Sprintf("/api/camera/info/%v", id))
	info := map[string]any{}
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &info))
	require.Equal(t, "gate", info["name"])
	require.Equal(t, "Connected", info["state"])
	require.Equal(t, float64(64), info["width"])
	require.Equal(t, float64(48), info["height"])
}

func TestMJPEGStream(t *testing.T) {
	f := setup(t)
	id := f.addCamera("gate")
	_, src := f.waitForSession(id)

	stop := feedFrames(src)
	defer stop()

	resp := f.get(fmt.Sprintf("/api/camera/stream/%v", id))
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "multipart/x-mixed-replace;boundary=frame", resp.Header.Get("Content-Type"))

	mr := multipart.NewReader(resp.Body, "frame")
	for i := 0; i < 2; i++ {
		part, err := mr.NextPart()
		require.NoError(t, err)
		require.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
		jpg, err := io.ReadAll(part)
		require.NoError(t, err)
		require.True(t, bytes.HasPrefix(jpg, []byte{0xff, 0xd8}))
	}
}

func TestWebSocketStream(t *testing.T) {
	f := setup(t)
	id := f.addCamera("gate")
	_, src := f.waitForSession(id)

	stop := feedFrames(src)
	defer stop()

	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + fmt.Sprintf("/api/ws/camera/stream/%v", id)
	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer c.Close()

	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	msgType, data, err := c.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, msgType)
	require.True(t, bytes.HasPrefix(data, []byte{0xff, 0xd8}))
}

func TestMetricsEndpoint(t *testing.T) {
	f := setup(t)
	resp := f.get("/metrics")
	body := readBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "zonecam_active_sessions")
	require.Contains(t, body, "zonecam_frames_processed_total")
}
