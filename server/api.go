package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) setupHttpRoutes() {
	router := httprouter.New()

	handle := func(method, route string, h httprouter.Handle) {
		www.Handle(s.Log, router, method, route, h)
	}

	// ratelimited wraps a handler with a per-endpoint, per-IP rate limiter.
	// We use it on the routes that mutate config or dial out to cameras.
	ratelimited := func(method, route string, h httprouter.Handle, requestLimit int, windowLength time.Duration) {
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				h(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	handle("GET", "/api/ping", s.httpPing)

	handle("GET", "/api/config/cameras", s.httpConfigGetCameras)
	handle("GET", "/api/config/camera/:cameraID", s.httpConfigGetCamera)
	ratelimited("POST", "/api/config/addCamera", s.httpConfigAddCamera, 10, time.Minute)
	ratelimited("POST", "/api/config/changeCamera", s.httpConfigChangeCamera, 30, time.Minute)
	ratelimited("POST", "/api/config/removeCamera/:cameraID", s.httpConfigRemoveCamera, 10, time.Minute)
	ratelimited("GET", "/api/config/probeCamera", s.httpConfigProbeCamera, 10, time.Minute)

	handle("GET", "/api/camera/info/:cameraID", s.httpCamGetInfo)
	handle("GET", "/api/camera/latestImage/:cameraID", s.httpCamGetLatestImage)
	handle("GET", "/api/camera/zones/:cameraID", s.httpCamGetZones)
	ratelimited("POST", "/api/camera/zones/:cameraID", s.httpCamSetZones, 60, time.Minute)
	handle("GET", "/api/camera/stats/:cameraID", s.httpCamGetStats)
	handle("GET", "/api/camera/stream/:cameraID", s.httpCamStreamMJPEG)
	handle("GET", "/api/ws/camera/stream/:cameraID", s.httpCamStreamWS)

	router.Handler("GET", "/metrics", s.metrics.Handler())

	s.httpRouter = router
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type pingJSON struct {
		Time int64 `json:"time"`
	}
	ping := &pingJSON{
		Time: time.Now().Unix(),
	}
	www.SendJSON(w, ping)
}
