// Package server is the zonecam HTTP server and the root of the engine.
package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/zonecam/zonecam/pkg/vision"
	"github.com/zonecam/zonecam/server/analytics"
	"github.com/zonecam/zonecam/server/configdb"
	"github.com/zonecam/zonecam/server/detector"
	"github.com/zonecam/zonecam/server/livesessions"
	"github.com/zonecam/zonecam/server/metrics"
	"github.com/zonecam/zonecam/server/session"
	"github.com/zonecam/zonecam/server/zones"
)

type Server struct {
	Log          logs.Log
	LiveSessions *livesessions.LiveSessions

	config    *Config
	configDB  *configdb.ConfigDB
	detector  detector.Detector
	zoneStore *zones.Store
	statsSink *analytics.StatsSink
	metrics   *metrics.Metrics
	env       *session.Environment

	shutdown   chan bool // Closed to tell background systems to stop
	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router
	wsUpgrader websocket.Upgrader
}

// NewServer creates a server from a JSON config file, and starts the session
// manager. configFile may be empty, in which case all defaults apply.
func NewServer(configFile string) (*Server, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	logger, err := logs.NewLog()
	if err != nil {
		return nil, err
	}
	s, err := newServer(logger, cfg)
	if err != nil {
		return nil, err
	}
	s.LiveSessions.Run()
	return s, nil
}

// newServer is the test seam: tests inject their own logger and config, and
// start the session manager themselves once its source factory is swapped out
func newServer(logger logs.Log, cfg *Config) (*Server, error) {
	configDB, err := configdb.NewConfigDB(logger, filepath.Join(cfg.DataRoot, "config.sqlite"))
	if err != nil {
		return nil, err
	}

	det := detector.NewHTTPDetector(cfg.DetectorURL)
	detParams := detector.NewDetectParams()
	detParams.MinConfidence = cfg.Detection.MinConfidence
	detParams.Classes = vision.VehicleClasses

	s := &Server{
		Log:       logger,
		config:    cfg,
		configDB:  configDB,
		detector:  det,
		zoneStore: zones.NewStore(logger, cfg.DataRoot),
		statsSink: analytics.NewStatsSink(logger, cfg.DataRoot),
		metrics:   metrics.New(),
		shutdown:  make(chan bool),
	}
	s.env = &session.Environment{
		Detector:     s.detector,
		DetectParams: detParams,
		Zones:        s.zoneStore,
		Stats:        s.statsSink,
		Metrics:      s.metrics,
		JpegQuality:  cfg.Stream.JpegQuality,
	}
	s.LiveSessions = livesessions.NewLiveSessions(logger, configDB, s.shutdown, s.env, livesessions.StreamConfig{
		Width:     cfg.Stream.Width,
		Height:    cfg.Stream.Height,
		FPS:       cfg.Stream.FPS,
		Reconnect: time.Duration(cfg.Stream.ReconnectSeconds) * time.Second,
	})
	s.setupHttpRoutes()
	return s, nil
}

// port example: ":8080"
func (s *Server) ListenHTTP(port string) error {
	s.Log.Infof("Listening on %v", port)
	s.httpServer = &http.Server{
		Addr:    port,
		Handler: s.httpRouter,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) ListenForKillSignals() {
	s.Log.Infof("ListenForKillSignals starting")
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. ListenForKillSignals will exit after shutdown", sig.String())
			s.Shutdown()
		} else {
			// This path gets hit when Shutdown() is called by something other than ourselves,
			// and Shutdown() closes the signalIn channel.
			s.Log.Infof("signalIn closed. ListenForKillSignals will exit now")
		}
	}()
}

func (s *Server) Shutdown() {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
	}

	// Stop the camera sessions first, so that the stream handlers wind down
	// before we close the HTTP server
	close(s.shutdown)
	<-s.LiveSessions.ShutdownComplete
	s.detector.Close()

	if s.httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := s.httpServer.Shutdown(ctx)
		defer cancel()
		if err != nil {
			s.Log.Warnf("Shutdown complete, with error: %v", err)
		} else {
			s.Log.Infof("Shutdown complete")
		}
	}
	s.Log.Close()
}
