// Package livesessions manages the set of running camera sessions.
package livesessions

import (
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/zonecam/zonecam/pkg/gen"
	"github.com/zonecam/zonecam/server/camera"
	"github.com/zonecam/zonecam/server/configdb"
	"github.com/zonecam/zonecam/server/session"
)

// StreamConfig holds the server-wide defaults used when a camera record
// leaves its output size or frame rate unspecified.
type StreamConfig struct {
	Width     int
	Height    int
	FPS       int
	Reconnect time.Duration // Wait this long after a failure before dialing the camera again
}

// LiveSessions keeps the running sessions in sync with the camera table.
// A single background thread wakes up every few seconds, or whenever the
// configuration changes, and starts, stops, or restarts sessions as needed.
// API handlers read sessions through the registry, and never create or
// destroy them behind its back.
type LiveSessions struct {
	ShutdownComplete chan bool // Closed when we are done shutting down

	log      logs.Log
	configDB *configdb.ConfigDB
	shutdown chan bool // The parent system closes this channel when it wants us to shutdown
	env      *session.Environment
	stream   StreamConfig

	sessionsLock  sync.Mutex
	sessionFromID map[int64]*session.Session

	wake chan bool // Used to wake up the sync thread

	periodicWakeInterval time.Duration

	// NewSource builds the decode pipeline for a camera. Tests replace this
	// with a fake, so that no ffmpeg or OpenCV is involved. Replace it before
	// calling Run().
	NewSource func(cam *configdb.Camera) (session.FrameSource, error)
}

// Create a new LiveSessions object.
// shutdown is a channel that the parent system will close when it wants us to shutdown.
func NewLiveSessions(logger logs.Log, configDB *configdb.ConfigDB, shutdown chan bool, env *session.Environment, stream StreamConfig) *LiveSessions {
	ls := &LiveSessions{
		ShutdownComplete:     make(chan bool),
		log:                  logs.NewPrefixLogger(logger, "LiveSessions:"),
		configDB:             configDB,
		shutdown:             shutdown,
		env:                  env,
		stream:               stream,
		sessionFromID:        map[int64]*session.Session{},
		wake:                 make(chan bool, 10),
		periodicWakeInterval: 10 * time.Second,
	}
	ls.NewSource = ls.buildSource
	return ls
}

// Start the sync thread, which is the only thread that starts and stops sessions
func (s *LiveSessions) Run() {
	go s.runThread()
	s.wake <- true
}

func (s *LiveSessions) CameraAdded(id int64) {
	s.wake <- true
}

func (s *LiveSessions) CameraChanged(id int64) {
	s.wake <- true
}

// Get session from camera ID. Returns nil if the camera has no running session.
func (s *LiveSessions) SessionFromID(id int64) *session.Session {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	return s.sessionFromID[id]
}

// Return a list of running sessions
func (s *LiveSessions) Sessions() []*session.Session {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	list := make([]*session.Session, 0, len(s.sessionFromID))
	for _, sess := range s.sessionFromID {
		list = append(list, sess)
	}
	return list
}

// GetOrCreate returns the running session for a camera, creating and starting
// one if necessary. A session that has been stopped is replaced with a fresh
// one, so the caller always gets a live session or an error.
func (s *LiveSessions) GetOrCreate(cam *configdb.Camera) (*session.Session, error) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	if sess := s.sessionFromID[cam.ID]; sess != nil && !sess.Stopped() {
		return sess, nil
	}
	source, err := s.NewSource(cam)
	if err != nil {
		return nil, err
	}
	sess := session.NewSession(s.log, *cam, source, s.env)
	sess.Start()
	s.sessionFromID[cam.ID] = sess
	s.log.Infof("Started session for camera %v (%v)", cam.ID, cam.Name)
	return sess, nil
}

// Remove stops a camera's session and deletes its zone and stats files.
// The session is fully stopped before we touch the files, otherwise an
// in-flight frame would recreate the stats snapshot after we delete it.
// Removing a camera that has no session still deletes any leftover files.
func (s *LiveSessions) Remove(cameraID int64) {
	s.sessionsLock.Lock()
	if sess := s.sessionFromID[cameraID]; sess != nil {
		delete(s.sessionFromID, cameraID)
		sess.Stop()
	}
	s.sessionsLock.Unlock()

	if err := s.env.Zones.Delete(cameraID); err != nil {
		s.log.Errorf("Failed to delete zones of camera %v: %v", cameraID, err)
	}
	if err := s.env.Stats.Delete(cameraID); err != nil {
		s.log.Errorf("Failed to delete stats of camera %v: %v", cameraID, err)
	}
}

// stopSession stops a session and forgets it, leaving the camera's zone and
// stats files in place. This is the restart path, not the delete path.
func (s *LiveSessions) stopSession(cameraID int64) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	if sess := s.sessionFromID[cameraID]; sess != nil {
		delete(s.sessionFromID, cameraID)
		sess.Stop()
	}
}

// buildSource creates the decode pipeline for a camera
func (s *LiveSessions) buildSource(cam *configdb.Camera) (session.FrameSource, error) {
	width := cam.Width
	if width == 0 {
		width = s.stream.Width
	}
	height := cam.Height
	if height == 0 {
		height = s.stream.Height
	}
	fps := cam.FPS
	if fps == 0 {
		fps = s.stream.FPS
	}
	var source camera.FrameSource
	switch cam.Decoder {
	case configdb.DecoderDirect:
		source = camera.NewDirectSource(s.log, cam.URL, width, height)
	default:
		var err error
		source, err = camera.NewPipeSource(s.log, cam.URL, width, height, fps)
		if err != nil {
			return nil, err
		}
	}
	return camera.NewReconnector(s.log, source, s.stream.Reconnect), nil
}

func (s *LiveSessions) runThread() {
	keepRunning := true
	for keepRunning {
		select {
		case <-time.After(s.periodicWakeInterval):
			s.syncWithConfig()
		case <-s.wake:
			s.syncWithConfig()
		case <-s.shutdown:
			keepRunning = false
		}
	}
	s.log.Infof("LiveSessions shutting down")

	s.sessionsLock.Lock()
	sessions := make([]*session.Session, 0, len(s.sessionFromID))
	for _, sess := range s.sessionFromID {
		sessions = append(sessions, sess)
	}
	s.sessionFromID = map[int64]*session.Session{}
	s.sessionsLock.Unlock()

	wg := sync.WaitGroup{}
	for _, sess := range sessions {
		wg.Add(1)
		go func(sess *session.Session) {
			defer wg.Done()
			sess.Stop()
		}(sess)
	}
	wg.Wait()
	close(s.ShutdownComplete)
}

// syncWithConfig brings the running sessions in line with the camera table.
// This runs in the background every few seconds, and whenever something
// changes the configuration.
func (s *LiveSessions) syncWithConfig() {
	// Drain the wake channel, so that a wake sent while we were already
	// syncing doesn't trigger a redundant pass
	gen.DrainChannelIntoSlice(s.wake)

	configs := []*configdb.Camera{}
	if err := s.configDB.DB.Find(&configs).Error; err != nil {
		s.log.Errorf("Error loading cameras from config: %v", err)
		return
	}

	// Remove sessions whose camera is no longer in the database
	cfgIDs := map[int64]bool{}
	for _, cfg := range configs {
		cfgIDs[cfg.ID] = true
	}
	for _, sess := range s.Sessions() {
		if !cfgIDs[sess.CameraID] {
			s.log.Infof("Removing session for camera %v, because it's no longer configured", sess.CameraID)
			s.Remove(sess.CameraID)
		}
	}

	for _, cfg := range configs {
		if s.isShuttingDown() || len(s.wake) > 0 {
			// A new wake message means the config just changed again, so
			// abandon this pass and start over
			break
		}
		if sess := s.SessionFromID(cfg.ID); sess != nil {
			if sess.Stopped() {
				s.log.Warnf("Session for camera %v (%v) is stopped. Restarting.", cfg.ID, cfg.Name)
				s.stopSession(cfg.ID)
			} else if !sess.Config.EqualsConnection(cfg) {
				s.log.Infof("Camera %v (%v) configuration changed. Restarting.", cfg.ID, cfg.Name)
				s.stopSession(cfg.ID)
			} else {
				// session is running normally
				continue
			}
		}
		if _, err := s.GetOrCreate(cfg); err != nil {
			s.log.Errorf("Error starting session for camera %v (%v): %v", cfg.ID, cfg.Name, err)
		}
	}
}

// Returns true if the system wants us to shutdown
func (s *LiveSessions) isShuttingDown() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}
