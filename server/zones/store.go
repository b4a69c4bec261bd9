package zones

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/zonecam/zonecam/pkg/iox"
	"github.com/zonecam/zonecam/pkg/vision"
)

// Zone is a named polygon in frame coordinates.
type Zone struct {
	ID     int64          `json:"id"`
	Name   string         `json:"name"`
	Points vision.Polygon `json:"points"`
}

// ZoneFile is the on-disk document holding all zones of one camera.
type ZoneFile struct {
	Zones []Zone `json:"zones"`
}

// Store reads and writes the per-camera zone files. The session re-reads
// zones on every processed frame, so an edit takes effect immediately,
// without restarting the camera.
type Store struct {
	log     logs.Log
	dataDir string

	warnLock   sync.Mutex
	lastWarnAt map[int64]time.Time
}

func NewStore(log logs.Log, dataDir string) *Store {
	return &Store{
		log:        log,
		dataDir:    dataDir,
		lastWarnAt: map[int64]time.Time{},
	}
}

func (s *Store) Filename(cameraID int64) string {
	return filepath.Join(s.dataDir, fmt.Sprintf("zones_%v.json", cameraID))
}

// Load returns every parseable zone in the camera's zone file, including
// zones that are too degenerate to use. A missing or corrupt file yields no
// zones, never an error.
func (s *Store) Load(cameraID int64) []Zone {
	raw, err := os.ReadFile(s.Filename(cameraID))
	if err != nil {
		return nil
	}
	// Decode entries one by one, so a single malformed zone doesn't take out
	// all the others.
	file := struct {
		Zones []json.RawMessage `json:"zones"`
	}{}
	if err := json.Unmarshal(raw, &file); err != nil {
		s.warnThrottled(cameraID, "Ignoring corrupt zone file for camera %v: %v", cameraID, err)
		return nil
	}
	zones := make([]Zone, 0, len(file.Zones))
	for i, rz := range file.Zones {
		z := Zone{}
		if err := json.Unmarshal(rz, &z); err != nil {
			s.warnThrottled(cameraID, "Skipping malformed zone %v of camera %v: %v", i, cameraID, err)
			continue
		}
		zones = append(zones, z)
	}
	return zones
}

// LoadValid returns the zones that take part in containment tests and
// drawing. Zones with fewer than 3 points are skipped with a warning, but
// they stay in the file so an editor can still fix them.
func (s *Store) LoadValid(cameraID int64) []Zone {
	all := s.Load(cameraID)
	valid := make([]Zone, 0, len(all))
	for _, z := range all {
		if !z.Points.Valid() {
			s.warnThrottled(cameraID, "Zone '%v' of camera %v has fewer than 3 points. Ignoring it.", z.Name, cameraID)
			continue
		}
		valid = append(valid, z)
	}
	return valid
}

// RawFile returns the zone file bytes exactly as stored, so malformed zones
// survive an editor round trip. ok is false if the file does not exist.
func (s *Store) RawFile(cameraID int64) ([]byte, bool) {
	raw, err := os.ReadFile(s.Filename(cameraID))
	if err != nil {
		return nil, false
	}
	return raw, true
}

// Save replaces the camera's zone file. There is no merging, the latest
// write wins at file granularity.
func (s *Store) Save(cameraID int64, zf *ZoneFile) error {
	data, err := json.Marshal(zf)
	if err != nil {
		return err
	}
	os.MkdirAll(s.dataDir, 0777)
	return iox.WriteFileAtomic(s.Filename(cameraID), data)
}

// Delete removes the camera's zone file. Removing a file that does not
// exist is not an error.
func (s *Store) Delete(cameraID int64) error {
	err := os.Remove(s.Filename(cameraID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Polygons extracts the polygon of each zone, in file order.
func Polygons(zones []Zone) []vision.Polygon {
	polys := make([]vision.Polygon, len(zones))
	for i, z := range zones {
		polys[i] = z.Points
	}
	return polys
}

// Zone files are re-read on every frame, so a broken zone would otherwise
// flood the log.
func (s *Store) warnThrottled(cameraID int64, format string, args ...any) {
	s.warnLock.Lock()
	defer s.warnLock.Unlock()
	if time.Now().Sub(s.lastWarnAt[cameraID]) > 15*time.Second {
		s.log.Warnf(format, args...)
		s.lastWarnAt[cameraID] = time.Now()
	}
}
