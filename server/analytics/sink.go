package analytics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/logs"
	"github.com/zonecam/zonecam/pkg/iox"
)

// StatsSink publishes the latest stats snapshot of each camera to disk.
// Every write replaces the whole file. There is no history.
type StatsSink struct {
	log     logs.Log
	dataDir string
}

func NewStatsSink(log logs.Log, dataDir string) *StatsSink {
	return &StatsSink{
		log:     log,
		dataDir: dataDir,
	}
}

func (s *StatsSink) Filename(cameraID int64) string {
	return filepath.Join(s.dataDir, fmt.Sprintf("stats_%v.json", cameraID))
}

func (s *StatsSink) Write(cameraID int64, stats *ZoneStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	os.MkdirAll(s.dataDir, 0777)
	return iox.WriteFileAtomic(s.Filename(cameraID), data)
}

// Read returns the latest snapshot, or ok=false if the camera has never
// published stats (or the file is unreadable).
func (s *StatsSink) Read(cameraID int64) (*ZoneStats, bool) {
	raw, err := os.ReadFile(s.Filename(cameraID))
	if err != nil {
		return nil, false
	}
	stats := &ZoneStats{}
	if err := json.Unmarshal(raw, stats); err != nil {
		s.log.Warnf("Corrupt stats file for camera %v: %v", cameraID, err)
		return nil, false
	}
	return stats, true
}

// Delete removes the camera's stats file. Removing a file that does not
// exist is not an error.
func (s *StatsSink) Delete(cameraID int64) error {
	err := os.Remove(s.Filename(cameraID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
