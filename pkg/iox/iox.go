package iox

import (
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to a temp file in the same directory, and then
// renames it over dstFilename. A concurrent reader sees either the previous
// complete file or the new one, never a partial write.
func WriteFileAtomic(dstFilename string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dstFilename), filepath.Base(dstFilename)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dstFilename); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
