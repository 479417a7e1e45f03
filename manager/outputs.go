package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mholt/archiver"
)

// zipOutputs compresses the files of the output directory. The archive
// holds paths relative to that directory.
func zipOutputs(dir string) ([]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, filepath.Join(dir, e.Name()))
	}

	var b bytes.Buffer
	if err := archiver.Zip.Write(&b, paths); err != nil {
		return nil, fmt.Errorf("error compressing outputs: %w", err)
	}
	return b.Bytes(), nil
}

func outputsFilename(now time.Time) string {
	return fmt.Sprintf("comfyui_outputs_%s.zip", now.Format("20060102_150405"))
}
