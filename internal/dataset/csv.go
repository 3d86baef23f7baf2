package dataset

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sync"

	"crossbench/internal/model"
)

// appendMu serializes appends from one process; runs never overlap across
// processes.
var appendMu sync.Mutex

// Append writes one (bandwidth, crossTraffic) row to the dataset at path,
// creating missing parent directories first. There is no header row.
func Append(path string, p model.ExperimentParameters) error {
	appendMu.Lock()
	defer appendMu.Unlock()

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	if err := WriteCSV(file, []model.ExperimentParameters{p}); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// WriteCSV writes rows with a fixed column order: bandwidth, crossTraffic.
func WriteCSV(w io.Writer, items []model.ExperimentParameters) error {
	writer := csv.NewWriter(w)
	for _, p := range items {
		if err := writer.Write(p.Record()); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
