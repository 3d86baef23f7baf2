package store

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"crossbench/internal/model"
)

// ManifestName is the file written into each run's log directory.
const ManifestName = "run.yaml"

// Manifest records what happened during one experiment run.
type Manifest struct {
	RunID       string                     `yaml:"run_id"`
	Parameters  model.ExperimentParameters `yaml:"parameters"`
	StartedAt   time.Time                  `yaml:"started_at"`
	FinishedAt  time.Time                  `yaml:"finished_at,omitempty"`
	UpdatedAt   time.Time                  `yaml:"updated_at"`
	Transitions []Transition               `yaml:"transitions"`
	Jobs        []JobInfo                  `yaml:"jobs,omitempty"`
	Outcome     string                     `yaml:"outcome"`
	Error       string                     `yaml:"error,omitempty"`
}

// Transition is one state-machine step.
type Transition struct {
	State string    `yaml:"state"`
	At    time.Time `yaml:"at"`
}

// JobInfo is a snapshot of a background job at teardown.
type JobInfo struct {
	Name    string    `yaml:"name"`
	Host    string    `yaml:"host"`
	Pid     int       `yaml:"pid"`
	Log     string    `yaml:"log"`
	Started time.Time `yaml:"started"`
	State   string    `yaml:"state"`
	Exit    string    `yaml:"exit,omitempty"`
}

// LoadManifest loads a manifest from disk. If the file is missing, returns an empty manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Manifest{}, nil
		}
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	return &m, nil
}

// SaveManifest writes the manifest to disk.
func SaveManifest(path string, m *Manifest) error {
	if m == nil {
		return nil
	}
	m.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}
