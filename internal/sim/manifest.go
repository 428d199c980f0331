package sim

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Manifest records everything needed to reproduce a backtest run and to
// compare a live configuration against it. Git fields are best-effort and
// null when the working tree is not a repository.
type Manifest struct {
	GeneratedAt string         `json:"generated_at"`
	GitCommit   *string        `json:"git_commit"`
	GitDirty    *bool          `json:"git_dirty"`
	GoVersion   string         `json:"go_version"`
	Config      map[string]any `json:"config"`
	Candidates  int            `json:"candidates"`
	Trades      int            `json:"trades"`
	Skipped     int            `json:"skipped"`
	Summary     Summary        `json:"summary"`
}

// NewManifest snapshots a finished run.
func NewManifest(cfg Config, candidateCount int, res *Result) Manifest {
	m := Manifest{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		GoVersion:   runtime.Version(),
		Config:      cfg.ManifestMap(),
		Candidates:  candidateCount,
		Trades:      len(res.Trades),
		Skipped:     len(res.Skipped),
		Summary:     res.Summarize(),
	}
	if sha, dirty, err := gitState(); err == nil {
		m.GitCommit = &sha
		m.GitDirty = &dirty
	}
	return m
}

// gitState shells out to git. Any failure means "not reproducible from git"
// and is not an error for the caller.
func gitState() (sha string, dirty bool, err error) {
	out, err := exec.Command("git", "rev-parse", "HEAD").Output()
	if err != nil {
		return "", false, err
	}
	sha = strings.TrimSpace(string(out))
	status, err := exec.Command("git", "status", "--porcelain").Output()
	if err != nil {
		return sha, false, nil
	}
	return sha, len(bytes.TrimSpace(status)) > 0, nil
}

// WriteFile persists the manifest as indented JSON via a temp file and
// rename, so readers never observe a partial write.
func (m Manifest) WriteFile(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create manifest dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".manifest-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp manifest: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp manifest: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move manifest into place: %w", err)
	}
	return nil
}

// LoadManifest reads a manifest produced by WriteFile.
func LoadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("failed to read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return m, nil
}
