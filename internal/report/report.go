// Package report collects fetch and skip actions and writes them as YAML.
package report

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ralt/srcfetch/internal/models"
	"github.com/ralt/srcfetch/internal/utils"
	"gopkg.in/yaml.v3"
)

// Report is the document written at the end of a run
type Report struct {
	Started    time.Time                 `yaml:"started"`
	Finished   time.Time                 `yaml:"finished"`
	Arch       string                    `yaml:"arch"`
	Privileged bool                      `yaml:"privileged"`
	DryRun     bool                      `yaml:"dryRun"`
	WorkDir    string                    `yaml:"workDir"`
	Error      string                    `yaml:"error,omitempty"`
	Summary    map[models.ActionKind]int `yaml:"summary"`
	Actions    []models.Action           `yaml:"actions"`
}

// Recorder implements models.Recorder in memory
type Recorder struct {
	mu      sync.Mutex
	started time.Time
	actions []models.Action
}

// NewRecorder creates an empty Recorder
func NewRecorder() *Recorder {
	return &Recorder{started: time.Now()}
}

// Record appends an action
func (r *Recorder) Record(a models.Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, a)
}

// Actions returns a copy of the recorded actions in order
func (r *Recorder) Actions() []models.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Action, len(r.actions))
	copy(out, r.actions)
	return out
}

// Summary counts the recorded actions per kind
func (r *Recorder) Summary() map[models.ActionKind]int {
	summary := make(map[models.ActionKind]int)
	for _, a := range r.Actions() {
		summary[a.Kind]++
	}
	return summary
}

// SummaryLine renders the summary as "kind=count" pairs sorted by kind
func (r *Recorder) SummaryLine() string {
	summary := r.Summary()
	kinds := make([]string, 0, len(summary))
	for k := range summary {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	var buf bytes.Buffer
	for i, k := range kinds {
		if i > 0 {
			buf.WriteString(" ")
		}
		fmt.Fprintf(&buf, "%s=%d", k, summary[models.ActionKind(k)])
	}
	return buf.String()
}

// Build assembles the report for a run that ended with runErr
func (r *Recorder) Build(rctx models.ResolutionContext, runErr error) Report {
	rep := Report{
		Started:    r.started,
		Finished:   time.Now(),
		Arch:       rctx.Arch.String(),
		Privileged: rctx.Privileged,
		DryRun:     rctx.DryRun,
		WorkDir:    rctx.WorkDir,
		Summary:    r.Summary(),
		Actions:    r.Actions(),
	}
	if runErr != nil {
		rep.Error = runErr.Error()
	}
	return rep
}

// WriteFile writes the report for the run to path
func (r *Recorder) WriteFile(path string, rctx models.ResolutionContext, runErr error) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r.Build(rctx, runErr)); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	if err := utils.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
