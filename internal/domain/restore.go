package domain

import (
	"fmt"
	"strings"
	"time"
)

// Topology describes where the database server runs.
type Topology string

const (
	TopologyContainerized Topology = "containerized"
	TopologyHostInstalled Topology = "host"
)

// ParseTopology accepts the config spellings of a topology.
func ParseTopology(s string) (Topology, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "containerized", "container", "docker":
		return TopologyContainerized, nil
	case "host", "host-installed", "hostinstalled", "native":
		return TopologyHostInstalled, nil
	default:
		return "", fmt.Errorf("%w: unknown topology %q", ErrInvalidConfig, s)
	}
}

// RestoreRequest asks for one artifact to be restored into TargetDatabase.
// An empty Topology means "whatever is configured".
type RestoreRequest struct {
	ArtifactName   string
	TargetDatabase string
	Topology       Topology
	SyncFirst      bool
}

// RestoreState is a step of the restore sequence.
type RestoreState string

const (
	RestoreStart                   RestoreState = "start"
	RestoreDropRequested           RestoreState = "drop_requested"
	RestoreDropResolved            RestoreState = "drop_resolved"
	RestoreArtifactAcquired        RestoreState = "artifact_acquired"
	RestoreDatabaseRestoring       RestoreState = "database_restoring"
	RestoreDatabaseRestoreResolved RestoreState = "database_restore_resolved"
	RestoreFilestoreDiscovery      RestoreState = "filestore_discovery"
	RestoreFilestoreExtracting     RestoreState = "filestore_extracting"
	RestoreDone                    RestoreState = "done"
	RestoreFailed                  RestoreState = "failed"
)

// StepResult captures the output of one external step.
type StepResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Stdout  string `json:"stdout,omitempty"`
	Stderr  string `json:"stderr,omitempty"`
	Error   string `json:"error,omitempty"`
}

// FilestoreResult is the outcome of placing one archive.
type FilestoreResult struct {
	Archive string `json:"archive"`
	// Skipped is set when the archive held no filestore to place.
	Skipped bool `json:"skipped,omitempty"`
	StepResult
}

// RestoreOutcome is the structured report of a restore run.
type RestoreOutcome struct {
	Request   RestoreRequest    `json:"request"`
	Trail     []RestoreState    `json:"trail"`
	Drop      *StepResult       `json:"drop,omitempty"`
	Database  *StepResult       `json:"database,omitempty"`
	Filestore []FilestoreResult `json:"filestore"`
	Notes     []string          `json:"notes,omitempty"`
	State     RestoreState      `json:"state"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
	Err       error             `json:"-"`
}

// Enter appends s to the trail and makes it the current state.
func (o *RestoreOutcome) Enter(s RestoreState) {
	o.Trail = append(o.Trail, s)
	o.State = s
}

// Note records a human-readable remark.
func (o *RestoreOutcome) Note(format string, args ...any) {
	o.Notes = append(o.Notes, fmt.Sprintf(format, args...))
}

// Visited reports whether the sequence passed through s.
func (o *RestoreOutcome) Visited(s RestoreState) bool {
	for _, v := range o.Trail {
		if v == s {
			return true
		}
	}
	return false
}

// Succeeded reports whether the restore ended in Done.
func (o *RestoreOutcome) Succeeded() bool {
	return o.State == RestoreDone
}
