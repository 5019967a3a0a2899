package domain

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ArtifactKind identifies what a backup artifact contains.
type ArtifactKind string

const (
	// ArtifactDump is a database-only pg_restore-compatible dump.
	ArtifactDump ArtifactKind = "dump"
	// ArtifactArchive is a zip holding the database plus the filestore.
	ArtifactArchive ArtifactKind = "zip"
)

// ArtifactTimestampLayout is the timestamp embedded in artifact names.
const ArtifactTimestampLayout = "2006-01-02_15-04-05"

// Extension returns the file suffix for the kind, dot included.
func (k ArtifactKind) Extension() string {
	return "." + string(k)
}

// BackupFormat returns the value the upstream expects for backup_format.
func (k ArtifactKind) BackupFormat() string {
	return string(k)
}

// Valid reports whether k is a known kind.
func (k ArtifactKind) Valid() bool {
	return k == ArtifactDump || k == ArtifactArchive
}

// KindFromName maps a file name to its artifact kind.
func KindFromName(name string) (ArtifactKind, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".dump":
		return ArtifactDump, true
	case ".zip":
		return ArtifactArchive, true
	default:
		return "", false
	}
}

// Artifact is one backup file produced by a successful upstream call.
// Its identity is Name; artifacts are never updated in place.
type Artifact struct {
	Name          string       `json:"name"`
	Kind          ArtifactKind `json:"kind"`
	LocalPath     string       `json:"-"`
	SizeBytes     int64        `json:"size_bytes"`
	CreatedAt     time.Time    `json:"created_at"`
	RemotePresent bool         `json:"remote_present"`
}

// SizeMB returns the size in mebibytes rounded to two decimals.
func (a Artifact) SizeMB() float64 {
	mb := float64(a.SizeBytes) / (1024 * 1024)
	return float64(int64(mb*100+0.5)) / 100
}

// NameArtifact builds "<db>_<YYYY-MM-DD_HH-mm-ss>.<ext>" using the wall clock in loc.
func NameArtifact(dbName string, kind ArtifactKind, now time.Time, loc *time.Location) (string, error) {
	dbName = strings.TrimSpace(dbName)
	if dbName == "" {
		return "", fmt.Errorf("%w: database name is required", ErrInvalidArtifactName)
	}
	if strings.ContainsAny(dbName, `/\`) {
		return "", fmt.Errorf("%w: database name %q contains a path separator", ErrInvalidArtifactName, dbName)
	}
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedArtifact, kind)
	}
	if loc == nil {
		loc = time.UTC
	}
	return dbName + "_" + now.In(loc).Format(ArtifactTimestampLayout) + kind.Extension(), nil
}

// ValidateArtifactName checks that name is a plain file name with a known suffix.
func ValidateArtifactName(name string) (ArtifactKind, error) {
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidArtifactName, name)
	}
	if strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: %q contains a path separator", ErrInvalidArtifactName, name)
	}
	kind, ok := KindFromName(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedArtifact, name)
	}
	return kind, nil
}

// RemoteObjectRecord is what the object store reports for one key.
type RemoteObjectRecord struct {
	Key          string    `json:"key"`
	SizeBytes    int64     `json:"size_bytes"`
	LastModified time.Time `json:"last_modified"`
}

// RetentionPolicy bounds how many artifacts stay on local disk.
// Dumps and archives share the one limit.
type RetentionPolicy struct {
	MaxLocalArtifacts int
}

// Validate rejects policies that would delete everything.
func (p RetentionPolicy) Validate() error {
	if p.MaxLocalArtifacts < 1 {
		return fmt.Errorf("%w: max local artifacts must be >= 1, got %d", ErrInvalidConfig, p.MaxLocalArtifacts)
	}
	return nil
}

// SortByRecency orders artifacts newest first by modification time.
// Name breaks ties so the order is deterministic.
func SortByRecency(artifacts []Artifact) {
	sort.SliceStable(artifacts, func(i, j int) bool {
		if artifacts[i].CreatedAt.Equal(artifacts[j].CreatedAt) {
			return artifacts[i].Name > artifacts[j].Name
		}
		return artifacts[i].CreatedAt.After(artifacts[j].CreatedAt)
	})
}

// ApplyRetention splits artifacts into the newest MaxLocalArtifacts (kept)
// and the rest (evicted). The input slice is not modified.
func ApplyRetention(artifacts []Artifact, policy RetentionPolicy) (kept, evicted []Artifact) {
	sorted := make([]Artifact, len(artifacts))
	copy(sorted, artifacts)
	SortByRecency(sorted)

	limit := policy.MaxLocalArtifacts
	if limit < 0 {
		limit = 0
	}
	if limit >= len(sorted) {
		return sorted, []Artifact{}
	}
	return sorted[:limit], sorted[limit:]
}

// SortForDisplay puts dumps before archives, newest first within each kind.
func SortForDisplay(artifacts []Artifact) {
	sort.SliceStable(artifacts, func(i, j int) bool {
		if artifacts[i].Kind != artifacts[j].Kind {
			return artifacts[i].Kind == ArtifactDump
		}
		return artifacts[i].CreatedAt.After(artifacts[j].CreatedAt)
	})
}

// CycleSummary reports one produce-and-retain run.
type CycleSummary struct {
	RunID          string            `json:"run_id"`
	Database       string            `json:"database"`
	Produced       []Artifact        `json:"produced"`
	Kept           []string          `json:"kept"`
	Evicted        []string          `json:"evicted"`
	Uploaded       []string          `json:"uploaded"`
	LocalFailures  map[string]string `json:"local_failures,omitempty"`
	RemoteFailures map[string]string `json:"remote_failures,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	Duration       time.Duration     `json:"duration"`
}

// RecordLocalFailure notes a local delete failure for name.
func (s *CycleSummary) RecordLocalFailure(name string, err error) {
	if s.LocalFailures == nil {
		s.LocalFailures = make(map[string]string)
	}
	s.LocalFailures[name] = err.Error()
}

// RecordRemoteFailure notes a remote upload or delete failure for name.
func (s *CycleSummary) RecordRemoteFailure(name string, err error) {
	if s.RemoteFailures == nil {
		s.RemoteFailures = make(map[string]string)
	}
	s.RemoteFailures[name] = err.Error()
}

// SyncOutcome is the per-object result of a remote sync.
type SyncOutcome string

const (
	SyncDownloaded SyncOutcome = "downloaded"
	SyncSkipped    SyncOutcome = "skipped"
	SyncFailed     SyncOutcome = "failed"
)

// SyncResult reports what happened to one remote object.
type SyncResult struct {
	Key     string      `json:"key"`
	Outcome SyncOutcome `json:"outcome"`
	Reason  string      `json:"reason,omitempty"`
}

// SyncSummary aggregates a SyncFromRemote run.
type SyncSummary struct {
	Results    []SyncResult `json:"results"`
	Downloaded int          `json:"downloaded"`
	Skipped    int          `json:"skipped"`
	Failed     int          `json:"failed"`
}

// Add records a result and updates the counters.
func (s *SyncSummary) Add(r SyncResult) {
	s.Results = append(s.Results, r)
	switch r.Outcome {
	case SyncDownloaded:
		s.Downloaded++
	case SyncSkipped:
		s.Skipped++
	case SyncFailed:
		s.Failed++
	}
}

// Partial reports whether at least one object failed to sync.
func (s *SyncSummary) Partial() bool {
	return s.Failed > 0
}

// Err returns ErrRemoteSyncPartial when any object failed.
func (s *SyncSummary) Err() error {
	if !s.Partial() {
		return nil
	}
	return fmt.Errorf("%w: %d of %d objects failed", ErrRemoteSyncPartial, s.Failed, len(s.Results))
}
