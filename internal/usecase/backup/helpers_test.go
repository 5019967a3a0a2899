package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/require"

	"github.com/bnema/odoobackup/internal/adapters/out/filesystem"
	"github.com/bnema/odoobackup/internal/boundaries/out"
	"github.com/bnema/odoobackup/internal/domain"
)

func testLogger() zerowrap.Logger {
	return zerowrap.Default()
}

func newStore(t *testing.T) *filesystem.ArtifactStorage {
	t.Helper()
	store, err := filesystem.NewArtifactStorage(t.TempDir(), testLogger())
	require.NoError(t, err)
	return store
}

func newTestService(t *testing.T, producer out.BackupProducer, store out.ArtifactStore, opts ...Option) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Database:  "odoo",
		Kinds:     []domain.ArtifactKind{domain.ArtifactDump},
		Retention: domain.RetentionPolicy{MaxLocalArtifacts: 3},
	}, producer, store, testLogger(), opts...)
	require.NoError(t, err)
	return svc
}

// seed writes an artifact with a fixed modification time.
func seed(t *testing.T, store out.ArtifactStore, name, content string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(store.Dir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func payload(name, content string) *out.BackupPayload {
	kind, _ := domain.KindFromName(name)
	return &out.BackupPayload{Filename: name, Kind: kind, Body: io.NopCloser(strings.NewReader(content))}
}

func localNames(t *testing.T, store out.ArtifactStore) []string {
	t.Helper()
	artifacts, err := store.List(context.Background())
	require.NoError(t, err)
	names := make([]string, len(artifacts))
	for i, a := range artifacts {
		names[i] = a.Name
	}
	return names
}

// memRemote is an in-memory out.RemoteStore.
type memRemote struct {
	mu        sync.Mutex
	objects   map[string][]byte
	failGet   map[string]error
	failDel   map[string]error
	downloads int
	deleted   []string
}

func newMemRemote() *memRemote {
	return &memRemote{objects: map[string][]byte{}, failGet: map[string]error{}, failDel: map[string]error{}}
}

func (m *memRemote) EnsureBucket(context.Context) error { return nil }

func (m *memRemote) Upload(_ context.Context, localPath, key string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memRemote) Download(_ context.Context, key, localPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failGet[key]; err != nil {
		return err
	}
	data, ok := m.objects[key]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrArtifactMissing, key)
	}
	if info, err := os.Stat(localPath); err == nil && info.IsDir() {
		if err := os.RemoveAll(localPath); err != nil {
			return err
		}
	}
	m.downloads++
	return os.WriteFile(localPath, data, 0600)
}

func (m *memRemote) List(context.Context) ([]domain.RemoteObjectRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]domain.RemoteObjectRecord, 0, len(m.objects))
	for k, v := range m.objects {
		records = append(records, domain.RemoteObjectRecord{Key: k, SizeBytes: int64(len(v))})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

func (m *memRemote) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failDel[key]; err != nil {
		return err
	}
	m.deleted = append(m.deleted, key)
	delete(m.objects, key)
	return nil
}

// recordingMetrics counts calls per instrument.
type recordingMetrics struct {
	mu             sync.Mutex
	cycles         []error
	evicted        int
	deleteFailures map[string]int
	uploads        int
	sync           map[domain.SyncOutcome]int
	restores       []domain.RestoreState
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{deleteFailures: map[string]int{}, sync: map[domain.SyncOutcome]int{}}
}

func (r *recordingMetrics) CycleFinished(_ context.Context, err error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles = append(r.cycles, err)
}

func (r *recordingMetrics) ArtifactsEvicted(_ context.Context, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evicted += n
}

func (r *recordingMetrics) RetentionDeleteFailed(_ context.Context, location string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteFailures[location]++
}

func (r *recordingMetrics) UploadFinished(context.Context, error, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads++
}

func (r *recordingMetrics) SyncObject(_ context.Context, outcome domain.SyncOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sync[outcome]++
}

func (r *recordingMetrics) RestoreFinished(_ context.Context, state domain.RestoreState, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restores = append(r.restores, state)
}

type stubLocker struct {
	err      error
	acquired int
	released int
}

func (l *stubLocker) Acquire(context.Context, string) (func() error, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	return func() error { l.released++; return nil }, nil
}

var errBoom = errors.New("boom")
