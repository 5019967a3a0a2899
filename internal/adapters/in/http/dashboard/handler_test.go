package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/odoobackup/internal/domain"
)

const testPassword = "s3cret"

type fakeBackup struct {
	artifacts  []domain.Artifact
	cycleErr   error
	restoreReq domain.RestoreRequest
	restoreErr error
	syncErr    error
	deleted    []string
}

func (f *fakeBackup) ProduceAndRetain(context.Context) (*domain.CycleSummary, error) {
	return &domain.CycleSummary{RunID: "run-1", Database: "odoo"}, f.cycleErr
}

func (f *fakeBackup) Restore(_ context.Context, req domain.RestoreRequest) (*domain.RestoreOutcome, error) {
	f.restoreReq = req
	state := domain.RestoreDone
	if f.restoreErr != nil {
		state = domain.RestoreFailed
	}
	return &domain.RestoreOutcome{Request: req, State: state}, f.restoreErr
}

func (f *fakeBackup) SyncFromRemote(context.Context) (*domain.SyncSummary, error) {
	if f.syncErr != nil {
		return nil, f.syncErr
	}
	return &domain.SyncSummary{Downloaded: 1}, nil
}

func (f *fakeBackup) ListArtifacts(context.Context) ([]domain.Artifact, error) {
	out := make([]domain.Artifact, len(f.artifacts))
	copy(out, f.artifacts)
	return out, nil
}

func (f *fakeBackup) DeleteArtifact(_ context.Context, name string) error {
	if _, err := domain.ValidateArtifactName(name); err != nil {
		return err
	}
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeBackup) DropDatabase(context.Context, string) (string, error) { return "", nil }

func (f *fakeBackup) DuplicateDatabase(context.Context, string, string) (string, error) {
	return "", nil
}

type fakeSchedule struct{ next time.Time }

func (f fakeSchedule) List() []domain.CronEntry {
	return []domain.CronEntry{{ID: "backup", NextRun: f.next}}
}

func (f fakeSchedule) RunNow(context.Context, string) error { return nil }

type fakeLogs struct{ lastN int }

func (f *fakeLogs) GetProcessLogs(_ context.Context, n int) ([]domain.LogLine, error) {
	f.lastN = n
	return []domain.LogLine{{Text: "ERR boom", Level: "error"}}, nil
}

func (f *fakeLogs) FollowProcessLogs(context.Context, int) (<-chan domain.LogLine, error) {
	return nil, fmt.Errorf("not supported")
}

type fakeSystem struct{}

func (fakeSystem) Disk(context.Context) (*domain.DiskUsage, error) {
	return &domain.DiskUsage{Path: "/backups", UsedPercent: 42}, nil
}

func (fakeSystem) CPU(context.Context) (*domain.CPUInfo, error) {
	return &domain.CPUInfo{Model: "test cpu", LogicalCores: 4}, nil
}

func (fakeSystem) Usage(context.Context) (*domain.ResourceUsage, error) {
	return &domain.ResourceUsage{CPUPercent: 12.5, PerCore: []float64{10, 15}}, nil
}

type countingLimiter struct {
	allowed int
	calls   int
	resets  int
}

func (l *countingLimiter) Allow(context.Context, string) bool {
	l.calls++
	return l.calls <= l.allowed
}

func (l *countingLimiter) Reset(context.Context, string) { l.resets++ }

type fixture struct {
	e       *echo.Echo
	backup  *fakeBackup
	logs    *fakeLogs
	limiter *countingLimiter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		backup: &fakeBackup{artifacts: []domain.Artifact{
			{Name: "odoo_2026-04-02_00-00-00.zip", Kind: domain.ArtifactArchive, SizeBytes: 3 << 20, CreatedAt: time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)},
			{Name: "odoo_2026-04-01_00-00-00.dump", Kind: domain.ArtifactDump, SizeBytes: 1 << 20, CreatedAt: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
		}},
		logs:    &fakeLogs{},
		limiter: &countingLimiter{allowed: 100},
	}

	h, err := NewHandler(Config{
		Password:      testPassword,
		Database:      "odoo",
		SessionSecret: []byte(strings.Repeat("k", 32)),
	}, Deps{
		Backup:   f.backup,
		Schedule: fakeSchedule{next: time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC)},
		Logs:     f.logs,
		System:   fakeSystem{},
		Limiter:  f.limiter,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("odoobackup_cycles_total 1\n"))
		}),
	}, zerowrap.Default())
	require.NoError(t, err)

	f.e = h.Echo()
	return f
}

func (f *fixture) do(method, target string, body url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(body.Encode()))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T) []*http.Cookie {
	t.Helper()
	rec := f.do(http.MethodPost, "/auto-backup/login", url.Values{"password": {testPassword}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/auto-backup/", rec.Header().Get(echo.HeaderLocation))
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies
}

func TestNewHandler_Validation(t *testing.T) {
	deps := Deps{Backup: &fakeBackup{}, Schedule: fakeSchedule{}, Logs: &fakeLogs{}, System: fakeSystem{}}

	_, err := NewHandler(Config{SessionSecret: []byte(strings.Repeat("k", 32))}, deps, zerowrap.Default())
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = NewHandler(Config{Password: "x", SessionSecret: []byte("short")}, deps, zerowrap.Default())
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	h, err := NewHandler(Config{Password: "x", BasePath: "backups/", SessionSecret: []byte(strings.Repeat("k", 32))}, deps, zerowrap.Default())
	require.NoError(t, err)
	assert.Equal(t, "/backups", h.cfg.BasePath)
	assert.Equal(t, DefaultLogLines, h.cfg.LogLines)
}

func TestDashboard_RequiresLogin(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/auto-backup/", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auto-backup/login", rec.Header().Get(echo.HeaderLocation))

	for _, path := range []string{"/auto-backup/api/artifacts", "/auto-backup/api/log", "/auto-backup/api/disk"} {
		rec := f.do(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	rec = f.do(http.MethodGet, "/auto-backup/metrics", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	rec = f.do(http.MethodPost, "/auto-backup/api/backup", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/auto-backup/login", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `name="password"`)
}

func TestDashboard_WrongPassword(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/auto-backup/login", url.Values{"password": {"nope"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid password.")
	assert.Equal(t, 0, f.limiter.resets)
}

func TestDashboard_LoginRateLimited(t *testing.T) {
	f := newFixture(t)
	f.limiter.allowed = 1

	rec := f.do(http.MethodPost, "/auto-backup/login", url.Values{"password": {"nope"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/auto-backup/login", url.Values{"password": {testPassword}})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestDashboard_IndexListsDumpsFirst(t *testing.T) {
	f := newFixture(t)
	cookies := f.login(t)
	assert.Equal(t, 1, f.limiter.resets)

	rec := f.do(http.MethodGet, "/auto-backup/", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	dump := strings.Index(body, "<td>odoo_2026-04-01_00-00-00.dump</td>")
	zip := strings.Index(body, "<td>odoo_2026-04-02_00-00-00.zip</td>")
	require.NotEqual(t, -1, dump)
	require.NotEqual(t, -1, zip)
	assert.Less(t, dump, zip)
	assert.Contains(t, body, "<td>3.00</td>")
	assert.Contains(t, body, "2026-04-03 00:00:00 UTC")
}

func TestDashboard_ArtifactsJSON(t *testing.T) {
	f := newFixture(t)
	cookies := f.login(t)

	rec := f.do(http.MethodGet, "/auto-backup/api/artifacts", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)

	var artifacts []domain.Artifact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &artifacts))
	require.Len(t, artifacts, 2)
	assert.Equal(t, domain.ArtifactDump, artifacts[0].Kind)
}

func TestDashboard_Backup(t *testing.T) {
	f := newFixture(t)
	cookies := f.login(t)

	rec := f.do(http.MethodPost, "/auto-backup/api/backup", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"run_id":"run-1"`)

	f.backup.cycleErr = fmt.Errorf("cycle: %w", domain.ErrUpstreamUnavailable)
	rec = f.do(http.MethodPost, "/auto-backup/api/backup", nil, cookies...)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.ErrUpstreamUnavailable.Error())

	f.backup.cycleErr = domain.ErrCycleInProgress
	rec = f.do(http.MethodPost, "/auto-backup/api/backup", nil, cookies...)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDashboard_Restore(t *testing.T) {
	f := newFixture(t)
	cookies := f.login(t)

	rec := f.do(http.MethodPost, "/auto-backup/api/restore/odoo_2026-04-01_00-00-00.dump?db=staging&sync=true", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.RestoreRequest{
		ArtifactName:   "odoo_2026-04-01_00-00-00.dump",
		TargetDatabase: "staging",
		SyncFirst:      true,
	}, f.backup.restoreReq)
	assert.Contains(t, rec.Body.String(), `"state":"done"`)

	rec = f.do(http.MethodPost, "/auto-backup/api/restore/x.dump?sync=maybe", nil, cookies...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.backup.restoreErr = &domain.RestoreToolError{Tool: "pg_restore", ExitCode: 1}
	rec = f.do(http.MethodPost, "/auto-backup/api/restore/odoo_2026-04-01_00-00-00.dump", nil, cookies...)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"failed"`)
	assert.Contains(t, rec.Body.String(), domain.RestoreHint)
}

func TestDashboard_Sync(t *testing.T) {
	f := newFixture(t)
	cookies := f.login(t)

	rec := f.do(http.MethodPost, "/auto-backup/api/sync", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"downloaded":1`)

	f.backup.syncErr = domain.ErrRemoteDisabled
	rec = f.do(http.MethodPost, "/auto-backup/api/sync", nil, cookies...)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDashboard_Delete(t *testing.T) {
	f := newFixture(t)
	cookies := f.login(t)

	rec := f.do(http.MethodPost, "/auto-backup/api/delete/odoo_2026-04-01_00-00-00.dump", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"odoo_2026-04-01_00-00-00.dump"}, f.backup.deleted)

	rec = f.do(http.MethodPost, "/auto-backup/api/delete/notes.txt", nil, cookies...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDashboard_SystemEndpoints(t *testing.T) {
	f := newFixture(t)
	cookies := f.login(t)

	rec := f.do(http.MethodGet, "/auto-backup/api/disk", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"used_percent":42`)

	rec = f.do(http.MethodGet, "/auto-backup/api/cpu", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"model":"test cpu"`)

	rec = f.do(http.MethodGet, "/auto-backup/api/cpu_update", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"per_core":[10,15]`)
}

func TestDashboard_Log(t *testing.T) {
	f := newFixture(t)
	cookies := f.login(t)

	rec := f.do(http.MethodGet, "/auto-backup/api/log", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, DefaultLogLines, f.logs.lastN)
	assert.Contains(t, rec.Body.String(), `"level":"error"`)

	rec = f.do(http.MethodGet, "/auto-backup/api/log?lines=50000", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxLogLines, f.logs.lastN)

	rec = f.do(http.MethodGet, "/auto-backup/api/log?lines=-1", nil, cookies...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDashboard_MetricsAndLogout(t *testing.T) {
	f := newFixture(t)
	cookies := f.login(t)

	rec := f.do(http.MethodGet, "/auto-backup/metrics", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "odoobackup_cycles_total")

	rec = f.do(http.MethodGet, "/auto-backup/logout", nil, cookies...)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auto-backup/login", rec.Header().Get(echo.HeaderLocation))

	rec = f.do(http.MethodGet, "/auto-backup/api/artifacts", nil, rec.Result().Cookies()...)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(fmt.Errorf("x: %w", domain.ErrArtifactMissing)))
	assert.Equal(t, http.StatusBadRequest, statusFor(domain.ErrTopologyUnavailable))
	assert.Equal(t, http.StatusBadGateway, statusFor(&domain.UpstreamError{Op: "backup", StatusCode: 403}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(domain.ErrRemoteSyncPartial))
}
