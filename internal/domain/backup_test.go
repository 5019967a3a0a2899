package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNameArtifact(t *testing.T) {
	hcm, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	require.NoError(t, err)

	now := time.Date(2026, 3, 9, 17, 0, 5, 0, time.UTC)

	tests := []struct {
		name     string
		db       string
		kind     ArtifactKind
		loc      *time.Location
		expected string
	}{
		{name: "dump in utc", db: "odoo", kind: ArtifactDump, loc: time.UTC, expected: "odoo_2026-03-09_17-00-05.dump"},
		{name: "zip in local zone rolls the date", db: "odoo", kind: ArtifactArchive, loc: hcm, expected: "odoo_2026-03-10_00-00-05.zip"},
		{name: "nil location means utc", db: "prod", kind: ArtifactDump, loc: nil, expected: "prod_2026-03-09_17-00-05.dump"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NameArtifact(tt.db, tt.kind, now, tt.loc)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestNameArtifactRejectsBadInput(t *testing.T) {
	now := time.Now()

	_, err := NameArtifact("", ArtifactDump, now, time.UTC)
	assert.ErrorIs(t, err, ErrInvalidArtifactName)

	_, err = NameArtifact("a/b", ArtifactDump, now, time.UTC)
	assert.ErrorIs(t, err, ErrInvalidArtifactName)

	_, err = NameArtifact("odoo", ArtifactKind("tar"), now, time.UTC)
	assert.ErrorIs(t, err, ErrUnsupportedArtifact)
}

func TestValidateArtifactName(t *testing.T) {
	kind, err := ValidateArtifactName("odoo_2026-03-09_17-00-05.dump")
	require.NoError(t, err)
	assert.Equal(t, ArtifactDump, kind)

	kind, err = ValidateArtifactName("odoo_2026-03-09_17-00-05.ZIP")
	require.NoError(t, err)
	assert.Equal(t, ArtifactArchive, kind)

	for _, bad := range []string{"", ".", "..", "../etc/passwd.dump", `dir\x.zip`, "sub/odoo.zip"} {
		_, err := ValidateArtifactName(bad)
		assert.ErrorIs(t, err, ErrInvalidArtifactName, bad)
	}

	_, err = ValidateArtifactName("notes.txt")
	assert.ErrorIs(t, err, ErrUnsupportedArtifact)
}

func artifactsAt(base time.Time, n int) []Artifact {
	out := make([]Artifact, 0, n)
	for i := 0; i < n; i++ {
		kind := ArtifactDump
		if i%2 == 1 {
			kind = ArtifactArchive
		}
		out = append(out, Artifact{
			Name:      fmt.Sprintf("odoo_%d%s", i, kind.Extension()),
			Kind:      kind,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	return out
}

func TestApplyRetention(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		count       int
		max         int
		wantKept    int
		wantEvicted int
	}{
		{name: "under limit", count: 2, max: 3, wantKept: 2, wantEvicted: 0},
		{name: "at limit", count: 3, max: 3, wantKept: 3, wantEvicted: 0},
		{name: "five plus one with limit three", count: 6, max: 3, wantKept: 3, wantEvicted: 3},
		{name: "empty", count: 0, max: 3, wantKept: 0, wantEvicted: 0},
		{name: "negative clamps to zero", count: 2, max: -1, wantKept: 0, wantEvicted: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := artifactsAt(base, tt.count)
			kept, evicted := ApplyRetention(input, RetentionPolicy{MaxLocalArtifacts: tt.max})

			assert.Len(t, kept, tt.wantKept)
			assert.Len(t, evicted, tt.wantEvicted)

			for _, k := range kept {
				for _, e := range evicted {
					assert.True(t, k.CreatedAt.After(e.CreatedAt), "%s should be newer than %s", k.Name, e.Name)
				}
			}
		})
	}
}

func TestApplyRetentionIgnoresNameOrder(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	input := []Artifact{
		{Name: "odoo_2099-01-01_00-00-00.dump", CreatedAt: base},
		{Name: "odoo_2000-01-01_00-00-00.dump", CreatedAt: base.Add(time.Hour)},
	}

	kept, evicted := ApplyRetention(input, RetentionPolicy{MaxLocalArtifacts: 1})
	require.Len(t, kept, 1)
	require.Len(t, evicted, 1)
	assert.Equal(t, "odoo_2000-01-01_00-00-00.dump", kept[0].Name)
	assert.Equal(t, "odoo_2099-01-01_00-00-00.dump", input[0].Name, "input must not be reordered")
}

func TestSortForDisplay(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	list := []Artifact{
		{Name: "a.zip", Kind: ArtifactArchive, CreatedAt: base.Add(3 * time.Hour)},
		{Name: "b.dump", Kind: ArtifactDump, CreatedAt: base},
		{Name: "c.dump", Kind: ArtifactDump, CreatedAt: base.Add(time.Hour)},
	}

	SortForDisplay(list)
	assert.Equal(t, []string{"c.dump", "b.dump", "a.zip"}, []string{list[0].Name, list[1].Name, list[2].Name})
}

func TestSyncSummary(t *testing.T) {
	var s SyncSummary
	s.Add(SyncResult{Key: "a.dump", Outcome: SyncDownloaded})
	s.Add(SyncResult{Key: "b.dump", Outcome: SyncSkipped})
	assert.False(t, s.Partial())
	assert.NoError(t, s.Err())

	s.Add(SyncResult{Key: "c.zip", Outcome: SyncFailed, Reason: "boom"})
	assert.True(t, s.Partial())
	assert.ErrorIs(t, s.Err(), ErrRemoteSyncPartial)
	assert.Equal(t, 1, s.Downloaded)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 1, s.Failed)
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	var err error = fmt.Errorf("wrap: %w", &UpstreamError{Op: "backup", StatusCode: 500, Detail: "Access Denied"})
	assert.ErrorIs(t, err, ErrUpstreamRejected)
	assert.Contains(t, err.Error(), "Access Denied")

	var upstreamErr *UpstreamError
	require.True(t, errors.As(err, &upstreamErr))
	assert.Equal(t, 500, upstreamErr.StatusCode)

	err = &RestoreToolError{Tool: "pg_restore", ExitCode: 1, Stderr: "database exists"}
	assert.ErrorIs(t, err, ErrRestoreToolFailed)
	assert.Contains(t, err.Error(), RestoreHint)
}

func TestScheduleSpec(t *testing.T) {
	spec := ScheduleSpec{TimeOfDay: "00:00", Timezone: "Asia/Ho_Chi_Minh"}
	expr, err := spec.CronExpression()
	require.NoError(t, err)
	assert.Equal(t, "CRON_TZ=Asia/Ho_Chi_Minh 0 0 * * *", expr)

	expr, err = ScheduleSpec{TimeOfDay: "17:30"}.CronExpression()
	require.NoError(t, err)
	assert.Equal(t, "CRON_TZ=UTC 30 17 * * *", expr)

	for _, bad := range []ScheduleSpec{
		{TimeOfDay: "24:00"},
		{TimeOfDay: "12"},
		{TimeOfDay: "aa:bb"},
		{TimeOfDay: "10:00", Timezone: "Mars/Olympus"},
	} {
		_, err := bad.CronExpression()
		assert.ErrorIs(t, err, ErrInvalidSchedule, bad.String())
	}
}

func TestParseTopology(t *testing.T) {
	top, err := ParseTopology("Docker")
	require.NoError(t, err)
	assert.Equal(t, TopologyContainerized, top)

	top, err = ParseTopology("host")
	require.NoError(t, err)
	assert.Equal(t, TopologyHostInstalled, top)

	_, err = ParseTopology("k8s")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRestoreOutcomeTrail(t *testing.T) {
	var o RestoreOutcome
	o.Enter(RestoreStart)
	o.Enter(RestoreDone)
	assert.True(t, o.Visited(RestoreStart))
	assert.False(t, o.Visited(RestoreDropRequested))
	assert.True(t, o.Succeeded())
}
