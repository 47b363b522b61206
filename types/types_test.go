package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddVersionUpdatesStats(t *testing.T) {
	r := &RunResult{RunID: "run-1"}
	r.AddVersion(&VersionResult{Version: 14, Status: StatusPass})
	r.AddVersion(&VersionResult{Version: 15, Status: StatusPass})
	r.AddVersion(&VersionResult{Version: 16, Status: StatusFail, FailedSuites: []string{"pg_hint_plan-src"}})

	assert.Equal(t, 3, r.Stats.Total)
	assert.Equal(t, 2, r.Stats.Passed)
	assert.Equal(t, 1, r.Stats.Failed)
	assert.Equal(t, 0, r.Stats.Skipped)
}

func TestDetermineRunStatus(t *testing.T) {
	tests := []struct {
		name     string
		versions []*VersionResult
		want     Status
	}{
		{
			name: "all passing",
			versions: []*VersionResult{
				{Version: 14, Status: StatusPass},
				{Version: 15, Status: StatusPass},
			},
			want: StatusPass,
		},
		{
			name: "one failed",
			versions: []*VersionResult{
				{Version: 14, Status: StatusPass},
				{Version: 16, Status: StatusFail},
			},
			want: StatusFail,
		},
		{
			name: "timeout counts as failure",
			versions: []*VersionResult{
				{Version: 14, Status: StatusTimeout, Err: errors.New("compute not ready")},
			},
			want: StatusFail,
		},
		{
			name:     "no versions",
			versions: nil,
			want:     StatusError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &RunResult{}
			for _, v := range tt.versions {
				r.AddVersion(v)
			}
			assert.Equal(t, tt.want, DetermineRunStatus(r))
		})
	}
}

func TestVersionResultFailed(t *testing.T) {
	require.False(t, (&VersionResult{Status: StatusPass}).Failed())
	require.False(t, (&VersionResult{Status: StatusSkip}).Failed())
	require.True(t, (&VersionResult{Status: StatusFail}).Failed())
	require.True(t, (&VersionResult{Status: StatusTimeout}).Failed())
	require.True(t, (&VersionResult{Status: StatusError}).Failed())
}

func TestRunResultString(t *testing.T) {
	r := &RunResult{RunID: "abc", Status: StatusPass, Duration: 90 * time.Second}
	r.AddVersion(&VersionResult{Version: 14, Status: StatusPass})
	s := r.String()
	assert.Contains(t, s, "run abc")
	assert.Contains(t, s, "1 passed")
	assert.NotContains(t, s, "skipped")
}
