package acceptor

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/dbforge/compute-acceptor/flags"
)

func TestParseVersions(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []int
		wantErr bool
	}{
		{"empty means no restriction", "", nil, false},
		{"single version", "16", []int{16}, false},
		{"space separated", "14 15", []int{14, 15}, false},
		{"comma separated", "16,17", []int{16, 17}, false},
		{"mixed separators", "14, 15 16", []int{14, 15, 16}, false},
		{"garbage", "fourteen", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVersions(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// runWithArgs runs the CLI flag parsing and captures the resulting Config.
func runWithArgs(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	var cfg *Config
	var cfgErr error
	app := cli.NewApp()
	app.Flags = flags.Flags
	app.Action = func(ctx *cli.Context) error {
		cfg, cfgErr = NewConfig(ctx, log)
		return nil
	}
	require.NoError(t, app.Run(append([]string{"compute-acceptor"}, args...)))
	return cfg, cfgErr
}

func TestNewConfigDefaults(t *testing.T) {
	cfg, err := runWithArgs(t)
	require.NoError(t, err)

	assert.Equal(t, "test-extensions", cfg.Profile)
	assert.Equal(t, "docker", cfg.DockerBinary)
	assert.True(t, cfg.RunOnce)
	assert.Nil(t, cfg.Versions)
	assert.Empty(t, cfg.DatabaseURI)
	// paths are resolved to absolute
	assert.True(t, cfg.ComposeFile != "" && cfg.ComposeFile[0] == '/')
	assert.True(t, cfg.OutputDir != "" && cfg.OutputDir[0] == '/')
}

func TestNewConfigVersionRestrictionAndIntervals(t *testing.T) {
	cfg, err := runWithArgs(t,
		"--versions", "16 17",
		"--run-interval", "30m",
		"--readiness-timeout", "90s",
	)
	require.NoError(t, err)

	assert.Equal(t, []int{16, 17}, cfg.Versions)
	assert.False(t, cfg.RunOnce)
	assert.Equal(t, 30*time.Minute, cfg.RunInterval)
	assert.Equal(t, 90*time.Second, cfg.ReadinessTimeout)
}

func TestNewConfigRejectsBadVersions(t *testing.T) {
	_, err := runWithArgs(t, "--versions", "latest")
	require.Error(t, err)
}
