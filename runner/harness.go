package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/acarl005/stripansi"
	"github.com/sourcegraph/conc/pool"

	"github.com/dbforge/compute-acceptor/compose"
)

// CaptureFileName is the local file holding the combined harness output.
const CaptureFileName = "testout.txt"

// diagnosticFiles are collected per failed suite, best-effort.
var diagnosticFiles = []string{"regression.diffs", "regression.out"}

// maxDiagnosticCopies bounds the concurrent per-suite artifact copies.
const maxDiagnosticCopies = 4

// SuiteFailureError reports extension suites the harness flagged as failed.
type SuiteFailureError struct {
	Version int
	Suites  []string
}

func (e *SuiteFailureError) Error() string {
	if len(e.Suites) == 0 {
		return fmt.Sprintf("version %d: harness exited non-zero without reporting suites", e.Version)
	}
	return fmt.Sprintf("version %d: failed suites: %s", e.Version, strings.Join(e.Suites, " "))
}

// IsSuiteFailure checks if the error is or wraps a SuiteFailureError.
func IsSuiteFailure(err error) bool {
	var suiteErr *SuiteFailureError
	return err != nil && errors.As(err, &suiteErr)
}

// runHarness executes the regression harness in the test container with the
// suite denylist exported, capturing combined output to both the configured
// writer and a local file. A non-zero harness exit is classified through
// the harness convention: the last non-empty output line lists the failed
// suites, whitespace-delimited.
func (r *runner) runHarness(ctx context.Context, version int) ([]string, error) {
	m := r.matrix

	capturePath := filepath.Join(r.outDir, CaptureFileName)
	capture, err := os.Create(capturePath)
	if err != nil {
		return nil, fmt.Errorf("creating capture file: %w", err)
	}
	defer capture.Close()

	env := map[string]string{}
	if len(m.SkipSuites) > 0 {
		env["SKIP"] = strings.Join(m.SkipSuites, ",")
	}

	r.log.Info("running extension harness",
		"service", m.TestService, "path", m.HarnessPath, "skip", env["SKIP"])
	execErr := r.compose.Exec(ctx, m.TestService, env, io.MultiWriter(r.out, capture), m.HarnessPath)
	if execErr == nil {
		return nil, nil
	}
	if _, ok := compose.ExitCode(execErr); !ok {
		return nil, fmt.Errorf("invoking harness: %w", execErr)
	}

	output, err := os.ReadFile(capturePath)
	if err != nil {
		return nil, fmt.Errorf("reading harness output after failure: %w", err)
	}
	suites := ParseFailedSuites(string(output))
	r.log.Error("harness reported failures", "version", version, "suites", suites)

	r.collectDiagnostics(ctx, suites)
	return suites, &SuiteFailureError{Version: version, Suites: suites}
}

// ParseFailedSuites extracts the failed suite names from captured harness
// output: the last non-empty line, whitespace-delimited, with any ANSI
// escapes stripped. This convention is the harness's only failure report.
func ParseFailedSuites(output string) []string {
	lines := strings.Split(stripansi.Strip(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" {
			return strings.Fields(line)
		}
	}
	return nil
}

// collectDiagnostics copies the regression artifacts of each failed suite
// into a local directory named after the suite, then prints whatever was
// copied. Copies are best-effort: each failure is logged, never escalated,
// and the suite directory exists even when both copies fail.
func (r *runner) collectDiagnostics(ctx context.Context, suites []string) {
	p := pool.New().WithMaxGoroutines(maxDiagnosticCopies)
	for _, suite := range suites {
		suite := suite
		p.Go(func() {
			dir := filepath.Join(r.outDir, suite)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				r.log.Warn("could not create diagnostics directory", "suite", suite, "error", err)
				return
			}
			for _, name := range diagnosticFiles {
				src := path.Join(r.matrix.ExtensionsRoot, suite, name)
				if err := r.compose.CopyFrom(ctx, r.matrix.TestService, src, dir); err != nil {
					r.log.Warn("diagnostic copy failed",
						"suite", suite, "file", name, "error", err)
				}
			}
		})
	}
	p.Wait()

	for _, suite := range suites {
		for _, name := range diagnosticFiles {
			local := filepath.Join(r.outDir, suite, name)
			content, err := os.ReadFile(local)
			if err != nil {
				continue
			}
			r.log.Info("diagnostics", "suite", suite, "file", name)
			_, _ = r.out.Write(content)
		}
	}
}
