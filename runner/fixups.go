package runner

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
)

// applyFixups prepares the containers for suites that need it:
//
//  1. creates the empty override file in the compute container, which
//     suppresses a log line the hint-plan suite would otherwise flag as a
//     false failure. The file's directory only exists after the compute
//     process has started, so this must run after readiness;
//  2. copies the fixture suite's data directory from the test container
//     into the compute container. The runtime cannot copy directly between
//     containers, so the copy stages through a local temp directory.
func (r *runner) applyFixups(ctx context.Context) error {
	m := r.matrix

	r.log.Info("creating override file", "service", m.ComputeService, "path", m.OverrideFile)
	if err := r.compose.Exec(ctx, m.ComputeService, nil, r.out, "touch", m.OverrideFile); err != nil {
		return fmt.Errorf("creating override file: %w", err)
	}

	staging, err := os.MkdirTemp("", "compute-acceptor-fixtures-")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			r.log.Warn("could not remove staging directory", "path", staging, "error", err)
		}
	}()

	src := path.Join(m.ExtensionsRoot, m.FixtureSuite, "data")
	dst := path.Join(m.ExtensionsRoot, m.FixtureSuite) + "/"
	local := filepath.Join(staging, "data")

	r.log.Info("copying suite fixtures",
		"suite", m.FixtureSuite, "from", m.TestService, "to", m.ComputeService)
	if err := r.compose.CopyFrom(ctx, m.TestService, src, local); err != nil {
		return fmt.Errorf("copying fixtures out of %s: %w", m.TestService, err)
	}
	if err := r.compose.CopyTo(ctx, local, m.ComputeService, dst); err != nil {
		return fmt.Errorf("copying fixtures into %s: %w", m.ComputeService, err)
	}
	return nil
}
