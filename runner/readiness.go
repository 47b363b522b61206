package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ReadinessTimeoutError reports that the readiness marker never appeared in
// the compute service's logs before the deadline.
type ReadinessTimeoutError struct {
	Service string
	Timeout time.Duration
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("service %s not ready after %s", e.Service, e.Timeout)
}

// IsReadinessTimeout checks if the error is or wraps a ReadinessTimeoutError.
func IsReadinessTimeout(err error) bool {
	var timeoutErr *ReadinessTimeoutError
	return err != nil && errors.As(err, &timeoutErr)
}

// waitForReadiness polls the compute service's logs for the readiness
// marker until it appears or the deadline passes. The deadline is explicit:
// there is no mutable elapsed counter. Log retrieval failures are tolerated
// and retried; only the deadline ends the wait. Returns the time spent
// waiting on success.
func (r *runner) waitForReadiness(ctx context.Context, deadline time.Time) (time.Duration, error) {
	service := r.matrix.ComputeService
	marker := r.matrix.ReadinessMarker
	interval := time.Duration(r.matrix.PollInterval)
	start := r.now()

	r.log.Info("waiting for compute readiness",
		"service", service, "marker", marker, "deadline", deadline.Sub(start))

	for {
		if err := r.sleep(ctx, interval); err != nil {
			return 0, err
		}
		if r.now().After(deadline) {
			return 0, &ReadinessTimeoutError{
				Service: service,
				Timeout: time.Duration(r.matrix.ReadinessTimeout),
			}
		}

		logs, err := r.compose.Logs(ctx, service)
		if err != nil {
			// Logs may not be retrievable while containers are still
			// starting; keep polling until the deadline decides.
			r.log.Warn("could not read service logs", "service", service, "error", err)
			continue
		}
		if strings.Contains(logs, marker) {
			return r.now().Sub(start), nil
		}
		r.log.Debug("readiness marker not seen yet", "service", service)
	}
}
