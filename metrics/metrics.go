package metrics

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dbforge/compute-acceptor/types"
)

const (
	MetricsNamespace = "compute_acceptor"
)

var (
	Debug bool = true

	nonAlphanumericRegex = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_total",
		Help:      "Count of matrix runs by result",
	}, []string{
		"result",
	})

	versionResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "version_results",
		Help:      "Result of the latest cycle per major version",
	}, []string{
		"version",
		"run_id",
		"result",
	})

	versionDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "version_duration_seconds",
		Help:      "Duration of the latest cycle per major version",
	}, []string{
		"version",
		"run_id",
	})

	readinessWait = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "readiness_wait_seconds",
		Help:      "Time until the compute reported readiness",
	}, []string{
		"version",
		"run_id",
	})

	suiteFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "suite_failures_total",
		Help:      "Count of failed extension suites",
	}, []string{
		"version",
		"suite",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		slog.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordRun(status types.Status) {
	runsTotal.WithLabelValues(string(status)).Inc()
}

func RecordVersionResult(runID string, v *types.VersionResult) {
	version := strconv.Itoa(v.Version)
	if Debug {
		slog.Debug("metric set",
			"m", "version_results",
			"version", version,
			"run_id", runID,
			"result", v.Status,
		)
	}
	versionResults.WithLabelValues(version, runID, string(v.Status)).Set(1)
	versionDuration.WithLabelValues(version, runID).Set(v.Duration.Seconds())
	if v.ReadyAfter > 0 {
		readinessWait.WithLabelValues(version, runID).Set(v.ReadyAfter.Seconds())
	}
	for _, suite := range v.FailedSuites {
		suiteFailuresTotal.WithLabelValues(version, suite).Inc()
	}
}

// RecordReadinessWait records how long a version's compute took to become
// ready, independent of the final cycle outcome.
func RecordReadinessWait(runID string, version int, wait time.Duration) {
	readinessWait.WithLabelValues(strconv.Itoa(version), runID).Set(wait.Seconds())
}
