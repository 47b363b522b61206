package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForReadinessSucceeds(t *testing.T) {
	reg := newTestMatrix(t, 14)
	fake := &fakeCompose{logsScript: func(call int) string {
		if call < 2 {
			return "PostgreSQL init process in progress"
		}
		return "database system is ready: accepting connections"
	}}
	r, _ := newTestRunner(t, reg, fake)

	wait, err := r.waitForReadiness(context.Background(), time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Greater(t, wait, time.Duration(0))
	assert.Equal(t, 3, fake.logsCalls)
}

func TestWaitForReadinessDeadline(t *testing.T) {
	reg := newTestMatrix(t, 14)
	fake := &fakeCompose{logsScript: func(int) string { return "starting" }}
	r, _ := newTestRunner(t, reg, fake)

	_, err := r.waitForReadiness(context.Background(), time.Now().Add(5*time.Millisecond))
	require.Error(t, err)
	assert.True(t, IsReadinessTimeout(err))

	var timeoutErr *ReadinessTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, reg.Matrix().ComputeService, timeoutErr.Service)
}

func TestWaitForReadinessContextCanceled(t *testing.T) {
	reg := newTestMatrix(t, 14)
	fake := &fakeCompose{}
	r, _ := newTestRunner(t, reg, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.waitForReadiness(ctx, time.Now().Add(time.Second))
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsReadinessTimeout(err))
}
