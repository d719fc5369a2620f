package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, title+": "+message)
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

func TestTriggerRunsJob(t *testing.T) {
	ran := false
	runner := NewRunner(nil, Job{
		Name:     "dispatch",
		Interval: time.Hour,
		Run: func(ctx context.Context) (string, error) {
			ran = true
			return "", nil
		},
	})

	require.NoError(t, runner.Trigger(context.Background(), "dispatch"))
	assert.True(t, ran)
}

func TestTriggerUnknownJob(t *testing.T) {
	runner := NewRunner(nil)
	err := runner.Trigger(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestJobFailureNotifies(t *testing.T) {
	notifier := &recordingNotifier{}
	runner := NewRunner(notifier, Job{
		Name:     "reconcile",
		Interval: time.Hour,
		Run: func(ctx context.Context) (string, error) {
			return "", errors.New("venue unreachable")
		},
	})

	require.NoError(t, runner.Trigger(context.Background(), "reconcile"))

	messages := notifier.all()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "reconcile failed")
	assert.Contains(t, messages[0], "venue unreachable")
}

func TestEmptySummarySuppressesNotification(t *testing.T) {
	notifier := &recordingNotifier{}
	runner := NewRunner(notifier, Job{
		Name:     "sync",
		Interval: time.Hour,
		Run: func(ctx context.Context) (string, error) {
			return "", nil
		},
	})

	require.NoError(t, runner.Trigger(context.Background(), "sync"))
	assert.Empty(t, notifier.all())
}

func TestSummaryNotifies(t *testing.T) {
	notifier := &recordingNotifier{}
	runner := NewRunner(notifier, Job{
		Name:     "dispatch",
		Interval: time.Hour,
		Run: func(ctx context.Context) (string, error) {
			return "3 orders dispatched", nil
		},
	})

	require.NoError(t, runner.Trigger(context.Background(), "dispatch"))

	messages := notifier.all()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "3 orders dispatched")
}

func TestJobPanicIsContained(t *testing.T) {
	notifier := &recordingNotifier{}
	runner := NewRunner(notifier, Job{
		Name:     "flaky",
		Interval: time.Hour,
		Run: func(ctx context.Context) (string, error) {
			panic("boom")
		},
	})

	require.NoError(t, runner.Trigger(context.Background(), "flaky"))

	messages := notifier.all()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "flaky failed")
}

func TestStartStopsOnCancel(t *testing.T) {
	var mu sync.Mutex
	runs := 0
	runner := NewRunner(nil, Job{
		Name:     "tick",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) (string, error) {
			mu.Lock()
			runs++
			mu.Unlock()
			return "", nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Start(ctx)
		close(done)
	}()

	time.Sleep(60 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after cancellation")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, runs, 0)
}
