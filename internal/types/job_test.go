package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestJobStatusPredicates(t *testing.T) {
	tests := []struct {
		status   string
		active   bool
		terminal bool
	}{
		{JobStatusQueued, true, false},
		{JobStatusRunning, true, false},
		{JobStatusWaiting, true, false},
		{JobStatusSucceeded, false, true},
		{JobStatusFailed, false, true},
		{JobStatusCancelled, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.active, IsActiveJobStatus(tt.status))
			assert.Equal(t, tt.terminal, IsTerminalJobStatus(tt.status))
		})
	}
}

func TestJob_LockHeld(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	lease := 300 * time.Second

	t.Run("no lock", func(t *testing.T) {
		j := &Job{}
		assert.False(t, j.LockHeld(now, lease))
	})

	t.Run("fresh lock", func(t *testing.T) {
		at := now.Add(-10 * time.Second)
		j := &Job{LockedBy: strPtr("cron:a"), LockedAt: &at}
		assert.True(t, j.LockHeld(now, lease))
	})

	t.Run("expired lock", func(t *testing.T) {
		at := now.Add(-301 * time.Second)
		j := &Job{LockedBy: strPtr("cron:a"), LockedAt: &at}
		assert.False(t, j.LockHeld(now, lease))
	})

	t.Run("owner without timestamp", func(t *testing.T) {
		j := &Job{LockedBy: strPtr("cron:a")}
		assert.False(t, j.LockHeld(now, lease))
	})
}

func TestJob_IsDue(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	assert.True(t, (&Job{Status: JobStatusQueued, NextAttemptAt: now}).IsDue(now))
	assert.True(t, (&Job{Status: JobStatusWaiting, NextAttemptAt: now.Add(-time.Second)}).IsDue(now))
	assert.False(t, (&Job{Status: JobStatusWaiting, NextAttemptAt: now.Add(time.Second)}).IsDue(now))
	assert.False(t, (&Job{Status: JobStatusRunning, NextAttemptAt: now}).IsDue(now))
	assert.False(t, (&Job{Status: JobStatusSucceeded, NextAttemptAt: now}).IsDue(now))
}

func TestJob_Claimable(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	lease := time.Minute
	stale := now.Add(-2 * time.Minute)
	fresh := now.Add(-time.Second)

	tests := []struct {
		name string
		job  Job
		want bool
	}{
		{"queued and due", Job{Status: JobStatusQueued, NextAttemptAt: now}, true},
		{"waiting not yet due", Job{Status: JobStatusWaiting, NextAttemptAt: now.Add(time.Second)}, false},
		{"running with stale lease", Job{Status: JobStatusRunning, LockedBy: strPtr("a"), LockedAt: &stale}, true},
		{"running with live lease", Job{Status: JobStatusRunning, LockedBy: strPtr("a"), LockedAt: &fresh}, false},
		{"succeeded", Job{Status: JobStatusSucceeded}, false},
		{"cancelled", Job{Status: JobStatusCancelled}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.job.Claimable(now, lease))
		})
	}
}
