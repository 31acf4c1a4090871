package download

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusString(t *testing.T) {
	assert.Equal(t, "pending", StatusPending.String())
	assert.Equal(t, "downloading", StatusDownloading.String())
	assert.Equal(t, "paused", StatusPaused.String())
	assert.Equal(t, "completed", StatusCompleted.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "cancelled", StatusCancelled.String())
	assert.Equal(t, "unknown", Status(99).String())
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		assert.True(t, s.Terminal(), s.String())
	}
	for _, s := range []Status{StatusPending, StatusDownloading, StatusPaused} {
		assert.False(t, s.Terminal(), s.String())
	}
}

func TestStatusTransitions(t *testing.T) {
	testCases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusDownloading, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusPaused, false},
		{StatusDownloading, StatusPaused, true},
		{StatusDownloading, StatusCompleted, true},
		{StatusDownloading, StatusFailed, true},
		{StatusDownloading, StatusCancelled, true},
		{StatusDownloading, StatusPending, false},
		{StatusPaused, StatusPending, true},
		{StatusPaused, StatusCancelled, true},
		{StatusPaused, StatusDownloading, false},
		{StatusCompleted, StatusPending, false},
		{StatusFailed, StatusPending, false},
		{StatusCancelled, StatusDownloading, false},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.ok, tc.from.canTransition(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}
