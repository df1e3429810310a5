package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusManualReview))
	assert.True(t, CanTransition(StatusPending, StatusCompleted))
	assert.True(t, CanTransition(StatusPending, StatusRejected))
	assert.True(t, CanTransition(StatusPending, StatusExpired))
	assert.True(t, CanTransition(StatusManualReview, StatusCompleted))
	assert.True(t, CanTransition(StatusManualReview, StatusRejected))
	assert.True(t, CanTransition(StatusManualReview, StatusExpired))

	// Terminal states admit nothing.
	for _, terminal := range []Status{StatusCompleted, StatusRejected, StatusExpired} {
		for _, next := range []Status{StatusPending, StatusManualReview, StatusCompleted, StatusRejected, StatusExpired} {
			assert.False(t, CanTransition(terminal, next), "%s -> %s", terminal, next)
		}
	}

	// No going back from manual review.
	assert.False(t, CanTransition(StatusManualReview, StatusPending))
	assert.False(t, CanTransition(Status("bogus"), StatusCompleted))
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusManualReview.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusRejected.Terminal())
	assert.True(t, StatusExpired.Terminal())
	assert.False(t, Status("bogus").Terminal())
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, StatusManualReview, ParseStatus("  PENDING_MANUAL_REVIEW "))
	assert.True(t, ParseStatus("completed").Valid())
	assert.False(t, ParseStatus("unknown").Valid())
}
