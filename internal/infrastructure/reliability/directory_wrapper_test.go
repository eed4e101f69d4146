package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"parley/internal/core/domain"
	"parley/pkg/circuitbreaker"
	"parley/pkg/logger"
	"parley/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyDirectory struct {
	calls    int
	failures int
	members  []domain.UserID
	err      error
}

func (d *flakyDirectory) Members(ctx context.Context, id domain.ConversationID) ([]domain.UserID, error) {
	d.calls++
	if d.calls <= d.failures {
		return nil, errors.New("connection refused")
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.members, nil
}

func fastRetryConfig() retry.Config {
	return retry.Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDirectoryWrapper_RetriesTransientFailures(t *testing.T) {
	base := &flakyDirectory{failures: 2, members: []domain.UserID{"alice", "bob"}}
	wrapper := NewDirectoryWrapper(base, fastRetryConfig(), circuitbreaker.DefaultConfig(), logger.NewNop())

	members, err := wrapper.Members(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"alice", "bob"}, members)
	assert.Equal(t, 3, base.calls)
}

func TestDirectoryWrapper_DoesNotRetryNotFound(t *testing.T) {
	base := &flakyDirectory{err: domain.ErrConversationNotFound}
	wrapper := NewDirectoryWrapper(base, fastRetryConfig(), circuitbreaker.DefaultConfig(), logger.NewNop())

	_, err := wrapper.Members(context.Background(), "conv-missing")
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
	assert.Equal(t, 1, base.calls, "a definitive answer must not be retried")
}

func TestDirectoryWrapper_NotFoundDoesNotTripBreaker(t *testing.T) {
	base := &flakyDirectory{err: domain.ErrConversationNotFound}
	wrapper := NewDirectoryWrapper(base, fastRetryConfig(), circuitbreaker.DefaultConfig(), logger.NewNop())

	for i := 0; i < 20; i++ {
		_, err := wrapper.Members(context.Background(), "conv-missing")
		assert.ErrorIs(t, err, domain.ErrConversationNotFound)
	}

	stats := wrapper.GetCircuitBreakerStats()
	assert.Equal(t, circuitbreaker.StateClosed, stats.State)
}

func TestDirectoryWrapper_OpensBreakerAfterRepeatedOutage(t *testing.T) {
	base := &flakyDirectory{failures: 1000}
	cbConfig := circuitbreaker.Config{
		FailureThreshold:    3,
		SuccessThreshold:    1,
		Timeout:             time.Minute,
		MaxRequestsHalfOpen: 1,
	}
	wrapper := NewDirectoryWrapper(base, fastRetryConfig(), cbConfig, logger.NewNop())

	for i := 0; i < 5; i++ {
		_, err := wrapper.Members(context.Background(), "conv-1")
		assert.Error(t, err)
	}

	stats := wrapper.GetCircuitBreakerStats()
	assert.Equal(t, circuitbreaker.StateOpen, stats.State)

	// Once open, calls are rejected without reaching the directory.
	callsBefore := base.calls
	_, err := wrapper.Members(context.Background(), "conv-1")
	assert.Error(t, err)
	assert.Equal(t, callsBefore, base.calls)
}

func TestDirectoryWrapper_PassthroughWhenRetryDisabled(t *testing.T) {
	base := &flakyDirectory{members: []domain.UserID{"alice"}}
	wrapper := NewDirectoryWrapper(base, retry.Config{Enabled: false}, circuitbreaker.DefaultConfig(), logger.NewNop())

	members, err := wrapper.Members(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"alice"}, members)
	assert.Equal(t, 1, base.calls)
}
