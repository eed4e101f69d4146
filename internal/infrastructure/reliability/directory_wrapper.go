package reliability

import (
	"context"
	"errors"

	"parley/internal/core/domain"
	"parley/internal/core/ports"
	"parley/pkg/circuitbreaker"
	"parley/pkg/retry"

	"go.uber.org/zap"
)

// DirectoryWrapper wraps a ConversationDirectory with retry logic and a
// circuit breaker. Typing and message fan-out hit the directory on every
// event, so a struggling Redis should fail fast rather than pile up
// blocked readers.
type DirectoryWrapper struct {
	directory ports.ConversationDirectory
	logger    *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
}

// NewDirectoryWrapper creates a new wrapper with retry and circuit breaker
func NewDirectoryWrapper(
	directory ports.ConversationDirectory,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *DirectoryWrapper {
	// A missing conversation is an answer, not an outage.
	retryConfig.NonRetryableErrors = append(retryConfig.NonRetryableErrors, domain.ErrConversationNotFound)

	wrapper := &DirectoryWrapper{
		directory:      directory,
		logger:         logger,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
	}

	wrapper.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("directory circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return wrapper
}

var _ ports.ConversationDirectory = (*DirectoryWrapper)(nil)

// Members resolves conversation membership with retry logic
func (w *DirectoryWrapper) Members(ctx context.Context, id domain.ConversationID) ([]domain.UserID, error) {
	if !w.retryConfig.Enabled {
		return w.directory.Members(ctx, id)
	}

	var members []domain.UserID
	var notFound bool

	err := retry.Retry(ctx, w.retryConfig, func() error {
		return w.circuitBreaker.Execute(ctx, func() error {
			var err error
			members, err = w.directory.Members(ctx, id)
			if errors.Is(err, domain.ErrConversationNotFound) {
				notFound = true
				return nil
			}
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	if notFound {
		return nil, domain.ErrConversationNotFound
	}
	return members, nil
}

// GetCircuitBreakerStats returns circuit breaker statistics
func (w *DirectoryWrapper) GetCircuitBreakerStats() circuitbreaker.Stats {
	return w.circuitBreaker.GetStats()
}
