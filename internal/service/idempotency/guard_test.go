package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
	"github.com/vladislavdragonenkov/ordertx/internal/storage/memory"
)

func TestGuard_FirstRequestProceeds(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil)

	decision, err := guard.Begin(context.Background(), "key-1", []byte(`{"a":1}`))
	require.NoError(t, err)
	require.Equal(t, OutcomeProceed, decision.Outcome)
	require.Equal(t, RequestHash([]byte(`{"a":1}`)), decision.Record.RequestHash)
}

func TestGuard_ReplayAfterComplete(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil)
	payload := []byte(`{"a":1}`)

	_, err := guard.Begin(ctx, "key-1", payload)
	require.NoError(t, err)

	decision, err := guard.Begin(ctx, "key-1", payload)
	require.NoError(t, err)
	require.Equal(t, OutcomeInFlight, decision.Outcome)

	require.NoError(t, guard.Complete(ctx, "key-1", []byte(`{"order_id":"o-1"}`), 201))

	decision, err = guard.Begin(ctx, "key-1", payload)
	require.NoError(t, err)
	require.Equal(t, OutcomeReplay, decision.Outcome)
	require.Equal(t, 201, decision.Record.HTTPStatus)
	require.Equal(t, domain.IdempotencyStatusDone, decision.Record.Status)
	require.JSONEq(t, `{"order_id":"o-1"}`, string(decision.Record.ResponseBody))
}

func TestGuard_RejectedResponseIsReplayedAsFailed(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil)

	_, err := guard.Begin(ctx, "key-1", []byte(`x`))
	require.NoError(t, err)
	require.NoError(t, guard.Complete(ctx, "key-1", []byte(`{"error":{}}`), 409))

	decision, err := guard.Begin(ctx, "key-1", []byte(`x`))
	require.NoError(t, err)
	require.Equal(t, OutcomeReplay, decision.Outcome)
	require.Equal(t, domain.IdempotencyStatusFailed, decision.Record.Status)
}

func TestGuard_DifferentPayloadIsMismatch(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil)

	_, err := guard.Begin(ctx, "key-1", []byte(`{"a":1}`))
	require.NoError(t, err)

	decision, err := guard.Begin(ctx, "key-1", []byte(`{"a":2}`))
	require.NoError(t, err)
	require.Equal(t, OutcomeMismatch, decision.Outcome)
}

func TestGuard_ReleaseAllowsRetry(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil)

	_, err := guard.Begin(ctx, "key-1", []byte(`x`))
	require.NoError(t, err)
	guard.Release(ctx, "key-1")

	decision, err := guard.Begin(ctx, "key-1", []byte(`x`))
	require.NoError(t, err)
	require.Equal(t, OutcomeProceed, decision.Outcome)
}

func TestGuard_RepositoryErrorPropagates(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil)

	_, err := guard.Begin(context.Background(), "   ", []byte(`x`))
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrIdempotencyKeyRequired))
}

// ctxAwareRepository отказывает в записи на отменённом контексте, как postgres и redis.
type ctxAwareRepository struct {
	domain.IdempotencyRepository
}

func (r ctxAwareRepository) MarkDone(ctx context.Context, key string, body []byte, status int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.IdempotencyRepository.MarkDone(ctx, key, body, status)
}

func (r ctxAwareRepository) Release(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.IdempotencyRepository.Release(ctx, key)
}

func TestGuard_CompleteSurvivesCancelledRequest(t *testing.T) {
	guard := NewGuard(ctxAwareRepository{memory.NewIdempotencyRepository()}, time.Hour, nil)
	payload := []byte(`{"a":1}`)

	_, err := guard.Begin(context.Background(), "key-1", payload)
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, guard.Complete(cancelled, "key-1", []byte(`{"order_id":"o-1"}`), 201))

	decision, err := guard.Begin(context.Background(), "key-1", payload)
	require.NoError(t, err)
	require.Equal(t, OutcomeReplay, decision.Outcome)
	require.Equal(t, 201, decision.Record.HTTPStatus)
}

func TestGuard_ReleaseSurvivesCancelledRequest(t *testing.T) {
	guard := NewGuard(ctxAwareRepository{memory.NewIdempotencyRepository()}, time.Hour, nil)

	_, err := guard.Begin(context.Background(), "key-1", []byte(`x`))
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	guard.Release(cancelled, "key-1")

	decision, err := guard.Begin(context.Background(), "key-1", []byte(`x`))
	require.NoError(t, err)
	require.Equal(t, OutcomeProceed, decision.Outcome)
}
