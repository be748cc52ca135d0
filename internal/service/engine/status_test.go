package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
	"github.com/vladislavdragonenkov/ordertx/internal/storage/memory"
)

type UpdateStatusSuite struct {
	suite.Suite
	f       *fixture
	orderID string
}

func (s *UpdateStatusSuite) SetupTest() {
	s.f = newFixture(s.T(), nil)
	s.orderID = s.f.createOrder(s.T(), item(keyboardID, 3), item(mouseID, 2)).OrderID
}

func (s *UpdateStatusSuite) update(target domain.OrderStatus) error {
	_, err := s.f.engine.UpdateStatus(context.Background(), s.orderID, target)
	return err
}

func (s *UpdateStatusSuite) lastEvent() domain.OrderEvent {
	pending := s.f.store.Outbox().AllPending()
	s.Require().NotEmpty(pending)

	var event domain.OrderEvent
	s.Require().NoError(json.Unmarshal(pending[len(pending)-1].Payload, &event))
	return event
}

func (s *UpdateStatusSuite) TestCompleteKeepsStock() {
	change, err := s.f.engine.UpdateStatus(context.Background(), s.orderID, domain.OrderStatusCompleted)
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusPending, change.From)
	s.Require().Equal(domain.OrderStatusCompleted, change.To)
	s.Require().False(change.StockRestored)

	order, _ := s.f.store.Order(s.orderID)
	s.Require().Equal(domain.OrderStatusCompleted, order.Status)
	s.Require().Equal(int64(7), s.f.stock(s.T(), keyboardID))

	event := s.lastEvent()
	s.Require().Equal(domain.EventTypeOrderStatusChanged, event.EventType)
	s.Require().Equal(domain.OrderStatusPending, event.PreviousStatus)
	s.Require().Equal(domain.OrderStatusCompleted, event.Status)

	s.Require().Equal(1.0, metricValue(s.T(), s.f.registry, "ordertx_order_status_changes_total", map[string]string{"to": "completed"}))
}

func (s *UpdateStatusSuite) TestCancelRestoresStock() {
	change, err := s.f.engine.UpdateStatus(context.Background(), s.orderID, domain.OrderStatusCancelled)
	s.Require().NoError(err)
	s.Require().True(change.StockRestored)

	s.Require().Equal(int64(10), s.f.stock(s.T(), keyboardID))
	s.Require().Equal(int64(3), s.f.stock(s.T(), mouseID))

	event := s.lastEvent()
	s.Require().Equal(domain.EventTypeOrderCancelled, event.EventType)
	s.Require().True(event.StockRestored)

	s.Require().Equal(5.0, metricValue(s.T(), s.f.registry, "ordertx_stock_restored_units_total", nil))
}

func (s *UpdateStatusSuite) TestDoubleCancelRestoresOnce() {
	s.Require().NoError(s.update(domain.OrderStatusCancelled))

	err := s.update(domain.OrderStatusCancelled)
	s.Require().ErrorIs(err, domain.ErrOrderFinalized)
	s.Require().ErrorIs(err, domain.ErrOrderNotFound)
	s.Require().Equal(domain.KindOrderFinalized, domain.KindOf(err))

	var transition *domain.TransitionError
	s.Require().True(errors.As(err, &transition))
	s.Require().Equal(domain.OrderStatusCancelled, transition.From)

	s.Require().Equal(int64(10), s.f.stock(s.T(), keyboardID))
	s.Require().Equal(int64(3), s.f.stock(s.T(), mouseID))
	s.Require().Len(s.f.store.Outbox().AllPending(), 2)
}

func (s *UpdateStatusSuite) TestFinalStatusesAreTerminal() {
	s.Require().NoError(s.update(domain.OrderStatusCompleted))

	for _, target := range []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusCancelled, domain.OrderStatusCompleted} {
		err := s.update(target)
		s.Require().ErrorIs(err, domain.ErrOrderFinalized, "target %s", target)
	}
	s.Require().Equal(int64(7), s.f.stock(s.T(), keyboardID))
}

func (s *UpdateStatusSuite) TestPendingToPendingIsNoop() {
	before := len(s.f.store.Outbox().AllPending())

	change, err := s.f.engine.UpdateStatus(context.Background(), s.orderID, domain.OrderStatusPending)
	s.Require().NoError(err)
	s.Require().Equal(change.From, change.To)
	s.Require().Len(s.f.store.Outbox().AllPending(), before)
	s.Require().Equal(0.0, metricValue(s.T(), s.f.registry, "ordertx_order_status_changes_total", map[string]string{"to": "pending"}))
}

func (s *UpdateStatusSuite) TestInvalidInput() {
	_, err := s.f.engine.UpdateStatus(context.Background(), s.orderID, domain.OrderStatus("shipped"))
	s.Require().ErrorIs(err, domain.ErrInvalidRequest)

	_, err = s.f.engine.UpdateStatus(context.Background(), "  ", domain.OrderStatusCompleted)
	s.Require().ErrorIs(err, domain.ErrInvalidRequest)
}

func (s *UpdateStatusSuite) TestUnknownOrder() {
	_, err := s.f.engine.UpdateStatus(context.Background(), "missing", domain.OrderStatusCompleted)
	s.Require().ErrorIs(err, domain.ErrOrderNotFound)
	s.Require().Equal(domain.KindOrderNotFound, domain.KindOf(err))
}

func TestUpdateStatusSuite(t *testing.T) {
	suite.Run(t, new(UpdateStatusSuite))
}

func TestUpdateStatus_CancelFailureKeepsPending(t *testing.T) {
	faulty := &faultyTransactor{}
	f := newFixture(t, func(store *memory.Store) domain.Transactor {
		faulty.inner = store
		return faulty
	})
	orderID := f.createOrder(t, item(keyboardID, 4)).OrderID

	faulty.failIncrement = errors.New("lock timeout")
	_, err := f.engine.UpdateStatus(context.Background(), orderID, domain.OrderStatusCancelled)
	require.ErrorIs(t, err, domain.ErrTransientStoreFailure)

	order, ok := f.store.Order(orderID)
	require.True(t, ok)
	require.Equal(t, domain.OrderStatusPending, order.Status)
	require.Equal(t, int64(6), f.stock(t, keyboardID))
	require.Len(t, f.store.Outbox().AllPending(), 1)
}

func TestUpdateStatus_MissingProductOnCancelIsInvariantViolation(t *testing.T) {
	f := newFixture(t, nil)
	orderID := f.createOrder(t, item(keyboardID, 1)).OrderID

	// Товар исчез из справочника в обход движка.
	f.store.RemoveProduct(keyboardID)

	_, err := f.engine.UpdateStatus(context.Background(), orderID, domain.OrderStatusCancelled)
	require.ErrorIs(t, err, domain.ErrInvariantViolation)
	require.Equal(t, domain.KindInvariantViolation, domain.KindOf(err))

	order, _ := f.store.Order(orderID)
	require.Equal(t, domain.OrderStatusPending, order.Status)
	require.Equal(t, 1.0, metricValue(t, f.registry, "ordertx_failures_total", map[string]string{
		"operation": "update_status",
		"kind":      string(domain.KindInvariantViolation),
	}))
}

func TestUpdateStatus_CancelRestoresStockInProductIDOrder(t *testing.T) {
	faulty := &faultyTransactor{}
	f := newFixture(t, func(store *memory.Store) domain.Transactor {
		faulty.inner = store
		return faulty
	})
	orderID := f.createOrder(t, item(mouseID, 2), item(keyboardID, 2)).OrderID

	_, err := f.engine.UpdateStatus(context.Background(), orderID, domain.OrderStatusCancelled)
	require.NoError(t, err)
	require.Equal(t, []string{keyboardID, mouseID}, faulty.incremented)
	require.Equal(t, int64(3), f.stock(t, mouseID))
}
