// Package memorystore keeps engine state in process memory. Transactions are
// serialized and run against a private copy that replaces the live state only
// on success, so a failed transaction leaves nothing behind.
package memorystore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-creditlots/core"
)

type Store struct {
	mu    sync.Mutex
	state *state
}

type state struct {
	lots     map[string]core.CreditLot
	holds    map[string]core.Hold
	orders   map[string]core.PurchaseOrder
	payments map[string]core.PaymentConfirmation
}

func New() *Store {
	return &Store{state: &state{
		lots:     map[string]core.CreditLot{},
		holds:    map[string]core.Hold{},
		orders:   map[string]core.PurchaseOrder{},
		payments: map[string]core.PaymentConfirmation{},
	}}
}

// Store lets a *Store act as its own core.StoreProvider.
func (s *Store) Store() core.Store {
	return s
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx core.StoreTx) error) error {
	if fn == nil {
		return fmt.Errorf("memorystore: transaction function is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(ctx, &tx{state: working}); err != nil {
		return err
	}
	s.state = working
	return nil
}

func (s *Store) read(fn func(t *tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&tx{state: s.state})
}

func (s *Store) write(ctx context.Context, fn func(t *tx) error) error {
	return s.RunInTx(ctx, func(_ context.Context, t core.StoreTx) error {
		return fn(t.(*tx))
	})
}

func (s *Store) CreateLot(ctx context.Context, lot core.CreditLot) error {
	return s.write(ctx, func(t *tx) error { return t.CreateLot(ctx, lot) })
}

func (s *Store) GetLot(ctx context.Context, id string) (lot core.CreditLot, err error) {
	err = s.read(func(t *tx) error {
		lot, err = t.GetLot(ctx, id)
		return err
	})
	return lot, err
}

func (s *Store) ListLots(ctx context.Context, filter core.LotFilter) (lots []core.CreditLot, err error) {
	err = s.read(func(t *tx) error {
		lots, err = t.ListLots(ctx, filter)
		return err
	})
	return lots, err
}

func (s *Store) SwapLot(ctx context.Context, next core.CreditLot, expectedVersion int64) error {
	return s.write(ctx, func(t *tx) error { return t.SwapLot(ctx, next, expectedVersion) })
}

func (s *Store) CreateHold(ctx context.Context, hold core.Hold) error {
	return s.write(ctx, func(t *tx) error { return t.CreateHold(ctx, hold) })
}

func (s *Store) GetHold(ctx context.Context, id string) (hold core.Hold, err error) {
	err = s.read(func(t *tx) error {
		hold, err = t.GetHold(ctx, id)
		return err
	})
	return hold, err
}

func (s *Store) ListHolds(ctx context.Context, filter core.HoldFilter) (holds []core.Hold, err error) {
	err = s.read(func(t *tx) error {
		holds, err = t.ListHolds(ctx, filter)
		return err
	})
	return holds, err
}

func (s *Store) TransitionHold(ctx context.Context, id string, to core.HoldStatus, orderID string, at time.Time) (moved bool, err error) {
	err = s.write(ctx, func(t *tx) error {
		moved, err = t.TransitionHold(ctx, id, to, orderID, at)
		return err
	})
	return moved, err
}

func (s *Store) CreateOrder(ctx context.Context, order core.PurchaseOrder) error {
	return s.write(ctx, func(t *tx) error { return t.CreateOrder(ctx, order) })
}

func (s *Store) GetOrder(ctx context.Context, id string) (order core.PurchaseOrder, err error) {
	err = s.read(func(t *tx) error {
		order, err = t.GetOrder(ctx, id)
		return err
	})
	return order, err
}

func (s *Store) ListOrders(ctx context.Context, filter core.OrderFilter) (orders []core.PurchaseOrder, err error) {
	err = s.read(func(t *tx) error {
		orders, err = t.ListOrders(ctx, filter)
		return err
	})
	return orders, err
}

func (s *Store) TransitionOrder(ctx context.Context, transition core.OrderTransition) (moved bool, err error) {
	err = s.write(ctx, func(t *tx) error {
		moved, err = t.TransitionOrder(ctx, transition)
		return err
	})
	return moved, err
}

func (s *Store) RecordPayment(ctx context.Context, payment core.PaymentConfirmation) error {
	return s.write(ctx, func(t *tx) error { return t.RecordPayment(ctx, payment) })
}

func (s *Store) GetPayment(ctx context.Context, externalRef string) (payment core.PaymentConfirmation, err error) {
	err = s.read(func(t *tx) error {
		payment, err = t.GetPayment(ctx, externalRef)
		return err
	})
	return payment, err
}

func (s *Store) MarkReleased(ctx context.Context, releaser core.ReleaserRef) (marked bool, err error) {
	err = s.write(ctx, func(t *tx) error {
		marked, err = t.MarkReleased(ctx, releaser)
		return err
	})
	return marked, err
}

func (st *state) clone() *state {
	out := &state{
		lots:     make(map[string]core.CreditLot, len(st.lots)),
		holds:    make(map[string]core.Hold, len(st.holds)),
		orders:   make(map[string]core.PurchaseOrder, len(st.orders)),
		payments: make(map[string]core.PaymentConfirmation, len(st.payments)),
	}
	for id, lot := range st.lots {
		out.lots[id] = lot
	}
	for id, hold := range st.holds {
		out.holds[id] = hold
	}
	for id, order := range st.orders {
		out.orders[id] = order
	}
	for ref, payment := range st.payments {
		out.payments[ref] = payment
	}
	return out
}

// tx is the StoreTx view over one state copy.
type tx struct {
	state *state
}

func (t *tx) CreateLot(_ context.Context, lot core.CreditLot) error {
	id := strings.TrimSpace(lot.ID)
	if id == "" {
		return fmt.Errorf("memorystore: lot id is required")
	}
	if _, exists := t.state.lots[id]; exists {
		return fmt.Errorf("memorystore: lot %q already exists", id)
	}
	t.state.lots[id] = lot
	return nil
}

func (t *tx) GetLot(_ context.Context, id string) (core.CreditLot, error) {
	lot, ok := t.state.lots[strings.TrimSpace(id)]
	if !ok {
		return core.CreditLot{}, core.ErrLotNotFound
	}
	return lot, nil
}

func (t *tx) ListLots(_ context.Context, filter core.LotFilter) ([]core.CreditLot, error) {
	out := make([]core.CreditLot, 0, len(t.state.lots))
	for _, lot := range t.state.lots {
		if filter.BrokerID != "" && lot.BrokerID != filter.BrokerID {
			continue
		}
		if filter.Status != "" && lot.Status != filter.Status {
			continue
		}
		out = append(out, lot)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []core.CreditLot{}, nil
		}
		out = out[filter.Offset:]
	}
	return limit(out, filter.Limit), nil
}

func (t *tx) SwapLot(_ context.Context, next core.CreditLot, expectedVersion int64) error {
	current, ok := t.state.lots[next.ID]
	if !ok {
		return core.ErrLotNotFound
	}
	if current.Version != expectedVersion {
		return core.ErrVersionConflict
	}
	t.state.lots[next.ID] = next
	return nil
}

func (t *tx) CreateHold(_ context.Context, hold core.Hold) error {
	if _, exists := t.state.holds[hold.ID]; exists {
		return fmt.Errorf("memorystore: hold %q already exists", hold.ID)
	}
	t.state.holds[hold.ID] = hold
	return nil
}

func (t *tx) GetHold(_ context.Context, id string) (core.Hold, error) {
	hold, ok := t.state.holds[strings.TrimSpace(id)]
	if !ok {
		return core.Hold{}, core.ErrHoldNotFound
	}
	return hold, nil
}

func (t *tx) ListHolds(_ context.Context, filter core.HoldFilter) ([]core.Hold, error) {
	out := make([]core.Hold, 0)
	for _, hold := range t.state.holds {
		if filter.LotID != "" && hold.LotID != filter.LotID {
			continue
		}
		if filter.BuyerID != "" && hold.BuyerID != filter.BuyerID {
			continue
		}
		if filter.Status != "" && hold.Status != filter.Status {
			continue
		}
		if filter.ExpiresBy != nil && hold.ExpiresAt.After(*filter.ExpiresBy) {
			continue
		}
		out = append(out, hold)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return limit(out, filter.Limit), nil
}

func (t *tx) TransitionHold(_ context.Context, id string, to core.HoldStatus, orderID string, at time.Time) (bool, error) {
	hold, ok := t.state.holds[id]
	if !ok {
		return false, core.ErrHoldNotFound
	}
	if hold.Status != core.HoldStatusActive {
		return false, nil
	}
	terminalAt := at.UTC()
	hold.Status = to
	hold.TerminalAt = &terminalAt
	if orderID != "" {
		hold.OrderID = orderID
	}
	hold.Revision++
	t.state.holds[id] = hold
	return true, nil
}

func (t *tx) CreateOrder(_ context.Context, order core.PurchaseOrder) error {
	if _, exists := t.state.orders[order.ID]; exists {
		return fmt.Errorf("memorystore: order %q already exists", order.ID)
	}
	t.state.orders[order.ID] = order
	return nil
}

func (t *tx) GetOrder(_ context.Context, id string) (core.PurchaseOrder, error) {
	order, ok := t.state.orders[strings.TrimSpace(id)]
	if !ok {
		return core.PurchaseOrder{}, core.ErrOrderNotFound
	}
	return order, nil
}

func (t *tx) ListOrders(_ context.Context, filter core.OrderFilter) ([]core.PurchaseOrder, error) {
	out := make([]core.PurchaseOrder, 0)
	for _, order := range t.state.orders {
		if filter.LotID != "" && order.LotID != filter.LotID {
			continue
		}
		if filter.BuyerID != "" && order.BuyerID != filter.BuyerID {
			continue
		}
		if len(filter.Statuses) > 0 && !hasStatus(filter.Statuses, order.Status) {
			continue
		}
		if filter.CreatedBefore != nil && !order.CreatedAt.Before(*filter.CreatedBefore) {
			continue
		}
		if filter.PaymentInitiatedBefore != nil &&
			(order.PaymentInitiatedAt == nil || !order.PaymentInitiatedAt.Before(*filter.PaymentInitiatedBefore)) {
			continue
		}
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return limit(out, filter.Limit), nil
}

func (t *tx) TransitionOrder(_ context.Context, transition core.OrderTransition) (bool, error) {
	order, ok := t.state.orders[transition.OrderID]
	if !ok {
		return false, core.ErrOrderNotFound
	}
	if !transition.Allows(order) {
		return false, nil
	}
	t.state.orders[order.ID] = transition.Apply(order)
	return true, nil
}

func (t *tx) RecordPayment(_ context.Context, payment core.PaymentConfirmation) error {
	ref := strings.TrimSpace(payment.ExternalRef)
	if _, exists := t.state.payments[ref]; exists {
		return core.ErrDuplicateExternalRef
	}
	t.state.payments[ref] = payment
	return nil
}

func (t *tx) GetPayment(_ context.Context, externalRef string) (core.PaymentConfirmation, error) {
	payment, ok := t.state.payments[strings.TrimSpace(externalRef)]
	if !ok {
		return core.PaymentConfirmation{}, core.ErrPaymentNotFound
	}
	return payment, nil
}

func (t *tx) MarkReleased(_ context.Context, releaser core.ReleaserRef) (bool, error) {
	switch releaser.Kind {
	case core.ReleaserHold:
		hold, ok := t.state.holds[releaser.ID]
		if !ok {
			return false, core.ErrHoldNotFound
		}
		if hold.ReleasePerformed {
			return false, nil
		}
		hold.ReleasePerformed = true
		t.state.holds[releaser.ID] = hold
		return true, nil
	case core.ReleaserOrder:
		order, ok := t.state.orders[releaser.ID]
		if !ok {
			return false, core.ErrOrderNotFound
		}
		if order.ReleasePerformed {
			return false, nil
		}
		order.ReleasePerformed = true
		t.state.orders[releaser.ID] = order
		return true, nil
	default:
		return false, fmt.Errorf("memorystore: releaser kind %q is invalid", releaser.Kind)
	}
}

func hasStatus(statuses []core.OrderStatus, status core.OrderStatus) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}

var (
	_ core.Store         = (*Store)(nil)
	_ core.StoreProvider = (*Store)(nil)
	_ core.StoreTx       = (*tx)(nil)
)
