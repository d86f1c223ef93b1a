package query

import (
	"context"
	"testing"

	"github.com/goliatone/go-creditlots/core"
)

func TestGetLotQuery_QueryDelegates(t *testing.T) {
	called := false
	reader := stubLotReader{
		getFn: func(_ context.Context, lotID string) (core.CreditLot, error) {
			called = true
			if lotID != "lot-1" {
				t.Fatalf("unexpected lot id %q", lotID)
			}
			return core.CreditLot{ID: lotID, AvailableFaceValue: 400000}, nil
		},
	}

	lot, err := NewGetLotQuery(reader).Query(context.Background(), GetLotMessage{LotID: "lot-1"})
	if err != nil {
		t.Fatalf("query lot: %v", err)
	}
	if !called {
		t.Fatalf("expected lot reader invocation")
	}
	if lot.AvailableFaceValue != 400000 {
		t.Fatalf("unexpected lot: %#v", lot)
	}
}

func TestCapacitySummaryQuery_QueryDelegates(t *testing.T) {
	reader := stubLotReader{
		summaryFn: func(_ context.Context, lotID string) (core.CapacitySummary, error) {
			return core.CapacitySummary{LotID: lotID, Total: 500000, Available: 450000, Settled: 50000}, nil
		},
	}
	summary, err := NewCapacitySummaryQuery(reader).Query(context.Background(), CapacitySummaryMessage{LotID: "lot-1"})
	if err != nil {
		t.Fatalf("query capacity: %v", err)
	}
	if !summary.Balanced() {
		t.Fatalf("expected balanced summary, got %#v", summary)
	}
}

func TestListHoldsQuery_PassesFilter(t *testing.T) {
	reader := stubHoldReader{
		listFn: func(_ context.Context, filter core.HoldFilter) ([]core.Hold, error) {
			if filter.LotID != "lot-1" || filter.Status != core.HoldStatusActive || filter.Limit != 10 {
				t.Fatalf("unexpected hold filter: %#v", filter)
			}
			return []core.Hold{{ID: "hold-1"}, {ID: "hold-2"}}, nil
		},
	}
	holds, err := NewListHoldsQuery(reader).Query(context.Background(), ListHoldsMessage{Filter: core.HoldFilter{
		LotID:  "lot-1",
		Status: core.HoldStatusActive,
		Limit:  10,
	}})
	if err != nil {
		t.Fatalf("list holds: %v", err)
	}
	if len(holds) != 2 {
		t.Fatalf("expected 2 holds, got %d", len(holds))
	}
}

func TestListOrdersQuery_PassesFilter(t *testing.T) {
	reader := stubOrderReader{
		listFn: func(_ context.Context, filter core.OrderFilter) ([]core.PurchaseOrder, error) {
			if filter.BuyerID != "buyer-a" || len(filter.Statuses) != 1 || filter.Statuses[0] != core.OrderStatusPaid {
				t.Fatalf("unexpected order filter: %#v", filter)
			}
			return []core.PurchaseOrder{{ID: "order-1", Status: core.OrderStatusPaid}}, nil
		},
	}
	orders, err := NewListOrdersQuery(reader).Query(context.Background(), ListOrdersMessage{Filter: core.OrderFilter{
		BuyerID:  "buyer-a",
		Statuses: []core.OrderStatus{core.OrderStatusPaid},
	}})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "order-1" {
		t.Fatalf("unexpected orders: %#v", orders)
	}
}

type stubLotReader struct {
	getFn     func(context.Context, string) (core.CreditLot, error)
	listFn    func(context.Context, core.LotFilter) ([]core.CreditLot, error)
	summaryFn func(context.Context, string) (core.CapacitySummary, error)
}

func (s stubLotReader) GetLot(ctx context.Context, lotID string) (core.CreditLot, error) {
	if s.getFn == nil {
		return core.CreditLot{}, nil
	}
	return s.getFn(ctx, lotID)
}

func (s stubLotReader) ListLots(ctx context.Context, filter core.LotFilter) ([]core.CreditLot, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, filter)
}

func (s stubLotReader) CapacitySummary(ctx context.Context, lotID string) (core.CapacitySummary, error) {
	if s.summaryFn == nil {
		return core.CapacitySummary{}, nil
	}
	return s.summaryFn(ctx, lotID)
}

type stubHoldReader struct {
	getFn  func(context.Context, string) (core.Hold, error)
	listFn func(context.Context, core.HoldFilter) ([]core.Hold, error)
}

func (s stubHoldReader) GetHold(ctx context.Context, holdID string) (core.Hold, error) {
	if s.getFn == nil {
		return core.Hold{}, nil
	}
	return s.getFn(ctx, holdID)
}

func (s stubHoldReader) ListHolds(ctx context.Context, filter core.HoldFilter) ([]core.Hold, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, filter)
}

type stubOrderReader struct {
	getFn  func(context.Context, string) (core.PurchaseOrder, error)
	listFn func(context.Context, core.OrderFilter) ([]core.PurchaseOrder, error)
}

func (s stubOrderReader) GetOrder(ctx context.Context, orderID string) (core.PurchaseOrder, error) {
	if s.getFn == nil {
		return core.PurchaseOrder{}, nil
	}
	return s.getFn(ctx, orderID)
}

func (s stubOrderReader) ListOrders(ctx context.Context, filter core.OrderFilter) ([]core.PurchaseOrder, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, filter)
}
