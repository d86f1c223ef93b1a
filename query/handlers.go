package query

import (
	"context"

	"github.com/goliatone/go-creditlots/core"
)

// LotReader is satisfied by *core.LotRegistry.
type LotReader interface {
	GetLot(ctx context.Context, lotID string) (core.CreditLot, error)
	ListLots(ctx context.Context, filter core.LotFilter) ([]core.CreditLot, error)
	CapacitySummary(ctx context.Context, lotID string) (core.CapacitySummary, error)
}

// HoldReader is satisfied by *core.ReservationManager.
type HoldReader interface {
	GetHold(ctx context.Context, holdID string) (core.Hold, error)
	ListHolds(ctx context.Context, filter core.HoldFilter) ([]core.Hold, error)
}

// OrderReader is satisfied by *core.OrderController.
type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (core.PurchaseOrder, error)
	ListOrders(ctx context.Context, filter core.OrderFilter) ([]core.PurchaseOrder, error)
}

type GetLotQuery struct {
	reader LotReader
}

func NewGetLotQuery(reader LotReader) *GetLotQuery {
	return &GetLotQuery{reader: reader}
}

func (q *GetLotQuery) Query(ctx context.Context, msg GetLotMessage) (core.CreditLot, error) {
	if q == nil || q.reader == nil {
		return core.CreditLot{}, core.MissingDependency("query: lot reader is required")
	}
	return q.reader.GetLot(ctx, msg.LotID)
}

type ListLotsQuery struct {
	reader LotReader
}

func NewListLotsQuery(reader LotReader) *ListLotsQuery {
	return &ListLotsQuery{reader: reader}
}

func (q *ListLotsQuery) Query(ctx context.Context, msg ListLotsMessage) ([]core.CreditLot, error) {
	if q == nil || q.reader == nil {
		return nil, core.MissingDependency("query: lot reader is required")
	}
	return q.reader.ListLots(ctx, msg.Filter)
}

type CapacitySummaryQuery struct {
	reader LotReader
}

func NewCapacitySummaryQuery(reader LotReader) *CapacitySummaryQuery {
	return &CapacitySummaryQuery{reader: reader}
}

func (q *CapacitySummaryQuery) Query(ctx context.Context, msg CapacitySummaryMessage) (core.CapacitySummary, error) {
	if q == nil || q.reader == nil {
		return core.CapacitySummary{}, core.MissingDependency("query: lot reader is required")
	}
	return q.reader.CapacitySummary(ctx, msg.LotID)
}

type GetHoldQuery struct {
	reader HoldReader
}

func NewGetHoldQuery(reader HoldReader) *GetHoldQuery {
	return &GetHoldQuery{reader: reader}
}

func (q *GetHoldQuery) Query(ctx context.Context, msg GetHoldMessage) (core.Hold, error) {
	if q == nil || q.reader == nil {
		return core.Hold{}, core.MissingDependency("query: hold reader is required")
	}
	return q.reader.GetHold(ctx, msg.HoldID)
}

type ListHoldsQuery struct {
	reader HoldReader
}

func NewListHoldsQuery(reader HoldReader) *ListHoldsQuery {
	return &ListHoldsQuery{reader: reader}
}

func (q *ListHoldsQuery) Query(ctx context.Context, msg ListHoldsMessage) ([]core.Hold, error) {
	if q == nil || q.reader == nil {
		return nil, core.MissingDependency("query: hold reader is required")
	}
	return q.reader.ListHolds(ctx, msg.Filter)
}

type GetOrderQuery struct {
	reader OrderReader
}

func NewGetOrderQuery(reader OrderReader) *GetOrderQuery {
	return &GetOrderQuery{reader: reader}
}

func (q *GetOrderQuery) Query(ctx context.Context, msg GetOrderMessage) (core.PurchaseOrder, error) {
	if q == nil || q.reader == nil {
		return core.PurchaseOrder{}, core.MissingDependency("query: order reader is required")
	}
	return q.reader.GetOrder(ctx, msg.OrderID)
}

type ListOrdersQuery struct {
	reader OrderReader
}

func NewListOrdersQuery(reader OrderReader) *ListOrdersQuery {
	return &ListOrdersQuery{reader: reader}
}

func (q *ListOrdersQuery) Query(ctx context.Context, msg ListOrdersMessage) ([]core.PurchaseOrder, error) {
	if q == nil || q.reader == nil {
		return nil, core.MissingDependency("query: order reader is required")
	}
	return q.reader.ListOrders(ctx, msg.Filter)
}
