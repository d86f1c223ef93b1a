package query

import (
	"strings"

	"github.com/goliatone/go-creditlots/core"
)

const (
	TypeGetLot          = "creditlots.query.lot.get"
	TypeListLots        = "creditlots.query.lot.list"
	TypeCapacitySummary = "creditlots.query.lot.capacity"
	TypeGetHold         = "creditlots.query.hold.get"
	TypeListHolds       = "creditlots.query.hold.list"
	TypeGetOrder        = "creditlots.query.order.get"
	TypeListOrders      = "creditlots.query.order.list"
)

type GetLotMessage struct {
	LotID string
}

func (GetLotMessage) Type() string { return TypeGetLot }

func (m GetLotMessage) Validate() error {
	return requireField("lot_id", m.LotID)
}

type ListLotsMessage struct {
	Filter core.LotFilter
}

func (ListLotsMessage) Type() string { return TypeListLots }

func (m ListLotsMessage) Validate() error {
	if m.Filter.Limit < 0 {
		return core.InvalidField("query", "limit", "must be >= 0")
	}
	if m.Filter.Offset < 0 {
		return core.InvalidField("query", "offset", "must be >= 0")
	}
	return nil
}

type CapacitySummaryMessage struct {
	LotID string
}

func (CapacitySummaryMessage) Type() string { return TypeCapacitySummary }

func (m CapacitySummaryMessage) Validate() error {
	return requireField("lot_id", m.LotID)
}

type GetHoldMessage struct {
	HoldID string
}

func (GetHoldMessage) Type() string { return TypeGetHold }

func (m GetHoldMessage) Validate() error {
	return requireField("hold_id", m.HoldID)
}

type ListHoldsMessage struct {
	Filter core.HoldFilter
}

func (ListHoldsMessage) Type() string { return TypeListHolds }

func (m ListHoldsMessage) Validate() error {
	if m.Filter.Limit < 0 {
		return core.InvalidField("query", "limit", "must be >= 0")
	}
	return nil
}

type GetOrderMessage struct {
	OrderID string
}

func (GetOrderMessage) Type() string { return TypeGetOrder }

func (m GetOrderMessage) Validate() error {
	return requireField("order_id", m.OrderID)
}

type ListOrdersMessage struct {
	Filter core.OrderFilter
}

func (ListOrdersMessage) Type() string { return TypeListOrders }

func (m ListOrdersMessage) Validate() error {
	if m.Filter.Limit < 0 {
		return core.InvalidField("query", "limit", "must be >= 0")
	}
	return nil
}

func requireField(field string, value string) error {
	if strings.TrimSpace(value) == "" {
		return core.InvalidField("query", field, "required")
	}
	return nil
}
