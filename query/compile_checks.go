package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-creditlots/core"
)

var (
	_ gocmd.Querier[GetLotMessage, core.CreditLot]                = (*GetLotQuery)(nil)
	_ gocmd.Querier[ListLotsMessage, []core.CreditLot]            = (*ListLotsQuery)(nil)
	_ gocmd.Querier[CapacitySummaryMessage, core.CapacitySummary] = (*CapacitySummaryQuery)(nil)
	_ gocmd.Querier[GetHoldMessage, core.Hold]                    = (*GetHoldQuery)(nil)
	_ gocmd.Querier[ListHoldsMessage, []core.Hold]                = (*ListHoldsQuery)(nil)
	_ gocmd.Querier[GetOrderMessage, core.PurchaseOrder]          = (*GetOrderQuery)(nil)
	_ gocmd.Querier[ListOrdersMessage, []core.PurchaseOrder]      = (*ListOrdersQuery)(nil)

	_ LotReader   = (*core.LotRegistry)(nil)
	_ HoldReader  = (*core.ReservationManager)(nil)
	_ OrderReader = (*core.OrderController)(nil)
)
