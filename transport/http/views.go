package httptransport

import (
	"time"

	"github.com/goliatone/go-creditlots/core"
	"github.com/shopspring/decimal"
)

type lotView struct {
	ID                 string          `json:"id"`
	BrokerID           string          `json:"broker_id"`
	CreditType         string          `json:"credit_type"`
	TaxYear            int             `json:"tax_year"`
	Jurisdiction       string          `json:"jurisdiction"`
	TotalFaceValue     int64           `json:"total_face_value"`
	AvailableFaceValue int64           `json:"available_face_value"`
	SettledFaceValue   int64           `json:"settled_face_value"`
	MinBlock           int64           `json:"min_block"`
	PricePerDollar     decimal.Decimal `json:"price_per_dollar"`
	Status             string          `json:"status"`
	Version            int64           `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func toLotView(lot core.CreditLot) lotView {
	return lotView{
		ID:                 lot.ID,
		BrokerID:           lot.BrokerID,
		CreditType:         lot.CreditType,
		TaxYear:            lot.TaxYear,
		Jurisdiction:       lot.Jurisdiction,
		TotalFaceValue:     lot.TotalFaceValue,
		AvailableFaceValue: lot.AvailableFaceValue,
		SettledFaceValue:   lot.SettledFaceValue,
		MinBlock:           lot.MinBlock,
		PricePerDollar:     lot.PricePerDollar,
		Status:             string(lot.Status),
		Version:            lot.Version,
		CreatedAt:          lot.CreatedAt,
		UpdatedAt:          lot.UpdatedAt,
	}
}

type holdView struct {
	ID             string          `json:"id"`
	LotID          string          `json:"lot_id"`
	BuyerID        string          `json:"buyer_id"`
	AmountUSD      int64           `json:"amount_usd"`
	PricePerDollar decimal.Decimal `json:"price_per_dollar"`
	Status         string          `json:"status"`
	OrderID        string          `json:"order_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
	TerminalAt     *time.Time      `json:"terminal_at,omitempty"`
}

func toHoldView(hold core.Hold) holdView {
	return holdView{
		ID:             hold.ID,
		LotID:          hold.LotID,
		BuyerID:        hold.BuyerID,
		AmountUSD:      hold.AmountUSD,
		PricePerDollar: hold.PricePerDollar,
		Status:         string(hold.Status),
		OrderID:        hold.OrderID,
		CreatedAt:      hold.CreatedAt,
		ExpiresAt:      hold.ExpiresAt,
		TerminalAt:     hold.TerminalAt,
	}
}

type orderView struct {
	ID                   string          `json:"id"`
	LotID                string          `json:"lot_id"`
	BuyerID              string          `json:"buyer_id"`
	HoldID               string          `json:"hold_id,omitempty"`
	AmountFaceUSD        int64           `json:"amount_face_usd"`
	PricePerDollar       decimal.Decimal `json:"price_per_dollar"`
	TotalCostUSD         decimal.Decimal `json:"total_cost_usd"`
	Status               string          `json:"status"`
	BrokerStatus         string          `json:"broker_status,omitempty"`
	BrokerNote           string          `json:"broker_note,omitempty"`
	PaymentRef           string          `json:"payment_ref,omitempty"`
	AmountPaid           decimal.Decimal `json:"amount_paid"`
	CertificateRequestID string          `json:"certificate_request_id,omitempty"`
	CancelReason         string          `json:"cancel_reason,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	PaymentInitiatedAt   *time.Time      `json:"payment_initiated_at,omitempty"`
	PaidAt               *time.Time      `json:"paid_at,omitempty"`
	SettledAt            *time.Time      `json:"settled_at,omitempty"`
	CancelledAt          *time.Time      `json:"cancelled_at,omitempty"`
}

func toOrderView(order core.PurchaseOrder) orderView {
	return orderView{
		ID:                   order.ID,
		LotID:                order.LotID,
		BuyerID:              order.BuyerID,
		HoldID:               order.HoldID,
		AmountFaceUSD:        order.AmountFaceUSD,
		PricePerDollar:       order.PricePerDollar,
		TotalCostUSD:         order.TotalCostUSD,
		Status:               string(order.Status),
		BrokerStatus:         string(order.BrokerStatus),
		BrokerNote:           order.BrokerNote,
		PaymentRef:           order.PaymentRef,
		AmountPaid:           order.AmountPaid,
		CertificateRequestID: order.CertificateRequestID,
		CancelReason:         order.CancelReason,
		CreatedAt:            order.CreatedAt,
		UpdatedAt:            order.UpdatedAt,
		PaymentInitiatedAt:   order.PaymentInitiatedAt,
		PaidAt:               order.PaidAt,
		SettledAt:            order.SettledAt,
		CancelledAt:          order.CancelledAt,
	}
}

type capacityView struct {
	LotID       string `json:"lot_id"`
	Total       int64  `json:"total"`
	Available   int64  `json:"available"`
	ActiveHolds int64  `json:"active_holds"`
	OpenOrders  int64  `json:"open_orders"`
	Settled     int64  `json:"settled"`
	Balanced    bool   `json:"balanced"`
}

func toCapacityView(summary core.CapacitySummary) capacityView {
	return capacityView{
		LotID:       summary.LotID,
		Total:       summary.Total,
		Available:   summary.Available,
		ActiveHolds: summary.ActiveHolds,
		OpenOrders:  summary.OpenOrders,
		Settled:     summary.Settled,
		Balanced:    summary.Balanced(),
	}
}

type sweepView struct {
	Skipped         bool  `json:"skipped"`
	HoldsExpired    int   `json:"holds_expired"`
	OrdersCancelled int   `json:"orders_cancelled"`
	ReservedExpired int   `json:"reserved_expired"`
	Released        int64 `json:"released_usd"`
	Errors          int   `json:"errors"`
}

func mapSlice[T any, V any](items []T, view func(T) V) []V {
	out := make([]V, 0, len(items))
	for _, item := range items {
		out = append(out, view(item))
	}
	return out
}
