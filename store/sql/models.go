package sqlstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-creditlots/core"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type lotRecord struct {
	bun.BaseModel `bun:"table:credit_lots,alias:cl"`

	ID                 string    `bun:"id,pk"`
	BrokerID           string    `bun:"broker_id,notnull"`
	CreditType         string    `bun:"credit_type,notnull"`
	TaxYear            int       `bun:"tax_year,notnull"`
	Jurisdiction       string    `bun:"jurisdiction,notnull"`
	TotalFaceValue     int64     `bun:"total_face_value,notnull"`
	AvailableFaceValue int64     `bun:"available_face_value,notnull"`
	SettledFaceValue   int64     `bun:"settled_face_value,notnull"`
	MinBlock           int64     `bun:"min_block,notnull"`
	PricePerDollar     string    `bun:"price_per_dollar,notnull"`
	Status             string    `bun:"status,notnull"`
	Version            int64     `bun:"version,notnull"`
	CreatedAt          time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt          time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type holdRecord struct {
	bun.BaseModel `bun:"table:lot_holds,alias:lh"`

	ID               string     `bun:"id,pk"`
	LotID            string     `bun:"lot_id,notnull"`
	BuyerID          string     `bun:"buyer_id,notnull"`
	AmountUSD        int64      `bun:"amount_usd,notnull"`
	PricePerDollar   string     `bun:"price_per_dollar,notnull"`
	Status           string     `bun:"status,notnull"`
	OrderID          string     `bun:"order_id,notnull"`
	ReleasePerformed bool       `bun:"release_performed,notnull"`
	Revision         int64      `bun:"revision,notnull"`
	CreatedAt        time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	ExpiresAt        time.Time  `bun:"expires_at,notnull"`
	TerminalAt       *time.Time `bun:"terminal_at,nullzero"`
}

type orderRecord struct {
	bun.BaseModel `bun:"table:purchase_orders,alias:po"`

	ID                   string     `bun:"id,pk"`
	LotID                string     `bun:"lot_id,notnull"`
	BuyerID              string     `bun:"buyer_id,notnull"`
	HoldID               string     `bun:"hold_id,notnull"`
	AmountFaceUSD        int64      `bun:"amount_face_usd,notnull"`
	PricePerDollar       string     `bun:"price_per_dollar,notnull"`
	TotalCostUSD         string     `bun:"total_cost_usd,notnull"`
	Status               string     `bun:"status,notnull"`
	BrokerStatus         string     `bun:"broker_status,notnull"`
	BrokerNote           string     `bun:"broker_note,notnull"`
	PaymentRef           string     `bun:"payment_ref,notnull"`
	AmountPaid           string     `bun:"amount_paid,notnull"`
	CertificateRequestID string     `bun:"certificate_request_id,notnull"`
	CancelReason         string     `bun:"cancel_reason,notnull"`
	ReleasePerformed     bool       `bun:"release_performed,notnull"`
	Revision             int64      `bun:"revision,notnull"`
	CreatedAt            time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt            time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	PaymentInitiatedAt   *time.Time `bun:"payment_initiated_at,nullzero"`
	PaidAt               *time.Time `bun:"paid_at,nullzero"`
	SettledAt            *time.Time `bun:"settled_at,nullzero"`
	CancelledAt          *time.Time `bun:"cancelled_at,nullzero"`
}

type paymentRecord struct {
	bun.BaseModel `bun:"table:payment_confirmations,alias:pc"`

	ID          string    `bun:"id,pk"`
	ExternalRef string    `bun:"external_ref,notnull"`
	OrderID     string    `bun:"order_id,notnull"`
	AmountPaid  string    `bun:"amount_paid,notnull"`
	ConfirmedAt time.Time `bun:"confirmed_at,notnull"`
}

type lifecycleOutboxRecord struct {
	bun.BaseModel `bun:"table:lifecycle_outbox,alias:lo"`

	ID          string         `bun:"id,pk"`
	EventID     string         `bun:"event_id,notnull"`
	EventName   string         `bun:"event_name,notnull"`
	EntityType  string         `bun:"entity_type,notnull"`
	EntityID    string         `bun:"entity_id,notnull"`
	LotID       string         `bun:"lot_id,notnull"`
	ActorID     string         `bun:"actor_id,notnull"`
	AmountUSD   int64          `bun:"amount_usd,notnull"`
	Payload     map[string]any `bun:"payload,type:jsonb,notnull"`
	Metadata    map[string]any `bun:"metadata,type:jsonb,notnull"`
	Status      string         `bun:"status,notnull"`
	Attempts    int            `bun:"attempts,notnull"`
	NextAttempt *time.Time     `bun:"next_attempt_at,nullzero"`
	LastError   string         `bun:"last_error,notnull"`
	OccurredAt  time.Time      `bun:"occurred_at,notnull"`
	CreatedAt   time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newLotRecord(lot core.CreditLot) *lotRecord {
	return &lotRecord{
		ID:                 strings.TrimSpace(lot.ID),
		BrokerID:           lot.BrokerID,
		CreditType:         lot.CreditType,
		TaxYear:            lot.TaxYear,
		Jurisdiction:       lot.Jurisdiction,
		TotalFaceValue:     lot.TotalFaceValue,
		AvailableFaceValue: lot.AvailableFaceValue,
		SettledFaceValue:   lot.SettledFaceValue,
		MinBlock:           lot.MinBlock,
		PricePerDollar:     lot.PricePerDollar.String(),
		Status:             string(lot.Status),
		Version:            lot.Version,
		CreatedAt:          lot.CreatedAt.UTC(),
		UpdatedAt:          lot.UpdatedAt.UTC(),
	}
}

func (r *lotRecord) toDomain() (core.CreditLot, error) {
	price, err := parseDecimal(r.PricePerDollar, "price_per_dollar")
	if err != nil {
		return core.CreditLot{}, err
	}
	return core.CreditLot{
		ID:                 r.ID,
		BrokerID:           r.BrokerID,
		CreditType:         r.CreditType,
		TaxYear:            r.TaxYear,
		Jurisdiction:       r.Jurisdiction,
		TotalFaceValue:     r.TotalFaceValue,
		AvailableFaceValue: r.AvailableFaceValue,
		SettledFaceValue:   r.SettledFaceValue,
		MinBlock:           r.MinBlock,
		PricePerDollar:     price,
		Status:             core.LotStatus(r.Status),
		Version:            r.Version,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}, nil
}

func newHoldRecord(hold core.Hold) *holdRecord {
	return &holdRecord{
		ID:               strings.TrimSpace(hold.ID),
		LotID:            hold.LotID,
		BuyerID:          hold.BuyerID,
		AmountUSD:        hold.AmountUSD,
		PricePerDollar:   hold.PricePerDollar.String(),
		Status:           string(hold.Status),
		OrderID:          hold.OrderID,
		ReleasePerformed: hold.ReleasePerformed,
		Revision:         hold.Revision,
		CreatedAt:        hold.CreatedAt.UTC(),
		ExpiresAt:        hold.ExpiresAt.UTC(),
		TerminalAt:       utcPtr(hold.TerminalAt),
	}
}

func (r *holdRecord) toDomain() (core.Hold, error) {
	price, err := parseDecimal(r.PricePerDollar, "price_per_dollar")
	if err != nil {
		return core.Hold{}, err
	}
	return core.Hold{
		ID:               r.ID,
		LotID:            r.LotID,
		BuyerID:          r.BuyerID,
		AmountUSD:        r.AmountUSD,
		PricePerDollar:   price,
		Status:           core.HoldStatus(r.Status),
		OrderID:          r.OrderID,
		ReleasePerformed: r.ReleasePerformed,
		Revision:         r.Revision,
		CreatedAt:        r.CreatedAt.UTC(),
		ExpiresAt:        r.ExpiresAt.UTC(),
		TerminalAt:       utcPtr(r.TerminalAt),
	}, nil
}

func newOrderRecord(order core.PurchaseOrder) *orderRecord {
	return &orderRecord{
		ID:                   strings.TrimSpace(order.ID),
		LotID:                order.LotID,
		BuyerID:              order.BuyerID,
		HoldID:               order.HoldID,
		AmountFaceUSD:        order.AmountFaceUSD,
		PricePerDollar:       order.PricePerDollar.String(),
		TotalCostUSD:         order.TotalCostUSD.String(),
		Status:               string(order.Status),
		BrokerStatus:         string(order.BrokerStatus),
		BrokerNote:           order.BrokerNote,
		PaymentRef:           order.PaymentRef,
		AmountPaid:           order.AmountPaid.String(),
		CertificateRequestID: order.CertificateRequestID,
		CancelReason:         order.CancelReason,
		ReleasePerformed:     order.ReleasePerformed,
		Revision:             order.Revision,
		CreatedAt:            order.CreatedAt.UTC(),
		UpdatedAt:            order.UpdatedAt.UTC(),
		PaymentInitiatedAt:   utcPtr(order.PaymentInitiatedAt),
		PaidAt:               utcPtr(order.PaidAt),
		SettledAt:            utcPtr(order.SettledAt),
		CancelledAt:          utcPtr(order.CancelledAt),
	}
}

func (r *orderRecord) toDomain() (core.PurchaseOrder, error) {
	price, err := parseDecimal(r.PricePerDollar, "price_per_dollar")
	if err != nil {
		return core.PurchaseOrder{}, err
	}
	total, err := parseDecimal(r.TotalCostUSD, "total_cost_usd")
	if err != nil {
		return core.PurchaseOrder{}, err
	}
	paid, err := parseDecimal(r.AmountPaid, "amount_paid")
	if err != nil {
		return core.PurchaseOrder{}, err
	}
	return core.PurchaseOrder{
		ID:                   r.ID,
		LotID:                r.LotID,
		BuyerID:              r.BuyerID,
		HoldID:               r.HoldID,
		AmountFaceUSD:        r.AmountFaceUSD,
		PricePerDollar:       price,
		TotalCostUSD:         total,
		Status:               core.OrderStatus(r.Status),
		BrokerStatus:         core.BrokerStatus(r.BrokerStatus),
		BrokerNote:           r.BrokerNote,
		PaymentRef:           r.PaymentRef,
		AmountPaid:           paid,
		CertificateRequestID: r.CertificateRequestID,
		CancelReason:         r.CancelReason,
		ReleasePerformed:     r.ReleasePerformed,
		Revision:             r.Revision,
		CreatedAt:            r.CreatedAt.UTC(),
		UpdatedAt:            r.UpdatedAt.UTC(),
		PaymentInitiatedAt:   utcPtr(r.PaymentInitiatedAt),
		PaidAt:               utcPtr(r.PaidAt),
		SettledAt:            utcPtr(r.SettledAt),
		CancelledAt:          utcPtr(r.CancelledAt),
	}, nil
}

func (r *paymentRecord) toDomain() (core.PaymentConfirmation, error) {
	paid, err := parseDecimal(r.AmountPaid, "amount_paid")
	if err != nil {
		return core.PaymentConfirmation{}, err
	}
	return core.PaymentConfirmation{
		ExternalRef: r.ExternalRef,
		OrderID:     r.OrderID,
		AmountPaid:  paid,
		ConfirmedAt: r.ConfirmedAt.UTC(),
	}, nil
}

func parseDecimal(raw string, column string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sqlstore: invalid %s %q: %w", column, raw, err)
	}
	return value, nil
}

func utcPtr(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	out := value.UTC()
	return &out
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
