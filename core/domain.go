package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type LotStatus string

const (
	LotStatusDraft  LotStatus = "DRAFT"
	LotStatusActive LotStatus = "ACTIVE"
	LotStatusPaused LotStatus = "PAUSED"
	LotStatusClosed LotStatus = "CLOSED"
)

type HoldStatus string

const (
	HoldStatusActive    HoldStatus = "ACTIVE"
	HoldStatusExpired   HoldStatus = "EXPIRED"
	HoldStatusConverted HoldStatus = "CONVERTED"
	HoldStatusCancelled HoldStatus = "CANCELLED"
)

func (s HoldStatus) Terminal() bool {
	return s != HoldStatusActive
}

type OrderStatus string

const (
	OrderStatusReserved       OrderStatus = "RESERVED"
	OrderStatusPaymentPending OrderStatus = "PAYMENT_PENDING"
	OrderStatusPaid           OrderStatus = "PAID"
	OrderStatusSettled        OrderStatus = "SETTLED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
)

// HoldsCapacity reports whether an order in this status still keeps face value
// reserved against its lot.
func (s OrderStatus) HoldsCapacity() bool {
	switch s {
	case OrderStatusReserved, OrderStatusPaymentPending, OrderStatusPaid:
		return true
	default:
		return false
	}
}

type BrokerStatus string

const (
	BrokerStatusNone      BrokerStatus = ""
	BrokerStatusPending   BrokerStatus = "PENDING"
	BrokerStatusApproved  BrokerStatus = "APPROVED"
	BrokerStatusNeedsInfo BrokerStatus = "NEEDS_INFO"
	BrokerStatusRejected  BrokerStatus = "REJECTED"
)

func ParseBrokerStatus(raw string) (BrokerStatus, bool) {
	switch BrokerStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case BrokerStatusPending:
		return BrokerStatusPending, true
	case BrokerStatusApproved:
		return BrokerStatusApproved, true
	case BrokerStatusNeedsInfo:
		return BrokerStatusNeedsInfo, true
	case BrokerStatusRejected:
		return BrokerStatusRejected, true
	default:
		return BrokerStatusNone, false
	}
}

type ActorRole string

const (
	ActorRoleBuyer  ActorRole = "buyer"
	ActorRoleBroker ActorRole = "broker"
	ActorRoleAdmin  ActorRole = "admin"
	ActorRoleSystem ActorRole = "system"
)

type Actor struct {
	ID   string
	Role ActorRole
}

func (a Actor) IsAdmin() bool {
	return a.Role == ActorRoleAdmin
}

// SystemActor identifies transitions performed by the engine itself.
var SystemActor = Actor{ID: "system:sweeper", Role: ActorRoleSystem}

type CreditLot struct {
	ID                 string
	BrokerID           string
	CreditType         string
	TaxYear            int
	Jurisdiction       string
	TotalFaceValue     int64
	AvailableFaceValue int64
	SettledFaceValue   int64
	MinBlock           int64
	PricePerDollar     decimal.Decimal
	Status             LotStatus
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Hold struct {
	ID               string
	LotID            string
	BuyerID          string
	AmountUSD        int64
	PricePerDollar   decimal.Decimal
	Status           HoldStatus
	OrderID          string
	ReleasePerformed bool
	Revision         int64
	CreatedAt        time.Time
	ExpiresAt        time.Time
	TerminalAt       *time.Time
}

type PurchaseOrder struct {
	ID                   string
	LotID                string
	BuyerID              string
	HoldID               string
	AmountFaceUSD        int64
	PricePerDollar       decimal.Decimal
	TotalCostUSD         decimal.Decimal
	Status               OrderStatus
	BrokerStatus         BrokerStatus
	BrokerNote           string
	PaymentRef           string
	AmountPaid           decimal.Decimal
	CertificateRequestID string
	CancelReason         string
	ReleasePerformed     bool
	Revision             int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
	PaymentInitiatedAt   *time.Time
	PaidAt               *time.Time
	SettledAt            *time.Time
	CancelledAt          *time.Time
}

type PaymentConfirmation struct {
	ExternalRef string
	OrderID     string
	AmountPaid  decimal.Decimal
	ConfirmedAt time.Time
}

type ReleaserKind string

const (
	ReleaserHold  ReleaserKind = "hold"
	ReleaserOrder ReleaserKind = "order"
)

// ReleaserRef names the hold or order whose release flag guards a capacity release.
type ReleaserRef struct {
	Kind ReleaserKind
	ID   string
}

func HoldReleaser(id string) ReleaserRef {
	return ReleaserRef{Kind: ReleaserHold, ID: strings.TrimSpace(id)}
}

func OrderReleaser(id string) ReleaserRef {
	return ReleaserRef{Kind: ReleaserOrder, ID: strings.TrimSpace(id)}
}

func (r ReleaserRef) String() string {
	return string(r.Kind) + ":" + r.ID
}

type LotFilter struct {
	BrokerID string
	Status   LotStatus
	Limit    int
	Offset   int
}

type HoldFilter struct {
	LotID   string
	BuyerID string
	Status  HoldStatus
	// ExpiresBy matches holds whose ExpiresAt is at or before the given instant.
	ExpiresBy *time.Time
	Limit     int
}

type OrderFilter struct {
	LotID                  string
	BuyerID                string
	Statuses               []OrderStatus
	CreatedBefore          *time.Time
	PaymentInitiatedBefore *time.Time
	Limit                  int
}

type CreateLotRequest struct {
	BrokerID       string
	CreditType     string
	TaxYear        int
	Jurisdiction   string
	TotalFaceValue int64
	MinBlock       int64
	PricePerDollar decimal.Decimal
}

type CreateHoldRequest struct {
	LotID     string
	BuyerID   string
	AmountUSD int64
}

type CheckoutRequest struct {
	LotID     string
	BuyerID   string
	AmountUSD int64
}

type ConfirmPaymentRequest struct {
	OrderID     string
	ExternalRef string
	AmountPaid  decimal.Decimal
}

type PaymentResult struct {
	Order     PurchaseOrder
	Duplicate bool
}

type SetBrokerStatusRequest struct {
	OrderID string
	Status  BrokerStatus
	Actor   Actor
	Note    string
}

type SettleResult struct {
	Order                PurchaseOrder
	CertificateRequestID string
}

type ReleaseResult struct {
	Lot      CreditLot
	Released bool
}

// CapacitySummary breaks a lot's total face value into its accounting buckets.
type CapacitySummary struct {
	LotID       string
	Total       int64
	Available   int64
	ActiveHolds int64
	OpenOrders  int64
	Settled     int64
}

// Balanced reports whether the buckets add back to the lot total.
func (s CapacitySummary) Balanced() bool {
	return s.Available+s.ActiveHolds+s.OpenOrders == s.Total-s.Settled
}

type SweepReport struct {
	Skipped         bool
	HoldsExpired    int
	OrdersCancelled int
	ReservedExpired int
	Released        int64
	Errors          int
}

func totalCost(amount int64, price decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(amount).Mul(price).Round(2)
}
