package command

import (
	"strings"

	"github.com/goliatone/go-creditlots/core"
	"github.com/shopspring/decimal"
)

const (
	TypeCreateLot              = "creditlots.command.lot.create"
	TypePublishLot             = "creditlots.command.lot.publish"
	TypePauseLot               = "creditlots.command.lot.pause"
	TypeCloseLot               = "creditlots.command.lot.close"
	TypeUpdateLotPrice         = "creditlots.command.lot.update_price"
	TypeCreateHold             = "creditlots.command.hold.create"
	TypeCancelHold             = "creditlots.command.hold.cancel"
	TypeConvertHold            = "creditlots.command.hold.convert"
	TypeCheckout               = "creditlots.command.order.checkout"
	TypeRecordPaymentInitiated = "creditlots.command.order.payment_initiated"
	TypeConfirmPayment         = "creditlots.command.order.confirm_payment"
	TypeSetBrokerStatus        = "creditlots.command.order.broker_status"
	TypeSettle                 = "creditlots.command.order.settle"
	TypeCancelOrder            = "creditlots.command.order.cancel"
	TypeSweep                  = "creditlots.command.sweep"
)

type CreateLotMessage struct {
	Request core.CreateLotRequest
	Actor   core.Actor
}

func (CreateLotMessage) Type() string { return TypeCreateLot }

func (m CreateLotMessage) Validate() error {
	if m.Request.TotalFaceValue <= 0 {
		return core.InvalidField("command", "total_face_value", "must be positive")
	}
	if m.Request.MinBlock <= 0 {
		return core.InvalidField("command", "min_block", "must be positive")
	}
	if !m.Request.PricePerDollar.IsPositive() {
		return core.InvalidField("command", "price_per_dollar", "must be positive")
	}
	return validateActor(m.Actor)
}

// LotStatusMessage carries the lot id for publish, pause and close.
type LotStatusMessage struct {
	LotID string
	Actor core.Actor
}

func (m LotStatusMessage) validate() error {
	if strings.TrimSpace(m.LotID) == "" {
		return core.InvalidField("command", "lot_id", "required")
	}
	return validateActor(m.Actor)
}

type PublishLotMessage struct{ LotStatusMessage }

func (PublishLotMessage) Type() string { return TypePublishLot }
func (m PublishLotMessage) Validate() error { return m.validate() }

type PauseLotMessage struct{ LotStatusMessage }

func (PauseLotMessage) Type() string { return TypePauseLot }
func (m PauseLotMessage) Validate() error { return m.validate() }

type CloseLotMessage struct{ LotStatusMessage }

func (CloseLotMessage) Type() string { return TypeCloseLot }
func (m CloseLotMessage) Validate() error { return m.validate() }

type UpdateLotPriceMessage struct {
	LotID          string
	PricePerDollar decimal.Decimal
	Actor          core.Actor
}

func (UpdateLotPriceMessage) Type() string { return TypeUpdateLotPrice }

func (m UpdateLotPriceMessage) Validate() error {
	if strings.TrimSpace(m.LotID) == "" {
		return core.InvalidField("command", "lot_id", "required")
	}
	if !m.PricePerDollar.IsPositive() {
		return core.InvalidField("command", "price_per_dollar", "must be positive")
	}
	return validateActor(m.Actor)
}

type CreateHoldMessage struct {
	Request core.CreateHoldRequest
}

func (CreateHoldMessage) Type() string { return TypeCreateHold }

func (m CreateHoldMessage) Validate() error {
	return validatePurchase(m.Request.LotID, m.Request.BuyerID, m.Request.AmountUSD)
}

type CancelHoldMessage struct {
	HoldID string
	Actor  core.Actor
}

func (CancelHoldMessage) Type() string { return TypeCancelHold }

func (m CancelHoldMessage) Validate() error {
	if strings.TrimSpace(m.HoldID) == "" {
		return core.InvalidField("command", "hold_id", "required")
	}
	return validateActor(m.Actor)
}

type ConvertHoldMessage struct {
	HoldID string
	Actor  core.Actor
}

func (ConvertHoldMessage) Type() string { return TypeConvertHold }

func (m ConvertHoldMessage) Validate() error {
	if strings.TrimSpace(m.HoldID) == "" {
		return core.InvalidField("command", "hold_id", "required")
	}
	return validateActor(m.Actor)
}

type CheckoutMessage struct {
	Request core.CheckoutRequest
}

func (CheckoutMessage) Type() string { return TypeCheckout }

func (m CheckoutMessage) Validate() error {
	return validatePurchase(m.Request.LotID, m.Request.BuyerID, m.Request.AmountUSD)
}

type RecordPaymentInitiatedMessage struct {
	OrderID string
	Actor   core.Actor
}

func (RecordPaymentInitiatedMessage) Type() string { return TypeRecordPaymentInitiated }

func (m RecordPaymentInitiatedMessage) Validate() error {
	if strings.TrimSpace(m.OrderID) == "" {
		return core.InvalidField("command", "order_id", "required")
	}
	return validateActor(m.Actor)
}

type ConfirmPaymentMessage struct {
	Request core.ConfirmPaymentRequest
}

func (ConfirmPaymentMessage) Type() string { return TypeConfirmPayment }

func (m ConfirmPaymentMessage) Validate() error {
	if strings.TrimSpace(m.Request.OrderID) == "" {
		return core.InvalidField("command", "order_id", "required")
	}
	if strings.TrimSpace(m.Request.ExternalRef) == "" {
		return core.InvalidField("command", "external_ref", "required")
	}
	if m.Request.AmountPaid.IsNegative() {
		return core.InvalidField("command", "amount_paid", "must not be negative")
	}
	return nil
}

type SetBrokerStatusMessage struct {
	Request core.SetBrokerStatusRequest
}

func (SetBrokerStatusMessage) Type() string { return TypeSetBrokerStatus }

func (m SetBrokerStatusMessage) Validate() error {
	if strings.TrimSpace(m.Request.OrderID) == "" {
		return core.InvalidField("command", "order_id", "required")
	}
	if _, ok := core.ParseBrokerStatus(string(m.Request.Status)); !ok {
		return core.InvalidField("command", "status", "must be PENDING, APPROVED, NEEDS_INFO or REJECTED")
	}
	return validateActor(m.Request.Actor)
}

type SettleMessage struct {
	OrderID string
	Actor   core.Actor
}

func (SettleMessage) Type() string { return TypeSettle }

func (m SettleMessage) Validate() error {
	if strings.TrimSpace(m.OrderID) == "" {
		return core.InvalidField("command", "order_id", "required")
	}
	return validateActor(m.Actor)
}

type CancelOrderMessage struct {
	OrderID string
	Reason  string
	Actor   core.Actor
}

func (CancelOrderMessage) Type() string { return TypeCancelOrder }

func (m CancelOrderMessage) Validate() error {
	if strings.TrimSpace(m.OrderID) == "" {
		return core.InvalidField("command", "order_id", "required")
	}
	return validateActor(m.Actor)
}

type SweepMessage struct{}

func (SweepMessage) Type() string { return TypeSweep }

func validatePurchase(lotID string, buyerID string, amount int64) error {
	if strings.TrimSpace(lotID) == "" {
		return core.InvalidField("command", "lot_id", "required")
	}
	if strings.TrimSpace(buyerID) == "" {
		return core.InvalidField("command", "buyer_id", "required")
	}
	if amount <= 0 {
		return core.InvalidField("command", "amount_usd", "must be positive")
	}
	return nil
}

func validateActor(actor core.Actor) error {
	if strings.TrimSpace(actor.ID) == "" {
		return core.InvalidField("command", "actor.id", "required")
	}
	if strings.TrimSpace(string(actor.Role)) == "" {
		return core.InvalidField("command", "actor.role", "required")
	}
	return nil
}
