package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-creditlots/core"
	"github.com/shopspring/decimal"
)

// MutatingService is the write surface of core.Service used by the commands.
type MutatingService interface {
	CreateHold(ctx context.Context, req core.CreateHoldRequest) (core.Hold, error)
	CancelHold(ctx context.Context, holdID string, requester core.Actor) error
	ConvertHold(ctx context.Context, holdID string, requester core.Actor) (core.PurchaseOrder, error)
	Checkout(ctx context.Context, req core.CheckoutRequest) (core.PurchaseOrder, error)
	RecordPaymentInitiated(ctx context.Context, orderID string, actor core.Actor) (core.PurchaseOrder, error)
	ConfirmPayment(ctx context.Context, req core.ConfirmPaymentRequest) (core.PaymentResult, error)
	SetBrokerStatus(ctx context.Context, req core.SetBrokerStatusRequest) (core.PurchaseOrder, error)
	Settle(ctx context.Context, orderID string, actor core.Actor) (core.SettleResult, error)
	CancelOrder(ctx context.Context, orderID string, reason string, actor core.Actor) (core.PurchaseOrder, error)
}

// LotAdministration is satisfied by *core.LotRegistry.
type LotAdministration interface {
	CreateLot(ctx context.Context, req core.CreateLotRequest, actor core.Actor) (core.CreditLot, error)
	PublishLot(ctx context.Context, lotID string, actor core.Actor) (core.CreditLot, error)
	PauseLot(ctx context.Context, lotID string, actor core.Actor) (core.CreditLot, error)
	CloseLot(ctx context.Context, lotID string, actor core.Actor) (core.CreditLot, error)
	UpdateLotPrice(ctx context.Context, lotID string, price decimal.Decimal, actor core.Actor) (core.CreditLot, error)
}

type SweepService interface {
	SweepOnce(ctx context.Context) (core.SweepReport, error)
}

type CreateLotCommand struct {
	lots LotAdministration
}

func NewCreateLotCommand(lots LotAdministration) *CreateLotCommand {
	return &CreateLotCommand{lots: lots}
}

func (c *CreateLotCommand) Execute(ctx context.Context, msg CreateLotMessage) error {
	if c == nil || c.lots == nil {
		return core.MissingDependency("command: lot registry is required")
	}
	out, err := c.lots.CreateLot(ctx, msg.Request, msg.Actor)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type PublishLotCommand struct {
	lots LotAdministration
}

func NewPublishLotCommand(lots LotAdministration) *PublishLotCommand {
	return &PublishLotCommand{lots: lots}
}

func (c *PublishLotCommand) Execute(ctx context.Context, msg PublishLotMessage) error {
	if c == nil || c.lots == nil {
		return core.MissingDependency("command: lot registry is required")
	}
	return storeLot(ctx, c.lots.PublishLot, msg.LotStatusMessage)
}

type PauseLotCommand struct {
	lots LotAdministration
}

func NewPauseLotCommand(lots LotAdministration) *PauseLotCommand {
	return &PauseLotCommand{lots: lots}
}

func (c *PauseLotCommand) Execute(ctx context.Context, msg PauseLotMessage) error {
	if c == nil || c.lots == nil {
		return core.MissingDependency("command: lot registry is required")
	}
	return storeLot(ctx, c.lots.PauseLot, msg.LotStatusMessage)
}

type CloseLotCommand struct {
	lots LotAdministration
}

func NewCloseLotCommand(lots LotAdministration) *CloseLotCommand {
	return &CloseLotCommand{lots: lots}
}

func (c *CloseLotCommand) Execute(ctx context.Context, msg CloseLotMessage) error {
	if c == nil || c.lots == nil {
		return core.MissingDependency("command: lot registry is required")
	}
	return storeLot(ctx, c.lots.CloseLot, msg.LotStatusMessage)
}

type UpdateLotPriceCommand struct {
	lots LotAdministration
}

func NewUpdateLotPriceCommand(lots LotAdministration) *UpdateLotPriceCommand {
	return &UpdateLotPriceCommand{lots: lots}
}

func (c *UpdateLotPriceCommand) Execute(ctx context.Context, msg UpdateLotPriceMessage) error {
	if c == nil || c.lots == nil {
		return core.MissingDependency("command: lot registry is required")
	}
	out, err := c.lots.UpdateLotPrice(ctx, msg.LotID, msg.PricePerDollar, msg.Actor)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CreateHoldCommand struct {
	service MutatingService
}

func NewCreateHoldCommand(service MutatingService) *CreateHoldCommand {
	return &CreateHoldCommand{service: service}
}

func (c *CreateHoldCommand) Execute(ctx context.Context, msg CreateHoldMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: reservation service is required")
	}
	out, err := c.service.CreateHold(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CancelHoldCommand struct {
	service MutatingService
}

func NewCancelHoldCommand(service MutatingService) *CancelHoldCommand {
	return &CancelHoldCommand{service: service}
}

func (c *CancelHoldCommand) Execute(ctx context.Context, msg CancelHoldMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: reservation service is required")
	}
	return c.service.CancelHold(ctx, msg.HoldID, msg.Actor)
}

type ConvertHoldCommand struct {
	service MutatingService
}

func NewConvertHoldCommand(service MutatingService) *ConvertHoldCommand {
	return &ConvertHoldCommand{service: service}
}

func (c *ConvertHoldCommand) Execute(ctx context.Context, msg ConvertHoldMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: reservation service is required")
	}
	out, err := c.service.ConvertHold(ctx, msg.HoldID, msg.Actor)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CheckoutCommand struct {
	service MutatingService
}

func NewCheckoutCommand(service MutatingService) *CheckoutCommand {
	return &CheckoutCommand{service: service}
}

func (c *CheckoutCommand) Execute(ctx context.Context, msg CheckoutMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: order service is required")
	}
	out, err := c.service.Checkout(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RecordPaymentInitiatedCommand struct {
	service MutatingService
}

func NewRecordPaymentInitiatedCommand(service MutatingService) *RecordPaymentInitiatedCommand {
	return &RecordPaymentInitiatedCommand{service: service}
}

func (c *RecordPaymentInitiatedCommand) Execute(ctx context.Context, msg RecordPaymentInitiatedMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: order service is required")
	}
	out, err := c.service.RecordPaymentInitiated(ctx, msg.OrderID, msg.Actor)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ConfirmPaymentCommand struct {
	service MutatingService
}

func NewConfirmPaymentCommand(service MutatingService) *ConfirmPaymentCommand {
	return &ConfirmPaymentCommand{service: service}
}

func (c *ConfirmPaymentCommand) Execute(ctx context.Context, msg ConfirmPaymentMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: order service is required")
	}
	out, err := c.service.ConfirmPayment(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SetBrokerStatusCommand struct {
	service MutatingService
}

func NewSetBrokerStatusCommand(service MutatingService) *SetBrokerStatusCommand {
	return &SetBrokerStatusCommand{service: service}
}

func (c *SetBrokerStatusCommand) Execute(ctx context.Context, msg SetBrokerStatusMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: order service is required")
	}
	out, err := c.service.SetBrokerStatus(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SettleCommand struct {
	service MutatingService
}

func NewSettleCommand(service MutatingService) *SettleCommand {
	return &SettleCommand{service: service}
}

func (c *SettleCommand) Execute(ctx context.Context, msg SettleMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: order service is required")
	}
	out, err := c.service.Settle(ctx, msg.OrderID, msg.Actor)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CancelOrderCommand struct {
	service MutatingService
}

func NewCancelOrderCommand(service MutatingService) *CancelOrderCommand {
	return &CancelOrderCommand{service: service}
}

func (c *CancelOrderCommand) Execute(ctx context.Context, msg CancelOrderMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: order service is required")
	}
	out, err := c.service.CancelOrder(ctx, msg.OrderID, msg.Reason, msg.Actor)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SweepCommand struct {
	sweeper SweepService
}

func NewSweepCommand(sweeper SweepService) *SweepCommand {
	return &SweepCommand{sweeper: sweeper}
}

func (c *SweepCommand) Execute(ctx context.Context, _ SweepMessage) error {
	if c == nil || c.sweeper == nil {
		return core.MissingDependency("command: sweeper is required")
	}
	out, err := c.sweeper.SweepOnce(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeLot(
	ctx context.Context,
	apply func(context.Context, string, core.Actor) (core.CreditLot, error),
	msg LotStatusMessage,
) error {
	out, err := apply(ctx, msg.LotID, msg.Actor)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
