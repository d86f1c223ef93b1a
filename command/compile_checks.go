package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-creditlots/core"
)

var (
	_ gocmd.Commander[CreateLotMessage]              = (*CreateLotCommand)(nil)
	_ gocmd.Commander[PublishLotMessage]             = (*PublishLotCommand)(nil)
	_ gocmd.Commander[PauseLotMessage]               = (*PauseLotCommand)(nil)
	_ gocmd.Commander[CloseLotMessage]               = (*CloseLotCommand)(nil)
	_ gocmd.Commander[UpdateLotPriceMessage]         = (*UpdateLotPriceCommand)(nil)
	_ gocmd.Commander[CreateHoldMessage]             = (*CreateHoldCommand)(nil)
	_ gocmd.Commander[CancelHoldMessage]             = (*CancelHoldCommand)(nil)
	_ gocmd.Commander[ConvertHoldMessage]            = (*ConvertHoldCommand)(nil)
	_ gocmd.Commander[CheckoutMessage]               = (*CheckoutCommand)(nil)
	_ gocmd.Commander[RecordPaymentInitiatedMessage] = (*RecordPaymentInitiatedCommand)(nil)
	_ gocmd.Commander[ConfirmPaymentMessage]         = (*ConfirmPaymentCommand)(nil)
	_ gocmd.Commander[SetBrokerStatusMessage]        = (*SetBrokerStatusCommand)(nil)
	_ gocmd.Commander[SettleMessage]                 = (*SettleCommand)(nil)
	_ gocmd.Commander[CancelOrderMessage]            = (*CancelOrderCommand)(nil)
	_ gocmd.Commander[SweepMessage]                  = (*SweepCommand)(nil)

	_ MutatingService   = (*core.Service)(nil)
	_ LotAdministration = (*core.LotRegistry)(nil)
	_ SweepService      = (*core.Service)(nil)
)
