package creditlots

import (
	"fmt"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-creditlots/adapters/gocommand"
	creditcommand "github.com/goliatone/go-creditlots/command"
	"github.com/goliatone/go-creditlots/core"
	creditquery "github.com/goliatone/go-creditlots/query"
)

type CommandQueryService interface {
	creditcommand.MutatingService
	creditcommand.SweepService
}

type Commands struct {
	CreateLot              *creditcommand.CreateLotCommand
	PublishLot             *creditcommand.PublishLotCommand
	PauseLot               *creditcommand.PauseLotCommand
	CloseLot               *creditcommand.CloseLotCommand
	UpdateLotPrice         *creditcommand.UpdateLotPriceCommand
	CreateHold             *creditcommand.CreateHoldCommand
	CancelHold             *creditcommand.CancelHoldCommand
	ConvertHold            *creditcommand.ConvertHoldCommand
	Checkout               *creditcommand.CheckoutCommand
	RecordPaymentInitiated *creditcommand.RecordPaymentInitiatedCommand
	ConfirmPayment         *creditcommand.ConfirmPaymentCommand
	SetBrokerStatus        *creditcommand.SetBrokerStatusCommand
	Settle                 *creditcommand.SettleCommand
	CancelOrder            *creditcommand.CancelOrderCommand
	Sweep                  *creditcommand.SweepCommand
}

type Queries struct {
	GetLot          *creditquery.GetLotQuery
	ListLots        *creditquery.ListLotsQuery
	CapacitySummary *creditquery.CapacitySummaryQuery
	GetHold         *creditquery.GetHoldQuery
	ListHolds       *creditquery.ListHoldsQuery
	GetOrder        *creditquery.GetOrderQuery
	ListOrders      *creditquery.ListOrdersQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	lotAdmin    creditcommand.LotAdministration
	lotReader   creditquery.LotReader
	holdReader  creditquery.HoldReader
	orderReader creditquery.OrderReader
}

func WithLotAdministration(lots creditcommand.LotAdministration) FacadeOption {
	return func(options *facadeOptions) {
		options.lotAdmin = lots
	}
}

// WithLotReader replaces the lot read side, typically with a cached reader.
func WithLotReader(reader creditquery.LotReader) FacadeOption {
	return func(options *facadeOptions) {
		options.lotReader = reader
	}
}

func WithHoldReader(reader creditquery.HoldReader) FacadeOption {
	return func(options *facadeOptions) {
		options.holdReader = reader
	}
}

func WithOrderReader(reader creditquery.OrderReader) FacadeOption {
	return func(options *facadeOptions) {
		options.orderReader = reader
	}
}

// engineComponents is implemented by *core.Service.
type engineComponents interface {
	Lots() *core.LotRegistry
	Reservations() *core.ReservationManager
	Orders() *core.OrderController
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("creditlots: command/query service is required")
	}
	cfg := facadeOptions{}
	if components, ok := service.(engineComponents); ok {
		cfg.lotAdmin = components.Lots()
		cfg.lotReader = components.Lots()
		cfg.holdReader = components.Reservations()
		cfg.orderReader = components.Orders()
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		CreateLot:              creditcommand.NewCreateLotCommand(cfg.lotAdmin),
		PublishLot:             creditcommand.NewPublishLotCommand(cfg.lotAdmin),
		PauseLot:               creditcommand.NewPauseLotCommand(cfg.lotAdmin),
		CloseLot:               creditcommand.NewCloseLotCommand(cfg.lotAdmin),
		UpdateLotPrice:         creditcommand.NewUpdateLotPriceCommand(cfg.lotAdmin),
		CreateHold:             creditcommand.NewCreateHoldCommand(service),
		CancelHold:             creditcommand.NewCancelHoldCommand(service),
		ConvertHold:            creditcommand.NewConvertHoldCommand(service),
		Checkout:               creditcommand.NewCheckoutCommand(service),
		RecordPaymentInitiated: creditcommand.NewRecordPaymentInitiatedCommand(service),
		ConfirmPayment:         creditcommand.NewConfirmPaymentCommand(service),
		SetBrokerStatus:        creditcommand.NewSetBrokerStatusCommand(service),
		Settle:                 creditcommand.NewSettleCommand(service),
		CancelOrder:            creditcommand.NewCancelOrderCommand(service),
		Sweep:                  creditcommand.NewSweepCommand(service),
	}
	facade.queries = Queries{
		GetLot:          creditquery.NewGetLotQuery(cfg.lotReader),
		ListLots:        creditquery.NewListLotsQuery(cfg.lotReader),
		CapacitySummary: creditquery.NewCapacitySummaryQuery(cfg.lotReader),
		GetHold:         creditquery.NewGetHoldQuery(cfg.holdReader),
		ListHolds:       creditquery.NewListHoldsQuery(cfg.holdReader),
		GetOrder:        creditquery.NewGetOrderQuery(cfg.orderReader),
		ListOrders:      creditquery.NewListOrdersQuery(cfg.orderReader),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// Register adds every command and query to the go-command registry and
// subscribes them to the dispatcher. The caller still runs Initialize.
func (f *Facade) Register(adapter *gocommand.RegistryAdapter) (gocommand.Subscriptions, error) {
	if f == nil {
		return nil, fmt.Errorf("creditlots: facade is nil")
	}
	if adapter == nil {
		return nil, fmt.Errorf("creditlots: command registry adapter is required")
	}
	var subs gocommand.Subscriptions
	steps := []func() error{
		func() error { return subscribe[creditcommand.CreateLotMessage](&subs, adapter, f.commands.CreateLot) },
		func() error { return subscribe[creditcommand.PublishLotMessage](&subs, adapter, f.commands.PublishLot) },
		func() error { return subscribe[creditcommand.PauseLotMessage](&subs, adapter, f.commands.PauseLot) },
		func() error { return subscribe[creditcommand.CloseLotMessage](&subs, adapter, f.commands.CloseLot) },
		func() error {
			return subscribe[creditcommand.UpdateLotPriceMessage](&subs, adapter, f.commands.UpdateLotPrice)
		},
		func() error { return subscribe[creditcommand.CreateHoldMessage](&subs, adapter, f.commands.CreateHold) },
		func() error { return subscribe[creditcommand.CancelHoldMessage](&subs, adapter, f.commands.CancelHold) },
		func() error { return subscribe[creditcommand.ConvertHoldMessage](&subs, adapter, f.commands.ConvertHold) },
		func() error { return subscribe[creditcommand.CheckoutMessage](&subs, adapter, f.commands.Checkout) },
		func() error {
			return subscribe[creditcommand.RecordPaymentInitiatedMessage](&subs, adapter, f.commands.RecordPaymentInitiated)
		},
		func() error {
			return subscribe[creditcommand.ConfirmPaymentMessage](&subs, adapter, f.commands.ConfirmPayment)
		},
		func() error {
			return subscribe[creditcommand.SetBrokerStatusMessage](&subs, adapter, f.commands.SetBrokerStatus)
		},
		func() error { return subscribe[creditcommand.SettleMessage](&subs, adapter, f.commands.Settle) },
		func() error { return subscribe[creditcommand.CancelOrderMessage](&subs, adapter, f.commands.CancelOrder) },
		func() error { return subscribe[creditcommand.SweepMessage](&subs, adapter, f.commands.Sweep) },
		func() error {
			return subscribeQuery[creditquery.GetLotMessage, core.CreditLot](&subs, adapter, f.queries.GetLot)
		},
		func() error {
			return subscribeQuery[creditquery.ListLotsMessage, []core.CreditLot](&subs, adapter, f.queries.ListLots)
		},
		func() error {
			return subscribeQuery[creditquery.CapacitySummaryMessage, core.CapacitySummary](&subs, adapter, f.queries.CapacitySummary)
		},
		func() error {
			return subscribeQuery[creditquery.GetHoldMessage, core.Hold](&subs, adapter, f.queries.GetHold)
		},
		func() error {
			return subscribeQuery[creditquery.ListHoldsMessage, []core.Hold](&subs, adapter, f.queries.ListHolds)
		},
		func() error {
			return subscribeQuery[creditquery.GetOrderMessage, core.PurchaseOrder](&subs, adapter, f.queries.GetOrder)
		},
		func() error {
			return subscribeQuery[creditquery.ListOrdersMessage, []core.PurchaseOrder](&subs, adapter, f.queries.ListOrders)
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			subs.Unsubscribe()
			return nil, err
		}
	}
	return subs, nil
}

func subscribe[T any](subs *gocommand.Subscriptions, adapter *gocommand.RegistryAdapter, cmd gocmd.Commander[T]) error {
	subscription, err := gocommand.RegisterAndSubscribe(adapter, cmd)
	if err != nil {
		return err
	}
	*subs = append(*subs, subscription)
	return nil
}

func subscribeQuery[T any, R any](subs *gocommand.Subscriptions, adapter *gocommand.RegistryAdapter, qry gocmd.Querier[T, R]) error {
	subscription, err := gocommand.RegisterAndSubscribeQuery(adapter, qry)
	if err != nil {
		return err
	}
	*subs = append(*subs, subscription)
	return nil
}
