package command

import (
	"context"
	"errors"
	"testing"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-creditlots/core"
	"github.com/shopspring/decimal"
)

func TestCheckoutCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	called := false
	svc := stubMutatingService{
		checkoutFn: func(_ context.Context, req core.CheckoutRequest) (core.PurchaseOrder, error) {
			called = true
			if req.LotID != "lot-1" || req.BuyerID != "buyer-a" || req.AmountUSD != 50000 {
				t.Fatalf("unexpected checkout request: %#v", req)
			}
			return core.PurchaseOrder{ID: "order-1", Status: core.OrderStatusReserved}, nil
		},
	}

	cmd := NewCheckoutCommand(svc)
	collector := gocmd.NewResult[core.PurchaseOrder]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	err := cmd.Execute(ctx, CheckoutMessage{Request: core.CheckoutRequest{LotID: "lot-1", BuyerID: "buyer-a", AmountUSD: 50000}})
	if err != nil {
		t.Fatalf("execute checkout: %v", err)
	}
	if !called {
		t.Fatalf("expected checkout invocation")
	}
	result, ok := collector.Load()
	if !ok || result.ID != "order-1" {
		t.Fatalf("expected stored order-1, got %#v (stored=%v)", result, ok)
	}
}

func TestMutationCommands_DelegateToService(t *testing.T) {
	buyer := core.Actor{ID: "buyer-a", Role: core.ActorRoleBuyer}
	broker := core.Actor{ID: "broker-1", Role: core.ActorRoleBroker}

	t.Run("cancel hold", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			cancelHoldFn: func(_ context.Context, holdID string, requester core.Actor) error {
				called = true
				if holdID != "hold-1" || requester != buyer {
					t.Fatalf("unexpected cancel hold payload: %q %#v", holdID, requester)
				}
				return nil
			},
		}
		if err := NewCancelHoldCommand(svc).Execute(context.Background(), CancelHoldMessage{HoldID: "hold-1", Actor: buyer}); err != nil {
			t.Fatalf("execute cancel hold: %v", err)
		}
		if !called {
			t.Fatalf("expected cancel hold invocation")
		}
	})

	t.Run("confirm payment", func(t *testing.T) {
		svc := stubMutatingService{
			confirmPaymentFn: func(_ context.Context, req core.ConfirmPaymentRequest) (core.PaymentResult, error) {
				if req.ExternalRef != "pay-1" || !req.AmountPaid.Equal(decimal.RequireFromString("46000")) {
					t.Fatalf("unexpected confirm payment request: %#v", req)
				}
				return core.PaymentResult{Order: core.PurchaseOrder{ID: req.OrderID, Status: core.OrderStatusPaid}, Duplicate: true}, nil
			},
		}
		collector := gocmd.NewResult[core.PaymentResult]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		err := NewConfirmPaymentCommand(svc).Execute(ctx, ConfirmPaymentMessage{Request: core.ConfirmPaymentRequest{
			OrderID:     "order-1",
			ExternalRef: "pay-1",
			AmountPaid:  decimal.RequireFromString("46000"),
		}})
		if err != nil {
			t.Fatalf("execute confirm payment: %v", err)
		}
		result, ok := collector.Load()
		if !ok || !result.Duplicate || result.Order.Status != core.OrderStatusPaid {
			t.Fatalf("expected duplicate paid result, got %#v", result)
		}
	})

	t.Run("settle", func(t *testing.T) {
		svc := stubMutatingService{
			settleFn: func(_ context.Context, orderID string, actor core.Actor) (core.SettleResult, error) {
				if orderID != "order-1" || actor != broker {
					t.Fatalf("unexpected settle payload: %q %#v", orderID, actor)
				}
				return core.SettleResult{CertificateRequestID: "cert-1"}, nil
			},
		}
		collector := gocmd.NewResult[core.SettleResult]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		if err := NewSettleCommand(svc).Execute(ctx, SettleMessage{OrderID: "order-1", Actor: broker}); err != nil {
			t.Fatalf("execute settle: %v", err)
		}
		if result, _ := collector.Load(); result.CertificateRequestID != "cert-1" {
			t.Fatalf("expected certificate request id cert-1, got %q", result.CertificateRequestID)
		}
	})

	t.Run("cancel order passes reason", func(t *testing.T) {
		svc := stubMutatingService{
			cancelOrderFn: func(_ context.Context, orderID string, reason string, actor core.Actor) (core.PurchaseOrder, error) {
				if orderID != "order-1" || reason != "buyer request" || actor != buyer {
					t.Fatalf("unexpected cancel payload: %q %q %#v", orderID, reason, actor)
				}
				return core.PurchaseOrder{ID: orderID, Status: core.OrderStatusCancelled}, nil
			},
		}
		if err := NewCancelOrderCommand(svc).Execute(context.Background(), CancelOrderMessage{OrderID: "order-1", Reason: "buyer request", Actor: buyer}); err != nil {
			t.Fatalf("execute cancel order: %v", err)
		}
	})
}

func TestMutationCommands_PropagateServiceErrors(t *testing.T) {
	expected := errors.New("boom")
	svc := stubMutatingService{
		createHoldFn: func(context.Context, core.CreateHoldRequest) (core.Hold, error) {
			return core.Hold{}, expected
		},
	}
	collector := gocmd.NewResult[core.Hold]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	err := NewCreateHoldCommand(svc).Execute(ctx, CreateHoldMessage{Request: core.CreateHoldRequest{LotID: "lot-1", BuyerID: "b", AmountUSD: 1}})
	if !errors.Is(err, expected) {
		t.Fatalf("expected service error, got %v", err)
	}
	if _, ok := collector.Load(); ok {
		t.Fatalf("expected no result stored on failure")
	}
}

func TestLotCommands_DelegateToRegistry(t *testing.T) {
	admin := core.Actor{ID: "admin-1", Role: core.ActorRoleAdmin}
	var calls []string
	lots := stubLotAdministration{
		publishFn: func(_ context.Context, lotID string, actor core.Actor) (core.CreditLot, error) {
			calls = append(calls, "publish:"+lotID)
			return core.CreditLot{ID: lotID, Status: core.LotStatusActive}, nil
		},
		pauseFn: func(_ context.Context, lotID string, actor core.Actor) (core.CreditLot, error) {
			calls = append(calls, "pause:"+lotID)
			return core.CreditLot{ID: lotID, Status: core.LotStatusPaused}, nil
		},
		updatePriceFn: func(_ context.Context, lotID string, price decimal.Decimal, actor core.Actor) (core.CreditLot, error) {
			calls = append(calls, "price:"+price.String())
			return core.CreditLot{ID: lotID, PricePerDollar: price}, nil
		},
	}

	collector := gocmd.NewResult[core.CreditLot]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := NewPublishLotCommand(lots).Execute(ctx, PublishLotMessage{LotStatusMessage{LotID: "lot-1", Actor: admin}}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if lot, _ := collector.Load(); lot.Status != core.LotStatusActive {
		t.Fatalf("expected active lot stored, got %#v", lot)
	}
	if err := NewPauseLotCommand(lots).Execute(context.Background(), PauseLotMessage{LotStatusMessage{LotID: "lot-1", Actor: admin}}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := NewUpdateLotPriceCommand(lots).Execute(context.Background(), UpdateLotPriceMessage{LotID: "lot-1", PricePerDollar: decimal.RequireFromString("0.95"), Actor: admin}); err != nil {
		t.Fatalf("update price: %v", err)
	}
	if len(calls) != 3 || calls[0] != "publish:lot-1" || calls[1] != "pause:lot-1" || calls[2] != "price:0.95" {
		t.Fatalf("unexpected registry calls: %v", calls)
	}
}

func TestSweepCommand_StoresReport(t *testing.T) {
	sweeper := stubSweepService{
		sweepFn: func(context.Context) (core.SweepReport, error) {
			return core.SweepReport{HoldsExpired: 2, Released: 150000}, nil
		},
	}
	collector := gocmd.NewResult[core.SweepReport]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := NewSweepCommand(sweeper).Execute(ctx, SweepMessage{}); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	report, ok := collector.Load()
	if !ok || report.HoldsExpired != 2 || report.Released != 150000 {
		t.Fatalf("unexpected sweep report: %#v", report)
	}
}

type stubMutatingService struct {
	createHoldFn             func(context.Context, core.CreateHoldRequest) (core.Hold, error)
	cancelHoldFn             func(context.Context, string, core.Actor) error
	convertHoldFn            func(context.Context, string, core.Actor) (core.PurchaseOrder, error)
	checkoutFn               func(context.Context, core.CheckoutRequest) (core.PurchaseOrder, error)
	recordPaymentInitiatedFn func(context.Context, string, core.Actor) (core.PurchaseOrder, error)
	confirmPaymentFn         func(context.Context, core.ConfirmPaymentRequest) (core.PaymentResult, error)
	setBrokerStatusFn        func(context.Context, core.SetBrokerStatusRequest) (core.PurchaseOrder, error)
	settleFn                 func(context.Context, string, core.Actor) (core.SettleResult, error)
	cancelOrderFn            func(context.Context, string, string, core.Actor) (core.PurchaseOrder, error)
}

func (s stubMutatingService) CreateHold(ctx context.Context, req core.CreateHoldRequest) (core.Hold, error) {
	if s.createHoldFn == nil {
		return core.Hold{}, nil
	}
	return s.createHoldFn(ctx, req)
}

func (s stubMutatingService) CancelHold(ctx context.Context, holdID string, requester core.Actor) error {
	if s.cancelHoldFn == nil {
		return nil
	}
	return s.cancelHoldFn(ctx, holdID, requester)
}

func (s stubMutatingService) ConvertHold(ctx context.Context, holdID string, requester core.Actor) (core.PurchaseOrder, error) {
	if s.convertHoldFn == nil {
		return core.PurchaseOrder{}, nil
	}
	return s.convertHoldFn(ctx, holdID, requester)
}

func (s stubMutatingService) Checkout(ctx context.Context, req core.CheckoutRequest) (core.PurchaseOrder, error) {
	if s.checkoutFn == nil {
		return core.PurchaseOrder{}, nil
	}
	return s.checkoutFn(ctx, req)
}

func (s stubMutatingService) RecordPaymentInitiated(ctx context.Context, orderID string, actor core.Actor) (core.PurchaseOrder, error) {
	if s.recordPaymentInitiatedFn == nil {
		return core.PurchaseOrder{}, nil
	}
	return s.recordPaymentInitiatedFn(ctx, orderID, actor)
}

func (s stubMutatingService) ConfirmPayment(ctx context.Context, req core.ConfirmPaymentRequest) (core.PaymentResult, error) {
	if s.confirmPaymentFn == nil {
		return core.PaymentResult{}, nil
	}
	return s.confirmPaymentFn(ctx, req)
}

func (s stubMutatingService) SetBrokerStatus(ctx context.Context, req core.SetBrokerStatusRequest) (core.PurchaseOrder, error) {
	if s.setBrokerStatusFn == nil {
		return core.PurchaseOrder{}, nil
	}
	return s.setBrokerStatusFn(ctx, req)
}

func (s stubMutatingService) Settle(ctx context.Context, orderID string, actor core.Actor) (core.SettleResult, error) {
	if s.settleFn == nil {
		return core.SettleResult{}, nil
	}
	return s.settleFn(ctx, orderID, actor)
}

func (s stubMutatingService) CancelOrder(ctx context.Context, orderID string, reason string, actor core.Actor) (core.PurchaseOrder, error) {
	if s.cancelOrderFn == nil {
		return core.PurchaseOrder{}, nil
	}
	return s.cancelOrderFn(ctx, orderID, reason, actor)
}

type stubLotAdministration struct {
	createFn      func(context.Context, core.CreateLotRequest, core.Actor) (core.CreditLot, error)
	publishFn     func(context.Context, string, core.Actor) (core.CreditLot, error)
	pauseFn       func(context.Context, string, core.Actor) (core.CreditLot, error)
	closeFn       func(context.Context, string, core.Actor) (core.CreditLot, error)
	updatePriceFn func(context.Context, string, decimal.Decimal, core.Actor) (core.CreditLot, error)
}

func (s stubLotAdministration) CreateLot(ctx context.Context, req core.CreateLotRequest, actor core.Actor) (core.CreditLot, error) {
	if s.createFn == nil {
		return core.CreditLot{}, nil
	}
	return s.createFn(ctx, req, actor)
}

func (s stubLotAdministration) PublishLot(ctx context.Context, lotID string, actor core.Actor) (core.CreditLot, error) {
	if s.publishFn == nil {
		return core.CreditLot{}, nil
	}
	return s.publishFn(ctx, lotID, actor)
}

func (s stubLotAdministration) PauseLot(ctx context.Context, lotID string, actor core.Actor) (core.CreditLot, error) {
	if s.pauseFn == nil {
		return core.CreditLot{}, nil
	}
	return s.pauseFn(ctx, lotID, actor)
}

func (s stubLotAdministration) CloseLot(ctx context.Context, lotID string, actor core.Actor) (core.CreditLot, error) {
	if s.closeFn == nil {
		return core.CreditLot{}, nil
	}
	return s.closeFn(ctx, lotID, actor)
}

func (s stubLotAdministration) UpdateLotPrice(ctx context.Context, lotID string, price decimal.Decimal, actor core.Actor) (core.CreditLot, error) {
	if s.updatePriceFn == nil {
		return core.CreditLot{}, nil
	}
	return s.updatePriceFn(ctx, lotID, price, actor)
}

type stubSweepService struct {
	sweepFn func(context.Context) (core.SweepReport, error)
}

func (s stubSweepService) SweepOnce(ctx context.Context) (core.SweepReport, error) {
	if s.sweepFn == nil {
		return core.SweepReport{}, nil
	}
	return s.sweepFn(ctx)
}
