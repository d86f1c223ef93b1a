package webhooks

import (
	"context"
	"net/http"
	"time"

	"github.com/goliatone/go-creditlots/core"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

const defaultReplayTTL = 24 * time.Hour

type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, req core.ConfirmPaymentRequest) (core.PaymentResult, error)
}

// ReplayReleaser is implemented by ledgers that can forget a claim.
type ReplayReleaser interface {
	Release(ctx context.Context, key string) error
}

type Result struct {
	StatusCode int
	DeliveryID string
	Replayed   bool
	Ignored    bool
	Payment    core.PaymentResult
}

type PaymentProcessor struct {
	Verifier  Verifier
	Ledger    core.ReplayLedger
	Payments  PaymentConfirmer
	ReplayTTL time.Duration
	Logger    core.Logger
}

func NewPaymentProcessor(verifier Verifier, ledger core.ReplayLedger, payments PaymentConfirmer) *PaymentProcessor {
	return &PaymentProcessor{
		Verifier:  verifier,
		Ledger:    ledger,
		Payments:  payments,
		ReplayTTL: defaultReplayTTL,
		Logger:    glog.Nop(),
	}
}

func (p *PaymentProcessor) Process(ctx context.Context, req Request) (Result, error) {
	if p == nil || p.Payments == nil || p.Verifier == nil {
		return Result{StatusCode: http.StatusInternalServerError},
			goerrors.New("webhooks: payment processor requires a verifier and a payment confirmer", goerrors.CategoryInternal).
				WithCode(http.StatusInternalServerError).
				WithTextCode(core.ErrorInternal)
	}
	if err := p.Verifier.Verify(ctx, req); err != nil {
		p.logger().Warn("payment callback rejected", "error", err)
		return Result{StatusCode: http.StatusUnauthorized}, signatureError(err)
	}

	notification, err := ParsePaymentNotification(req.Body)
	if err != nil {
		return Result{StatusCode: http.StatusBadRequest}, err
	}
	deliveryID := notification.DeliveryID
	if deliveryID == "" {
		deliveryID = req.Header(HeaderDeliveryID)
	}
	if deliveryID == "" {
		deliveryID = notification.ExternalRef
	}
	result := Result{DeliveryID: deliveryID}

	// Non success callbacks must not consume the replay key: without a
	// delivery id it is shared with the later succeeded callback.
	if !notification.Confirms() {
		result.StatusCode = http.StatusAccepted
		result.Ignored = true
		return result, nil
	}

	replayKey := "payment:" + deliveryID
	if p.Ledger != nil {
		claimed, claimErr := p.Ledger.Claim(ctx, replayKey, p.replayTTL())
		if claimErr != nil {
			result.StatusCode = http.StatusInternalServerError
			return result, core.ExternalDependencyError(claimErr, "webhooks: replay ledger unavailable")
		}
		if !claimed {
			result.StatusCode = http.StatusOK
			result.Replayed = true
			return result, nil
		}
	}

	payment, err := p.Payments.ConfirmPayment(ctx, notification.ConfirmRequest())
	if err != nil {
		p.release(ctx, replayKey)
		result.StatusCode = StatusCode(err)
		return result, err
	}
	result.StatusCode = http.StatusOK
	result.Payment = payment
	p.logger().Info("payment callback applied",
		"delivery_id", deliveryID,
		"order_id", payment.Order.ID,
		"duplicate", payment.Duplicate,
	)
	return result, nil
}

// StatusCode returns the HTTP status carried by err, or 500.
func StatusCode(err error) int {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Code > 0 {
		return rich.Code
	}
	return http.StatusInternalServerError
}

func (p *PaymentProcessor) release(ctx context.Context, key string) {
	releaser, ok := p.Ledger.(ReplayReleaser)
	if !ok {
		return
	}
	if err := releaser.Release(context.WithoutCancel(ctx), key); err != nil {
		p.logger().Warn("payment replay claim release failed", "key", key, "error", err)
	}
}

func (p *PaymentProcessor) replayTTL() time.Duration {
	if p.ReplayTTL > 0 {
		return p.ReplayTTL
	}
	return defaultReplayTTL
}

func (p *PaymentProcessor) logger() core.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return glog.Nop()
}
