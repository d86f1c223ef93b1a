package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	CancelReasonPaymentTimeout     = "payment_timeout"
	CancelReasonReservationExpired = "reservation_expired"
)

// OrderController is the only writer of purchase orders once they exist.
// Every transition is a conditional update keyed on the order's current status.
type OrderController struct {
	svc *Service
}

// Checkout reserves capacity and opens a RESERVED order in one transaction,
// skipping the explicit hold.
func (c *OrderController) Checkout(ctx context.Context, req CheckoutRequest) (order PurchaseOrder, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"lot_id": req.LotID, "buyer_id": req.BuyerID, "amount_usd": req.AmountUSD}
	defer func() {
		fields["order_id"] = order.ID
		err = c.svc.complete(ctx, startedAt, "checkout", err, fields)
	}()

	lotID, buyerID, err := validatePurchase(req.LotID, req.BuyerID, req.AmountUSD)
	if err != nil {
		return PurchaseOrder{}, err
	}
	buyer := Actor{ID: buyerID, Role: ActorRoleBuyer}
	err = c.svc.inCapacityTx(ctx, lotID, func(ctx context.Context, tx StoreTx, events *eventBatch) error {
		lot, getErr := tx.GetLot(ctx, lotID)
		if getErr != nil {
			return getErr
		}
		if _, reserveErr := c.svc.lots.reserveIn(ctx, tx, lot, req.AmountUSD); reserveErr != nil {
			return reserveErr
		}
		now := c.svc.clock()
		order = PurchaseOrder{
			ID:             c.svc.newID(),
			LotID:          lotID,
			BuyerID:        buyerID,
			AmountFaceUSD:  req.AmountUSD,
			PricePerDollar: lot.PricePerDollar,
			TotalCostUSD:   totalCost(req.AmountUSD, lot.PricePerDollar),
			Status:         OrderStatusReserved,
			Revision:       1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if createErr := tx.CreateOrder(ctx, order); createErr != nil {
			return createErr
		}
		events.add(c.svc.newEvent(EventOrderCreated, EntityOrder, order.ID, lotID, buyer, order.AmountFaceUSD,
			map[string]any{"total_cost_usd": order.TotalCostUSD.StringFixed(2)}))
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return order, nil
}

func (c *OrderController) RecordPaymentInitiated(ctx context.Context, orderID string, actor Actor) (order PurchaseOrder, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"order_id": orderID, "actor_role": string(actor.Role)}
	defer func() {
		err = c.svc.complete(ctx, startedAt, "record_payment_initiated", err, fields)
	}()

	if orderID, err = requireID(orderID, "order_id"); err != nil {
		return PurchaseOrder{}, err
	}
	if err = requireActor(actor); err != nil {
		return PurchaseOrder{}, err
	}
	err = c.svc.inTx(ctx, func(ctx context.Context, tx StoreTx, events *eventBatch) error {
		current, getErr := tx.GetOrder(ctx, orderID)
		if getErr != nil {
			return getErr
		}
		fields["lot_id"] = current.LotID
		if ownerErr := authorizeBuyer(current.BuyerID, actor, EntityOrder, orderID); ownerErr != nil {
			return ownerErr
		}
		if current.Status != OrderStatusReserved {
			return invalidTransition(EntityOrder, orderID, string(current.Status), "record_payment_initiated")
		}
		next, moveErr := c.transition(ctx, tx, current, "record_payment_initiated", OrderTransition{
			From: []OrderStatus{OrderStatusReserved},
			To:   OrderStatusPaymentPending,
		})
		if moveErr != nil {
			return moveErr
		}
		order = next
		events.add(c.svc.newEvent(EventPaymentInitiated, EntityOrder, orderID, current.LotID, actor, current.AmountFaceUSD, nil))
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return order, nil
}

// ConfirmPayment records the collector's confirmation and marks the order PAID.
// The payment row and the transition commit together or not at all. A repeated
// external reference for the same order returns the current order with
// Duplicate set and emits nothing.
func (c *OrderController) ConfirmPayment(ctx context.Context, req ConfirmPaymentRequest) (result PaymentResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"order_id": req.OrderID, "external_ref": req.ExternalRef}
	defer func() {
		fields["duplicate"] = result.Duplicate
		err = c.svc.complete(ctx, startedAt, "confirm_payment", err, fields)
	}()

	orderID, err := requireID(req.OrderID, "order_id")
	if err != nil {
		return PaymentResult{}, err
	}
	externalRef, err := requireID(req.ExternalRef, "external_ref")
	if err != nil {
		return PaymentResult{}, err
	}
	if req.AmountPaid.IsNegative() {
		return PaymentResult{}, badInput("core: amount_paid must not be negative")
	}

	// a concurrent confirmation with the same reference loses on the unique
	// key; the second pass then reads it back as a duplicate
	for attempt := 0; attempt < 2; attempt++ {
		result, err = c.confirmOnce(ctx, orderID, externalRef, req.AmountPaid, fields)
		if !errors.Is(err, ErrDuplicateExternalRef) {
			break
		}
	}
	if err != nil {
		return PaymentResult{}, err
	}
	return result, nil
}

func (c *OrderController) confirmOnce(ctx context.Context, orderID string, externalRef string, amountPaid decimal.Decimal, fields map[string]any) (result PaymentResult, err error) {
	collector := Actor{ID: "payment:" + externalRef, Role: ActorRoleSystem}
	err = c.svc.inTx(ctx, func(ctx context.Context, tx StoreTx, events *eventBatch) error {
		existing, getErr := tx.GetPayment(ctx, externalRef)
		switch {
		case getErr == nil:
			if existing.OrderID != orderID {
				return conflictError(ErrorExternalRefReused, "core: external reference already confirmed another order",
					map[string]any{"external_ref": externalRef, "order_id": orderID})
			}
			order, orderErr := tx.GetOrder(ctx, orderID)
			if orderErr != nil {
				return orderErr
			}
			result = PaymentResult{Order: order, Duplicate: true}
			return nil
		case !errors.Is(getErr, ErrPaymentNotFound):
			return getErr
		}

		current, getErr := tx.GetOrder(ctx, orderID)
		if getErr != nil {
			return getErr
		}
		fields["lot_id"] = current.LotID
		if current.Status != OrderStatusPaymentPending {
			return invalidTransition(EntityOrder, orderID, string(current.Status), "confirm_payment")
		}
		paid := amountPaid
		if paid.IsZero() {
			paid = current.TotalCostUSD
		}
		if paid.LessThan(current.TotalCostUSD) {
			return validationError(ErrorPaymentAmountMismatch, "core: amount paid is below the order total",
				map[string]any{"order_id": orderID, "amount_paid": paid.StringFixed(2), "total_cost_usd": current.TotalCostUSD.StringFixed(2)})
		}
		now := c.svc.clock()
		if recordErr := tx.RecordPayment(ctx, PaymentConfirmation{
			ExternalRef: externalRef,
			OrderID:     orderID,
			AmountPaid:  paid,
			ConfirmedAt: now,
		}); recordErr != nil {
			return recordErr
		}
		pending := BrokerStatusPending
		next, moveErr := c.transition(ctx, tx, current, "confirm_payment", OrderTransition{
			From:       []OrderStatus{OrderStatusPaymentPending},
			To:         OrderStatusPaid,
			Broker:     &pending,
			PaymentRef: externalRef,
			AmountPaid: &paid,
		})
		if moveErr != nil {
			return moveErr
		}
		result = PaymentResult{Order: next}
		events.add(c.svc.newEvent(EventPaymentConfirmed, EntityOrder, orderID, current.LotID, collector, current.AmountFaceUSD,
			map[string]any{"external_ref": externalRef, "amount_paid": paid.StringFixed(2)}))
		return nil
	})
	return result, err
}

// SetBrokerStatus records the broker's review of a PAID order.
func (c *OrderController) SetBrokerStatus(ctx context.Context, req SetBrokerStatusRequest) (order PurchaseOrder, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"order_id": req.OrderID, "broker_status": string(req.Status), "actor_role": string(req.Actor.Role)}
	defer func() {
		err = c.svc.complete(ctx, startedAt, "set_broker_status", err, fields)
	}()

	orderID, err := requireID(req.OrderID, "order_id")
	if err != nil {
		return PurchaseOrder{}, err
	}
	if err = requireActor(req.Actor); err != nil {
		return PurchaseOrder{}, err
	}
	status, ok := ParseBrokerStatus(string(req.Status))
	if !ok {
		return PurchaseOrder{}, badInput("core: broker status is invalid")
	}
	note := strings.TrimSpace(req.Note)
	err = c.svc.inTx(ctx, func(ctx context.Context, tx StoreTx, events *eventBatch) error {
		current, lot, getErr := c.orderWithLot(ctx, tx, orderID)
		if getErr != nil {
			return getErr
		}
		fields["lot_id"] = current.LotID
		if authErr := authorizeBrokerActor(lot, req.Actor); authErr != nil {
			return authErr
		}
		if current.Status != OrderStatusPaid {
			return invalidTransition(EntityOrder, orderID, string(current.Status), "set_broker_status")
		}
		if current.BrokerStatus == status && current.BrokerNote == note {
			order = current
			return nil
		}
		next, moveErr := c.transition(ctx, tx, current, "set_broker_status", OrderTransition{
			From:       []OrderStatus{OrderStatusPaid},
			To:         OrderStatusPaid,
			Broker:     &status,
			BrokerNote: &note,
		})
		if moveErr != nil {
			return moveErr
		}
		order = next
		events.add(c.svc.newEvent(EventBrokerStatusChanged, EntityOrder, orderID, current.LotID, req.Actor, current.AmountFaceUSD,
			map[string]any{"from": string(current.BrokerStatus), "to": string(status), "note": note}))
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return order, nil
}

// Settle completes a PAID and APPROVED order, moves its amount into the lot's
// settled total, and then asks the certificate requester for a certificate.
// A failing requester is logged; the settlement stands.
func (c *OrderController) Settle(ctx context.Context, orderID string, actor Actor) (result SettleResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"order_id": orderID, "actor_role": string(actor.Role)}
	defer func() {
		fields["certificate_request_id"] = result.CertificateRequestID
		err = c.svc.complete(ctx, startedAt, "settle", err, fields)
	}()

	if orderID, err = requireID(orderID, "order_id"); err != nil {
		return SettleResult{}, err
	}
	if err = requireActor(actor); err != nil {
		return SettleResult{}, err
	}
	current, err := c.svc.store.GetOrder(ctx, orderID)
	if err != nil {
		return SettleResult{}, err
	}
	err = c.svc.inCapacityTx(ctx, current.LotID, func(ctx context.Context, tx StoreTx, events *eventBatch) error {
		order, lot, getErr := c.orderWithLot(ctx, tx, orderID)
		if getErr != nil {
			return getErr
		}
		fields["lot_id"] = order.LotID
		if authErr := authorizeBrokerActor(lot, actor); authErr != nil {
			return authErr
		}
		if order.Status != OrderStatusPaid {
			return invalidTransition(EntityOrder, orderID, string(order.Status), "settle")
		}
		if order.BrokerStatus != BrokerStatusApproved {
			return stateError(ErrorNotApproved, "core: order has not been approved by the broker",
				map[string]any{"order_id": orderID, "broker_status": string(order.BrokerStatus)})
		}
		requestID := c.svc.newID()
		next, moveErr := c.transition(ctx, tx, order, "settle", OrderTransition{
			From:                 []OrderStatus{OrderStatusPaid},
			FromBroker:           []BrokerStatus{BrokerStatusApproved},
			To:                   OrderStatusSettled,
			CertificateRequestID: requestID,
		})
		if moveErr != nil {
			return moveErr
		}
		settledLot, settleErr := c.svc.lots.settleIn(ctx, tx, order.LotID, order.AmountFaceUSD)
		if settleErr != nil {
			return settleErr
		}
		result = SettleResult{Order: next, CertificateRequestID: requestID}
		events.add(c.svc.newEvent(EventOrderSettled, EntityOrder, orderID, order.LotID, actor, order.AmountFaceUSD,
			map[string]any{"certificate_request_id": requestID}))
		if settledLot.Status == LotStatusClosed && lot.Status != LotStatusClosed {
			events.add(c.svc.newEvent(EventLotStatusChanged, EntityLot, lot.ID, lot.ID, SystemActor, 0,
				map[string]any{"from": string(lot.Status), "to": string(LotStatusClosed)}))
		}
		return nil
	})
	if err != nil {
		return SettleResult{}, err
	}

	if c.svc.certificateRequester != nil {
		if reqErr := c.svc.certificateRequester.RequestCertificate(ctx, result.Order, result.CertificateRequestID); reqErr != nil {
			c.svc.logError(ctx, "certificate request failed", map[string]any{
				"order_id":               orderID,
				"certificate_request_id": result.CertificateRequestID,
				"error":                  ExternalDependencyError(reqErr, "core: certificate requester failed").Error(),
			})
		}
	}
	return result, nil
}

// Cancel ends a RESERVED or PAYMENT_PENDING order and releases its capacity.
func (c *OrderController) Cancel(ctx context.Context, orderID string, reason string, actor Actor) (order PurchaseOrder, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"order_id": orderID, "reason": reason, "actor_role": string(actor.Role)}
	defer func() {
		err = c.svc.complete(ctx, startedAt, "cancel_order", err, fields)
	}()

	if orderID, err = requireID(orderID, "order_id"); err != nil {
		return PurchaseOrder{}, err
	}
	if err = requireActor(actor); err != nil {
		return PurchaseOrder{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled"
	}
	current, err := c.svc.store.GetOrder(ctx, orderID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	fields["lot_id"] = current.LotID
	if err = authorizeBuyer(current.BuyerID, actor, EntityOrder, orderID); err != nil {
		return PurchaseOrder{}, err
	}
	order, cancelled, err := c.cancelOrder(ctx, current, nil, reason, actor)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if !cancelled {
		return PurchaseOrder{}, invalidTransition(EntityOrder, orderID, string(order.Status), "cancel_order")
	}
	return order, nil
}

// cancelOrder moves an order to CANCELLED from any of from, defaulting to both
// capacity-holding pre-payment states. It reports false without error when the
// order is no longer in one of those states.
func (c *OrderController) cancelOrder(ctx context.Context, target PurchaseOrder, from []OrderStatus, reason string, actor Actor) (PurchaseOrder, bool, error) {
	if len(from) == 0 {
		from = []OrderStatus{OrderStatusReserved, OrderStatusPaymentPending}
	}
	var (
		order     PurchaseOrder
		cancelled bool
	)
	err := c.svc.inCapacityTx(ctx, target.LotID, func(ctx context.Context, tx StoreTx, events *eventBatch) error {
		cancelled = false
		current, getErr := tx.GetOrder(ctx, target.ID)
		if getErr != nil {
			return getErr
		}
		order = current
		if !containsOrderStatus(from, current.Status) {
			return nil
		}
		next, moveErr := c.transition(ctx, tx, current, "cancel_order", OrderTransition{
			From:         from,
			To:           OrderStatusCancelled,
			CancelReason: reason,
		})
		if moveErr != nil {
			return moveErr
		}
		if _, releaseErr := c.svc.lots.releaseIn(ctx, tx, current.LotID, current.AmountFaceUSD, OrderReleaser(current.ID)); releaseErr != nil {
			return releaseErr
		}
		order = next
		cancelled = true
		events.add(c.svc.newEvent(EventOrderCancelled, EntityOrder, current.ID, current.LotID, actor, current.AmountFaceUSD,
			map[string]any{"from": string(current.Status), "reason": reason}))
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, false, err
	}
	return order, cancelled, nil
}

func (c *OrderController) GetOrder(ctx context.Context, orderID string) (PurchaseOrder, error) {
	orderID, err := requireID(orderID, "order_id")
	if err != nil {
		return PurchaseOrder{}, c.svc.mapError(err)
	}
	order, err := c.svc.store.GetOrder(ctx, orderID)
	if err != nil {
		return PurchaseOrder{}, c.svc.mapError(err)
	}
	return order, nil
}

func (c *OrderController) ListOrders(ctx context.Context, filter OrderFilter) ([]PurchaseOrder, error) {
	orders, err := c.svc.store.ListOrders(ctx, filter)
	if err != nil {
		return nil, c.svc.mapError(err)
	}
	return orders, nil
}

// transition applies a guarded update and returns the order as stored. A lost
// guard means a concurrent writer moved the order first.
func (c *OrderController) transition(ctx context.Context, tx StoreTx, current PurchaseOrder, operation string, change OrderTransition) (PurchaseOrder, error) {
	change.OrderID = current.ID
	change.At = c.svc.clock()
	moved, err := tx.TransitionOrder(ctx, change)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if !moved {
		latest, getErr := tx.GetOrder(ctx, current.ID)
		if getErr != nil {
			return PurchaseOrder{}, getErr
		}
		return PurchaseOrder{}, invalidTransition(EntityOrder, current.ID, string(latest.Status), operation)
	}
	return tx.GetOrder(ctx, current.ID)
}

func (c *OrderController) orderWithLot(ctx context.Context, tx StoreTx, orderID string) (PurchaseOrder, CreditLot, error) {
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return PurchaseOrder{}, CreditLot{}, err
	}
	lot, err := tx.GetLot(ctx, order.LotID)
	if err != nil {
		return PurchaseOrder{}, CreditLot{}, err
	}
	return order, lot, nil
}

// authorizeBrokerActor admits admins and the broker who owns the lot.
func authorizeBrokerActor(lot CreditLot, actor Actor) error {
	if actor.IsAdmin() {
		return nil
	}
	if actor.Role == ActorRoleBroker && actor.ID == lot.BrokerID {
		return nil
	}
	return authzError(ErrorNotAuthorized, "core: only the lot's broker or an admin may review orders",
		map[string]any{"lot_id": lot.ID, "actor_id": actor.ID})
}

func containsOrderStatus(statuses []OrderStatus, status OrderStatus) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}
