package core

import (
	"context"
	"time"
)

// ReservationManager owns the hold lifecycle. A hold leaves ACTIVE exactly once,
// through whichever of expiry, cancellation or conversion commits first.
type ReservationManager struct {
	svc *Service
}

func (m *ReservationManager) CreateHold(ctx context.Context, req CreateHoldRequest) (hold Hold, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"lot_id": req.LotID, "buyer_id": req.BuyerID, "amount_usd": req.AmountUSD}
	defer func() {
		fields["hold_id"] = hold.ID
		err = m.svc.complete(ctx, startedAt, "create_hold", err, fields)
	}()

	lotID, buyerID, err := validatePurchase(req.LotID, req.BuyerID, req.AmountUSD)
	if err != nil {
		return Hold{}, err
	}
	buyer := Actor{ID: buyerID, Role: ActorRoleBuyer}
	err = m.svc.inCapacityTx(ctx, lotID, func(ctx context.Context, tx StoreTx, events *eventBatch) error {
		lot, getErr := tx.GetLot(ctx, lotID)
		if getErr != nil {
			return getErr
		}
		if _, reserveErr := m.svc.lots.reserveIn(ctx, tx, lot, req.AmountUSD); reserveErr != nil {
			return reserveErr
		}
		now := m.svc.clock()
		hold = Hold{
			ID:             m.svc.newID(),
			LotID:          lotID,
			BuyerID:        buyerID,
			AmountUSD:      req.AmountUSD,
			PricePerDollar: lot.PricePerDollar,
			Status:         HoldStatusActive,
			Revision:       1,
			CreatedAt:      now,
			ExpiresAt:      now.Add(m.svc.config.HoldTTL),
		}
		if createErr := tx.CreateHold(ctx, hold); createErr != nil {
			return createErr
		}
		events.add(m.svc.newEvent(EventHoldCreated, EntityHold, hold.ID, lotID, buyer, hold.AmountUSD,
			map[string]any{"expires_at": hold.ExpiresAt}))
		return nil
	})
	if err != nil {
		return Hold{}, err
	}
	return hold, nil
}

// CancelHold releases an ACTIVE hold on behalf of its buyer or an admin.
func (m *ReservationManager) CancelHold(ctx context.Context, holdID string, requester Actor) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"hold_id": holdID, "actor_role": string(requester.Role)}
	defer func() {
		err = m.svc.complete(ctx, startedAt, "cancel_hold", err, fields)
	}()

	if holdID, err = requireID(holdID, "hold_id"); err != nil {
		return err
	}
	if err = requireActor(requester); err != nil {
		return err
	}
	hold, err := m.svc.store.GetHold(ctx, holdID)
	if err != nil {
		return err
	}
	fields["lot_id"] = hold.LotID
	return m.svc.inCapacityTx(ctx, hold.LotID, func(ctx context.Context, tx StoreTx, events *eventBatch) error {
		current, getErr := tx.GetHold(ctx, holdID)
		if getErr != nil {
			return getErr
		}
		if ownerErr := authorizeBuyer(current.BuyerID, requester, EntityHold, holdID); ownerErr != nil {
			return ownerErr
		}
		if current.Status.Terminal() {
			return alreadyTerminal(EntityHold, holdID, string(current.Status))
		}
		moved, moveErr := tx.TransitionHold(ctx, holdID, HoldStatusCancelled, "", m.svc.clock())
		if moveErr != nil {
			return moveErr
		}
		if !moved {
			return alreadyTerminal(EntityHold, holdID, string(current.Status))
		}
		if _, releaseErr := m.svc.lots.releaseIn(ctx, tx, current.LotID, current.AmountUSD, HoldReleaser(holdID)); releaseErr != nil {
			return releaseErr
		}
		events.add(m.svc.newEvent(EventHoldCancelled, EntityHold, holdID, current.LotID, requester, current.AmountUSD, nil))
		return nil
	})
}

// ConvertHold turns an ACTIVE, unexpired hold into a RESERVED order at the
// hold's price. The reservation moves to the order, so capacity is unchanged.
func (m *ReservationManager) ConvertHold(ctx context.Context, holdID string, requester Actor) (order PurchaseOrder, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"hold_id": holdID, "actor_role": string(requester.Role)}
	defer func() {
		fields["order_id"] = order.ID
		err = m.svc.complete(ctx, startedAt, "convert_hold", err, fields)
	}()

	if holdID, err = requireID(holdID, "hold_id"); err != nil {
		return PurchaseOrder{}, err
	}
	if err = requireActor(requester); err != nil {
		return PurchaseOrder{}, err
	}
	err = m.svc.inTx(ctx, func(ctx context.Context, tx StoreTx, events *eventBatch) error {
		hold, getErr := tx.GetHold(ctx, holdID)
		if getErr != nil {
			return getErr
		}
		fields["lot_id"] = hold.LotID
		if ownerErr := authorizeBuyer(hold.BuyerID, requester, EntityHold, holdID); ownerErr != nil {
			return ownerErr
		}
		if hold.Status.Terminal() {
			return alreadyTerminal(EntityHold, holdID, string(hold.Status))
		}
		now := m.svc.clock()
		if !now.Before(hold.ExpiresAt) {
			return stateError(ErrorHoldExpired, "core: hold has expired",
				map[string]any{"hold_id": holdID, "expires_at": hold.ExpiresAt})
		}
		order = PurchaseOrder{
			ID:             m.svc.newID(),
			LotID:          hold.LotID,
			BuyerID:        hold.BuyerID,
			HoldID:         hold.ID,
			AmountFaceUSD:  hold.AmountUSD,
			PricePerDollar: hold.PricePerDollar,
			TotalCostUSD:   totalCost(hold.AmountUSD, hold.PricePerDollar),
			Status:         OrderStatusReserved,
			Revision:       1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		moved, moveErr := tx.TransitionHold(ctx, holdID, HoldStatusConverted, order.ID, now)
		if moveErr != nil {
			return moveErr
		}
		if !moved {
			return alreadyTerminal(EntityHold, holdID, string(hold.Status))
		}
		if createErr := tx.CreateOrder(ctx, order); createErr != nil {
			return createErr
		}
		events.add(m.svc.newEvent(EventOrderCreated, EntityOrder, order.ID, order.LotID, requester, order.AmountFaceUSD,
			map[string]any{"hold_id": holdID, "total_cost_usd": order.TotalCostUSD.StringFixed(2)}))
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return order, nil
}

func (m *ReservationManager) GetHold(ctx context.Context, holdID string) (Hold, error) {
	holdID, err := requireID(holdID, "hold_id")
	if err != nil {
		return Hold{}, m.svc.mapError(err)
	}
	hold, err := m.svc.store.GetHold(ctx, holdID)
	if err != nil {
		return Hold{}, m.svc.mapError(err)
	}
	return hold, nil
}

func (m *ReservationManager) ListHolds(ctx context.Context, filter HoldFilter) ([]Hold, error) {
	holds, err := m.svc.store.ListHolds(ctx, filter)
	if err != nil {
		return nil, m.svc.mapError(err)
	}
	return holds, nil
}

// expireHold is the sweeper's side of the hold race. It reports false when
// another transition got there first.
func (m *ReservationManager) expireHold(ctx context.Context, hold Hold) (bool, error) {
	expired := false
	err := m.svc.inCapacityTx(ctx, hold.LotID, func(ctx context.Context, tx StoreTx, events *eventBatch) error {
		expired = false
		moved, moveErr := tx.TransitionHold(ctx, hold.ID, HoldStatusExpired, "", m.svc.clock())
		if moveErr != nil || !moved {
			return moveErr
		}
		if _, releaseErr := m.svc.lots.releaseIn(ctx, tx, hold.LotID, hold.AmountUSD, HoldReleaser(hold.ID)); releaseErr != nil {
			return releaseErr
		}
		events.add(m.svc.newEvent(EventHoldExpired, EntityHold, hold.ID, hold.LotID, SystemActor, hold.AmountUSD,
			map[string]any{"expires_at": hold.ExpiresAt}))
		expired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return expired, nil
}

func validatePurchase(lotID string, buyerID string, amount int64) (string, string, error) {
	lotID, err := requireID(lotID, "lot_id")
	if err != nil {
		return "", "", err
	}
	buyerID, err = requireID(buyerID, "buyer_id")
	if err != nil {
		return "", "", err
	}
	if err := validateAmount(amount); err != nil {
		return "", "", err
	}
	return lotID, buyerID, nil
}

// authorizeBuyer admits the owning buyer, admins, and the engine itself.
func authorizeBuyer(ownerID string, actor Actor, entity string, id string) error {
	if actor.IsAdmin() || actor.Role == ActorRoleSystem {
		return nil
	}
	if actor.ID == ownerID {
		return nil
	}
	return authzError(ErrorNotOwner, "core: only the owning buyer or an admin may act on this "+entity,
		map[string]any{"entity": entity, "id": id})
}

func alreadyTerminal(entity string, id string, status string) error {
	return stateError(ErrorAlreadyTerminal, "core: "+entity+" is already "+status,
		map[string]any{"entity": entity, "id": id, "status": status})
}
