package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/shopspring/decimal"
)

// LotRegistry is the only writer of lot capacity. Every write is a compare and
// swap on CreditLot.Version.
type LotRegistry struct {
	svc *Service
}

func (r *LotRegistry) GetLot(ctx context.Context, lotID string) (CreditLot, error) {
	lotID, err := requireID(lotID, "lot_id")
	if err != nil {
		return CreditLot{}, r.svc.mapError(err)
	}
	lot, err := r.svc.store.GetLot(ctx, lotID)
	if err != nil {
		return CreditLot{}, r.svc.mapError(err)
	}
	return lot, nil
}

func (r *LotRegistry) ListLots(ctx context.Context, filter LotFilter) ([]CreditLot, error) {
	lots, err := r.svc.store.ListLots(ctx, filter)
	if err != nil {
		return nil, r.svc.mapError(err)
	}
	return lots, nil
}

// ReserveCapacity decrements available face value when the lot is still at
// expectedVersion. A stale version fails with VERSION_CONFLICT and the caller
// is expected to re-read.
//
// It is the low level primitive under CreateHold and Checkout and attaches the
// capacity to no hold or order. ReleaseCapacity only credits back on behalf of
// a terminal record, so a caller reserving here directly owns that record and
// its matching release. Transports should go through CreateHold or Checkout.
func (r *LotRegistry) ReserveCapacity(ctx context.Context, lotID string, amount int64, expectedVersion int64) (lot CreditLot, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"lot_id": lotID, "amount_usd": amount, "expected_version": expectedVersion}
	defer func() {
		err = r.svc.complete(ctx, startedAt, "reserve_capacity", err, fields)
	}()

	if lotID, err = requireID(lotID, "lot_id"); err != nil {
		return CreditLot{}, err
	}
	if err = validateAmount(amount); err != nil {
		return CreditLot{}, err
	}
	err = r.svc.inTx(ctx, func(ctx context.Context, tx StoreTx, _ *eventBatch) error {
		current, getErr := tx.GetLot(ctx, lotID)
		if getErr != nil {
			return getErr
		}
		if current.Version != expectedVersion {
			return versionConflict(lotID, expectedVersion, current.Version)
		}
		next, reserveErr := r.reserveIn(ctx, tx, current, amount)
		if reserveErr != nil {
			if errors.Is(reserveErr, ErrVersionConflict) {
				return versionConflict(lotID, expectedVersion, -1)
			}
			return reserveErr
		}
		lot = next
		return nil
	})
	if err != nil {
		return CreditLot{}, err
	}
	return lot, nil
}

// ReleaseCapacity returns amount to the lot on behalf of a terminal hold or a
// cancelled order. It is a no-op once the releaser has released before.
func (r *LotRegistry) ReleaseCapacity(ctx context.Context, lotID string, amount int64, releaser ReleaserRef) (result ReleaseResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"lot_id": lotID, "amount_usd": amount, "releaser": releaser.String()}
	defer func() {
		fields["released"] = result.Released
		err = r.svc.complete(ctx, startedAt, "release_capacity", err, fields)
	}()

	if lotID, err = requireID(lotID, "lot_id"); err != nil {
		return ReleaseResult{}, err
	}
	if _, err = requireID(releaser.ID, "releaser_id"); err != nil {
		return ReleaseResult{}, err
	}
	if err = validateAmount(amount); err != nil {
		return ReleaseResult{}, err
	}
	err = r.svc.inCapacityTx(ctx, lotID, func(ctx context.Context, tx StoreTx, _ *eventBatch) error {
		if checkErr := checkReleasable(ctx, tx, lotID, amount, releaser); checkErr != nil {
			return checkErr
		}
		released, releaseErr := r.releaseIn(ctx, tx, lotID, amount, releaser)
		result = released
		return releaseErr
	})
	if err != nil {
		return ReleaseResult{}, err
	}
	return result, nil
}

// CapacitySummary reads the lot and its open holds and orders in one transaction.
func (r *LotRegistry) CapacitySummary(ctx context.Context, lotID string) (summary CapacitySummary, err error) {
	if lotID, err = requireID(lotID, "lot_id"); err != nil {
		return CapacitySummary{}, r.svc.mapError(err)
	}
	err = r.svc.store.RunInTx(ctx, func(ctx context.Context, tx StoreTx) error {
		lot, getErr := tx.GetLot(ctx, lotID)
		if getErr != nil {
			return getErr
		}
		holds, listErr := tx.ListHolds(ctx, HoldFilter{LotID: lotID, Status: HoldStatusActive})
		if listErr != nil {
			return listErr
		}
		orders, listErr := tx.ListOrders(ctx, OrderFilter{
			LotID:    lotID,
			Statuses: []OrderStatus{OrderStatusReserved, OrderStatusPaymentPending, OrderStatusPaid, OrderStatusSettled},
		})
		if listErr != nil {
			return listErr
		}
		summary = CapacitySummary{
			LotID:     lot.ID,
			Total:     lot.TotalFaceValue,
			Available: lot.AvailableFaceValue,
		}
		for _, hold := range holds {
			summary.ActiveHolds += hold.AmountUSD
		}
		for _, order := range orders {
			if order.Status == OrderStatusSettled {
				summary.Settled += order.AmountFaceUSD
				continue
			}
			summary.OpenOrders += order.AmountFaceUSD
		}
		return nil
	})
	if err != nil {
		return CapacitySummary{}, r.svc.mapError(err)
	}
	return summary, nil
}

func (r *LotRegistry) CreateLot(ctx context.Context, req CreateLotRequest, actor Actor) (lot CreditLot, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"broker_id": req.BrokerID, "actor_role": string(actor.Role)}
	defer func() {
		fields["lot_id"] = lot.ID
		err = r.svc.complete(ctx, startedAt, "create_lot", err, fields)
	}()

	if err = requireActor(actor); err != nil {
		return CreditLot{}, err
	}
	brokerID := strings.TrimSpace(req.BrokerID)
	switch actor.Role {
	case ActorRoleBroker:
		if brokerID == "" {
			brokerID = actor.ID
		}
		if brokerID != actor.ID {
			return CreditLot{}, authzError(ErrorNotAuthorized, "core: brokers may only list their own lots", map[string]any{"broker_id": brokerID})
		}
	case ActorRoleAdmin:
	default:
		return CreditLot{}, authzError(ErrorNotAuthorized, "core: only brokers and admins may create lots", nil)
	}
	if err = validateCreateLot(brokerID, req); err != nil {
		return CreditLot{}, err
	}

	now := r.svc.clock()
	lot = CreditLot{
		ID:                 r.svc.newID(),
		BrokerID:           brokerID,
		CreditType:         strings.TrimSpace(req.CreditType),
		TaxYear:            req.TaxYear,
		Jurisdiction:       strings.TrimSpace(req.Jurisdiction),
		TotalFaceValue:     req.TotalFaceValue,
		AvailableFaceValue: req.TotalFaceValue,
		MinBlock:           req.MinBlock,
		PricePerDollar:     req.PricePerDollar,
		Status:             LotStatusDraft,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err = r.svc.inTx(ctx, func(ctx context.Context, tx StoreTx, events *eventBatch) error {
		if createErr := tx.CreateLot(ctx, lot); createErr != nil {
			return createErr
		}
		events.add(r.svc.newEvent(EventLotStatusChanged, EntityLot, lot.ID, lot.ID, actor, lot.TotalFaceValue,
			map[string]any{"to": string(LotStatusDraft)}))
		return nil
	})
	if err != nil {
		return CreditLot{}, err
	}
	return lot, nil
}

func (r *LotRegistry) PublishLot(ctx context.Context, lotID string, actor Actor) (CreditLot, error) {
	return r.changeStatus(ctx, "publish_lot", lotID, actor, LotStatusActive, LotStatusDraft, LotStatusPaused)
}

func (r *LotRegistry) PauseLot(ctx context.Context, lotID string, actor Actor) (CreditLot, error) {
	return r.changeStatus(ctx, "pause_lot", lotID, actor, LotStatusPaused, LotStatusActive)
}

func (r *LotRegistry) CloseLot(ctx context.Context, lotID string, actor Actor) (CreditLot, error) {
	return r.changeStatus(ctx, "close_lot", lotID, actor, LotStatusClosed, LotStatusDraft, LotStatusActive, LotStatusPaused)
}

// UpdateLotPrice changes the price for future holds and checkouts. Existing
// holds and orders keep their snapshot.
func (r *LotRegistry) UpdateLotPrice(ctx context.Context, lotID string, price decimal.Decimal, actor Actor) (lot CreditLot, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"lot_id": lotID, "price_per_dollar": price.String(), "actor_role": string(actor.Role)}
	defer func() {
		err = r.svc.complete(ctx, startedAt, "update_lot_price", err, fields)
	}()

	if err = validatePrice(price); err != nil {
		return CreditLot{}, err
	}
	return r.mutateLot(ctx, lotID, actor, func(current CreditLot, next *CreditLot, events *eventBatch) error {
		if current.Status == LotStatusClosed {
			return invalidTransition(EntityLot, current.ID, string(current.Status), "update_lot_price")
		}
		next.PricePerDollar = price
		return nil
	})
}

func (r *LotRegistry) changeStatus(ctx context.Context, operation string, lotID string, actor Actor, to LotStatus, from ...LotStatus) (lot CreditLot, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"lot_id": lotID, "to": string(to), "actor_role": string(actor.Role)}
	defer func() {
		err = r.svc.complete(ctx, startedAt, operation, err, fields)
	}()

	return r.mutateLot(ctx, lotID, actor, func(current CreditLot, next *CreditLot, events *eventBatch) error {
		if !containsLotStatus(from, current.Status) {
			return invalidTransition(EntityLot, current.ID, string(current.Status), operation)
		}
		next.Status = to
		events.add(r.svc.newEvent(EventLotStatusChanged, EntityLot, current.ID, current.ID, actor, current.AvailableFaceValue,
			map[string]any{"from": string(current.Status), "to": string(to)}))
		return nil
	})
}

func (r *LotRegistry) mutateLot(
	ctx context.Context,
	lotID string,
	actor Actor,
	mutate func(current CreditLot, next *CreditLot, events *eventBatch) error,
) (lot CreditLot, err error) {
	if lotID, err = requireID(lotID, "lot_id"); err != nil {
		return CreditLot{}, err
	}
	if err = requireActor(actor); err != nil {
		return CreditLot{}, err
	}
	err = r.svc.inCapacityTx(ctx, lotID, func(ctx context.Context, tx StoreTx, events *eventBatch) error {
		current, getErr := tx.GetLot(ctx, lotID)
		if getErr != nil {
			return getErr
		}
		if authErr := authorizeLotActor(current, actor); authErr != nil {
			return authErr
		}
		next := current
		if mutateErr := mutate(current, &next, events); mutateErr != nil {
			return mutateErr
		}
		next.Version = current.Version + 1
		next.UpdatedAt = r.svc.clock()
		if swapErr := tx.SwapLot(ctx, next, current.Version); swapErr != nil {
			return swapErr
		}
		lot = next
		return nil
	})
	if err != nil {
		return CreditLot{}, err
	}
	return lot, nil
}

// reserveIn validates and decrements capacity against the version read in lot.
// A concurrent writer surfaces as ErrVersionConflict from the store.
func (r *LotRegistry) reserveIn(ctx context.Context, tx StoreTx, lot CreditLot, amount int64) (CreditLot, error) {
	if lot.Status != LotStatusActive {
		return CreditLot{}, validationError(ErrorLotInactive, "core: lot is not active",
			map[string]any{"lot_id": lot.ID, "status": string(lot.Status)})
	}
	if amount < lot.MinBlock {
		return CreditLot{}, validationError(ErrorBelowMinBlock,
			fmt.Sprintf("core: amount %d is below the minimum block of %d", amount, lot.MinBlock),
			map[string]any{"lot_id": lot.ID, "min_block": lot.MinBlock, "amount_usd": amount})
	}
	if lot.AvailableFaceValue < amount {
		return CreditLot{}, conflictError(ErrorInsufficientAvailable,
			fmt.Sprintf("core: lot has %d available, %d requested", lot.AvailableFaceValue, amount),
			map[string]any{"lot_id": lot.ID, "available": lot.AvailableFaceValue, "amount_usd": amount})
	}
	next := lot
	next.AvailableFaceValue -= amount
	next.Version = lot.Version + 1
	next.UpdatedAt = r.svc.clock()
	if err := tx.SwapLot(ctx, next, lot.Version); err != nil {
		return CreditLot{}, err
	}
	return next, nil
}

// releaseIn flips the releaser flag and credits the lot in the caller's
// transaction. A flag that was already set means the release happened before.
func (r *LotRegistry) releaseIn(ctx context.Context, tx StoreTx, lotID string, amount int64, releaser ReleaserRef) (ReleaseResult, error) {
	marked, err := tx.MarkReleased(ctx, releaser)
	if err != nil {
		return ReleaseResult{}, err
	}
	lot, err := tx.GetLot(ctx, lotID)
	if err != nil {
		return ReleaseResult{}, err
	}
	if !marked {
		return ReleaseResult{Lot: lot, Released: false}, nil
	}
	next := lot
	next.AvailableFaceValue += amount
	if next.AvailableFaceValue > next.TotalFaceValue-next.SettledFaceValue {
		return ReleaseResult{}, newEngineError(
			fmt.Sprintf("core: releasing %d would overfill lot %s", amount, lotID),
			goerrors.CategoryInternal, ErrorInternal,
			map[string]any{"lot_id": lotID, "releaser": releaser.String()},
		)
	}
	next.Version = lot.Version + 1
	next.UpdatedAt = r.svc.clock()
	if err := tx.SwapLot(ctx, next, lot.Version); err != nil {
		return ReleaseResult{}, err
	}
	return ReleaseResult{Lot: next, Released: true}, nil
}

// settleIn moves an order's amount from open to settled and closes the lot once
// everything has been settled.
func (r *LotRegistry) settleIn(ctx context.Context, tx StoreTx, lotID string, amount int64) (CreditLot, error) {
	lot, err := tx.GetLot(ctx, lotID)
	if err != nil {
		return CreditLot{}, err
	}
	next := lot
	next.SettledFaceValue += amount
	if next.SettledFaceValue >= next.TotalFaceValue {
		next.Status = LotStatusClosed
	}
	next.Version = lot.Version + 1
	next.UpdatedAt = r.svc.clock()
	if err := tx.SwapLot(ctx, next, lot.Version); err != nil {
		return CreditLot{}, err
	}
	return next, nil
}

// checkReleasable guards the public release path: only a hold that ended
// without conversion, or a cancelled order, may give capacity back.
func checkReleasable(ctx context.Context, tx StoreTx, lotID string, amount int64, releaser ReleaserRef) error {
	var (
		ownerLot string
		owned    int64
		status   string
		ok       bool
	)
	switch releaser.Kind {
	case ReleaserHold:
		hold, err := tx.GetHold(ctx, releaser.ID)
		if err != nil {
			return err
		}
		ownerLot, owned, status = hold.LotID, hold.AmountUSD, string(hold.Status)
		ok = hold.Status == HoldStatusExpired || hold.Status == HoldStatusCancelled
	case ReleaserOrder:
		order, err := tx.GetOrder(ctx, releaser.ID)
		if err != nil {
			return err
		}
		ownerLot, owned, status = order.LotID, order.AmountFaceUSD, string(order.Status)
		ok = order.Status == OrderStatusCancelled
	default:
		return badInput(fmt.Sprintf("core: releaser kind %q is invalid", releaser.Kind))
	}
	if ownerLot != lotID || owned != amount {
		return badInput("core: release amount must match the releasing record")
	}
	if !ok {
		return invalidTransition(string(releaser.Kind), releaser.ID, status, "release_capacity")
	}
	return nil
}

func authorizeLotActor(lot CreditLot, actor Actor) error {
	if actor.IsAdmin() || actor.Role == ActorRoleSystem {
		return nil
	}
	if actor.Role == ActorRoleBroker && actor.ID == lot.BrokerID {
		return nil
	}
	return authzError(ErrorNotAuthorized, "core: actor may not manage this lot",
		map[string]any{"lot_id": lot.ID, "actor_id": actor.ID})
}

func versionConflict(lotID string, expected int64, actual int64) error {
	metadata := map[string]any{"lot_id": lotID, "expected_version": expected}
	if actual >= 0 {
		metadata["actual_version"] = actual
	}
	return conflictError(ErrorVersionConflict, "core: lot version changed, re-read and retry", metadata)
}

func validateAmount(amount int64) error {
	if amount <= 0 {
		return badInput("core: amount_usd must be positive")
	}
	return nil
}

func validatePrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return badInput("core: price_per_dollar must be positive")
	}
	return nil
}

func validateCreateLot(brokerID string, req CreateLotRequest) error {
	var fieldErrs []goerrors.FieldError
	if brokerID == "" {
		fieldErrs = append(fieldErrs, goerrors.FieldError{Field: "broker_id", Message: "required"})
	}
	if strings.TrimSpace(req.CreditType) == "" {
		fieldErrs = append(fieldErrs, goerrors.FieldError{Field: "credit_type", Message: "required"})
	}
	if req.TaxYear <= 0 {
		fieldErrs = append(fieldErrs, goerrors.FieldError{Field: "tax_year", Message: "must be positive"})
	}
	if req.TotalFaceValue <= 0 {
		fieldErrs = append(fieldErrs, goerrors.FieldError{Field: "total_face_value", Message: "must be positive"})
	}
	if req.MinBlock <= 0 || req.MinBlock > req.TotalFaceValue {
		fieldErrs = append(fieldErrs, goerrors.FieldError{Field: "min_block", Message: "must be between 1 and total_face_value"})
	}
	if !req.PricePerDollar.IsPositive() {
		fieldErrs = append(fieldErrs, goerrors.FieldError{Field: "price_per_dollar", Message: "must be positive"})
	}
	if len(fieldErrs) == 0 {
		return nil
	}
	return goerrors.NewValidation("core: invalid lot", fieldErrs...).
		WithCode(engineHTTPStatus(goerrors.CategoryValidation)).
		WithTextCode(ErrorBadInput)
}

func containsLotStatus(statuses []LotStatus, status LotStatus) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}
