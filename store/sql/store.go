package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-creditlots/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Store persists lots, holds, orders and payment confirmations through bun.
// Lot writes compare the stored version and hold or order transitions compare
// the stored status, so concurrent writers serialize on the rows they touch.
type Store struct {
	queries

	lots     repository.Repository[*lotRecord]
	holds    repository.Repository[*holdRecord]
	orders   repository.Repository[*orderRecord]
	payments repository.Repository[*paymentRecord]
}

func NewStore(db *bun.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	lots := repository.NewRepository[*lotRecord](db, lotHandlers())
	holds := repository.NewRepository[*holdRecord](db, holdHandlers())
	orders := repository.NewRepository[*orderRecord](db, orderHandlers())
	payments := repository.NewRepository[*paymentRecord](db, paymentHandlers())
	for name, repo := range map[string]any{"lot": lots, "hold": holds, "order": orders, "payment": payments} {
		if validator, ok := repo.(repository.Validator); ok {
			if err := validator.Validate(); err != nil {
				return nil, fmt.Errorf("sqlstore: invalid %s repository wiring: %w", name, err)
			}
		}
	}
	return &Store{
		queries:  queries{db: db},
		lots:     lots,
		holds:    holds,
		orders:   orders,
		payments: payments,
	}, nil
}

// Store lets a *Store act as its own core.StoreProvider.
func (s *Store) Store() core.Store {
	return s
}

func (s *Store) DB() *bun.DB {
	if s == nil {
		return nil
	}
	db, _ := s.db.(*bun.DB)
	return db
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx core.StoreTx) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: store is not configured")
	}
	if fn == nil {
		return nil
	}
	return s.DB().RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &txStore{queries: queries{db: tx}, store: s, tx: tx})
	})
}

func (s *Store) write(ctx context.Context, fn func(tx *txStore) error) error {
	return s.RunInTx(ctx, func(_ context.Context, tx core.StoreTx) error {
		return fn(tx.(*txStore))
	})
}

func (s *Store) CreateLot(ctx context.Context, lot core.CreditLot) error {
	return s.write(ctx, func(tx *txStore) error { return tx.CreateLot(ctx, lot) })
}

func (s *Store) SwapLot(ctx context.Context, next core.CreditLot, expectedVersion int64) error {
	return s.write(ctx, func(tx *txStore) error { return tx.SwapLot(ctx, next, expectedVersion) })
}

func (s *Store) CreateHold(ctx context.Context, hold core.Hold) error {
	return s.write(ctx, func(tx *txStore) error { return tx.CreateHold(ctx, hold) })
}

func (s *Store) TransitionHold(ctx context.Context, id string, to core.HoldStatus, orderID string, at time.Time) (moved bool, err error) {
	err = s.write(ctx, func(tx *txStore) error {
		moved, err = tx.TransitionHold(ctx, id, to, orderID, at)
		return err
	})
	return moved, err
}

func (s *Store) CreateOrder(ctx context.Context, order core.PurchaseOrder) error {
	return s.write(ctx, func(tx *txStore) error { return tx.CreateOrder(ctx, order) })
}

func (s *Store) TransitionOrder(ctx context.Context, transition core.OrderTransition) (moved bool, err error) {
	err = s.write(ctx, func(tx *txStore) error {
		moved, err = tx.TransitionOrder(ctx, transition)
		return err
	})
	return moved, err
}

func (s *Store) RecordPayment(ctx context.Context, payment core.PaymentConfirmation) error {
	return s.write(ctx, func(tx *txStore) error { return tx.RecordPayment(ctx, payment) })
}

func (s *Store) MarkReleased(ctx context.Context, releaser core.ReleaserRef) (marked bool, err error) {
	err = s.write(ctx, func(tx *txStore) error {
		marked, err = tx.MarkReleased(ctx, releaser)
		return err
	})
	return marked, err
}

func (s *Store) ListLots(ctx context.Context, filter core.LotFilter) ([]core.CreditLot, error) {
	selectors := []repository.SelectCriteria{repository.SelectRawProcessor(lotFilterQuery(filter, false))}
	if filter.Limit > 0 {
		selectors = append(selectors, repository.SelectPaginate(filter.Limit, max(filter.Offset, 0)))
	}
	records, _, err := s.lots.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	return lotsToDomain(records)
}

func (s *Store) ListHolds(ctx context.Context, filter core.HoldFilter) ([]core.Hold, error) {
	selectors := []repository.SelectCriteria{repository.SelectRawProcessor(holdFilterQuery(filter, false))}
	if filter.Limit > 0 {
		selectors = append(selectors, repository.SelectPaginate(filter.Limit, 0))
	}
	records, _, err := s.holds.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	return holdsToDomain(records)
}

func (s *Store) ListOrders(ctx context.Context, filter core.OrderFilter) ([]core.PurchaseOrder, error) {
	selectors := []repository.SelectCriteria{repository.SelectRawProcessor(orderFilterQuery(filter, false))}
	if filter.Limit > 0 {
		selectors = append(selectors, repository.SelectPaginate(filter.Limit, 0))
	}
	records, _, err := s.orders.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	return ordersToDomain(records)
}

// txStore is the core.StoreTx view over one bun transaction.
type txStore struct {
	queries

	store *Store
	tx    bun.Tx
}

func (t *txStore) CreateLot(ctx context.Context, lot core.CreditLot) error {
	if strings.TrimSpace(lot.ID) == "" {
		return fmt.Errorf("sqlstore: lot id is required")
	}
	_, err := t.store.lots.CreateTx(ctx, t.tx, newLotRecord(lot))
	return err
}

func (t *txStore) SwapLot(ctx context.Context, next core.CreditLot, expectedVersion int64) error {
	id := strings.TrimSpace(next.ID)
	res, err := t.tx.NewUpdate().
		Model((*lotRecord)(nil)).
		Set("available_face_value = ?", next.AvailableFaceValue).
		Set("settled_face_value = ?", next.SettledFaceValue).
		Set("min_block = ?", next.MinBlock).
		Set("price_per_dollar = ?", next.PricePerDollar.String()).
		Set("status = ?", string(next.Status)).
		Set("version = ?", next.Version).
		Set("updated_at = ?", next.UpdatedAt.UTC()).
		Where("id = ?", id).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected(res) > 0 {
		return nil
	}
	exists, err := t.exists(ctx, (*lotRecord)(nil), "id", id)
	if err != nil {
		return err
	}
	if !exists {
		return core.ErrLotNotFound
	}
	return core.ErrVersionConflict
}

func (t *txStore) CreateHold(ctx context.Context, hold core.Hold) error {
	_, err := t.store.holds.CreateTx(ctx, t.tx, newHoldRecord(hold))
	return err
}

func (t *txStore) TransitionHold(ctx context.Context, id string, to core.HoldStatus, orderID string, at time.Time) (bool, error) {
	id = strings.TrimSpace(id)
	query := t.tx.NewUpdate().
		Model((*holdRecord)(nil)).
		Set("status = ?", string(to)).
		Set("terminal_at = ?", at.UTC()).
		Set("revision = revision + 1").
		Where("id = ?", id).
		Where("status = ?", string(core.HoldStatusActive))
	if orderID = strings.TrimSpace(orderID); orderID != "" {
		query = query.Set("order_id = ?", orderID)
	}
	res, err := query.Exec(ctx)
	if err != nil {
		return false, err
	}
	if affected(res) > 0 {
		return true, nil
	}
	exists, err := t.exists(ctx, (*holdRecord)(nil), "id", id)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, core.ErrHoldNotFound
	}
	return false, nil
}

func (t *txStore) CreateOrder(ctx context.Context, order core.PurchaseOrder) error {
	_, err := t.store.orders.CreateTx(ctx, t.tx, newOrderRecord(order))
	return err
}

// TransitionOrder reads the order, checks the guard and writes the result
// back only while the revision it read is still current.
func (t *txStore) TransitionOrder(ctx context.Context, transition core.OrderTransition) (bool, error) {
	current, err := t.GetOrder(ctx, transition.OrderID)
	if err != nil {
		return false, err
	}
	if !transition.Allows(current) {
		return false, nil
	}
	next := newOrderRecord(transition.Apply(current))
	res, err := t.tx.NewUpdate().
		Model((*orderRecord)(nil)).
		Set("status = ?", next.Status).
		Set("broker_status = ?", next.BrokerStatus).
		Set("broker_note = ?", next.BrokerNote).
		Set("payment_ref = ?", next.PaymentRef).
		Set("amount_paid = ?", next.AmountPaid).
		Set("certificate_request_id = ?", next.CertificateRequestID).
		Set("cancel_reason = ?", next.CancelReason).
		Set("revision = ?", next.Revision).
		Set("updated_at = ?", next.UpdatedAt).
		Set("payment_initiated_at = ?", next.PaymentInitiatedAt).
		Set("paid_at = ?", next.PaidAt).
		Set("settled_at = ?", next.SettledAt).
		Set("cancelled_at = ?", next.CancelledAt).
		Where("id = ?", current.ID).
		Where("revision = ?", current.Revision).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return affected(res) > 0, nil
}

func (t *txStore) RecordPayment(ctx context.Context, payment core.PaymentConfirmation) error {
	record := &paymentRecord{
		ID:          uuid.NewString(),
		ExternalRef: strings.TrimSpace(payment.ExternalRef),
		OrderID:     strings.TrimSpace(payment.OrderID),
		AmountPaid:  payment.AmountPaid.String(),
		ConfirmedAt: payment.ConfirmedAt.UTC(),
	}
	if record.ExternalRef == "" {
		return fmt.Errorf("sqlstore: payment external ref is required")
	}
	if _, err := t.store.payments.CreateTx(ctx, t.tx, record); err != nil {
		if isUniqueViolation(err) {
			return core.ErrDuplicateExternalRef
		}
		return err
	}
	return nil
}

func (t *txStore) MarkReleased(ctx context.Context, releaser core.ReleaserRef) (bool, error) {
	var (
		model    any
		notFound error
	)
	switch releaser.Kind {
	case core.ReleaserHold:
		model, notFound = (*holdRecord)(nil), core.ErrHoldNotFound
	case core.ReleaserOrder:
		model, notFound = (*orderRecord)(nil), core.ErrOrderNotFound
	default:
		return false, fmt.Errorf("sqlstore: releaser kind %q is invalid", releaser.Kind)
	}
	res, err := t.tx.NewUpdate().
		Model(model).
		Set("release_performed = ?", true).
		Where("id = ?", releaser.ID).
		Where("release_performed = ?", false).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	if affected(res) > 0 {
		return true, nil
	}
	exists, err := t.exists(ctx, model, "id", releaser.ID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, notFound
	}
	return false, nil
}

// queries holds the reads shared by the store and its transactions.
type queries struct {
	db bun.IDB
}

func (q queries) GetLot(ctx context.Context, id string) (core.CreditLot, error) {
	record := &lotRecord{}
	if err := q.db.NewSelect().Model(record).Where("?TableAlias.id = ?", strings.TrimSpace(id)).Limit(1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.CreditLot{}, core.ErrLotNotFound
		}
		return core.CreditLot{}, err
	}
	return record.toDomain()
}

func (q queries) GetHold(ctx context.Context, id string) (core.Hold, error) {
	record := &holdRecord{}
	if err := q.db.NewSelect().Model(record).Where("?TableAlias.id = ?", strings.TrimSpace(id)).Limit(1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Hold{}, core.ErrHoldNotFound
		}
		return core.Hold{}, err
	}
	return record.toDomain()
}

func (q queries) GetOrder(ctx context.Context, id string) (core.PurchaseOrder, error) {
	record := &orderRecord{}
	if err := q.db.NewSelect().Model(record).Where("?TableAlias.id = ?", strings.TrimSpace(id)).Limit(1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.PurchaseOrder{}, core.ErrOrderNotFound
		}
		return core.PurchaseOrder{}, err
	}
	return record.toDomain()
}

func (q queries) GetPayment(ctx context.Context, externalRef string) (core.PaymentConfirmation, error) {
	record := &paymentRecord{}
	if err := q.db.NewSelect().Model(record).Where("?TableAlias.external_ref = ?", strings.TrimSpace(externalRef)).Limit(1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.PaymentConfirmation{}, core.ErrPaymentNotFound
		}
		return core.PaymentConfirmation{}, err
	}
	return record.toDomain()
}

func (q queries) ListLots(ctx context.Context, filter core.LotFilter) ([]core.CreditLot, error) {
	var records []*lotRecord
	if err := lotFilterQuery(filter, true)(q.db.NewSelect().Model(&records)).Scan(ctx); err != nil {
		return nil, err
	}
	return lotsToDomain(records)
}

func (q queries) ListHolds(ctx context.Context, filter core.HoldFilter) ([]core.Hold, error) {
	var records []*holdRecord
	if err := holdFilterQuery(filter, true)(q.db.NewSelect().Model(&records)).Scan(ctx); err != nil {
		return nil, err
	}
	return holdsToDomain(records)
}

func (q queries) ListOrders(ctx context.Context, filter core.OrderFilter) ([]core.PurchaseOrder, error) {
	var records []*orderRecord
	if err := orderFilterQuery(filter, true)(q.db.NewSelect().Model(&records)).Scan(ctx); err != nil {
		return nil, err
	}
	return ordersToDomain(records)
}

func (q queries) exists(ctx context.Context, model any, column string, value string) (bool, error) {
	return q.db.NewSelect().Model(model).Where("?TableAlias."+column+" = ?", strings.TrimSpace(value)).Exists(ctx)
}

// The filter builders apply paging themselves only when asked; repository
// listings page through SelectPaginate instead.

func lotFilterQuery(filter core.LotFilter, paged bool) func(q *bun.SelectQuery) *bun.SelectQuery {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		if brokerID := strings.TrimSpace(filter.BrokerID); brokerID != "" {
			q = q.Where("?TableAlias.broker_id = ?", brokerID)
		}
		if filter.Status != "" {
			q = q.Where("?TableAlias.status = ?", string(filter.Status))
		}
		q = q.OrderExpr("?TableAlias.created_at ASC").OrderExpr("?TableAlias.id ASC")
		if paged {
			if filter.Limit > 0 {
				q = q.Limit(filter.Limit)
			}
			if filter.Offset > 0 {
				q = q.Offset(filter.Offset)
			}
		}
		return q
	}
}

func holdFilterQuery(filter core.HoldFilter, paged bool) func(q *bun.SelectQuery) *bun.SelectQuery {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		if lotID := strings.TrimSpace(filter.LotID); lotID != "" {
			q = q.Where("?TableAlias.lot_id = ?", lotID)
		}
		if buyerID := strings.TrimSpace(filter.BuyerID); buyerID != "" {
			q = q.Where("?TableAlias.buyer_id = ?", buyerID)
		}
		if filter.Status != "" {
			q = q.Where("?TableAlias.status = ?", string(filter.Status))
		}
		if filter.ExpiresBy != nil {
			q = q.Where("?TableAlias.expires_at <= ?", filter.ExpiresBy.UTC())
		}
		q = q.OrderExpr("?TableAlias.expires_at ASC").OrderExpr("?TableAlias.id ASC")
		if paged && filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q
	}
}

func orderFilterQuery(filter core.OrderFilter, paged bool) func(q *bun.SelectQuery) *bun.SelectQuery {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		if lotID := strings.TrimSpace(filter.LotID); lotID != "" {
			q = q.Where("?TableAlias.lot_id = ?", lotID)
		}
		if buyerID := strings.TrimSpace(filter.BuyerID); buyerID != "" {
			q = q.Where("?TableAlias.buyer_id = ?", buyerID)
		}
		if len(filter.Statuses) > 0 {
			statuses := make([]string, 0, len(filter.Statuses))
			for _, status := range filter.Statuses {
				statuses = append(statuses, string(status))
			}
			q = q.Where("?TableAlias.status IN (?)", bun.In(statuses))
		}
		if filter.CreatedBefore != nil {
			q = q.Where("?TableAlias.created_at < ?", filter.CreatedBefore.UTC())
		}
		if filter.PaymentInitiatedBefore != nil {
			q = q.Where("?TableAlias.payment_initiated_at IS NOT NULL").
				Where("?TableAlias.payment_initiated_at < ?", filter.PaymentInitiatedBefore.UTC())
		}
		q = q.OrderExpr("?TableAlias.created_at ASC").OrderExpr("?TableAlias.id ASC")
		if paged && filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q
	}
}

func lotsToDomain(records []*lotRecord) ([]core.CreditLot, error) {
	out := make([]core.CreditLot, 0, len(records))
	for _, record := range records {
		lot, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, lot)
	}
	return out, nil
}

func holdsToDomain(records []*holdRecord) ([]core.Hold, error) {
	out := make([]core.Hold, 0, len(records))
	for _, record := range records {
		hold, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, hold)
	}
	return out, nil
}

func ordersToDomain(records []*orderRecord) ([]core.PurchaseOrder, error) {
	out := make([]core.PurchaseOrder, 0, len(records))
	for _, record := range records {
		order, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, nil
}

func affected(res sql.Result) int64 {
	if res == nil {
		return 0
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return rows
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
