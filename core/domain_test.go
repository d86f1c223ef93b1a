package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestOrderTransition_AllowsGuardsStatusAndBroker(t *testing.T) {
	order := PurchaseOrder{Status: OrderStatusPaid, BrokerStatus: BrokerStatusPending}

	settle := OrderTransition{
		From:       []OrderStatus{OrderStatusPaid},
		FromBroker: []BrokerStatus{BrokerStatusApproved},
		To:         OrderStatusSettled,
	}
	if settle.Allows(order) {
		t.Fatalf("expected settle to be refused while broker status is pending")
	}
	order.BrokerStatus = BrokerStatusApproved
	if !settle.Allows(order) {
		t.Fatalf("expected settle to be allowed once approved")
	}

	order.Status = OrderStatusCancelled
	if settle.Allows(order) {
		t.Fatalf("expected settle to be refused from CANCELLED")
	}
}

func TestOrderTransition_ApplyStampsTimestamps(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	paid := decimal.NewFromInt(92000)
	pending := BrokerStatusPending
	order := PurchaseOrder{ID: "ord_1", Status: OrderStatusPaymentPending, Revision: 2}

	next := OrderTransition{
		OrderID:    "ord_1",
		From:       []OrderStatus{OrderStatusPaymentPending},
		To:         OrderStatusPaid,
		Broker:     &pending,
		PaymentRef: "pay_1",
		AmountPaid: &paid,
		At:         now,
	}.Apply(order)

	if next.Status != OrderStatusPaid || next.BrokerStatus != BrokerStatusPending {
		t.Fatalf("expected PAID/PENDING, got %s/%s", next.Status, next.BrokerStatus)
	}
	if next.PaidAt == nil || !next.PaidAt.Equal(now) {
		t.Fatalf("expected paid_at stamp, got %v", next.PaidAt)
	}
	if next.PaymentRef != "pay_1" || !next.AmountPaid.Equal(paid) {
		t.Fatalf("expected payment fields to be applied, got %+v", next)
	}
	if next.Revision != 3 || !next.UpdatedAt.Equal(now) {
		t.Fatalf("expected revision bump and updated_at, got %d %s", next.Revision, next.UpdatedAt)
	}
	if order.PaidAt != nil {
		t.Fatalf("expected the input order to be left untouched")
	}
}

func TestCapacitySummary_Balanced(t *testing.T) {
	summary := CapacitySummary{Total: 500000, Available: 150000, ActiveHolds: 200000, OpenOrders: 100000, Settled: 50000}
	if !summary.Balanced() {
		t.Fatalf("expected balanced summary")
	}
	summary.Available += 1
	if summary.Balanced() {
		t.Fatalf("expected imbalance to be detected")
	}
}

func TestTotalCost_RoundsToCents(t *testing.T) {
	got := totalCost(100001, decimal.RequireFromString("0.925"))
	if got.String() != "92500.93" {
		t.Fatalf("expected 92500.93, got %s", got)
	}
}

func TestParseBrokerStatus(t *testing.T) {
	if status, ok := ParseBrokerStatus(" needs_info "); !ok || status != BrokerStatusNeedsInfo {
		t.Fatalf("expected NEEDS_INFO, got %q ok=%v", status, ok)
	}
	if _, ok := ParseBrokerStatus("maybe"); ok {
		t.Fatalf("expected unknown broker status to be rejected")
	}
}
