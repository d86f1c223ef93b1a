package webhooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-creditlots/core"
	goerrors "github.com/goliatone/go-errors"
	"github.com/shopspring/decimal"
)

const (
	PaymentStatusSucceeded = "succeeded"

	ErrorSignatureInvalid = "WEBHOOK_SIGNATURE_INVALID"
)

// PaymentNotification is the collector's callback body. A zero amount_paid
// confirms the order total.
type PaymentNotification struct {
	DeliveryID  string          `json:"delivery_id"`
	OrderID     string          `json:"order_id"`
	ExternalRef string          `json:"external_ref"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`
	Status      string          `json:"status"`
}

// ParsePaymentNotification decodes body strictly. Anything the collector
// sends that cannot be read is reported as an external dependency failure
// with a 400 status.
func ParsePaymentNotification(body []byte) (PaymentNotification, error) {
	var notification PaymentNotification
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&notification); err != nil {
		return PaymentNotification{}, malformedPayload(err, "webhooks: payment notification is not valid json")
	}
	notification.DeliveryID = strings.TrimSpace(notification.DeliveryID)
	notification.OrderID = strings.TrimSpace(notification.OrderID)
	notification.ExternalRef = strings.TrimSpace(notification.ExternalRef)
	notification.Status = strings.ToLower(strings.TrimSpace(notification.Status))

	switch {
	case notification.OrderID == "":
		return PaymentNotification{}, malformedPayload(nil, "webhooks: payment notification order_id is required")
	case notification.ExternalRef == "":
		return PaymentNotification{}, malformedPayload(nil, "webhooks: payment notification external_ref is required")
	case notification.AmountPaid.IsNegative():
		return PaymentNotification{}, malformedPayload(nil, "webhooks: payment notification amount_paid must not be negative")
	}
	return notification, nil
}

// Confirms reports whether the notification should confirm the order.
// Collectors also report pending or failed attempts, which are acknowledged
// and otherwise ignored.
func (n PaymentNotification) Confirms() bool {
	return n.Status == "" || n.Status == PaymentStatusSucceeded
}

func (n PaymentNotification) ConfirmRequest() core.ConfirmPaymentRequest {
	return core.ConfirmPaymentRequest{
		OrderID:     n.OrderID,
		ExternalRef: n.ExternalRef,
		AmountPaid:  n.AmountPaid,
	}
}

func malformedPayload(source error, message string) error {
	if source == nil {
		source = fmt.Errorf("%s", message)
	}
	return core.ExternalDependencyError(source, message).WithCode(http.StatusBadRequest)
}

func signatureError(source error) error {
	return goerrors.Wrap(source, goerrors.CategoryAuth, "webhooks: payment callback signature rejected").
		WithCode(http.StatusUnauthorized).
		WithTextCode(ErrorSignatureInvalid)
}
