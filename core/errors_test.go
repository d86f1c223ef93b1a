package core

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestEngineErrorMapper_AssignsStableCodes(t *testing.T) {
	cases := []struct {
		err      error
		code     string
		category goerrors.Category
		status   int
	}{
		{fmt.Errorf("load: %w", ErrLotNotFound), ErrorLotNotFound, goerrors.CategoryNotFound, http.StatusNotFound},
		{ErrHoldNotFound, ErrorNotFound, goerrors.CategoryNotFound, http.StatusNotFound},
		{ErrVersionConflict, ErrorVersionConflict, goerrors.CategoryConflict, http.StatusConflict},
		{ErrDuplicateExternalRef, ErrorExternalRefReused, goerrors.CategoryConflict, http.StatusConflict},
		{stderrors.New("core: lot_id is required"), ErrorBadInput, goerrors.CategoryBadInput, http.StatusBadRequest},
	}
	for _, tc := range cases {
		mapped := engineErrorMapper(tc.err)
		if mapped.TextCode != tc.code {
			t.Fatalf("%v: expected text code %q, got %q", tc.err, tc.code, mapped.TextCode)
		}
		if mapped.Category != tc.category {
			t.Fatalf("%v: expected category %q, got %q", tc.err, tc.category, mapped.Category)
		}
		if mapped.Code != tc.status {
			t.Fatalf("%v: expected status %d, got %d", tc.err, tc.status, mapped.Code)
		}
	}
}

func TestEngineErrorMapper_KeepsRichErrors(t *testing.T) {
	source := conflictRetryError("lot_1", 3)
	mapped := engineErrorMapper(fmt.Errorf("wrapped: %w", source))
	if mapped.TextCode != ErrorConflictRetry {
		t.Fatalf("expected conflict retry code to survive wrapping, got %q", mapped.TextCode)
	}
	if mapped.Metadata["attempts"] != 3 {
		t.Fatalf("expected attempts metadata, got %#v", mapped.Metadata)
	}
	if !IsRetryable(mapped) {
		t.Fatalf("expected conflict retry to be retryable")
	}
	if IsRetryable(stateError(ErrorNotApproved, "core: not approved", nil)) {
		t.Fatalf("expected state errors to be final")
	}
}

func TestErrorClass_ByCategory(t *testing.T) {
	if got := errorClassOf(invalidTransition(EntityOrder, "ord_1", "PAID", "cancel_order")); got != ErrorClassState {
		t.Fatalf("expected state class, got %q", got)
	}
	if got := errorClassOf(badInput("core: amount_usd must be positive")); got != ErrorClassValidation {
		t.Fatalf("expected validation class, got %q", got)
	}
	if got := errorClassOf(ExternalDependencyError(stderrors.New("timeout"), "core: sink failed")); got != ErrorClassExternal {
		t.Fatalf("expected external class, got %q", got)
	}
	if got := errorClassOf(stderrors.New("plain")); got != "" {
		t.Fatalf("expected no class for plain errors, got %q", got)
	}
}

func TestServiceMethods_MapErrorsToStableCodes(t *testing.T) {
	svc, err := newTestService()
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	_, err = svc.CreateHold(context.Background(), CreateHoldRequest{LotID: " ", BuyerID: "buyer-1", AmountUSD: 100})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected go-errors type, got %T", err)
	}
	if richErr.TextCode != ErrorBadInput || richErr.Code != http.StatusBadRequest {
		t.Fatalf("expected bad input 400, got %q %d", richErr.TextCode, richErr.Code)
	}

	err = svc.CancelHold(context.Background(), "hold_1", Actor{ID: "buyer-1", Role: "guest"})
	if !HasTextCode(err, ErrorBadInput) {
		t.Fatalf("expected unknown actor role to be rejected, got %v", err)
	}
}

func TestMessageErrorsShareTheEngineEnvelope(t *testing.T) {
	invalid := InvalidField("command", "lot_id", "required")
	if invalid.Code != http.StatusBadRequest || invalid.TextCode != ErrorBadInput {
		t.Fatalf("expected a 400 bad input error, got %d %q", invalid.Code, invalid.TextCode)
	}
	if invalid.Message != "command: validation failed" {
		t.Fatalf("expected scoped message, got %q", invalid.Message)
	}
	if fields := invalid.AllValidationErrors(); len(fields) != 1 || fields[0].Field != "lot_id" {
		t.Fatalf("expected the lot_id field error, got %+v", fields)
	}
	if OutcomeOf(invalid) != OutcomeRejected {
		t.Fatalf("expected field errors to count as rejections")
	}

	missing := MissingDependency("query: lot reader is required")
	if missing.Code != http.StatusInternalServerError || missing.TextCode != ErrorInternal {
		t.Fatalf("expected an internal error, got %d %q", missing.Code, missing.TextCode)
	}
	if OutcomeOf(missing) != OutcomeFailed {
		t.Fatalf("expected a missing dependency to count as a failure")
	}
}
