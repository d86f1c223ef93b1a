package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput              = "CREDITLOTS_BAD_INPUT"
	ErrorLotNotFound           = "LOT_NOT_FOUND"
	ErrorLotInactive           = "LOT_INACTIVE"
	ErrorInsufficientAvailable = "INSUFFICIENT_AVAILABILITY"
	ErrorBelowMinBlock         = "BELOW_MIN_BLOCK"
	ErrorVersionConflict       = "VERSION_CONFLICT"
	ErrorConflictRetry         = "CONFLICT_RETRY"
	ErrorNotFound              = "NOT_FOUND"
	ErrorNotOwner              = "NOT_OWNER"
	ErrorNotAuthorized         = "NOT_AUTHORIZED"
	ErrorAlreadyTerminal       = "ALREADY_TERMINAL"
	ErrorHoldExpired           = "HOLD_EXPIRED"
	ErrorInvalidTransition     = "INVALID_TRANSITION"
	ErrorNotApproved           = "NOT_APPROVED"
	ErrorPaymentAmountMismatch = "PAYMENT_AMOUNT_MISMATCH"
	ErrorExternalRefReused     = "EXTERNAL_REF_REUSED"
	ErrorLeaderLockHeld        = "LEADER_LOCK_HELD"
	ErrorExternalDependency    = "EXTERNAL_DEPENDENCY"
	ErrorInternal              = "CREDITLOTS_INTERNAL_ERROR"
)

const (
	ErrorClassValidation = "validation"
	ErrorClassConflict   = "conflict"
	ErrorClassState      = "state"
	ErrorClassExternal   = "external"
	ErrorClassInternal   = "internal"
)

const metadataErrorClass = "error_class"

func newEngineError(message string, category goerrors.Category, textCode string, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(engineHTTPStatus(category)).
		WithTextCode(textCode)
	fields := map[string]any{metadataErrorClass: errorClass(category)}
	for key, value := range metadata {
		fields[key] = value
	}
	err.WithMetadata(fields)
	return err
}

func validationError(textCode string, message string, metadata map[string]any) *goerrors.Error {
	return newEngineError(message, goerrors.CategoryValidation, textCode, metadata)
}

func badInput(message string) *goerrors.Error {
	return newEngineError(message, goerrors.CategoryBadInput, ErrorBadInput, nil)
}

func notFoundError(textCode string, message string, metadata map[string]any) *goerrors.Error {
	return newEngineError(message, goerrors.CategoryNotFound, textCode, metadata)
}

func conflictError(textCode string, message string, metadata map[string]any) *goerrors.Error {
	return newEngineError(message, goerrors.CategoryConflict, textCode, metadata)
}

func stateError(textCode string, message string, metadata map[string]any) *goerrors.Error {
	return newEngineError(message, goerrors.CategoryOperation, textCode, metadata)
}

func authzError(textCode string, message string, metadata map[string]any) *goerrors.Error {
	return newEngineError(message, goerrors.CategoryAuthz, textCode, metadata)
}

// ExternalDependencyError wraps a failure reported by, or while talking to, an
// external collaborator such as the payment collector or an event sink.
func ExternalDependencyError(source error, message string) *goerrors.Error {
	if source == nil {
		return newEngineError(message, goerrors.CategoryExternal, ErrorExternalDependency, nil)
	}
	err := goerrors.Wrap(source, goerrors.CategoryExternal, message).
		WithCode(engineHTTPStatus(goerrors.CategoryExternal)).
		WithTextCode(ErrorExternalDependency)
	err.WithMetadata(map[string]any{metadataErrorClass: ErrorClassExternal})
	return err
}

// InvalidField is the bad input error a command or query message returns from
// Validate. scope prefixes the message, for example "command".
func InvalidField(scope string, field string, message string) *goerrors.Error {
	err := goerrors.NewValidation(scope+": validation failed", goerrors.FieldError{Field: field, Message: message}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorBadInput).
		WithSeverity(goerrors.SeverityError)
	err.WithMetadata(map[string]any{metadataErrorClass: errorClass(err.Category)})
	return err
}

// MissingDependency reports a handler invoked before its collaborator was wired.
func MissingDependency(message string) *goerrors.Error {
	return newEngineError(message, goerrors.CategoryInternal, ErrorInternal, nil)
}

func invalidTransition(entity string, id string, from string, operation string) *goerrors.Error {
	return stateError(ErrorInvalidTransition,
		"core: "+operation+" is not valid for "+entity+" in status "+from,
		map[string]any{"entity": entity, "id": id, "status": from, "operation": operation},
	)
}

func conflictRetryError(lotID string, attempts int) *goerrors.Error {
	return conflictError(ErrorConflictRetry,
		"core: lot capacity is under contention, retry the request",
		map[string]any{"lot_id": lotID, "attempts": attempts, "retryable": true},
	)
}

func engineErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureEngineErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrLotNotFound):
		return notFoundError(ErrorLotNotFound, err.Error(), nil)
	case errors.Is(err, ErrHoldNotFound), errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrPaymentNotFound):
		return notFoundError(ErrorNotFound, err.Error(), nil)
	case errors.Is(err, ErrVersionConflict):
		return conflictError(ErrorVersionConflict, err.Error(), nil)
	case errors.Is(err, ErrDuplicateExternalRef):
		return conflictError(ErrorExternalRefReused, err.Error(), nil)
	case errors.Is(err, ErrLeaderLockHeld):
		return conflictError(ErrorLeaderLockHeld, err.Error(), nil)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "must be"):
		return badInput(err.Error())
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureEngineErrorEnvelope(mapped)
}

func ensureEngineErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = engineHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultEngineTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultEngineTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorNotAuthorized
	case goerrors.CategoryConflict:
		return ErrorVersionConflict
	case goerrors.CategoryOperation:
		return ErrorInvalidTransition
	case goerrors.CategoryExternal:
		return ErrorExternalDependency
	default:
		return ErrorInternal
	}
}

func engineHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict, goerrors.CategoryOperation:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorClass(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation, goerrors.CategoryNotFound,
		goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorClassValidation
	case goerrors.CategoryConflict:
		return ErrorClassConflict
	case goerrors.CategoryOperation:
		return ErrorClassState
	case goerrors.CategoryExternal:
		return ErrorClassExternal
	default:
		return ErrorClassInternal
	}
}

// TextCode returns the stable text code carried by err, or "" for plain errors.
func TextCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil {
		return richErr.TextCode
	}
	return ""
}

func HasTextCode(err error, code string) bool {
	return err != nil && TextCode(err) == code
}

// IsRetryable reports whether err signals transient contention the caller may retry.
func IsRetryable(err error) bool {
	return HasTextCode(err, ErrorConflictRetry) || HasTextCode(err, ErrorVersionConflict)
}
