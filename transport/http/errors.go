package httptransport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/goliatone/go-creditlots/core"
	goerrors "github.com/goliatone/go-errors"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Category string         `json:"category"`
	TextCode string         `json:"text_code"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func requestError(field string, message string) error {
	err := goerrors.New("httptransport: "+message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ErrorBadInput)
	err.WithMetadata(map[string]any{"field": field})
	return err
}

// writeError renders err as the JSON error envelope and returns the status used.
func writeError(w http.ResponseWriter, err error) int {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		rich = goerrors.New("An unexpected error occurred", goerrors.CategoryInternal).
			WithCode(http.StatusInternalServerError).
			WithTextCode(core.ErrorInternal)
	}
	status := rich.Code
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	message := rich.Message
	if status >= http.StatusInternalServerError && rich.Category == goerrors.CategoryInternal {
		message = "An unexpected error occurred"
	}
	writeJSON(w, status, errorBody{Error: errorDetail{
		Category: string(rich.Category),
		TextCode: rich.TextCode,
		Message:  message,
		Metadata: rich.Metadata,
	}})
	return status
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if value == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(value)
}

// decodeBody reads a single JSON object of at most limit bytes into dst.
func decodeBody(r *http.Request, limit int64, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, limit+1))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError("body", "request body is required")
		}
		return requestError("body", "request body is not valid json: "+err.Error())
	}
	return nil
}

func readBody(r *http.Request, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, requestError("body", "request body could not be read")
	}
	if int64(len(body)) > limit {
		return nil, goerrors.New("httptransport: request body too large", goerrors.CategoryBadInput).
			WithCode(http.StatusRequestEntityTooLarge).
			WithTextCode(core.ErrorBadInput)
	}
	return body, nil
}
