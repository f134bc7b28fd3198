// Package httputil holds the JSON response helpers shared by handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	dErrors "organmatch/pkg/domain-errors"
	"organmatch/pkg/requestcontext"
)

// maxBodyBytes bounds request bodies. Medical notes are the largest field.
const maxBodyBytes = 64 << 10

var statusByCode = map[dErrors.Code]int{
	dErrors.CodeInvalidData:         http.StatusBadRequest,
	dErrors.CodeBadRequest:          http.StatusBadRequest,
	dErrors.CodeUnauthorized:        http.StatusForbidden,
	dErrors.CodeNotFound:            http.StatusNotFound,
	dErrors.CodeAlreadyInitialized:  http.StatusConflict,
	dErrors.CodeInvalidState:        http.StatusConflict,
	dErrors.CodeConflict:            http.StatusConflict,
	dErrors.CodeNoEligibleRecipient: http.StatusUnprocessableEntity,
	dErrors.CodeProgramPaused:       http.StatusServiceUnavailable,
	dErrors.CodeTimeout:             http.StatusGatewayTimeout,
	dErrors.CodeInternal:            http.StatusInternalServerError,
}

// StatusFor maps a domain error to its HTTP status.
func StatusFor(err error) int {
	if status, ok := statusByCode[dErrors.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteError writes a coded error. Internal errors never leak their message.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := errorBody{Error: string(code)}
	if code != dErrors.CodeInternal {
		body.Description = dErrors.MessageOf(err)
	}
	WriteJSON(w, StatusFor(err), body)
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON decodes a bounded request body into T, rejecting unknown fields.
// An empty body decodes to the zero value.
func DecodeJSON[T any](r *http.Request) (*T, error) {
	var out T
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return &out, nil
		}
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid request body")
	}
	return &out, nil
}

// Validatable request bodies check and parse themselves after decoding.
type Validatable interface {
	Validate() error
}

// DecodeAndPrepare decodes the body into T and runs its Validate. On failure
// the error response is already written and ok is false.
func DecodeAndPrepare[T any, P interface {
	*T
	Validatable
}](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (req P, ok bool) {
	ctx := r.Context()
	body, err := DecodeJSON[T](r)
	if err != nil {
		logger.WarnContext(ctx, "failed to decode request",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		WriteError(w, err)
		return nil, false
	}
	req = P(body)
	if err := req.Validate(); err != nil {
		logger.WarnContext(ctx, "invalid request",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		WriteError(w, err)
		return nil, false
	}
	return req, true
}
