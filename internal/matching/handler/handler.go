// Package handler binds the matching operations to HTTP routes. It holds no
// business rules: requests are parsed, passed to the service and the result
// or coded error is rendered.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"organmatch/internal/ledger"
	"organmatch/internal/matching/models"
	id "organmatch/pkg/domain"
	dErrors "organmatch/pkg/domain-errors"
	"organmatch/pkg/platform/httputil"
	"organmatch/pkg/requestcontext"
)

// Service is the set of matching operations the handler exposes.
type Service interface {
	Initialize(ctx context.Context, admin id.AccountID) (*models.ProgramState, error)
	SetMedicalAuthority(ctx context.Context, authority id.AccountID, isActive bool) (*models.MedicalAuthority, error)
	Pause(ctx context.Context) (*models.ProgramState, error)
	Unpause(ctx context.Context) (*models.ProgramState, error)
	UpsertRecipient(ctx context.Context, patient *id.AccountID, data models.RecipientData) (*models.Recipient, error)
	MarkRemoved(ctx context.Context, patient id.AccountID) (*models.Recipient, error)
	AddDonor(ctx context.Context, data models.DonorData) (*models.Donor, error)
	MarkWithdrawn(ctx context.Context, donorID id.DonorID) (*models.Donor, error)
	FindBestMatch(ctx context.Context, donorID id.DonorID) (*models.Match, error)
	ConfirmMatch(ctx context.Context, matchID id.MatchID) (*models.Match, error)
	RejectMatch(ctx context.Context, matchID id.MatchID) (*models.Match, error)

	GetProgram(ctx context.Context) (*models.ProgramState, error)
	GetAuthority(ctx context.Context, authority id.AccountID) (*models.MedicalAuthority, error)
	GetRecipient(ctx context.Context, patient id.AccountID) (*models.Recipient, error)
	GetDonor(ctx context.Context, donorID id.DonorID) (*models.Donor, error)
	GetMatch(ctx context.Context, matchID id.MatchID) (*models.Match, error)
}

// LedgerReader pages through the event ledger.
type LedgerReader interface {
	Since(ctx context.Context, after uint64, limit int) ([]ledger.Entry, error)
}

type Handler struct {
	service Service
	ledger  LedgerReader
	logger  *slog.Logger
}

func New(service Service, ledger LedgerReader, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		ledger:  ledger,
		logger:  logger,
	}
}

// Register mounts the matching routes. Callers are expected to wrap r with
// the authentication middleware.
func (h *Handler) Register(r chi.Router) {
	r.Route("/program", func(r chi.Router) {
		r.Get("/", h.handleGetProgram)
		r.Post("/initialize", h.handleInitialize)
		r.Post("/pause", h.handlePause)
		r.Post("/unpause", h.handleUnpause)
	})
	r.Route("/authorities/{id}", func(r chi.Router) {
		r.Get("/", h.handleGetAuthority)
		r.Put("/", h.handleSetAuthority)
	})
	r.Route("/recipients", func(r chi.Router) {
		r.Put("/", h.handleUpsertRecipient)
		r.Get("/{id}", h.handleGetRecipient)
		r.Post("/{id}/remove", h.handleMarkRemoved)
	})
	r.Route("/donors", func(r chi.Router) {
		r.Post("/", h.handleAddDonor)
		r.Get("/{id}", h.handleGetDonor)
		r.Post("/{id}/withdraw", h.handleMarkWithdrawn)
		r.Post("/{id}/match", h.handleFindBestMatch)
	})
	r.Route("/matches/{id}", func(r chi.Router) {
		r.Get("/", h.handleGetMatch)
		r.Post("/confirm", h.handleConfirmMatch)
		r.Post("/reject", h.handleRejectMatch)
	})
	r.Get("/ledger", h.handleLedger)
}

func (h *Handler) handleInitialize(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndPrepare[InitializeRequest](w, r, h.logger)
	if !ok {
		return
	}
	program, err := h.service.Initialize(r.Context(), req.parsedAdmin)
	if err != nil {
		h.fail(w, r, "initialize", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromProgram(program))
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	program, err := h.service.Pause(r.Context())
	if err != nil {
		h.fail(w, r, "pause", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromProgram(program))
}

func (h *Handler) handleUnpause(w http.ResponseWriter, r *http.Request) {
	program, err := h.service.Unpause(r.Context())
	if err != nil {
		h.fail(w, r, "unpause", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromProgram(program))
}

func (h *Handler) handleGetProgram(w http.ResponseWriter, r *http.Request) {
	program, err := h.service.GetProgram(r.Context())
	if err != nil {
		h.fail(w, r, "get_program", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromProgram(program))
}

func (h *Handler) handleSetAuthority(w http.ResponseWriter, r *http.Request) {
	authority, err := id.ParseAccountID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[SetAuthorityRequest](w, r, h.logger)
	if !ok {
		return
	}
	record, err := h.service.SetMedicalAuthority(r.Context(), authority, *req.IsActive)
	if err != nil {
		h.fail(w, r, "set_medical_authority", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromAuthority(record))
}

func (h *Handler) handleGetAuthority(w http.ResponseWriter, r *http.Request) {
	authority, err := id.ParseAccountID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	record, err := h.service.GetAuthority(r.Context(), authority)
	if err != nil {
		h.fail(w, r, "get_authority", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromAuthority(record))
}

func (h *Handler) handleUpsertRecipient(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndPrepare[UpsertRecipientRequest](w, r, h.logger)
	if !ok {
		return
	}
	record, err := h.service.UpsertRecipient(r.Context(), req.parsedPatient, req.parsedData)
	if err != nil {
		h.fail(w, r, "upsert_recipient", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRecipient(record))
}

func (h *Handler) handleGetRecipient(w http.ResponseWriter, r *http.Request) {
	patient, err := id.ParseAccountID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	record, err := h.service.GetRecipient(r.Context(), patient)
	if err != nil {
		h.fail(w, r, "get_recipient", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRecipient(record))
}

func (h *Handler) handleMarkRemoved(w http.ResponseWriter, r *http.Request) {
	patient, err := id.ParseAccountID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	record, err := h.service.MarkRemoved(r.Context(), patient)
	if err != nil {
		h.fail(w, r, "mark_removed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRecipient(record))
}

func (h *Handler) handleAddDonor(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndPrepare[AddDonorRequest](w, r, h.logger)
	if !ok {
		return
	}
	donor, err := h.service.AddDonor(r.Context(), req.parsedData)
	if err != nil {
		h.fail(w, r, "add_donor", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromDonor(donor))
}

func (h *Handler) handleGetDonor(w http.ResponseWriter, r *http.Request) {
	donorID, err := id.ParseDonorID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	donor, err := h.service.GetDonor(r.Context(), donorID)
	if err != nil {
		h.fail(w, r, "get_donor", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromDonor(donor))
}

func (h *Handler) handleMarkWithdrawn(w http.ResponseWriter, r *http.Request) {
	donorID, err := id.ParseDonorID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	donor, err := h.service.MarkWithdrawn(r.Context(), donorID)
	if err != nil {
		h.fail(w, r, "mark_withdrawn", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromDonor(donor))
}

func (h *Handler) handleFindBestMatch(w http.ResponseWriter, r *http.Request) {
	donorID, err := id.ParseDonorID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	match, err := h.service.FindBestMatch(r.Context(), donorID)
	if err != nil {
		h.fail(w, r, "find_best_match", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromMatch(match))
}

func (h *Handler) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	matchID, err := id.ParseMatchID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	match, err := h.service.GetMatch(r.Context(), matchID)
	if err != nil {
		h.fail(w, r, "get_match", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromMatch(match))
}

func (h *Handler) handleConfirmMatch(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "confirm_match", h.service.ConfirmMatch)
}

func (h *Handler) handleRejectMatch(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "reject_match", h.service.RejectMatch)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, id.MatchID) (*models.Match, error)) {
	matchID, err := id.ParseMatchID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	match, err := fn(r.Context(), matchID)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromMatch(match))
}

// handleLedger serves GET /ledger?after=&limit=.
func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if requestcontext.Caller(ctx).IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	after, err := queryUint(r, "after")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit, err := queryUint(r, "limit")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entries, err := h.ledger.Since(ctx, after, int(min(limit, ledger.DefaultPageSize)))
	if err != nil {
		h.fail(w, r, "read_ledger", dErrors.Wrap(err, dErrors.CodeInternal, "failed to read ledger"))
		return
	}
	page := LedgerPage{Entries: entries, Next: after}
	if n := len(entries); n > 0 {
		page.Next = entries[n-1].Seq
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

func queryUint(r *http.Request, name string) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, dErrors.Newf(dErrors.CodeBadRequest, "%s must be a non-negative integer", name)
	}
	return v, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"operation", op,
		"error", err,
	}
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "matching request failed", attrs...)
	} else {
		h.logger.InfoContext(ctx, "matching request rejected", attrs...)
	}
	httputil.WriteError(w, err)
}
