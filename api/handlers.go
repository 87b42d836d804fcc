/*
handlers.go - HTTP API handlers for the apartment ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to ledger.Service and the payment
  event scheduler.

ENDPOINTS:
  Reference data:
    GET|POST /api/apartments
    GET|POST /api/categories

  Expenses:
    GET|POST /api/expenses
    GET      /api/expenses/{id}/split     Split result for one expense
    POST     /api/expenses/{id}/settle    Mark one apartment's share paid

  Payments:
    GET|POST /api/payments                ?month=YYYY-MM filters the list
    POST     /api/payments/{id}/status    Status transition + ledger deltas

  Read models (cached):
    GET /api/balances
    GET /api/balances/settlements
    GET /api/sheets

  Balances and settlements always use the standard per-share rule on the
  stored PerApartmentShare and unpaid set. They are the authoritative
  "who owes whom". The split endpoint and /api/ledger/deltas apply the
  registered strategies (weighted, exempt) and describe how a category's
  cost is allocated per month; for such categories the two views differ.

  Ledger:
    GET /api/ledger/deltas
    GET /api/ledger/totals                ?month=YYYY-MM

  Payment events:
    POST /api/payment-events/generate
    GET  /api/payment-events/status
    GET  /api/payment-events/runs         ?limit=N

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Record not found
  - 409: Duplicate record, or a payment changed by a concurrent request
  - 500: Internal errors

CACHING:
  Every successful write bumps the cache version, so cached balances and
  sheets are never older than the last write through this API.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - cache/cache.go: Versioned cache
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/apartment-ledger/cache"
	"github.com/warp/apartment-ledger/ledger"
)

const defaultRunLimit = 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service   *ledger.Service
	Scheduler *ledger.PaymentEventScheduler
	Cache     *cache.Cache
	Logger    *slog.Logger
	Clock     ledger.Clock

	// NewID generates record IDs the client did not supply.
	NewID func() string
}

// NewHandler creates a handler. cache may be nil.
func NewHandler(svc *ledger.Service, scheduler *ledger.PaymentEventScheduler, c *cache.Cache, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Service:   svc,
		Scheduler: scheduler,
		Cache:     c,
		Logger:    logger,
		Clock:     ledger.SystemClock{},
		NewID:     uuid.NewString,
	}
}

func (h *Handler) store() ledger.Store { return h.Service.Store }

func (h *Handler) idOr(id string) string {
	if id != "" {
		return id
	}
	return h.NewID()
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Cache: "disabled"}
	if h.Cache != nil {
		resp.Cache = "ok"
		if err := h.Cache.Ping(r.Context()); err != nil {
			h.Logger.Warn("cache ping failed", slog.Any("error", err))
			resp.Cache = "unavailable"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// APARTMENT & CATEGORY HANDLERS
// =============================================================================

func (h *Handler) ListApartments(w http.ResponseWriter, r *http.Request) {
	apartments, err := h.store().ListApartments(r.Context())
	if err != nil {
		h.fail(w, "Failed to list apartments", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(apartments))
}

// CreateApartment creates an apartment, or renames it when the ID exists.
func (h *Handler) CreateApartment(w http.ResponseWriter, r *http.Request) {
	var req CreateApartmentRequest
	if !decode(w, r, &req) {
		return
	}
	apartment := ledger.Apartment{ID: ledger.ApartmentID(h.idOr(req.ID)), Name: req.Name}
	if err := ledger.ValidateApartment(apartment); err != nil {
		h.fail(w, "Invalid apartment", err)
		return
	}
	if err := h.store().SaveApartment(r.Context(), apartment); err != nil {
		h.fail(w, "Failed to save apartment", err)
		return
	}
	h.invalidate(r.Context())
	writeJSON(w, http.StatusCreated, apartment)
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.store().ListCategories(r.Context())
	if err != nil {
		h.fail(w, "Failed to list categories", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(categories))
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryRequest
	if !decode(w, r, &req) {
		return
	}
	category := ledger.Category{
		ID:             ledger.CategoryID(h.idOr(req.ID)),
		Name:           req.Name,
		IsPaymentEvent: req.IsPaymentEvent,
		AutoGenerate:   req.AutoGenerate,
		DayOfMonth:     req.DayOfMonth,
	}
	if req.MonthlyAmount != nil {
		category.MonthlyAmount = decimal.NewNullDecimal(*req.MonthlyAmount)
	}
	if err := ledger.ValidateCategory(category); err != nil {
		h.fail(w, "Invalid category", err)
		return
	}
	if err := h.store().SaveCategory(r.Context(), category); err != nil {
		h.fail(w, "Failed to save category", err)
		return
	}
	h.invalidate(r.Context())
	writeJSON(w, http.StatusCreated, category)
}

// =============================================================================
// EXPENSE HANDLERS
// =============================================================================

func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := h.store().ListExpenses(r.Context())
	if err != nil {
		h.fail(w, "Failed to list expenses", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(expenses))
}

func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CreateExpenseRequest
	if !decode(w, r, &req) {
		return
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	expense := ledger.Expense{
		ID:               ledger.ExpenseID(h.idOr(req.ID)),
		Description:      req.Description,
		Amount:           req.Amount,
		Date:             date,
		CategoryID:       ledger.CategoryID(req.CategoryID),
		PaidByApartment:  ledger.ApartmentID(req.PaidByApartment),
		OwedByApartments: apartmentIDs(req.OwedByApartments),
		PaidByApartments: apartmentIDs(req.PaidByApartments),
	}
	switch {
	case req.PerApartmentShare != nil:
		expense.PerApartmentShare = *req.PerApartmentShare
	case len(expense.OwedByApartments) > 0:
		expense.PerApartmentShare = req.Amount.Div(decimal.NewFromInt(int64(len(expense.OwedByApartments)))).Round(2)
	}
	if err := ledger.ValidateExpense(expense); err != nil {
		h.fail(w, "Invalid expense", err)
		return
	}

	existing, err := h.store().GetExpense(ctx, expense.ID)
	if err != nil {
		h.fail(w, "Failed to create expense", err)
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "Expense already exists", ledger.ErrDuplicateRecord)
		return
	}

	if err := h.store().SaveExpense(ctx, expense); err != nil {
		h.fail(w, "Failed to create expense", err)
		return
	}
	h.invalidate(ctx)
	writeJSON(w, http.StatusCreated, expense)
}

// SplitExpense returns how the resolved strategy splits one expense. This is
// the allocation view; GetBalances stays on the standard rule.
func (h *Handler) SplitExpense(w http.ResponseWriter, r *http.Request) {
	id := ledger.ExpenseID(chi.URLParam(r, "id"))
	result, err := h.Service.Split(r.Context(), id)
	if err != nil {
		h.fail(w, "Failed to split expense", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) SettleShare(w http.ResponseWriter, r *http.Request) {
	id := ledger.ExpenseID(chi.URLParam(r, "id"))
	var req SettleShareRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ApartmentID == "" {
		writeError(w, http.StatusBadRequest, "apartment_id is required", nil)
		return
	}

	expense, err := h.Service.SettleShare(r.Context(), id, ledger.ApartmentID(req.ApartmentID))
	if err != nil {
		h.fail(w, "Failed to settle share", err)
		return
	}
	h.invalidate(r.Context())
	writeJSON(w, http.StatusOK, expense)
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var (
		payments []ledger.Payment
		err      error
	)
	if raw := r.URL.Query().Get("month"); raw != "" {
		month, perr := ledger.ParseMonthYear(raw)
		if perr != nil {
			h.fail(w, "Invalid month", perr)
			return
		}
		payments, err = h.store().ListPaymentsByMonth(ctx, month)
	} else {
		payments, err = h.store().ListPayments(ctx)
	}
	if err != nil {
		h.fail(w, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(payments))
}

func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if !decode(w, r, &req) {
		return
	}
	status := req.Status
	if status == "" {
		status = string(ledger.StatusPending)
	}

	payment := ledger.Payment{
		ID:          ledger.PaymentID(h.idOr(req.ID)),
		PayerID:     req.PayerID,
		PayeeID:     req.PayeeID,
		ApartmentID: ledger.ApartmentID(req.ApartmentID),
		Amount:      req.Amount,
		Status:      ledger.PaymentStatus(status),
		Category:    ledger.PaymentCategory(req.Category),
		MonthYear:   ledger.MonthYear(req.MonthYear),
		Reason:      req.Reason,
		ExpenseID:   ledger.ExpenseID(req.ExpenseID),
		CreatedAt:   h.Clock.Now(),
	}

	stored, err := h.Service.RecordPayment(r.Context(), payment)
	if err != nil {
		h.fail(w, "Failed to create payment", err)
		return
	}
	h.invalidate(r.Context())
	writeJSON(w, http.StatusCreated, stored)
}

// UpdatePaymentStatus moves a payment to a new status and applies the
// resulting ledger deltas.
func (h *Handler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	id := ledger.PaymentID(chi.URLParam(r, "id"))
	var req UpdateStatusRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.Service.TransitionPayment(r.Context(), id, req.Status)
	if err != nil {
		h.fail(w, "Failed to update payment status", err)
		return
	}
	if result.Deltas == nil {
		result.Deltas = []ledger.PaymentDelta{}
	}
	h.invalidate(r.Context())
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// READ MODEL HANDLERS
// =============================================================================

// GetBalances returns every apartment's net position from the standard
// per-share rule, whatever strategy the expense's category resolves to.
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	var resp BalancesResponse
	if err := h.cached(r.Context(), "balances", &resp, func(ctx context.Context) (any, error) {
		balances, err := h.Service.Balances(ctx)
		if err != nil {
			return nil, err
		}
		return BalancesResponse{Balances: balanceDTOs(balances)}, nil
	}); err != nil {
		h.fail(w, "Failed to compute balances", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSettlements suggests transfers that clear every net position.
func (h *Handler) GetSettlements(w http.ResponseWriter, r *http.Request) {
	var resp SettlementsResponse
	if err := h.cached(r.Context(), "settlements", &resp, func(ctx context.Context) (any, error) {
		balances, err := h.Service.Balances(ctx)
		if err != nil {
			return nil, err
		}
		return SettlementsResponse{Settlements: nonNil(ledger.SuggestSettlements(balances))}, nil
	}); err != nil {
		h.fail(w, "Failed to compute settlements", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetSheets(w http.ResponseWriter, r *http.Request) {
	var report ledger.SheetReport
	if err := h.cached(r.Context(), "sheets", &report, func(ctx context.Context) (any, error) {
		sheets, err := h.Service.BalanceSheets(ctx)
		if err != nil {
			return nil, err
		}
		sheets.Sheets = nonNil(sheets.Sheets)
		return sheets, nil
	}); err != nil {
		h.fail(w, "Failed to aggregate balance sheets", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

func (h *Handler) GetMonthlyDeltas(w http.ResponseWriter, r *http.Request) {
	deltas, err := h.Service.MonthlyDeltas(r.Context())
	if err != nil {
		h.fail(w, "Failed to compute monthly deltas", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(deltas))
}

func (h *Handler) GetLedgerTotals(w http.ResponseWriter, r *http.Request) {
	var month ledger.MonthYear
	if raw := r.URL.Query().Get("month"); raw != "" {
		parsed, err := ledger.ParseMonthYear(raw)
		if err != nil {
			h.fail(w, "Invalid month", err)
			return
		}
		month = parsed
	}
	totals, err := h.store().LedgerTotals(r.Context(), month)
	if err != nil {
		h.fail(w, "Failed to load ledger totals", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(totals))
}

// =============================================================================
// PAYMENT EVENT HANDLERS
// =============================================================================

// GeneratePaymentEvents runs the scheduler once. The body is optional.
func (h *Handler) GeneratePaymentEvents(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	input := ledger.GenerateInput{Force: req.Force}
	if req.TargetMonth != "" {
		month, err := ledger.ParseMonthYear(req.TargetMonth)
		if err != nil {
			h.fail(w, "Invalid target_month", err)
			return
		}
		input.TargetMonth = month
	}

	run, err := h.Scheduler.Run(r.Context(), "api", input)
	if err != nil {
		h.fail(w, "Failed to generate payment events", err)
		return
	}
	if run.EventsCreated > 0 {
		h.invalidate(r.Context())
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) GetGenerationStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Scheduler.Status(r.Context())
	if err != nil {
		h.fail(w, "Failed to compute generation status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) ListGenerationRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}
	runs, err := h.store().ListRuns(r.Context(), limit)
	if err != nil {
		h.fail(w, "Failed to list generation runs", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(runs))
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) cached(ctx context.Context, name string, dest any, loader func(context.Context) (any, error)) error {
	key, err := h.Cache.BuildKey(ctx, name)
	if err != nil {
		h.Logger.Warn("cache unavailable, loading directly", slog.String("key", name), slog.Any("error", err))
		var direct *cache.Cache
		return direct.FetchJSON(ctx, name, dest, loader)
	}
	return h.Cache.FetchJSON(ctx, key, dest, loader)
}

func (h *Handler) invalidate(ctx context.Context) {
	if err := h.Cache.Bump(ctx); err != nil {
		h.Logger.Warn("cache invalidation failed", slog.Any("error", err))
	}
}

// fail maps ledger errors to HTTP status codes.
func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case ledger.IsNotFound(err):
		status = http.StatusNotFound
	case ledger.IsConflict(err):
		status = http.StatusConflict
	case ledger.IsClientError(err):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.Logger.Error(message, slog.Any("error", err))
	}

	var verr *ledger.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, status, ErrorResponse{Error: message, Details: verr.Fields})
		return
	}
	writeError(w, status, message, err)
}

func decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func balanceDTOs(balances map[ledger.ApartmentID]ledger.ApartmentBalance) []ApartmentBalanceDTO {
	out := make([]ApartmentBalanceDTO, 0, len(balances))
	for _, id := range slices.Sorted(maps.Keys(balances)) {
		out = append(out, ApartmentBalanceDTO{ApartmentID: id, ApartmentBalance: balances[id]})
	}
	return out
}

func apartmentIDs(ids []string) []ledger.ApartmentID {
	out := make([]ledger.ApartmentID, len(ids))
	for i, id := range ids {
		out[i] = ledger.ApartmentID(id)
	}
	return out
}

// nonNil keeps empty lists as [] in JSON.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
