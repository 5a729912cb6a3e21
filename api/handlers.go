/*
handlers.go - HTTP API handlers for the bookkeeping ledger

PURPOSE:
  Exposes the ledger via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the ledger services.

ENDPOINTS:
  Books:
    GET    /api/books?owner=           List an owner's books (creates a default)
    POST   /api/books                  Create book (optionally seeded)
    GET    /api/books/{bookID}         Get book
    PUT    /api/books/{bookID}         Rename / update settings
    DELETE /api/books/{bookID}         Delete (never the only book)
    POST   /api/books/{bookID}/default Make default
    POST   /api/books/{bookID}/initialize Seed default accounts/categories

  Accounts (under /api/books/{bookID}):
    GET/POST          /accounts
    GET/PUT/DELETE    /accounts/{id}
    GET               /accounts/{id}/activity

  Transactions (under /api/books/{bookID}):
    GET    /transactions?account=&from=&to=&limit=
    POST   /transactions              Any intent shape (factory.IntentJSON)
    GET/PUT/DELETE /transactions/{id}

  Recurring (under /api/books/{bookID}):
    GET/POST          /recurring
    GET/PUT/DELETE    /recurring/{id}
    POST              /recurring/{id}/pause, /recurring/{id}/resume
    POST              /recurring/process  Materialize due occurrences now

  Reports (under /api/books/{bookID}):
    GET    /report?from=&to=
    GET    /verify

  Backup:
    GET    /api/export?owner=
    POST   /api/import?owner=

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, deleting the only book
  - 404: Record not found
  - 409: Duplicate idempotency key
  - 503: Persistence failure (retryable)
  - 500: Internal errors

SECURITY NOTE:
  No authentication. The owner is taken from the request as given.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/bookkeeper/backup"
	"github.com/warp/bookkeeper/factory"
	"github.com/warp/bookkeeper/ledger"
)

// maxBody bounds request bodies, including imports.
const maxBody = 32 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger    *ledger.Ledger
	Books     *ledger.Books
	Scheduler *ledger.Scheduler
	Restorer  *backup.Restorer
	Runner    *RecurringRunner
	Metrics   *Metrics
	Logger    *zap.Logger

	// DefaultCurrency is used for books created without a currency,
	// including the first book of an owner listed for the first time.
	DefaultCurrency string
}

// NewHandler wires the services around one ledger.
func NewHandler(l *ledger.Ledger, m *Metrics) *Handler {
	sc := ledger.NewScheduler(l)
	return &Handler{
		Ledger:    l,
		Books:     ledger.NewBooks(l),
		Scheduler: sc,
		Restorer:  backup.NewRestorer(l),
		Runner:    NewRecurringRunner(sc, m, l.Logger),
		Metrics:   m,
		Logger:    l.Logger.Named("api"),

		DefaultCurrency: "USD",
	}
}

func bookID(r *http.Request) ledger.BookID { return ledger.BookID(chi.URLParam(r, "bookID")) }

// =============================================================================
// BOOK HANDLERS
// =============================================================================

// ListBooks returns the books of ?owner=.
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner != "" {
		if _, err := h.Books.EnsureDefault(r.Context(), owner, h.DefaultCurrency); err != nil {
			h.fail(w, "ensure default book", err)
			return
		}
	}
	books, err := h.Books.List(r.Context(), owner)
	if err != nil {
		h.fail(w, "list books", err)
		return
	}
	dtos := make([]BookDTO, len(books))
	for i, b := range books {
		dtos[i] = toBookDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBook adds a book.
func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req CreateBookRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Currency) == "" {
		req.Currency = h.DefaultCurrency
	}
	book, err := h.Books.Create(r.Context(), ledger.BookInput{
		OwnerID:  req.OwnerID,
		Name:     req.Name,
		Currency: req.Currency,
		Settings: req.Settings,
		Seed:     req.Seed,
	})
	if err != nil {
		h.fail(w, "create book", err)
		return
	}
	h.Metrics.mutation("create_book")
	writeJSON(w, http.StatusCreated, toBookDTO(book))
}

// GetBook returns one book.
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.Books.Get(r.Context(), bookID(r))
	if err != nil {
		h.fail(w, "get book", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookDTO(book))
}

// UpdateBook renames a book.
func (h *Handler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	var req UpdateBookRequest
	if !decode(w, r, &req) {
		return
	}
	book, err := h.Books.Rename(r.Context(), bookID(r), req.Name, req.Settings)
	if err != nil {
		h.fail(w, "update book", err)
		return
	}
	h.Metrics.mutation("update_book")
	writeJSON(w, http.StatusOK, toBookDTO(book))
}

// DeleteBook removes a book and everything in it.
func (h *Handler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	if err := h.Books.Delete(r.Context(), bookID(r)); err != nil {
		h.fail(w, "delete book", err)
		return
	}
	h.Metrics.mutation("delete_book")
	w.WriteHeader(http.StatusNoContent)
}

// SetDefaultBook makes a book the owner's default.
func (h *Handler) SetDefaultBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.Books.SetDefault(r.Context(), bookID(r))
	if err != nil {
		h.fail(w, "set default book", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookDTO(book))
}

// InitializeBook seeds the default chart of accounts and categories.
func (h *Handler) InitializeBook(w http.ResponseWriter, r *http.Request) {
	report, err := h.Books.InitializeDefaults(r.Context(), bookID(r))
	if err != nil {
		h.fail(w, "initialize book", err)
		return
	}
	h.Metrics.mutation("initialize_book")
	writeJSON(w, http.StatusOK, SeedReportDTO(report))
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns the accounts of a book with their paths.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Ledger.ListAccounts(r.Context(), bookID(r))
	if err != nil {
		h.fail(w, "list accounts", err)
		return
	}
	paths := ledger.AccountPaths(accounts)
	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a, paths[a.ID])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAccount adds an account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if !decode(w, r, &req) {
		return
	}
	acc, err := h.Ledger.CreateAccount(r.Context(), bookID(r), ledger.AccountInput{
		ParentID:       ledger.AccountID(req.ParentID),
		Name:           req.Name,
		Type:           ledger.AccountType(req.Type),
		Currency:       req.Currency,
		OpeningBalance: req.OpeningBalance,
		Color:          req.Color,
		Icon:           req.Icon,
	})
	if err != nil {
		h.fail(w, "create account", err)
		return
	}
	h.Metrics.mutation("create_account")
	writeJSON(w, http.StatusCreated, toAccountDTO(acc, ""))
}

// GetAccount returns one account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.Ledger.GetAccount(r.Context(), bookID(r), ledger.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, "get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acc, ""))
}

// UpdateAccount applies a manual edit.
func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req UpdateAccountRequest
	if !decode(w, r, &req) {
		return
	}
	patch := ledger.AccountPatch{
		Name:     req.Name,
		Currency: req.Currency,
		Color:    req.Color,
		Icon:     req.Icon,
		Balance:  req.Balance,
		Note:     req.Note,
	}
	if req.ParentID != nil {
		parent := ledger.AccountID(*req.ParentID)
		patch.ParentID = &parent
	}
	if req.Type != nil {
		typ := ledger.AccountType(*req.Type)
		patch.Type = &typ
	}
	acc, err := h.Ledger.UpdateAccount(r.Context(), bookID(r), ledger.AccountID(chi.URLParam(r, "id")), patch)
	if err != nil {
		h.fail(w, "update account", err)
		return
	}
	h.Metrics.mutation("update_account")
	writeJSON(w, http.StatusOK, toAccountDTO(acc, ""))
}

// DeleteAccount removes an account and every transaction touching it.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.DeleteAccount(r.Context(), bookID(r), ledger.AccountID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, "delete account", err)
		return
	}
	h.Metrics.mutation("delete_account")
	w.WriteHeader(http.StatusNoContent)
}

// ListActivity returns the manual-edit audit trail of an account.
func (h *Handler) ListActivity(w http.ResponseWriter, r *http.Request) {
	acts, err := h.Ledger.ListActivities(r.Context(), bookID(r), ledger.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, "list activity", err)
		return
	}
	dtos := make([]ActivityDTO, len(acts))
	for i, a := range acts {
		dtos[i] = toActivityDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ListTransactions returns transactions, optionally viewed from ?account=.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.TransactionFilter{
		BookID:      bookID(r),
		AccountID:   ledger.AccountID(q.Get("account")),
		RecurringID: ledger.RecurringID(q.Get("recurring")),
	}
	var err error
	if f.From, err = optionalDate(q.Get("from")); err != nil {
		h.fail(w, "list transactions", err)
		return
	}
	if f.To, err = optionalDate(q.Get("to")); err != nil {
		h.fail(w, "list transactions", err)
		return
	}
	if s := q.Get("limit"); s != "" {
		if f.Limit, err = strconv.Atoi(s); err != nil || f.Limit < 0 {
			h.fail(w, "list transactions", &ledger.ValidationError{Field: "limit", Reason: "limit must be a non-negative integer"})
			return
		}
	}

	txs, err := h.Ledger.ListTransactions(r.Context(), f)
	if err != nil {
		h.fail(w, "list transactions", err)
		return
	}
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx, f.AccountID)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTransaction records any intent shape.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	intent, ok := h.readIntent(w, r)
	if !ok {
		return
	}
	tx, err := h.Ledger.Create(r.Context(), bookID(r), intent)
	if err != nil {
		h.fail(w, "create transaction", err)
		return
	}
	h.Metrics.mutation("create_transaction")
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx, ""))
}

// GetTransaction returns one transaction.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Ledger.GetTransaction(r.Context(), bookID(r), ledger.TransactionID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, "get transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx, ledger.AccountID(r.URL.Query().Get("account"))))
}

// UpdateTransaction replaces a transaction.
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	intent, ok := h.readIntent(w, r)
	if !ok {
		return
	}
	tx, err := h.Ledger.Update(r.Context(), bookID(r), ledger.TransactionID(chi.URLParam(r, "id")), intent)
	if err != nil {
		h.fail(w, "update transaction", err)
		return
	}
	h.Metrics.mutation("update_transaction")
	writeJSON(w, http.StatusOK, toTransactionDTO(tx, ""))
}

// DeleteTransaction removes a transaction and reverses its effects.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.Delete(r.Context(), bookID(r), ledger.TransactionID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, "delete transaction", err)
		return
	}
	h.Metrics.mutation("delete_transaction")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) readIntent(w http.ResponseWriter, r *http.Request) (ledger.Intent, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return nil, false
	}
	intent, err := factory.ParseIntent(body)
	if err != nil {
		h.fail(w, "parse intent", err)
		return nil, false
	}
	return intent, true
}

// =============================================================================
// CATEGORY HANDLERS
// =============================================================================

// ListCategories returns the categories of a book.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.Books.ListCategories(r.Context(), bookID(r))
	if err != nil {
		h.fail(w, "list categories", err)
		return
	}
	dtos := make([]CategoryDTO, len(cats))
	for i, c := range cats {
		dtos[i] = toCategoryDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCategory adds a category.
func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.Books.CreateCategory(r.Context(), bookID(r), ledger.Category{
		Name: req.Name, Kind: ledger.Kind(req.Kind), Color: req.Color, Icon: req.Icon,
	})
	if err != nil {
		h.fail(w, "create category", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCategoryDTO(c))
}

// DeleteCategory removes a category.
func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.Books.DeleteCategory(r.Context(), bookID(r), ledger.CategoryID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, "delete category", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// RECURRING HANDLERS
// =============================================================================

// ListRecurring returns the schedules of a book.
func (h *Handler) ListRecurring(w http.ResponseWriter, r *http.Request) {
	items, err := h.Scheduler.List(r.Context(), bookID(r))
	if err != nil {
		h.fail(w, "list recurring", err)
		return
	}
	dtos := make([]RecurringDTO, len(items))
	for i, item := range items {
		dtos[i] = toRecurringDTO(item)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRecurring adds a schedule.
func (h *Handler) CreateRecurring(w http.ResponseWriter, r *http.Request) {
	var req factory.RecurringJSON
	if !decode(w, r, &req) {
		return
	}
	in, err := req.Input()
	if err != nil {
		h.fail(w, "create recurring", err)
		return
	}
	item, err := h.Scheduler.Create(r.Context(), bookID(r), in)
	if err != nil {
		h.fail(w, "create recurring", err)
		return
	}
	h.Metrics.mutation("create_recurring")
	writeJSON(w, http.StatusCreated, toRecurringDTO(item))
}

// GetRecurring returns one schedule.
func (h *Handler) GetRecurring(w http.ResponseWriter, r *http.Request) {
	item, err := h.Scheduler.Get(r.Context(), bookID(r), ledger.RecurringID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, "get recurring", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecurringDTO(item))
}

// UpdateRecurring replaces a schedule's template and shape.
func (h *Handler) UpdateRecurring(w http.ResponseWriter, r *http.Request) {
	var req factory.RecurringJSON
	if !decode(w, r, &req) {
		return
	}
	in, err := req.Input()
	if err != nil {
		h.fail(w, "update recurring", err)
		return
	}
	item, err := h.Scheduler.Update(r.Context(), bookID(r), ledger.RecurringID(chi.URLParam(r, "id")), in)
	if err != nil {
		h.fail(w, "update recurring", err)
		return
	}
	h.Metrics.mutation("update_recurring")
	writeJSON(w, http.StatusOK, toRecurringDTO(item))
}

// DeleteRecurring removes a schedule.
func (h *Handler) DeleteRecurring(w http.ResponseWriter, r *http.Request) {
	if err := h.Scheduler.Delete(r.Context(), bookID(r), ledger.RecurringID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, "delete recurring", err)
		return
	}
	h.Metrics.mutation("delete_recurring")
	w.WriteHeader(http.StatusNoContent)
}

// PauseRecurring stops a schedule.
func (h *Handler) PauseRecurring(w http.ResponseWriter, r *http.Request) {
	item, err := h.Scheduler.Pause(r.Context(), bookID(r), ledger.RecurringID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, "pause recurring", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecurringDTO(item))
}

// ResumeRecurring restarts a schedule, optionally skipping missed runs.
func (h *Handler) ResumeRecurring(w http.ResponseWriter, r *http.Request) {
	var req ResumeRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	var skip time.Time
	if req.SkipMissedBefore != "" {
		d, err := ledger.ParseDate(req.SkipMissedBefore)
		if err != nil {
			h.fail(w, "resume recurring", err)
			return
		}
		skip = d
	}
	item, err := h.Scheduler.Resume(r.Context(), bookID(r), ledger.RecurringID(chi.URLParam(r, "id")), skip)
	if err != nil {
		h.fail(w, "resume recurring", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecurringDTO(item))
}

// ProcessRecurring materializes the book's due occurrences now. Failed
// occurrences are reported in the body, not as an HTTP error.
func (h *Handler) ProcessRecurring(w http.ResponseWriter, r *http.Request) {
	result, err := h.Scheduler.ProcessDue(r.Context(), bookID(r), h.Ledger.Now())
	dto := ProcessResultDTO{
		Materialized: make([]string, len(result.Materialized)),
		Advanced:     result.Advanced,
		Failed:       result.Failed,
	}
	for i, id := range result.Materialized {
		dto.Materialized[i] = string(id)
	}
	if err != nil {
		if result.Failed == 0 {
			h.fail(w, "process recurring", err)
			return
		}
		var joined interface{ Unwrap() []error }
		if errors.As(err, &joined) {
			for _, e := range joined.Unwrap() {
				dto.Errors = append(dto.Errors, e.Error())
			}
		} else {
			dto.Errors = []string{err.Error()}
		}
	}
	if h.Metrics != nil {
		h.Metrics.Materialized.Add(float64(len(result.Materialized)))
		h.Metrics.Failed.Add(float64(result.Failed))
	}
	writeJSON(w, http.StatusOK, dto)
}

// RecurringStatus reports the background runner's last pass.
func (h *Handler) RecurringStatus(w http.ResponseWriter, r *http.Request) {
	status, ok := h.Runner.LastRun()
	resp := map[string]any{
		"enabled":  h.Runner.Enabled,
		"interval": h.Runner.CheckInterval.String(),
		"next_run": h.Runner.NextRunTime().UTC(),
	}
	if ok {
		resp["last_run"] = status
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// GetReport summarizes a book over ?from= and ?to=.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := bookID(r)
	var p ledger.Period
	from, err := optionalDate(r.URL.Query().Get("from"))
	if err != nil {
		h.fail(w, "report", err)
		return
	}
	to, err := optionalDate(r.URL.Query().Get("to"))
	if err != nil {
		h.fail(w, "report", err)
		return
	}
	if from != nil {
		p.Start = *from
	}
	if to != nil {
		p.End = *to
	}
	if from != nil && to == nil {
		p.End = h.Ledger.Now()
	}
	if to != nil && from == nil {
		p.Start = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	accounts, err := h.Ledger.ListAccounts(ctx, id)
	if err != nil {
		h.fail(w, "report", err)
		return
	}
	txs, err := h.Ledger.ListTransactions(ctx, p.Filter(ledger.TransactionFilter{BookID: id}))
	if err != nil {
		h.fail(w, "report", err)
		return
	}
	acts, err := h.Ledger.ListActivities(ctx, id, "")
	if err != nil {
		h.fail(w, "report", err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(ledger.Summarize(accounts, txs, acts, p)))
}

// VerifyBook recomputes balances and reports drift.
func (h *Handler) VerifyBook(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.Ledger.VerifyBalances(r.Context(), bookID(r))
	if err != nil && (ledger.IsNotFound(err) || errors.Is(err, ledger.ErrPersistence)) {
		h.fail(w, "verify", err)
		return
	}
	dto := VerifyDTO{OK: len(drifts) == 0 && err == nil, Drifts: make([]DriftDTO, len(drifts))}
	for i, d := range drifts {
		dto.Drifts[i] = DriftDTO{AccountID: string(d.AccountID), Name: d.Name, Stored: d.Stored, Expected: d.Expected}
	}
	if err != nil {
		dto.Errors = err.Error()
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// BACKUP HANDLERS
// =============================================================================

// Export streams the versioned backup of ?owner=.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	doc, err := backup.Export(r.Context(), h.Ledger.Store, r.URL.Query().Get("owner"), h.Ledger.Now())
	if err != nil {
		h.fail(w, "export", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="bookkeeper-backup.json"`)
	if err := doc.Write(w); err != nil {
		h.Logger.Error("export write failed", zap.Error(err))
	}
}

// Import restores a backup for ?owner= (defaults to the exported owner).
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	doc, err := backup.Read(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		h.fail(w, "import", err)
		return
	}
	report, err := h.Restorer.Restore(r.Context(), doc, r.URL.Query().Get("owner"))
	if err != nil {
		h.fail(w, "import", err)
		return
	}
	h.Metrics.mutation("import")
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// HELPERS
// =============================================================================

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

// fail maps a ledger error to its HTTP status and records it.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status, code := classify(err)
	h.Metrics.failure(op, code)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(op+" failed", zap.Error(err))
	}
	resp := ErrorResponse{Error: "Failed to " + op, Code: code, Details: err.Error()}
	writeJSON(w, status, resp)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrDuplicateIdempotencyKey):
		return http.StatusConflict, "duplicate"
	case ledger.IsClientError(err):
		return http.StatusBadRequest, "validation"
	case ledger.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ledger.ErrScheduleConsistency):
		return http.StatusInternalServerError, "schedule_consistency"
	case ledger.IsRetryable(err):
		return http.StatusServiceUnavailable, "persistence"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func optionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	d, err := ledger.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
