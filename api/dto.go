/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Books:        BookDTO, CreateBookRequest, UpdateBookRequest, SeedReportDTO
  Accounts:     AccountDTO, CreateAccountRequest, UpdateAccountRequest, ActivityDTO
  Transactions: TransactionDTO, SplitDTO (requests use factory.IntentJSON)
  Categories:   CategoryDTO, CreateCategoryRequest
  Recurring:    RecurringDTO, ProcessResultDTO (requests use factory.RecurringJSON)
  Reports:      ReportDTO, DriftDTO

MONEY:
  Amounts are decimal strings ("380.00" is sent as "380"). Display strings
  are formatted with the currency's symbol and minor units.

VALIDATION:
  Validation is done in the ledger, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/intent.go: IntentJSON and RecurringJSON request bodies
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/bookkeeper/factory"
	"github.com/warp/bookkeeper/ledger"
)

// =============================================================================
// BOOKS
// =============================================================================

// BookDTO represents a book in API responses.
type BookDTO struct {
	ID        string            `json:"id"`
	OwnerID   string            `json:"owner_id"`
	Name      string            `json:"name"`
	Currency  string            `json:"currency"`
	IsDefault bool              `json:"is_default"`
	Settings  map[string]string `json:"settings,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// CreateBookRequest is the body of POST /api/books.
type CreateBookRequest struct {
	OwnerID  string            `json:"owner_id"`
	Name     string            `json:"name"`
	Currency string            `json:"currency"`
	Settings map[string]string `json:"settings,omitempty"`
	Seed     bool              `json:"seed,omitempty"`
}

// UpdateBookRequest is the body of PUT /api/books/{bookID}.
type UpdateBookRequest struct {
	Name     string            `json:"name"`
	Settings map[string]string `json:"settings,omitempty"`
}

// SeedReportDTO is returned by POST /api/books/{bookID}/initialize.
type SeedReportDTO struct {
	Accounts   int `json:"accounts"`
	Categories int `json:"categories"`
	Skipped    int `json:"skipped"`
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID         string          `json:"id"`
	ParentID   string          `json:"parent_id,omitempty"`
	Path       string          `json:"path"`
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	Currency   string          `json:"currency"`
	Balance    decimal.Decimal `json:"balance"`
	Adjustment decimal.Decimal `json:"adjustment"`
	Display    string          `json:"display"`
	Color      string          `json:"color,omitempty"`
	Icon       string          `json:"icon,omitempty"`
}

// CreateAccountRequest is the body of POST /accounts.
type CreateAccountRequest struct {
	ParentID       string          `json:"parent_id,omitempty"`
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	Currency       string          `json:"currency,omitempty"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Color          string          `json:"color,omitempty"`
	Icon           string          `json:"icon,omitempty"`
}

// UpdateAccountRequest is the body of PUT /accounts/{id}. Absent fields
// are unchanged.
type UpdateAccountRequest struct {
	Name     *string          `json:"name,omitempty"`
	ParentID *string          `json:"parent_id,omitempty"`
	Type     *string          `json:"type,omitempty"`
	Currency *string          `json:"currency,omitempty"`
	Color    *string          `json:"color,omitempty"`
	Icon     *string          `json:"icon,omitempty"`
	Balance  *decimal.Decimal `json:"balance,omitempty"`
	Note     string           `json:"note,omitempty"`
}

// ActivityDTO is one manual-edit audit record.
type ActivityDTO struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id"`
	Kind      string          `json:"kind"`
	OldValue  string          `json:"old_value"`
	NewValue  string          `json:"new_value"`
	Delta     decimal.Decimal `json:"delta"`
	Note      string          `json:"note,omitempty"`
	At        time.Time       `json:"at"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// TransactionDTO represents a transaction in API responses. Kind and
// Amount are present when the list is viewed from one account.
type TransactionDTO struct {
	ID             string           `json:"id"`
	Description    string           `json:"description"`
	Date           string           `json:"date"`
	Currency       string           `json:"currency"`
	Notes          string           `json:"notes,omitempty"`
	CategoryID     string           `json:"category_id,omitempty"`
	Tags           []string         `json:"tags,omitempty"`
	RecurringID    string           `json:"recurring_id,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	Kind           string           `json:"kind,omitempty"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	Splits         []SplitDTO       `json:"splits"`
	CreatedAt      time.Time        `json:"created_at"`
}

// SplitDTO is one signed leg of a transaction.
type SplitDTO struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	AccountPath string          `json:"account_path"`
	AccountType string          `json:"account_type"`
	Value       decimal.Decimal `json:"value"`
	Side        string          `json:"side"`
	Memo        string          `json:"memo,omitempty"`
}

// =============================================================================
// CATEGORIES
// =============================================================================

// CategoryDTO represents a category in API responses.
type CategoryDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Color string `json:"color,omitempty"`
	Icon  string `json:"icon,omitempty"`
}

// CreateCategoryRequest is the body of POST /categories.
type CreateCategoryRequest struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Color string `json:"color,omitempty"`
	Icon  string `json:"icon,omitempty"`
}

// =============================================================================
// RECURRING
// =============================================================================

// RecurringDTO represents a schedule in API responses.
type RecurringDTO struct {
	ID        string               `json:"id"`
	Frequency string               `json:"frequency"`
	Interval  int                  `json:"interval"`
	StartDate string               `json:"start_date"`
	NextRun   string               `json:"next_run"`
	LastRun   string               `json:"last_run,omitempty"`
	Active    bool                 `json:"active"`
	Template  factory.TemplateJSON `json:"template"`
}

// ResumeRequest is the optional body of POST /recurring/{id}/resume.
type ResumeRequest struct {
	SkipMissedBefore string `json:"skip_missed_before,omitempty"`
}

// ProcessResultDTO summarizes a processing pass.
type ProcessResultDTO struct {
	Materialized []string `json:"materialized"`
	Advanced     int      `json:"advanced"`
	Failed       int      `json:"failed"`
	Errors       []string `json:"errors,omitempty"`
}

// =============================================================================
// REPORTS
// =============================================================================

// ReportDTO is the period summary of a book.
type ReportDTO struct {
	From          string                     `json:"from,omitempty"`
	To            string                     `json:"to,omitempty"`
	Transactions  int                        `json:"transactions"`
	ByType        map[string]decimal.Decimal `json:"by_type"`
	ByPath        map[string]decimal.Decimal `json:"by_path"`
	Income        decimal.Decimal            `json:"income"`
	Expense       decimal.Decimal            `json:"expense"`
	ManualIncome  decimal.Decimal            `json:"manual_income"`
	ManualExpense decimal.Decimal            `json:"manual_expense"`
	Net           decimal.Decimal            `json:"net"`
}

// DriftDTO is one account whose stored balance disagrees with its splits.
type DriftDTO struct {
	AccountID string          `json:"account_id"`
	Name      string          `json:"name"`
	Stored    decimal.Decimal `json:"stored"`
	Expected  decimal.Decimal `json:"expected"`
}

// VerifyDTO is the response of GET /verify.
type VerifyDTO struct {
	OK     bool       `json:"ok"`
	Drifts []DriftDTO `json:"drifts"`
	Errors string     `json:"errors,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
	OwnerID    string `json:"owner_id,omitempty"`
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toBookDTO(b ledger.Book) BookDTO {
	return BookDTO{
		ID:        string(b.ID),
		OwnerID:   b.OwnerID,
		Name:      b.Name,
		Currency:  b.Currency,
		IsDefault: b.IsDefault,
		Settings:  b.Settings,
		CreatedAt: b.CreatedAt,
	}
}

func toAccountDTO(a ledger.Account, path string) AccountDTO {
	if path == "" {
		path = a.Name
	}
	return AccountDTO{
		ID:         string(a.ID),
		ParentID:   string(a.ParentID),
		Path:       path,
		Name:       a.Name,
		Type:       string(a.Type),
		Currency:   a.Currency,
		Balance:    a.Balance,
		Adjustment: a.Adjustment,
		Display:    ledger.FormatMoney(a.Balance, a.Currency),
		Color:      a.Color,
		Icon:       a.Icon,
	}
}

func toActivityDTO(a ledger.AccountActivity) ActivityDTO {
	return ActivityDTO{
		ID:        a.ID,
		AccountID: string(a.AccountID),
		Kind:      string(a.Kind),
		OldValue:  a.OldValue,
		NewValue:  a.NewValue,
		Delta:     a.Delta,
		Note:      a.Note,
		At:        a.At,
	}
}

// toTransactionDTO renders tx. A non-empty viewed account adds the
// inferred kind and the amount as seen from that account.
func toTransactionDTO(tx ledger.Transaction, viewed ledger.AccountID) TransactionDTO {
	dto := TransactionDTO{
		ID:             string(tx.ID),
		Description:    tx.Description,
		Date:           ledger.DateString(tx.Date),
		Currency:       tx.Currency,
		Notes:          tx.Notes,
		CategoryID:     string(tx.CategoryID),
		Tags:           tx.Tags,
		RecurringID:    string(tx.RecurringID),
		IdempotencyKey: tx.IdempotencyKey,
		Splits:         make([]SplitDTO, len(tx.Splits)),
		CreatedAt:      tx.CreatedAt,
	}
	for i, s := range tx.Splits {
		e := factory.EntryFromSplit(s)
		dto.Splits[i] = SplitDTO{
			ID:          string(s.ID),
			AccountID:   string(s.AccountID),
			AccountPath: s.AccountPath,
			AccountType: string(s.AccountType),
			Value:       s.Value,
			Side:        e.Side,
			Memo:        s.Memo,
		}
		if viewed != "" && s.AccountID == viewed {
			amount := ledger.DisplayAmount(s)
			dto.Amount = &amount
		}
	}
	if viewed != "" {
		dto.Kind = string(ledger.InferKind(tx.Splits, viewed))
	}
	return dto
}

func toCategoryDTO(c ledger.Category) CategoryDTO {
	return CategoryDTO{ID: string(c.ID), Name: c.Name, Kind: string(c.Kind), Color: c.Color, Icon: c.Icon}
}

func toRecurringDTO(r ledger.RecurringTransaction) RecurringDTO {
	dto := RecurringDTO{
		ID:        string(r.ID),
		Frequency: string(r.Frequency),
		Interval:  r.Interval,
		StartDate: ledger.DateString(r.StartDate),
		NextRun:   ledger.DateString(r.NextRun),
		Active:    r.Active,
		Template:  factory.TemplateToJSON(r.Template),
	}
	if r.LastRun != nil {
		dto.LastRun = ledger.DateString(*r.LastRun)
	}
	return dto
}

func toReportDTO(r ledger.Report) ReportDTO {
	dto := ReportDTO{
		Transactions:  r.Transactions,
		ByType:        make(map[string]decimal.Decimal, len(r.ByType)),
		ByPath:        r.ByPath,
		Income:        r.Income,
		Expense:       r.Expense,
		ManualIncome:  r.ManualIncome,
		ManualExpense: r.ManualExpense,
		Net:           r.Net(),
	}
	if !r.Period.Start.IsZero() {
		dto.From = ledger.DateString(r.Period.Start)
	}
	if !r.Period.End.IsZero() {
		dto.To = ledger.DateString(r.Period.End)
	}
	for t, v := range r.ByType {
		dto.ByType[string(t)] = v
	}
	return dto
}
