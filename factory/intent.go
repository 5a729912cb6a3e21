/*
Package factory converts JSON documents into ledger intents and templates.

PURPOSE:
  Callers (the HTTP API, the import command, stored templates) describe
  money movements in JSON. The factory turns each document into exactly one
  tagged ledger.Intent variant. Downstream code never branches on shape.

JSON SCHEMA:
  Transfer (two accounts):
  {
    "description": "Groceries",
    "date": "2024-03-10",
    "from_account_id": "cash",
    "to_account_id": "groceries",
    "amount": "120.00"
  }

  Split (any number of entries):
  {
    "description": "Paycheck",
    "date": "2024-03-01",
    "entries": [
      {"account_id": "checking", "amount": "900", "side": "debit"},
      {"account_id": "tax",      "amount": "100", "side": "debit"},
      {"account_id": "salary",   "amount": "1000", "side": "credit"}
    ]
  }

  Legacy flat record:
  {
    "description": "Coffee",
    "date": "2024-03-02",
    "type": "expense",
    "account_id": "cash",
    "to_account_id": "dining",
    "amount": 4.5
  }

SHAPE DETECTION:
  entries present        -> ledger.SplitIntent
  from_account_id present -> ledger.TransferIntent
  account_id present      -> ledger.LegacyIntent
  Mixing shapes is rejected.

SEE ALSO:
  - ledger/entries.go: Normalize turns intents into splits
  - api/dto.go: HTTP request bodies embed IntentJSON
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/bookkeeper/ledger"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// IntentJSON is the JSON representation of a transaction intent.
type IntentJSON struct {
	UserID         string   `json:"user_id,omitempty"`
	Description    string   `json:"description"`
	Date           string   `json:"date"` // YYYY-MM-DD
	Currency       string   `json:"currency,omitempty"`
	Notes          string   `json:"notes,omitempty"`
	CategoryID     string   `json:"category_id,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`

	// Transfer
	FromAccountID string `json:"from_account_id,omitempty"`
	ToAccountID   string `json:"to_account_id,omitempty"`

	// Legacy
	AccountID string `json:"account_id,omitempty"`
	Type      string `json:"type,omitempty"` // income, expense, transfer

	Amount *decimal.Decimal `json:"amount,omitempty"`

	// Split
	Entries []EntryJSON `json:"entries,omitempty"`
}

// EntryJSON is one line of a split.
type EntryJSON struct {
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Side      string          `json:"side"` // debit, credit
	Memo      string          `json:"memo,omitempty"`
}

// TemplateJSON is the JSON representation of a recurring template.
type TemplateJSON struct {
	Description   string           `json:"description"`
	Currency      string           `json:"currency,omitempty"`
	Notes         string           `json:"notes,omitempty"`
	CategoryID    string           `json:"category_id,omitempty"`
	Tags          []string         `json:"tags,omitempty"`
	Kind          string           `json:"kind"` // income, expense, transfer, split
	FromAccountID string           `json:"from_account_id,omitempty"`
	ToAccountID   string           `json:"to_account_id,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Entries       []EntryJSON      `json:"entries,omitempty"`
}

// RecurringJSON is the JSON representation of a schedule.
type RecurringJSON struct {
	Frequency string       `json:"frequency"` // daily, weekly, monthly, yearly
	Interval  int          `json:"interval,omitempty"`
	StartDate string       `json:"start_date"`
	Paused    bool         `json:"paused,omitempty"`
	Template  TemplateJSON `json:"template"`
}

// =============================================================================
// INTENTS
// =============================================================================

// ParseIntent parses a JSON document into a ledger.Intent.
func ParseIntent(data []byte) (ledger.Intent, error) {
	var ij IntentJSON
	if err := json.Unmarshal(data, &ij); err != nil {
		return nil, &ledger.ValidationError{Field: "body", Reason: fmt.Sprintf("failed to parse intent JSON: %v", err)}
	}
	return ij.Intent()
}

// Intent converts the document into its tagged variant.
func (ij IntentJSON) Intent() (ledger.Intent, error) {
	h, err := ij.header()
	if err != nil {
		return nil, err
	}

	shapes := 0
	for _, present := range []bool{len(ij.Entries) > 0, ij.FromAccountID != "", ij.AccountID != ""} {
		if present {
			shapes++
		}
	}
	if shapes > 1 {
		return nil, &ledger.ValidationError{Field: "intent", Reason: "use exactly one of entries, from_account_id or account_id"}
	}

	switch {
	case len(ij.Entries) > 0:
		entries, err := parseEntries(ij.Entries)
		if err != nil {
			return nil, err
		}
		return ledger.SplitIntent{Header: h, Entries: entries}, nil
	case ij.FromAccountID != "":
		return ledger.TransferIntent{
			Header:        h,
			FromAccountID: ledger.AccountID(ij.FromAccountID),
			ToAccountID:   ledger.AccountID(ij.ToAccountID),
			Amount:        amountOf(ij.Amount),
		}, nil
	case ij.AccountID != "":
		kind, err := parseKind(ij.Type, true)
		if err != nil {
			return nil, err
		}
		return ledger.LegacyIntent{
			Header:      h,
			AccountID:   ledger.AccountID(ij.AccountID),
			ToAccountID: ledger.AccountID(ij.ToAccountID),
			Amount:      amountOf(ij.Amount),
			Type:        kind,
		}, nil
	default:
		return nil, &ledger.ValidationError{Field: "intent", Reason: "one of entries, from_account_id or account_id is required"}
	}
}

func (ij IntentJSON) header() (ledger.Header, error) {
	var date time.Time
	if ij.Date != "" {
		d, err := ledger.ParseDate(ij.Date)
		if err != nil {
			return ledger.Header{}, err
		}
		date = d
	}
	return ledger.Header{
		UserID:         ij.UserID,
		Description:    strings.TrimSpace(ij.Description),
		Date:           date,
		Currency:       ij.Currency,
		Notes:          ij.Notes,
		CategoryID:     ledger.CategoryID(ij.CategoryID),
		Tags:           ij.Tags,
		IdempotencyKey: ij.IdempotencyKey,
	}, nil
}

// FromTransaction renders a stored transaction as a split document, the
// one shape that round-trips every transaction.
func FromTransaction(tx ledger.Transaction) IntentJSON {
	ij := IntentJSON{
		UserID:         tx.UserID,
		Description:    tx.Description,
		Date:           ledger.DateString(tx.Date),
		Currency:       tx.Currency,
		Notes:          tx.Notes,
		CategoryID:     string(tx.CategoryID),
		Tags:           tx.Tags,
		IdempotencyKey: tx.IdempotencyKey,
	}
	for _, s := range tx.Splits {
		ij.Entries = append(ij.Entries, EntryFromSplit(s))
	}
	return ij
}

// EntryFromSplit converts a signed split back into a debit or credit line.
func EntryFromSplit(s ledger.Split) EntryJSON {
	e := EntryJSON{AccountID: string(s.AccountID), Amount: s.Value.Abs(), Side: string(ledger.Debit), Memo: s.Memo}
	if s.Value.IsNegative() {
		e.Side = string(ledger.Credit)
	}
	return e
}

// =============================================================================
// TEMPLATES
// =============================================================================

// ParseRecurring parses a JSON schedule document.
func ParseRecurring(data []byte) (ledger.RecurringInput, error) {
	var rj RecurringJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return ledger.RecurringInput{}, &ledger.ValidationError{Field: "body", Reason: fmt.Sprintf("failed to parse recurring JSON: %v", err)}
	}
	return rj.Input()
}

// Input converts the document into a ledger.RecurringInput.
func (rj RecurringJSON) Input() (ledger.RecurringInput, error) {
	start, err := ledger.ParseDate(rj.StartDate)
	if err != nil {
		return ledger.RecurringInput{}, err
	}
	tmpl, err := rj.Template.Template()
	if err != nil {
		return ledger.RecurringInput{}, err
	}
	interval := rj.Interval
	if interval == 0 {
		interval = 1
	}
	return ledger.RecurringInput{
		Frequency: ledger.Frequency(strings.ToLower(rj.Frequency)),
		Interval:  interval,
		StartDate: start,
		Template:  tmpl,
		Paused:    rj.Paused,
	}, nil
}

// Template converts the document into a ledger.Template.
func (tj TemplateJSON) Template() (ledger.Template, error) {
	kind, err := parseKind(tj.Kind, false)
	if err != nil {
		return ledger.Template{}, err
	}
	t := ledger.Template{
		Description:   strings.TrimSpace(tj.Description),
		Currency:      tj.Currency,
		Notes:         tj.Notes,
		CategoryID:    ledger.CategoryID(tj.CategoryID),
		Tags:          tj.Tags,
		Kind:          kind,
		FromAccountID: ledger.AccountID(tj.FromAccountID),
		ToAccountID:   ledger.AccountID(tj.ToAccountID),
		Amount:        amountOf(tj.Amount),
	}
	if kind == ledger.KindSplit {
		if t.Entries, err = parseEntries(tj.Entries); err != nil {
			return ledger.Template{}, err
		}
	}
	return t, nil
}

// TemplateToJSON converts a ledger.Template to its document.
func TemplateToJSON(t ledger.Template) TemplateJSON {
	tj := TemplateJSON{
		Description:   t.Description,
		Currency:      t.Currency,
		Notes:         t.Notes,
		CategoryID:    string(t.CategoryID),
		Tags:          t.Tags,
		Kind:          string(t.Kind),
		FromAccountID: string(t.FromAccountID),
		ToAccountID:   string(t.ToAccountID),
	}
	if !t.Amount.IsZero() {
		amount := t.Amount
		tj.Amount = &amount
	}
	for _, e := range t.Entries {
		tj.Entries = append(tj.Entries, EntryJSON{AccountID: string(e.AccountID), Amount: e.Amount, Side: string(e.Side), Memo: e.Memo})
	}
	return tj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseEntries(in []EntryJSON) ([]ledger.Entry, error) {
	entries := make([]ledger.Entry, 0, len(in))
	for i, e := range in {
		side, err := parseSide(e.Side)
		if err != nil {
			return nil, &ledger.ValidationError{Field: fmt.Sprintf("entries[%d].side", i), Reason: err.Error()}
		}
		entries = append(entries, ledger.Entry{
			AccountID: ledger.AccountID(e.AccountID),
			Amount:    e.Amount,
			Side:      side,
			Memo:      e.Memo,
		})
	}
	return entries, nil
}

func parseSide(s string) (ledger.Side, error) {
	switch strings.ToLower(s) {
	case "debit", "dr":
		return ledger.Debit, nil
	case "credit", "cr":
		return ledger.Credit, nil
	default:
		return "", fmt.Errorf("side must be debit or credit, got %q", s)
	}
}

func parseKind(s string, legacy bool) (ledger.Kind, error) {
	switch k := ledger.Kind(strings.ToLower(s)); k {
	case ledger.KindIncome, ledger.KindExpense, ledger.KindTransfer:
		return k, nil
	case ledger.KindSplit:
		if !legacy {
			return k, nil
		}
	case "":
		if legacy {
			return ledger.KindExpense, nil
		}
	}
	return "", &ledger.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", s)}
}

func amountOf(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
