/*
scenarios.go - Demo household books for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that create a fresh, seeded book for an
  owner and fill it with realistic activity. Each scenario exercises a
  different part of the ledger.

AVAILABLE SCENARIOS:
  first-month:     Salary, rent and groceries on the starter accounts
  credit-card:     Purchases on a liability, then a partial payoff
  shared-dinner:   One multi-way split across cash, card and dining
  monthly-bills:   Recurring salary and rent caught up from three months ago

HOW SCENARIOS WORK:
  1. Create a new book for the owner with the default accounts
  2. Resolve the starter accounts by name
  3. Record transactions (and schedules) through the normal ledger paths
  4. Process due recurring occurrences

  Scenarios never reset or touch other books.

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "monthly-bills", "owner_id": "demo"}

SEE ALSO:
  - handlers.go: Book and transaction handlers
  - ledger/books.go: DefaultAccounts
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/bookkeeper/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenarioLoader func(ctx context.Context, h *Handler, s *scenarioBook) error

var scenarios = []ScenarioDTO{
	{ID: "first-month", Name: "First Month", Description: "Salary, rent and groceries on the starter accounts"},
	{ID: "credit-card", Name: "Credit Card", Description: "Card purchases followed by a partial payoff"},
	{ID: "shared-dinner", Name: "Shared Dinner", Description: "One bill paid with cash and card in a single split"},
	{ID: "monthly-bills", Name: "Monthly Bills", Description: "Recurring salary and rent caught up from three months ago"},
}

var scenarioLoaders = map[string]scenarioLoader{
	"first-month":   loadFirstMonth,
	"credit-card":   loadCreditCard,
	"shared-dinner": loadSharedDinner,
	"monthly-bills": loadMonthlyBills,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario creates a new book populated by the named scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}
	owner := req.OwnerID
	if owner == "" {
		owner = "demo"
	}

	book, err := h.loadScenario(r.Context(), req.ScenarioID, owner, load)
	if err != nil {
		h.fail(w, "load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"book_id":  string(book.ID),
	})
}

func (h *Handler) loadScenario(ctx context.Context, id, owner string, load scenarioLoader) (ledger.Book, error) {
	var name string
	for _, s := range scenarios {
		if s.ID == id {
			name = s.Name
		}
	}
	book, err := h.Books.Create(ctx, ledger.BookInput{
		OwnerID:  owner,
		Name:     name,
		Currency: "USD",
		Seed:     true,
	})
	if err != nil {
		return ledger.Book{}, err
	}
	accounts, err := h.Ledger.ListAccounts(ctx, book.ID)
	if err != nil {
		return ledger.Book{}, err
	}

	s := &scenarioBook{book: book, byName: make(map[string]ledger.AccountID, len(accounts)), today: ledger.DateOf(h.Ledger.Now())}
	for _, a := range accounts {
		s.byName[a.Name] = a.ID
	}
	if err := load(ctx, h, s); err != nil {
		return ledger.Book{}, fmt.Errorf("scenario %s: %w", id, err)
	}
	h.Logger.Info("scenario loaded", zap.String("scenario", id), zap.String("book", string(book.ID)))
	return book, nil
}

// scenarioBook resolves starter accounts by name.
type scenarioBook struct {
	book   ledger.Book
	byName map[string]ledger.AccountID
	today  time.Time
}

func (s *scenarioBook) account(name string) ledger.AccountID { return s.byName[name] }

func (s *scenarioBook) daysAgo(n int) time.Time { return s.today.AddDate(0, 0, -n) }

func (s *scenarioBook) transfer(ctx context.Context, h *Handler, desc string, date time.Time, from, to string, amount string) error {
	_, err := h.Ledger.Create(ctx, s.book.ID, ledger.TransferIntent{
		Header:        ledger.Header{Description: desc, Date: date},
		FromAccountID: s.account(from),
		ToAccountID:   s.account(to),
		Amount:        decimal.RequireFromString(amount),
	})
	return err
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadFirstMonth(ctx context.Context, h *Handler, s *scenarioBook) error {
	steps := []struct {
		desc, from, to, amount string
		ago                    int
	}{
		{"Paycheck", "Salary", "Bank Account", "3200.00", 28},
		{"Rent", "Bank Account", "Rent", "1400.00", 27},
		{"ATM withdrawal", "Bank Account", "Cash", "200.00", 20},
		{"Weekly groceries", "Cash", "Groceries", "86.40", 19},
		{"Electricity", "Bank Account", "Utilities", "72.15", 10},
		{"Weekly groceries", "Cash", "Groceries", "64.90", 5},
	}
	for _, st := range steps {
		if err := s.transfer(ctx, h, st.desc, s.daysAgo(st.ago), st.from, st.to, st.amount); err != nil {
			return err
		}
	}
	return nil
}

func loadCreditCard(ctx context.Context, h *Handler, s *scenarioBook) error {
	if err := s.transfer(ctx, h, "Paycheck", s.daysAgo(30), "Salary", "Bank Account", "2500.00"); err != nil {
		return err
	}
	for i, amount := range []string{"45.00", "120.50", "18.99", "260.00"} {
		if err := s.transfer(ctx, h, "Card purchase", s.daysAgo(25-i*5), "Credit Card", "Entertainment", amount); err != nil {
			return err
		}
	}
	// Legacy flat shape: an expense from the bank account to the card.
	_, err := h.Ledger.Create(ctx, s.book.ID, ledger.LegacyIntent{
		Header:      ledger.Header{Description: "Card payment", Date: s.daysAgo(2)},
		AccountID:   s.account("Bank Account"),
		ToAccountID: s.account("Credit Card"),
		Amount:      decimal.RequireFromString("300.00"),
		Type:        ledger.KindTransfer,
	})
	return err
}

func loadSharedDinner(ctx context.Context, h *Handler, s *scenarioBook) error {
	if err := s.transfer(ctx, h, "ATM withdrawal", s.daysAgo(3), "Bank Account", "Cash", "100.00"); err != nil {
		return err
	}
	_, err := h.Ledger.Create(ctx, s.book.ID, ledger.SplitIntent{
		Header: ledger.Header{Description: "Birthday dinner", Date: s.daysAgo(1), Tags: []string{"friends"}},
		Entries: []ledger.Entry{
			{AccountID: s.account("Dining"), Amount: decimal.RequireFromString("180.00"), Side: ledger.Debit},
			{AccountID: s.account("Cash"), Amount: decimal.RequireFromString("60.00"), Side: ledger.Credit, Memo: "tip and drinks"},
			{AccountID: s.account("Credit Card"), Amount: decimal.RequireFromString("120.00"), Side: ledger.Credit},
		},
	})
	return err
}

func loadMonthlyBills(ctx context.Context, h *Handler, s *scenarioBook) error {
	start := ledger.StartOfMonth(s.today.Year(), s.today.Month()).AddDate(0, -3, 0)
	schedules := []ledger.RecurringInput{
		{
			Frequency: ledger.FreqMonthly,
			Interval:  1,
			StartDate: start,
			Template: ledger.Template{
				Description:   "Paycheck",
				Kind:          ledger.KindIncome,
				FromAccountID: s.account("Salary"),
				ToAccountID:   s.account("Bank Account"),
				Amount:        decimal.RequireFromString("3200.00"),
			},
		},
		{
			Frequency: ledger.FreqMonthly,
			Interval:  1,
			StartDate: start.AddDate(0, 0, 1),
			Template: ledger.Template{
				Description:   "Rent",
				Kind:          ledger.KindExpense,
				FromAccountID: s.account("Bank Account"),
				ToAccountID:   s.account("Rent"),
				Amount:        decimal.RequireFromString("1400.00"),
			},
		},
	}
	for _, in := range schedules {
		if _, err := h.Scheduler.Create(ctx, s.book.ID, in); err != nil {
			return err
		}
	}
	_, err := h.Scheduler.ProcessDue(ctx, s.book.ID, h.Ledger.Now())
	return err
}
