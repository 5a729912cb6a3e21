package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bookkeeper/ledger"
)

func seeded(t *testing.T) (*Memory, ledger.Account) {
	t.Helper()
	m := New()
	ctx := context.Background()
	require.NoError(t, m.SaveBook(ctx, ledger.Book{ID: "b1", OwnerID: "alice", Name: "Home", Currency: "USD"}))
	acc := ledger.Account{ID: "cash", BookID: "b1", Name: "Cash", Type: ledger.AccountAsset, Currency: "USD",
		Balance: decimal.NewFromInt(100), Adjustment: decimal.NewFromInt(100)}
	require.NoError(t, m.InsertAccount(ctx, acc))
	return m, acc
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: Cash at 100
	// WHEN: A unit moves the balance and then fails
	// THEN: The balance is back at 100

	m, acc := seeded(t)
	ctx := context.Background()

	err := m.WithTx(ctx, func(s ledger.Store) error {
		if err := s.AdjustBalances(ctx, "b1", ledger.Deltas{acc.ID: decimal.NewFromInt(-40)}); err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.EqualError(t, err, "boom")

	got, err := m.GetAccount(ctx, "b1", acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "100", got.Balance.String())
}

func TestWithTx_Commits(t *testing.T) {
	m, acc := seeded(t)
	ctx := context.Background()

	require.NoError(t, m.WithTx(ctx, func(s ledger.Store) error {
		return s.ShiftAdjustment(ctx, "b1", acc.ID, decimal.NewFromInt(25))
	}))

	got, err := m.GetAccount(ctx, "b1", acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "125", got.Balance.String())
	assert.Equal(t, "125", got.Adjustment.String())
}

func TestAdjustBalances_UnknownAccountIsAllOrNothing(t *testing.T) {
	m, acc := seeded(t)
	ctx := context.Background()

	err := m.AdjustBalances(ctx, "b1", ledger.Deltas{
		acc.ID:    decimal.NewFromInt(10),
		"missing": decimal.NewFromInt(-10),
	})
	assert.True(t, ledger.IsNotFound(err))

	got, err := m.GetAccount(ctx, "b1", acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "100", got.Balance.String())
}

func TestInsertTransaction_DuplicateKey(t *testing.T) {
	m, acc := seeded(t)
	ctx := context.Background()
	tx := ledger.Transaction{
		ID: "t1", BookID: "b1", Description: "Coffee", Date: ledger.NewDate(2024, time.March, 1),
		IdempotencyKey: "k1",
		Splits:         []ledger.Split{{ID: "s1", AccountID: acc.ID, AccountType: acc.Type, Value: decimal.NewFromInt(-3)}},
	}
	require.NoError(t, m.InsertTransaction(ctx, tx))

	tx.ID = "t2"
	err := m.InsertTransaction(ctx, tx)
	assert.True(t, errors.Is(err, ledger.ErrDuplicateIdempotencyKey))

	// Deleting the first frees the key.
	require.NoError(t, m.DeleteTransaction(ctx, "b1", "t1"))
	require.NoError(t, m.InsertTransaction(ctx, tx))
}

func TestReadsReturnCopies(t *testing.T) {
	m, acc := seeded(t)
	ctx := context.Background()
	tx := ledger.Transaction{
		ID: "t1", BookID: "b1", Description: "Coffee", Date: ledger.NewDate(2024, time.March, 1),
		Tags:   []string{"morning"},
		Splits: []ledger.Split{{ID: "s1", AccountID: acc.ID, AccountType: acc.Type, Value: decimal.NewFromInt(-3)}},
	}
	require.NoError(t, m.InsertTransaction(ctx, tx))

	got, err := m.GetTransaction(ctx, "b1", "t1")
	require.NoError(t, err)
	got.Tags[0] = "evening"
	got.Splits[0].Memo = "changed"

	again, err := m.GetTransaction(ctx, "b1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "morning", again.Tags[0])
	assert.Empty(t, again.Splits[0].Memo)
}

func TestInjectFault(t *testing.T) {
	m, _ := seeded(t)
	ctx := context.Background()

	m.InjectFault("GetBook", errors.New("disk gone"))
	_, err := m.GetBook(ctx, "b1")
	require.EqualError(t, err, "disk gone")

	m.InjectFault("GetBook", nil)
	_, err = m.GetBook(ctx, "b1")
	require.NoError(t, err)
}
