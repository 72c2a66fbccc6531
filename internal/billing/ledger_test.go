package billing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"SwarmGate/internal/errors"
)

func newTestLedger(free, credit float64) (*Ledger, *MemoryStore) {
	store := NewMemoryStore()
	store.Put(&Account{
		ID:         "acct-1",
		FreeCredit: decimal.NewFromFloat(free),
		Credit:     decimal.NewFromFloat(credit),
		UpdatedAt:  time.Now(),
	})
	return NewLedger(store), store
}

func TestDeductFreeCreditFirst(t *testing.T) {
	ledger, store := newTestLedger(3, 5)

	account, err := ledger.Deduct(context.Background(), "acct-1",
		decimal.NewFromFloat(4), "job-1", "swarm completion")
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if !account.FreeCredit.IsZero() {
		t.Fatalf("FreeCredit = %s, want 0", account.FreeCredit)
	}
	if !account.Credit.Equal(decimal.NewFromFloat(4)) {
		t.Fatalf("Credit = %s, want 4", account.Credit)
	}

	txs := store.Transactions("acct-1")
	if len(txs) != 1 {
		t.Fatalf("transactions = %d, want 1", len(txs))
	}
	if !txs[0].Amount.Equal(decimal.NewFromFloat(4)) {
		t.Fatalf("transaction amount = %s, want 4", txs[0].Amount)
	}
}

func TestDeductWithinFreeCredit(t *testing.T) {
	ledger, _ := newTestLedger(10, 2)

	account, err := ledger.Deduct(context.Background(), "acct-1",
		decimal.NewFromFloat(3), "job-1", "")
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if !account.FreeCredit.Equal(decimal.NewFromFloat(7)) {
		t.Fatalf("FreeCredit = %s, want 7", account.FreeCredit)
	}
	if !account.Credit.Equal(decimal.NewFromFloat(2)) {
		t.Fatalf("Credit = %s, want 2 (untouched)", account.Credit)
	}
}

func TestDeductInsufficientCredit(t *testing.T) {
	ledger, store := newTestLedger(1, 1)

	_, err := ledger.Deduct(context.Background(), "acct-1",
		decimal.NewFromFloat(5), "job-1", "")
	if errors.CodeOf(err) != errors.CodeInsufficientCredit {
		t.Fatalf("err = %v, want INSUFFICIENT_CREDIT", err)
	}

	account, _ := store.LoadAccount(context.Background(), "acct-1")
	if !account.FreeCredit.Equal(decimal.NewFromFloat(1)) || !account.Credit.Equal(decimal.NewFromFloat(1)) {
		t.Fatal("balances must be unchanged after a rejected deduction")
	}
	if len(store.Transactions("acct-1")) != 0 {
		t.Fatal("no transaction should be written for a rejected deduction")
	}
}

func TestDeductAccountNotFound(t *testing.T) {
	ledger := NewLedger(NewMemoryStore())

	_, err := ledger.Deduct(context.Background(), "ghost",
		decimal.NewFromFloat(1), "job-1", "")
	if errors.CodeOf(err) != errors.CodeAccountNotFound {
		t.Fatalf("err = %v, want ACCOUNT_NOT_FOUND", err)
	}
}

// failingStore 在指定操作上注入失败，用于验证流水与余额的写入顺序。
type failingStore struct {
	*MemoryStore
	failAppend bool
	failSave   bool
}

func (s *failingStore) AppendTransaction(ctx context.Context, tx *Transaction) error {
	if s.failAppend {
		return fmt.Errorf("append rejected")
	}
	return s.MemoryStore.AppendTransaction(ctx, tx)
}

func (s *failingStore) SaveAccount(ctx context.Context, account *Account) error {
	if s.failSave {
		return fmt.Errorf("save rejected")
	}
	return s.MemoryStore.SaveAccount(ctx, account)
}

func TestDeductTransactionWriteFailureKeepsBalance(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), failAppend: true}
	store.Put(&Account{ID: "acct-1", FreeCredit: decimal.NewFromFloat(5)})
	ledger := NewLedger(store)

	_, err := ledger.Deduct(context.Background(), "acct-1",
		decimal.NewFromFloat(2), "job-1", "")
	if errors.CodeOf(err) != errors.CodeLedgerWriteFailed {
		t.Fatalf("err = %v, want LEDGER_WRITE_FAILED", err)
	}

	account, _ := store.LoadAccount(context.Background(), "acct-1")
	if !account.FreeCredit.Equal(decimal.NewFromFloat(5)) {
		t.Fatal("balance must be unchanged when the transaction write fails")
	}
}

func TestDeductSaveFailureKeepsTransaction(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), failSave: true}
	store.Put(&Account{ID: "acct-1", FreeCredit: decimal.NewFromFloat(5)})
	ledger := NewLedger(store)

	_, err := ledger.Deduct(context.Background(), "acct-1",
		decimal.NewFromFloat(2), "job-1", "")
	if errors.CodeOf(err) != errors.CodeLedgerWriteFailed {
		t.Fatalf("err = %v, want LEDGER_WRITE_FAILED", err)
	}
	if len(store.Transactions("acct-1")) != 1 {
		t.Fatal("transaction written before the failed save must remain for reconciliation")
	}
}

func TestDeductConcurrentSerialized(t *testing.T) {
	ledger, store := newTestLedger(100, 0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = ledger.Deduct(context.Background(), "acct-1",
				decimal.NewFromFloat(1), "job", "")
		}()
	}
	wg.Wait()

	account, _ := store.LoadAccount(context.Background(), "acct-1")
	if !account.FreeCredit.Equal(decimal.NewFromFloat(50)) {
		t.Fatalf("FreeCredit = %s, want 50 after 50 serialized deductions", account.FreeCredit)
	}
	if len(store.Transactions("acct-1")) != 50 {
		t.Fatalf("transactions = %d, want 50", len(store.Transactions("acct-1")))
	}
}

func TestDeductNegativeAmount(t *testing.T) {
	ledger, _ := newTestLedger(5, 0)
	_, err := ledger.Deduct(context.Background(), "acct-1",
		decimal.NewFromFloat(-1), "job-1", "")
	if errors.CodeOf(err) != errors.CodeInvalidArgument {
		t.Fatalf("err = %v, want INVALID_ARGUMENT", err)
	}
}
