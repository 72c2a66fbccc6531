package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"SwarmGate/internal/errors"
	"SwarmGate/pkg/logger"
)

// Account 表示一个计费账户。赠送额度（FreeCredit）先于付费额度消耗。
type Account struct {
	ID         string          `json:"id"`
	FreeCredit decimal.Decimal `json:"free_credit"`
	Credit     decimal.Decimal `json:"credit"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Transaction 是一条扣费流水。流水在余额变更之前写入，
// 保证每次成功扣费都有据可查。
type Transaction struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	JobID       string          `json:"job_id,omitempty"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// AccountStore 抽象账户与流水的持久化，实现包括内存、MySQL 与 bbolt。
type AccountStore interface {
	LoadAccount(ctx context.Context, id string) (*Account, error)
	SaveAccount(ctx context.Context, account *Account) error
	AppendTransaction(ctx context.Context, tx *Transaction) error
	Close() error
}

// Ledger 在 AccountStore 之上实现扣费语义：
// 余额预检、先写流水再改余额，以及同账户操作的串行化。
type Ledger struct {
	store AccountStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	nowFunc func() time.Time // for testing
}

// NewLedger 创建账本。
func NewLedger(store AccountStore) *Ledger {
	return &Ledger{
		store:   store,
		locks:   make(map[string]*sync.Mutex),
		nowFunc: time.Now,
	}
}

func (l *Ledger) accountLock(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[id] = lock
	}
	return lock
}

// Balance 返回账户当前余额快照。
func (l *Ledger) Balance(ctx context.Context, accountID string) (*Account, error) {
	return l.store.LoadAccount(ctx, accountID)
}

// Deduct 从账户中扣除 amount。赠送额度先扣，剩余部分走付费额度。
// 流水写入失败时余额保持不变；余额保存失败时已写入的流水保留，
// 便于事后对账。
func (l *Ledger) Deduct(ctx context.Context, accountID string, amount decimal.Decimal, jobID, description string) (*Account, error) {
	if amount.IsNegative() {
		return nil, errors.New(errors.CodeInvalidArgument, "扣费金额不能为负")
	}

	lock := l.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	account, err := l.store.LoadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	available := account.FreeCredit.Add(account.Credit)
	if available.LessThan(amount) {
		return nil, errors.New(errors.CodeInsufficientCredit, "账户余额不足",
			errors.WithMetadata("account_id", accountID),
			errors.WithMetadata("available", available.String()),
			errors.WithMetadata("required", amount.String()))
	}

	tx := &Transaction{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Amount:      amount,
		JobID:       jobID,
		Description: description,
		CreatedAt:   l.nowFunc(),
	}
	if err := l.store.AppendTransaction(ctx, tx); err != nil {
		return nil, errors.Wrap(errors.CodeLedgerWriteFailed, err, "写入扣费流水失败")
	}

	if account.FreeCredit.GreaterThanOrEqual(amount) {
		account.FreeCredit = account.FreeCredit.Sub(amount)
	} else {
		remainder := amount.Sub(account.FreeCredit)
		account.FreeCredit = decimal.Zero
		account.Credit = account.Credit.Sub(remainder)
	}
	account.UpdatedAt = l.nowFunc()

	if err := l.store.SaveAccount(ctx, account); err != nil {
		logger.L().Error("扣费流水已写入但余额保存失败",
			"account_id", accountID, "transaction_id", tx.ID, "error", err)
		return nil, errors.Wrap(errors.CodeLedgerWriteFailed, err, "保存账户余额失败")
	}

	logger.Audit().Info("credit deducted",
		"account_id", accountID,
		"transaction_id", tx.ID,
		"amount", amount.String(),
		"job_id", jobID,
		"free_credit", account.FreeCredit.String(),
		"credit", account.Credit.String(),
	)
	return account, nil
}
