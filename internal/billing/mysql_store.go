package billing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"SwarmGate/internal/errors"
)

// MySQLStore 将账户与流水持久化到 MySQL，适合多实例部署。
type MySQLStore struct {
	db *sql.DB
}

var _ AccountStore = (*MySQLStore)(nil)

// NewMySQLStore 连接 MySQL 并初始化表结构。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInitializationFailure, err, "打开 MySQL 连接失败")
	}

	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(errors.CodeInitializationFailure, err, "连接 MySQL 失败")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS swarm_accounts (
			id VARCHAR(64) PRIMARY KEY,
			free_credit DECIMAL(18,6) NOT NULL DEFAULT 0,
			credit DECIMAL(18,6) NOT NULL DEFAULT 0,
			updated_at DATETIME(6) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS swarm_transactions (
			id VARCHAR(64) PRIMARY KEY,
			account_id VARCHAR(64) NOT NULL,
			amount DECIMAL(18,6) NOT NULL,
			job_id VARCHAR(64) NOT NULL DEFAULT '',
			description VARCHAR(512) NOT NULL DEFAULT '',
			created_at DATETIME(6) NOT NULL,
			INDEX idx_account_created (account_id, created_at)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if mysqlErr, ok := err.(*mysql.MySQLError); ok && mysqlErr.Number == 1050 {
				continue // 表已存在
			}
			return errors.Wrap(errors.CodeInitializationFailure, err, "初始化计费表结构失败")
		}
	}
	return nil
}

// LoadAccount 读取账户，不存在时返回 ACCOUNT_NOT_FOUND。
func (s *MySQLStore) LoadAccount(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, free_credit, credit, updated_at FROM swarm_accounts WHERE id = ?`, id)

	var account Account
	var freeCredit, credit string
	if err := row.Scan(&account.ID, &freeCredit, &credit, &account.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.New(errors.CodeAccountNotFound, "账户不存在",
				errors.WithMetadata("account_id", id))
		}
		return nil, errors.Wrap(errors.CodeStorageFailure, err, "读取账户失败")
	}

	var err error
	if account.FreeCredit, err = decimal.NewFromString(freeCredit); err != nil {
		return nil, errors.Wrap(errors.CodeStorageFailure, err,
			fmt.Sprintf("账户 %s 的赠送额度字段损坏", id))
	}
	if account.Credit, err = decimal.NewFromString(credit); err != nil {
		return nil, errors.Wrap(errors.CodeStorageFailure, err,
			fmt.Sprintf("账户 %s 的付费额度字段损坏", id))
	}
	return &account, nil
}

// SaveAccount 写入账户余额，账户不存在时插入。
func (s *MySQLStore) SaveAccount(ctx context.Context, account *Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO swarm_accounts (id, free_credit, credit, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE free_credit = VALUES(free_credit),
		     credit = VALUES(credit), updated_at = VALUES(updated_at)`,
		account.ID, account.FreeCredit.String(), account.Credit.String(), account.UpdatedAt)
	if err != nil {
		return errors.Wrap(errors.CodeStorageFailure, err, "保存账户失败")
	}
	return nil
}

// AppendTransaction 插入一条流水，主键冲突视为重复提交。
func (s *MySQLStore) AppendTransaction(ctx context.Context, tx *Transaction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO swarm_transactions (id, account_id, amount, job_id, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.AccountID, tx.Amount.String(), tx.JobID, tx.Description, tx.CreatedAt)
	if err != nil {
		if mysqlErr, ok := err.(*mysql.MySQLError); ok && mysqlErr.Number == 1062 {
			return errors.Wrap(errors.CodeStorageFailure, err, "流水 ID 重复")
		}
		return errors.Wrap(errors.CodeStorageFailure, err, "写入流水失败")
	}
	return nil
}

// Close 关闭底层连接池。
func (s *MySQLStore) Close() error {
	return s.db.Close()
}
