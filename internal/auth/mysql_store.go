package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/go-sql-driver/mysql"

	"SwarmGate/internal/errors"
)

// MySQLKeyStore 从 MySQL 读取 API Key 映射。
// 表中保存的是密钥哈希，明文密钥不落库。
type MySQLKeyStore struct {
	db *sql.DB
}

var _ KeyStore = (*MySQLKeyStore)(nil)

// NewMySQLKeyStore 连接 MySQL 并初始化表结构。
func NewMySQLKeyStore(dsn string) (*MySQLKeyStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInitializationFailure, err, "打开 MySQL 连接失败")
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(errors.CodeInitializationFailure, err, "连接 MySQL 失败")
	}

	store := &MySQLKeyStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLKeyStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS swarm_api_keys (
			key_hash CHAR(64) PRIMARY KEY,
			account_id VARCHAR(64) NOT NULL,
			created_at DATETIME(6) NOT NULL,
			revoked_at DATETIME(6) NULL,
			INDEX idx_account (account_id)
		)`)
	if err != nil {
		if mysqlErr, ok := err.(*mysql.MySQLError); ok && mysqlErr.Number == 1050 {
			return nil // 表已存在
		}
		return errors.Wrap(errors.CodeInitializationFailure, err, "初始化密钥表结构失败")
	}
	return nil
}

// Register 写入一条密钥映射，主要用于部署初始化。
func (s *MySQLKeyStore) Register(ctx context.Context, apiKey, accountID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO swarm_api_keys (key_hash, account_id, created_at)
		 VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE account_id = VALUES(account_id), revoked_at = NULL`,
		hashForStorage(apiKey), accountID, time.Now())
	if err != nil {
		return errors.Wrap(errors.CodeStorageFailure, err, "写入密钥失败")
	}
	return nil
}

// Lookup 返回密钥对应的账户 ID，已吊销或不存在的密钥返回 UNAUTHORIZED。
func (s *MySQLKeyStore) Lookup(ctx context.Context, apiKey string) (string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT account_id FROM swarm_api_keys WHERE key_hash = ? AND revoked_at IS NULL`,
		hashForStorage(apiKey))

	var accountID string
	if err := row.Scan(&accountID); err != nil {
		if err == sql.ErrNoRows {
			return "", errors.New(errors.CodeUnauthorized, "无效的 API Key")
		}
		return "", errors.Wrap(errors.CodeStorageFailure, err, "查询密钥失败")
	}
	return accountID, nil
}

// Close 关闭底层连接池。
func (s *MySQLKeyStore) Close() error {
	return s.db.Close()
}

func hashForStorage(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}
