package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"SwarmGate/internal/errors"
)

// BoltStore 把账户与流水保存在单文件 bbolt 数据库中，
// 适合不想依赖外部数据库的单机部署。
type BoltStore struct {
	db *bolt.DB
}

var _ AccountStore = (*BoltStore)(nil)

var (
	bucketAccounts     = []byte("accounts")
	bucketTransactions = []byte("transactions")
)

// NewBoltStore 打开（必要时创建）指定路径的数据库文件。
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(errors.CodeInitializationFailure, err, "创建数据目录失败")
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, errors.Wrap(errors.CodeInitializationFailure, err, "打开 bbolt 数据库失败")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketAccounts, bucketTransactions} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(errors.CodeInitializationFailure, err, "初始化 bbolt 桶失败")
	}
	return &BoltStore{db: db}, nil
}

// LoadAccount 读取账户，不存在时返回 ACCOUNT_NOT_FOUND。
func (s *BoltStore) LoadAccount(_ context.Context, id string) (*Account, error) {
	var account *Account
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketAccounts).Get([]byte(id))
		if raw == nil {
			return errors.New(errors.CodeAccountNotFound, "账户不存在",
				errors.WithMetadata("account_id", id))
		}
		account = &Account{}
		return json.Unmarshal(raw, account)
	})
	if err != nil {
		if errors.CodeOf(err) == errors.CodeAccountNotFound {
			return nil, err
		}
		return nil, errors.Wrap(errors.CodeStorageFailure, err, "读取账户失败")
	}
	return account, nil
}

// SaveAccount 写入账户余额。
func (s *BoltStore) SaveAccount(_ context.Context, account *Account) error {
	raw, err := json.Marshal(account)
	if err != nil {
		return errors.Wrap(errors.CodeStorageFailure, err, "序列化账户失败")
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccounts).Put([]byte(account.ID), raw)
	})
	if err != nil {
		return errors.Wrap(errors.CodeStorageFailure, err, "保存账户失败")
	}
	return nil
}

// AppendTransaction 追加流水。键带时间前缀，保证按时间序遍历。
func (s *BoltStore) AppendTransaction(_ context.Context, txn *Transaction) error {
	raw, err := json.Marshal(txn)
	if err != nil {
		return errors.Wrap(errors.CodeStorageFailure, err, "序列化流水失败")
	}
	key := fmt.Sprintf("%s/%s/%s",
		txn.AccountID, txn.CreatedAt.UTC().Format(time.RFC3339Nano), txn.ID)
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTransactions).Put([]byte(key), raw)
	})
	if err != nil {
		return errors.Wrap(errors.CodeStorageFailure, err, "写入流水失败")
	}
	return nil
}

// Close 关闭数据库文件。
func (s *BoltStore) Close() error {
	return s.db.Close()
}
