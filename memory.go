package atmledger

import (
	"context"
	"sort"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// MemoryStore keeps accounts and transactions in process memory. It backs
// the `memory` database driver and service-level tests.
type MemoryStore struct {
	mu       sync.RWMutex
	node     *snowflake.Node
	accts    map[string]Account
	byNumber map[string]string
	txns     map[string][]Transaction
}

var (
	_ Store            = (*MemoryStore)(nil)
	_ AccountStore     = memAccounts{}
	_ TransactionStore = memTransactions{}
)

func NewMemoryStore(node *snowflake.Node) *MemoryStore {
	return &MemoryStore{
		node:     node,
		accts:    make(map[string]Account),
		byNumber: make(map[string]string),
		txns:     make(map[string][]Transaction),
	}
}

func (m *MemoryStore) Accounts() AccountStore { return memAccounts{m} }

func (m *MemoryStore) Transactions() TransactionStore { return memTransactions{m} }

func (m *MemoryStore) Close(context.Context) error { return nil }

type memAccounts struct {
	m *MemoryStore
}

func (a memAccounts) FindByAccountNumber(ctx context.Context, number string) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.m.mu.RLock()
	defer a.m.mu.RUnlock()
	id, ok := a.m.byNumber[number]
	if !ok {
		return nil, ErrNoRecord
	}
	acct := a.m.accts[id]
	return &acct, nil
}

func (a memAccounts) Save(ctx context.Context, acct *Account) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	saved := *acct
	if saved.ID == "" {
		saved.ID = a.m.node.Generate().String()
	}
	if owner, ok := a.m.byNumber[saved.Number]; ok && owner != saved.ID {
		return nil, ErrDuplicateNumber
	}
	if cur, ok := a.m.accts[saved.ID]; ok {
		if cur.Version != acct.Version {
			return nil, ErrConflict
		}
		if cur.Number != saved.Number {
			delete(a.m.byNumber, cur.Number)
		}
		saved.Version = cur.Version + 1
	}
	a.m.accts[saved.ID] = saved
	a.m.byNumber[saved.Number] = saved.ID
	return &saved, nil
}

type memTransactions struct {
	m *MemoryStore
}

func (t memTransactions) Save(ctx context.Context, txn *Transaction) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	saved := *txn
	if saved.ID == "" {
		saved.ID = t.m.node.Generate().String()
	}
	t.m.txns[saved.AccountID] = append(t.m.txns[saved.AccountID], saved)
	return &saved, nil
}

func (t memTransactions) FindAllByAccountID(ctx context.Context, accountID string) ([]Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	txns := make([]Transaction, len(t.m.txns[accountID]))
	copy(txns, t.m.txns[accountID])
	sort.SliceStable(txns, func(i, j int) bool {
		return txns[i].Date.Before(txns[j].Date)
	})
	return txns, nil
}
