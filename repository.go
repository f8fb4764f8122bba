package atmledger

//go:generate mockgen -source=repository.go -destination=mocks/mock_repository.go -package=mocks

import (
	"context"
)

type AccountStore interface {
	// FindByAccountNumber returns ErrNoRecord if no account has number.
	FindByAccountNumber(ctx context.Context, number string) (*Account, error)
	// Save upserts acct by ID. An existing account is only replaced when
	// its stored version equals acct.Version, otherwise ErrConflict is
	// returned. The returned account carries the new version.
	Save(ctx context.Context, acct *Account) (*Account, error)
}

type TransactionStore interface {
	// Save persists txn, assigning an ID when txn.ID is empty.
	Save(ctx context.Context, txn *Transaction) (*Transaction, error)
	// FindAllByAccountID returns the account's transactions oldest first.
	FindAllByAccountID(ctx context.Context, accountID string) ([]Transaction, error)
}

// Store is a storage backend serving both stores over one connection.
type Store interface {
	Accounts() AccountStore
	Transactions() TransactionStore
	Close(ctx context.Context) error
}
