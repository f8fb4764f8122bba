package atmledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// OpenStore connects the backend selected by cfg.Database.Driver.
func OpenStore(ctx context.Context, cfg *Config, node *snowflake.Node, log *zerolog.Logger) (Store, error) {
	switch cfg.Database.Driver {
	case DriverPostgres:
		return NewPostgresEndpoint(ctx, cfg.Database.ConnectionString, node, log)
	case DriverMongo:
		return NewMongoEndpoint(ctx, cfg.Database.ConnectionString, cfg.Database.Name, node, log)
	case DriverMemory:
		return NewMemoryStore(node), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

// SeedAccounts creates one account per seed, with a fresh id.
func SeedAccounts(ctx context.Context, accts AccountStore, seeds []SeedAccount) ([]Account, error) {
	created := make([]Account, 0, len(seeds))
	seen := make(map[string]struct{}, len(seeds))
	for i, s := range seeds {
		number := strings.TrimSpace(s.Number)
		if number == "" {
			return created, fmt.Errorf("seed_accounts[%d]: number is required", i)
		}
		if _, dup := seen[number]; dup {
			return created, fmt.Errorf("seed_accounts[%d]: duplicate number %s", i, number)
		}
		seen[number] = struct{}{}

		bal := decimal.Zero
		if s.Balance != "" {
			var err error
			if bal, err = decimal.NewFromString(s.Balance); err != nil {
				return created, fmt.Errorf("seed_accounts[%d].balance: %w", i, err)
			}
		}
		if bal.IsNegative() || !hasMoneyPrecision(bal) {
			return created, fmt.Errorf("seed_accounts[%d].balance: must be non-negative with at most %d decimal places", i, moneyPlaces)
		}

		acct, err := accts.Save(ctx, &Account{
			Number:  number,
			Balance: bal,
			UserID:  s.UserID,
		})
		if err != nil {
			return created, fmt.Errorf("seed account %s: %w", number, err)
		}
		created = append(created, *acct)
	}
	return created, nil
}
