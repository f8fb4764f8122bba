package atmledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	pgSelectAcctByNumberSQL = `
		SELECT id, account_number, balance, user_id, version
		FROM accounts
		WHERE account_number = $1;
	`

	// The WHERE clause turns a stale version into zero returned rows.
	pgUpsertAcctSQL = `
		INSERT INTO accounts (id, account_number, balance, user_id, version)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET account_number = EXCLUDED.account_number,
			balance = EXCLUDED.balance,
			user_id = EXCLUDED.user_id,
			version = accounts.version + 1
		WHERE accounts.version = EXCLUDED.version
		RETURNING version;
	`

	pgAcctNumberConstraint = "accounts_account_number_key"

	pgInsertTxnSQL = `
		INSERT INTO transactions (id, amount, fee, net_amount, typ, created_at, acct_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`

	pgSelectTxnsByAcctSQL = `
		SELECT id, amount, fee, net_amount, typ, created_at, acct_id
		FROM transactions
		WHERE acct_id = $1
		ORDER BY created_at, id;
	`
)

type PostgresEndpoint struct {
	pool *pgxpool.Pool
	node *snowflake.Node
	log  *zerolog.Logger
}

var (
	_ Store            = (*PostgresEndpoint)(nil)
	_ AccountStore     = pgAccounts{}
	_ TransactionStore = pgTransactions{}
)

func NewPostgresEndpoint(ctx context.Context, connStr string, node *snowflake.Node, log *zerolog.Logger) (*PostgresEndpoint, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	endpt := &PostgresEndpoint{
		pool: pool,
		node: node,
		log:  log,
	}
	return endpt, err
}

func (pg *PostgresEndpoint) Accounts() AccountStore { return pgAccounts{pg} }

func (pg *PostgresEndpoint) Transactions() TransactionStore { return pgTransactions{pg} }

func (pg *PostgresEndpoint) Close(context.Context) error {
	pg.pool.Close()
	return nil
}

type pgAccounts struct {
	pg *PostgresEndpoint
}

func (a pgAccounts) FindByAccountNumber(ctx context.Context, number string) (*Account, error) {
	row := a.pg.pool.QueryRow(ctx, pgSelectAcctByNumberSQL, number)
	var acct Account
	if err := row.Scan(&acct.ID, &acct.Number, &acct.Balance, &acct.UserID, &acct.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRecord
		}
		return nil, err
	}
	return &acct, nil
}

func (a pgAccounts) Save(ctx context.Context, acct *Account) (*Account, error) {
	saved := *acct
	if saved.ID == "" {
		saved.ID = a.pg.node.Generate().String()
	}
	row := a.pg.pool.QueryRow(ctx, pgUpsertAcctSQL,
		saved.ID, saved.Number, saved.Balance, saved.UserID, saved.Version)
	if err := row.Scan(&saved.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			a.pg.log.Debug().
				Str("account_id", saved.ID).
				Int64("version", acct.Version).
				Msg("stale account version")
			return nil, ErrConflict
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == pgAcctNumberConstraint {
			return nil, ErrDuplicateNumber
		}
		return nil, err
	}
	return &saved, nil
}

func (pg *PostgresEndpoint) txnID(s string) (snowflake.ID, error) {
	if s == "" {
		return pg.node.Generate(), nil
	}
	id, err := snowflake.ParseString(s)
	if err != nil {
		return 0, fmt.Errorf("transaction id %q: %w", s, err)
	}
	return id, nil
}

type pgTransactions struct {
	pg *PostgresEndpoint
}

func (t pgTransactions) Save(ctx context.Context, txn *Transaction) (*Transaction, error) {
	saved := *txn
	id, err := t.pg.txnID(saved.ID)
	if err != nil {
		return nil, err
	}
	saved.ID = id.String()

	_, err = t.pg.pool.Exec(ctx, pgInsertTxnSQL,
		id.Int64(), saved.Amount, saved.Fee, saved.NetAmount, string(saved.Kind), saved.Date, saved.AccountID)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func (t pgTransactions) FindAllByAccountID(ctx context.Context, accountID string) ([]Transaction, error) {
	rows, err := t.pg.pool.Query(ctx, pgSelectTxnsByAcctSQL, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []Transaction
	for rows.Next() {
		var (
			rid              int64
			ramt, rfee, rnet decimal.Decimal
			rtyp, racct      string
			rdate            time.Time
		)
		if err = rows.Scan(&rid, &ramt, &rfee, &rnet, &rtyp, &rdate, &racct); err != nil {
			return nil, err
		}
		txns = append(txns, Transaction{
			ID:        snowflake.ParseInt64(rid).String(),
			Amount:    ramt,
			Fee:       rfee,
			NetAmount: rnet,
			Kind:      TransactionKind(rtyp),
			Date:      rdate,
			AccountID: racct,
		})
	}
	return txns, rows.Err()
}
