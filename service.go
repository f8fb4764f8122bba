package atmledger

//go:generate mockgen -source=service.go -destination=mocks/mock_service.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type Service interface {
	Post(ctx context.Context, req TransactionReq) (*TransactionResp, error)
	ListByAccountNumber(ctx context.Context, number string) ([]TransactionResp, error)
	Balance(ctx context.Context, req BalanceReq) (*decimal.Decimal, error)
	Statement(ctx context.Context, w io.Writer, req StatementReq) error
}

var (
	_ Service = (*serviceImpl)(nil)
)

type ServiceOpts struct {
	// ConflictRetries is how many times a post is replayed after the
	// account store reports a concurrent modification.
	ConflictRetries int
	// Clock stamps new transactions. Defaults to time.Now.
	Clock func() time.Time
}

func NewService(
	accts AccountStore,
	txns TransactionStore,
	strategies *Registry,
	log *zerolog.Logger,
	opts ServiceOpts,
) (*serviceImpl, error) {
	if accts == nil || txns == nil {
		return nil, errors.New("account and transaction stores are required")
	}
	if strategies == nil {
		return nil, errors.New("strategy registry is required")
	}
	if opts.ConflictRetries < 0 {
		return nil, fmt.Errorf("negative conflict retries: %d", opts.ConflictRetries)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &serviceImpl{
		accts:      accts,
		txns:       txns,
		strategies: strategies,
		log:        log,
		retries:    opts.ConflictRetries,
		now:        opts.Clock,
	}, nil
}

type serviceImpl struct {
	accts      AccountStore
	txns       TransactionStore
	strategies *Registry
	log        *zerolog.Logger
	retries    int
	now        func() time.Time
}

func (s *serviceImpl) Post(ctx context.Context, req TransactionReq) (*TransactionResp, error) {
	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		var resp *TransactionResp
		resp, err = s.post(ctx, req)
		if !errors.Is(err, ErrConflict) {
			return resp, err
		}
		s.log.Warn().
			Str("account_number", req.AccountNumber).
			Int("attempt", attempt+1).
			Msg("account modified concurrently, replaying post")
	}
	return nil, err
}

func (s *serviceImpl) post(ctx context.Context, req TransactionReq) (*TransactionResp, error) {
	acct, err := s.findAccount(ctx, req.AccountNumber)
	if err != nil {
		return nil, err
	}
	strategy, err := s.strategies.Strategy(req.Kind)
	if err != nil {
		return nil, err
	}
	fee := strategy.Fee()
	bal, err := strategy.Apply(acct.Balance, req.Amount)
	if err != nil {
		return nil, err
	}
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	acct.Balance = bal
	if _, err = s.accts.Save(ctx, acct); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("save account %s: %w", acct.ID, err)
	}

	txn := &Transaction{
		Amount:    req.Amount,
		Fee:       fee,
		NetAmount: req.Amount.Sub(fee),
		Kind:      req.Kind,
		Date:      s.now(),
		AccountID: acct.ID,
	}
	saved, err := s.txns.Save(ctx, txn)
	if err != nil {
		// The balance change above is already durable.
		s.log.Error().
			Err(err).
			Str("account_id", acct.ID).
			Str("type", string(req.Kind)).
			Stringer("amount", req.Amount).
			Stringer("balance", bal).
			Msg("account saved without its transaction record")
		return nil, fmt.Errorf("save transaction: %w", err)
	}

	resp := newTransactionResp(saved)
	return &resp, nil
}

func (s *serviceImpl) ListByAccountNumber(ctx context.Context, number string) ([]TransactionResp, error) {
	acct, err := s.findAccount(ctx, number)
	if err != nil {
		return nil, err
	}
	txns, err := s.txns.FindAllByAccountID(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("list transactions of %s: %w", acct.ID, err)
	}
	resps := make([]TransactionResp, 0, len(txns))
	for i := range txns {
		resps = append(resps, newTransactionResp(&txns[i]))
	}
	return resps, nil
}

func (s *serviceImpl) Balance(ctx context.Context, req BalanceReq) (*decimal.Decimal, error) {
	acct, err := s.findAccount(ctx, req.AccountNumber)
	if err != nil {
		return nil, err
	}
	return &acct.Balance, nil
}

func (s *serviceImpl) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	acct, err := s.findAccount(ctx, req.AccountNumber)
	if err != nil {
		return err
	}
	txns, err := s.txns.FindAllByAccountID(ctx, acct.ID)
	if err != nil {
		return fmt.Errorf("list transactions of %s: %w", acct.ID, err)
	}
	return renderStatement(w, acct, txns, s.now())
}

func (s *serviceImpl) findAccount(ctx context.Context, number string) (*Account, error) {
	acct, err := s.accts.FindByAccountNumber(ctx, number)
	if err != nil {
		if errors.Is(err, ErrNoRecord) {
			return nil, ErrNotFound{Message: msgAccountNotFound}
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	return acct, nil
}
