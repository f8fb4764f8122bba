package atmledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"
)

type Middleware func(Service) Service

// Chain wraps svc so that the first middleware is the outermost.
func Chain(svc Service, mws ...Middleware) Service {
	for i := len(mws) - 1; i >= 0; i-- {
		svc = mws[i](svc)
	}
	return svc
}

var (
	_ Service = (*validationMiddleware)(nil)
)

type validationMiddleware struct {
	next  Service
	kinds map[TransactionKind]struct{}
}

func NewValidationMiddleware(strategies *Registry) Middleware {
	kinds := make(map[TransactionKind]struct{})
	for _, k := range strategies.Kinds() {
		kinds[k] = struct{}{}
	}
	return func(svc Service) Service {
		return &validationMiddleware{
			next:  svc,
			kinds: kinds,
		}
	}
}

func (v *validationMiddleware) Post(ctx context.Context, req TransactionReq) (*TransactionResp, error) {
	fields := map[string]string{}
	if strings.TrimSpace(req.AccountNumber) == "" {
		fields["accountNumber"] = "required"
	}
	if req.Kind == "" {
		fields["type"] = "required"
	} else if _, ok := v.kinds[req.Kind]; !ok {
		fields["type"] = "unsupported"
	}
	switch {
	case !req.Amount.IsPositive():
		fields["amount"] = "must be positive"
	case !hasMoneyPrecision(req.Amount):
		fields["amount"] = fmt.Sprintf("at most %d decimal places", moneyPlaces)
	}
	if len(fields) > 0 {
		return nil, ErrBadRequest{Message: "Invalid transaction request.", Fields: fields}
	}
	return v.next.Post(ctx, req)
}

func (v *validationMiddleware) ListByAccountNumber(ctx context.Context, number string) ([]TransactionResp, error) {
	if err := validateAccountNumber(number); err != nil {
		return nil, err
	}
	return v.next.ListByAccountNumber(ctx, number)
}

func (v *validationMiddleware) Balance(ctx context.Context, req BalanceReq) (*decimal.Decimal, error) {
	if err := validateAccountNumber(req.AccountNumber); err != nil {
		return nil, err
	}
	return v.next.Balance(ctx, req)
}

func (v *validationMiddleware) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	if err := validateAccountNumber(req.AccountNumber); err != nil {
		return err
	}
	return v.next.Statement(ctx, w, req)
}

func validateAccountNumber(number string) error {
	if strings.TrimSpace(number) == "" {
		return ErrBadRequest{
			Message: "Account number is required.",
			Fields:  map[string]string{"accountNumber": "required"},
		}
	}
	return nil
}

//
// Rate limiting middlewares
//

// limitMiddleware sheds load by bounding in-flight requests with weighted
// semaphores. A request that cannot acquire a token within the acquisition
// timeout fails with ErrServiceUnavailable. Posts and reads have separate
// budgets so that slow reads cannot starve posting.
type limitMiddleware struct {
	next   Service
	limits *ServiceLimits
}

var (
	_ Service = (*limitMiddleware)(nil)
)

type ServiceLimits struct {
	Post           *semaphore.Weighted
	Read           *semaphore.Weighted
	AcquireTimeout time.Duration
}

func NewServiceLimits(cfg LimitsConfig) *ServiceLimits {
	return &ServiceLimits{
		Post:           semaphore.NewWeighted(cfg.Post),
		Read:           semaphore.NewWeighted(cfg.Read),
		AcquireTimeout: cfg.AcquireTimeout,
	}
}

func NewLimitMiddleware(limits *ServiceLimits) Middleware {
	return func(next Service) Service {
		return &limitMiddleware{
			next:   next,
			limits: limits,
		}
	}
}

func (l *limitMiddleware) acquire(ctx context.Context, sem *semaphore.Weighted) error {
	if l.limits.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.limits.AcquireTimeout)
		defer cancel()
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: too many in-flight requests", ErrServiceUnavailable)
	}
	return nil
}

func (l *limitMiddleware) Post(ctx context.Context, req TransactionReq) (*TransactionResp, error) {
	if err := l.acquire(ctx, l.limits.Post); err != nil {
		return nil, err
	}
	defer l.limits.Post.Release(1)
	return l.next.Post(ctx, req)
}

func (l *limitMiddleware) ListByAccountNumber(ctx context.Context, number string) ([]TransactionResp, error) {
	if err := l.acquire(ctx, l.limits.Read); err != nil {
		return nil, err
	}
	defer l.limits.Read.Release(1)
	return l.next.ListByAccountNumber(ctx, number)
}

func (l *limitMiddleware) Balance(ctx context.Context, req BalanceReq) (*decimal.Decimal, error) {
	if err := l.acquire(ctx, l.limits.Read); err != nil {
		return nil, err
	}
	defer l.limits.Read.Release(1)
	return l.next.Balance(ctx, req)
}

func (l *limitMiddleware) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	if err := l.acquire(ctx, l.limits.Read); err != nil {
		return err
	}
	defer l.limits.Read.Release(1)
	return l.next.Statement(ctx, w, req)
}

type ServiceBreaker struct {
	Post      *gobreaker.TwoStepCircuitBreaker[*TransactionResp]
	List      *gobreaker.TwoStepCircuitBreaker[[]TransactionResp]
	Balance   *gobreaker.TwoStepCircuitBreaker[*decimal.Decimal]
	Statement *gobreaker.TwoStepCircuitBreaker[struct{}]
}

func NewServiceBreaker(cfg BreakerConfig, log *zerolog.Logger) *ServiceBreaker {
	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().
					Str("breaker", name).
					Stringer("from", from).
					Stringer("to", to).
					Msg("circuit breaker state change")
			},
		}
	}
	return &ServiceBreaker{
		Post:      gobreaker.NewTwoStepCircuitBreaker[*TransactionResp](settings("post")),
		List:      gobreaker.NewTwoStepCircuitBreaker[[]TransactionResp](settings("list")),
		Balance:   gobreaker.NewTwoStepCircuitBreaker[*decimal.Decimal](settings("balance")),
		Statement: gobreaker.NewTwoStepCircuitBreaker[struct{}](settings("statement")),
	}
}

// circuitBreakMiddleware implements the circuit breaker pattern. It wraps
// limitMiddleware, so sustained load shedding and store outages trip the
// breaker while request errors (bad request, not found) count as successes.
type circuitBreakMiddleware struct {
	next  Service
	brkrs *ServiceBreaker
}

var (
	_ Service = (*circuitBreakMiddleware)(nil)
)

func NewCircuitBreakMiddleware(brkrs *ServiceBreaker) Middleware {
	return func(next Service) Service {
		return &circuitBreakMiddleware{
			next:  next,
			brkrs: brkrs,
		}
	}
}

func guard[T any](cb *gobreaker.TwoStepCircuitBreaker[T], fn func() (T, error)) (T, error) {
	done, err := cb.Allow()
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrServiceUnavailable, err.Error())
	}
	res, err := fn()
	done(breakerSuccess(err))
	return res, err
}

func breakerSuccess(err error) bool {
	return err == nil ||
		isDomainError(err) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, context.Canceled)
}

func (c *circuitBreakMiddleware) Post(ctx context.Context, req TransactionReq) (*TransactionResp, error) {
	return guard(c.brkrs.Post, func() (*TransactionResp, error) {
		return c.next.Post(ctx, req)
	})
}

func (c *circuitBreakMiddleware) ListByAccountNumber(ctx context.Context, number string) ([]TransactionResp, error) {
	return guard(c.brkrs.List, func() ([]TransactionResp, error) {
		return c.next.ListByAccountNumber(ctx, number)
	})
}

func (c *circuitBreakMiddleware) Balance(ctx context.Context, req BalanceReq) (*decimal.Decimal, error) {
	return guard(c.brkrs.Balance, func() (*decimal.Decimal, error) {
		return c.next.Balance(ctx, req)
	})
}

func (c *circuitBreakMiddleware) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	_, err := guard(c.brkrs.Statement, func() (struct{}, error) {
		return struct{}{}, c.next.Statement(ctx, w, req)
	})
	return err
}
