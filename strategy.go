package atmledger

//go:generate mockgen -source=strategy.go -destination=mocks/mock_strategy.go -package=mocks

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// PricingStrategy prices one transaction kind. Implementations must be
// pure and safe for concurrent use.
type PricingStrategy interface {
	Kind() TransactionKind
	Fee() decimal.Decimal
	// Apply returns the account balance after an operation of amount
	// against balance, or an ErrBadRequest if the operation is refused.
	Apply(balance, amount decimal.Decimal) (decimal.Decimal, error)
}

var (
	_ PricingStrategy = ATMDeposit{}
	_ PricingStrategy = ATMWithdrawal{}
)

// ATMDeposit credits the amount and debits its fee from the balance.
type ATMDeposit struct {
	FeeAmount decimal.Decimal
}

func (d ATMDeposit) Kind() TransactionKind { return KindATMDeposit }

func (d ATMDeposit) Fee() decimal.Decimal { return d.FeeAmount }

func (d ATMDeposit) Apply(balance, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrBadRequest{
			Message: "Amount must be greater than zero.",
			Fields:  map[string]string{"amount": "must be positive"},
		}
	}
	bal := balance.Add(amount).Sub(d.FeeAmount)
	if bal.IsNegative() {
		return decimal.Zero, ErrBadRequest{Message: msgInsufficientBalance}
	}
	return bal, nil
}

// ATMWithdrawal debits the amount plus its fee from the balance.
type ATMWithdrawal struct {
	FeeAmount decimal.Decimal
}

func (w ATMWithdrawal) Kind() TransactionKind { return KindATMWithdrawal }

func (w ATMWithdrawal) Fee() decimal.Decimal { return w.FeeAmount }

func (w ATMWithdrawal) Apply(balance, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrBadRequest{
			Message: "Amount must be greater than zero.",
			Fields:  map[string]string{"amount": "must be positive"},
		}
	}
	bal := balance.Sub(amount.Add(w.FeeAmount))
	if bal.IsNegative() {
		return decimal.Zero, ErrBadRequest{Message: msgInsufficientBalance}
	}
	return bal, nil
}

// Registry maps each transaction kind to its pricing strategy. It is
// read-only once built.
type Registry struct {
	strategies map[TransactionKind]PricingStrategy
}

func NewRegistry(strategies ...PricingStrategy) (*Registry, error) {
	reg := &Registry{
		strategies: make(map[TransactionKind]PricingStrategy, len(strategies)),
	}
	for _, s := range strategies {
		k := s.Kind()
		if _, dup := reg.strategies[k]; dup {
			return nil, fmt.Errorf("duplicate pricing strategy for kind %q", k)
		}
		reg.strategies[k] = s
	}
	return reg, nil
}

// NewDefaultRegistry registers the ATM strategies with the configured fees.
func NewDefaultRegistry(pricing PricingConfig) (*Registry, error) {
	depositFee, err := pricing.depositFee()
	if err != nil {
		return nil, err
	}
	withdrawalFee, err := pricing.withdrawalFee()
	if err != nil {
		return nil, err
	}
	return NewRegistry(
		ATMDeposit{FeeAmount: depositFee},
		ATMWithdrawal{FeeAmount: withdrawalFee},
	)
}

func (r *Registry) Strategy(kind TransactionKind) (PricingStrategy, error) {
	s, ok := r.strategies[kind]
	if !ok {
		return nil, ErrBadRequest{
			Message: fmt.Sprintf("Unsupported transaction type: %s", kind),
			Fields:  map[string]string{"type": "unsupported"},
		}
	}
	return s, nil
}

func (r *Registry) Kinds() []TransactionKind {
	kinds := make([]TransactionKind, 0, len(r.strategies))
	for k := range r.strategies {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func hasMoneyPrecision(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(moneyPlaces))
}
