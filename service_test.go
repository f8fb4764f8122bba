package atmledger_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/arhyth/atmledger"
	"github.com/arhyth/atmledger/mocks"
)

const (
	testAcctID     = "675e0e4a59d6de4eda5b29b8"
	testAcctNumber = "12345678"
	testUserID     = "675e0e1259d6de4eda5b29b7"
)

type decimalMatcher struct {
	want decimal.Decimal
}

func (m decimalMatcher) Matches(x any) bool {
	d, ok := x.(decimal.Decimal)
	return ok && d.Equal(m.want)
}

func (m decimalMatcher) String() string {
	return "is decimal " + m.want.String()
}

func decEq(s string) gomock.Matcher {
	return decimalMatcher{want: dec(s)}
}

func testAccount() *atmledger.Account {
	return &atmledger.Account{
		ID:      testAcctID,
		Number:  testAcctNumber,
		Balance: dec("500.0"),
		UserID:  testUserID,
	}
}

type svcFixture struct {
	accts *mocks.MockAccountStore
	txns  *mocks.MockTransactionStore
	strat *mocks.MockPricingStrategy
	svc   atmledger.Service
}

// newMockedService wires a service whose deposit pricing is a mock and
// whose withdrawal pricing is the real strategy with a 1.00 fee.
func newMockedService(t *testing.T, retries int) *svcFixture {
	ctrl := gomock.NewController(t)
	f := &svcFixture{
		accts: mocks.NewMockAccountStore(ctrl),
		txns:  mocks.NewMockTransactionStore(ctrl),
		strat: mocks.NewMockPricingStrategy(ctrl),
	}
	f.strat.EXPECT().Kind().Return(atmledger.KindATMDeposit).AnyTimes()
	reg, err := atmledger.NewRegistry(f.strat, atmledger.ATMWithdrawal{FeeAmount: dec("1.0")})
	require.Nil(t, err)

	log := zerolog.Nop()
	svc, err := atmledger.NewService(f.accts, f.txns, reg, &log, atmledger.ServiceOpts{
		ConflictRetries: retries,
	})
	require.Nil(t, err)
	f.svc = svc
	return f
}

func TestNewService(t *testing.T) {
	t.Run("returns an error without a registry", func(tt *testing.T) {
		ctrl := gomock.NewController(tt)
		log := zerolog.Nop()
		_, err := atmledger.NewService(mocks.NewMockAccountStore(ctrl), mocks.NewMockTransactionStore(ctrl), nil, &log, atmledger.ServiceOpts{})
		assert.NotNil(tt, err)
	})

	t.Run("returns an error on negative retries", func(tt *testing.T) {
		ctrl := gomock.NewController(tt)
		reg, _ := atmledger.NewRegistry()
		_, err := atmledger.NewService(mocks.NewMockAccountStore(ctrl), mocks.NewMockTransactionStore(ctrl), reg, nil, atmledger.ServiceOpts{ConflictRetries: -1})
		assert.NotNil(tt, err)
	})
}

func TestPost(t *testing.T) {
	t.Run("records an ATM deposit", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		f := newMockedService(tt, 0)
		acct := testAccount()
		req := atmledger.TransactionReq{
			Amount:        dec("100.0"),
			Kind:          atmledger.KindATMDeposit,
			AccountNumber: testAcctNumber,
		}

		f.accts.EXPECT().
			FindByAccountNumber(gomock.Any(), testAcctNumber).
			Return(acct, nil).
			Times(1)
		f.strat.EXPECT().Fee().Return(dec("2.0")).Times(1)
		f.strat.EXPECT().
			Apply(decEq("500"), decEq("100")).
			Return(dec("598.0"), nil).
			Times(1)
		f.accts.EXPECT().
			Save(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, a *atmledger.Account) (*atmledger.Account, error) {
				assertDecimal(tt, "598", a.Balance)
				as.Equal(testAcctID, a.ID)
				return a, nil
			}).
			Times(1)
		f.txns.EXPECT().
			Save(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, txn *atmledger.Transaction) (*atmledger.Transaction, error) {
				as.Equal(testAcctID, txn.AccountID)
				as.False(txn.Date.IsZero())
				saved := *txn
				saved.ID = "675e0ec661737976b43cca85"
				return &saved, nil
			}).
			Times(1)

		resp, err := f.svc.Post(context.Background(), req)
		reqrd.Nil(err)
		reqrd.NotNil(resp)
		as.Equal("675e0ec661737976b43cca85", resp.ID)
		assertDecimal(tt, "2", resp.Fee)
		assertDecimal(tt, "98", resp.NetAmount)
		assertDecimal(tt, "100", resp.Amount)
		as.Equal(atmledger.KindATMDeposit, resp.Kind)
		as.Equal(testAcctID, resp.AccountID)
		as.NotEmpty(resp.Date)
	})

	t.Run("records an ATM withdrawal", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		f := newMockedService(tt, 0)
		req := atmledger.TransactionReq{
			Amount:        dec("50.0"),
			Kind:          atmledger.KindATMWithdrawal,
			AccountNumber: testAcctNumber,
		}

		f.accts.EXPECT().
			FindByAccountNumber(gomock.Any(), testAcctNumber).
			Return(testAccount(), nil)
		var savedBalance decimal.Decimal
		f.accts.EXPECT().
			Save(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, a *atmledger.Account) (*atmledger.Account, error) {
				savedBalance = a.Balance
				return a, nil
			}).
			Times(1)
		f.txns.EXPECT().
			Save(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, txn *atmledger.Transaction) (*atmledger.Transaction, error) {
				saved := *txn
				saved.ID = "675e0ec661737976b43cca85"
				return &saved, nil
			}).
			Times(1)

		resp, err := f.svc.Post(context.Background(), req)
		reqrd.Nil(err)
		assertDecimal(tt, "1", resp.Fee)
		assertDecimal(tt, "49", resp.NetAmount)
		as.Equal(atmledger.KindATMWithdrawal, resp.Kind)
		assertDecimal(tt, "449", savedBalance)
	})

	t.Run("returns a bad request on insufficient balance without writing", func(tt *testing.T) {
		as := assert.New(tt)
		f := newMockedService(tt, 0)
		req := atmledger.TransactionReq{
			Amount:        dec("600.0"),
			Kind:          atmledger.KindATMWithdrawal,
			AccountNumber: testAcctNumber,
		}
		f.accts.EXPECT().
			FindByAccountNumber(gomock.Any(), testAcctNumber).
			Return(testAccount(), nil)

		resp, err := f.svc.Post(context.Background(), req)
		as.Nil(resp)
		as.ErrorAs(err, &atmledger.ErrBadRequest{})
		as.EqualError(err, "Insufficient balance for this transaction.")
	})

	t.Run("propagates a strategy refusal without writing", func(tt *testing.T) {
		as := assert.New(tt)
		f := newMockedService(tt, 0)
		f.accts.EXPECT().
			FindByAccountNumber(gomock.Any(), testAcctNumber).
			Return(testAccount(), nil)
		f.strat.EXPECT().Fee().Return(dec("2.0"))
		f.strat.EXPECT().
			Apply(gomock.Any(), gomock.Any()).
			Return(decimal.Zero, atmledger.ErrBadRequest{Message: "refused"})

		resp, err := f.svc.Post(context.Background(), atmledger.TransactionReq{
			Amount:        dec("1"),
			Kind:          atmledger.KindATMDeposit,
			AccountNumber: testAcctNumber,
		})
		as.Nil(resp)
		as.ErrorAs(err, &atmledger.ErrBadRequest{})
	})

	t.Run("returns not found for an unknown account without consulting pricing", func(tt *testing.T) {
		as := assert.New(tt)
		f := newMockedService(tt, 0)
		number := "675e0e4a59d6de4eda5b29b3"
		f.accts.EXPECT().
			FindByAccountNumber(gomock.Any(), number).
			Return(nil, atmledger.ErrNoRecord).
			Times(1)

		resp, err := f.svc.Post(context.Background(), atmledger.TransactionReq{
			Amount:        dec("100"),
			Kind:          atmledger.KindATMDeposit,
			AccountNumber: number,
		})
		as.Nil(resp)
		as.ErrorAs(err, &atmledger.ErrNotFound{})
		as.EqualError(err, "Account not found")
	})

	t.Run("returns a bad request for an unregistered kind", func(tt *testing.T) {
		as := assert.New(tt)
		f := newMockedService(tt, 0)
		f.accts.EXPECT().
			FindByAccountNumber(gomock.Any(), testAcctNumber).
			Return(testAccount(), nil)

		_, err := f.svc.Post(context.Background(), atmledger.TransactionReq{
			Amount:        dec("100"),
			Kind:          "BRANCH_TRANSFER",
			AccountNumber: testAcctNumber,
		})
		as.ErrorAs(err, &atmledger.ErrBadRequest{})
	})

	t.Run("replays the post after a version conflict", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		f := newMockedService(tt, 2)

		first := testAccount()
		second := testAccount()
		second.Balance = dec("400")
		second.Version = 1
		gomock.InOrder(
			f.accts.EXPECT().FindByAccountNumber(gomock.Any(), testAcctNumber).Return(first, nil),
			f.accts.EXPECT().Save(gomock.Any(), first).Return(nil, atmledger.ErrConflict),
			f.accts.EXPECT().FindByAccountNumber(gomock.Any(), testAcctNumber).Return(second, nil),
			f.accts.EXPECT().
				Save(gomock.Any(), second).
				DoAndReturn(func(_ context.Context, a *atmledger.Account) (*atmledger.Account, error) {
					assertDecimal(tt, "349", a.Balance)
					return a, nil
				}),
		)
		f.txns.EXPECT().
			Save(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, txn *atmledger.Transaction) (*atmledger.Transaction, error) {
				return txn, nil
			}).
			Times(1)

		resp, err := f.svc.Post(context.Background(), atmledger.TransactionReq{
			Amount:        dec("50"),
			Kind:          atmledger.KindATMWithdrawal,
			AccountNumber: testAcctNumber,
		})
		reqrd.Nil(err)
		assertDecimal(tt, "49", resp.NetAmount)
		as.Equal(testAcctID, resp.AccountID)
	})

	t.Run("gives up after exhausting conflict retries", func(tt *testing.T) {
		as := assert.New(tt)
		f := newMockedService(tt, 1)
		f.accts.EXPECT().
			FindByAccountNumber(gomock.Any(), testAcctNumber).
			DoAndReturn(func(context.Context, string) (*atmledger.Account, error) {
				return testAccount(), nil
			}).
			Times(2)
		f.accts.EXPECT().
			Save(gomock.Any(), gomock.Any()).
			Return(nil, atmledger.ErrConflict).
			Times(2)

		resp, err := f.svc.Post(context.Background(), atmledger.TransactionReq{
			Amount:        dec("50"),
			Kind:          atmledger.KindATMWithdrawal,
			AccountNumber: testAcctNumber,
		})
		as.Nil(resp)
		as.ErrorIs(err, atmledger.ErrConflict)
	})

	t.Run("surfaces a transaction save failure after the account was saved", func(tt *testing.T) {
		as := assert.New(tt)
		f := newMockedService(tt, 3)
		storeErr := errors.New("connection reset")
		f.accts.EXPECT().
			FindByAccountNumber(gomock.Any(), testAcctNumber).
			Return(testAccount(), nil).
			Times(1)
		f.accts.EXPECT().
			Save(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, a *atmledger.Account) (*atmledger.Account, error) {
				return a, nil
			}).
			Times(1)
		f.txns.EXPECT().
			Save(gomock.Any(), gomock.Any()).
			Return(nil, storeErr).
			Times(1)

		resp, err := f.svc.Post(context.Background(), atmledger.TransactionReq{
			Amount:        dec("50"),
			Kind:          atmledger.KindATMWithdrawal,
			AccountNumber: testAcctNumber,
		})
		as.Nil(resp)
		as.ErrorIs(err, storeErr)
		as.False(errors.As(err, &atmledger.ErrBadRequest{}))
	})

	t.Run("wraps an account lookup failure", func(tt *testing.T) {
		as := assert.New(tt)
		f := newMockedService(tt, 0)
		storeErr := errors.New("store unreachable")
		f.accts.EXPECT().
			FindByAccountNumber(gomock.Any(), testAcctNumber).
			Return(nil, storeErr)

		_, err := f.svc.Post(context.Background(), atmledger.TransactionReq{
			Amount:        dec("50"),
			Kind:          atmledger.KindATMWithdrawal,
			AccountNumber: testAcctNumber,
		})
		as.ErrorIs(err, storeErr)
		as.False(errors.As(err, &atmledger.ErrNotFound{}))
	})

	t.Run("stops before writing when the caller has gone away", func(tt *testing.T) {
		as := assert.New(tt)
		f := newMockedService(tt, 0)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		f.accts.EXPECT().
			FindByAccountNumber(gomock.Any(), testAcctNumber).
			DoAndReturn(func(context.Context, string) (*atmledger.Account, error) {
				cancel()
				return testAccount(), nil
			})

		_, err := f.svc.Post(ctx, atmledger.TransactionReq{
			Amount:        dec("50"),
			Kind:          atmledger.KindATMWithdrawal,
			AccountNumber: testAcctNumber,
		})
		as.ErrorIs(err, context.Canceled)
	})
}

func TestListByAccountNumber(t *testing.T) {
	t.Run("returns the account's transactions in store order", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		f := newMockedService(tt, 0)
		now := time.Now()
		txns := []atmledger.Transaction{
			{
				ID:        "675e0ec661737976b43cca85",
				Amount:    dec("100.0"),
				Fee:       dec("2.0"),
				NetAmount: dec("98.0"),
				Kind:      atmledger.KindATMDeposit,
				Date:      now,
				AccountID: testAcctID,
			},
			{
				ID:        "675e0ec661737976b43cca86",
				Amount:    dec("50.0"),
				Fee:       dec("1.0"),
				NetAmount: dec("49.0"),
				Kind:      atmledger.KindATMWithdrawal,
				Date:      now,
				AccountID: testAcctID,
			},
		}
		f.accts.EXPECT().
			FindByAccountNumber(gomock.Any(), testAcctNumber).
			Return(testAccount(), nil).
			Times(1)
		f.txns.EXPECT().
			FindAllByAccountID(gomock.Any(), testAcctID).
			Return(txns, nil).
			Times(1)

		resps, err := f.svc.ListByAccountNumber(context.Background(), testAcctNumber)
		reqrd.Nil(err)
		reqrd.Len(resps, 2)
		as.Equal("675e0ec661737976b43cca85", resps[0].ID)
		as.Equal("675e0ec661737976b43cca86", resps[1].ID)
		for _, r := range resps {
			as.Equal(testAcctID, r.AccountID)
		}
	})

	t.Run("returns an empty list for an account without transactions", func(tt *testing.T) {
		f := newMockedService(tt, 0)
		f.accts.EXPECT().
			FindByAccountNumber(gomock.Any(), testAcctNumber).
			Return(testAccount(), nil)
		f.txns.EXPECT().
			FindAllByAccountID(gomock.Any(), testAcctID).
			Return(nil, nil)

		resps, err := f.svc.ListByAccountNumber(context.Background(), testAcctNumber)
		require.Nil(tt, err)
		assert.Empty(tt, resps)
	})

	t.Run("returns not found without consulting the transaction store", func(tt *testing.T) {
		as := assert.New(tt)
		f := newMockedService(tt, 0)
		number := "675e0e4a59d6de4eda5b29b3"
		f.accts.EXPECT().
			FindByAccountNumber(gomock.Any(), number).
			Return(nil, atmledger.ErrNoRecord).
			Times(1)

		resps, err := f.svc.ListByAccountNumber(context.Background(), number)
		as.Nil(resps)
		as.ErrorAs(err, &atmledger.ErrNotFound{})
		as.EqualError(err, "Account not found")
	})
}

// newMemoryService runs the real strategies over the in-memory store with
// a clock that advances one second per transaction.
func newMemoryService(t *testing.T) (atmledger.Service, *atmledger.MemoryStore) {
	node, err := snowflake.NewNode(1)
	require.Nil(t, err)
	store := atmledger.NewMemoryStore(node)
	_, err = atmledger.SeedAccounts(context.Background(), store.Accounts(), []atmledger.SeedAccount{
		{Number: testAcctNumber, Balance: "500.00", UserID: testUserID},
		{Number: "87654321", Balance: "10.00", UserID: testUserID},
	})
	require.Nil(t, err)

	reg, err := atmledger.NewDefaultRegistry(atmledger.PricingConfig{
		ATMDepositFee:    "2.00",
		ATMWithdrawalFee: "1.00",
	})
	require.Nil(t, err)

	var mu sync.Mutex
	clock := time.Date(2024, 12, 15, 10, 0, 0, 0, time.Local)
	log := zerolog.Nop()
	svc, err := atmledger.NewService(store.Accounts(), store.Transactions(), reg, &log, atmledger.ServiceOpts{
		ConflictRetries: 3,
		Clock: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Second)
			return clock
		},
	})
	require.Nil(t, err)
	return svc, store
}

func TestServiceWithMemoryStore(t *testing.T) {
	t.Run("keeps the balance and ledger consistent across posts", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		svc, _ := newMemoryService(tt)
		ctx := context.Background()

		dep, err := svc.Post(ctx, atmledger.TransactionReq{Amount: dec("100"), Kind: atmledger.KindATMDeposit, AccountNumber: testAcctNumber})
		reqrd.Nil(err)
		wd, err := svc.Post(ctx, atmledger.TransactionReq{Amount: dec("50"), Kind: atmledger.KindATMWithdrawal, AccountNumber: testAcctNumber})
		reqrd.Nil(err)
		_, err = svc.Post(ctx, atmledger.TransactionReq{Amount: dec("9.00"), Kind: atmledger.KindATMWithdrawal, AccountNumber: "87654321"})
		reqrd.Nil(err)
		drained, err := svc.Balance(ctx, atmledger.BalanceReq{AccountNumber: "87654321"})
		reqrd.Nil(err)
		as.True(drained.IsZero())

		bal, err := svc.Balance(ctx, atmledger.BalanceReq{AccountNumber: testAcctNumber})
		reqrd.Nil(err)
		assertDecimal(tt, "547", *bal)

		resps, err := svc.ListByAccountNumber(ctx, testAcctNumber)
		reqrd.Nil(err)
		reqrd.Len(resps, 2)
		as.Equal(dep.ID, resps[0].ID)
		as.Equal(wd.ID, resps[1].ID)
		as.Equal("2024-12-15T10:00:01", resps[0].Date)
		as.Equal(resps[0].AccountID, resps[1].AccountID)
	})

	t.Run("leaves the balance untouched on a refused withdrawal", func(tt *testing.T) {
		as := assert.New(tt)
		svc, _ := newMemoryService(tt)
		ctx := context.Background()

		_, err := svc.Post(ctx, atmledger.TransactionReq{Amount: dec("10"), Kind: atmledger.KindATMWithdrawal, AccountNumber: "87654321"})
		as.ErrorAs(err, &atmledger.ErrBadRequest{})

		bal, err := svc.Balance(ctx, atmledger.BalanceReq{AccountNumber: "87654321"})
		as.Nil(err)
		assertDecimal(tt, "10", *bal)
		resps, err := svc.ListByAccountNumber(ctx, "87654321")
		as.Nil(err)
		as.Empty(resps)
	})

	t.Run("serialises concurrent posts through version conflicts", func(tt *testing.T) {
		reqrd := require.New(tt)
		svc, _ := newMemoryService(tt)
		ctx := context.Background()

		errs := make(chan error, 4)
		for i := 0; i < 4; i++ {
			go func() {
				_, err := svc.Post(ctx, atmledger.TransactionReq{Amount: dec("10"), Kind: atmledger.KindATMDeposit, AccountNumber: testAcctNumber})
				errs <- err
			}()
		}
		var ok int
		for i := 0; i < 4; i++ {
			if err := <-errs; err == nil {
				ok++
			} else {
				reqrd.ErrorIs(err, atmledger.ErrConflict)
			}
		}

		bal, err := svc.Balance(ctx, atmledger.BalanceReq{AccountNumber: testAcctNumber})
		reqrd.Nil(err)
		resps, err := svc.ListByAccountNumber(ctx, testAcctNumber)
		reqrd.Nil(err)
		reqrd.Len(resps, ok)
		want := dec("500").Add(dec("8").Mul(decimal.NewFromInt(int64(ok))))
		assert.Truef(tt, want.Equal(*bal), "expected %s, got %s", want, bal)
	})

	t.Run("renders a PDF statement", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		svc, _ := newMemoryService(tt)
		ctx := context.Background()
		for i := 1; i <= 3; i++ {
			_, err := svc.Post(ctx, atmledger.TransactionReq{
				Amount:        dec(fmt.Sprintf("%d.25", i*10)),
				Kind:          atmledger.KindATMDeposit,
				AccountNumber: testAcctNumber,
			})
			reqrd.Nil(err)
		}

		buf := new(bytes.Buffer)
		err := svc.Statement(ctx, buf, atmledger.StatementReq{AccountNumber: testAcctNumber})
		reqrd.Nil(err)
		as.True(bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
	})

	t.Run("returns not found for the balance of an unknown account", func(tt *testing.T) {
		svc, _ := newMemoryService(tt)
		_, err := svc.Balance(context.Background(), atmledger.BalanceReq{AccountNumber: "00000000"})
		assert.ErrorAs(tt, err, &atmledger.ErrNotFound{})
	})
}
