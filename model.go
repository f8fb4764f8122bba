package atmledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	KindATMDeposit    TransactionKind = "ATM_DEPOSIT"
	KindATMWithdrawal TransactionKind = "ATM_WITHDRAWAL"
)

// moneyPlaces is the number of fractional digits accepted for amounts and fees.
const moneyPlaces = 2

// localDateTimeLayout renders timestamps as ISO-8601 local date-time,
// without a zone offset.
const localDateTimeLayout = "2006-01-02T15:04:05.999999"

type Account struct {
	ID      string
	Number  string
	Balance decimal.Decimal
	UserID  string
	Version int64
}

type Transaction struct {
	ID        string
	Amount    decimal.Decimal
	Fee       decimal.Decimal
	NetAmount decimal.Decimal
	Kind      TransactionKind
	Date      time.Time
	AccountID string
}

type TransactionReq struct {
	Amount        decimal.Decimal `json:"amount"`
	Kind          TransactionKind `json:"type"`
	AccountNumber string          `json:"accountNumber"`
}

type TransactionResp struct {
	ID        string          `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	NetAmount decimal.Decimal `json:"netAmount"`
	Kind      TransactionKind `json:"type"`
	Date      string          `json:"date"`
	AccountID string          `json:"accountId"`
}

type BalanceReq struct {
	AccountNumber string
}

type StatementReq struct {
	AccountNumber string
}

func newTransactionResp(t *Transaction) TransactionResp {
	return TransactionResp{
		ID:        t.ID,
		Amount:    t.Amount,
		Fee:       t.Fee,
		NetAmount: t.NetAmount,
		Kind:      t.Kind,
		Date:      t.Date.Local().Format(localDateTimeLayout),
		AccountID: t.AccountID,
	}
}
