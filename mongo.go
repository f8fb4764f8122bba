package atmledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoAccountsColl     = "accounts"
	mongoTransactionsColl = "transactions"

	mongoAcctNumberIndex = "accountNumber_unique"
)

type accountDoc struct {
	ID      string               `bson:"_id"`
	Number  string               `bson:"accountNumber"`
	Balance primitive.Decimal128 `bson:"balance"`
	UserID  string               `bson:"userId"`
	Version int64                `bson:"version"`
}

type transactionDoc struct {
	ID        string               `bson:"_id"`
	Amount    primitive.Decimal128 `bson:"amount"`
	Fee       primitive.Decimal128 `bson:"fee"`
	NetAmount primitive.Decimal128 `bson:"netAmount"`
	Kind      string               `bson:"type"`
	Date      time.Time            `bson:"date"`
	AccountID string               `bson:"accountId"`
}

// MongoEndpoint stores accounts and transactions as documents in two
// collections of one database.
type MongoEndpoint struct {
	client *mongo.Client
	db     *mongo.Database
	node   *snowflake.Node
	log    *zerolog.Logger
}

var (
	_ Store            = (*MongoEndpoint)(nil)
	_ AccountStore     = mongoAccounts{}
	_ TransactionStore = mongoTransactions{}
)

func NewMongoEndpoint(ctx context.Context, uri, dbName string, node *snowflake.Node, log *zerolog.Logger) (*MongoEndpoint, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}

	endpt := &MongoEndpoint{
		client: client,
		db:     client.Database(dbName),
		node:   node,
		log:    log,
	}
	if err = endpt.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return endpt, nil
}

func (m *MongoEndpoint) ensureIndexes(ctx context.Context) error {
	_, err := m.db.Collection(mongoAccountsColl).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "accountNumber", Value: 1}},
		Options: options.Index().SetName(mongoAcctNumberIndex).SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("accounts index: %w", err)
	}
	_, err = m.db.Collection(mongoTransactionsColl).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "accountId", Value: 1}, {Key: "date", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("transactions index: %w", err)
	}
	return nil
}

func (m *MongoEndpoint) Accounts() AccountStore { return mongoAccounts{m} }

func (m *MongoEndpoint) Transactions() TransactionStore { return mongoTransactions{m} }

func (m *MongoEndpoint) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

type mongoAccounts struct {
	m *MongoEndpoint
}

func (a mongoAccounts) FindByAccountNumber(ctx context.Context, number string) (*Account, error) {
	var doc accountDoc
	err := a.m.db.Collection(mongoAccountsColl).
		FindOne(ctx, bson.M{"accountNumber": number}).
		Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNoRecord
		}
		return nil, err
	}
	bal, err := fromDecimal128(doc.Balance)
	if err != nil {
		return nil, fmt.Errorf("account %s balance: %w", doc.ID, err)
	}
	return &Account{
		ID:      doc.ID,
		Number:  doc.Number,
		Balance: bal,
		UserID:  doc.UserID,
		Version: doc.Version,
	}, nil
}

// Save replaces the document matching both id and version. When the
// version is stale the upsert collides with the existing _id, which is
// reported as ErrConflict.
func (a mongoAccounts) Save(ctx context.Context, acct *Account) (*Account, error) {
	saved := *acct
	if saved.ID == "" {
		saved.ID = a.m.node.Generate().String()
	}
	bal, err := toDecimal128(saved.Balance)
	if err != nil {
		return nil, err
	}
	saved.Version = acct.Version + 1
	doc := accountDoc{
		ID:      saved.ID,
		Number:  saved.Number,
		Balance: bal,
		UserID:  saved.UserID,
		Version: saved.Version,
	}
	_, err = a.m.db.Collection(mongoAccountsColl).ReplaceOne(ctx,
		bson.M{"_id": saved.ID, "version": acct.Version},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if strings.Contains(err.Error(), mongoAcctNumberIndex) {
				return nil, ErrDuplicateNumber
			}
			a.m.log.Debug().
				Str("account_id", saved.ID).
				Int64("version", acct.Version).
				Msg("stale account version")
			return nil, ErrConflict
		}
		return nil, err
	}
	return &saved, nil
}

type mongoTransactions struct {
	m *MongoEndpoint
}

func (t mongoTransactions) Save(ctx context.Context, txn *Transaction) (*Transaction, error) {
	saved := *txn
	if saved.ID == "" {
		saved.ID = t.m.node.Generate().String()
	}
	// Mongo keeps millisecond precision; align so the returned value
	// matches what a later read yields.
	saved.Date = saved.Date.Truncate(time.Millisecond)

	doc := transactionDoc{
		ID:        saved.ID,
		Kind:      string(saved.Kind),
		Date:      saved.Date,
		AccountID: saved.AccountID,
	}
	var err error
	if doc.Amount, err = toDecimal128(saved.Amount); err != nil {
		return nil, err
	}
	if doc.Fee, err = toDecimal128(saved.Fee); err != nil {
		return nil, err
	}
	if doc.NetAmount, err = toDecimal128(saved.NetAmount); err != nil {
		return nil, err
	}
	if _, err = t.m.db.Collection(mongoTransactionsColl).InsertOne(ctx, doc); err != nil {
		return nil, err
	}
	return &saved, nil
}

func (t mongoTransactions) FindAllByAccountID(ctx context.Context, accountID string) ([]Transaction, error) {
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := t.m.db.Collection(mongoTransactionsColl).Find(ctx, bson.M{"accountId": accountID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []transactionDoc
	if err = cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	txns := make([]Transaction, 0, len(docs))
	for _, d := range docs {
		txn := Transaction{
			ID:        d.ID,
			Kind:      TransactionKind(d.Kind),
			Date:      d.Date,
			AccountID: d.AccountID,
		}
		if txn.Amount, err = fromDecimal128(d.Amount); err != nil {
			return nil, err
		}
		if txn.Fee, err = fromDecimal128(d.Fee); err != nil {
			return nil, err
		}
		if txn.NetAmount, err = fromDecimal128(d.NetAmount); err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, nil
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	return primitive.ParseDecimal128(d.String())
}

func fromDecimal128(d primitive.Decimal128) (decimal.Decimal, error) {
	return decimal.NewFromString(d.String())
}
