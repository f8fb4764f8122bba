package atmledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5"
)

// LocalHelper prepares a Postgres database for local runs and tests.
type LocalHelper struct {
	Conn   *pgx.Conn
	SQLDir string
}

func NewLocalHelper(ctx context.Context, connStr, sqlDir string) (*LocalHelper, error) {
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return nil, err
	}
	if sqlDir == "" {
		sqlDir = "testdata"
	}
	return &LocalHelper{
		Conn:   conn,
		SQLDir: sqlDir,
	}, nil
}

// InitDB creates the schema and returns a func that drops it and closes
// the connection.
func (lh *LocalHelper) InitDB(ctx context.Context) (func(), error) {
	if err := lh.execFile(ctx, "init_db.sql"); err != nil {
		return nil, err
	}
	return lh.teardownDB(), nil
}

// Close releases the connection without touching the schema.
func (lh *LocalHelper) Close(ctx context.Context) error {
	return lh.Conn.Close(ctx)
}

func (lh *LocalHelper) execFile(ctx context.Context, name string) error {
	bits, err := os.ReadFile(filepath.Join(lh.SQLDir, name))
	if err != nil {
		return err
	}
	_, err = lh.Conn.Exec(ctx, string(bits))
	return err
}

func (lh *LocalHelper) teardownDB() func() {
	return func() {
		ctx := context.Background()
		defer lh.Conn.Close(ctx)

		if err := lh.execFile(ctx, "teardown_db.sql"); err != nil {
			fmt.Fprintf(os.Stderr, "DB cleanup exec teardown sql: %s", err.Error())
		}
	}
}
