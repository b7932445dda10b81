package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"

	"github.com/kioskpay/storekit-server/history"
)

const entryTable = "storekit_history"

// Schema is applied by the test harness; production deployments manage the
// table through their own migrations.
const Schema = `
CREATE TABLE IF NOT EXISTS ` + entryTable + ` (
	"transactionId" TEXT PRIMARY KEY,
	"productId"     TEXT NOT NULL,
	"kind"          INT NOT NULL,
	"quantity"      INT NOT NULL,
	"createdAt"     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS storekit_history_product_idx ON ` + entryTable + ` ("productId");
`

type entryModel struct {
	TransactionID string    `db:"transactionId"`
	ProductID     string    `db:"productId"`
	Kind          int       `db:"kind"`
	Quantity      int       `db:"quantity"`
	CreatedAt     time.Time `db:"createdAt"`
}

type pgStore struct {
	db *sqlx.DB
}

func NewInPostgres(db *sql.DB) history.Store {
	return &pgStore{
		db: sqlx.NewDb(db, "pgx"),
	}
}

func (s *pgStore) reset() {
	_, err := s.db.Exec(`DELETE FROM ` + entryTable)
	if err != nil {
		panic(err)
	}
}

func (s *pgStore) CreateEntry(ctx context.Context, entry *history.Entry) error {
	if entry.TransactionID == "" {
		return errors.New("transaction id is required")
	}
	if entry.Kind != history.KindPurchase && entry.Kind != history.KindRestore {
		return errors.New("kind must be purchase or restore")
	}

	query := `INSERT INTO ` + entryTable + ` ("transactionId", "productId", "kind", "quantity", "createdAt") VALUES ($1, $2, $3, $4, $5)`
	_, err := s.db.ExecContext(ctx, query,
		entry.TransactionID,
		entry.ProductID,
		int(entry.Kind),
		entry.Quantity,
		entry.CreatedAt,
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return history.ErrExists
	}

	return err
}

func (s *pgStore) GetEntry(ctx context.Context, transactionID string) (*history.Entry, error) {
	var m entryModel
	query := `SELECT "transactionId", "productId", "kind", "quantity", "createdAt" FROM ` + entryTable + ` WHERE "transactionId" = $1`
	err := s.db.GetContext(ctx, &m, query, transactionID)

	if err == sql.ErrNoRows {
		return nil, history.ErrNotFound
	} else if err != nil {
		return nil, err
	}

	return fromModel(&m), nil
}

func (s *pgStore) ListByProduct(ctx context.Context, productID string) ([]*history.Entry, error) {
	var models []entryModel
	query := `SELECT "transactionId", "productId", "kind", "quantity", "createdAt" FROM ` + entryTable + ` WHERE "productId" = $1 ORDER BY "createdAt" ASC, "transactionId" ASC`
	err := s.db.SelectContext(ctx, &models, query, productID)
	if err != nil {
		return nil, err
	}

	entries := make([]*history.Entry, 0, len(models))
	for i := range models {
		entries = append(entries, fromModel(&models[i]))
	}
	return entries, nil
}

func fromModel(m *entryModel) *history.Entry {
	return &history.Entry{
		TransactionID: m.TransactionID,
		ProductID:     m.ProductID,
		Kind:          history.Kind(m.Kind),
		Quantity:      m.Quantity,
		CreatedAt:     m.CreatedAt,
	}
}
