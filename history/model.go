package history

import (
	"context"
	"errors"
	"time"
)

var (
	ErrExists   = errors.New("history entry already exists")
	ErrNotFound = errors.New("history entry not found")
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindPurchase
	KindRestore
)

// Entry records a single completed transaction, keyed by the store-assigned
// transaction id.
type Entry struct {
	TransactionID string
	ProductID     string
	Kind          Kind
	Quantity      int
	CreatedAt     time.Time
}

type Store interface {
	CreateEntry(ctx context.Context, entry *Entry) error
	GetEntry(ctx context.Context, transactionID string) (*Entry, error)
	ListByProduct(ctx context.Context, productID string) ([]*Entry, error)
}

func (e *Entry) Clone() *Entry {
	return &Entry{
		TransactionID: e.TransactionID,
		ProductID:     e.ProductID,
		Kind:          e.Kind,
		Quantity:      e.Quantity,
		CreatedAt:     e.CreatedAt,
	}
}
