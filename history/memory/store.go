package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/kioskpay/storekit-server/history"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*history.Entry
}

func NewInMemory() history.Store {
	return &InMemoryStore{
		entries: map[string]*history.Entry{},
	}
}

func (s *InMemoryStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*history.Entry)
}

func (s *InMemoryStore) CreateEntry(ctx context.Context, entry *history.Entry) error {
	if entry.TransactionID == "" {
		return errors.New("transaction id is required")
	}
	if entry.Kind != history.KindPurchase && entry.Kind != history.KindRestore {
		return errors.New("kind must be purchase or restore")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[entry.TransactionID]
	if ok {
		return history.ErrExists
	}

	s.entries[entry.TransactionID] = entry.Clone()

	return nil
}

func (s *InMemoryStore) GetEntry(ctx context.Context, transactionID string) (*history.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[transactionID]
	if !ok {
		return nil, history.ErrNotFound
	}
	return entry.Clone(), nil
}

func (s *InMemoryStore) ListByProduct(ctx context.Context, productID string) ([]*history.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []*history.Entry
	for _, entry := range s.entries {
		if entry.ProductID == productID {
			entries = append(entries, entry.Clone())
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].TransactionID < entries[j].TransactionID
	})

	return entries, nil
}
