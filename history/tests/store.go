package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kioskpay/storekit-server/history"
)

// RunStoreTests runs a set of tests against a history.Store implementation.
func RunStoreTests(t *testing.T, s history.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s history.Store){
		testCreateEntry,
		testListByProduct,
	} {
		tf(t, s)
		teardown()
	}
}

func testCreateEntry(t *testing.T, s history.Store) {
	ctx := context.Background()

	entry := &history.Entry{
		TransactionID: "txn-1",
		ProductID:     "com.kioskpay.coins",
		Kind:          history.KindPurchase,
		Quantity:      2,
		CreatedAt:     time.Now().UTC().Truncate(time.Millisecond),
	}

	t.Run("NotFound", func(t *testing.T) {
		_, err := s.GetEntry(ctx, entry.TransactionID)
		require.ErrorIs(t, err, history.ErrNotFound)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		require.NoError(t, s.CreateEntry(ctx, entry))

		found, err := s.GetEntry(ctx, entry.TransactionID)
		require.NoError(t, err)
		require.Equal(t, entry.TransactionID, found.TransactionID)
		require.Equal(t, entry.ProductID, found.ProductID)
		require.Equal(t, entry.Kind, found.Kind)
		require.Equal(t, entry.Quantity, found.Quantity)
		require.True(t, entry.CreatedAt.Equal(found.CreatedAt))
	})

	t.Run("Duplicate", func(t *testing.T) {
		err := s.CreateEntry(ctx, entry)
		require.ErrorIs(t, err, history.ErrExists)
	})

	t.Run("InvalidKind", func(t *testing.T) {
		err := s.CreateEntry(ctx, &history.Entry{
			TransactionID: "txn-bad",
			ProductID:     "com.kioskpay.coins",
			Kind:          history.KindUnknown,
			Quantity:      1,
			CreatedAt:     time.Now(),
		})
		require.Error(t, err)
	})
}

func testListByProduct(t *testing.T, s history.Store) {
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, id := range []string{"txn-a", "txn-b", "txn-c"} {
		productID := "com.kioskpay.coins"
		if id == "txn-c" {
			productID = "com.kioskpay.gems"
		}

		require.NoError(t, s.CreateEntry(ctx, &history.Entry{
			TransactionID: id,
			ProductID:     productID,
			Kind:          history.KindRestore,
			Quantity:      1,
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		}))
	}

	entries, err := s.ListByProduct(ctx, "com.kioskpay.coins")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "txn-a", entries[0].TransactionID)
	require.Equal(t, "txn-b", entries[1].TransactionID)

	entries, err = s.ListByProduct(ctx, "com.kioskpay.other")
	require.NoError(t, err)
	require.Empty(t, entries)
}
