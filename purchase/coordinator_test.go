package purchase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kioskpay/storekit-server/event"
	"github.com/kioskpay/storekit-server/history"
	historymemory "github.com/kioskpay/storekit-server/history/memory"
	"github.com/kioskpay/storekit-server/product"
	"github.com/kioskpay/storekit-server/store"
	"github.com/kioskpay/storekit-server/store/memory"
)

func newTestCoordinator(ledger history.Store) (*Coordinator, *memory.Store) {
	log := zap.Must(zap.NewDevelopment())

	simulated := memory.NewInMemory()
	coordinator := NewCoordinator(log, simulated, simulated, simulated, simulated, product.NewCache(), ledger)

	return coordinator, simulated
}

func testProduct(id string) *product.Product {
	return &product.Product{
		ID:       id,
		Title:    "Test Product",
		Price:    decimal.RequireFromString("0.99"),
		Currency: "USD",
	}
}

func TestRequestProducts_ConcurrentIdenticalSetsShareOneLookup(t *testing.T) {
	coordinator, simulated := newTestCoordinator(nil)
	simulated.AddProduct(testProduct("a"))
	simulated.AddProduct(testProduct("b"))
	simulated.SetLatency(20 * time.Millisecond)

	// Same set, different order and with a duplicate: all of these share the
	// canonical key.
	sets := [][]string{
		{"a", "b"},
		{"b", "a"},
		{"a", "b", "a"},
		{"b", "a", "b"},
	}

	results := make([]*store.LookupResult, len(sets))
	var wg sync.WaitGroup
	for i, ids := range sets {
		wg.Add(1)
		go func(i int, ids []string) {
			defer wg.Done()

			result, err := coordinator.RequestProducts(context.Background(), ids)
			require.NoError(t, err)
			results[i] = result
		}(i, ids)
	}
	wg.Wait()

	require.EqualValues(t, 1, simulated.LookupCalls())
	for i := 1; i < len(results); i++ {
		require.Same(t, results[0], results[i])
	}
	require.Len(t, results[0].Products, 2)
	require.Empty(t, results[0].InvalidIDs)
	require.NoError(t, results[0].Err)
}

func TestRequestProducts_CompletedFlightIsNotReused(t *testing.T) {
	coordinator, simulated := newTestCoordinator(nil)
	simulated.AddProduct(testProduct("a"))

	_, err := coordinator.RequestProducts(context.Background(), []string{"a"})
	require.NoError(t, err)

	_, err = coordinator.RequestProducts(context.Background(), []string{"a"})
	require.NoError(t, err)

	require.EqualValues(t, 2, simulated.LookupCalls())
}

func TestRequestProducts_DistinctSetsDoNotShare(t *testing.T) {
	coordinator, simulated := newTestCoordinator(nil)
	simulated.AddProduct(testProduct("a"))
	simulated.AddProduct(testProduct("b"))
	simulated.SetLatency(20 * time.Millisecond)

	var wg sync.WaitGroup
	for _, ids := range [][]string{{"a"}, {"b"}} {
		wg.Add(1)
		go func(ids []string) {
			defer wg.Done()

			_, err := coordinator.RequestProducts(context.Background(), ids)
			require.NoError(t, err)
		}(ids)
	}
	wg.Wait()

	require.EqualValues(t, 2, simulated.LookupCalls())
}

func TestRequestProducts_InvalidIDsAndCaching(t *testing.T) {
	coordinator, simulated := newTestCoordinator(nil)
	simulated.AddProduct(testProduct("a"))

	result, err := coordinator.RequestProducts(context.Background(), []string{"a", "missing"})
	require.NoError(t, err)
	require.NoError(t, result.Err)
	require.Len(t, result.Products, 1)
	require.Equal(t, "a", result.Products[0].ID)
	require.Equal(t, []string{"missing"}, result.InvalidIDs)

	cached, ok := coordinator.products.Get("a")
	require.True(t, ok)
	require.Equal(t, "a", cached.ID)

	_, ok = coordinator.products.Get("missing")
	require.False(t, ok)
}

func TestPurchase_Success(t *testing.T) {
	ledger := historymemory.NewInMemory()
	coordinator, simulated := newTestCoordinator(ledger)
	simulated.AddProduct(testProduct("com.kioskpay.coins"))

	purchased, err := coordinator.Purchase(context.Background(), "com.kioskpay.coins", 2, "user-1")
	require.NoError(t, err)
	require.Equal(t, "com.kioskpay.coins", purchased)
	require.EqualValues(t, 1, simulated.PaymentCalls())

	entries, err := ledger.ListByProduct(context.Background(), "com.kioskpay.coins")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, history.KindPurchase, entries[0].Kind)
	require.Equal(t, 2, entries[0].Quantity)
}

func TestPurchase_UsesCachedProduct(t *testing.T) {
	coordinator, simulated := newTestCoordinator(nil)
	simulated.AddProduct(testProduct("a"))

	_, err := coordinator.RequestProducts(context.Background(), []string{"a"})
	require.NoError(t, err)
	require.EqualValues(t, 1, simulated.LookupCalls())

	_, err = coordinator.Purchase(context.Background(), "a", 1, "user-1")
	require.NoError(t, err)

	// The descriptor was cached by the lookup, so no further lookup happens.
	require.EqualValues(t, 1, simulated.LookupCalls())
}

func TestPurchase_InvalidProduct(t *testing.T) {
	coordinator, _ := newTestCoordinator(nil)

	_, err := coordinator.Purchase(context.Background(), "nope", 1, "user-1")

	var invalid *InvalidProductError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "nope", invalid.ProductID)
}

func TestPurchase_LookupTransportError(t *testing.T) {
	coordinator, simulated := newTestCoordinator(nil)

	transportErr := errors.New("store unreachable")
	simulated.SetLookupError(transportErr)

	_, err := coordinator.Purchase(context.Background(), "a", 1, "user-1")
	require.ErrorIs(t, err, transportErr)
}

func TestPurchase_PaymentsDisabled(t *testing.T) {
	coordinator, simulated := newTestCoordinator(nil)
	simulated.AddProduct(testProduct("a"))
	simulated.SetPaymentsEnabled(false)

	_, err := coordinator.Purchase(context.Background(), "a", 1, "user-1")
	require.ErrorIs(t, err, ErrPaymentsNotAllowed)
	require.EqualValues(t, 0, simulated.PaymentCalls())
}

func TestPurchase_PaymentFailure(t *testing.T) {
	coordinator, simulated := newTestCoordinator(nil)
	simulated.AddProduct(testProduct("a"))

	paymentErr := errors.New("card declined")
	simulated.ScriptPaymentOutcome("a", store.Failed(paymentErr))

	_, err := coordinator.Purchase(context.Background(), "a", 1, "user-1")
	require.ErrorIs(t, err, paymentErr)
}

func TestPurchase_RestoredOutcomeIsAlwaysAnError(t *testing.T) {
	ledger := historymemory.NewInMemory()
	coordinator, simulated := newTestCoordinator(ledger)
	simulated.AddProduct(testProduct("a"))
	simulated.ScriptPaymentOutcome("a", store.Outcome{Kind: store.OutcomeRestored})

	_, err := coordinator.Purchase(context.Background(), "a", 1, "user-1")

	var restored *RestoredWhenPurchasingError
	require.ErrorAs(t, err, &restored)
	require.Equal(t, "a", restored.ProductID)

	// A restore on the purchase path is never recorded as a purchase.
	entries, err := ledger.ListByProduct(context.Background(), "a")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPurchase_ConcurrentSameProductSharesOneSubmission(t *testing.T) {
	ledger := historymemory.NewInMemory()
	coordinator, simulated := newTestCoordinator(ledger)
	simulated.AddProduct(testProduct("a"))
	simulated.SetLatency(30 * time.Millisecond)

	const callers = 4
	results := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			purchased, err := coordinator.Purchase(context.Background(), "a", 1, "user-1")
			require.NoError(t, err)
			results[i] = purchased
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, simulated.PaymentCalls())
	for _, purchased := range results {
		require.Equal(t, "a", purchased)
	}

	entries, err := ledger.ListByProduct(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestPurchase_AbandonedWaitDoesNotCancelFlight(t *testing.T) {
	ledger := historymemory.NewInMemory()
	coordinator, simulated := newTestCoordinator(ledger)
	simulated.AddProduct(testProduct("a"))

	// Resolve the descriptor first so the short context below only covers
	// the payment wait.
	_, err := coordinator.RequestProducts(context.Background(), []string{"a"})
	require.NoError(t, err)

	simulated.SetLatency(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err = coordinator.Purchase(ctx, "a", 1, "user-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The submission still runs to completion and is recorded.
	require.Eventually(t, func() bool {
		entries, err := ledger.ListByProduct(context.Background(), "a")
		return err == nil && len(entries) == 1
	}, time.Second, 10*time.Millisecond)

	require.EqualValues(t, 1, simulated.PaymentCalls())
}

func TestRestore_PartitionsOutcomesInDeliveryOrder(t *testing.T) {
	ledger := historymemory.NewInMemory()
	coordinator, simulated := newTestCoordinator(ledger)

	restoreErr := errors.New("item unavailable")
	simulated.ScriptRestoreOutcomes(
		store.Restored("p1", "txn-1"),
		store.Failed(restoreErr),
		store.Purchased("p2", "txn-2", 1),
		store.Restored("p3", "txn-3"),
	)

	report, err := coordinator.Restore(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p3"}, report.Restored)
	require.Len(t, report.Failures, 2)

	require.Empty(t, report.Failures[0].ProductID)
	require.ErrorIs(t, report.Failures[0].Err, restoreErr)

	var purchasedErr *PurchasedWhenRestoringError
	require.ErrorAs(t, report.Failures[1].Err, &purchasedErr)
	require.Equal(t, "p2", purchasedErr.ProductID)
	require.Equal(t, "p2", report.Failures[1].ProductID)

	for _, productID := range []string{"p1", "p3"} {
		entries, err := ledger.ListByProduct(context.Background(), productID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, history.KindRestore, entries[0].Kind)
	}

	// The anomalous purchase is surfaced, not recorded as restored.
	entries, err := ledger.ListByProduct(context.Background(), "p2")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRestore_ConcurrentCallsJoinOneFlight(t *testing.T) {
	coordinator, simulated := newTestCoordinator(nil)
	simulated.ScriptRestoreOutcomes(store.Restored("p1", "txn-1"))
	simulated.SetLatency(30 * time.Millisecond)

	const callers = 3
	reports := make([]*RestoreReport, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			report, err := coordinator.Restore(context.Background())
			require.NoError(t, err)
			reports[i] = report
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, simulated.RestoreCalls())
	for i := 1; i < callers; i++ {
		require.Same(t, reports[0], reports[i])
	}
}

func TestRestore_SequentialCallsStartNewFlights(t *testing.T) {
	coordinator, simulated := newTestCoordinator(nil)

	_, err := coordinator.Restore(context.Background())
	require.NoError(t, err)

	_, err = coordinator.Restore(context.Background())
	require.NoError(t, err)

	require.EqualValues(t, 2, simulated.RestoreCalls())
}

func TestOnCompletedTransactions(t *testing.T) {
	ledger := historymemory.NewInMemory()
	coordinator, simulated := newTestCoordinator(ledger)

	received := make(chan []store.Outcome, 1)
	coordinator.OnCompletedTransactions(event.HandlerFunc[[]store.Outcome](func(outcomes []store.Outcome) {
		received <- outcomes
	}))

	simulated.DeliverCompleted(store.Purchased("p1", "txn-ext", 1))

	select {
	case outcomes := <-received:
		require.Len(t, outcomes, 1)
		require.Equal(t, "p1", outcomes[0].ProductID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completed transactions")
	}

	entries, err := ledger.ListByProduct(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, history.KindPurchase, entries[0].Kind)
}
