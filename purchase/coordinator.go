package purchase

import (
	"context"
	"crypto/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kioskpay/storekit-server/event"
	"github.com/kioskpay/storekit-server/history"
	"github.com/kioskpay/storekit-server/product"
	"github.com/kioskpay/storekit-server/store"
)

type queryFlight struct {
	done   chan struct{}
	result *store.LookupResult
}

type purchaseFlight struct {
	done    chan struct{}
	outcome store.Outcome
}

type restoreFlight struct {
	done   chan struct{}
	report *RestoreReport
}

// RestoreFailure is a single failed outcome of a restore request. ProductID
// is empty when the store reported no product for the failure.
type RestoreFailure struct {
	ProductID string
	Err       error
}

// RestoreReport partitions a restore's outcomes, in delivery order.
type RestoreReport struct {
	Restored []string
	Failures []RestoreFailure
}

// Coordinator serializes purchase, restore and product lookup traffic
// against the transactional store. Identical concurrent requests share a
// single transport call and observe the same final result; all registry
// mutations happen under one mutex.
type Coordinator struct {
	log      *zap.Logger
	lookup   store.Lookup
	payments store.Payments
	restorer store.Restorer
	products *product.Cache
	ledger   history.Store

	completed *event.Bus[[]store.Outcome]

	mu        sync.Mutex
	queries   map[string]*queryFlight
	purchases map[string]*purchaseFlight
	restore   *restoreFlight
}

// NewCoordinator wires the coordinator against its collaborators. ledger may
// be nil to disable transaction recording. When observer is non-nil the
// coordinator subscribes to its completed-transaction feed and republishes
// to handlers registered via OnCompletedTransactions.
func NewCoordinator(
	log *zap.Logger,
	lookup store.Lookup,
	payments store.Payments,
	restorer store.Restorer,
	observer store.Observer,
	products *product.Cache,
	ledger history.Store,
) *Coordinator {
	c := &Coordinator{
		log:       log,
		lookup:    lookup,
		payments:  payments,
		restorer:  restorer,
		products:  products,
		ledger:    ledger,
		completed: event.NewBus[[]store.Outcome](),
		queries:   map[string]*queryFlight{},
		purchases: map[string]*purchaseFlight{},
	}

	if observer != nil {
		observer.OnCompletedTransactions(c.onCompleted)
	}

	return c
}

// OnCompletedTransactions registers h for transactions the store completes
// outside of an explicit Purchase or Restore call, e.g. purchases initiated
// before this process started.
func (c *Coordinator) OnCompletedTransactions(h event.Handler[[]store.Outcome]) {
	c.completed.AddHandler(h)
}

// RequestProducts resolves ids to product descriptors. A request for an id
// set identical to one already in flight joins the pending flight instead of
// starting another transport call; every joined caller observes the same
// terminal result. Retrieved descriptors are cached before the result is
// published.
func (c *Coordinator) RequestProducts(ctx context.Context, ids []string) (*store.LookupResult, error) {
	requested := uniqueSorted(ids)
	key := strings.Join(requested, ",")

	c.mu.Lock()
	if f, ok := c.queries[key]; ok {
		c.mu.Unlock()
		c.log.Debug("joining pending product lookup", zap.String("key", key))
		return awaitQuery(ctx, f)
	}
	f := &queryFlight{done: make(chan struct{})}
	c.queries[key] = f
	c.mu.Unlock()

	c.lookup.LookupProducts(requested, func(products []*product.Product, invalidIDs []string, err error) {
		// Cache descriptors and clear the in-flight entry before any waiter
		// observes the result, so a fresh identical request afterwards
		// starts a new lookup.
		c.mu.Lock()
		c.products.PutAll(products)
		delete(c.queries, key)
		c.mu.Unlock()

		f.result = &store.LookupResult{
			Products:   products,
			InvalidIDs: invalidIDs,
			Err:        err,
		}
		close(f.done)
	})

	return awaitQuery(ctx, f)
}

// Purchase resolves productID, submits a payment for it, and returns the
// purchased product id. A purchase call for an id already in flight joins
// the pending flight; the payment transport is invoked at most once per id
// at a time. A restored transaction delivered on this path is always an
// error, never a success.
func (c *Coordinator) Purchase(ctx context.Context, productID string, quantity int, userToken string) (string, error) {
	p, ok := c.products.Get(productID)
	if !ok {
		result, err := c.RequestProducts(ctx, []string{productID})
		if err != nil {
			return "", err
		}
		if result.Err != nil {
			return "", errors.Wrap(result.Err, "product lookup failed")
		}

		p = findProduct(result.Products, productID)
		if p == nil {
			return "", &InvalidProductError{ProductID: productID}
		}
	}

	if !c.payments.CanMakePayments() {
		return "", ErrPaymentsNotAllowed
	}
	if p.ID == "" {
		return "", ErrMissingProductID
	}

	c.mu.Lock()
	if f, ok := c.purchases[productID]; ok {
		c.mu.Unlock()
		c.log.Debug("joining pending purchase", zap.String("product_id", productID))
		return awaitPurchase(ctx, f)
	}
	f := &purchaseFlight{done: make(chan struct{})}
	c.purchases[productID] = f
	c.mu.Unlock()

	log := c.log.With(
		zap.String("flight_id", flightID()),
		zap.String("product_id", productID),
		zap.Int("quantity", quantity),
	)
	log.Debug("submitting payment")

	c.payments.SubmitPayment(p, quantity, userToken, func(outcome store.Outcome) {
		// Clear the in-flight entry before any waiter observes the outcome.
		c.mu.Lock()
		delete(c.purchases, productID)
		c.mu.Unlock()

		switch outcome.Kind {
		case store.OutcomePurchased:
			log.Debug("purchase succeeded", zap.String("transaction_id", outcome.TransactionID))
			c.record(outcome)
		case store.OutcomeRestored:
			log.Warn("restore delivered on the purchase path", zap.String("restored_product_id", outcome.ProductID))
		case store.OutcomeFailed:
			log.Warn("purchase failed", zap.Error(outcome.Err))
		}

		f.outcome = outcome
		close(f.done)
	})

	return awaitPurchase(ctx, f)
}

// Restore replays previously completed transactions and partitions them
// into restored product ids and failures, in delivery order. At most one
// restore is in flight process-wide; a concurrent call joins the pending
// restore and receives the same report.
func (c *Coordinator) Restore(ctx context.Context) (*RestoreReport, error) {
	c.mu.Lock()
	if f := c.restore; f != nil {
		c.mu.Unlock()
		c.log.Debug("joining pending restore")
		return awaitRestore(ctx, f)
	}
	f := &restoreFlight{done: make(chan struct{})}
	c.restore = f
	c.mu.Unlock()

	c.restorer.RestoreTransactions(func(outcomes []store.Outcome) {
		report := &RestoreReport{}
		for _, o := range outcomes {
			switch o.Kind {
			case store.OutcomeRestored:
				report.Restored = append(report.Restored, o.ProductID)
				c.record(o)
			case store.OutcomePurchased:
				// A fresh purchase during a restore is an anomaly and is
				// surfaced as a failure.
				report.Failures = append(report.Failures, RestoreFailure{
					ProductID: o.ProductID,
					Err:       &PurchasedWhenRestoringError{ProductID: o.ProductID},
				})
			case store.OutcomeFailed:
				report.Failures = append(report.Failures, RestoreFailure{Err: o.Err})
			}
		}

		c.mu.Lock()
		c.restore = nil
		c.mu.Unlock()

		c.log.Debug("restore completed",
			zap.Int("restored", len(report.Restored)),
			zap.Int("failures", len(report.Failures)),
		)

		f.report = report
		close(f.done)
	})

	return awaitRestore(ctx, f)
}

func (c *Coordinator) onCompleted(outcomes []store.Outcome) {
	for _, o := range outcomes {
		c.record(o)
	}
	c.completed.Publish(outcomes)
}

// record persists a completed transaction to the ledger. Recording is
// best-effort: duplicates are ignored and other failures are logged, never
// surfaced as purchase failures.
func (c *Coordinator) record(o store.Outcome) {
	if c.ledger == nil || o.TransactionID == "" {
		return
	}

	var kind history.Kind
	switch o.Kind {
	case store.OutcomePurchased:
		kind = history.KindPurchase
	case store.OutcomeRestored:
		kind = history.KindRestore
	default:
		return
	}

	quantity := o.Quantity
	if quantity < 1 {
		quantity = 1
	}

	err := c.ledger.CreateEntry(context.Background(), &history.Entry{
		TransactionID: o.TransactionID,
		ProductID:     o.ProductID,
		Kind:          kind,
		Quantity:      quantity,
		CreatedAt:     time.Now(),
	})
	if err != nil && err != history.ErrExists {
		c.log.Warn("failed to record transaction",
			zap.String("transaction_id", o.TransactionID),
			zap.Error(err),
		)
	}
}

// awaitQuery waits for a flight's terminal result. Abandoning the wait via
// ctx never cancels the flight itself; the transport call runs to
// completion for the remaining joiners.
func awaitQuery(ctx context.Context, f *queryFlight) (*store.LookupResult, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func awaitPurchase(ctx context.Context, f *purchaseFlight) (string, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	switch f.outcome.Kind {
	case store.OutcomePurchased:
		return f.outcome.ProductID, nil
	case store.OutcomeRestored:
		return "", &RestoredWhenPurchasingError{ProductID: f.outcome.ProductID}
	case store.OutcomeFailed:
		return "", errors.Wrap(f.outcome.Err, "payment failed")
	default:
		return "", errors.Errorf("unexpected transaction outcome kind %d", f.outcome.Kind)
	}
}

func awaitRestore(ctx context.Context, f *restoreFlight) (*RestoreReport, error) {
	select {
	case <-f.done:
		return f.report, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func findProduct(products []*product.Product, id string) *product.Product {
	for _, p := range products {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func flightID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "unknown"
	}
	return base58.Encode(buf)
}
