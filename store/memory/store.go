package memory

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/kioskpay/storekit-server/product"
	"github.com/kioskpay/storekit-server/store"
)

// Store simulates the transactional store with asynchronous callback
// delivery. It implements store.Lookup, store.Payments, store.Restorer and
// store.Observer, and is used by tests and the demo binary.
type Store struct {
	mu              sync.Mutex
	catalog         map[string]*product.Product
	paymentsEnabled bool
	latency         time.Duration
	lookupErr       error

	paymentScript map[string]store.Outcome
	restoreScript []store.Outcome

	completed []store.OutcomesCallback

	lookupCalls  int64
	paymentCalls int64
	restoreCalls int64
}

func NewInMemory() *Store {
	return &Store{
		catalog:         map[string]*product.Product{},
		paymentsEnabled: true,
		latency:         time.Millisecond,
		paymentScript:   map[string]store.Outcome{},
	}
}

func (s *Store) AddProduct(p *product.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.catalog[p.ID] = p.Clone()
}

func (s *Store) SetPaymentsEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.paymentsEnabled = enabled
}

func (s *Store) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latency = d
}

func (s *Store) SetLookupError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lookupErr = err
}

// ScriptPaymentOutcome overrides the outcome delivered for payment
// submissions of the given product id.
func (s *Store) ScriptPaymentOutcome(productID string, outcome store.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.paymentScript[productID] = outcome
}

// ScriptRestoreOutcomes sets the outcome list delivered by restore requests.
func (s *Store) ScriptRestoreOutcomes(outcomes ...store.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.restoreScript = outcomes
}

func (s *Store) LookupCalls() int64 {
	return atomic.LoadInt64(&s.lookupCalls)
}

func (s *Store) PaymentCalls() int64 {
	return atomic.LoadInt64(&s.paymentCalls)
}

func (s *Store) RestoreCalls() int64 {
	return atomic.LoadInt64(&s.restoreCalls)
}

func (s *Store) LookupProducts(ids []string, fn store.LookupCallback) {
	atomic.AddInt64(&s.lookupCalls, 1)

	go func() {
		s.mu.Lock()
		latency := s.latency
		lookupErr := s.lookupErr

		var products []*product.Product
		var invalidIDs []string
		for _, id := range ids {
			if p, ok := s.catalog[id]; ok {
				products = append(products, p.Clone())
			} else {
				invalidIDs = append(invalidIDs, id)
			}
		}
		s.mu.Unlock()

		time.Sleep(latency)

		if lookupErr != nil {
			fn(nil, nil, lookupErr)
			return
		}

		log.WithFields(log.Fields{
			"requested": len(ids),
			"invalid":   len(invalidIDs),
		}).Debug("lookup resolved")

		fn(products, invalidIDs, nil)
	}()
}

func (s *Store) CanMakePayments() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.paymentsEnabled
}

func (s *Store) SubmitPayment(p *product.Product, quantity int, userToken string, fn store.PaymentCallback) {
	atomic.AddInt64(&s.paymentCalls, 1)

	s.mu.Lock()
	latency := s.latency
	outcome, scripted := s.paymentScript[p.ID]
	s.mu.Unlock()

	if !scripted {
		outcome = store.Purchased(p.ID, uuid.NewString(), quantity)
	} else {
		if outcome.ProductID == "" && outcome.Kind != store.OutcomeFailed {
			outcome.ProductID = p.ID
		}
		if outcome.TransactionID == "" && outcome.Kind != store.OutcomeFailed {
			outcome.TransactionID = uuid.NewString()
		}
	}

	go func() {
		time.Sleep(latency)

		log.WithFields(log.Fields{
			"product_id": p.ID,
			"user":       userToken,
		}).Debug("payment resolved")

		fn(outcome)
	}()
}

func (s *Store) RestoreTransactions(fn store.OutcomesCallback) {
	atomic.AddInt64(&s.restoreCalls, 1)

	s.mu.Lock()
	latency := s.latency
	outcomes := make([]store.Outcome, len(s.restoreScript))
	copy(outcomes, s.restoreScript)
	s.mu.Unlock()

	go func() {
		time.Sleep(latency)
		fn(outcomes)
	}()
}

func (s *Store) OnCompletedTransactions(fn store.OutcomesCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.completed = append(s.completed, fn)
}

// DeliverCompleted pushes outcomes to every registered completed-transaction
// callback, simulating transactions finished outside an explicit request.
func (s *Store) DeliverCompleted(outcomes ...store.Outcome) {
	s.mu.Lock()
	callbacks := make([]store.OutcomesCallback, len(s.completed))
	copy(callbacks, s.completed)
	s.mu.Unlock()

	for _, fn := range callbacks {
		go fn(outcomes)
	}
}
