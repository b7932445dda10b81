package store

import (
	"github.com/kioskpay/storekit-server/product"
)

// LookupResult is the terminal result of a product lookup. Err carries the
// transport error, if any; InvalidIDs lists ids the store did not recognize.
type LookupResult struct {
	Products   []*product.Product
	InvalidIDs []string
	Err        error
}

type LookupCallback func(products []*product.Product, invalidIDs []string, err error)

type PaymentCallback func(outcome Outcome)

type OutcomesCallback func(outcomes []Outcome)

// Lookup resolves product ids to descriptors. Each call performs exactly one
// external request and fires the callback once with its terminal result.
type Lookup interface {
	LookupProducts(ids []string, fn LookupCallback)
}

// Payments submits payment requests to the store. The callback receives the
// first outcome the store reports for the submission.
type Payments interface {
	// CanMakePayments reports whether the platform allows payments at all.
	CanMakePayments() bool

	SubmitPayment(p *product.Product, quantity int, userToken string, fn PaymentCallback)
}

// Restorer replays previously completed transactions. The callback receives
// the full outcome list of a single restore request.
type Restorer interface {
	RestoreTransactions(fn OutcomesCallback)
}

// Observer is the process-wide feed of transactions completed by the store
// outside of an explicit purchase or restore call, e.g. purchases initiated
// before this process started.
type Observer interface {
	OnCompletedTransactions(fn OutcomesCallback)
}
