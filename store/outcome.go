package store

type OutcomeKind uint8

const (
	OutcomeUnknown OutcomeKind = iota
	OutcomePurchased
	OutcomeRestored
	OutcomeFailed
)

// Outcome is a single transaction result delivered by the store's
// asynchronous callbacks.
type Outcome struct {
	Kind          OutcomeKind
	ProductID     string
	TransactionID string
	Quantity      int

	// Err is set when Kind is OutcomeFailed.
	Err error
}

func Purchased(productID, transactionID string, quantity int) Outcome {
	return Outcome{
		Kind:          OutcomePurchased,
		ProductID:     productID,
		TransactionID: transactionID,
		Quantity:      quantity,
	}
}

func Restored(productID, transactionID string) Outcome {
	return Outcome{
		Kind:          OutcomeRestored,
		ProductID:     productID,
		TransactionID: transactionID,
		Quantity:      1,
	}
}

func Failed(err error) Outcome {
	return Outcome{
		Kind: OutcomeFailed,
		Err:  err,
	}
}
