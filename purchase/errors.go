package purchase

import (
	"errors"
	"fmt"
)

var (
	// ErrPaymentsNotAllowed is returned when the platform forbids payments
	// entirely.
	ErrPaymentsNotAllowed = errors.New("payments are not allowed on this platform")

	// ErrMissingProductID is returned when a resolved descriptor carries no
	// usable product identifier.
	ErrMissingProductID = errors.New("product has no resolvable identifier")
)

// InvalidProductError reports a product id the store does not recognize.
type InvalidProductError struct {
	ProductID string
}

func (e *InvalidProductError) Error() string {
	return fmt.Sprintf("invalid product id %q", e.ProductID)
}

// RestoredWhenPurchasingError reports that the store resolved a purchase
// submission as a previously-owned entitlement rather than a new purchase.
type RestoredWhenPurchasingError struct {
	ProductID string
}

func (e *RestoredWhenPurchasingError) Error() string {
	return fmt.Sprintf("transaction for product %q was restored while purchasing", e.ProductID)
}

// PurchasedWhenRestoringError reports a fresh purchase delivered by the
// store during a restore.
type PurchasedWhenRestoringError struct {
	ProductID string
}

func (e *PurchasedWhenRestoringError) Error() string {
	return fmt.Sprintf("transaction for product %q was purchased while restoring", e.ProductID)
}
