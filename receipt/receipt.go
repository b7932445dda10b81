package receipt

import (
	"errors"
	"sort"
	"time"
)

// ErrMissingDuration is returned when a subscription record carries no
// expiration date and the caller supplied no duration. It signals a caller
// error, never a verification result.
var ErrMissingDuration = errors.New("subscription duration required for products without an expiration date")

// Record is one entry of a decoded, validated receipt's purchase history.
// Records are never mutated by verification.
type Record struct {
	ProductID        string
	Quantity         int
	PurchaseDate     time.Time
	ExpirationDate   *time.Time
	CancellationDate *time.Time
}

type PurchaseState uint8

const (
	PurchaseStateNotPurchased PurchaseState = iota
	PurchaseStatePurchased
)

type PurchaseVerification struct {
	State PurchaseState

	// Item is the matching record when purchased. For consumables bought
	// repeatedly, the most recent purchase is authoritative.
	Item *Record
}

// VerifyPurchase reports whether the receipt contains a purchase of
// productID. When multiple entries match, the one with the latest purchase
// date wins; on an exact date tie the earliest-listed entry wins.
func VerifyPurchase(productID string, records []Record) PurchaseVerification {
	var match *Record
	for i := range records {
		r := &records[i]
		if r.ProductID != productID {
			continue
		}
		if match == nil || r.PurchaseDate.After(match.PurchaseDate) {
			match = r
		}
	}

	if match == nil {
		return PurchaseVerification{State: PurchaseStateNotPurchased}
	}

	item := *match
	return PurchaseVerification{
		State: PurchaseStatePurchased,
		Item:  &item,
	}
}

type SubscriptionState uint8

const (
	SubscriptionNotPurchased SubscriptionState = iota
	SubscriptionPurchased
	SubscriptionExpired
)

type SubscriptionVerification struct {
	State SubscriptionState

	// ExpiresAt is set unless State is SubscriptionNotPurchased.
	ExpiresAt time.Time

	// Item is the reference record the verdict was derived from.
	Item *Record
}

// VerifySubscription reports whether a subscription to productID is active
// as of asOf. Auto-renewable subscriptions carry an explicit expiration date
// on their records; non-renewing subscriptions expire duration after
// purchase, and duration must be positive for them. Records cancelled at or
// before asOf are ignored.
func VerifySubscription(productID string, records []Record, asOf time.Time, duration time.Duration) (SubscriptionVerification, error) {
	var matches []Record
	for _, r := range records {
		if r.ProductID != productID {
			continue
		}
		if r.CancellationDate != nil && !r.CancellationDate.After(asOf) {
			continue
		}
		matches = append(matches, r)
	}

	if len(matches) == 0 {
		return SubscriptionVerification{State: SubscriptionNotPurchased}, nil
	}

	// Most recent purchase first. On equal purchase dates, prefer the entry
	// with the later (or present) expiration date.
	sort.SliceStable(matches, func(i, j int) bool {
		if !matches[i].PurchaseDate.Equal(matches[j].PurchaseDate) {
			return matches[i].PurchaseDate.After(matches[j].PurchaseDate)
		}
		return expiresLater(&matches[i], &matches[j])
	})

	ref := matches[0]

	var expiry time.Time
	if ref.ExpirationDate != nil {
		expiry = *ref.ExpirationDate
	} else {
		if duration <= 0 {
			return SubscriptionVerification{}, ErrMissingDuration
		}
		expiry = ref.PurchaseDate.Add(duration)
	}

	state := SubscriptionExpired
	if asOf.Before(expiry) {
		state = SubscriptionPurchased
	}

	return SubscriptionVerification{
		State:     state,
		ExpiresAt: expiry,
		Item:      &ref,
	}, nil
}

func expiresLater(a, b *Record) bool {
	switch {
	case a.ExpirationDate == nil:
		return false
	case b.ExpirationDate == nil:
		return true
	default:
		return a.ExpirationDate.After(*b.ExpirationDate)
	}
}
