package product

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Product describes a single purchasable item as reported by the
// transactional store. Descriptors are immutable once retrieved.
type Product struct {
	ID          string
	Title       string
	Description string
	Price       decimal.Decimal

	// Currency is the ISO 4217 code the price is denominated in, e.g. "USD".
	Currency string
}

func (p *Product) Clone() *Product {
	return &Product{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Price:       p.Price,
		Currency:    p.Currency,
	}
}

// LocalizedPrice renders the price with its currency symbol for the given
// language tag.
func (p *Product) LocalizedPrice(tag language.Tag) (string, error) {
	unit, err := currency.ParseISO(p.Currency)
	if err != nil {
		return "", err
	}

	printer := message.NewPrinter(tag)
	return printer.Sprintf("%v", currency.Symbol(unit.Amount(p.Price.InexactFloat64()))), nil
}
