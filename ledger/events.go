package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// PaymentEventWriter is the write side ApartmentEventCreator needs.
type PaymentEventWriter interface {
	ApartmentReader
	SavePayments(ctx context.Context, payments []Payment) error
}

// ApartmentEventCreator creates one pending income payment per apartment
// for a payment-event category. All payments for a category are saved in
// one batch so a failure leaves nothing half-created.
//
// Unforced events get the ID EventPaymentID(category, month, apartment), so
// a second batch for the same month fails with ErrDuplicateRecord no matter
// which process wrote the first one. Forced events append NewID() to it.
type ApartmentEventCreator struct {
	Store PaymentEventWriter
	Clock Clock

	// NewID generates the suffix of forced event IDs. Defaults to random UUIDs.
	NewID func() string
}

func NewApartmentEventCreator(store PaymentEventWriter, clock Clock) *ApartmentEventCreator {
	return &ApartmentEventCreator{Store: store, Clock: clock}
}

// EventReason is the reason stamped on generated payments. The scheduler's
// duplicate guard matches on the category name it contains.
func EventReason(category Category, month MonthYear) string {
	return fmt.Sprintf("%s - %s", category.Name, month)
}

// EventPaymentID is the ID of the generated payment for one apartment,
// category and month.
func EventPaymentID(category CategoryID, month MonthYear, apartment ApartmentID) PaymentID {
	return PaymentID(fmt.Sprintf("%s-%s-%s", category, month, apartment))
}

func (c *ApartmentEventCreator) CreatePaymentEvents(ctx context.Context, category Category, month MonthYear, force bool) (int, error) {
	if !category.MonthlyAmount.Valid {
		return 0, fmt.Errorf("category %s has no monthly amount", category.ID)
	}
	apartments, err := c.Store.ListApartments(ctx)
	if err != nil {
		return 0, fmt.Errorf("list apartments: %w", err)
	}
	if len(apartments) == 0 {
		return 0, nil
	}

	newID := c.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	clock := c.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	now := clock.Now()

	payments := make([]Payment, 0, len(apartments))
	for _, apt := range apartments {
		id := EventPaymentID(category.ID, month, apt.ID)
		if force {
			id += PaymentID("-" + newID())
		}
		payments = append(payments, Payment{
			ID:          id,
			PayerID:     string(apt.ID),
			ApartmentID: apt.ID,
			Amount:      category.MonthlyAmount.Decimal,
			Status:      StatusPending,
			Category:    CategoryIncome,
			MonthYear:   month,
			Reason:      EventReason(category, month),
			CreatedAt:   now,
		})
	}

	if err := c.Store.SavePayments(ctx, payments); err != nil {
		return 0, fmt.Errorf("save payment events: %w", err)
	}
	return len(payments), nil
}
