package webhooks

import (
	"encoding/json"
	"time"

	stripe "github.com/stripe/stripe-go/v78"
)

// Event is the closed set of provider notifications the reconciler knows how
// to apply. Everything else becomes UnknownEvent and is acknowledged without
// touching state.
type Event interface {
	event()
}

// CheckoutCompleted carries the references extracted from a completed
// checkout session. The authoritative subscription state is re-fetched from
// Stripe at dispatch time, not taken from this (potentially stale) payload.
type CheckoutCompleted struct {
	UserID         string
	CustomerID     string
	SubscriptionID string
}

type SubscriptionUpdated struct {
	SubscriptionID    string
	PriceID           string
	Status            string
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
}

type SubscriptionDeleted struct {
	SubscriptionID string
}

type PaymentSucceeded struct {
	InvoiceID string
}

type PaymentFailed struct {
	InvoiceID string
}

type UnknownEvent struct {
	Type string
}

func (CheckoutCompleted) event()   {}
func (SubscriptionUpdated) event() {}
func (SubscriptionDeleted) event() {}
func (PaymentSucceeded) event()    {}
func (PaymentFailed) event()       {}
func (UnknownEvent) event()        {}

// classify turns a verified Stripe event into its typed variant.
func classify(e stripe.Event) (Event, error) {
	switch e.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(e.Data.Raw, &sess); err != nil {
			return nil, err
		}
		ev := CheckoutCompleted{UserID: sess.ClientReferenceID}
		if ev.UserID == "" {
			// client_reference_id and metadata.userId are set redundantly
			// at session creation; accept either.
			ev.UserID = sess.Metadata["userId"]
		}
		if sess.Customer != nil {
			ev.CustomerID = sess.Customer.ID
		}
		if sess.Subscription != nil {
			ev.SubscriptionID = sess.Subscription.ID
		}
		return ev, nil

	case "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(e.Data.Raw, &sub); err != nil {
			return nil, err
		}
		return SubscriptionUpdated{
			SubscriptionID:    sub.ID,
			PriceID:           firstPriceID(&sub),
			Status:            string(sub.Status),
			CurrentPeriodEnd:  periodEnd(&sub),
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		}, nil

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(e.Data.Raw, &sub); err != nil {
			return nil, err
		}
		return SubscriptionDeleted{SubscriptionID: sub.ID}, nil

	case "invoice.payment_succeeded":
		var inv stripe.Invoice
		if err := json.Unmarshal(e.Data.Raw, &inv); err != nil {
			return nil, err
		}
		return PaymentSucceeded{InvoiceID: inv.ID}, nil

	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(e.Data.Raw, &inv); err != nil {
			return nil, err
		}
		return PaymentFailed{InvoiceID: inv.ID}, nil

	default:
		return UnknownEvent{Type: string(e.Type)}, nil
	}
}

func firstPriceID(sub *stripe.Subscription) string {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return ""
	}
	return sub.Items.Data[0].Price.ID
}

func periodEnd(sub *stripe.Subscription) *time.Time {
	if sub.CurrentPeriodEnd == 0 {
		return nil
	}
	t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	return &t
}
