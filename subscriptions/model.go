package subscriptions

import "time"

// Subscription mirrors the state owned by Stripe. One row per user; rows are
// never deleted by the normal flow, cancellation sets status=canceled.
type Subscription struct {
	ID                   int        `json:"id"`
	UserID               string     `json:"user_id"`
	StripeCustomerID     string     `json:"stripe_customer_id"`
	StripeSubscriptionID string     `json:"stripe_subscription_id"`
	PriceID              string     `json:"price_id"`
	Status               string     `json:"status"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end"`
}
