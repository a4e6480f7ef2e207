package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v78"

	"billing-backend/login"
	"billing-backend/subscriptions"
)

var (
	ErrInvalidPlan    = errors.New("invalid plan")
	ErrUserNotFound   = errors.New("user not found")
	ErrNoSubscription = errors.New("no subscription found for this user")
)

// activeStatuses are the Stripe lifecycle states projected as "active".
var activeStatuses = map[string]bool{
	"active":   true,
	"trialing": true,
}

// StripeClient is the slice of the Stripe API the billing service needs.
type StripeClient interface {
	CreateCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	CreatePortalSession(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
}

type SubscriptionStore interface {
	GetByUserID(ctx context.Context, userID string) (*subscriptions.Subscription, error)
}

type UserStore interface {
	GetByID(ctx context.Context, id string) (*login.User, error)
}

type Service struct {
	plans   *Plans
	users   UserStore
	subs    SubscriptionStore
	stripe  StripeClient
	baseURL string
}

func NewService(plans *Plans, users UserStore, subs SubscriptionStore, stripe StripeClient, baseURL string) *Service {
	return &Service{plans: plans, users: users, subs: subs, stripe: stripe, baseURL: baseURL}
}

// CreateCheckoutSession asks Stripe for a hosted checkout page and returns
// its URL. Nothing is persisted here; the webhook materializes the result.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID, planID string) (string, error) {
	priceID, ok := s.plans.PriceID(planID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrInvalidPlan, planID)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", ErrUserNotFound
	}

	sub, err := s.subs.GetByUserID(ctx, userID)
	if err != nil {
		return "", err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(priceID),
			Quantity: stripe.Int64(1),
		}},
		SuccessURL:        stripe.String(s.baseURL + "/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(s.baseURL + "/cancelled"),
		ClientReferenceID: stripe.String(userID),
		// Redundant with client_reference_id; the webhook may read either.
		Metadata: map[string]string{"userId": userID},
	}
	// Reuse the Stripe customer so repeat checkouts don't create duplicates.
	if sub != nil && sub.StripeCustomerID != "" {
		params.Customer = stripe.String(sub.StripeCustomerID)
	}

	sess, err := s.stripe.CreateCheckoutSession(params)
	if err != nil {
		return "", err
	}
	return sess.URL, nil
}

// CreatePortalSession returns the URL of a Stripe-hosted self-service page.
func (s *Service) CreatePortalSession(ctx context.Context, userID string) (string, error) {
	sub, err := s.subs.GetByUserID(ctx, userID)
	if err != nil {
		return "", err
	}
	if sub == nil || sub.StripeCustomerID == "" {
		return "", ErrNoSubscription
	}

	sess, err := s.stripe.CreatePortalSession(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(sub.StripeCustomerID),
		ReturnURL: stripe.String(s.baseURL + "/account"),
	})
	if err != nil {
		return "", err
	}
	return sess.URL, nil
}

type SubscriptionView struct {
	Plan              *string    `json:"plan"`
	PriceID           string     `json:"priceId"`
	StripeStatus      string     `json:"stripeStatus"`
	CurrentPeriodEnd  *time.Time `json:"currentPeriodEnd"`
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd"`
}

type SubscriptionStatus struct {
	Status       string            `json:"status"`
	Subscription *SubscriptionView `json:"subscription,omitempty"`
}

// GetSubscription is a pure projection of the stored row.
func (s *Service) GetSubscription(ctx context.Context, userID string) (*SubscriptionStatus, error) {
	sub, err := s.subs.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil || sub.StripeSubscriptionID == "" {
		return &SubscriptionStatus{Status: "none"}, nil
	}

	status := "inactive"
	if activeStatuses[sub.Status] {
		status = "active"
	}

	var plan *string
	if name := s.plans.NameByPriceID(sub.PriceID); name != "" {
		plan = &name
	}

	return &SubscriptionStatus{
		Status: status,
		Subscription: &SubscriptionView{
			Plan:              plan,
			PriceID:           sub.PriceID,
			StripeStatus:      sub.Status,
			CurrentPeriodEnd:  sub.CurrentPeriodEnd,
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		},
	}, nil
}
