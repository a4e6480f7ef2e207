package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"billing-backend/subscriptions"
)

// ErrInvalidSignature covers both an unverifiable signature and a payload
// that cannot be decoded. No state is touched in either case.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// SubscriptionStore is the mutation surface the reconciler applies events
// through. Satisfied by *subscriptions.Repository.
type SubscriptionStore interface {
	GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*subscriptions.Subscription, error)
	Upsert(ctx context.Context, s *subscriptions.Subscription) error
	UpdateByStripeID(ctx context.Context, stripeSubscriptionID, priceID, status string, currentPeriodEnd *time.Time, cancelAtPeriodEnd bool) error
	Cancel(ctx context.Context, stripeSubscriptionID string) error
}

// SubscriptionRetriever fetches authoritative subscription state from Stripe.
type SubscriptionRetriever interface {
	GetSubscription(id string) (*stripe.Subscription, error)
}

// Store is the idempotency ledger plus the transactional boundary: Apply
// must run fn and the ledger insert atomically, and must absorb a duplicate
// ledger insert (a lost race with a concurrent delivery of the same event)
// as success.
type Store interface {
	HasEvent(ctx context.Context, eventID string) (bool, error)
	Apply(ctx context.Context, eventID, eventType string, fn func(SubscriptionStore) error) error
}

type Service struct {
	secret string
	stripe SubscriptionRetriever
	store  Store

	// verify is webhook.ConstructEvent in production; injectable for tests.
	verify func(payload []byte, header, secret string) (stripe.Event, error)
}

func NewService(webhookSecret string, stripe SubscriptionRetriever, store Store) *Service {
	return &Service{
		secret: webhookSecret,
		stripe: stripe,
		store:  store,
		verify: webhook.ConstructEvent,
	}
}

// HandleEvent runs the full reconciliation sequence for one delivery:
// verify, classify, dedupe, dispatch, record. Redelivery of an event id that
// was already processed is acknowledged without dispatching again.
func (s *Service) HandleEvent(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := s.verify(payload, sigHeader, s.secret)
	if err != nil {
		log.Error().Err(err).Msg("webhook signature verification failed")
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	ev, err := classify(event)
	if err != nil {
		log.Error().Err(err).Str("event_id", event.ID).Str("type", string(event.Type)).Msg("malformed event payload")
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	seen, err := s.store.HasEvent(ctx, event.ID)
	if err != nil {
		return err
	}
	if seen {
		log.Info().Str("event_id", event.ID).Msg("event already processed, skipping")
		return nil
	}

	if err := s.store.Apply(ctx, event.ID, string(event.Type), func(subs SubscriptionStore) error {
		return s.dispatch(ctx, ev, subs)
	}); err != nil {
		log.Error().Err(err).Str("event_id", event.ID).Msg("error processing event")
		return err
	}
	return nil
}

func (s *Service) dispatch(ctx context.Context, ev Event, subs SubscriptionStore) error {
	switch ev := ev.(type) {
	case CheckoutCompleted:
		return s.applyCheckoutCompleted(ctx, ev, subs)
	case SubscriptionUpdated:
		return s.applySubscriptionUpdated(ctx, ev, subs)
	case SubscriptionDeleted:
		return s.applySubscriptionDeleted(ctx, ev, subs)
	case PaymentSucceeded:
		log.Info().Str("invoice_id", ev.InvoiceID).Msg("payment succeeded")
		return nil
	case PaymentFailed:
		log.Warn().Str("invoice_id", ev.InvoiceID).Msg("payment failed")
		return nil
	case UnknownEvent:
		log.Info().Str("type", ev.Type).Msg("unhandled event type")
		return nil
	default:
		return fmt.Errorf("unreachable event variant %T", ev)
	}
}

func (s *Service) applyCheckoutCompleted(ctx context.Context, ev CheckoutCompleted, subs SubscriptionStore) error {
	if ev.UserID == "" {
		// Recorded as processed anyway so the provider doesn't keep
		// redelivering an event we can never attribute to a user.
		log.Error().Msg("checkout session missing client_reference_id")
		return nil
	}

	// Fetch the full subscription from Stripe rather than trusting the
	// checkout payload, which may already be stale.
	sub, err := s.stripe.GetSubscription(ev.SubscriptionID)
	if err != nil {
		return err
	}

	if err := subs.Upsert(ctx, &subscriptions.Subscription{
		UserID:               ev.UserID,
		StripeCustomerID:     ev.CustomerID,
		StripeSubscriptionID: sub.ID,
		PriceID:              firstPriceID(sub),
		Status:               string(sub.Status),
		CurrentPeriodEnd:     periodEnd(sub),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
	}); err != nil {
		return err
	}
	log.Info().Str("user_id", ev.UserID).Str("subscription_id", sub.ID).Msg("subscription created")
	return nil
}

func (s *Service) applySubscriptionUpdated(ctx context.Context, ev SubscriptionUpdated, subs SubscriptionStore) error {
	existing, err := subs.GetByStripeID(ctx, ev.SubscriptionID)
	if err != nil {
		return err
	}
	if existing == nil {
		// Updates only apply to known subscriptions; not the provider's
		// fault, so don't make it retry.
		log.Warn().Str("subscription_id", ev.SubscriptionID).Msg("subscription not found in database")
		return nil
	}

	if err := subs.UpdateByStripeID(ctx, ev.SubscriptionID, ev.PriceID, ev.Status, ev.CurrentPeriodEnd, ev.CancelAtPeriodEnd); err != nil {
		return err
	}
	log.Info().Str("subscription_id", ev.SubscriptionID).Str("status", ev.Status).Msg("subscription updated")
	return nil
}

func (s *Service) applySubscriptionDeleted(ctx context.Context, ev SubscriptionDeleted, subs SubscriptionStore) error {
	existing, err := subs.GetByStripeID(ctx, ev.SubscriptionID)
	if err != nil {
		return err
	}
	if existing == nil {
		log.Warn().Str("subscription_id", ev.SubscriptionID).Msg("subscription not found in database")
		return nil
	}

	if err := subs.Cancel(ctx, ev.SubscriptionID); err != nil {
		return err
	}
	log.Info().Str("subscription_id", ev.SubscriptionID).Msg("subscription canceled")
	return nil
}
