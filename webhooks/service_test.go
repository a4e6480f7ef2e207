package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v78"

	"billing-backend/subscriptions"
)

type updateCall struct {
	subscriptionID    string
	priceID           string
	status            string
	currentPeriodEnd  *time.Time
	cancelAtPeriodEnd bool
}

type fakeSubStore struct {
	byStripeID map[string]*subscriptions.Subscription
	upserts    []*subscriptions.Subscription
	updates    []updateCall
	cancels    []string
}

func newFakeSubStore() *fakeSubStore {
	return &fakeSubStore{byStripeID: map[string]*subscriptions.Subscription{}}
}

func (f *fakeSubStore) GetByStripeID(ctx context.Context, id string) (*subscriptions.Subscription, error) {
	return f.byStripeID[id], nil
}

func (f *fakeSubStore) Upsert(ctx context.Context, s *subscriptions.Subscription) error {
	f.upserts = append(f.upserts, s)
	f.byStripeID[s.StripeSubscriptionID] = s
	return nil
}

func (f *fakeSubStore) UpdateByStripeID(ctx context.Context, id, priceID, status string, periodEnd *time.Time, cancel bool) error {
	f.updates = append(f.updates, updateCall{id, priceID, status, periodEnd, cancel})
	return nil
}

func (f *fakeSubStore) Cancel(ctx context.Context, id string) error {
	f.cancels = append(f.cancels, id)
	return nil
}

// fakeStore mimics the MySQL store: Apply records the event only when
// dispatch succeeds, and recordRace simulates losing the ledger-insert race
// (absorbed as success, mutations discarded).
type fakeStore struct {
	events     map[string]string
	subs       *fakeSubStore
	applied    int
	recordRace bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{events: map[string]string{}, subs: newFakeSubStore()}
}

func (f *fakeStore) HasEvent(ctx context.Context, eventID string) (bool, error) {
	_, ok := f.events[eventID]
	return ok, nil
}

func (f *fakeStore) Apply(ctx context.Context, eventID, eventType string, fn func(SubscriptionStore) error) error {
	f.applied++
	if err := fn(f.subs); err != nil {
		return err
	}
	if f.recordRace {
		return nil
	}
	f.events[eventID] = eventType
	return nil
}

type fakeRetriever struct {
	sub   *stripe.Subscription
	err   error
	calls int
}

func (f *fakeRetriever) GetSubscription(id string) (*stripe.Subscription, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.sub, nil
}

func activeStripeSub() *stripe.Subscription {
	return &stripe.Subscription{
		ID:                "sub_123",
		Status:            "active",
		CurrentPeriodEnd:  1740000000,
		CancelAtPeriodEnd: false,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{Price: &stripe.Price{ID: "price_basic"}}},
		},
	}
}

func stubEvent(id, typ, object string) stripe.Event {
	return stripe.Event{
		ID:   id,
		Type: stripe.EventType(typ),
		Data: &stripe.EventData{Raw: json.RawMessage(object)},
	}
}

// newTestService wires a Service whose verify step yields the given event.
func newTestService(retr *fakeRetriever, store *fakeStore, ev stripe.Event, verifyErr error) *Service {
	svc := NewService("whsec_test", retr, store)
	svc.verify = func(payload []byte, header, secret string) (stripe.Event, error) {
		if verifyErr != nil {
			return stripe.Event{}, verifyErr
		}
		return ev, nil
	}
	return svc
}

func TestHandleEvent_invalidSignature(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(&fakeRetriever{}, store, stripe.Event{}, errors.New("no valid signature"))

	err := svc.HandleEvent(context.Background(), []byte("body"), "bad_sig")
	require.ErrorIs(t, err, ErrInvalidSignature)
	assert.Zero(t, store.applied, "no state may be touched on signature failure")
}

func TestHandleEvent_malformedPayload(t *testing.T) {
	store := newFakeStore()
	ev := stubEvent("evt_bad", "customer.subscription.updated", `{"id":`)
	svc := newTestService(&fakeRetriever{}, store, ev, nil)

	err := svc.HandleEvent(context.Background(), []byte("body"), "sig")
	require.ErrorIs(t, err, ErrInvalidSignature)
	assert.Zero(t, store.applied)
}

func TestHandleEvent_skipsAlreadyProcessed(t *testing.T) {
	store := newFakeStore()
	store.events["evt_123"] = "checkout.session.completed"
	retr := &fakeRetriever{sub: activeStripeSub()}
	ev := stubEvent("evt_123", "checkout.session.completed", `{"client_reference_id":"user-1","customer":"cus_123","subscription":"sub_123"}`)
	svc := newTestService(retr, store, ev, nil)

	err := svc.HandleEvent(context.Background(), []byte("body"), "sig")
	require.NoError(t, err, "redelivery must be acknowledged as success")
	assert.Zero(t, store.applied, "dispatch must not run again")
	assert.Zero(t, retr.calls)
	assert.Empty(t, store.subs.upserts)
}

func TestHandleEvent_checkoutCompletedUpsertsSubscription(t *testing.T) {
	store := newFakeStore()
	retr := &fakeRetriever{sub: activeStripeSub()}
	ev := stubEvent("evt_new", "checkout.session.completed", `{"client_reference_id":"user-1","customer":"cus_123","subscription":"sub_123"}`)
	svc := newTestService(retr, store, ev, nil)

	err := svc.HandleEvent(context.Background(), []byte("body"), "sig")
	require.NoError(t, err)

	require.Len(t, store.subs.upserts, 1)
	got := store.subs.upserts[0]
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "cus_123", got.StripeCustomerID)
	assert.Equal(t, "sub_123", got.StripeSubscriptionID)
	assert.Equal(t, "price_basic", got.PriceID)
	assert.Equal(t, "active", got.Status)
	assert.False(t, got.CancelAtPeriodEnd)
	require.NotNil(t, got.CurrentPeriodEnd)
	assert.True(t, got.CurrentPeriodEnd.Equal(time.Unix(1740000000, 0)))

	assert.Equal(t, 1, retr.calls, "subscription detail must come from Stripe, not the checkout payload")
	assert.Equal(t, "checkout.session.completed", store.events["evt_new"])
}

func TestHandleEvent_checkoutCompletedMissingReference(t *testing.T) {
	store := newFakeStore()
	retr := &fakeRetriever{sub: activeStripeSub()}
	ev := stubEvent("evt_orphan", "checkout.session.completed", `{"subscription":"sub_123","customer":"cus_123"}`)
	svc := newTestService(retr, store, ev, nil)

	err := svc.HandleEvent(context.Background(), []byte("body"), "sig")
	require.NoError(t, err, "missing reference is logged and skipped, not failed")
	assert.Empty(t, store.subs.upserts)
	assert.Zero(t, retr.calls)
	// Still recorded so redeliveries don't spin.
	assert.Contains(t, store.events, "evt_orphan")
}

func TestHandleEvent_checkoutCompletedMetadataFallback(t *testing.T) {
	store := newFakeStore()
	retr := &fakeRetriever{sub: activeStripeSub()}
	ev := stubEvent("evt_meta", "checkout.session.completed", `{"metadata":{"userId":"user-9"},"customer":"cus_123","subscription":"sub_123"}`)
	svc := newTestService(retr, store, ev, nil)

	err := svc.HandleEvent(context.Background(), []byte("body"), "sig")
	require.NoError(t, err)
	require.Len(t, store.subs.upserts, 1)
	assert.Equal(t, "user-9", store.subs.upserts[0].UserID)
}

func TestHandleEvent_subscriptionUpdated(t *testing.T) {
	store := newFakeStore()
	store.subs.byStripeID["sub_123"] = &subscriptions.Subscription{UserID: "user-1", StripeSubscriptionID: "sub_123"}
	ev := stubEvent("evt_upd", "customer.subscription.updated",
		`{"id":"sub_123","status":"past_due","cancel_at_period_end":true,"current_period_end":1740000000,"items":{"data":[{"price":{"id":"price_pro"}}]}}`)
	svc := newTestService(&fakeRetriever{}, store, ev, nil)

	err := svc.HandleEvent(context.Background(), []byte("body"), "sig")
	require.NoError(t, err)

	require.Len(t, store.subs.updates, 1)
	got := store.subs.updates[0]
	assert.Equal(t, "sub_123", got.subscriptionID)
	assert.Equal(t, "price_pro", got.priceID)
	assert.Equal(t, "past_due", got.status)
	assert.True(t, got.cancelAtPeriodEnd)
	require.NotNil(t, got.currentPeriodEnd)
	assert.True(t, got.currentPeriodEnd.Equal(time.Unix(1740000000, 0)))
}

func TestHandleEvent_subscriptionUpdatedUnknown(t *testing.T) {
	store := newFakeStore()
	ev := stubEvent("evt_upd2", "customer.subscription.updated",
		`{"id":"sub_missing","status":"active","items":{"data":[{"price":{"id":"price_basic"}}]}}`)
	svc := newTestService(&fakeRetriever{}, store, ev, nil)

	err := svc.HandleEvent(context.Background(), []byte("body"), "sig")
	require.NoError(t, err, "unknown subscription is logged and swallowed")
	assert.Empty(t, store.subs.updates, "updates never create subscriptions")
	assert.Contains(t, store.events, "evt_upd2")
}

func TestHandleEvent_subscriptionDeleted(t *testing.T) {
	store := newFakeStore()
	store.subs.byStripeID["sub_123"] = &subscriptions.Subscription{UserID: "user-1", StripeSubscriptionID: "sub_123", Status: "active"}
	// Incoming cancel flag is irrelevant; deletion forces the terminal state.
	ev := stubEvent("evt_del", "customer.subscription.deleted",
		`{"id":"sub_123","status":"canceled","cancel_at_period_end":true}`)
	svc := newTestService(&fakeRetriever{}, store, ev, nil)

	err := svc.HandleEvent(context.Background(), []byte("body"), "sig")
	require.NoError(t, err)
	assert.Equal(t, []string{"sub_123"}, store.subs.cancels)
}

func TestHandleEvent_paymentEventsLogOnly(t *testing.T) {
	for _, typ := range []string{"invoice.payment_succeeded", "invoice.payment_failed"} {
		store := newFakeStore()
		ev := stubEvent("evt_inv", typ, `{"id":"in_123"}`)
		svc := newTestService(&fakeRetriever{}, store, ev, nil)

		err := svc.HandleEvent(context.Background(), []byte("body"), "sig")
		require.NoError(t, err)
		assert.Empty(t, store.subs.upserts)
		assert.Empty(t, store.subs.updates)
		assert.Equal(t, typ, store.events["evt_inv"])
	}
}

func TestHandleEvent_unknownTypeAcknowledged(t *testing.T) {
	store := newFakeStore()
	ev := stubEvent("evt_other", "customer.created", `{"id":"cus_123"}`)
	svc := newTestService(&fakeRetriever{}, store, ev, nil)

	err := svc.HandleEvent(context.Background(), []byte("body"), "sig")
	require.NoError(t, err)
	assert.Equal(t, "customer.created", store.events["evt_other"])
}

func TestHandleEvent_dispatchErrorNotRecorded(t *testing.T) {
	store := newFakeStore()
	retr := &fakeRetriever{err: errors.New("stripe unavailable")}
	ev := stubEvent("evt_fail", "checkout.session.completed", `{"client_reference_id":"user-1","subscription":"sub_123"}`)
	svc := newTestService(retr, store, ev, nil)

	err := svc.HandleEvent(context.Background(), []byte("body"), "sig")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidSignature)
	assert.NotContains(t, store.events, "evt_fail", "failed dispatch must stay unrecorded so Stripe retries")
}

func TestHandleEvent_recordRaceTreatedAsProcessed(t *testing.T) {
	store := newFakeStore()
	store.recordRace = true
	retr := &fakeRetriever{sub: activeStripeSub()}
	ev := stubEvent("evt_race", "checkout.session.completed", `{"client_reference_id":"user-1","customer":"cus_123","subscription":"sub_123"}`)
	svc := newTestService(retr, store, ev, nil)

	err := svc.HandleEvent(context.Background(), []byte("body"), "sig")
	require.NoError(t, err, "losing the ledger race must not surface as a retryable error")
}
