package subscriptions

import (
	"context"
	"database/sql"
	"time"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so the repository can take
// part in the webhook store's transactions.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repository struct {
	db DBTX
}

func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

const selectColumns = `id, user_id, stripe_customer_id, IFNULL(stripe_subscription_id,''), price_id, status, current_period_end, cancel_at_period_end`

func (r *Repository) GetByUserID(ctx context.Context, userID string) (*Subscription, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM subscriptions WHERE user_id = ? LIMIT 1`, userID)
	return scanSubscription(row)
}

func (r *Repository) GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*Subscription, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM subscriptions WHERE stripe_subscription_id = ? LIMIT 1`, stripeSubscriptionID)
	return scanSubscription(row)
}

// Upsert creates or replaces the subscription row keyed by user_id.
func (r *Repository) Upsert(ctx context.Context, s *Subscription) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, stripe_customer_id, stripe_subscription_id, price_id, status, current_period_end, cancel_at_period_end)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			stripe_customer_id = VALUES(stripe_customer_id),
			stripe_subscription_id = VALUES(stripe_subscription_id),
			price_id = VALUES(price_id),
			status = VALUES(status),
			current_period_end = VALUES(current_period_end),
			cancel_at_period_end = VALUES(cancel_at_period_end)`,
		s.UserID, s.StripeCustomerID, nullable(s.StripeSubscriptionID), s.PriceID, s.Status, s.CurrentPeriodEnd, s.CancelAtPeriodEnd)
	return err
}

// UpdateByStripeID updates the provider-owned fields of a known subscription.
func (r *Repository) UpdateByStripeID(ctx context.Context, stripeSubscriptionID, priceID, status string, currentPeriodEnd *time.Time, cancelAtPeriodEnd bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET price_id = ?, status = ?, current_period_end = ?, cancel_at_period_end = ?
		WHERE stripe_subscription_id = ?`,
		priceID, status, currentPeriodEnd, cancelAtPeriodEnd, stripeSubscriptionID)
	return err
}

// Cancel forces the terminal state regardless of prior values.
func (r *Repository) Cancel(ctx context.Context, stripeSubscriptionID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = 'canceled', cancel_at_period_end = 0
		WHERE stripe_subscription_id = ?`,
		stripeSubscriptionID)
	return err
}

func scanSubscription(row *sql.Row) (*Subscription, error) {
	var s Subscription
	var periodEnd sql.NullTime
	if err := row.Scan(&s.ID, &s.UserID, &s.StripeCustomerID, &s.StripeSubscriptionID, &s.PriceID, &s.Status, &periodEnd, &s.CancelAtPeriodEnd); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if periodEnd.Valid {
		s.CurrentPeriodEnd = &periodEnd.Time
	}
	return &s, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
