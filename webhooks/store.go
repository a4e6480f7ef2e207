package webhooks

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"billing-backend/subscriptions"
)

// MySQLStore implements Store on top of the webhook_events ledger. Dispatch
// and the ledger insert share one transaction, so a crash cannot leave an
// event applied but unrecorded.
type MySQLStore struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

func (s *MySQLStore) HasEvent(ctx context.Context, eventID string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM webhook_events WHERE stripe_event_id = ?`, eventID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

const mysqlErrDuplicateEntry = 1062

func (s *MySQLStore) Apply(ctx context.Context, eventID, eventType string, fn func(SubscriptionStore) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(subscriptions.NewRepository(tx)); err != nil {
		tx.Rollback()
		return err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO webhook_events (stripe_event_id, type, processed) VALUES (?, ?, 1)`, eventID, eventType); err != nil {
		tx.Rollback()
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlErrDuplicateEntry {
			// Lost the race against a concurrent delivery of the same event;
			// the rollback discards our duplicate application.
			log.Info().Str("event_id", eventID).Msg("event recorded by concurrent delivery, skipping")
			return nil
		}
		return err
	}

	return tx.Commit()
}
