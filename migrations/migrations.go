package migrations

import (
	"database/sql"
	"fmt"
)

var db *sql.DB

// Init sets the DB connection used by Migrate
func Init(database *sql.DB) {
	db = database
}

// Migrate creates required tables if they do not exist. The unique keys on
// users.username, subscriptions.user_id, subscriptions.stripe_subscription_id
// and webhook_events.stripe_event_id are what the application relies on for
// correctness under concurrent duplicate webhook deliveries.
func Migrate() error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	createUsers := `
	CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(36) PRIMARY KEY,
		username VARCHAR(191) NOT NULL UNIQUE,
		password VARCHAR(191) NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createUsers); err != nil {
		return err
	}

	createSubs := `
	CREATE TABLE IF NOT EXISTS subscriptions (
		id INT AUTO_INCREMENT PRIMARY KEY,
		user_id VARCHAR(36) NOT NULL UNIQUE,
		stripe_customer_id VARCHAR(191) NOT NULL DEFAULT '',
		stripe_subscription_id VARCHAR(191) NULL UNIQUE,
		price_id VARCHAR(191) NOT NULL DEFAULT '',
		status VARCHAR(50) NOT NULL DEFAULT '',
		current_period_end DATETIME NULL,
		cancel_at_period_end TINYINT(1) NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createSubs); err != nil {
		return err
	}

	createEvents := `
	CREATE TABLE IF NOT EXISTS webhook_events (
		id INT AUTO_INCREMENT PRIMARY KEY,
		stripe_event_id VARCHAR(191) NOT NULL UNIQUE,
		type VARCHAR(191) NOT NULL,
		processed TINYINT(1) NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createEvents); err != nil {
		return err
	}
	return nil
}
