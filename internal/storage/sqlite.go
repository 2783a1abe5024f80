package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"crypto-price-alerts/internal/apperr"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// timestamps are stored as fixed-width UTC text so they sort lexically
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

const (
	sqliteAlertColumns = `id, user_id, coin, coin_name, target_price, current_price, triggered, triggered_at, created_at`

	sqliteInsertAlertSQL = `INSERT INTO alerts (id, user_id, coin, coin_name, target_price, current_price, triggered, created_at)
    VALUES (?, ?, ?, ?, ?, ?, 0, ?);`

	sqliteListAlertsSQL = `SELECT ` + sqliteAlertColumns + `
    FROM alerts
    WHERE user_id = ?
    ORDER BY created_at DESC, rowid DESC;`

	sqliteListActiveAlertsSQL = `SELECT ` + sqliteAlertColumns + `
    FROM alerts
    WHERE user_id = ? AND triggered = 0
    ORDER BY created_at DESC, rowid DESC;`

	sqliteDeleteAlertSQL     = `DELETE FROM alerts WHERE id = ? AND user_id = ?;`
	sqliteMarkTriggeredSQL   = `UPDATE alerts SET triggered = 1, triggered_at = ? WHERE id = ? AND user_id = ?;`
	sqliteUpdateLastPriceSQL = `UPDATE alerts SET current_price = ? WHERE id = ? AND user_id = ?;`
)

// SQLiteStore keeps alerts in a local SQLite database file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// a single writer avoids SQLITE_BUSY between the poll loop and CLI calls
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureSchema creates the alerts table and its owner index.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(sqliteSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return apperr.Store("ensure schema", err)
		}
	}
	return nil
}

// CreateAlert inserts a new untriggered alert with a random id.
func (s *SQLiteStore) CreateAlert(ctx context.Context, input NewAlert) (Alert, error) {
	input, err := input.Normalize()
	if err != nil {
		return Alert{}, err
	}

	alert := Alert{
		ID:           uuid.NewString(),
		UserID:       input.UserID,
		Coin:         input.Coin,
		CoinName:     input.CoinName,
		TargetPrice:  input.TargetPrice,
		CurrentPrice: input.CurrentPrice,
		CreatedAt:    s.now().UTC(),
	}

	var current any
	if input.CurrentPrice != nil {
		current = input.CurrentPrice.String()
	}

	if _, err := s.db.ExecContext(ctx, sqliteInsertAlertSQL,
		alert.ID,
		alert.UserID,
		alert.Coin,
		alert.CoinName,
		alert.TargetPrice.String(),
		current,
		alert.CreatedAt.Format(sqliteTimeLayout),
	); err != nil {
		return Alert{}, apperr.Store("create alert", err)
	}
	return alert, nil
}

// ListAlerts lists all alerts of owner, newest first.
func (s *SQLiteStore) ListAlerts(ctx context.Context, owner string) ([]Alert, error) {
	return s.queryAlerts(ctx, "list alerts", sqliteListAlertsSQL, owner)
}

// ListActiveAlerts lists the untriggered alerts of owner, newest first.
func (s *SQLiteStore) ListActiveAlerts(ctx context.Context, owner string) ([]Alert, error) {
	return s.queryAlerts(ctx, "list active alerts", sqliteListActiveAlertsSQL, owner)
}

func (s *SQLiteStore) queryAlerts(ctx context.Context, op, query, owner string) ([]Alert, error) {
	rows, err := s.db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, apperr.Store(op, err)
	}
	defer rows.Close()

	alerts := make([]Alert, 0)
	for rows.Next() {
		alert, scanErr := scanSQLiteAlert(rows)
		if scanErr != nil {
			return nil, apperr.Store(op, scanErr)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Store(op, err)
	}
	return alerts, nil
}

// DeleteAlert removes an alert held by owner.
func (s *SQLiteStore) DeleteAlert(ctx context.Context, id, owner string) error {
	_, err := s.db.ExecContext(ctx, sqliteDeleteAlertSQL, id, owner)
	return apperr.Store("delete alert", err)
}

// UpdateTriggered flips an alert to triggered.
func (s *SQLiteStore) UpdateTriggered(ctx context.Context, id, owner string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, sqliteMarkTriggeredSQL, at.UTC().Format(sqliteTimeLayout), id, owner)
	return apperr.Store("update triggered", err)
}

// UpdateLastPrice records the latest observed price of an alert's coin.
func (s *SQLiteStore) UpdateLastPrice(ctx context.Context, id, owner string, price decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx, sqliteUpdateLastPriceSQL, price.String(), id, owner)
	return apperr.Store("update last price", err)
}

func scanSQLiteAlert(rows *sql.Rows) (Alert, error) {
	var (
		alert       Alert
		targetStr   string
		current     sql.NullString
		triggered   int64
		triggeredAt sql.NullString
		createdAt   string
	)
	if err := rows.Scan(
		&alert.ID,
		&alert.UserID,
		&alert.Coin,
		&alert.CoinName,
		&targetStr,
		&current,
		&triggered,
		&triggeredAt,
		&createdAt,
	); err != nil {
		return Alert{}, err
	}

	target, err := decimal.NewFromString(targetStr)
	if err != nil {
		return Alert{}, fmt.Errorf("parse target price: %w", err)
	}
	alert.TargetPrice = target
	alert.Triggered = triggered != 0

	if current.Valid {
		price, err := decimal.NewFromString(current.String)
		if err != nil {
			return Alert{}, fmt.Errorf("parse current price: %w", err)
		}
		alert.CurrentPrice = &price
	}
	if triggeredAt.Valid {
		at, err := time.Parse(sqliteTimeLayout, triggeredAt.String)
		if err != nil {
			return Alert{}, fmt.Errorf("parse triggered_at: %w", err)
		}
		alert.TriggeredAt = &at
	}
	alert.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt)
	if err != nil {
		return Alert{}, fmt.Errorf("parse created_at: %w", err)
	}
	return alert, nil
}

var (
	_ AlertStore    = (*SQLiteStore)(nil)
	_ SchemaManager = (*SQLiteStore)(nil)
)
