package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/apperr"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

//go:embed schema_postgres.sql
var postgresSchema string

const (
	alertColumns = `id::text, user_id, coin, coin_name, target_price::text, current_price::text, triggered, triggered_at, created_at`

	insertAlertSQL = `INSERT INTO alerts (
        user_id,
        coin,
        coin_name,
        target_price,
        current_price,
        triggered
    ) VALUES (
        $1,$2,$3,$4::numeric,$5::numeric,false
    )
    RETURNING ` + alertColumns + `;`

	listAlertsSQL = `SELECT ` + alertColumns + `
    FROM alerts
    WHERE user_id = $1
    ORDER BY created_at DESC, id DESC;`

	listActiveAlertsSQL = `SELECT ` + alertColumns + `
    FROM alerts
    WHERE user_id = $1
      AND triggered = false
    ORDER BY created_at DESC, id DESC;`

	deleteAlertSQL = `DELETE FROM alerts WHERE id = $1 AND user_id = $2;`

	markTriggeredSQL = `UPDATE alerts
    SET triggered = true, triggered_at = $3
    WHERE id = $1 AND user_id = $2;`

	updateLastPriceSQL = `UPDATE alerts
    SET current_price = $3::numeric
    WHERE id = $1 AND user_id = $2;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1, hashtext($2));`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1, hashtext($2));`
)

// AlertStore is the owner-scoped alert persistence contract. Deletes and
// updates of ids the owner does not hold are silent no-ops.
type AlertStore interface {
	CreateAlert(ctx context.Context, input NewAlert) (Alert, error)
	ListAlerts(ctx context.Context, owner string) ([]Alert, error)
	ListActiveAlerts(ctx context.Context, owner string) ([]Alert, error)
	DeleteAlert(ctx context.Context, id, owner string) error
	UpdateTriggered(ctx context.Context, id, owner string, at time.Time) error
	UpdateLastPrice(ctx context.Context, id, owner string, price decimal.Decimal) error
}

// SchemaManager creates the alerts table when missing.
type SchemaManager interface {
	EnsureSchema(ctx context.Context) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64, owner string) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL alert store.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the alerts table and its owner index.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return apperr.Store("ensure schema", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a per-owner advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64, owner string) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	// the two-key form takes int4 arguments
	classKey := int32(key)
	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, classKey, owner).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, classKey, owner)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// CreateAlert inserts a new untriggered alert.
func (s *Store) CreateAlert(ctx context.Context, input NewAlert) (Alert, error) {
	input, err := input.Normalize()
	if err != nil {
		return Alert{}, err
	}
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}

	var current *string
	if input.CurrentPrice != nil {
		v := input.CurrentPrice.String()
		current = &v
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		input.UserID,
		input.Coin,
		input.CoinName,
		input.TargetPrice.String(),
		current,
	)
	alert, err := scanAlert(row)
	if err != nil {
		return Alert{}, apperr.Store("create alert", err)
	}
	return alert, nil
}

// ListAlerts lists all alerts of owner, newest first.
func (s *Store) ListAlerts(ctx context.Context, owner string) ([]Alert, error) {
	return s.queryAlerts(ctx, "list alerts", listAlertsSQL, owner)
}

// ListActiveAlerts lists the untriggered alerts of owner, newest first.
func (s *Store) ListActiveAlerts(ctx context.Context, owner string) ([]Alert, error) {
	return s.queryAlerts(ctx, "list active alerts", listActiveAlertsSQL, owner)
}

func (s *Store) queryAlerts(ctx context.Context, op, query, owner string) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, owner)
	if queryErr != nil {
		return nil, apperr.Store(op, queryErr)
	}
	defer rows.Close()

	alerts := make([]Alert, 0)
	for rows.Next() {
		alert, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, apperr.Store(op, scanErr)
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, apperr.Store(op, rows.Err())
	}
	return alerts, nil
}

// DeleteAlert removes an alert held by owner.
func (s *Store) DeleteAlert(ctx context.Context, id, owner string) error {
	return s.execOwned(ctx, "delete alert", deleteAlertSQL, id, owner)
}

// UpdateTriggered flips an alert to triggered.
func (s *Store) UpdateTriggered(ctx context.Context, id, owner string, at time.Time) error {
	return s.execOwned(ctx, "update triggered", markTriggeredSQL, id, owner, at.UTC())
}

// UpdateLastPrice records the latest observed price of an alert's coin.
func (s *Store) UpdateLastPrice(ctx context.Context, id, owner string, price decimal.Decimal) error {
	return s.execOwned(ctx, "update last price", updateLastPriceSQL, id, owner, price.String())
}

func (s *Store) execOwned(ctx context.Context, op, query, id, owner string, args ...any) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	// ids are bigserial; anything else cannot belong to the owner
	numericID, parseErr := strconv.ParseInt(id, 10, 64)
	if parseErr != nil {
		return nil
	}
	params := append([]any{numericID, owner}, args...)
	if _, execErr := pool.Exec(ctx, query, params...); execErr != nil {
		return apperr.Store(op, execErr)
	}
	return nil
}

func scanAlert(row pgx.Row) (Alert, error) {
	var (
		alert     Alert
		targetStr string
		current   *string
	)
	if err := row.Scan(
		&alert.ID,
		&alert.UserID,
		&alert.Coin,
		&alert.CoinName,
		&targetStr,
		&current,
		&alert.Triggered,
		&alert.TriggeredAt,
		&alert.CreatedAt,
	); err != nil {
		return Alert{}, err
	}

	target, err := decimal.NewFromString(targetStr)
	if err != nil {
		return Alert{}, fmt.Errorf("parse target price: %w", err)
	}
	alert.TargetPrice = target

	if current != nil {
		price, err := decimal.NewFromString(*current)
		if err != nil {
			return Alert{}, fmt.Errorf("parse current price: %w", err)
		}
		alert.CurrentPrice = &price
	}
	return alert, nil
}

var (
	_ AlertStore     = (*Store)(nil)
	_ SchemaManager  = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
