package storage

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/apperr"
)

// Alert is a user-owned price target. Once Triggered is set, Coin and
// TargetPrice never change; only TriggeredAt and CurrentPrice may still be
// written.
type Alert struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	Coin         string           `json:"coin"`
	CoinName     string           `json:"coin_name"`
	TargetPrice  decimal.Decimal  `json:"target_price"`
	CurrentPrice *decimal.Decimal `json:"current_price"`
	Triggered    bool             `json:"triggered"`
	TriggeredAt  *time.Time       `json:"triggered_at"`
	CreatedAt    time.Time        `json:"created_at"`
}

// NewAlert is the input of AlertStore.CreateAlert.
type NewAlert struct {
	UserID       string
	Coin         string
	CoinName     string
	TargetPrice  decimal.Decimal
	CurrentPrice *decimal.Decimal
}

// Normalize trims the input and checks the required fields. CoinName falls
// back to Coin.
func (n NewAlert) Normalize() (NewAlert, error) {
	n.UserID = strings.TrimSpace(n.UserID)
	n.Coin = strings.TrimSpace(n.Coin)
	n.CoinName = strings.TrimSpace(n.CoinName)

	if n.UserID == "" {
		return n, apperr.Validation("user_id", "user not authenticated")
	}
	if n.Coin == "" {
		return n, apperr.Validation("coin", "coin is required")
	}
	if n.TargetPrice.IsZero() {
		return n, apperr.Validation("target_price", "target price is required")
	}
	if n.TargetPrice.IsNegative() {
		return n, apperr.Validation("target_price", "target price must be positive")
	}
	if n.CoinName == "" {
		n.CoinName = n.Coin
	}
	return n, nil
}

// ParseTarget converts user input into a target price.
func ParseTarget(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "$"))
	if raw == "" {
		return decimal.Decimal{}, apperr.Validation("target_price", "target price is required")
	}
	target, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil {
		return decimal.Decimal{}, apperr.Validation("target_price", "target price must be numeric")
	}
	return target, nil
}

// Stats summarises an owner's alerts.
type Stats struct {
	Active    int
	Triggered int
	Total     int
	Coins     []string
}

// Summarize counts active and triggered alerts and collects distinct coins.
func Summarize(alerts []Alert) Stats {
	stats := Stats{Total: len(alerts), Coins: make([]string, 0)}
	seen := make(map[string]struct{})
	for _, a := range alerts {
		if a.Triggered {
			stats.Triggered++
		} else {
			stats.Active++
		}
		if _, ok := seen[a.Coin]; !ok {
			seen[a.Coin] = struct{}{}
			stats.Coins = append(stats.Coins, a.Coin)
		}
	}
	return stats
}

// Coins returns the distinct coins referenced by alerts.
func Coins(alerts []Alert) []string {
	return Summarize(alerts).Coins
}
