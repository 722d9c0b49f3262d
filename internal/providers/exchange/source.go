// Package exchange refreshes stored currency conversion rates from an
// external feed.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/billfold/billfold/internal/clock"
	"github.com/billfold/billfold/internal/config"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrNotConfigured = errors.New("exchange_rate_source_not_configured")

type Source interface {
	UpdateRates(ctx context.Context) error
}

type ratesPayload struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

type httpSource struct {
	url   string
	db    *gorm.DB
	http  *retryablehttp.Client
	clock clock.Clock
	log   *zap.Logger
}

func NewSource(cfg config.Config, db *gorm.DB, clk clock.Clock, log *zap.Logger) Source {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 3
	httpClient.HTTPClient.Timeout = 30 * time.Second
	httpClient.Logger = nil

	return &httpSource{
		url:   cfg.ExchangeRateURL,
		db:    db,
		http:  httpClient,
		clock: clk,
		log:   log.Named("providers.exchange"),
	}
}

func (s *httpSource) UpdateRates(ctx context.Context) error {
	if s.url == "" {
		return ErrNotConfigured
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", s.url, nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("exchange rate fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("exchange rate fetch: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	var payload ratesPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("exchange rate decode: %w", err)
	}

	now := s.clock.Now()
	var errs []error
	for code, rate := range payload.Rates {
		if err := s.upsert(ctx, code, rate, now); err != nil {
			errs = append(errs, fmt.Errorf("rate %s: %w", code, err))
		}
	}
	s.log.Info("exchange rates refreshed",
		zap.String("base", payload.Base),
		zap.Int("count", len(payload.Rates)-len(errs)),
	)
	return errors.Join(errs...)
}

func (s *httpSource) upsert(ctx context.Context, code string, rate float64, at time.Time) error {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE currency_rates SET rate = ?, updated_at = ? WHERE code = ?`,
		rate,
		at,
		code,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO currency_rates (code, rate, updated_at) VALUES (?, ?, ?)`,
		code,
		rate,
		at,
	).Error
}
