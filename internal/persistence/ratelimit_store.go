package persistence

import (
	"context"
	"fmt"

	"github.com/undercity-dev/undercity/internal/models"
)

// SaveRateLimitState upserts the rolling usage state for a model.
func (s *Store) SaveRateLimitState(ctx context.Context, st *models.RateLimitState) error {
	fiveHour, err := marshalJSON(st.FiveHour)
	if err != nil {
		return fmt.Errorf("marshal five_hour: %w", err)
	}
	weekly, err := marshalJSON(st.Weekly)
	if err != nil {
		return fmt.Errorf("marshal weekly: %w", err)
	}
	hits, err := marshalJSON(st.Hits)
	if err != nil {
		return fmt.Errorf("marshal hits: %w", err)
	}
	pauses, err := marshalJSON(st.Pauses)
	if err != nil {
		return fmt.Errorf("marshal pauses: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO rate_limit_state
		(model, five_hour, weekly, total_tokens, total_requests, hits, pauses, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(model) DO UPDATE SET
			five_hour=excluded.five_hour, weekly=excluded.weekly,
			total_tokens=excluded.total_tokens, total_requests=excluded.total_requests,
			hits=excluded.hits, pauses=excluded.pauses, updated_at=excluded.updated_at`,
		st.Model, fiveHour, weekly, st.TotalTokens, st.TotalRequests, hits, pauses, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save rate limit state: %w", err)
	}
	return nil
}

// LoadRateLimitState retrieves a model's persisted usage state. Returns
// (nil, sql.ErrNoRows) if the model has never been recorded.
func (s *Store) LoadRateLimitState(ctx context.Context, model string) (*models.RateLimitState, error) {
	var st models.RateLimitState
	var fiveHour, weekly, hits, pauses string
	err := s.db.QueryRowContext(ctx, `SELECT model, five_hour, weekly, total_tokens, total_requests, hits, pauses, updated_at
		FROM rate_limit_state WHERE model = ?`, model).
		Scan(&st.Model, &fiveHour, &weekly, &st.TotalTokens, &st.TotalRequests, &hits, &pauses, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(fiveHour, &st.FiveHour); err != nil {
		return nil, fmt.Errorf("unmarshal five_hour: %w", err)
	}
	if err := unmarshalJSON(weekly, &st.Weekly); err != nil {
		return nil, fmt.Errorf("unmarshal weekly: %w", err)
	}
	if err := unmarshalJSON(hits, &st.Hits); err != nil {
		return nil, fmt.Errorf("unmarshal hits: %w", err)
	}
	if err := unmarshalJSON(pauses, &st.Pauses); err != nil {
		return nil, fmt.Errorf("unmarshal pauses: %w", err)
	}
	return &st, nil
}

// AllRateLimitStates returns the persisted usage state for every model
// seen so far, used to render the `limits` CLI view.
func (s *Store) AllRateLimitStates(ctx context.Context) ([]*models.RateLimitState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT model, five_hour, weekly, total_tokens, total_requests, hits, pauses, updated_at
		FROM rate_limit_state`)
	if err != nil {
		return nil, fmt.Errorf("query rate limit states: %w", err)
	}
	defer rows.Close()

	var out []*models.RateLimitState
	for rows.Next() {
		var st models.RateLimitState
		var fiveHour, weekly, hits, pauses string
		if err := rows.Scan(&st.Model, &fiveHour, &weekly, &st.TotalTokens, &st.TotalRequests, &hits, &pauses, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan rate limit state row: %w", err)
		}
		if err := unmarshalJSON(fiveHour, &st.FiveHour); err != nil {
			return nil, fmt.Errorf("unmarshal five_hour: %w", err)
		}
		if err := unmarshalJSON(weekly, &st.Weekly); err != nil {
			return nil, fmt.Errorf("unmarshal weekly: %w", err)
		}
		if err := unmarshalJSON(hits, &st.Hits); err != nil {
			return nil, fmt.Errorf("unmarshal hits: %w", err)
		}
		if err := unmarshalJSON(pauses, &st.Pauses); err != nil {
			return nil, fmt.Errorf("unmarshal pauses: %w", err)
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}
