package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/ringsim/internal/domain"
)

// ReportStore implements domain.ReportStore using PostgreSQL. Reports are
// stored whole as JSONB with a few promoted columns for listing.
type ReportStore struct {
	pool *pgxpool.Pool
}

// NewReportStore creates a new ReportStore backed by the given connection pool.
func NewReportStore(pool *pgxpool.Pool) *ReportStore {
	return &ReportStore{pool: pool}
}

// Insert persists one settlement report keyed by its run ID.
func (s *ReportStore) Insert(ctx context.Context, report *domain.SettlementReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("postgres: marshal report %s: %w", report.RunID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO settlement_reports (run_id, created_at, mined, transfers, report)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO NOTHING`,
		report.RunID, report.Timestamp,
		len(report.RingMinedEvents), len(report.Transfers), body,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert report %s: %w", report.RunID, err)
	}
	return nil
}

// GetByRunID fetches one report, wrapping domain.ErrNotFound when absent.
func (s *ReportStore) GetByRunID(ctx context.Context, runID string) (*domain.SettlementReport, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		"SELECT report FROM settlement_reports WHERE run_id = $1", runID,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: report %s: %w", runID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get report %s: %w", runID, err)
	}
	var report domain.SettlementReport
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal report %s: %w", runID, err)
	}
	return &report, nil
}

// ListRecent returns the newest reports, most recent first.
func (s *ReportStore) ListRecent(ctx context.Context, limit int) ([]*domain.SettlementReport, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT report FROM settlement_reports
		ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list reports: %w", err)
	}
	defer rows.Close()

	var reports []*domain.SettlementReport
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("postgres: scan report: %w", err)
		}
		var report domain.SettlementReport
		if err := json.Unmarshal(body, &report); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal report: %w", err)
		}
		reports = append(reports, &report)
	}
	return reports, rows.Err()
}
