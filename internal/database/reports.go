package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"VitalsAI/go-backend/internal/models"

	"go.uber.org/zap"
)

var ErrReportNotFound = errors.New("report not found")

// ReportStore archives final session reports. A session has at most one
// report; saving again replaces it.
type ReportStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewReportStore(db *sql.DB, logger *zap.Logger) *ReportStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportStore{db: db, logger: logger}
}

const upsertReport = `
INSERT INTO session_reports (session_id, status, digest, report, document, generated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (session_id) DO UPDATE
SET status = EXCLUDED.status,
    digest = EXCLUDED.digest,
    report = EXCLUDED.report,
    document = EXCLUDED.document,
    generated_at = EXCLUDED.generated_at`

func (s *ReportStore) SaveReport(ctx context.Context, rec models.ReportRecord) error {
	body, err := json.Marshal(rec.Report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	var doc interface{}
	if len(rec.Document) > 0 {
		doc = rec.Document
	}

	if _, err := s.db.ExecContext(ctx, upsertReport,
		rec.SessionID, string(rec.Status), rec.Digest, body, doc, rec.GeneratedAt,
	); err != nil {
		s.logger.Error("save report failed", zap.String("session_id", rec.SessionID), zap.Error(err))
		return fmt.Errorf("save report %s: %w", rec.SessionID, err)
	}
	return nil
}

const selectReport = `
SELECT session_id, status, digest, report, document, generated_at
FROM session_reports
WHERE session_id = $1`

func (s *ReportStore) GetReport(ctx context.Context, sessionID string) (*models.ReportRecord, error) {
	var (
		rec    models.ReportRecord
		status string
		body   []byte
	)
	err := s.db.QueryRowContext(ctx, selectReport, sessionID).
		Scan(&rec.SessionID, &status, &rec.Digest, &body, &rec.Document, &rec.GeneratedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", sessionID, err)
	}
	rec.Status = models.ReportStatus(status)
	if err := json.Unmarshal(body, &rec.Report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", sessionID, err)
	}
	return &rec, nil
}
