package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"VitalsAI/go-backend/internal/models"

	"go.uber.org/zap"
)

// Renderer turns a summary into document bytes.
type Renderer interface {
	Render(ctx context.Context, summary models.SessionSummary) ([]byte, error)
}

// ReportSaver persists archived reports.
type ReportSaver interface {
	SaveReport(ctx context.Context, rec models.ReportRecord) error
}

// Archiver receives the final report of every closed session. It renders the
// document and stores both when the archive is enabled. Either collaborator
// may be nil.
type Archiver struct {
	renderer Renderer
	store    ReportSaver
	metrics  *Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewArchiver(renderer Renderer, store ReportSaver, metrics *Metrics, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{renderer: renderer, store: store, metrics: metrics, logger: logger, now: time.Now}
}

// HandleReport implements session.ReportHandler. A render failure does not
// prevent the report itself from being stored.
func (a *Archiver) HandleReport(ctx context.Context, r *models.Report) ([]byte, error) {
	var (
		doc  []byte
		errs []error
	)
	if a.renderer != nil {
		var err error
		doc, err = a.renderer.Render(ctx, r.Summary())
		if err != nil && !errors.Is(err, ErrRendererUnavailable) {
			errs = append(errs, fmt.Errorf("render report: %w", err))
		} else if err != nil {
			a.logger.Warn("report not rendered", zap.String("session_id", r.SessionID), zap.Error(err))
		}
	}

	if a.store != nil {
		rec := models.ReportRecord{
			SessionID:   r.SessionID,
			Status:      r.Status,
			Digest:      r.Digest,
			Report:      *r,
			Document:    doc,
			GeneratedAt: a.now().UTC(),
		}
		if err := a.store.SaveReport(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("archive report: %w", err))
		} else {
			if a.metrics != nil {
				a.metrics.ReportArchived()
			}
			a.logger.Info("report archived",
				zap.String("session_id", r.SessionID),
				zap.String("digest", r.Digest),
				zap.Bool("has_document", len(doc) > 0),
			)
		}
	}
	return doc, errors.Join(errs...)
}
