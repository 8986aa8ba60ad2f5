// Package events records every accepted state transition as an audit row,
// a structured log line and a live notification.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"nestoracle/internal/models"
	"nestoracle/internal/paas"
	"nestoracle/internal/repository"
)

type Emitter struct {
	Repo   repository.EventRepository
	Hub    *Hub
	Logger *zap.Logger
}

// Recorder collects events written inside one transaction. Flush publishes them
// once the transaction has committed.
type Recorder struct {
	emitter *Emitter
	repo    repository.EventRepository
	pending []models.OracleEvent
}

func (e *Emitter) Recorder(repo repository.EventRepository) *Recorder {
	if repo == nil && e != nil {
		repo = e.Repo
	}
	return &Recorder{emitter: e, repo: repo}
}

func (r *Recorder) Emit(ctx context.Context, component, kind, subject string, fields map[string]any) error {
	payload, err := json.Marshal(normalizeFields(fields))
	if err != nil {
		return err
	}
	ev := models.OracleEvent{
		EventID:   uuid.NewString(),
		Component: component,
		Kind:      kind,
		Subject:   subject,
		Payload:   datatypes.JSON(payload),
		CreatedAt: time.Now().UTC(),
	}
	if r.repo != nil {
		if err := r.repo.InsertOracleEvent(ctx, &ev); err != nil {
			return err
		}
	}
	r.pending = append(r.pending, ev)
	return nil
}

func (r *Recorder) Flush(ctx context.Context) {
	if r == nil {
		return
	}
	pending := r.pending
	r.pending = nil
	if r.emitter == nil {
		return
	}
	for _, ev := range pending {
		r.emitter.publish(ctx, ev)
	}
}

// Emit records and publishes a single event outside any caller transaction.
func (e *Emitter) Emit(ctx context.Context, component, kind, subject string, fields map[string]any) error {
	rec := e.Recorder(nil)
	if err := rec.Emit(ctx, component, kind, subject, fields); err != nil {
		return err
	}
	rec.Flush(ctx)
	return nil
}

func (e *Emitter) publish(ctx context.Context, ev models.OracleEvent) {
	if e.Logger != nil {
		e.Logger.Info("oracle event",
			zap.String("component", ev.Component),
			zap.String("kind", ev.Kind),
			zap.String("subject", ev.Subject),
			zap.String("event_id", ev.EventID),
			zap.ByteString("payload", ev.Payload),
		)
	}
	e.Hub.Publish(ev)
	details := map[string]any{"component": ev.Component, "subject": ev.Subject, "event_id": ev.EventID}
	var fields map[string]any
	if err := json.Unmarshal(ev.Payload, &fields); err == nil {
		for k, v := range fields {
			details[k] = v
		}
	}
	paas.LogBestEffortCtx(ctx, ev.Kind, "info", details)
}

func normalizeFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case decimal.Decimal:
			out[k] = val.String()
		case *decimal.Decimal:
			if val == nil {
				out[k] = nil
			} else {
				out[k] = val.String()
			}
		case time.Time:
			out[k] = val.UTC().Format(time.RFC3339Nano)
		case time.Duration:
			out[k] = val.String()
		default:
			out[k] = v
		}
	}
	return out
}
