package status

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/triple-line-dialer/internal/queue"
	"github.com/acme/triple-line-dialer/internal/repository"
	"github.com/acme/triple-line-dialer/pkg/logger"
)

// Reader is the part of kafka.Reader the worker uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Worker consumes call status events and appends them to the call timeline.
type Worker struct {
	reader Reader
	store  repository.TimelineStore
	log    *logger.Logger
}

// New creates a new status worker.
func New(reader Reader, store repository.TimelineStore, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.NewNop()
	}
	return &Worker{reader: reader, store: store, log: log}
}

// Run processes status events until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.Canceled) {
				return err
			}
			w.log.Error("status worker: fetch", zap.Error(err))
			continue
		}

		if err := w.handle(ctx, msg); err != nil {
			// Left uncommitted so the event is redelivered.
			w.log.Error("status worker: append timeline", zap.Error(err))
			continue
		}
		if err := w.reader.CommitMessages(ctx, msg); err != nil {
			w.log.Error("status worker: commit", zap.Error(err))
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg kafka.Message) error {
	var status queue.StatusMessage
	if err := json.Unmarshal(msg.Value, &status); err != nil {
		w.log.Error("status worker: unmarshal, skipping", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}

	tracer := otel.Tracer("dialer.statusworker")
	sctx, span := tracer.Start(ctx, "call.timeline", trace.WithAttributes(
		attribute.String("call.sid", status.CallID),
		attribute.String("user.id", status.UserID),
		attribute.String("status", status.Status),
	))
	defer span.End()

	if err := w.store.Append(sctx, status.Event()); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}
