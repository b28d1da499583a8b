// Package worker holds the asynq handlers run by cmd/worker: event indexing
// and lab report extraction.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/SeedTrace/internal/event"
	"github.com/dharsanguruparan/SeedTrace/internal/ledger"
	"github.com/dharsanguruparan/SeedTrace/internal/model"
	pdfutil "github.com/dharsanguruparan/SeedTrace/internal/pdf"
	"github.com/dharsanguruparan/SeedTrace/internal/queue"
	"github.com/dharsanguruparan/SeedTrace/internal/tracker"
)

// ReportStore is the object storage used by the lab report handler.
type ReportStore interface {
	ReportPDF(ctx context.Context, key string) ([]byte, error)
	PutText(ctx context.Context, reportKey, text string) error
}

// Annotator applies metadata patches. *tracker.Service satisfies it.
type Annotator interface {
	UpdateMetadata(ctx context.Context, caller model.Identity, handle model.Handle, p ledger.Patch) (model.Asset, error)
}

// EventSink receives every indexed event.
type EventSink func(ctx context.Context, ev event.Event) error

// Processor is plugged into the asynq worker loop.
type Processor struct {
	tracker  Annotator
	store    ReportStore
	identity model.Identity
	sink     EventSink
	extract  func([]byte) (string, error)
}

// NewProcessor constructs a worker processor. identity is the caller used for
// lab analysis updates and must hold the cultivator role.
func NewProcessor(tracker Annotator, store ReportStore, identity model.Identity, sink EventSink) *Processor {
	return &Processor{
		tracker:  tracker,
		store:    store,
		identity: identity,
		sink:     sink,
		extract:  pdfutil.ExtractText,
	}
}

// Handler registers the task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.AssetEventTask, p.handleEvent)
	mux.HandleFunc(queue.ExtractLabReportTask, p.handleLabReport)
	return mux
}

func (p *Processor) handleEvent(ctx context.Context, task *asynq.Task) error {
	ev, err := queue.DecodeEvent(task)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if p.sink == nil {
		return nil
	}
	return p.sink(ctx, ev)
}

func (p *Processor) handleLabReport(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.DecodeLabReport(task)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	failure := func(err error) error {
		log.Printf("lab report %s for token %d failed: %v", payload.ReportID, payload.Handle, err)
		return err
	}
	data, err := p.store.ReportPDF(ctx, payload.ObjectKey)
	if err != nil {
		return failure(err)
	}
	text, err := p.extract(data)
	if err != nil {
		// A malformed PDF will not parse on a retry either.
		return failure(fmt.Errorf("%w: %w", err, asynq.SkipRetry))
	}
	if err := p.store.PutText(ctx, payload.ObjectKey, text); err != nil {
		return failure(err)
	}
	summary := pdfutil.Summarize(text, pdfutil.MaxAnalysisRunes)
	patch := ledger.Patch{LabAnalysis: ledger.Set(summary)}
	if _, err := p.tracker.UpdateMetadata(ctx, p.identity, payload.Handle, patch); err != nil {
		if permanent(err) {
			err = fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return failure(err)
	}
	log.Printf("lab report %s recorded on token %d (%d bytes)", payload.ReportID, payload.Handle, len(text))
	return nil
}

// permanent reports tracker errors a retry cannot fix. A paused tracker is
// retried.
func permanent(err error) bool {
	return errors.Is(err, tracker.ErrNotFound) || errors.Is(err, tracker.ErrUnauthorized)
}
