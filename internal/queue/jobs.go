package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/SeedTrace/internal/event"
	"github.com/dharsanguruparan/SeedTrace/internal/model"
)

const (
	// AssetEventTask carries one tracker event to the indexing worker.
	AssetEventTask = "asset:event"
	// ExtractLabReportTask is scheduled each time a lab report PDF is uploaded.
	ExtractLabReportTask = "labreport:extract"
)

// LabReportPayload is serialized into the task payload so the worker knows
// which object to download from MinIO and which asset to annotate.
type LabReportPayload struct {
	ReportID  string       `json:"report_id"`
	Handle    model.Handle `json:"token_id"`
	ObjectKey string       `json:"object_key"`
	FileName  string       `json:"file_name"`
}

// Enqueuer is the subset of *asynq.Client used here.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EnqueueLabReport enqueues a lab report extraction job.
func EnqueueLabReport(ctx context.Context, client Enqueuer, payload LabReportPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(ExtractLabReportTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue lab report task: %w", err)
	}
	return nil
}

// Publisher forwards tracker events to redis. It satisfies tracker.Notifier.
type Publisher struct {
	client Enqueuer
}

// NewPublisher wraps an asynq client.
func NewPublisher(client Enqueuer) *Publisher {
	return &Publisher{client: client}
}

// Notify enqueues ev. The event ID doubles as the task ID, so a retried
// publish of the same event is rejected by asynq instead of duplicated.
func (p *Publisher) Notify(ctx context.Context, ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	task := asynq.NewTask(AssetEventTask, data)
	if _, err := p.client.EnqueueContext(ctx, task, asynq.TaskID(ev.ID), asynq.MaxRetry(3)); err != nil {
		return fmt.Errorf("enqueue event %s: %w", ev.Kind, err)
	}
	return nil
}

// DecodeEvent reads an AssetEventTask payload.
func DecodeEvent(task *asynq.Task) (event.Event, error) {
	var ev event.Event
	if err := json.Unmarshal(task.Payload(), &ev); err != nil {
		return event.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

// DecodeLabReport reads an ExtractLabReportTask payload.
func DecodeLabReport(task *asynq.Task) (LabReportPayload, error) {
	var payload LabReportPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return LabReportPayload{}, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}
