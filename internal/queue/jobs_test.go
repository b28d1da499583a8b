package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/SeedTrace/internal/event"
)

type fakeClient struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func TestPublisherEnqueuesEvent(t *testing.T) {
	client := &fakeClient{}
	ev := event.New(event.KindStateTransition, time.Unix(1700000000, 0).UTC()).WithHandle(7).WithTransition(0, 1)
	if err := NewPublisher(client).Notify(context.Background(), ev); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(client.tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(client.tasks))
	}
	task := client.tasks[0]
	if task.Type() != AssetEventTask {
		t.Fatalf("task type = %s", task.Type())
	}
	got, err := DecodeEvent(task)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != ev.ID || got.Kind != ev.Kind || got.Handle == nil || *got.Handle != 7 {
		t.Fatalf("decoded %+v, want %+v", got, ev)
	}
	if got.ToState == nil || *got.ToState != 1 {
		t.Fatalf("toState lost: %+v", got)
	}
}

func TestPublisherSurfacesEnqueueFailure(t *testing.T) {
	boom := errors.New("redis down")
	err := NewPublisher(&fakeClient{err: boom}).Notify(context.Background(), event.New(event.KindPaused, time.Now()))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped redis error, got %v", err)
	}
}

func TestEnqueueLabReport(t *testing.T) {
	client := &fakeClient{}
	payload := LabReportPayload{ReportID: "r1", Handle: 3, ObjectKey: "lab-reports/3/r1.pdf", FileName: "coa.pdf"}
	if err := EnqueueLabReport(context.Background(), client, payload); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got, err := DecodeLabReport(client.tasks[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != payload {
		t.Fatalf("payload = %+v, want %+v", got, payload)
	}
}
