package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/SeedTrace/internal/event"
	"github.com/dharsanguruparan/SeedTrace/internal/ledger"
	"github.com/dharsanguruparan/SeedTrace/internal/model"
	"github.com/dharsanguruparan/SeedTrace/internal/queue"
	"github.com/dharsanguruparan/SeedTrace/internal/s3storage"
	"github.com/dharsanguruparan/SeedTrace/internal/storage"
	"github.com/dharsanguruparan/SeedTrace/internal/tracker"
)

type memReports struct {
	raw       map[string][]byte
	processed map[string][]byte
}

func (m *memReports) ReportPDF(_ context.Context, key string) ([]byte, error) {
	data, ok := m.raw[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (m *memReports) PutText(_ context.Context, reportKey, text string) error {
	m.processed[s3storage.TextKey(reportKey)] = []byte(text)
	return nil
}

const labWorker model.Identity = "lab-worker"

func setup(t *testing.T) (*Processor, *tracker.Service, *memReports) {
	t.Helper()
	ctx := context.Background()
	svc := tracker.New(storage.NewMemoryStore())
	if err := svc.Initialize(ctx, "admin", "SeedTrace", "SEED"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := svc.GrantRole(ctx, "admin", labWorker, model.RoleCultivator); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := svc.Mint(ctx, "grower", 5, ledger.Descriptive{Name: "Plant #5"}); err != nil {
		t.Fatalf("mint: %v", err)
	}
	reports := &memReports{
		raw:       map[string][]byte{"lab-reports/5/r1.pdf": []byte("%PDF")},
		processed: map[string][]byte{},
	}
	p := NewProcessor(svc, reports, labWorker, nil)
	p.extract = func([]byte) (string, error) { return "THC   21%\n\nCBD 1%", nil }
	return p, svc, reports
}

func labTask(t *testing.T, handle model.Handle) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(queue.LabReportPayload{ReportID: "r1", Handle: handle, ObjectKey: "lab-reports/5/r1.pdf", FileName: "coa.pdf"})
	if err != nil {
		t.Fatal(err)
	}
	return asynq.NewTask(queue.ExtractLabReportTask, data)
}

func TestLabReportRecordsAnalysis(t *testing.T) {
	p, svc, reports := setup(t)
	ctx := context.Background()
	if err := p.handleLabReport(ctx, labTask(t, 5)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := string(reports.processed["lab-reports/5/r1.txt"]); got != "THC   21%\n\nCBD 1%" {
		t.Fatalf("processed text = %q", got)
	}
	asset, err := svc.GetMetadata(ctx, 5)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if asset.LabAnalysis == nil || *asset.LabAnalysis != "THC 21%\nCBD 1%" {
		t.Fatalf("lab analysis = %v", asset.LabAnalysis)
	}
	if asset.Name != "Plant #5" {
		t.Fatalf("other fields must be untouched, name = %q", asset.Name)
	}
}

func TestLabReportUnknownAssetIsNotRetried(t *testing.T) {
	p, _, _ := setup(t)
	err := p.handleLabReport(context.Background(), labTask(t, 99))
	if !errors.Is(err, asynq.SkipRetry) || !errors.Is(err, tracker.ErrNotFound) {
		t.Fatalf("expected skip-retry not found, got %v", err)
	}
}

func TestLabReportBadPDFIsNotRetried(t *testing.T) {
	p, _, _ := setup(t)
	p.extract = func([]byte) (string, error) { return "", errors.New("malformed") }
	if err := p.handleLabReport(context.Background(), labTask(t, 5)); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected skip-retry, got %v", err)
	}
}

func TestLabReportWhilePausedIsRetried(t *testing.T) {
	p, svc, _ := setup(t)
	ctx := context.Background()
	if err := svc.Pause(ctx, "admin"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	err := p.handleLabReport(ctx, labTask(t, 5))
	if !errors.Is(err, tracker.ErrPaused) || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected retryable pause error, got %v", err)
	}
}

func TestEventHandlerForwardsToSink(t *testing.T) {
	var got []event.Event
	p := NewProcessor(nil, nil, labWorker, func(_ context.Context, ev event.Event) error {
		got = append(got, ev)
		return nil
	})
	ev := event.New(event.KindMint, time.Now().UTC()).WithHandle(5)
	data, _ := json.Marshal(ev)
	if err := p.handleEvent(context.Background(), asynq.NewTask(queue.AssetEventTask, data)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(got) != 1 || got[0].ID != ev.ID {
		t.Fatalf("sink got %+v", got)
	}
	if err := p.handleEvent(context.Background(), asynq.NewTask(queue.AssetEventTask, []byte("{"))); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected skip-retry for bad payload, got %v", err)
	}
}
