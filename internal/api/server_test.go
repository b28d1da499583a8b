package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/SeedTrace/internal/config"
	"github.com/dharsanguruparan/SeedTrace/internal/metrics"
	"github.com/dharsanguruparan/SeedTrace/internal/model"
	"github.com/dharsanguruparan/SeedTrace/internal/queue"
	"github.com/dharsanguruparan/SeedTrace/internal/s3storage"
	"github.com/dharsanguruparan/SeedTrace/internal/signing"
	"github.com/dharsanguruparan/SeedTrace/internal/storage"
	"github.com/dharsanguruparan/SeedTrace/internal/tracker"
)

type fakeReports struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeReports) PutReport(_ context.Context, rep s3storage.Report, r io.Reader, _ int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[rep.Key()] = data
	return nil
}

func (f *fakeReports) TextURL(_ context.Context, rep s3storage.Report, _ time.Duration) (string, error) {
	return "https://objects.test/processed/" + rep.TextKey(), nil
}

type fakeQueue struct {
	tasks []*asynq.Task
}

func (f *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

type harness struct {
	t       *testing.T
	handler http.Handler
	signer  *signing.Signer
	reports *fakeReports
	queue   *fakeQueue
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	cfg := &config.Config{
		MaxFileSize:      1 << 20,
		CredentialTTL:    time.Minute,
		CollectionName:   "SeedTrace",
		CollectionSymbol: "SEED",
	}
	signer := signing.NewSigner([]byte("test-secret"))
	h := &harness{
		t:       t,
		signer:  signer,
		reports: &fakeReports{objects: map[string][]byte{}},
		queue:   &fakeQueue{},
	}
	svc := tracker.New(storage.NewMemoryStore())
	opts = append([]Option{WithLabReports(h.reports, h.queue)}, opts...)
	h.handler = New(cfg, svc, signer, opts...).Handler()
	return h
}

func (h *harness) do(method, path, as string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				h.t.Fatalf("marshal: %v", err)
			}
			reader = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, path, reader)
	if as != "" {
		h.signer.Issue(as, time.Minute, time.Now()).Apply(req)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) expect(rec *httptest.ResponseRecorder, status int) {
	h.t.Helper()
	if rec.Code != status {
		h.t.Fatalf("status = %d, want %d: %s", rec.Code, status, rec.Body.String())
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

// bootstrap initializes with admin, grants the supply chain roles and mints
// token 1 to grower.
func (h *harness) bootstrap() {
	h.t.Helper()
	h.expect(h.do("POST", "/initialize", "", InitializeRequest{Admin: "admin"}), http.StatusCreated)
	for account, role := range map[string]string{"cultivator": "cultivator", "processor": "processor", "dispensary": "dispensary"} {
		h.expect(h.do("PUT", "/accounts/"+account+"/roles/"+role, "admin", nil), http.StatusOK)
	}
	h.expect(h.do("POST", "/assets", "", map[string]any{"to": "grower", "tokenId": 1, "name": "Plant #1"}), http.StatusCreated)
}

func TestHealthAndStatus(t *testing.T) {
	h := newHarness(t)
	h.expect(h.do("GET", "/healthz", "", nil), http.StatusOK)
	h.bootstrap()
	rec := h.do("GET", "/status", "", nil)
	h.expect(rec, http.StatusOK)
	status := decode[StatusResponse](t, rec)
	if status.Name != "SeedTrace" || status.Symbol != "SEED" || status.Paused {
		t.Fatalf("status = %+v", status)
	}
	h.expect(h.do("POST", "/initialize", "", InitializeRequest{Admin: "other"}), http.StatusConflict)
}

func TestLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()

	rec := h.do("POST", "/assets/1/state", "cultivator", map[string]any{"toState": "germinated", "location": "Greenhouse A", "temperature": 24})
	h.expect(rec, http.StatusOK)
	asset := decode[model.Asset](t, rec)
	if asset.Stage != model.StageGerminated || asset.Location == nil || *asset.Location != "Greenhouse A" {
		t.Fatalf("asset = %+v", asset)
	}

	// skipping Vegetative
	h.expect(h.do("POST", "/assets/1/state", "cultivator", map[string]any{"toState": 3}), http.StatusUnprocessableEntity)
	// wrong role for the next stage
	h.expect(h.do("POST", "/assets/1/state", "processor", map[string]any{"toState": 2}), http.StatusForbidden)
	h.expect(h.do("POST", "/assets/1/state", "cultivator", map[string]any{"toState": "bogus"}), http.StatusUnprocessableEntity)
	h.expect(h.do("POST", "/assets/1/state", "cultivator", map[string]any{"toState": []int{1}}), http.StatusBadRequest)
	h.expect(h.do("POST", "/assets/9/state", "cultivator", map[string]any{"toState": 1}), http.StatusNotFound)

	rec = h.do("GET", "/assets/1/history", "", nil)
	h.expect(rec, http.StatusOK)
	history := decode[[]model.StateTransition](t, rec)
	if len(history) != 1 || history[0].To != model.StageGerminated || history[0].UpdatedBy != "cultivator" {
		t.Fatalf("history = %+v", history)
	}
	h.expect(h.do("GET", "/assets/9", "", nil), http.StatusNotFound)
	h.expect(h.do("GET", "/assets/abc", "", nil), http.StatusBadRequest)
}

func TestCredentialsRequired(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	h.expect(h.do("POST", "/assets/1/state", "", map[string]any{"toState": 1}), http.StatusUnauthorized)

	req := httptest.NewRequest("POST", "/pause", nil)
	h.signer.Issue("admin", -time.Minute, time.Now()).Apply(req)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	h.expect(rec, http.StatusUnauthorized)

	req = httptest.NewRequest("POST", "/pause", nil)
	signing.NewSigner([]byte("wrong")).Issue("admin", time.Minute, time.Now()).Apply(req)
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	h.expect(rec, http.StatusUnauthorized)
}

func TestPartialMetadataPatch(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	h.expect(h.do("PATCH", "/assets/1/metadata", "cultivator", `{"location":"Shed","temperature":21}`), http.StatusOK)

	rec := h.do("PATCH", "/assets/1/metadata", "cultivator", `{"location":"Barn"}`)
	h.expect(rec, http.StatusOK)
	asset := decode[model.Asset](t, rec)
	if *asset.Location != "Barn" || asset.Temperature == nil || *asset.Temperature != 21 || asset.Name != "Plant #1" {
		t.Fatalf("partial update touched other fields: %+v", asset)
	}

	rec = h.do("PATCH", "/assets/1/metadata", "cultivator", `{"temperature":null}`)
	h.expect(rec, http.StatusOK)
	if asset := decode[model.Asset](t, rec); asset.Temperature != nil || asset.Location == nil {
		t.Fatalf("null should clear only temperature: %+v", asset)
	}
	h.expect(h.do("PATCH", "/assets/1/metadata", "processor", `{"location":"x"}`), http.StatusForbidden)
	h.expect(h.do("PATCH", "/assets/1/metadata", "cultivator", `{"colour":"green"}`), http.StatusBadRequest)
}

func TestPauseGate(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	h.expect(h.do("POST", "/pause", "cultivator", nil), http.StatusForbidden)
	h.expect(h.do("POST", "/pause", "admin", nil), http.StatusOK)
	h.expect(h.do("POST", "/assets/1/state", "cultivator", map[string]any{"toState": 1}), http.StatusLocked)
	h.expect(h.do("POST", "/assets/1/state", "cultivator", map[string]any{"toState": 8}), http.StatusLocked)
	h.expect(h.do("POST", "/assets/1/state", "cultivator", map[string]any{"toState": "bogus"}), http.StatusLocked)
	h.expect(h.do("POST", "/assets", "", map[string]any{"to": "grower", "tokenId": 2}), http.StatusLocked)
	h.expect(h.do("GET", "/assets/1", "", nil), http.StatusOK)
	h.expect(h.do("POST", "/unpause", "admin", nil), http.StatusOK)
	h.expect(h.do("POST", "/assets/1/state", "cultivator", map[string]any{"toState": 1}), http.StatusOK)
}

func TestRoleAndWhitelistEndpoints(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	rec := h.do("GET", "/accounts/cultivator/roles/cultivator", "", nil)
	h.expect(rec, http.StatusOK)
	if !decode[RoleResponse](t, rec).HasRole {
		t.Fatal("expected cultivator role")
	}
	h.expect(h.do("GET", "/accounts/cultivator/roles/wizard", "", nil), http.StatusUnprocessableEntity)
	h.expect(h.do("PUT", "/accounts/x/roles/processor", "cultivator", nil), http.StatusForbidden)
	h.expect(h.do("DELETE", "/accounts/cultivator/roles/cultivator", "admin", nil), http.StatusOK)
	h.expect(h.do("DELETE", "/accounts/cultivator/roles/cultivator", "admin", nil), http.StatusOK)
	rec = h.do("GET", "/accounts/cultivator/roles/cultivator", "", nil)
	if decode[RoleResponse](t, rec).HasRole {
		t.Fatal("role should be revoked")
	}

	h.expect(h.do("PUT", "/accounts/buyer/whitelist", "admin", nil), http.StatusOK)
	rec = h.do("GET", "/accounts/buyer/whitelist", "", nil)
	if !decode[WhitelistResponse](t, rec).Whitelisted {
		t.Fatal("expected whitelisted")
	}
}

func TestTransferApproveAndOwnership(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	h.expect(h.do("POST", "/assets/1/transfer", "grower", TransferRequest{To: "buyer"}), http.StatusUnprocessableEntity)
	h.expect(h.do("PUT", "/accounts/buyer/whitelist", "admin", nil), http.StatusOK)
	h.expect(h.do("POST", "/assets/1/transfer", "stranger", TransferRequest{From: "grower", To: "buyer"}), http.StatusForbidden)
	h.expect(h.do("POST", "/assets/1/approve", "grower", ApproveRequest{Spender: "broker"}), http.StatusOK)
	h.expect(h.do("POST", "/assets/1/transfer", "broker", TransferRequest{From: "grower", To: "buyer"}), http.StatusOK)

	rec := h.do("GET", "/assets/1/owner", "", nil)
	h.expect(rec, http.StatusOK)
	if owner := decode[OwnerResponse](t, rec); owner.Owner != "buyer" {
		t.Fatalf("owner = %s", owner.Owner)
	}
	rec = h.do("GET", "/accounts/buyer/balance", "", nil)
	if bal := decode[BalanceResponse](t, rec); bal.Balance != 1 {
		t.Fatalf("balance = %d", bal.Balance)
	}
}

func multipartPDF(t *testing.T, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "coa.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(fw, content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func (h *harness) upload(path, as, content string) *httptest.ResponseRecorder {
	body, contentType := multipartPDF(h.t, content)
	req := httptest.NewRequest("POST", path, body)
	req.Header.Set("Content-Type", contentType)
	h.signer.Issue(as, time.Minute, time.Now()).Apply(req)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestLabReportUpload(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()

	rec := h.upload("/assets/1/lab-report", "cultivator", "%PDF-1.4\n% lab results\n")
	h.expect(rec, http.StatusAccepted)
	resp := decode[LabReportResponse](t, rec)
	if resp.Handle != 1 || resp.Status != "queued" {
		t.Fatalf("response = %+v", resp)
	}
	if _, ok := h.reports.objects[resp.ObjectKey]; !ok {
		t.Fatalf("object %s not stored", resp.ObjectKey)
	}
	if len(h.queue.tasks) != 1 || h.queue.tasks[0].Type() != queue.ExtractLabReportTask {
		t.Fatalf("expected one extraction task, got %d", len(h.queue.tasks))
	}
	payload, err := queue.DecodeLabReport(h.queue.tasks[0])
	if err != nil || payload.ReportID != resp.ReportID || payload.Handle != 1 {
		t.Fatalf("payload = %+v (%v)", payload, err)
	}

	h.expect(h.upload("/assets/1/lab-report", "processor", "%PDF-1.4\n"), http.StatusForbidden)
	h.expect(h.upload("/assets/7/lab-report", "cultivator", "%PDF-1.4\n"), http.StatusNotFound)
	h.expect(h.upload("/assets/1/lab-report", "cultivator", "plain text, not a pdf"), http.StatusBadRequest)

	rec = h.do("GET", "/assets/1/lab-reports/"+resp.ReportID+"/text-url", "", nil)
	h.expect(rec, http.StatusOK)
	if url := decode[map[string]string](t, rec)["url"]; !strings.HasSuffix(url, resp.ReportID+".txt") {
		t.Fatalf("url = %s", url)
	}
}

func TestLabReportsDisabled(t *testing.T) {
	cfg := &config.Config{MaxFileSize: 1 << 20, CredentialTTL: time.Minute}
	signer := signing.NewSigner([]byte("s"))
	handler := New(cfg, tracker.New(storage.NewMemoryStore()), signer).Handler()
	req := httptest.NewRequest("POST", "/assets/1/lab-report", nil)
	signer.Issue("cultivator", time.Minute, time.Now()).Apply(req)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	recorder := metrics.NewRecorder()
	h := newHarness(t, WithMetricsHandler(recorder.Handler()))
	recorder.Observe(context.Background(), "mint", true, time.Millisecond)
	rec := h.do("GET", "/metrics", "", nil)
	h.expect(rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "seedtrace_operations_total") {
		t.Fatalf("metrics body missing counter")
	}
}

func TestStageOutsideLifecycle(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	for _, target := range []any{8, 99, "8", "harvest_moon"} {
		rec := h.do("POST", "/assets/1/state", "cultivator", map[string]any{"toState": target})
		h.expect(rec, http.StatusUnprocessableEntity)
	}
	rec := h.do("GET", "/assets/1/history", "", nil)
	h.expect(rec, http.StatusOK)
	if history := decode[[]model.StateTransition](t, rec); len(history) != 0 {
		t.Fatalf("rejected targets left history %+v", history)
	}
}
