package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"verifai/internal/callback"
	"verifai/internal/domain"
	"verifai/internal/imagesource"
)

type stubFetcher struct {
	data []byte
	err  error
}

func (s stubFetcher) Fetch(context.Context, imagesource.Reference) ([]byte, error) {
	return s.data, s.err
}

type stubExtractor struct {
	md    domain.Metadata
	err   error
	panic bool
}

func (s stubExtractor) Extract([]byte) (domain.Metadata, error) {
	if s.panic {
		panic("corrupt header")
	}
	return s.md, s.err
}

type stubChecker struct{}

func (stubChecker) Check(context.Context, []byte) (domain.Provenance, error) {
	return domain.Provenance{Notes: []string{"C2PA verification not yet implemented"}}, nil
}

type stubDetector struct {
	score *int
	panic bool
}

func (s stubDetector) Detect(context.Context, []byte) *int {
	if s.panic {
		panic("cuda out of memory")
	}
	return s.score
}

type delivery struct {
	url     string
	payload any
}

// recordingCallback records every delivery and fails the first failFirst of them.
type recordingCallback struct {
	mu        sync.Mutex
	calls     []delivery
	failFirst int
	failAll   bool
}

func (r *recordingCallback) Deliver(_ context.Context, url string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, delivery{url: url, payload: payload})
	if r.failAll || len(r.calls) <= r.failFirst {
		return domain.ErrDelivery
	}
	return nil
}

func (r *recordingCallback) snapshot() []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery(nil), r.calls...)
}

func goodMetadata() domain.Metadata {
	return domain.Metadata{HasEXIF: true, CameraMakeModel: domain.StringPtr("Canon EOS R5"), Width: 1024, Height: 768, Format: "JPEG"}
}

func newOrchestrator(fetch stubFetcher, ext stubExtractor, det stubDetector, cb callback.Deliverer) *Orchestrator {
	return New(Deps{
		Fetcher:    fetch,
		Extractor:  ext,
		Provenance: stubChecker{},
		Detector:   det,
		Callback:   cb,
		Logger:     zerolog.Nop(),
	})
}

func testJob() Job {
	return Job{ID: "job-1", ImageURL: "https://img.example/1.jpg", CallbackURL: "https://api.example/callback"}
}

func TestRunDeliversReport(t *testing.T) {
	cb := &recordingCallback{}
	score := 95
	o := newOrchestrator(stubFetcher{data: []byte("img")}, stubExtractor{md: goodMetadata()}, stubDetector{score: &score}, cb)

	out := o.Run(context.Background(), testJob())
	if out.Err != nil || out.Status != domain.JobStatusDone {
		t.Fatalf("outcome = %+v", out)
	}
	calls := cb.snapshot()
	if len(calls) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(calls))
	}
	report, ok := calls[0].payload.(domain.AnalysisReport)
	if !ok {
		t.Fatalf("payload type = %T", calls[0].payload)
	}
	if calls[0].url != testJob().CallbackURL || report.JobID != "job-1" || report.Status != domain.JobStatusDone {
		t.Fatalf("unexpected delivery: %+v", calls[0])
	}
	if *report.Confidence != domain.ConfidenceHigh || *report.AILikelihood != 95 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestRunFailuresDeliverFailurePayload(t *testing.T) {
	tests := []struct {
		name      string
		fetch     stubFetcher
		extractor stubExtractor
		wantErr   error
		wantText  string
	}{
		{
			name:     "fetch fails",
			fetch:    stubFetcher{err: errors.Join(domain.ErrAcquisition, errors.New("http 404"))},
			wantErr:  domain.ErrAcquisition,
			wantText: "http 404",
		},
		{
			name:      "metadata fails",
			fetch:     stubFetcher{data: []byte("img")},
			extractor: stubExtractor{err: errors.New("unknown format")},
			wantErr:   domain.ErrCollaborator,
			wantText:  "unknown format",
		},
		{
			name:      "metadata panics",
			fetch:     stubFetcher{data: []byte("img")},
			extractor: stubExtractor{panic: true},
			wantErr:   domain.ErrCollaborator,
			wantText:  "corrupt header",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := &recordingCallback{}
			o := newOrchestrator(tt.fetch, tt.extractor, stubDetector{}, cb)
			out := o.Run(context.Background(), testJob())

			if out.Status != domain.JobStatusFailed || !errors.Is(out.Err, tt.wantErr) {
				t.Fatalf("outcome = %+v", out)
			}
			calls := cb.snapshot()
			if len(calls) != 1 {
				t.Fatalf("deliveries = %d, want exactly 1", len(calls))
			}
			payload, ok := calls[0].payload.(domain.FailurePayload)
			if !ok {
				t.Fatalf("payload type = %T", calls[0].payload)
			}
			if payload.JobID != "job-1" || payload.Status != domain.JobStatusFailed {
				t.Fatalf("payload = %+v", payload)
			}
			if !strings.Contains(payload.Error, tt.wantText) {
				t.Fatalf("error text %q missing %q", payload.Error, tt.wantText)
			}
		})
	}
}

func TestRunReportDeliveryFailureFallsBack(t *testing.T) {
	cb := &recordingCallback{failFirst: 1}
	score := 50
	o := newOrchestrator(stubFetcher{data: []byte("img")}, stubExtractor{md: goodMetadata()}, stubDetector{score: &score}, cb)

	out := o.Run(context.Background(), testJob())
	if out.Status != domain.JobStatusFailed || !errors.Is(out.Err, domain.ErrDelivery) || out.DeliveryErr != nil {
		t.Fatalf("outcome = %+v", out)
	}
	calls := cb.snapshot()
	if len(calls) != 2 {
		t.Fatalf("deliveries = %d, want report then failure", len(calls))
	}
	if _, ok := calls[0].payload.(domain.AnalysisReport); !ok {
		t.Fatalf("first payload = %T", calls[0].payload)
	}
	if _, ok := calls[1].payload.(domain.FailurePayload); !ok {
		t.Fatalf("second payload = %T", calls[1].payload)
	}
}

func TestRunSwallowsSecondDeliveryFailure(t *testing.T) {
	cb := &recordingCallback{failAll: true}
	o := newOrchestrator(stubFetcher{err: domain.ErrAcquisition}, stubExtractor{}, stubDetector{}, cb)

	out := o.Run(context.Background(), testJob())
	if !errors.Is(out.DeliveryErr, domain.ErrDelivery) {
		t.Fatalf("DeliveryErr = %v", out.DeliveryErr)
	}
	if n := len(cb.snapshot()); n != 1 {
		t.Fatalf("deliveries = %d, want a single failure attempt", n)
	}
}

func TestRunDetectorUnavailableGivesLowConfidence(t *testing.T) {
	for name, det := range map[string]stubDetector{
		"nil score": {},
		"panics":    {panic: true},
	} {
		t.Run(name, func(t *testing.T) {
			cb := &recordingCallback{}
			o := newOrchestrator(stubFetcher{data: []byte("img")}, stubExtractor{md: goodMetadata()}, det, cb)
			out := o.Run(context.Background(), testJob())
			if out.Status != domain.JobStatusDone {
				t.Fatalf("outcome = %+v", out)
			}
			report := cb.snapshot()[0].payload.(domain.AnalysisReport)
			if report.AILikelihood != nil || *report.Confidence != domain.ConfidenceLow {
				t.Fatalf("report = %+v", report)
			}
			if !strings.Contains(*report.VerdictText, "Unable to determine") {
				t.Fatalf("verdict = %q", *report.VerdictText)
			}
		})
	}
}

func TestRunContractViolationFails(t *testing.T) {
	cb := &recordingCallback{}
	bad := 150
	o := newOrchestrator(stubFetcher{data: []byte("img")}, stubExtractor{md: goodMetadata()}, stubDetector{score: &bad}, cb)
	out := o.Run(context.Background(), testJob())
	if !errors.Is(out.Err, domain.ErrContractViolation) {
		t.Fatalf("err = %v", out.Err)
	}
	if _, ok := cb.snapshot()[0].payload.(domain.FailurePayload); !ok {
		t.Fatalf("expected failure payload")
	}
}

func TestSubmitSurvivesCancelledRequestContext(t *testing.T) {
	cb := &recordingCallback{}
	score := 10
	o := newOrchestrator(stubFetcher{data: []byte("img")}, stubExtractor{md: goodMetadata()}, stubDetector{score: &score}, cb)

	ctx, cancel := context.WithCancel(context.Background())
	if err := o.Submit(ctx, testJob()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	cancel()

	waitCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	if err := o.Wait(waitCtx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	calls := cb.snapshot()
	if len(calls) != 1 {
		t.Fatalf("deliveries = %d", len(calls))
	}
	if _, ok := calls[0].payload.(domain.AnalysisReport); !ok {
		t.Fatalf("payload = %T", calls[0].payload)
	}

	o.Close()
	if err := o.Submit(context.Background(), testJob()); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("Submit after Close = %v", err)
	}
}

func TestRunEndToEndOverHTTP(t *testing.T) {
	received := make(chan map[string]any, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer cb-secret" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		received <- body
	}))
	defer srv.Close()

	o := New(Deps{
		Fetcher:    imagesource.NewResolver(imagesource.Options{}),
		Extractor:  stubExtractor{md: domain.Metadata{Width: 640, Height: 480, Format: "JPEG"}},
		Provenance: stubChecker{},
		Detector:   stubDetector{score: domain.Likelihood(72)},
		Callback:   callback.NewClient("cb-secret", time.Second, nil),
		Logger:     zerolog.Nop(),
	})
	job := Job{ID: "job-e2e", ImageURL: "data:image/jpeg;base64,aW1n", CallbackURL: srv.URL}
	if out := o.Run(context.Background(), job); out.Err != nil {
		t.Fatalf("Run: %v", out.Err)
	}
	body := <-received
	if body["status"] != "done" || body["confidence"] != "medium" {
		t.Fatalf("body = %v", body)
	}
	if !strings.Contains(body["verdict_text"].(string), "some indicators") {
		t.Fatalf("verdict = %v", body["verdict_text"])
	}
	md := body["metadata"].(map[string]any)
	if v, ok := md["camera_make_model"]; !ok || v != nil {
		t.Fatalf("camera_make_model must be null, got %v (present=%v)", v, ok)
	}
}
