package submission

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"claims_server/core/domain"
	"claims_server/pkg/apperr"
)

func testPayload() domain.SubmissionPayload {
	j := domain.NewJob("hash-abc", "msg-1")
	f := domain.NewFusedResult()
	f.SetField(domain.FieldServiceDate, domain.DateValue(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)), 0.9, domain.SourceEmail)
	f.SetField(domain.FieldTotalAmount, domain.AmountValue(decimal.RequireFromString("150.80")), 0.9, domain.SourceOCR)
	f.SetField(domain.FieldReceiptNumber, domain.TextValue("INV-100"), 0.9, domain.SourceOCR)
	f.SetField(domain.FieldMemberID, domain.TextValue("ABC123"), 0.9, domain.SourceBoth)
	f.OverallConfidence = 0.9
	j.FusedResult = f
	return domain.BuildSubmissionPayload(j, time.Now())
}

func testGateway(url string) *Gateway {
	return NewGateway(Config{
		BaseURL:          url,
		CallTimeout:      2 * time.Second,
		MaxRetries:       2,
		BaseBackoff:      time.Millisecond,
		BreakerThreshold: 100, // out of the way unless a test wants it
		BreakerOpenTime:  time.Minute,
	})
}

func TestSubmitSuccess(t *testing.T) {
	var gotKey, gotPolicy string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		var body map[string]any
		if err := jsonDecode(r, &body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotPolicy, _ = body["Policy Number"].(string)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"reference_id":"EXT-REF-77"}`))
	}))
	defer srv.Close()

	receipt, err := testGateway(srv.URL).Submit(context.Background(), testPayload(), "hash-abc")
	if err != nil {
		t.Fatal(err)
	}
	if receipt.ReferenceID != "EXT-REF-77" {
		t.Errorf("reference_id = %q", receipt.ReferenceID)
	}
	if gotKey != "hash-abc" {
		t.Errorf("Idempotency-Key = %q, want content hash", gotKey)
	}
	// No policy number extracted, so the member id travels in its place.
	if gotPolicy != "ABC123" {
		t.Errorf("Policy Number = %q, want member id fallback", gotPolicy)
	}
}

func TestSubmitRetriesTransient(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"reference_id":"EXT-REF-1"}`))
	}))
	defer srv.Close()

	receipt, err := testGateway(srv.URL).Submit(context.Background(), testPayload(), "k")
	if err != nil {
		t.Fatal(err)
	}
	if receipt.ReferenceID != "EXT-REF-1" {
		t.Errorf("reference_id = %q", receipt.ReferenceID)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 2 failures then success", calls)
	}
}

func TestSubmitHonorsRetryAfter(t *testing.T) {
	var calls int32
	var gap time.Duration
	var last time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		if atomic.AddInt32(&calls, 1) == 1 {
			last = now
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		gap = now.Sub(last)
		w.Write([]byte(`{"reference_id":"EXT-REF-1"}`))
	}))
	defer srv.Close()

	if _, err := testGateway(srv.URL).Submit(context.Background(), testPayload(), "k"); err != nil {
		t.Fatal(err)
	}
	if gap < time.Second {
		t.Errorf("retried after %v, want at least the 1s Retry-After hint", gap)
	}
}

func TestSubmitValidationRejectionNoRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"Claim Amount must be positive"}`))
	}))
	defer srv.Close()

	_, err := testGateway(srv.URL).Submit(context.Background(), testPayload(), "k")
	if !apperr.IsCode(err, apperr.CodeSubmissionRejected) {
		t.Fatalf("error = %v, want SUBMISSION_REJECTED", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, validation rejection must not retry", calls)
	}
	appErr := apperr.AsAppError(err)
	if appErr.Details["upstream_status"] != http.StatusUnprocessableEntity {
		t.Errorf("details = %v, want upstream status recorded", appErr.Details)
	}
}

func TestSubmitExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testGateway(srv.URL).Submit(context.Background(), testPayload(), "k")
	if !apperr.IsCode(err, apperr.CodeRetryExhausted) {
		t.Fatalf("error = %v, want RETRY_EXHAUSTED", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want initial + 2 retries", calls)
	}
}

func TestSubmitCircuitOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := NewGateway(Config{
		BaseURL:          srv.URL,
		CallTimeout:      time.Second,
		MaxRetries:       5,
		BaseBackoff:      time.Millisecond,
		BreakerThreshold: 3,
		BreakerOpenTime:  time.Minute,
	})

	_, err := g.Submit(context.Background(), testPayload(), "k")
	if !apperr.IsCode(err, apperr.CodeCircuitOpen) {
		t.Fatalf("error = %v, want CIRCUIT_OPEN after the breaker trips mid-retry", err)
	}

	// Subsequent calls fail fast without touching the server.
	start := time.Now()
	_, err = g.Submit(context.Background(), testPayload(), "k2")
	if !apperr.IsCode(err, apperr.CodeCircuitOpen) {
		t.Fatalf("error = %v, want CIRCUIT_OPEN", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("open-circuit call took %v, want fail-fast", elapsed)
	}
}

func jsonDecode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
