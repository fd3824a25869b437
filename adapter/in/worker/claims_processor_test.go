package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"claims_server/core/domain"
	"claims_server/core/port/out"
	"claims_server/core/service/extraction"
	"claims_server/core/service/fusion"
	"claims_server/core/service/job"
	"claims_server/core/service/routing"
	"claims_server/pkg/apperr"
)

type memRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.Job
}

func newMemRepo(jobs ...*domain.Job) *memRepo {
	r := &memRepo{jobs: make(map[uuid.UUID]*domain.Job)}
	for _, j := range jobs {
		r.jobs[j.ID] = j
	}
	return r
}

func (r *memRepo) Create(_ context.Context, j *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = j
	return nil
}
func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, apperr.NotFound("job")
	}
	return j, nil
}
func (r *memRepo) GetByContentHash(context.Context, string) (*domain.Job, error) {
	return nil, apperr.NotFound("job")
}
func (r *memRepo) Update(_ context.Context, j *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = j
	return nil
}
func (r *memRepo) List(context.Context, out.JobFilter) ([]*domain.Job, error) { return nil, nil }
func (r *memRepo) CountByState(context.Context) (map[domain.JobState]int64, error) {
	return nil, nil
}

type fakeIntake struct {
	docs map[string]*domain.IntakeDocument
	err  error
}

func (s *fakeIntake) Save(_ context.Context, doc *domain.IntakeDocument) error {
	s.docs[doc.ContentHash] = doc
	return nil
}
func (s *fakeIntake) GetByContentHash(_ context.Context, hash string) (*domain.IntakeDocument, error) {
	if s.err != nil {
		return nil, s.err
	}
	doc, ok := s.docs[hash]
	if !ok {
		return nil, apperr.NotFound("intake document")
	}
	return doc, nil
}

type fakeOCR struct {
	result *out.OCRResult
	err    error
}

func (o *fakeOCR) Recognize(context.Context, []byte) (*out.OCRResult, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.result, nil
}

type fakeProducer struct {
	submits   []*out.SubmitJob
	submitErr error // consumed by the next PublishSubmit
}

func (p *fakeProducer) PublishExtract(context.Context, *out.ExtractJob) error { return nil }
func (p *fakeProducer) PublishSubmit(_ context.Context, j *out.SubmitJob) error {
	if p.submitErr != nil {
		err := p.submitErr
		p.submitErr = nil
		return err
	}
	p.submits = append(p.submits, j)
	return nil
}

type fakeAudit struct{ entries []out.AuditEntry }

func (a *fakeAudit) Record(_ context.Context, e out.AuditEntry) error {
	a.entries = append(a.entries, e)
	return nil
}

type fakeArchive struct{ entries int }

func (a *fakeArchive) ArchiveResult(context.Context, uuid.UUID, *domain.FusedResult, domain.JobState) error {
	a.entries++
	return nil
}

type fakeGateway struct {
	receipt *out.SubmissionReceipt
	err     error
	calls   int
	keys    []string
}

func (g *fakeGateway) Submit(_ context.Context, _ domain.SubmissionPayload, key string) (*out.SubmissionReceipt, error) {
	g.calls++
	g.keys = append(g.keys, key)
	if g.err != nil {
		return nil, g.err
	}
	return g.receipt, nil
}

func pendingJob() *domain.Job {
	return domain.NewJob("hash-1", "msg-1")
}

func intakeWith(j *domain.Job, subject, body string, attachment []byte) *fakeIntake {
	return &fakeIntake{docs: map[string]*domain.IntakeDocument{
		j.ContentHash: {
			ContentHash: j.ContentHash,
			MessageID:   j.MessageID,
			Subject:     subject,
			Body:        body,
			Attachment:  attachment,
			ReceivedAt:  time.Now(),
		},
	}}
}

func newExtractionProcessor(repo *memRepo, intake *fakeIntake, ocr *fakeOCR) (*ExtractionProcessor, *fakeProducer, *fakeAudit) {
	extractor := extraction.NewFieldExtractor(extraction.MustCompile(extraction.DefaultPatternTable))
	producer := &fakeProducer{}
	audit := &fakeAudit{}
	p := NewExtractionProcessor(
		repo,
		intake,
		extraction.NewEmailAdapter(extractor),
		ocr,
		extraction.NewOCRAdapter(),
		fusion.NewEngine(fusion.DefaultOptions()),
		routing.NewRouter(routing.DefaultThresholds()),
		job.NewStateMachine(repo, 3),
		producer,
		audit,
	)
	return p, producer, audit
}

func extractMsg(j *domain.Job) *Message {
	return NewMessage(JobClaimsExtract, map[string]any{
		"job_id":       j.ID.String(),
		"content_hash": j.ContentHash,
	})
}

const agreeBody = `Member ID: ABC12345
Service Date: 15/03/2024
Receipt No: INV-2024-100
Total: RM 150.80`

func highConfidenceOCR() *out.OCRResult {
	return &out.OCRResult{
		Fields: []out.OCRField{
			{Field: domain.FieldMemberID, RawValue: "ABC12345", Confidence: 0.97},
			{Field: domain.FieldServiceDate, RawValue: "15/03/2024", Confidence: 0.95},
			{Field: domain.FieldReceiptNumber, RawValue: "INV-2024-100", Confidence: 0.96},
			{Field: domain.FieldTotalAmount, RawValue: "RM 150.80", Confidence: 0.95},
		},
	}
}

func TestProcessExtractHighConfidence(t *testing.T) {
	j := pendingJob()
	repo := newMemRepo(j)
	p, producer, _ := newExtractionProcessor(repo, intakeWith(j, "Claim submission", agreeBody, []byte("img")), &fakeOCR{result: highConfidenceOCR()})

	if err := p.ProcessExtract(context.Background(), extractMsg(j)); err != nil {
		t.Fatalf("ProcessExtract: %v", err)
	}

	got, _ := repo.GetByID(context.Background(), j.ID)
	if got.State != domain.JobExtracted {
		t.Fatalf("state = %s, want EXTRACTED pending submission", got.State)
	}
	if got.FusedResult == nil || got.FusedResult.OverallConfidence < 0.90 {
		t.Fatalf("expected high fused confidence, got %+v", got.FusedResult)
	}
	if len(producer.submits) != 1 {
		t.Fatalf("submits = %d, want 1", len(producer.submits))
	}
	if producer.submits[0].ReviewFlag {
		t.Fatal("high confidence path must not carry a review flag")
	}
	if producer.submits[0].JobID != j.ID.String() {
		t.Fatalf("submit job id = %s, want %s", producer.submits[0].JobID, j.ID)
	}
}

func TestProcessExtractMediumRoutesToReview(t *testing.T) {
	// Weaker patterns: generic date (0.75) and unlabeled amount (0.60) pull
	// the required mean to 0.8125, inside the review band.
	body := `Member ID: ABC12345
Date: 15/03/2024
Receipt No: INV-2024-100
RM 150.80`
	j := pendingJob()
	repo := newMemRepo(j)
	p, producer, _ := newExtractionProcessor(repo, intakeWith(j, "Claim", body, nil), &fakeOCR{})

	if err := p.ProcessExtract(context.Background(), extractMsg(j)); err != nil {
		t.Fatalf("ProcessExtract: %v", err)
	}

	got, _ := repo.GetByID(context.Background(), j.ID)
	if got.State != domain.JobReviewRequired {
		t.Fatalf("state = %s, want REVIEW_REQUIRED", got.State)
	}
	if !got.ReviewFlag {
		t.Fatal("review flag not set")
	}
	if len(producer.submits) != 1 || !producer.submits[0].ReviewFlag {
		t.Fatalf("expected one flagged submit, got %+v", producer.submits)
	}
}

func TestProcessExtractMissingRequiredIsException(t *testing.T) {
	j := pendingJob()
	repo := newMemRepo(j)
	body := "Member ID: ABC12345\nTotal: RM 99.00" // no date, no receipt number
	p, producer, audit := newExtractionProcessor(repo, intakeWith(j, "Claim", body, nil), &fakeOCR{})

	if err := p.ProcessExtract(context.Background(), extractMsg(j)); err != nil {
		t.Fatalf("ProcessExtract: %v", err)
	}

	got, _ := repo.GetByID(context.Background(), j.ID)
	if got.State != domain.JobException {
		t.Fatalf("state = %s, want EXCEPTION", got.State)
	}
	if len(producer.submits) != 0 {
		t.Fatal("exception path must not publish a submit job")
	}
	if len(audit.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(audit.entries))
	}
	if !strings.Contains(audit.entries[0].Reason, "missing required") {
		t.Fatalf("audit reason = %q", audit.entries[0].Reason)
	}
}

func TestProcessExtractOCRFailureDegradesToEmailOnly(t *testing.T) {
	j := pendingJob()
	repo := newMemRepo(j)
	p, _, _ := newExtractionProcessor(repo, intakeWith(j, "Claim", agreeBody, []byte("img")), &fakeOCR{err: errors.New("engine down")})

	if err := p.ProcessExtract(context.Background(), extractMsg(j)); err != nil {
		t.Fatalf("ProcessExtract: %v", err)
	}

	got, _ := repo.GetByID(context.Background(), j.ID)
	if got.FusedResult == nil {
		t.Fatal("no fused result")
	}
	found := false
	for _, w := range got.FusedResult.Warnings {
		if strings.Contains(w, "ocr engine error") {
			found = true
		}
	}
	if !found {
		t.Fatalf("warnings = %v, want an ocr engine warning", got.FusedResult.Warnings)
	}
	for f, src := range got.FusedResult.FieldSources {
		if src != domain.SourceEmail {
			t.Fatalf("field %s sourced from %s, want email only", f, src)
		}
	}
}

func TestProcessExtractRedeliverySkipsCompletedJob(t *testing.T) {
	j := pendingJob()
	j.State = domain.JobSubmitted
	repo := newMemRepo(j)
	p, producer, _ := newExtractionProcessor(repo, &fakeIntake{docs: map[string]*domain.IntakeDocument{}}, &fakeOCR{})

	if err := p.ProcessExtract(context.Background(), extractMsg(j)); err != nil {
		t.Fatalf("ProcessExtract: %v", err)
	}
	if len(producer.submits) != 0 {
		t.Fatal("redelivery must not republish")
	}
	got, _ := repo.GetByID(context.Background(), j.ID)
	if got.State != domain.JobSubmitted {
		t.Fatalf("state mutated to %s", got.State)
	}
}

func TestProcessExtractResumesRoutingAfterFailedPublish(t *testing.T) {
	j := pendingJob()
	repo := newMemRepo(j)
	p, producer, _ := newExtractionProcessor(repo, intakeWith(j, "Claim submission", agreeBody, []byte("img")), &fakeOCR{result: highConfidenceOCR()})
	producer.submitErr = errors.New("stream unavailable")

	// First delivery: extraction lands but the submit publish fails, so the
	// message must stay pending with the result stored.
	if err := p.ProcessExtract(context.Background(), extractMsg(j)); err == nil {
		t.Fatal("failed publish must leave the message pending")
	}
	got, _ := repo.GetByID(context.Background(), j.ID)
	if got.State != domain.JobExtracted {
		t.Fatalf("state = %s, want EXTRACTED", got.State)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", got.RetryCount)
	}
	if len(producer.submits) != 0 {
		t.Fatal("no submit job should exist yet")
	}

	// Redelivery picks the job up at EXTRACTED and finishes the routing.
	if err := p.ProcessExtract(context.Background(), extractMsg(j)); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(producer.submits) != 1 || producer.submits[0].ReviewFlag {
		t.Fatalf("expected one unflagged submit, got %+v", producer.submits)
	}
	got, _ = repo.GetByID(context.Background(), j.ID)
	if got.State != domain.JobExtracted {
		t.Fatalf("state = %s, want EXTRACTED awaiting the submission worker", got.State)
	}
}

func TestProcessExtractRoutesStoredResultWithoutReloadingSources(t *testing.T) {
	// A worker crash between the extraction write and the publish leaves an
	// EXTRACTED job; the reclaim must route it from the stored result alone.
	j := extractedJob()
	repo := newMemRepo(j)
	p, producer, _ := newExtractionProcessor(repo, &fakeIntake{err: errors.New("unreachable")}, &fakeOCR{err: errors.New("unreachable")})

	if err := p.ProcessExtract(context.Background(), extractMsg(j)); err != nil {
		t.Fatalf("ProcessExtract: %v", err)
	}
	if len(producer.submits) != 1 {
		t.Fatalf("submits = %d, want 1 from the stored result", len(producer.submits))
	}
}

func TestProcessExtractTransientIntakeFailure(t *testing.T) {
	j := pendingJob()
	repo := newMemRepo(j)
	intake := &fakeIntake{err: errors.New("mongo timeout")}
	p, _, _ := newExtractionProcessor(repo, intake, &fakeOCR{})

	err := p.ProcessExtract(context.Background(), extractMsg(j))
	if err == nil {
		t.Fatal("expected error to leave the message pending")
	}

	got, _ := repo.GetByID(context.Background(), j.ID)
	if got.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", got.RetryCount)
	}
	if got.State != domain.JobExtracting {
		t.Fatalf("state = %s, want EXTRACTING for redelivery", got.State)
	}
}

func TestProcessExtractTransientExhaustionFails(t *testing.T) {
	j := pendingJob()
	j.RetryCount = 2
	repo := newMemRepo(j)
	intake := &fakeIntake{err: errors.New("mongo timeout")}
	p, _, _ := newExtractionProcessor(repo, intake, &fakeOCR{})

	// Third strike hits the cap: the job fails and the message is acked.
	if err := p.ProcessExtract(context.Background(), extractMsg(j)); err != nil {
		t.Fatalf("exhausted message must be acked, got %v", err)
	}
	got, _ := repo.GetByID(context.Background(), j.ID)
	if got.State != domain.JobFailed {
		t.Fatalf("state = %s, want FAILED", got.State)
	}
}

// ---------------------------------------------------------------------------
// Submission processor
// ---------------------------------------------------------------------------

func extractedJob() *domain.Job {
	j := domain.NewJob("hash-sub", "msg-2")
	j.State = domain.JobExtracted
	f := domain.NewFusedResult()
	f.SetField(domain.FieldMemberID, domain.TextValue("ABC12345"), 0.95, domain.SourceBoth)
	f.SetField(domain.FieldServiceDate, domain.DateValue(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)), 0.94, domain.SourceBoth)
	f.SetField(domain.FieldReceiptNumber, domain.TextValue("INV-2024-100"), 0.95, domain.SourceBoth)
	f.SetField(domain.FieldTotalAmount, domain.TextValue("150.80"), 0.95, domain.SourceBoth)
	f.OverallConfidence = 0.95
	j.FusedResult = f
	return j
}

func submitMsg(j *domain.Job, flagged bool) *Message {
	return NewMessage(JobClaimsSubmit, map[string]any{
		"job_id":      j.ID.String(),
		"review_flag": flagged,
	})
}

func newSubmissionProcessor(repo *memRepo, gw *fakeGateway) (*SubmissionProcessor, *fakeArchive, *fakeAudit) {
	archive := &fakeArchive{}
	audit := &fakeAudit{}
	p := NewSubmissionProcessor(repo, gw, job.NewStateMachine(repo, 3), archive, audit)
	return p, archive, audit
}

func TestProcessSubmitSuccess(t *testing.T) {
	j := extractedJob()
	repo := newMemRepo(j)
	gw := &fakeGateway{receipt: &out.SubmissionReceipt{ReferenceID: "EXT-42"}}
	p, archive, audit := newSubmissionProcessor(repo, gw)

	if err := p.ProcessSubmit(context.Background(), submitMsg(j, false)); err != nil {
		t.Fatalf("ProcessSubmit: %v", err)
	}

	got, _ := repo.GetByID(context.Background(), j.ID)
	if got.State != domain.JobSubmitted {
		t.Fatalf("state = %s, want SUBMITTED", got.State)
	}
	if got.SubmissionRef != "EXT-42" {
		t.Fatalf("submission ref = %q", got.SubmissionRef)
	}
	if gw.keys[0] != j.ContentHash {
		t.Fatalf("idempotency key = %q, want content hash", gw.keys[0])
	}
	if archive.entries != 1 {
		t.Fatalf("archive writes = %d, want 1", archive.entries)
	}
	if len(audit.entries) != 1 || audit.entries[0].SubmissionRef != "EXT-42" {
		t.Fatalf("audit = %+v", audit.entries)
	}
}

func TestProcessSubmitFlaggedStaysInReview(t *testing.T) {
	j := extractedJob()
	j.State = domain.JobReviewRequired
	j.ReviewFlag = true
	repo := newMemRepo(j)
	gw := &fakeGateway{receipt: &out.SubmissionReceipt{ReferenceID: "EXT-77"}}
	p, archive, _ := newSubmissionProcessor(repo, gw)

	if err := p.ProcessSubmit(context.Background(), submitMsg(j, true)); err != nil {
		t.Fatalf("ProcessSubmit: %v", err)
	}

	got, _ := repo.GetByID(context.Background(), j.ID)
	if got.State != domain.JobReviewRequired {
		t.Fatalf("state = %s, want REVIEW_REQUIRED held for the reviewer", got.State)
	}
	if got.SubmissionRef != "EXT-77" {
		t.Fatalf("submission ref = %q", got.SubmissionRef)
	}
	if archive.entries != 0 {
		t.Fatal("flagged submit must not archive before the reviewer decides")
	}
}

func TestProcessSubmitRejectionIsException(t *testing.T) {
	j := extractedJob()
	repo := newMemRepo(j)
	gw := &fakeGateway{err: apperr.SubmissionRejected(422, "bad member id")}
	p, _, _ := newSubmissionProcessor(repo, gw)

	if err := p.ProcessSubmit(context.Background(), submitMsg(j, false)); err != nil {
		t.Fatalf("rejection must ack, got %v", err)
	}

	got, _ := repo.GetByID(context.Background(), j.ID)
	if got.State != domain.JobException {
		t.Fatalf("state = %s, want EXCEPTION", got.State)
	}
	if got.RetryCount != 0 {
		t.Fatal("validation rejection must not consume retries")
	}
	if gw.calls != 1 {
		t.Fatalf("gateway calls = %d, want 1", gw.calls)
	}
}

func TestProcessSubmitTransientLeavesPending(t *testing.T) {
	j := extractedJob()
	repo := newMemRepo(j)
	gw := &fakeGateway{err: apperr.RetryExhausted(4, errors.New("upstream 502"))}
	p, _, _ := newSubmissionProcessor(repo, gw)

	if err := p.ProcessSubmit(context.Background(), submitMsg(j, false)); err == nil {
		t.Fatal("transient failure must leave the message pending")
	}
	got, _ := repo.GetByID(context.Background(), j.ID)
	if got.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", got.RetryCount)
	}
	if got.State != domain.JobExtracted {
		t.Fatalf("state = %s, want EXTRACTED", got.State)
	}
}

func TestProcessSubmitBreakerOpenKeepsRetryBudget(t *testing.T) {
	j := extractedJob()
	repo := newMemRepo(j)
	gw := &fakeGateway{err: apperr.CircuitOpen("claim-submission-api")}
	p, _, _ := newSubmissionProcessor(repo, gw)

	if err := p.ProcessSubmit(context.Background(), submitMsg(j, false)); err == nil {
		t.Fatal("breaker fail-fast must leave the message pending")
	}
	got, _ := repo.GetByID(context.Background(), j.ID)
	if got.RetryCount != 0 {
		t.Fatalf("retry count = %d, a fail-fast is not an attempt", got.RetryCount)
	}
	if got.State != domain.JobExtracted {
		t.Fatalf("state = %s, want EXTRACTED", got.State)
	}
}

func TestProcessSubmitSkipsWhenRefAlreadySet(t *testing.T) {
	j := extractedJob()
	j.SubmissionRef = "EXT-OLD"
	repo := newMemRepo(j)
	gw := &fakeGateway{receipt: &out.SubmissionReceipt{ReferenceID: "EXT-NEW"}}
	p, _, _ := newSubmissionProcessor(repo, gw)

	if err := p.ProcessSubmit(context.Background(), submitMsg(j, false)); err != nil {
		t.Fatalf("ProcessSubmit: %v", err)
	}
	if gw.calls != 0 {
		t.Fatal("redelivery with an existing ref must not resubmit")
	}
}
