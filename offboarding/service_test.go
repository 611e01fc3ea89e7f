package offboarding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"contractorflow/collab"
	"contractorflow/contractor"
)

var testNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc         *Service
	pool        *fakePool
	store       *memStore
	contractors *fakeContractors
	renderer    *fakeRenderer
	objects     *fakeObjectStore
	notifier    *fakeNotifier
}

func newFixture() *fixture {
	f := &fixture{
		pool:        &fakePool{},
		store:       newMemStore(),
		contractors: newFakeContractors(),
		renderer:    &fakeRenderer{},
		objects:     &fakeObjectStore{},
		notifier:    &fakeNotifier{ok: true},
	}
	f.svc = NewService(f.pool, f.store, f.contractors, f.renderer, f.objects, f.notifier, nil).
		WithClock(func() time.Time { return testNow }).
		WithIDGenerator(func() string { return "offb-1" })
	return f
}

func (f *fixture) seed(rec Record) Record {
	if rec.ID == "" {
		rec.ID = "offb-seeded"
	}
	if rec.ContractorID == "" {
		rec.ContractorID = f.contractors.ctr.ID
	}
	if rec.LastWorkingDay.IsZero() {
		rec.LastWorkingDay = date(2025, time.June, 15)
	}
	f.store.records[rec.ID] = rec
	return rec
}

func TestInitiate_NoticePeriodWhenNoticeToServe(t *testing.T) {
	f := newFixture()

	rec, err := f.svc.Initiate(context.Background(), InitiateParams{
		ContractorID:   f.contractors.ctr.ID,
		Reason:         ReasonResignation,
		LastWorkingDay: date(2025, time.June, 30),
		NoticeDays:     30,
		InitiatedBy:    "admin-1",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if rec.Status != StatusNoticePeriod {
		t.Fatalf("expected notice_period, got %s", rec.Status)
	}
	if f.contractors.ctr.Status != contractor.StatusNoticePeriod {
		t.Fatalf("contractor should flip to notice_period, got %s", f.contractors.ctr.Status)
	}
	if !f.pool.tx.committed {
		t.Fatal("expected commit")
	}
}

func TestInitiate_PendingSettlementWithoutNotice(t *testing.T) {
	f := newFixture()

	rec, err := f.svc.Initiate(context.Background(), InitiateParams{
		ContractorID:   f.contractors.ctr.ID,
		Reason:         ReasonTermination,
		LastWorkingDay: date(2025, time.June, 1),
		NoticeDays:     0,
		InitiatedBy:    "admin-1",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if rec.Status != StatusPendingSettlement {
		t.Fatalf("expected pending_settlement, got %s", rec.Status)
	}
	if f.contractors.ctr.Status != contractor.StatusOffboarding {
		t.Fatalf("contractor should flip to offboarding, got %s", f.contractors.ctr.Status)
	}
}

func TestInitiate_RejectsNonOffboardableContractor(t *testing.T) {
	f := newFixture()
	f.contractors.ctr.Status = contractor.StatusOnboarding

	_, err := f.svc.Initiate(context.Background(), InitiateParams{
		ContractorID:   f.contractors.ctr.ID,
		Reason:         ReasonResignation,
		LastWorkingDay: date(2025, time.June, 30),
	})
	if !errors.Is(err, ErrNotOffboardable) {
		t.Fatalf("expected ErrNotOffboardable, got %v", err)
	}
	if f.pool.tx.committed {
		t.Fatal("rejected initiation must not commit")
	}
}

func TestInitiate_RejectsUnknownReason(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Initiate(context.Background(), InitiateParams{
		ContractorID:   f.contractors.ctr.ID,
		Reason:         Reason("rage_quit"),
		LastWorkingDay: date(2025, time.June, 30),
	})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "reason" {
		t.Fatalf("expected reason ValidationError, got %v", err)
	}
}

func TestInitiate_SecondActiveOffboardingLoses(t *testing.T) {
	f := newFixture()
	f.seed(Record{Status: StatusPendingSettlement})

	_, err := f.svc.Initiate(context.Background(), InitiateParams{
		ContractorID:   f.contractors.ctr.ID,
		Reason:         ReasonResignation,
		LastWorkingDay: date(2025, time.June, 30),
	})
	if !errors.Is(err, ErrActiveOffboarding) {
		t.Fatalf("expected ErrActiveOffboarding, got %v", err)
	}
	if f.pool.tx.committed {
		t.Fatal("losing initiation must not commit")
	}
}

func TestInitiate_AllowedAfterTerminalRecord(t *testing.T) {
	f := newFixture()
	f.seed(Record{ID: "old", Status: StatusCancelled})

	rec, err := f.svc.Initiate(context.Background(), InitiateParams{
		ContractorID:   f.contractors.ctr.ID,
		Reason:         ReasonContractEnd,
		LastWorkingDay: date(2025, time.June, 30),
	})
	if err != nil {
		t.Fatalf("initiate after cancelled record: %v", err)
	}
	if rec.ID == "old" {
		t.Fatal("expected a fresh record")
	}
}

func TestCalculateSettlement_CachedOnActiveRecord(t *testing.T) {
	f := newFixture()
	rec := f.seed(Record{Status: StatusPendingSettlement})

	s, err := f.svc.CalculateSettlement(context.Background(), f.contractors.ctr.ID, testNow)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if !f.pool.tx.committed {
		t.Fatal("caching onto a record must commit")
	}
	cached := f.store.records[rec.ID].Settlement
	if cached == nil || !cached.Total.Equal(s.Total) {
		t.Fatalf("settlement not cached onto the record: %+v", cached)
	}
	if f.store.records[rec.ID].Status != StatusPendingSettlement {
		t.Fatal("caching a settlement is not a state transition")
	}
	if !s.Total.Equal(dec("32265.21")) {
		t.Fatalf("total: got %s want 32265.21", s.Total)
	}
}

func TestCalculateSettlement_PreviewWithoutRecord(t *testing.T) {
	f := newFixture()
	end := date(2025, time.June, 15)
	f.contractors.ctr.EndDate = &end

	s, err := f.svc.CalculateSettlement(context.Background(), f.contractors.ctr.ID, testNow)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if f.pool.tx.committed {
		t.Fatal("a preview must not commit anything")
	}
	if !s.Total.Equal(dec("32265.21")) {
		t.Fatalf("total: got %s want 32265.21", s.Total)
	}
}

func TestApproveSettlement(t *testing.T) {
	f := newFixture()
	s, err := CalculateSettlement(referenceInput(), testNow)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	rec := f.seed(Record{Status: StatusPendingSettlement, Settlement: &s})

	reimb := dec("500")
	got, err := f.svc.ApproveSettlement(context.Background(), rec.ID, "finance-1", &Adjustments{Reimbursements: &reimb})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != StatusPendingDocuments {
		t.Fatalf("expected pending_documents, got %s", got.Status)
	}
	if got.SettlementApprovedBy == nil || *got.SettlementApprovedBy != "finance-1" {
		t.Fatalf("expected approver, got %+v", got.SettlementApprovedBy)
	}
	want := s.Total.Add(dec("500"))
	if !got.Settlement.Total.Equal(want) {
		t.Fatalf("adjusted total: got %s want %s", got.Settlement.Total, want)
	}
}

func TestApproveSettlement_RequiresCalculation(t *testing.T) {
	f := newFixture()
	rec := f.seed(Record{Status: StatusPendingSettlement})

	_, err := f.svc.ApproveSettlement(context.Background(), rec.ID, "finance-1", nil)
	if !errors.Is(err, ErrSettlementMissing) {
		t.Fatalf("expected ErrSettlementMissing, got %v", err)
	}
}

func TestApproveSettlement_WrongState(t *testing.T) {
	f := newFixture()
	s, _ := CalculateSettlement(referenceInput(), testNow)
	rec := f.seed(Record{Status: StatusPendingApproval, Settlement: &s})

	_, err := f.svc.ApproveSettlement(context.Background(), rec.ID, "finance-1", nil)
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
}

func TestGenerateDocuments(t *testing.T) {
	f := newFixture()
	rec := f.seed(Record{Status: StatusPendingDocuments})

	got, err := f.svc.GenerateDocuments(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("generate documents: %v", err)
	}
	if got.Status != StatusPendingApproval {
		t.Fatalf("expected pending_approval, got %s", got.Status)
	}
	if got.DocumentsGeneratedAt == nil {
		t.Fatal("expected documents_generated_at")
	}
	for name, url := range map[string]*string{
		"termination letter":    got.TerminationLetterURL,
		"experience letter":     got.ExperienceLetterURL,
		"clearance certificate": got.ClearanceCertificateURL,
	} {
		if url == nil || *url == "" {
			t.Errorf("expected %s URL on the record", name)
		}
	}
	stored := f.store.records[rec.ID]
	if stored.TerminationLetterURL == nil || *stored.TerminationLetterURL == "" {
		t.Fatal("expected termination letter URL persisted on the record")
	}
	if len(f.contractors.documents) != 3 {
		t.Fatalf("expected 3 documents appended, got %d", len(f.contractors.documents))
	}
	types := map[string]bool{}
	for _, d := range f.contractors.documents {
		types[d.Type] = true
	}
	for _, want := range []string{DocTerminationLetter, DocExperienceLetter, DocClearanceCertificate} {
		if !types[want] {
			t.Errorf("missing %s in appended documents", want)
		}
	}
}

func TestGenerateDocuments_RendererFailureRollsBack(t *testing.T) {
	f := newFixture()
	rec := f.seed(Record{Status: StatusPendingDocuments})
	f.renderer.err = errors.New("layout engine down")

	_, err := f.svc.GenerateDocuments(context.Background(), rec.ID)
	var ee *collab.ExternalError
	if !errors.As(err, &ee) || ee.Service != collab.ServiceRenderer {
		t.Fatalf("expected renderer ExternalError, got %v", err)
	}
	if f.pool.tx.committed {
		t.Fatal("renderer failure must not commit")
	}
	if f.store.records[rec.ID].Status != StatusPendingDocuments {
		t.Fatal("record must stay pending_documents, safe to retry")
	}
	if len(f.contractors.documents) != 0 {
		t.Fatal("no document references may persist on failure")
	}
}

func TestComplete(t *testing.T) {
	f := newFixture()
	rec := f.seed(Record{Status: StatusPendingApproval})

	got, err := f.svc.Complete(context.Background(), rec.ID, "admin-1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if f.contractors.ctr.Status != contractor.StatusOffboarded {
		t.Fatalf("contractor should flip to offboarded, got %s", f.contractors.ctr.Status)
	}
}

func TestComplete_OnlyFromPendingApproval(t *testing.T) {
	for _, status := range []Status{StatusNoticePeriod, StatusPendingSettlement, StatusPendingDocuments, StatusCompleted, StatusCancelled} {
		f := newFixture()
		rec := f.seed(Record{Status: status})
		_, err := f.svc.Complete(context.Background(), rec.ID, "admin-1")
		var te *TransitionError
		if !errors.As(err, &te) {
			t.Errorf("complete from %s: expected TransitionError, got %v", status, err)
		}
	}
}

func TestCancel_RestoresContractor(t *testing.T) {
	f := newFixture()
	rec := f.seed(Record{Status: StatusNoticePeriod})
	f.contractors.ctr.Status = contractor.StatusNoticePeriod

	got, err := f.svc.Cancel(context.Background(), rec.ID, "admin-1", "contractor retained")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if got.CancelReason == nil || *got.CancelReason != "contractor retained" {
		t.Fatalf("expected recorded reason, got %+v", got.CancelReason)
	}
	if f.contractors.ctr.Status != contractor.StatusActive {
		t.Fatalf("contractor should be restored to active, got %s", f.contractors.ctr.Status)
	}
}

func TestCancel_TerminalRecord(t *testing.T) {
	f := newFixture()
	rec := f.seed(Record{Status: StatusCompleted})

	_, err := f.svc.Cancel(context.Background(), rec.ID, "admin-1", "too late")
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
}

func TestStatusFor(t *testing.T) {
	f := newFixture()
	approvedAt := testNow
	rec := f.seed(Record{Status: StatusPendingDocuments, Reason: ReasonResignation, SettlementApprovedAt: &approvedAt})

	got, err := f.svc.StatusFor(context.Background(), f.contractors.ctr.ID)
	if err != nil {
		t.Fatalf("status for: %v", err)
	}
	if !got.IsOffboarding || got.OffboardingID != rec.ID {
		t.Fatalf("expected summary for record %s, got %+v", rec.ID, got)
	}
	if got.Status != StatusPendingDocuments || got.Reason != ReasonResignation {
		t.Fatalf("unexpected summary fields: %+v", got)
	}
	// testNow 2025-06-01 to last working day 2025-06-15
	if got.DaysRemaining != 14 {
		t.Fatalf("expected 14 days remaining, got %d", got.DaysRemaining)
	}
	if !got.SettlementApproved || got.DocumentsGenerated {
		t.Fatalf("unexpected progress flags: %+v", got)
	}

	idle, err := f.svc.StatusFor(context.Background(), "ctr-unknown")
	if err != nil {
		t.Fatalf("status for idle contractor: %v", err)
	}
	if idle.IsOffboarding {
		t.Fatalf("expected no live offboarding, got %+v", idle)
	}
}

// memStore is an in-memory Store mirroring the table's guarded
// updates, including the partial-unique-index behavior on insert.
type memStore struct {
	records map[string]Record
}

func newMemStore() *memStore {
	return &memStore{records: map[string]Record{}}
}

func (m *memStore) Insert(_ context.Context, _ pgx.Tx, rec Record) (Record, error) {
	for _, existing := range m.records {
		if existing.ContractorID == rec.ContractorID && !existing.Terminal() {
			return Record{}, ErrActiveOffboarding
		}
	}
	rec.CreatedAt = testNow
	rec.UpdatedAt = testNow
	m.records[rec.ID] = rec
	return rec, nil
}

func (m *memStore) GetForUpdate(_ context.Context, _ pgx.Tx, id string) (Record, error) {
	rec, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *memStore) GetActiveForContractor(_ context.Context, _ pgx.Tx, contractorID string) (Record, error) {
	for _, rec := range m.records {
		if rec.ContractorID == contractorID && !rec.Terminal() {
			return rec, nil
		}
	}
	return Record{}, ErrNotFound
}

func (m *memStore) SetStatus(_ context.Context, _ pgx.Tx, id string, from, to Status) error {
	return m.update(id, from, func(r *Record) { r.Status = to })
}

func (m *memStore) SetSettlement(_ context.Context, _ pgx.Tx, id string, s Settlement) error {
	rec, ok := m.records[id]
	if !ok || rec.Terminal() {
		return ErrConflict
	}
	rec.Settlement = &s
	m.records[id] = rec
	return nil
}

func (m *memStore) ApproveSettlement(_ context.Context, _ pgx.Tx, id string, from Status, s Settlement, approver string, at time.Time) error {
	return m.update(id, from, func(r *Record) {
		r.Status = StatusPendingDocuments
		r.Settlement = &s
		r.SettlementApprovedAt = &at
		r.SettlementApprovedBy = &approver
	})
}

func (m *memStore) SetDocumentsGenerated(_ context.Context, _ pgx.Tx, id string, urls DocumentURLs, at time.Time) error {
	return m.update(id, StatusPendingDocuments, func(r *Record) {
		r.Status = StatusPendingApproval
		r.DocumentsGeneratedAt = &at
		r.TerminationLetterURL = &urls.TerminationLetter
		r.ExperienceLetterURL = &urls.ExperienceLetter
		r.ClearanceCertificateURL = &urls.ClearanceCertificate
	})
}

func (m *memStore) SetCompleted(_ context.Context, _ pgx.Tx, id, completedBy string, at time.Time) error {
	return m.update(id, StatusPendingApproval, func(r *Record) {
		r.Status = StatusCompleted
		r.CompletedAt = &at
		r.CompletedBy = &completedBy
	})
}

func (m *memStore) SetCancelled(_ context.Context, _ pgx.Tx, id string, from Status, cancelledBy, reason string, at time.Time) error {
	return m.update(id, from, func(r *Record) {
		r.Status = StatusCancelled
		r.CancelledAt = &at
		r.CancelledBy = &cancelledBy
		r.CancelReason = &reason
	})
}

func (m *memStore) ListByStatus(_ context.Context, _ pgx.Tx, status Status) ([]Record, error) {
	out := []Record{}
	for _, rec := range m.records {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memStore) ListForContractor(_ context.Context, _ pgx.Tx, contractorID string) ([]Record, error) {
	out := []Record{}
	for _, rec := range m.records {
		if rec.ContractorID == contractorID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memStore) update(id string, expect Status, mutate func(*Record)) error {
	rec, ok := m.records[id]
	if !ok || rec.Status != expect {
		return ErrConflict
	}
	mutate(&rec)
	rec.UpdatedAt = testNow
	m.records[id] = rec
	return nil
}

type fakeContractors struct {
	ctr       contractor.Contractor
	documents []contractor.DocumentRef
}

func newFakeContractors() *fakeContractors {
	start := date(2022, time.January, 1)
	return &fakeContractors{
		ctr: contractor.Contractor{
			ID:             "ctr-1",
			FirstName:      "Jane",
			Surname:        "Doe",
			Email:          "jane@example.com",
			Status:         contractor.StatusActive,
			StartDate:      &start,
			MonthlyRate:    dec("9000"),
			Currency:       "AED",
			LeaveAllowance: dec("30"),
			LeaveUsed:      dec("10"),
		},
	}
}

func (f *fakeContractors) GetForUpdate(_ context.Context, _ pgx.Tx, id string) (contractor.Contractor, error) {
	if id != f.ctr.ID {
		return contractor.Contractor{}, contractor.ErrNotFound
	}
	return f.ctr, nil
}

func (f *fakeContractors) SetStatus(_ context.Context, _ pgx.Tx, id string, from, to contractor.Status) error {
	if id != f.ctr.ID || f.ctr.Status != from {
		return contractor.ErrStatusConflict
	}
	f.ctr.Status = to
	return nil
}

func (f *fakeContractors) AppendDocument(_ context.Context, _ pgx.Tx, id string, doc contractor.DocumentRef) error {
	if id != f.ctr.ID {
		return contractor.ErrNotFound
	}
	f.documents = append(f.documents, doc)
	return nil
}

type fakeRenderer struct {
	err   error
	calls int
}

func (f *fakeRenderer) Render(_ context.Context, docType string, _ map[string]any) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("rendered:" + docType), nil
}

type fakeObjectStore struct {
	err     error
	uploads []string
}

func (f *fakeObjectStore) Upload(_ context.Context, bucket, key string, _ []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	url := "https://store.test/" + bucket + "/" + key
	f.uploads = append(f.uploads, url)
	return url, nil
}

type fakeNotifier struct {
	ok    bool
	calls int
}

func (f *fakeNotifier) Send(context.Context, string, string, map[string]any) bool {
	f.calls++
	return f.ok
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
