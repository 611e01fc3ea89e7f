package offboarding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"contractorflow/collab"
	"contractorflow/contractor"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the offboarding persistence the service needs.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, rec Record) (Record, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	GetActiveForContractor(ctx context.Context, tx pgx.Tx, contractorID string) (Record, error)
	SetStatus(ctx context.Context, tx pgx.Tx, id string, from, to Status) error
	SetSettlement(ctx context.Context, tx pgx.Tx, id string, s Settlement) error
	ApproveSettlement(ctx context.Context, tx pgx.Tx, id string, from Status, s Settlement, approver string, at time.Time) error
	SetDocumentsGenerated(ctx context.Context, tx pgx.Tx, id string, urls DocumentURLs, at time.Time) error
	SetCompleted(ctx context.Context, tx pgx.Tx, id, completedBy string, at time.Time) error
	SetCancelled(ctx context.Context, tx pgx.Tx, id string, from Status, cancelledBy, reason string, at time.Time) error
	ListByStatus(ctx context.Context, tx pgx.Tx, status Status) ([]Record, error)
	ListForContractor(ctx context.Context, tx pgx.Tx, contractorID string) ([]Record, error)
}

// ContractorStore defines the contractor aggregate access the exit
// workflow needs.
type ContractorStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (contractor.Contractor, error)
	SetStatus(ctx context.Context, tx pgx.Tx, id string, from, to contractor.Status) error
	AppendDocument(ctx context.Context, tx pgx.Tx, id string, doc contractor.DocumentRef) error
}

// ErrNotOffboardable signals an initiation attempt for a contractor
// whose status does not admit an exit workflow.
var ErrNotOffboardable = errors.New("offboarding: contractor not in an offboardable status")

// Service orchestrates the exit workflow.
type Service struct {
	pool        TxBeginner
	repo        Store
	contractors ContractorStore
	renderer    collab.Renderer
	store       collab.ObjectStore
	notifier    collab.Notifier
	log         *zap.Logger

	bucket string
	now    func() time.Time
	newID  func() string
}

func NewService(pool TxBeginner, repo Store, contractors ContractorStore, renderer collab.Renderer, store collab.ObjectStore, notifier collab.Notifier, log *zap.Logger) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		pool:        pool,
		repo:        repo,
		contractors: contractors,
		renderer:    renderer,
		store:       store,
		notifier:    notifier,
		log:         log,
		bucket:      "contractor-documents",
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// WithBucket overrides the object-store bucket.
func (s *Service) WithBucket(bucket string) *Service {
	s.bucket = bucket
	return s
}

// WithClock pins the service clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithIDGenerator pins aggregate id generation.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.newID = gen
	return s
}

type InitiateParams struct {
	ContractorID   string
	Reason         Reason
	LastWorkingDay time.Time
	NoticeDays     int
	Notes          string
	InitiatedBy    string
}

// Initiate opens an exit workflow. The initial status is derived, not
// chosen: notice_period when notice is still to be served, otherwise
// pending_settlement. The contractor's own status flips in the same
// transaction; a second active offboarding for the same contractor
// loses on the partial unique index and gets ErrActiveOffboarding.
func (s *Service) Initiate(ctx context.Context, params InitiateParams) (Record, error) {
	if !params.Reason.Valid() {
		return Record{}, &ValidationError{Field: "reason", Reason: fmt.Sprintf("unknown reason %q", params.Reason)}
	}
	if params.LastWorkingDay.IsZero() {
		return Record{}, &ValidationError{Field: "last_working_day", Reason: "required"}
	}
	if params.NoticeDays < 0 {
		return Record{}, &ValidationError{Field: "notice_days", Reason: "negative"}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("offboarding: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ctr, err := s.contractors.GetForUpdate(ctx, tx, params.ContractorID)
	if err != nil {
		return Record{}, err
	}
	if !ctr.Status.Offboardable() {
		return Record{}, ErrNotOffboardable
	}

	rec := Record{
		ID:             s.newID(),
		ContractorID:   params.ContractorID,
		Reason:         params.Reason,
		Status:         StatusInitiated,
		LastWorkingDay: params.LastWorkingDay,
		Notes:          params.Notes,
		InitiatedBy:    params.InitiatedBy,
	}
	rec, err = s.repo.Insert(ctx, tx, rec)
	if err != nil {
		return Record{}, err
	}

	next := StatusPendingSettlement
	ctrNext := contractor.StatusOffboarding
	if params.NoticeDays > 0 {
		next = StatusNoticePeriod
		ctrNext = contractor.StatusNoticePeriod
	}
	if err := s.repo.SetStatus(ctx, tx, rec.ID, StatusInitiated, next); err != nil {
		return Record{}, err
	}
	if err := s.contractors.SetStatus(ctx, tx, ctr.ID, ctr.Status, ctrNext); err != nil {
		return Record{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("offboarding: commit: %w", err)
	}
	rec.Status = next

	if !s.notifier.Send(ctx, TemplateInitiated, ctr.Email, map[string]any{
		"contractor_name":  ctr.FullName(),
		"reason":           string(params.Reason),
		"last_working_day": params.LastWorkingDay.Format("2006-01-02"),
	}) {
		s.log.Warn("initiation notification failed after commit",
			zap.String("offboarding_id", rec.ID),
			zap.String("recipient", ctr.Email))
	}

	s.log.Info("offboarding initiated",
		zap.String("offboarding_id", rec.ID),
		zap.String("contractor_id", params.ContractorID),
		zap.String("reason", string(params.Reason)),
		zap.String("status", string(next)))
	return rec, nil
}

// CalculateSettlement derives the final-pay breakdown for a
// contractor. With an active offboarding the result is cached onto the
// record (not a state transition); without one it is a pure preview
// keyed on the contractor's planned end date.
func (s *Service) CalculateSettlement(ctx context.Context, contractorID string, asOf time.Time) (Settlement, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Settlement{}, fmt.Errorf("offboarding: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ctr, err := s.contractors.GetForUpdate(ctx, tx, contractorID)
	if err != nil {
		return Settlement{}, err
	}

	lastWorkingDay := time.Time{}
	if ctr.EndDate != nil {
		lastWorkingDay = *ctr.EndDate
	}
	rec, err := s.repo.GetActiveForContractor(ctx, tx, contractorID)
	active := err == nil
	switch {
	case active:
		lastWorkingDay = rec.LastWorkingDay
	case errors.Is(err, ErrNotFound):
		// preview mode
	default:
		return Settlement{}, err
	}

	settlement, err := CalculateSettlement(settlementInput(ctr, lastWorkingDay), asOf)
	if err != nil {
		return Settlement{}, err
	}

	if active {
		if err := s.repo.SetSettlement(ctx, tx, rec.ID, settlement); err != nil {
			return Settlement{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return Settlement{}, fmt.Errorf("offboarding: commit: %w", err)
		}
	}
	return settlement, nil
}

// ApproveSettlement signs off the calculated settlement and moves the
// record to pending_documents. Adjustments replace individual lines;
// the total is recomputed from the parts, never taken from the caller.
func (s *Service) ApproveSettlement(ctx context.Context, id, approver string, adj *Adjustments) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("offboarding: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Record{}, err
	}
	if err := rec.Status.guard(StatusPendingDocuments); err != nil {
		return Record{}, err
	}
	if rec.Settlement == nil {
		return Record{}, ErrSettlementMissing
	}

	settlement := *rec.Settlement
	if adj != nil {
		settlement, err = settlement.Adjust(*adj)
		if err != nil {
			return Record{}, err
		}
	}

	now := s.now().UTC()
	if err := s.repo.ApproveSettlement(ctx, tx, rec.ID, rec.Status, settlement, approver, now); err != nil {
		return Record{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("offboarding: commit: %w", err)
	}

	rec.Status = StatusPendingDocuments
	rec.Settlement = &settlement
	rec.SettlementApprovedAt = &now
	rec.SettlementApprovedBy = &approver
	s.log.Info("settlement approved",
		zap.String("offboarding_id", rec.ID),
		zap.String("approver", approver),
		zap.String("total", settlement.Total.String()))
	return rec, nil
}

// exitDocuments lists the pack rendered at document generation, in
// render order.
var exitDocuments = []struct {
	docType string
	name    string
}{
	{DocTerminationLetter, "Termination Letter"},
	{DocExperienceLetter, "Experience Letter"},
	{DocClearanceCertificate, "Clearance Certificate"},
}

// GenerateDocuments renders and uploads the exit pack as one atomic
// unit, appending each reference to the contractor's document list. A
// renderer or store failure rolls everything back and the record stays
// pending_documents, safe to retry.
func (s *Service) GenerateDocuments(ctx context.Context, id string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("offboarding: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Record{}, err
	}
	if err := rec.Status.guard(StatusPendingApproval); err != nil {
		return Record{}, err
	}

	ctr, err := s.contractors.GetForUpdate(ctx, tx, rec.ContractorID)
	if err != nil {
		return Record{}, err
	}

	now := s.now().UTC()
	data := ctr.Snapshot()
	data["LastWorkingDay"] = rec.LastWorkingDay.Format("2006-01-02")
	data["Reason"] = string(rec.Reason)
	if rec.Settlement != nil {
		data["SettlementTotal"] = rec.Settlement.Total.StringFixed(2)
		data["SettlementCurrency"] = rec.Settlement.Currency
	}

	var urls DocumentURLs
	for _, doc := range exitDocuments {
		body, err := s.renderer.Render(ctx, doc.docType, data)
		if err != nil {
			return Record{}, collab.RendererFailed(err)
		}
		key := fmt.Sprintf("%s/%s_%s.pdf", rec.ContractorID, doc.docType, now.Format("20060102_150405"))
		url, err := s.store.Upload(ctx, s.bucket, key, body)
		if err != nil {
			return Record{}, collab.StoreFailed(err)
		}
		switch doc.docType {
		case DocTerminationLetter:
			urls.TerminationLetter = url
		case DocExperienceLetter:
			urls.ExperienceLetter = url
		case DocClearanceCertificate:
			urls.ClearanceCertificate = url
		}
		if err := s.contractors.AppendDocument(ctx, tx, rec.ContractorID, contractor.DocumentRef{
			Type:    doc.docType,
			Name:    doc.name + " - " + ctr.FullName(),
			URL:     url,
			AddedAt: now,
		}); err != nil {
			return Record{}, err
		}
	}

	if err := s.repo.SetDocumentsGenerated(ctx, tx, rec.ID, urls, now); err != nil {
		return Record{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("offboarding: commit: %w", err)
	}

	rec.Status = StatusPendingApproval
	rec.DocumentsGeneratedAt = &now
	rec.TerminationLetterURL = &urls.TerminationLetter
	rec.ExperienceLetterURL = &urls.ExperienceLetter
	rec.ClearanceCertificateURL = &urls.ClearanceCertificate
	s.log.Info("exit documents generated",
		zap.String("offboarding_id", rec.ID),
		zap.String("contractor_id", rec.ContractorID),
		zap.Int("documents", len(exitDocuments)))
	return rec, nil
}

// Complete closes the offboarding and flips the contractor to
// offboarded, atomically. The completion email is best-effort after
// commit.
func (s *Service) Complete(ctx context.Context, id, completedBy string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("offboarding: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Record{}, err
	}
	if err := rec.Status.guard(StatusCompleted); err != nil {
		return Record{}, err
	}

	ctr, err := s.contractors.GetForUpdate(ctx, tx, rec.ContractorID)
	if err != nil {
		return Record{}, err
	}

	now := s.now().UTC()
	if err := s.repo.SetCompleted(ctx, tx, rec.ID, completedBy, now); err != nil {
		return Record{}, err
	}
	if err := s.contractors.SetStatus(ctx, tx, ctr.ID, ctr.Status, contractor.StatusOffboarded); err != nil {
		return Record{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("offboarding: commit: %w", err)
	}

	rec.Status = StatusCompleted
	rec.CompletedAt = &now
	rec.CompletedBy = &completedBy

	if !s.notifier.Send(ctx, TemplateCompleted, ctr.Email, map[string]any{
		"contractor_name": ctr.FullName(),
	}) {
		s.log.Warn("completion notification failed after commit",
			zap.String("offboarding_id", rec.ID),
			zap.String("recipient", ctr.Email))
	}

	s.log.Info("offboarding completed",
		zap.String("offboarding_id", rec.ID),
		zap.String("contractor_id", rec.ContractorID))
	return rec, nil
}

// Cancel aborts a non-terminal offboarding and restores the contractor
// to active, atomically.
func (s *Service) Cancel(ctx context.Context, id, cancelledBy, reason string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("offboarding: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Record{}, err
	}
	if err := rec.Status.guard(StatusCancelled); err != nil {
		return Record{}, err
	}

	ctr, err := s.contractors.GetForUpdate(ctx, tx, rec.ContractorID)
	if err != nil {
		return Record{}, err
	}

	now := s.now().UTC()
	if err := s.repo.SetCancelled(ctx, tx, rec.ID, rec.Status, cancelledBy, reason, now); err != nil {
		return Record{}, err
	}
	if err := s.contractors.SetStatus(ctx, tx, ctr.ID, ctr.Status, contractor.StatusActive); err != nil {
		return Record{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("offboarding: commit: %w", err)
	}

	rec.Status = StatusCancelled
	rec.CancelledAt = &now
	rec.CancelledBy = &cancelledBy
	rec.CancelReason = &reason
	s.log.Info("offboarding cancelled",
		zap.String("offboarding_id", rec.ID),
		zap.String("contractor_id", rec.ContractorID),
		zap.String("reason", reason))
	return rec, nil
}

// Get loads an offboarding record by id.
func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("offboarding: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	return s.repo.GetForUpdate(ctx, tx, id)
}

// StatusSummary is the dashboard view of a contractor's exit. A
// contractor without a live offboarding gets a zero summary with
// IsOffboarding false, not an error.
type StatusSummary struct {
	ContractorID       string
	IsOffboarding      bool
	OffboardingID      string
	Status             Status
	Reason             Reason
	LastWorkingDay     time.Time
	DaysRemaining      int
	SettlementApproved bool
	DocumentsGenerated bool
}

// StatusFor summarizes the contractor's active offboarding. Days
// remaining counts whole days to the last working day, floored at
// zero once it has passed.
func (s *Service) StatusFor(ctx context.Context, contractorID string) (StatusSummary, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return StatusSummary{}, fmt.Errorf("offboarding: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetActiveForContractor(ctx, tx, contractorID)
	if errors.Is(err, ErrNotFound) {
		return StatusSummary{ContractorID: contractorID}, nil
	}
	if err != nil {
		return StatusSummary{}, err
	}

	summary := StatusSummary{
		ContractorID:       contractorID,
		IsOffboarding:      true,
		OffboardingID:      rec.ID,
		Status:             rec.Status,
		Reason:             rec.Reason,
		LastWorkingDay:     rec.LastWorkingDay,
		SettlementApproved: rec.SettlementApprovedAt != nil,
		DocumentsGenerated: rec.TerminationLetterURL != nil,
	}
	if days := daysBetween(s.now(), rec.LastWorkingDay); days > 0 {
		summary.DaysRemaining = int(days)
	}
	return summary, nil
}

// ListByStatus backs the workflow queues.
func (s *Service) ListByStatus(ctx context.Context, status Status) ([]Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("offboarding: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	return s.repo.ListByStatus(ctx, tx, status)
}

// History returns the contractor's offboarding records, newest first.
func (s *Service) History(ctx context.Context, contractorID string) ([]Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("offboarding: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	return s.repo.ListForContractor(ctx, tx, contractorID)
}

func settlementInput(ctr contractor.Contractor, lastWorkingDay time.Time) SettlementInput {
	start := time.Time{}
	if ctr.StartDate != nil {
		start = *ctr.StartDate
	}
	return SettlementInput{
		MonthlyRate:    ctr.MonthlyRate,
		Currency:       ctr.Currency,
		StartDate:      start,
		LastWorkingDay: lastWorkingDay,
		LeaveAllowance: ctr.LeaveAllowance,
		LeaveUsed:      ctr.LeaveUsed,
		Reimbursements: ctr.Reimbursements,
		Deductions:     ctr.Deductions,
	}
}
