package contract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"contractorflow/auth"
	"contractorflow/collab"
	"contractorflow/contractor"
	"contractorflow/token"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the contract persistence the service needs.
type Store interface {
	GetTemplate(ctx context.Context, tx pgx.Tx, id string) (Template, error)
	Insert(ctx context.Context, tx pgx.Tx, c Contract) (Contract, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Contract, error)
	GetByTokenForUpdate(ctx context.Context, tx pgx.Tx, tokenValue string) (Contract, error)
	FindOpenForContractor(ctx context.Context, tx pgx.Tx, contractorID string) (Contract, error)
	RefreshDraft(ctx context.Context, tx pgx.Tx, id, content string, tok token.Token) error
	SetSent(ctx context.Context, tx pgx.Tx, id, sentBy string, at time.Time) error
	SetReviewed(ctx context.Context, tx pgx.Tx, id string, at time.Time) error
	SetContractorSignature(ctx context.Context, tx pgx.Tx, id string, from Status, sig Signature) error
	SetCounterSignature(ctx context.Context, tx pgx.Tx, id string, sig CounterSignature, documentURL string) error
	SetValidated(ctx context.Context, tx pgx.Tx, id, validatedBy string, at time.Time) error
	SetActivated(ctx context.Context, tx pgx.Tx, id, activatedBy string, at time.Time, credentialHash string) error
	SetDeclined(ctx context.Context, tx pgx.Tx, id string, from Status, reason string, at time.Time) error
	ListByStatus(ctx context.Context, tx pgx.Tx, status Status) ([]Contract, error)
	ListForContractor(ctx context.Context, tx pgx.Tx, contractorID string) ([]Contract, error)
}

// ContractorStore defines the contractor aggregate access the signing
// workflow needs.
type ContractorStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (contractor.Contractor, error)
	SetStatus(ctx context.Context, tx pgx.Tx, id string, from, to contractor.Status) error
	AppendDocument(ctx context.Context, tx pgx.Tx, id string, doc contractor.DocumentRef) error
}

// Service orchestrates the signing workflow.
type Service struct {
	pool        TxBeginner
	repo        Store
	contractors ContractorStore
	renderer    collab.Renderer
	store       collab.ObjectStore
	notifier    collab.Notifier
	log         *zap.Logger

	bucket      string
	now         func() time.Time
	newID       func() string
	newToken    func() (token.Token, error)
	credentials func() (string, error)
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
		newToken:    func() (token.Token, error) { return token.Generate(token.TypeContract) },
		credentials: func() (string, error) { return auth.TemporaryPassword(12) },
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

// WithTokenSource pins token minting.
func (s *Service) WithTokenSource(gen func() (token.Token, error)) *Service {
	s.newToken = gen
	return s
}

// WithCredentialSource pins temporary credential generation.
func (s *Service) WithCredentialSource(gen func() (string, error)) *Service {
	s.credentials = gen
	return s
}

type GenerateParams struct {
	ContractorID string
	TemplateID   string
}

// Generate renders a contract body from the template and the
// contractor snapshot, mints a fresh signing token, and persists both
// atomically. An existing draft for the contractor is refreshed in
// place; a contract already past draft blocks regeneration.
func (s *Service) Generate(ctx context.Context, params GenerateParams) (Contract, error) {
	if params.ContractorID == "" {
		return Contract{}, fmt.Errorf("contract: contractor id required")
	}
	if params.TemplateID == "" {
		return Contract{}, fmt.Errorf("contract: template id required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Contract{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ctr, err := s.contractors.GetForUpdate(ctx, tx, params.ContractorID)
	if err != nil {
		return Contract{}, err
	}
	tmpl, err := s.repo.GetTemplate(ctx, tx, params.TemplateID)
	if err != nil {
		return Contract{}, err
	}

	data := ctr.Snapshot()
	data["TemplateBody"] = tmpl.Body
	data["ContractDate"] = s.now().UTC().Format("2006-01-02")
	body, err := s.renderer.Render(ctx, DocContractBody, data)
	if err != nil {
		return Contract{}, collab.RendererFailed(err)
	}

	tok, err := s.newToken()
	if err != nil {
		return Contract{}, err
	}

	existing, err := s.repo.FindOpenForContractor(ctx, tx, params.ContractorID)
	switch {
	case err == nil:
		if err := existing.Status.guard(StatusDraft); err != nil {
			return Contract{}, err
		}
		if err := s.repo.RefreshDraft(ctx, tx, existing.ID, string(body), tok); err != nil {
			return Contract{}, err
		}
		existing.Content = string(body)
		existing.Token = tok
		if err := tx.Commit(ctx); err != nil {
			return Contract{}, fmt.Errorf("contract: commit: %w", err)
		}
		s.log.Info("contract regenerated",
			zap.String("contract_id", existing.ID),
			zap.String("contractor_id", params.ContractorID))
		return existing, nil
	case errors.Is(err, ErrNotFound):
		// first contract for this contractor
	default:
		return Contract{}, err
	}

	c := Contract{
		ID:           s.newID(),
		ContractorID: params.ContractorID,
		TemplateID:   params.TemplateID,
		Status:       StatusDraft,
		Content:      string(body),
		Token:        tok,
	}
	c, err = s.repo.Insert(ctx, tx, c)
	if err != nil {
		return Contract{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Contract{}, fmt.Errorf("contract: commit: %w", err)
	}

	s.log.Info("contract generated",
		zap.String("contract_id", c.ID),
		zap.String("contractor_id", params.ContractorID),
		zap.Stringer("token", c.Token))
	return c, nil
}

// Send emails the signing invitation and flips draft -> sent. The
// status only flips if the notifier reports success; a failed send
// leaves the contract untouched.
func (s *Service) Send(ctx context.Context, contractID, sentBy string) (Contract, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Contract{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, contractID)
	if err != nil {
		return Contract{}, err
	}
	if err := c.Status.guard(StatusSent); err != nil {
		return Contract{}, err
	}
	if err := c.Token.ValidateAt(s.now()); err != nil {
		return Contract{}, err
	}

	ctr, err := s.contractors.GetForUpdate(ctx, tx, c.ContractorID)
	if err != nil {
		return Contract{}, err
	}

	if !s.notifier.Send(ctx, TemplateInvitation, ctr.Email, map[string]any{
		"contractor_name": ctr.FullName(),
		"token":           c.Token.Value,
		"expiry":          c.Token.Expiry,
	}) {
		return Contract{}, collab.NotifierFailed(TemplateInvitation)
	}

	now := s.now().UTC()
	if err := s.repo.SetSent(ctx, tx, c.ID, sentBy, now); err != nil {
		return Contract{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Contract{}, fmt.Errorf("contract: commit: %w", err)
	}

	c.Status = StatusSent
	c.SentAt = &now
	c.SentBy = &sentBy
	s.log.Info("contract sent",
		zap.String("contract_id", c.ID),
		zap.String("contractor_id", c.ContractorID))
	return c, nil
}

// ViewByToken returns the contract behind a signing token, flipping
// sent -> reviewed on the first read. Re-reads do not retrigger the
// transition. An expired token blocks access unless the contract is
// already terminal.
func (s *Service) ViewByToken(ctx context.Context, tokenValue string) (Contract, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Contract{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.byToken(ctx, tx, tokenValue, false)
	if err != nil {
		return Contract{}, err
	}

	if c.Status == StatusSent {
		now := s.now().UTC()
		if err := s.repo.SetReviewed(ctx, tx, c.ID, now); err != nil {
			return Contract{}, err
		}
		c.Status = StatusReviewed
		c.ReviewedAt = &now
	}
	if err := tx.Commit(ctx); err != nil {
		return Contract{}, fmt.Errorf("contract: commit: %w", err)
	}
	return c, nil
}

// RenderByToken renders the current document for a token holder. Same
// expiry rule as ViewByToken; never mutates state.
func (s *Service) RenderByToken(ctx context.Context, tokenValue string) ([]byte, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.byToken(ctx, tx, tokenValue, false)
	if err != nil {
		return nil, err
	}

	body, err := s.renderer.Render(ctx, DocContractPDF, s.renderData(c))
	if err != nil {
		return nil, collab.RendererFailed(err)
	}
	return body, nil
}

type SignParams struct {
	TokenValue    string
	SignatureType string
	SignatureData string
	Notes         string
}

// SignByToken applies the contractor's signature: sent|reviewed ->
// pending_counterparty_signature. All signature fields are written
// together; re-signing past this point fails with a TransitionError.
func (s *Service) SignByToken(ctx context.Context, params SignParams) (Contract, error) {
	if params.SignatureType == "" || params.SignatureData == "" {
		return Contract{}, fmt.Errorf("contract: signature type and data required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Contract{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.byToken(ctx, tx, params.TokenValue, true)
	if err != nil {
		return Contract{}, err
	}
	if err := c.Status.guard(StatusPendingCounterparty); err != nil {
		return Contract{}, err
	}

	sig := Signature{
		Type:  params.SignatureType,
		Data:  params.SignatureData,
		Date:  s.now().UTC(),
		Notes: params.Notes,
	}
	if err := s.repo.SetContractorSignature(ctx, tx, c.ID, c.Status, sig); err != nil {
		return Contract{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Contract{}, fmt.Errorf("contract: commit: %w", err)
	}

	c.Status = StatusPendingCounterparty
	c.ContractorSignature = &sig
	s.log.Info("contract signed by contractor",
		zap.String("contract_id", c.ID),
		zap.String("contractor_id", c.ContractorID))
	return c, nil
}

type CounterSignParams struct {
	ContractID    string
	SignerID      string
	SignerName    string
	SignatureType string
	SignatureData string
}

// CounterSignResult reports the committed transition and whether the
// best-effort post-commit notification went out.
type CounterSignResult struct {
	Contract         Contract
	NotificationSent bool
}

// CounterSign applies the company signature as one atomic unit:
// persist the counter-signature, render the dual-signed document,
// upload it, and append the reference to the contractor's document
// list. A renderer or store failure rolls the whole unit back and the
// contract stays pending_counterparty_signature, safe to retry. The
// signed-copy email runs after commit; its failure never undoes the
// transition.
func (s *Service) CounterSign(ctx context.Context, params CounterSignParams) (CounterSignResult, error) {
	if params.SignerID == "" {
		return CounterSignResult{}, fmt.Errorf("contract: signer id required")
	}
	if params.SignatureType == "" || params.SignatureData == "" {
		return CounterSignResult{}, fmt.Errorf("contract: signature type and data required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return CounterSignResult{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, params.ContractID)
	if err != nil {
		return CounterSignResult{}, err
	}
	if err := c.Status.guard(StatusSigned); err != nil {
		return CounterSignResult{}, err
	}

	ctr, err := s.contractors.GetForUpdate(ctx, tx, c.ContractorID)
	if err != nil {
		return CounterSignResult{}, err
	}

	now := s.now().UTC()
	sig := CounterSignature{
		Type:       params.SignatureType,
		Data:       params.SignatureData,
		Date:       now,
		SignerID:   params.SignerID,
		SignerName: params.SignerName,
	}
	c.CounterSignature = &sig

	body, err := s.renderer.Render(ctx, DocSignedContract, s.renderData(c))
	if err != nil {
		return CounterSignResult{}, collab.RendererFailed(err)
	}

	key := fmt.Sprintf("%s/signed_contract_%s.pdf", c.ContractorID, now.Format("20060102_150405"))
	url, err := s.store.Upload(ctx, s.bucket, key, body)
	if err != nil {
		return CounterSignResult{}, collab.StoreFailed(err)
	}

	if err := s.repo.SetCounterSignature(ctx, tx, c.ID, sig, url); err != nil {
		return CounterSignResult{}, err
	}
	if err := s.contractors.AppendDocument(ctx, tx, c.ContractorID, contractor.DocumentRef{
		Type:       "signed_contract",
		Name:       "Signed Contract - " + ctr.FullName(),
		URL:        url,
		ContractID: c.ID,
		AddedAt:    now,
	}); err != nil {
		return CounterSignResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return CounterSignResult{}, fmt.Errorf("contract: commit: %w", err)
	}

	c.Status = StatusSigned
	c.SignedDocumentURL = &url

	notified := s.notifier.Send(ctx, TemplateSignedCopy, ctr.Email, map[string]any{
		"contractor_name": ctr.FullName(),
		"document_url":    url,
	})
	if !notified {
		s.log.Warn("signed-copy notification failed after commit",
			zap.String("contract_id", c.ID),
			zap.String("recipient", ctr.Email))
	}

	s.log.Info("contract counter-signed",
		zap.String("contract_id", c.ID),
		zap.String("signer_id", params.SignerID))
	return CounterSignResult{Contract: c, NotificationSent: notified}, nil
}

// Validate is the administrative gate signed -> validated; no external
// calls.
func (s *Service) Validate(ctx context.Context, contractID, validatedBy string) (Contract, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Contract{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, contractID)
	if err != nil {
		return Contract{}, err
	}
	if err := c.Status.guard(StatusValidated); err != nil {
		return Contract{}, err
	}

	now := s.now().UTC()
	if err := s.repo.SetValidated(ctx, tx, c.ID, validatedBy, now); err != nil {
		return Contract{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Contract{}, fmt.Errorf("contract: commit: %w", err)
	}

	c.Status = StatusValidated
	c.ValidatedAt = &now
	c.ValidatedBy = &validatedBy
	return c, nil
}

// Activate provisions a one-time credential and emails it, flipping
// validated -> activated and the contractor to active. All-or-nothing:
// when the notifier reports failure, neither the credential nor either
// status change commits.
func (s *Service) Activate(ctx context.Context, contractID, activatedBy string) (Contract, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Contract{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, contractID)
	if err != nil {
		return Contract{}, err
	}
	if err := c.Status.guard(StatusActivated); err != nil {
		return Contract{}, err
	}

	ctr, err := s.contractors.GetForUpdate(ctx, tx, c.ContractorID)
	if err != nil {
		return Contract{}, err
	}

	plain, err := s.credentials()
	if err != nil {
		return Contract{}, fmt.Errorf("contract: generate credential: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return Contract{}, fmt.Errorf("contract: hash credential: %w", err)
	}

	now := s.now().UTC()
	if err := s.repo.SetActivated(ctx, tx, c.ID, activatedBy, now, string(hash)); err != nil {
		return Contract{}, err
	}
	if err := s.contractors.SetStatus(ctx, tx, ctr.ID, ctr.Status, contractor.StatusActive); err != nil {
		return Contract{}, err
	}

	if !s.notifier.Send(ctx, TemplateActivation, ctr.Email, map[string]any{
		"contractor_name":    ctr.FullName(),
		"temporary_password": plain,
	}) {
		return Contract{}, collab.NotifierFailed(TemplateActivation)
	}
	if err := tx.Commit(ctx); err != nil {
		return Contract{}, fmt.Errorf("contract: commit: %w", err)
	}

	c.Status = StatusActivated
	c.ActivatedAt = &now
	c.ActivatedBy = &activatedBy
	s.log.Info("contract activated",
		zap.String("contract_id", c.ID),
		zap.String("contractor_id", c.ContractorID))
	return c, nil
}

// DeclineByToken is the terminal decline, legal from any pre-signed
// status. A valid token is required; the reason and date are recorded.
func (s *Service) DeclineByToken(ctx context.Context, tokenValue, reason string) (Contract, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Contract{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.byToken(ctx, tx, tokenValue, true)
	if err != nil {
		return Contract{}, err
	}
	if err := c.Status.guard(StatusDeclined); err != nil {
		return Contract{}, err
	}

	now := s.now().UTC()
	if err := s.repo.SetDeclined(ctx, tx, c.ID, c.Status, reason, now); err != nil {
		return Contract{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Contract{}, fmt.Errorf("contract: commit: %w", err)
	}

	c.Status = StatusDeclined
	c.DeclinedAt = &now
	c.DeclineReason = &reason
	s.log.Info("contract declined",
		zap.String("contract_id", c.ID),
		zap.String("reason", reason))
	return c, nil
}

// Get loads a contract by id.
func (s *Service) Get(ctx context.Context, contractID string) (Contract, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Contract{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	return s.repo.GetForUpdate(ctx, tx, contractID)
}

// ListPendingCounterSignature backs the counter-signing queue.
func (s *Service) ListPendingCounterSignature(ctx context.Context) ([]Contract, error) {
	return s.listByStatus(ctx, StatusPendingCounterparty)
}

// ListPendingValidation backs the validation queue.
func (s *Service) ListPendingValidation(ctx context.Context) ([]Contract, error) {
	return s.listByStatus(ctx, StatusSigned)
}

// ListForContractor returns a contractor's contract history.
func (s *Service) ListForContractor(ctx context.Context, contractorID string) ([]Contract, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	return s.repo.ListForContractor(ctx, tx, contractorID)
}

func (s *Service) listByStatus(ctx context.Context, status Status) ([]Contract, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	return s.repo.ListByStatus(ctx, tx, status)
}

// byToken resolves a signing token to its contract. Unknown tokens are
// reported as token.ErrInvalid. Expired tokens always block mutations;
// they block reads too unless the contract is terminal.
func (s *Service) byToken(ctx context.Context, tx pgx.Tx, tokenValue string, mutating bool) (Contract, error) {
	if tokenValue == "" {
		return Contract{}, token.ErrInvalid
	}
	c, err := s.repo.GetByTokenForUpdate(ctx, tx, tokenValue)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Contract{}, token.ErrInvalid
		}
		return Contract{}, err
	}
	if err := c.Token.ValidateAt(s.now()); err != nil {
		if mutating || !c.Terminal() {
			return Contract{}, err
		}
	}
	return c, nil
}

func (s *Service) renderData(c Contract) map[string]any {
	data := map[string]any{
		"Content": c.Content,
		"Status":  string(c.Status),
	}
	if sig := c.ContractorSignature; sig != nil {
		data["ContractorSignatureType"] = sig.Type
		data["ContractorSignatureData"] = sig.Data
		data["ContractorSignedDate"] = sig.Date.Format("02 January 2006")
	}
	if sig := c.CounterSignature; sig != nil {
		data["CounterpartySignatureType"] = sig.Type
		data["CounterpartySignatureData"] = sig.Data
		data["CounterpartySignerName"] = sig.SignerName
		data["CounterpartySignedDate"] = sig.Date.Format("02 January 2006")
	}
	return data
}
