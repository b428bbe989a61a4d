package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"producer-dashboard/internal/broker"
	"producer-dashboard/internal/chain"
	"producer-dashboard/internal/models"
	"producer-dashboard/internal/util"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	feedbackTTL    = 24 * time.Hour
	idempotencyTTL = 24 * time.Hour
	lockGrace      = time.Minute
)

// PreparedTx is the unsigned registerProducer call a wallet signs
type PreparedTx struct {
	To      string `json:"to"`
	Data    string `json:"data"`
	ChainID string `json:"chain_id"`
}

// SubmitRequest carries either a wallet-signed transaction or, with a server
// signer configured for the session's address, the plain form.
type SubmitRequest struct {
	Form     *models.RegistrationForm `json:"form,omitempty"`
	SignedTx string                   `json:"signed_tx,omitempty"`
}

// RegistrationService submits producer registrations and tracks them to confirmation
type RegistrationService struct {
	registry  RegistrationWriter
	submitter TxSubmitter
	signer    TxSigner
	profiles  *ProfileService
	products  *ProductService
	feedback  FeedbackStore
	locks     Locker
	journal   TxJournal
	events    EventPublisher
	lockTTL   time.Duration
	logger    *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// RegistrationDeps groups the collaborators of RegistrationService
type RegistrationDeps struct {
	Registry  RegistrationWriter
	Submitter TxSubmitter
	Signer    TxSigner
	Profiles  *ProfileService
	Products  *ProductService
	Feedback  FeedbackStore
	Locks     Locker
	Journal   TxJournal
	Events    EventPublisher
	// ReceiptTimeout bounds how long the per-address registration lock is held
	ReceiptTimeout time.Duration
}

// NewRegistrationService creates a new registration service
func NewRegistrationService(deps RegistrationDeps) *RegistrationService {
	ctx, cancel := context.WithCancel(context.Background())
	return &RegistrationService{
		registry:  deps.Registry,
		submitter: deps.Submitter,
		signer:    deps.Signer,
		profiles:  deps.Profiles,
		products:  deps.Products,
		feedback:  deps.Feedback,
		locks:     deps.Locks,
		journal:   deps.Journal,
		events:    deps.Events,
		lockTTL:   deps.ReceiptTimeout + lockGrace,
		logger:    util.GetLogger(),
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// Close stops tracking in-flight transactions and waits for the trackers to exit
func (s *RegistrationService) Close() {
	s.cancel()
	s.wg.Wait()
}

// ValidateForm checks the registration fields
func ValidateForm(form *models.RegistrationForm) error {
	form.Name = strings.TrimSpace(form.Name)
	form.Description = strings.TrimSpace(form.Description)
	form.Website = strings.TrimSpace(form.Website)
	form.Contact = strings.TrimSpace(form.Contact)
	form.Country = strings.TrimSpace(form.Country)

	switch {
	case form.Name == "":
		return &ValidationError{Msg: "Name is required."}
	case form.Contact == "":
		return &ValidationError{Msg: "Contact is required."}
	case form.Country == "":
		return &ValidationError{Msg: "Country is required."}
	case len(form.Name) > 100:
		return &ValidationError{Msg: "Name must be at most 100 characters."}
	case len(form.Description) > 1000:
		return &ValidationError{Msg: "Description must be at most 1000 characters."}
	case len(form.Contact) > 200:
		return &ValidationError{Msg: "Contact must be at most 200 characters."}
	case len(form.Country) > 100:
		return &ValidationError{Msg: "Country must be at most 100 characters."}
	}

	if form.Website != "" {
		u, err := url.Parse(form.Website)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ValidationError{Msg: "Website must be an http(s) URL."}
		}
	}
	return nil
}

// Prepare validates form and returns the calldata the connected wallet must sign
func (s *RegistrationService) Prepare(ctx context.Context, session *models.Session, form models.RegistrationForm) (*PreparedTx, error) {
	if session == nil {
		return nil, ErrNotConnected
	}
	if err := ValidateForm(&form); err != nil {
		return nil, err
	}
	if err := s.ensureUnregistered(ctx, common.HexToAddress(session.Address)); err != nil {
		return nil, err
	}

	data, err := s.registry.PackRegister(form)
	if err != nil {
		return nil, fmt.Errorf("failed to encode registration: %w", err)
	}

	return &PreparedTx{
		To:      s.registry.Address().Hex(),
		Data:    hexutil.Encode(data),
		ChainID: s.submitter.ChainID().String(),
	}, nil
}

// Submit broadcasts exactly one registerProducer transaction for the session's wallet.
// Feedback moves to pending, then to success or error once the receipt is known.
func (s *RegistrationService) Submit(ctx context.Context, session *models.Session, req SubmitRequest) (models.FeedbackState, error) {
	if session == nil {
		return models.FeedbackState{}, ErrNotConnected
	}

	ctx, span := util.StartSpan(ctx, "RegistrationService.Submit", attribute.String("producer", session.Address))
	defer span.End()

	state, err := s.submit(ctx, session, req)
	if err != nil {
		util.RecordError(span, err)
		util.RegistrationsFailedTotal.WithLabelValues("submit").Inc()
		if errors.Is(err, ErrRegistrationInFlight) {
			// keep the pending state of the transaction already in flight
			return models.FeedbackState{}, err
		}
		state = s.setFeedback(ctx, session.ID, models.FeedbackError, Normalize(err), "")
		return state, err
	}
	return state, nil
}

func (s *RegistrationService) submit(ctx context.Context, session *models.Session, req SubmitRequest) (models.FeedbackState, error) {
	addr := common.HexToAddress(session.Address)

	send, err := s.buildSend(addr, req)
	if err != nil {
		return models.FeedbackState{}, err
	}

	if err := s.ensureUnregistered(ctx, addr); err != nil {
		return models.FeedbackState{}, err
	}

	lockKey := "register:" + strings.ToLower(addr.Hex())
	token := uuid.New().String()
	acquired, err := s.locks.AcquireLock(ctx, lockKey, token, s.lockTTL)
	if err != nil {
		return models.FeedbackState{}, fmt.Errorf("failed to acquire registration lock: %w", err)
	}
	if !acquired {
		return models.FeedbackState{}, ErrRegistrationInFlight
	}

	s.setFeedback(ctx, session.ID, models.FeedbackPending, "Submitting registration transaction...", "")

	tx, err := send(ctx)
	if err != nil {
		s.releaseLock(lockKey, token)
		return models.FeedbackState{}, err
	}

	hash := tx.Hash().Hex()
	util.RegistrationsSubmittedTotal.Inc()
	s.logger.Info("Registration submitted", zap.String("producer", addr.Hex()), zap.String("tx_hash", hash))

	record := &models.TxRecord{
		TxHash:   hash,
		Producer: addr.Hex(),
		Kind:     models.TxKindRegisterProducer,
		Status:   models.TxStatusPending,
	}
	if err := s.journal.CreateTransaction(ctx, record); err != nil {
		s.logger.Error("Failed to journal transaction", zap.String("tx_hash", hash), zap.Error(err))
	}

	submitted := &models.RegistrationSubmittedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeRegistrationSubmitted),
		Producer:  addr.Hex(),
		TxHash:    hash,
	}
	if err := s.events.PublishRegistrationSubmitted(ctx, submitted); err != nil {
		s.logger.Error("Failed to publish RegistrationSubmitted event", zap.Error(err))
	}

	state := s.setFeedback(ctx, session.ID, models.FeedbackPending, "Waiting for confirmation...", hash)

	s.wg.Add(1)
	go s.track(session.ID, addr, tx.Hash(), lockKey, token)

	return state, nil
}

type sendFunc func(ctx context.Context) (*types.Transaction, error)

// buildSend validates the request and returns the single write it will perform
func (s *RegistrationService) buildSend(addr common.Address, req SubmitRequest) (sendFunc, error) {
	if req.SignedTx != "" {
		tx, from, err := s.submitter.DecodeSignedTx(req.SignedTx)
		if err != nil {
			return nil, err
		}
		if from != addr {
			return nil, ErrSignerMismatch
		}
		if tx.To() == nil || *tx.To() != s.registry.Address() {
			return nil, chain.ErrUnexpectedTarget
		}
		form, err := s.registry.DecodeRegister(tx.Data())
		if err != nil {
			return nil, &ValidationError{Msg: "The transaction does not call registerProducer."}
		}
		if err := ValidateForm(&form); err != nil {
			return nil, err
		}

		return func(ctx context.Context) (*types.Transaction, error) {
			key := "tx:" + tx.Hash().Hex()
			claimed, err := s.locks.ClaimIdempotencyKey(ctx, key, idempotencyTTL)
			if err != nil {
				return nil, fmt.Errorf("failed to claim idempotency key: %w", err)
			}
			if !claimed {
				return nil, ErrDuplicateSubmission
			}
			if err := s.submitter.Send(ctx, tx); err != nil {
				// never broadcast, so the same signed transaction may be sent again
				s.releaseIdempotencyKey(key)
				return nil, err
			}
			return tx, nil
		}, nil
	}

	if req.Form == nil {
		return nil, &ValidationError{Msg: "Registration details are required."}
	}
	if s.signer == nil || s.signer.Address() != addr {
		return nil, ErrSignatureRequired
	}

	form := *req.Form
	if err := ValidateForm(&form); err != nil {
		return nil, err
	}

	return func(ctx context.Context) (*types.Transaction, error) {
		opts, err := s.signer.TransactOpts()
		if err != nil {
			return nil, fmt.Errorf("failed to build transactor: %w", err)
		}
		return s.registry.Register(ctx, opts, form)
	}, nil
}

func (s *RegistrationService) ensureUnregistered(ctx context.Context, addr common.Address) error {
	profile, err := s.profiles.GetProfile(ctx, addr)
	if err != nil {
		return err
	}
	if profile.IsRegistered {
		return ErrAlreadyRegistered
	}
	return nil
}

// track waits for the receipt of hash, then records the outcome and re-reads
// the profile and product list on success.
func (s *RegistrationService) track(sessionID string, addr common.Address, hash common.Hash, lockKey, token string) {
	defer s.wg.Done()
	defer s.releaseLock(lockKey, token)

	ctx, span := util.StartSpan(s.baseCtx, "RegistrationService.track", attribute.String("tx_hash", hash.Hex()))
	defer span.End()

	receipt, err := s.submitter.WaitConfirmed(ctx, hash)
	if err != nil {
		util.RecordError(span, err)
		s.fail(ctx, sessionID, addr, hash, err)
		return
	}

	util.RegistrationsConfirmedTotal.Inc()
	if err := s.journal.UpdateTransactionStatus(ctx, hash.Hex(), models.TxStatusConfirmed, ""); err != nil {
		s.logger.Error("Failed to update journal", zap.String("tx_hash", hash.Hex()), zap.Error(err))
	}

	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	event := &models.RegistrationConfirmedEvent{
		BaseEvent:   broker.NewBaseEvent(models.EventTypeRegistrationConfirmed),
		Producer:    addr.Hex(),
		TxHash:      hash.Hex(),
		BlockNumber: block,
	}

	// The refresh worker repeats the re-read for events this instance could not complete.
	if s.Reread(ctx, addr) {
		if err := s.journal.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
			s.logger.Warn("Failed to mark event processed", zap.Error(err))
		}
	}

	if err := s.events.PublishRegistrationConfirmed(ctx, event); err != nil {
		s.logger.Error("Failed to publish RegistrationConfirmed event", zap.Error(err))
	}

	s.setFeedback(ctx, sessionID, models.FeedbackSuccess,
		fmt.Sprintf("Registration confirmed in block %d.", block), hash.Hex())

	s.logger.Info("Registration confirmed",
		zap.String("producer", addr.Hex()),
		zap.String("tx_hash", hash.Hex()),
		zap.Uint64("block", block))
}

// Reread refreshes the profile and product list of addr and reports whether both succeeded
func (s *RegistrationService) Reread(ctx context.Context, addr common.Address) bool {
	ok := true
	if _, err := s.profiles.Reload(ctx, addr); err != nil {
		s.logger.Warn("Profile re-read after confirmation failed", zap.String("producer", addr.Hex()), zap.Error(err))
		ok = false
	}
	if listing := s.products.Refresh(ctx, addr); listing.ScanErr != nil {
		s.logger.Warn("Product re-read after confirmation failed", zap.String("producer", addr.Hex()), zap.Error(listing.ScanErr))
		ok = false
	}
	return ok
}

func (s *RegistrationService) fail(ctx context.Context, sessionID string, addr common.Address, hash common.Hash, err error) {
	if errors.Is(err, context.Canceled) {
		// shutting down; the transaction may still confirm
		s.logger.Warn("Stopped tracking registration", zap.String("tx_hash", hash.Hex()))
		return
	}
	reason := "receipt"
	if errors.Is(err, chain.ErrTxReverted) {
		reason = "reverted"
	}
	util.RegistrationsFailedTotal.WithLabelValues(reason).Inc()

	msg := Normalize(err)
	if jerr := s.journal.UpdateTransactionStatus(ctx, hash.Hex(), models.TxStatusFailed, err.Error()); jerr != nil {
		s.logger.Error("Failed to update journal", zap.String("tx_hash", hash.Hex()), zap.Error(jerr))
	}
	s.setFeedback(ctx, sessionID, models.FeedbackError, msg, hash.Hex())

	event := &models.RegistrationFailedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeRegistrationFailed),
		Producer:  addr.Hex(),
		TxHash:    hash.Hex(),
		Reason:    err.Error(),
	}
	if perr := s.events.PublishRegistrationFailed(ctx, event); perr != nil {
		s.logger.Error("Failed to publish RegistrationFailed event", zap.Error(perr))
	}

	s.logger.Warn("Registration failed",
		zap.String("producer", addr.Hex()),
		zap.String("tx_hash", hash.Hex()),
		zap.Error(err))
}

// Feedback returns the session's current feedback state
func (s *RegistrationService) Feedback(ctx context.Context, session *models.Session) (models.FeedbackState, error) {
	if session == nil {
		return models.FeedbackState{}, ErrNotConnected
	}
	return s.feedback.GetFeedback(ctx, session.ID)
}

// ResetFeedback clears the session's feedback back to idle
func (s *RegistrationService) ResetFeedback(ctx context.Context, session *models.Session) (models.FeedbackState, error) {
	if session == nil {
		return models.FeedbackState{}, ErrNotConnected
	}
	return s.setFeedback(ctx, session.ID, models.FeedbackIdle, "", ""), nil
}

// Transactions lists the journaled transactions of the session's wallet
func (s *RegistrationService) Transactions(ctx context.Context, session *models.Session, limit int) ([]models.TxRecord, error) {
	if session == nil {
		return nil, ErrNotConnected
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.journal.ListTransactionsByProducer(ctx, session.Address, limit)
}

func (s *RegistrationService) setFeedback(ctx context.Context, sessionID, status, msg, txHash string) models.FeedbackState {
	state := models.FeedbackState{
		Status:    status,
		Message:   msg,
		TxHash:    txHash,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.feedback.SetFeedback(ctx, sessionID, state, feedbackTTL); err != nil {
		s.logger.Warn("Failed to store feedback", zap.String("session", sessionID), zap.Error(err))
	}
	return state
}

func (s *RegistrationService) releaseIdempotencyKey(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.locks.ReleaseIdempotencyKey(ctx, key); err != nil {
		s.logger.Warn("Failed to release idempotency key", zap.String("key", key), zap.Error(err))
	}
}

func (s *RegistrationService) releaseLock(lockKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.locks.ReleaseLock(ctx, lockKey, token); err != nil {
		s.logger.Warn("Failed to release registration lock", zap.String("lock", lockKey), zap.Error(err))
	}
}
