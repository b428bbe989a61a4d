package service

import (
	"context"
	"fmt"
	"time"

	"producer-dashboard/internal/chain"
	"producer-dashboard/internal/models"
	"producer-dashboard/internal/util"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const nonceTTL = 5 * time.Minute

// SessionService connects wallets by verifying a signed sign-in message
type SessionService struct {
	store  SessionStore
	ttl    time.Duration
	logger *zap.Logger
}

// NewSessionService creates a new session service
func NewSessionService(store SessionStore, ttl time.Duration) *SessionService {
	return &SessionService{
		store:  store,
		ttl:    ttl,
		logger: util.GetLogger(),
	}
}

// SignInMessage is the text a wallet signs to prove it owns addr
func SignInMessage(addr common.Address, nonce string) string {
	return fmt.Sprintf("Sign in to the producer dashboard\n\nWallet: %s\nNonce: %s", addr.Hex(), nonce)
}

// IssueNonce creates a single-use nonce for address and returns the message to sign
func (s *SessionService) IssueNonce(ctx context.Context, address string) (string, error) {
	addr, err := chain.ParseAddress(address)
	if err != nil {
		return "", err
	}

	nonce := uuid.New().String()
	if err := s.store.SetNonce(ctx, addr.Hex(), nonce, nonceTTL); err != nil {
		return "", fmt.Errorf("failed to store nonce: %w", err)
	}

	return SignInMessage(addr, nonce), nil
}

// Connect verifies the signature over the outstanding sign-in message and opens a session
func (s *SessionService) Connect(ctx context.Context, address, signature string) (*models.Session, error) {
	ctx, span := util.StartSpan(ctx, "SessionService.Connect")
	defer span.End()

	addr, err := chain.ParseAddress(address)
	if err != nil {
		return nil, err
	}

	nonce, err := s.store.ConsumeNonce(ctx, addr.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}
	if nonce == "" {
		return nil, ErrNonceExpired
	}

	if err := chain.VerifyPersonalSign(addr, SignInMessage(addr, nonce), signature); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	session := &models.Session{
		ID:          uuid.New().String(),
		Address:     addr.Hex(),
		ConnectedAt: time.Now().UTC(),
	}
	if err := s.store.SaveSession(ctx, session, s.ttl); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	util.SessionsConnectedTotal.Inc()
	s.logger.Info("Wallet connected", zap.String("address", session.Address))
	return session, nil
}

// Get returns the session with id, nil when there is none
func (s *SessionService) Get(ctx context.Context, id string) (*models.Session, error) {
	if id == "" {
		return nil, nil
	}
	return s.store.GetSession(ctx, id)
}

// Disconnect closes a session
func (s *SessionService) Disconnect(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return s.store.DeleteSession(ctx, id)
}
