package service

import (
	"context"
	"math/big"
	"time"

	"producer-dashboard/internal/chain"
	"producer-dashboard/internal/models"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ProducerReader reads producer records. Implemented by *chain.Registry.
type ProducerReader interface {
	GetProducer(ctx context.Context, addr common.Address) (*models.ProducerProfile, error)
}

// ProductReader reads mint logs and product records. Implemented by *chain.Products.
type ProductReader interface {
	MintLogs(ctx context.Context, producer common.Address, fromBlock uint64) ([]chain.MintLog, error)
	GetProduct(ctx context.Context, unitsHash common.Hash) (*chain.ProductRecord, error)
}

// MetadataFetcher resolves content pointers. Implemented by *metadata.Gateway.
type MetadataFetcher interface {
	Fetch(ctx context.Context, cid string) map[string]any
}

// RegistrationWriter encodes and sends registerProducer. Implemented by *chain.Registry.
type RegistrationWriter interface {
	Address() common.Address
	PackRegister(form models.RegistrationForm) ([]byte, error)
	DecodeRegister(data []byte) (models.RegistrationForm, error)
	Register(ctx context.Context, opts *bind.TransactOpts, form models.RegistrationForm) (*types.Transaction, error)
}

// TxSubmitter broadcasts and tracks transactions. Implemented by *chain.Submitter.
type TxSubmitter interface {
	ChainID() *big.Int
	DecodeSignedTx(rawHex string) (*types.Transaction, common.Address, error)
	Send(ctx context.Context, tx *types.Transaction) error
	WaitConfirmed(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// TxSigner signs on behalf of one address. Implemented by *chain.LocalSigner.
type TxSigner interface {
	Address() common.Address
	TransactOpts() (*bind.TransactOpts, error)
}

// Cache is a JSON read-through cache. Implemented by *redisclient.Client.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// SessionStore persists wallet sessions. Implemented by *redisclient.Client.
type SessionStore interface {
	SetNonce(ctx context.Context, address, nonce string, ttl time.Duration) error
	ConsumeNonce(ctx context.Context, address string) (string, error)
	SaveSession(ctx context.Context, session *models.Session, ttl time.Duration) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// FeedbackStore persists per-session transaction feedback. Implemented by *redisclient.Client.
type FeedbackStore interface {
	SetFeedback(ctx context.Context, sessionID string, state models.FeedbackState, ttl time.Duration) error
	GetFeedback(ctx context.Context, sessionID string) (models.FeedbackState, error)
}

// Locker guards against concurrent or repeated writes. Implemented by *redisclient.Client.
type Locker interface {
	AcquireLock(ctx context.Context, lockKey, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

// TxJournal records submitted transactions. Implemented by *store.Store.
type TxJournal interface {
	CreateTransaction(ctx context.Context, tx *models.TxRecord) error
	UpdateTransactionStatus(ctx context.Context, txHash, status, errMsg string) error
	ListTransactionsByProducer(ctx context.Context, producer string, limit int) ([]models.TxRecord, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// EventPublisher publishes dashboard events. Implemented by *broker.EventPublisher.
type EventPublisher interface {
	PublishRegistrationSubmitted(ctx context.Context, event *models.RegistrationSubmittedEvent) error
	PublishRegistrationConfirmed(ctx context.Context, event *models.RegistrationConfirmedEvent) error
	PublishRegistrationFailed(ctx context.Context, event *models.RegistrationFailedEvent) error
	PublishProductsRefreshed(ctx context.Context, event *models.ProductsRefreshedEvent) error
}
