package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"producer-dashboard/internal/util"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	ErrTxReverted       = errors.New("transaction reverted")
	ErrReceiptTimeout   = errors.New("timed out waiting for transaction receipt")
	ErrInvalidSignedTx  = errors.New("invalid signed transaction")
	ErrWrongChain       = errors.New("transaction signed for another chain")
	ErrUnexpectedTarget = errors.New("transaction targets an unexpected contract")
)

// TxBackend sends transactions and reads receipts
type TxBackend interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Submitter broadcasts transactions and polls for their confirmation
type Submitter struct {
	backend      TxBackend
	chainID      *big.Int
	pollInterval time.Duration
	timeout      time.Duration
	logger       *zap.Logger
}

// NewSubmitter creates a new submitter
func NewSubmitter(backend TxBackend, chainID int64, pollInterval, timeout time.Duration) *Submitter {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Submitter{
		backend:      backend,
		chainID:      big.NewInt(chainID),
		pollInterval: pollInterval,
		timeout:      timeout,
		logger:       util.ComponentLogger("submitter"),
	}
}

// ChainID returns the chain the submitter signs and verifies for
func (s *Submitter) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// DecodeSignedTx parses a hex encoded signed transaction and recovers its sender
func (s *Submitter) DecodeSignedTx(rawHex string) (*types.Transaction, common.Address, error) {
	raw, err := hexutil.Decode(rawHex)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignedTx, err)
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignedTx, err)
	}

	if tx.Protected() && tx.ChainId().Cmp(s.chainID) != 0 {
		return nil, common.Address{}, fmt.Errorf("%w: %s", ErrWrongChain, tx.ChainId())
	}

	from, err := types.Sender(types.LatestSignerForChainID(s.chainID), tx)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignedTx, err)
	}

	return tx, from, nil
}

// Send broadcasts a signed transaction
func (s *Submitter) Send(ctx context.Context, tx *types.Transaction) error {
	ctx, span := util.StartSpan(ctx, "Submitter.Send", attribute.String("tx_hash", tx.Hash().Hex()))
	defer span.End()

	defer observeRPC("eth_sendRawTransaction", time.Now())

	if err := s.backend.SendTransaction(ctx, tx); err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to send transaction: %w", err)
	}

	s.logger.Info("Transaction broadcast", zap.String("tx_hash", tx.Hash().Hex()))
	return nil
}

// WaitConfirmed polls for the receipt of hash until it is mined, ctx ends or the timeout elapses.
// A mined but reverted transaction returns the receipt together with ErrTxReverted.
func (s *Submitter) WaitConfirmed(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, span := util.StartSpan(ctx, "Submitter.WaitConfirmed", attribute.String("tx_hash", hash.Hex()))
	defer span.End()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				util.RecordError(span, ErrTxReverted)
				return receipt, ErrTxReverted
			}
			span.SetAttributes(attribute.Int64("block", receipt.BlockNumber.Int64()))
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			s.logger.Warn("Receipt lookup failed, retrying",
				zap.String("tx_hash", hash.Hex()),
				zap.Error(err))
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				util.RecordError(span, ErrReceiptTimeout)
				return nil, ErrReceiptTimeout
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
