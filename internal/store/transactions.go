package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"producer-dashboard/internal/models"
)

var ErrTransactionNotFound = errors.New("transaction not found")

// CreateTransaction journals a broadcast transaction
func (s *Store) CreateTransaction(ctx context.Context, tx *models.TxRecord) error {
	query := `
		INSERT INTO transactions (tx_hash, producer, kind, status, error)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return s.db.QueryRowxContext(ctx, query,
		strings.ToLower(tx.TxHash), strings.ToLower(tx.Producer), tx.Kind, tx.Status, tx.Error).
		Scan(&tx.ID, &tx.CreatedAt, &tx.UpdatedAt)
}

// UpdateTransactionStatus records the outcome of a journaled transaction
func (s *Store) UpdateTransactionStatus(ctx context.Context, txHash, status, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE transactions SET status = $1, error = $2, updated_at = NOW() WHERE tx_hash = $3",
		status, errMsg, strings.ToLower(txHash))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, txHash)
	}
	return nil
}

// GetTransactionByHash retrieves a journaled transaction
func (s *Store) GetTransactionByHash(ctx context.Context, txHash string) (*models.TxRecord, error) {
	var tx models.TxRecord
	err := s.db.GetContext(ctx, &tx, "SELECT * FROM transactions WHERE tx_hash = $1", strings.ToLower(txHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, txHash)
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// ListTransactionsByProducer retrieves the most recent transactions of a producer
func (s *Store) ListTransactionsByProducer(ctx context.Context, producer string, limit int) ([]models.TxRecord, error) {
	txs := []models.TxRecord{}
	err := s.db.SelectContext(ctx, &txs,
		"SELECT * FROM transactions WHERE producer = $1 ORDER BY created_at DESC LIMIT $2",
		strings.ToLower(producer), limit)
	return txs, err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
