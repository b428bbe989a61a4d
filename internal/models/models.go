package models

import "time"

// ProducerProfile is the producer record as returned by the registry contract.
type ProducerProfile struct {
	Address      string    `json:"address"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Website      string    `json:"website"`
	Contact      string    `json:"contact"`
	Country      string    `json:"country"`
	IsRegistered bool      `json:"is_registered"`
	IsVerified   bool      `json:"is_verified"`
	RegisteredAt time.Time `json:"registered_at"`
	Admin        string    `json:"admin"`
}

// ProductStatus is the display status of a minted product.
type ProductStatus string

const (
	ProductStatusMinted   ProductStatus = "Minted"
	ProductStatusVerified ProductStatus = "Verified"
	ProductStatusRevoked  ProductStatus = "Revoked"
)

// ProductSummary is one dashboard row, joined from a mint log, the product record and its metadata.
type ProductSummary struct {
	TokenID   string        `json:"token_id"`
	Name      string        `json:"name"`
	SKU       string        `json:"sku"`
	Batch     string        `json:"batch"`
	Status    ProductStatus `json:"status"`
	MintedAt  int64         `json:"minted_at"`
	UnitsHash string        `json:"unitshash"`
	CID       string        `json:"cid,omitempty"`
}

// ProductList is the cached result of a product scan.
type ProductList struct {
	Producer  string           `json:"producer"`
	Items     []ProductSummary `json:"items"`
	ScannedAt time.Time        `json:"scanned_at"`
}

// RegistrationForm carries the five string arguments of registerProducer.
type RegistrationForm struct {
	Name        string `json:"name" form:"name" binding:"required,max=100"`
	Description string `json:"description" form:"description" binding:"max=1000"`
	Website     string `json:"website" form:"website" binding:"omitempty,url"`
	Contact     string `json:"contact" form:"contact" binding:"required,max=200"`
	Country     string `json:"country" form:"country" binding:"required,max=100"`
}

// Session is a connected wallet.
type Session struct {
	ID          string    `json:"id"`
	Address     string    `json:"address"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Feedback statuses
const (
	FeedbackIdle    = "idle"
	FeedbackPending = "pending"
	FeedbackSuccess = "success"
	FeedbackError   = "error"
)

// FeedbackState reflects the lifecycle of the session's current write transaction.
type FeedbackState struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	TxHash    string    `json:"tx_hash,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TxRecord is a row of the transaction journal.
type TxRecord struct {
	ID        int64     `db:"id" json:"id"`
	TxHash    string    `db:"tx_hash" json:"tx_hash"`
	Producer  string    `db:"producer" json:"producer"`
	Kind      string    `db:"kind" json:"kind"`
	Status    string    `db:"status" json:"status"`
	Error     string    `db:"error" json:"error,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Transaction kinds
const (
	TxKindRegisterProducer = "REGISTER_PRODUCER"
)

// Transaction statuses
const (
	TxStatusPending   = "PENDING"
	TxStatusConfirmed = "CONFIRMED"
	TxStatusFailed    = "FAILED"
)

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
