package models

import "time"

// Event types
const (
	EventTypeRegistrationSubmitted = "REGISTRATION_SUBMITTED"
	EventTypeRegistrationConfirmed = "REGISTRATION_CONFIRMED"
	EventTypeRegistrationFailed    = "REGISTRATION_FAILED"
	EventTypeProductsRefreshed     = "PRODUCTS_REFRESHED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// RegistrationSubmittedEvent published once a registration transaction is broadcast
type RegistrationSubmittedEvent struct {
	BaseEvent
	Producer string `json:"producer"`
	TxHash   string `json:"tx_hash"`
}

// RegistrationConfirmedEvent published when the registration receipt succeeds
type RegistrationConfirmedEvent struct {
	BaseEvent
	Producer    string `json:"producer"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

// RegistrationFailedEvent published when the transaction reverts or is never mined
type RegistrationFailedEvent struct {
	BaseEvent
	Producer string `json:"producer"`
	TxHash   string `json:"tx_hash"`
	Reason   string `json:"reason"`
}

// ProductsRefreshedEvent published after a successful product scan
type ProductsRefreshedEvent struct {
	BaseEvent
	Producer string `json:"producer"`
	Count    int    `json:"count"`
}
