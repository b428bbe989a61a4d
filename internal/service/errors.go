package service

import (
	"context"
	"errors"
	"strings"

	"producer-dashboard/internal/chain"
)

var (
	ErrNotConnected         = errors.New("wallet not connected")
	ErrNonceExpired         = errors.New("sign-in nonce expired")
	ErrInvalidSignature     = errors.New("invalid wallet signature")
	ErrAlreadyRegistered    = errors.New("producer already registered")
	ErrRegistrationInFlight = errors.New("registration already pending")
	ErrDuplicateSubmission  = errors.New("transaction already submitted")
	ErrSignerMismatch       = errors.New("transaction not signed by connected wallet")
	ErrSignatureRequired    = errors.New("wallet signature required")
	ErrScanSuperseded       = errors.New("product scan superseded")
)

// GenericErrorMessage is shown for errors of unrecognised shape
const GenericErrorMessage = "Something went wrong. Please try again."

// ValidationError carries a message that is safe to show as is
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

var messages = []struct {
	err error
	msg string
}{
	{ErrNotConnected, "Connect your wallet to continue."},
	{ErrNonceExpired, "Your sign-in request expired. Please try connecting again."},
	{ErrInvalidSignature, "The wallet signature could not be verified."},
	{ErrAlreadyRegistered, "This wallet is already registered as a producer."},
	{ErrRegistrationInFlight, "A registration for this wallet is already pending."},
	{ErrDuplicateSubmission, "This transaction has already been submitted."},
	{ErrSignerMismatch, "The transaction was not signed by the connected wallet."},
	{ErrSignatureRequired, "Please sign the registration transaction in your wallet."},
	{ErrScanSuperseded, "A newer product refresh replaced this one."},
	{chain.ErrInvalidAddress, "The wallet address is not valid."},
	{chain.ErrSignatureMismatch, "The wallet signature could not be verified."},
	{chain.ErrTxReverted, "The transaction was reverted on-chain."},
	{chain.ErrReceiptTimeout, "The transaction was not confirmed in time. Check your wallet for its status."},
	{chain.ErrInvalidSignedTx, "The signed transaction could not be decoded."},
	{chain.ErrWrongChain, "The transaction was signed for a different network."},
	{chain.ErrUnexpectedTarget, "The transaction does not call the producer registry."},
	{context.DeadlineExceeded, "The request timed out. Please try again."},
	{context.Canceled, "The request was cancelled."},
}

// Normalize turns any error into a human readable message
func Normalize(err error) string {
	if err == nil {
		return ""
	}

	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Msg
	}

	for _, m := range messages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}

	return normalizeNodeMessage(err.Error())
}

// normalizeNodeMessage maps well-known JSON-RPC and wallet error texts
func normalizeNodeMessage(text string) string {
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, "execution reverted:"):
		reason := strings.TrimSpace(text[strings.Index(lower, "execution reverted:")+len("execution reverted:"):])
		if reason != "" {
			return "Transaction rejected: " + reason
		}
		return "The transaction was rejected by the contract."
	case strings.Contains(lower, "execution reverted"):
		return "The transaction was rejected by the contract."
	case strings.Contains(lower, "insufficient funds"):
		return "Insufficient funds to pay for gas."
	case strings.Contains(lower, "nonce too low"), strings.Contains(lower, "already known"):
		return "A transaction from this wallet is already pending."
	case strings.Contains(lower, "user rejected"), strings.Contains(lower, "user denied"):
		return "The request was rejected in the wallet."
	case strings.Contains(lower, "connection refused"), strings.Contains(lower, "no such host"):
		return "The blockchain node is unreachable. Please try again."
	}

	return GenericErrorMessage
}
