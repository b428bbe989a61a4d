package chain

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrSignatureMismatch = errors.New("signature does not match address")

// VerifyPersonalSign checks an EIP-191 personal_sign signature of message by addr
func VerifyPersonalSign(addr common.Address, message, signatureHex string) error {
	sig, err := hexutil.Decode(signatureHex)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("invalid signature length %d", len(sig))
	}

	// wallets return v as 27/28
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return fmt.Errorf("failed to recover signer: %w", err)
	}
	if crypto.PubkeyToAddress(*pub) != addr {
		return ErrSignatureMismatch
	}
	return nil
}

// LocalSigner signs transactions with a key held by the server
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

// NewLocalSigner parses a hex private key. An empty key returns nil, nil.
func NewLocalSigner(hexKey string, chainID int64) (*LocalSigner, error) {
	if hexKey == "" {
		return nil, nil
	}
	key, err := crypto.HexToECDSA(trim0x(hexKey))
	if err != nil {
		return nil, fmt.Errorf("invalid signer key: %w", err)
	}
	return &LocalSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(chainID),
	}, nil
}

// Address returns the signer's address
func (s *LocalSigner) Address() common.Address {
	return s.address
}

// TransactOpts returns keyed transactor options for the signer
func (s *LocalSigner) TransactOpts() (*bind.TransactOpts, error) {
	return bind.NewKeyedTransactorWithChainID(s.key, s.chainID)
}

func trim0x(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}
