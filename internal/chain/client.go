package chain

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"producer-dashboard/internal/util"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

//go:embed abi/producer_registry.json
var producerRegistryABI string

//go:embed abi/product_nft.json
var productNFTABI string

var (
	registryABI = mustParseABI(producerRegistryABI)
	productABI  = mustParseABI(productNFTABI)
)

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrNotFound       = errors.New("record not found")
)

// Backend is the subset of an RPC client the dashboard needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	ChainID(ctx context.Context) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Dial connects to an Ethereum JSON-RPC endpoint and checks that it serves the expected chain
func Dial(ctx context.Context, rpcURL string, expectedChainID int64) (*ethclient.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}
	if expectedChainID != 0 && chainID.Int64() != expectedChainID {
		client.Close()
		return nil, fmt.Errorf("chain id mismatch: expected %d, got %s", expectedChainID, chainID)
	}

	return client, nil
}

// ParseAddress validates a hex address string
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid embedded abi: %v", err))
	}
	return parsed
}

// observeRPC records the latency of one chain call
func observeRPC(method string, start time.Time) {
	util.RPCLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
}
