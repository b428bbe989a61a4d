package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"producer-dashboard/internal/util"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel/attribute"
)

const (
	eventProductMinted = "ProductMinted"
	methodGetProduct   = "getProduct"
)

// MintLog is a decoded ProductMinted event
type MintLog struct {
	TokenID     *big.Int
	Producer    common.Address
	UnitsHash   common.Hash
	CID         string
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// ProductRecord is the current on-chain state of a product
type ProductRecord struct {
	TokenID   *big.Int
	Producer  common.Address
	UnitsHash common.Hash
	CID       string
	MintedAt  int64
	Verified  bool
	Revoked   bool
}

// productMinted mirrors the ProductMinted event arguments
type productMinted struct {
	TokenId   *big.Int
	Producer  common.Address
	Unitshash [32]byte
	Cid       string
}

// productTuple mirrors the ProductNFT.Product tuple
type productTuple struct {
	TokenId   *big.Int
	Producer  common.Address
	Unitshash [32]byte
	Cid       string
	MintedAt  *big.Int
	Verified  bool
	Revoked   bool
}

// Products reads the ProductNFT contract
type Products struct {
	address  common.Address
	backend  ethereum.LogFilterer
	contract *bind.BoundContract
}

// NewProducts binds the product contract at address
func NewProducts(address common.Address, backend bind.ContractBackend) *Products {
	return &Products{
		address:  address,
		backend:  backend,
		contract: bind.NewBoundContract(address, productABI, backend, backend, backend),
	}
}

// MintFilter builds the log query for mints by producer starting at fromBlock
func (p *Products) MintFilter(producer common.Address, fromBlock uint64) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{p.address},
		Topics: [][]common.Hash{
			{productABI.Events[eventProductMinted].ID},
			nil,
			{common.BytesToHash(producer.Bytes())},
		},
	}
}

// MintLogs returns the mint events emitted for producer, in chain order
func (p *Products) MintLogs(ctx context.Context, producer common.Address, fromBlock uint64) ([]MintLog, error) {
	ctx, span := util.StartSpan(ctx, "Products.MintLogs",
		attribute.String("producer", producer.Hex()),
		attribute.Int64("from_block", int64(fromBlock)))
	defer span.End()

	start := time.Now()
	logs, err := p.backend.FilterLogs(ctx, p.MintFilter(producer, fromBlock))
	observeRPC("eth_getLogs", start)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to query mint logs: %w", err)
	}

	mints := make([]MintLog, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		mint, err := p.decodeMintLog(l)
		if err != nil {
			return nil, err
		}
		mints = append(mints, mint)
	}

	span.SetAttributes(attribute.Int("logs", len(mints)))
	return mints, nil
}

func (p *Products) decodeMintLog(l types.Log) (MintLog, error) {
	var ev productMinted
	if err := p.contract.UnpackLog(&ev, eventProductMinted, l); err != nil {
		return MintLog{}, fmt.Errorf("failed to decode mint log %s#%d: %w", l.TxHash.Hex(), l.Index, err)
	}
	return MintLog{
		TokenID:     ev.TokenId,
		Producer:    ev.Producer,
		UnitsHash:   common.Hash(ev.Unitshash),
		CID:         ev.Cid,
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash,
		LogIndex:    l.Index,
	}, nil
}

// GetProduct reads the current product record for unitshash.
// A zeroed record is reported as ErrNotFound.
func (p *Products) GetProduct(ctx context.Context, unitsHash common.Hash) (*ProductRecord, error) {
	ctx, span := util.StartSpan(ctx, "Products.GetProduct", attribute.String("unitshash", unitsHash.Hex()))
	defer span.End()

	defer observeRPC(methodGetProduct, time.Now())

	var out []interface{}
	if err := p.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodGetProduct, [32]byte(unitsHash)); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("getProduct call failed: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("getProduct returned no values")
	}

	raw := *abi.ConvertType(out[0], new(productTuple)).(*productTuple)
	return raw.toRecord()
}

func (t productTuple) toRecord() (*ProductRecord, error) {
	if (t.TokenId == nil || t.TokenId.Sign() == 0) && t.Unitshash == [32]byte{} {
		return nil, ErrNotFound
	}
	record := &ProductRecord{
		TokenID:   t.TokenId,
		Producer:  t.Producer,
		UnitsHash: common.Hash(t.Unitshash),
		CID:       t.Cid,
		Verified:  t.Verified,
		Revoked:   t.Revoked,
	}
	if t.MintedAt != nil {
		record.MintedAt = t.MintedAt.Int64()
	}
	return record, nil
}
