package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"producer-dashboard/internal/models"
	"producer-dashboard/internal/util"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel/attribute"
)

const (
	methodGetProducer      = "getProducer"
	methodRegisterProducer = "registerProducer"
)

// producerRecord mirrors the ProducerRegistry.Producer tuple
type producerRecord struct {
	Name         string
	Description  string
	Website      string
	Contact      string
	Country      string
	IsRegistered bool
	IsVerified   bool
	RegisteredAt *big.Int
	Admin        common.Address
}

// Registry reads and writes the ProducerRegistry contract
type Registry struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewRegistry binds the registry contract at address
func NewRegistry(address common.Address, backend bind.ContractBackend) *Registry {
	return &Registry{
		address:  address,
		contract: bind.NewBoundContract(address, registryABI, backend, backend, backend),
	}
}

// Address returns the contract address
func (r *Registry) Address() common.Address {
	return r.address
}

// GetProducer reads the producer record for addr
func (r *Registry) GetProducer(ctx context.Context, addr common.Address) (*models.ProducerProfile, error) {
	ctx, span := util.StartSpan(ctx, "Registry.GetProducer", attribute.String("producer", addr.Hex()))
	defer span.End()

	defer observeRPC(methodGetProducer, time.Now())

	var out []interface{}
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodGetProducer, addr); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("getProducer call failed: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("getProducer returned no values")
	}

	record := *abi.ConvertType(out[0], new(producerRecord)).(*producerRecord)
	return record.toProfile(addr), nil
}

func (p producerRecord) toProfile(addr common.Address) *models.ProducerProfile {
	profile := &models.ProducerProfile{
		Address:      addr.Hex(),
		Name:         p.Name,
		Description:  p.Description,
		Website:      p.Website,
		Contact:      p.Contact,
		Country:      p.Country,
		IsRegistered: p.IsRegistered,
		IsVerified:   p.IsVerified,
		Admin:        p.Admin.Hex(),
	}
	if p.RegisteredAt != nil && p.RegisteredAt.Sign() > 0 {
		profile.RegisteredAt = time.Unix(p.RegisteredAt.Int64(), 0).UTC()
	}
	return profile
}

// PackRegister encodes registerProducer calldata for a wallet to sign
func (r *Registry) PackRegister(form models.RegistrationForm) ([]byte, error) {
	return registryABI.Pack(methodRegisterProducer,
		form.Name, form.Description, form.Website, form.Contact, form.Country)
}

// DecodeRegister decodes registerProducer calldata back into a form.
// It fails if the calldata targets any other method.
func (r *Registry) DecodeRegister(data []byte) (models.RegistrationForm, error) {
	if len(data) < 4 {
		return models.RegistrationForm{}, fmt.Errorf("calldata too short")
	}

	method, err := registryABI.MethodById(data[:4])
	if err != nil {
		return models.RegistrationForm{}, fmt.Errorf("unknown method: %w", err)
	}
	if method.Name != methodRegisterProducer {
		return models.RegistrationForm{}, fmt.Errorf("unexpected method %s", method.Name)
	}

	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return models.RegistrationForm{}, fmt.Errorf("failed to unpack registerProducer args: %w", err)
	}
	if len(args) != 5 {
		return models.RegistrationForm{}, fmt.Errorf("expected 5 arguments, got %d", len(args))
	}

	fields := make([]string, len(args))
	for i, arg := range args {
		s, ok := arg.(string)
		if !ok {
			return models.RegistrationForm{}, fmt.Errorf("argument %d is %T, want string", i, arg)
		}
		fields[i] = s
	}

	return models.RegistrationForm{
		Name:        fields[0],
		Description: fields[1],
		Website:     fields[2],
		Contact:     fields[3],
		Country:     fields[4],
	}, nil
}

// Register signs and broadcasts registerProducer with opts
func (r *Registry) Register(ctx context.Context, opts *bind.TransactOpts, form models.RegistrationForm) (*types.Transaction, error) {
	ctx, span := util.StartSpan(ctx, "Registry.Register", attribute.String("from", opts.From.Hex()))
	defer span.End()

	defer observeRPC(methodRegisterProducer, time.Now())

	txOpts := *opts
	txOpts.Context = ctx

	tx, err := r.contract.Transact(&txOpts, methodRegisterProducer,
		form.Name, form.Description, form.Website, form.Contact, form.Country)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("registerProducer transaction failed: %w", err)
	}
	return tx, nil
}
