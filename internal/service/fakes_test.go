package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"producer-dashboard/internal/chain"
	"producer-dashboard/internal/models"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	registryAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	producerAddr = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

// fakeRegistry reads profiles from memory and counts every chain access.
// Calldata encoding is delegated to a real chain.Registry.
type fakeRegistry struct {
	*chain.Registry

	mu       sync.Mutex
	profiles map[common.Address]*models.ProducerProfile
	readErr  error
	reads    int
	writes   int
	writeErr error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		Registry: chain.NewRegistry(registryAddr, nil),
		profiles: make(map[common.Address]*models.ProducerProfile),
	}
}

func (r *fakeRegistry) GetProducer(ctx context.Context, addr common.Address) (*models.ProducerProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.readErr != nil {
		return nil, r.readErr
	}
	if p, ok := r.profiles[addr]; ok {
		cp := *p
		return &cp, nil
	}
	return &models.ProducerProfile{Address: addr.Hex()}, nil
}

// Register records the write and marks the sender registered, like a mined registerProducer.
func (r *fakeRegistry) Register(ctx context.Context, opts *bind.TransactOpts, form models.RegistrationForm) (*types.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	if r.writeErr != nil {
		return nil, r.writeErr
	}
	r.profiles[opts.From] = &models.ProducerProfile{
		Address:      opts.From.Hex(),
		Name:         form.Name,
		Description:  form.Description,
		Website:      form.Website,
		Contact:      form.Contact,
		Country:      form.Country,
		IsRegistered: true,
	}
	to := registryAddr
	return types.NewTx(&types.LegacyTx{Nonce: uint64(r.writes), To: &to, Gas: 100000, GasPrice: big.NewInt(1)}), nil
}

func (r *fakeRegistry) setProfile(p *models.ProducerProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[common.HexToAddress(p.Address)] = p
}

func (r *fakeRegistry) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads, r.writes
}

type fakeProducts struct {
	mu         sync.Mutex
	logs       []chain.MintLog
	logErr     error
	records    map[common.Hash]*chain.ProductRecord
	recordErrs map[common.Hash]error
	logCalls   int
	block      chan struct{}
}

func newFakeProducts() *fakeProducts {
	return &fakeProducts{
		records:    make(map[common.Hash]*chain.ProductRecord),
		recordErrs: make(map[common.Hash]error),
	}
}

func (p *fakeProducts) MintLogs(ctx context.Context, producer common.Address, fromBlock uint64) ([]chain.MintLog, error) {
	p.mu.Lock()
	p.logCalls++
	block := p.block
	logs, err := p.logs, p.logErr
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return logs, err
}

func (p *fakeProducts) GetProduct(ctx context.Context, unitsHash common.Hash) (*chain.ProductRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.recordErrs[unitsHash]; err != nil {
		return nil, err
	}
	if r, ok := p.records[unitsHash]; ok {
		return r, nil
	}
	return nil, chain.ErrNotFound
}

// addProduct adds a mint log with a matching product record and returns its unitshash
func (p *fakeProducts) addProduct(tokenID int64, mintedAt int64) common.Hash {
	p.mu.Lock()
	defer p.mu.Unlock()
	hash := common.BigToHash(big.NewInt(1000 + tokenID))
	cid := fmt.Sprintf("cid-%d", tokenID)
	p.logs = append(p.logs, chain.MintLog{
		TokenID:   big.NewInt(tokenID),
		Producer:  producerAddr,
		UnitsHash: hash,
		CID:       cid,
	})
	p.records[hash] = &chain.ProductRecord{
		TokenID:   big.NewInt(tokenID),
		Producer:  producerAddr,
		UnitsHash: hash,
		CID:       cid,
		MintedAt:  mintedAt,
	}
	return hash
}

func (p *fakeProducts) truncate(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logs = p.logs[:n]
}

func (p *fakeProducts) setLogErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logErr = err
}

type fakeMetadata struct {
	mu     sync.Mutex
	docs   map[string]map[string]any
	failed map[string]bool
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{docs: make(map[string]map[string]any), failed: make(map[string]bool)}
}

func (m *fakeMetadata) Fetch(ctx context.Context, cid string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failed[cid] {
		return map[string]any{}
	}
	if doc, ok := m.docs[cid]; ok {
		return doc
	}
	return map[string]any{"name": "Product " + cid, "sku": "SKU-" + cid, "batch": "B-" + cid}
}

// memStore is an in-memory stand-in for the redis client
type memStore struct {
	mu       sync.Mutex
	values   map[string][]byte
	nonces   map[string]string
	sessions map[string]*models.Session
	feedback map[string][]models.FeedbackState
	locks    map[string]string
	claimed  map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		values:   make(map[string][]byte),
		nonces:   make(map[string]string),
		sessions: make(map[string]*models.Session),
		feedback: make(map[string][]models.FeedbackState),
		locks:    make(map[string]string),
		claimed:  make(map[string]bool),
	}
}

func (m *memStore) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.values[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (m *memStore) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = raw
	return nil
}

func (m *memStore) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func (m *memStore) SetNonce(ctx context.Context, address, nonce string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonces[strings.ToLower(address)] = nonce
	return nil
}

func (m *memStore) ConsumeNonce(ctx context.Context, address string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(address)
	nonce := m.nonces[key]
	delete(m.nonces, key)
	return nonce, nil
}

func (m *memStore) SaveSession(ctx context.Context, session *models.Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *memStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	delete(m.feedback, id)
	return nil
}

func (m *memStore) SetFeedback(ctx context.Context, sessionID string, state models.FeedbackState, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback[sessionID] = append(m.feedback[sessionID], state)
	return nil
}

func (m *memStore) GetFeedback(ctx context.Context, sessionID string) (models.FeedbackState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.feedback[sessionID]
	if len(history) == 0 {
		return models.FeedbackState{Status: models.FeedbackIdle}, nil
	}
	return history[len(history)-1], nil
}

// feedbackStatuses returns every status the session's feedback went through
func (m *memStore) feedbackStatuses(sessionID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.feedback[sessionID] {
		if len(out) == 0 || out[len(out)-1] != s.Status {
			out = append(out, s.Status)
		}
	}
	return out
}

func (m *memStore) AcquireLock(ctx context.Context, lockKey, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[lockKey]; held {
		return false, nil
	}
	m.locks[lockKey] = token
	return true, nil
}

func (m *memStore) ReleaseLock(ctx context.Context, lockKey, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[lockKey] == token {
		delete(m.locks, lockKey)
	}
	return nil
}

func (m *memStore) lockHeld(lockKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.locks[lockKey]
	return held
}

func (m *memStore) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimed[key] {
		return false, nil
	}
	m.claimed[key] = true
	return true, nil
}

func (m *memStore) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claimed, key)
	return nil
}

// fakeSubmitter decodes with a real chain.Submitter; Send and WaitConfirmed are scripted.
// WaitConfirmed blocks until release is closed.
type fakeSubmitter struct {
	*chain.Submitter

	mu         sync.Mutex
	sent       []*types.Transaction
	sendErr    error
	receiptErr error
	release    chan struct{}
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{
		Submitter: chain.NewSubmitter(nil, 31337, time.Millisecond, time.Second),
		release:   make(chan struct{}),
	}
}

func (s *fakeSubmitter) Send(ctx context.Context, tx *types.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, tx)
	return s.sendErr
}

func (s *fakeSubmitter) WaitConfirmed(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.receiptErr != nil {
		return &types.Receipt{Status: types.ReceiptStatusFailed, TxHash: hash, BlockNumber: big.NewInt(7)}, s.receiptErr
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash, BlockNumber: big.NewInt(7)}, nil
}

func (s *fakeSubmitter) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeJournal struct {
	mu        sync.Mutex
	records   map[string]*models.TxRecord
	processed map[string]bool
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{records: make(map[string]*models.TxRecord), processed: make(map[string]bool)}
}

func (j *fakeJournal) CreateTransaction(ctx context.Context, tx *models.TxRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	cp := *tx
	j.records[tx.TxHash] = &cp
	return nil
}

func (j *fakeJournal) UpdateTransactionStatus(ctx context.Context, txHash, status, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	r, ok := j.records[txHash]
	if !ok {
		return errors.New("not found")
	}
	r.Status = status
	r.Error = errMsg
	return nil
}

func (j *fakeJournal) ListTransactionsByProducer(ctx context.Context, producer string, limit int) ([]models.TxRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []models.TxRecord
	for _, r := range j.records {
		if strings.EqualFold(r.Producer, producer) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (j *fakeJournal) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.processed[eventID], nil
}

func (j *fakeJournal) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.processed[eventID] = true
	return nil
}

func (j *fakeJournal) status(txHash string) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if r, ok := j.records[txHash]; ok {
		return r.Status
	}
	return ""
}

func (j *fakeJournal) processedCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.processed)
}

type fakeEvents struct {
	mu        sync.Mutex
	submitted []*models.RegistrationSubmittedEvent
	confirmed []*models.RegistrationConfirmedEvent
	failed    []*models.RegistrationFailedEvent
	refreshed []*models.ProductsRefreshedEvent
}

func (e *fakeEvents) PublishRegistrationSubmitted(ctx context.Context, event *models.RegistrationSubmittedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.submitted = append(e.submitted, event)
	return nil
}

func (e *fakeEvents) PublishRegistrationConfirmed(ctx context.Context, event *models.RegistrationConfirmedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.confirmed = append(e.confirmed, event)
	return nil
}

func (e *fakeEvents) PublishRegistrationFailed(ctx context.Context, event *models.RegistrationFailedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed = append(e.failed, event)
	return nil
}

func (e *fakeEvents) PublishProductsRefreshed(ctx context.Context, event *models.ProductsRefreshedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refreshed = append(e.refreshed, event)
	return nil
}

func (e *fakeEvents) counts() (submitted, confirmed, failed int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.submitted), len(e.confirmed), len(e.failed)
}

// harness wires every service over in-memory fakes
type harness struct {
	registry  *fakeRegistry
	products  *fakeProducts
	metadata  *fakeMetadata
	store     *memStore
	submitter *fakeSubmitter
	journal   *fakeJournal
	events    *fakeEvents

	profileSvc   *ProfileService
	productSvc   *ProductService
	sessionSvc   *SessionService
	registration *RegistrationService
	dashboard    *DashboardService
}

func newHarness(signer TxSigner) *harness {
	h := &harness{
		registry:  newFakeRegistry(),
		products:  newFakeProducts(),
		metadata:  newFakeMetadata(),
		store:     newMemStore(),
		submitter: newFakeSubmitter(),
		journal:   newFakeJournal(),
		events:    &fakeEvents{},
	}

	h.profileSvc = NewProfileService(h.registry, h.store, time.Minute)
	h.productSvc = NewProductService(h.products, h.metadata, h.store, h.events, ProductServiceConfig{
		TTL:         time.Minute,
		Concurrency: 4,
	})
	h.sessionSvc = NewSessionService(h.store, time.Hour)
	h.registration = NewRegistrationService(RegistrationDeps{
		Registry:       h.registry,
		Submitter:      h.submitter,
		Signer:         signer,
		Profiles:       h.profileSvc,
		Products:       h.productSvc,
		Feedback:       h.store,
		Locks:          h.store,
		Journal:        h.journal,
		Events:         h.events,
		ReceiptTimeout: time.Second,
	})
	h.dashboard = NewDashboardService(h.profileSvc, h.productSvc, h.store, 10, 50)
	return h
}

func (h *harness) registerProducer() *models.ProducerProfile {
	p := &models.ProducerProfile{
		Address:      producerAddr.Hex(),
		Name:         "Acme Farms",
		Description:  "Organic produce",
		Website:      "https://acme.example",
		Contact:      "hello@acme.example",
		Country:      "NZ",
		IsRegistered: true,
		IsVerified:   true,
		RegisteredAt: time.Unix(1700000000, 0).UTC(),
		Admin:        "0x0000000000000000000000000000000000000001",
	}
	h.registry.setProfile(p)
	return p
}

func testSession(addr common.Address) *models.Session {
	return &models.Session{ID: "session-1", Address: addr.Hex(), ConnectedAt: time.Now().UTC()}
}
