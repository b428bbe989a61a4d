package service

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"producer-dashboard/internal/chain"
	"producer-dashboard/internal/models"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var testForm = models.RegistrationForm{
	Name:        "Acme Farms",
	Description: "Organic produce",
	Website:     "https://acme.example",
	Contact:     "hello@acme.example",
	Country:     "NZ",
}

var producerLock = "register:" + strings.ToLower(producerAddr.Hex())

func signRegistration(t *testing.T, h *harness, key *ecdsa.PrivateKey, nonce uint64) string {
	t.Helper()
	data, err := h.registry.PackRegister(testForm)
	require.NoError(t, err)

	to := registryAddr
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(31337),
		Nonce:     nonce,
		Gas:       300000,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		To:        &to,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(31337)), key)
	require.NoError(t, err)

	raw, err := signed.MarshalBinary()
	require.NoError(t, err)
	return hexutil.Encode(raw)
}

func producerECDSA(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.HexToECDSA(producerKey)
	require.NoError(t, err)
	return key
}

func feedbackIs(h *harness, sessionID, status string) func() bool {
	return func() bool {
		fb, _ := h.store.GetFeedback(context.Background(), sessionID)
		return fb.Status == status
	}
}

func TestPrepareReturnsRegistryCalldata(t *testing.T) {
	h := newHarness(nil)
	defer h.registration.Close()

	prepared, err := h.registration.Prepare(context.Background(), testSession(producerAddr), testForm)
	require.NoError(t, err)
	assert.Equal(t, registryAddr.Hex(), prepared.To)
	assert.Equal(t, "31337", prepared.ChainID)

	data, err := hexutil.Decode(prepared.Data)
	require.NoError(t, err)
	form, err := h.registry.DecodeRegister(data)
	require.NoError(t, err)
	assert.Equal(t, testForm, form)
}

func TestPrepareValidatesForm(t *testing.T) {
	h := newHarness(nil)
	defer h.registration.Close()

	form := testForm
	form.Name = "  "
	_, err := h.registration.Prepare(context.Background(), testSession(producerAddr), form)
	assert.Equal(t, "Name is required.", Normalize(err))

	form = testForm
	form.Website = "ftp://acme.example"
	_, err = h.registration.Prepare(context.Background(), testSession(producerAddr), form)
	assert.Equal(t, "Website must be an http(s) URL.", Normalize(err))

	_, err = h.registration.Prepare(context.Background(), nil, testForm)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSubmitWithLocalSignerMakesOneWrite(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	signer, err := chain.NewLocalSigner(producerKey, 31337)
	require.NoError(t, err)
	require.Equal(t, producerAddr, signer.Address())

	h := newHarness(signer)
	defer h.registration.Close()
	session := testSession(producerAddr)
	ctx := context.Background()

	view := h.dashboard.Build(ctx, session, 1, 0)
	require.Equal(t, ScreenRegister, view.Screen)

	form := testForm
	state, err := h.registration.Submit(ctx, session, SubmitRequest{Form: &form})
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackPending, state.Status)
	require.NotEmpty(t, state.TxHash)
	assert.True(t, h.store.lockHeld(producerLock))

	close(h.submitter.release)
	require.Eventually(t, feedbackIs(h, session.ID, models.FeedbackSuccess), time.Second, time.Millisecond)
	h.registration.Close()

	_, writes := h.registry.counts()
	assert.Equal(t, 1, writes)
	assert.Equal(t, 0, h.submitter.sentCount())
	assert.Equal(t, []string{models.FeedbackPending, models.FeedbackSuccess}, h.store.feedbackStatuses(session.ID))
	assert.Equal(t, models.TxStatusConfirmed, h.journal.status(state.TxHash))
	assert.False(t, h.store.lockHeld(producerLock))
	assert.Equal(t, 1, h.journal.processedCount())

	submitted, confirmed, failed := h.events.counts()
	assert.Equal(t, 1, submitted)
	assert.Equal(t, 1, confirmed)
	assert.Equal(t, 0, failed)

	// the confirmed write re-read the profile, so the dashboard now shows the producer
	view = h.dashboard.Build(ctx, session, 1, 0)
	assert.Equal(t, ScreenDashboard, view.Screen)
	assert.Equal(t, testForm.Name, view.Profile.Name)
}

func TestSubmitSignedTransaction(t *testing.T) {
	h := newHarness(nil)
	defer h.registration.Close()
	session := testSession(producerAddr)
	raw := signRegistration(t, h, producerECDSA(t), 0)

	state, err := h.registration.Submit(context.Background(), session, SubmitRequest{SignedTx: raw})
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackPending, state.Status)
	assert.Equal(t, 1, h.submitter.sentCount())

	close(h.submitter.release)
	require.Eventually(t, feedbackIs(h, session.ID, models.FeedbackSuccess), time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return !h.store.lockHeld(producerLock) }, time.Second, time.Millisecond)

	// replaying the same signed transaction is refused
	_, err = h.registration.Submit(context.Background(), session, SubmitRequest{SignedTx: raw})
	assert.ErrorIs(t, err, ErrDuplicateSubmission)
	assert.Equal(t, 1, h.submitter.sentCount())
}

func TestSubmitRejectsForeignSigner(t *testing.T) {
	h := newHarness(nil)
	defer h.registration.Close()
	session := testSession(producerAddr)

	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	state, err := h.registration.Submit(context.Background(), session, SubmitRequest{SignedTx: signRegistration(t, h, other, 0)})
	assert.ErrorIs(t, err, ErrSignerMismatch)
	assert.Equal(t, models.FeedbackError, state.Status)
	assert.Equal(t, "The transaction was not signed by the connected wallet.", state.Message)
	assert.Equal(t, 0, h.submitter.sentCount())
}

func TestSubmitRequiresWalletSignature(t *testing.T) {
	h := newHarness(nil)
	defer h.registration.Close()

	form := testForm
	_, err := h.registration.Submit(context.Background(), testSession(producerAddr), SubmitRequest{Form: &form})
	assert.ErrorIs(t, err, ErrSignatureRequired)

	_, writes := h.registry.counts()
	assert.Zero(t, writes)
}

func TestSubmitAlreadyRegistered(t *testing.T) {
	h := newHarness(nil)
	defer h.registration.Close()
	h.registerProducer()

	_, err := h.registration.Submit(context.Background(), testSession(producerAddr),
		SubmitRequest{SignedTx: signRegistration(t, h, producerECDSA(t), 0)})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
	assert.Equal(t, 0, h.submitter.sentCount())
}

func TestSubmitWhileInFlight(t *testing.T) {
	h := newHarness(nil)
	defer h.registration.Close()
	session := testSession(producerAddr)
	key := producerECDSA(t)

	_, err := h.registration.Submit(context.Background(), session, SubmitRequest{SignedTx: signRegistration(t, h, key, 0)})
	require.NoError(t, err)

	_, err = h.registration.Submit(context.Background(), session, SubmitRequest{SignedTx: signRegistration(t, h, key, 1)})
	assert.ErrorIs(t, err, ErrRegistrationInFlight)
	assert.Equal(t, 1, h.submitter.sentCount())

	fb, err := h.registration.Feedback(context.Background(), session)
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackPending, fb.Status)
}

func TestSubmitSendFailure(t *testing.T) {
	h := newHarness(nil)
	defer h.registration.Close()
	h.submitter.sendErr = errors.New("insufficient funds for gas * price + value")
	session := testSession(producerAddr)

	state, err := h.registration.Submit(context.Background(), session,
		SubmitRequest{SignedTx: signRegistration(t, h, producerECDSA(t), 0)})
	require.Error(t, err)
	assert.Equal(t, models.FeedbackError, state.Status)
	assert.Equal(t, "Insufficient funds to pay for gas.", state.Message)
	assert.False(t, h.store.lockHeld(producerLock))
	assert.Empty(t, h.journal.records)

	submitted, _, _ := h.events.counts()
	assert.Zero(t, submitted)
}

func TestSubmitRetryAfterFailedBroadcast(t *testing.T) {
	h := newHarness(nil)
	defer h.registration.Close()
	session := testSession(producerAddr)
	raw := signRegistration(t, h, producerECDSA(t), 0)

	h.submitter.mu.Lock()
	h.submitter.sendErr = errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")
	h.submitter.mu.Unlock()

	_, err := h.registration.Submit(context.Background(), session, SubmitRequest{SignedTx: raw})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateSubmission)

	h.submitter.mu.Lock()
	h.submitter.sendErr = nil
	h.submitter.mu.Unlock()

	state, err := h.registration.Submit(context.Background(), session, SubmitRequest{SignedTx: raw})
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackPending, state.Status)
	assert.Equal(t, 2, h.submitter.sentCount())
	assert.Len(t, h.journal.records, 1)

	// once broadcast, the same transaction is refused
	_, err = h.registration.Submit(context.Background(), session, SubmitRequest{SignedTx: raw})
	assert.Error(t, err)
	assert.Equal(t, 2, h.submitter.sentCount())
}

func TestSubmitRevertedTransaction(t *testing.T) {
	h := newHarness(nil)
	defer h.registration.Close()
	h.submitter.receiptErr = chain.ErrTxReverted
	session := testSession(producerAddr)

	state, err := h.registration.Submit(context.Background(), session,
		SubmitRequest{SignedTx: signRegistration(t, h, producerECDSA(t), 0)})
	require.NoError(t, err)

	close(h.submitter.release)
	require.Eventually(t, feedbackIs(h, session.ID, models.FeedbackError), time.Second, time.Millisecond)
	h.registration.Close()

	fb, err := h.registration.Feedback(context.Background(), session)
	require.NoError(t, err)
	assert.Equal(t, "The transaction was reverted on-chain.", fb.Message)
	assert.Equal(t, state.TxHash, fb.TxHash)
	assert.Equal(t, models.TxStatusFailed, h.journal.status(state.TxHash))
	assert.False(t, h.store.lockHeld(producerLock))

	_, confirmed, failed := h.events.counts()
	assert.Zero(t, confirmed)
	assert.Equal(t, 1, failed)
}

func TestResetFeedback(t *testing.T) {
	h := newHarness(nil)
	defer h.registration.Close()
	session := testSession(producerAddr)

	_, _ = h.registration.Submit(context.Background(), session, SubmitRequest{})
	fb, err := h.registration.Feedback(context.Background(), session)
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackError, fb.Status)

	fb, err = h.registration.ResetFeedback(context.Background(), session)
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackIdle, fb.Status)
	assert.Empty(t, fb.Message)
}
