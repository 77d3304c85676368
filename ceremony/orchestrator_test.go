package ceremony

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tiacvote/poll-ceremony-backend/engine"
	"github.com/tiacvote/poll-ceremony-backend/interfaces"
	"github.com/tiacvote/poll-ceremony-backend/storage"
)

var testLog = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestPoll(t *testing.T, store *storage.MemoryStore) interfaces.Poll {
	t.Helper()
	poll, err := store.CreatePoll(context.Background(), "Test Poll", "", 1)
	require.NoError(t, err)
	return poll
}

var testParams = interfaces.SetupParams{
	PairingParam:  "type a ...",
	PrimeOrder:    "730750818665451621361119245571504901405976559617",
	G1:            "g1-encoded",
	G2:            "g2-encoded",
	H1:            "h1-encoded",
	SecurityLevel: 256,
}

func shares(n int) []interfaces.AuthorityShare {
	out := make([]interfaces.AuthorityShare, n)
	for i := range out {
		out[i] = interfaces.AuthorityShare{
			SGK1: "sgk1-" + string(rune('a'+i)),
			SGK2: "sgk2-" + string(rune('a'+i)),
			VKM1: "vkm1-" + string(rune('a'+i)),
			VKM2: "vkm2-" + string(rune('a'+i)),
			VKM3: "vkm3-" + string(rune('a'+i)),
		}
	}
	return out
}

func TestRunSetupPersistsOnce(t *testing.T) {
	store := storage.NewMemoryStore()
	poll := newTestPoll(t, store)

	mockEngine := new(engine.MockEngine)
	mockEngine.On("Setup", mock.Anything, 256).Return(testParams, nil).Once()

	orch := NewOrchestrator(store, mockEngine, 0, testLog)

	setup, err := orch.RunSetup(context.Background(), poll.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, testParams, setup.Params)
	assert.Equal(t, int64(42), setup.SetupBy)

	// Second run must conflict without calling the engine again.
	_, err = orch.RunSetup(context.Background(), poll.ID, 42)
	assert.ErrorIs(t, err, interfaces.ErrAlreadyDone)

	stored, err := store.PollSetup(context.Background(), poll.ID)
	require.NoError(t, err)
	assert.Equal(t, testParams, stored.Params)
	mockEngine.AssertExpectations(t)
}

func TestRunSetupUnknownPoll(t *testing.T) {
	store := storage.NewMemoryStore()
	orch := NewOrchestrator(store, new(engine.MockEngine), 256, testLog)

	_, err := orch.RunSetup(context.Background(), 999, 1)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestRunSetupEngineFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	poll := newTestPoll(t, store)

	mockEngine := new(engine.MockEngine)
	mockEngine.On("Setup", mock.Anything, 256).
		Return(interfaces.SetupParams{}, errors.New("pairing generation failed"))

	orch := NewOrchestrator(store, mockEngine, 256, testLog)

	_, err := orch.RunSetup(context.Background(), poll.ID, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pairing generation failed")

	// Nothing persisted, so a retry is possible.
	_, err = store.PollSetup(context.Background(), poll.ID)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestRunKeyGenRequiresSetup(t *testing.T) {
	store := storage.NewMemoryStore()
	poll := newTestPoll(t, store)

	orch := NewOrchestrator(store, new(engine.MockEngine), 256, testLog)

	_, err := orch.RunKeyGen(context.Background(), poll.ID, 1)
	assert.ErrorIs(t, err, interfaces.ErrSetupRequired)
}

func TestRunKeyGenRequiresAuthorities(t *testing.T) {
	store := storage.NewMemoryStore()
	poll := newTestPoll(t, store)

	mockEngine := new(engine.MockEngine)
	mockEngine.On("Setup", mock.Anything, 256).Return(testParams, nil)

	orch := NewOrchestrator(store, mockEngine, 256, testLog)
	_, err := orch.RunSetup(context.Background(), poll.ID, 1)
	require.NoError(t, err)

	_, err = orch.RunKeyGen(context.Background(), poll.ID, 1)
	assert.ErrorIs(t, err, interfaces.ErrNoAuthorities)
}

func TestRunKeyGenDistributesSharesByAscendingID(t *testing.T) {
	store := storage.NewMemoryStore()
	poll := newTestPoll(t, store)
	ctx := context.Background()

	// Enrollment order deliberately scrambled.
	for _, id := range []int64{7, 3, 9} {
		require.NoError(t, store.AddPollAuthority(ctx, poll.ID, id))
	}

	generated := shares(3)
	mockEngine := new(engine.MockEngine)
	mockEngine.On("Setup", mock.Anything, 256).Return(testParams, nil)
	mockEngine.On("KeyGen", mock.Anything, testParams, 2, 3).Return(interfaces.KeyGenResult{
		MVK:    interfaces.MasterVerificationKey{Alpha2: "a2", Beta2: "b2", Beta1: "b1"},
		Shares: generated,
	}, nil).Once()

	orch := NewOrchestrator(store, mockEngine, 256, testLog)
	_, err := orch.RunSetup(ctx, poll.ID, 1)
	require.NoError(t, err)

	mvk, err := orch.RunKeyGen(ctx, poll.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, mvk.Threshold)
	assert.Equal(t, 3, mvk.TotalAuthorities)

	// share[0] -> id 3, share[1] -> id 7, share[2] -> id 9.
	for i, authorityID := range []int64{3, 7, 9} {
		record, err := store.AuthorityKeyRecord(ctx, poll.ID, authorityID)
		require.NoError(t, err)
		require.NotNil(t, record.Share, "authority %d", authorityID)
		assert.Equal(t, generated[i], *record.Share, "authority %d", authorityID)
	}

	activated, err := store.PollByID(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.PollActive, activated.Status)
	mockEngine.AssertExpectations(t)
}

func TestRunKeyGenOncePerPoll(t *testing.T) {
	store := storage.NewMemoryStore()
	poll := newTestPoll(t, store)
	ctx := context.Background()
	require.NoError(t, store.AddPollAuthority(ctx, poll.ID, 1))

	mockEngine := new(engine.MockEngine)
	mockEngine.On("Setup", mock.Anything, 256).Return(testParams, nil)
	mockEngine.On("KeyGen", mock.Anything, testParams, 1, 1).Return(interfaces.KeyGenResult{
		MVK:    interfaces.MasterVerificationKey{Alpha2: "a2", Beta2: "b2", Beta1: "b1"},
		Shares: shares(1),
	}, nil).Once()

	orch := NewOrchestrator(store, mockEngine, 256, testLog)
	_, err := orch.RunSetup(ctx, poll.ID, 1)
	require.NoError(t, err)
	_, err = orch.RunKeyGen(ctx, poll.ID, 1)
	require.NoError(t, err)

	_, err = orch.RunKeyGen(ctx, poll.ID, 1)
	assert.ErrorIs(t, err, interfaces.ErrAlreadyDone)
	mockEngine.AssertExpectations(t)
}

func TestRunKeyGenShareCountMismatchAborts(t *testing.T) {
	store := storage.NewMemoryStore()
	poll := newTestPoll(t, store)
	ctx := context.Background()
	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, store.AddPollAuthority(ctx, poll.ID, id))
	}

	mockEngine := new(engine.MockEngine)
	mockEngine.On("Setup", mock.Anything, 256).Return(testParams, nil)
	mockEngine.On("KeyGen", mock.Anything, testParams, 2, 3).Return(interfaces.KeyGenResult{
		MVK:    interfaces.MasterVerificationKey{Alpha2: "a2", Beta2: "b2", Beta1: "b1"},
		Shares: shares(2),
	}, nil)

	orch := NewOrchestrator(store, mockEngine, 256, testLog)
	_, err := orch.RunSetup(ctx, poll.ID, 1)
	require.NoError(t, err)

	_, err = orch.RunKeyGen(ctx, poll.ID, 1)
	assert.ErrorIs(t, err, interfaces.ErrShareCountMismatch)

	// No MVK, no shares, poll still in draft.
	_, err = store.PollMvk(ctx, poll.ID)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	record, err := store.AuthorityKeyRecord(ctx, poll.ID, 1)
	require.NoError(t, err)
	assert.Nil(t, record.Share)
	stillDraft, err := store.PollByID(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.PollDraft, stillDraft.Status)
}

func TestRunKeyGenEngineFailureLeavesDraft(t *testing.T) {
	store := storage.NewMemoryStore()
	poll := newTestPoll(t, store)
	ctx := context.Background()
	require.NoError(t, store.AddPollAuthority(ctx, poll.ID, 1))

	mockEngine := new(engine.MockEngine)
	mockEngine.On("Setup", mock.Anything, 256).Return(testParams, nil)
	mockEngine.On("KeyGen", mock.Anything, testParams, 1, 1).
		Return(interfaces.KeyGenResult{}, errors.New("engine unreachable"))

	orch := NewOrchestrator(store, mockEngine, 256, testLog)
	_, err := orch.RunSetup(ctx, poll.ID, 1)
	require.NoError(t, err)

	_, err = orch.RunKeyGen(ctx, poll.ID, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine unreachable")

	stillDraft, err := store.PollByID(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.PollDraft, stillDraft.Status)
}
