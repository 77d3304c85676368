package pollhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tiacvote/poll-ceremony-backend/auth"
	"github.com/tiacvote/poll-ceremony-backend/ceremony"
	"github.com/tiacvote/poll-ceremony-backend/engine"
	"github.com/tiacvote/poll-ceremony-backend/interfaces"
	"github.com/tiacvote/poll-ceremony-backend/polls"
	"github.com/tiacvote/poll-ceremony-backend/session"
	"github.com/tiacvote/poll-ceremony-backend/storage"
)

var testLog = slog.New(slog.NewTextHandler(io.Discard, nil))

var testParams = interfaces.SetupParams{
	PairingParam: "type a ...", PrimeOrder: "p", G1: "g1", G2: "g2", H1: "h1", SecurityLevel: 256,
}

type testServer struct {
	router chi.Router
	store  *storage.MemoryStore
	issuer *session.Issuer
	engine *engine.MockEngine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	issuer, err := session.NewIssuer([]byte("0123456789abcdef0123456789abcdef"), 0)
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	mockEngine := new(engine.MockEngine)

	authService := auth.NewService(store, issuer, testLog)
	manager := polls.NewManager(store, testLog)
	orchestrator := ceremony.NewOrchestrator(store, mockEngine, 256, testLog)

	router := chi.NewRouter()
	NewHandler(manager, orchestrator, authService, testLog).RegisterRoutes(router)

	return &testServer{router: router, store: store, issuer: issuer, engine: mockEngine}
}

func (ts *testServer) token(t *testing.T, principalID int64, role interfaces.Role) string {
	t.Helper()
	token, err := ts.issuer.Issue(principalID, role)
	require.NoError(t, err)
	return token
}

func (ts *testServer) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) createPoll(t *testing.T, adminToken string) interfaces.Poll {
	t.Helper()
	rec := ts.request(t, http.MethodPost, "/api/admin/polls", adminToken,
		map[string]string{"title": "Election 2026"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var poll interfaces.Poll
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &poll))
	return poll
}

func TestAdminRoutesRequireAdminToken(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/admin/polls", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	voterToken := ts.token(t, 1, interfaces.RoleVoter)
	rec = ts.request(t, http.MethodGet, "/api/admin/polls", voterToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndListPolls(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.token(t, 1, interfaces.RoleAdmin)

	poll := ts.createPoll(t, adminToken)
	assert.Equal(t, interfaces.PollDraft, poll.Status)
	assert.Equal(t, int64(1), poll.CreatedBy)

	rec := ts.request(t, http.MethodGet, "/api/admin/polls", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summaries []polls.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.False(t, summaries[0].SetupDone)
}

func TestCeremonyFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	adminToken := ts.token(t, 1, interfaces.RoleAdmin)
	poll := ts.createPoll(t, adminToken)

	for _, id := range []int64{4, 2, 6} {
		require.NoError(t, ts.store.AddPollAuthority(ctx, poll.ID, id))
	}

	ts.engine.On("Setup", mock.Anything, 256).Return(testParams, nil).Once()
	ts.engine.On("KeyGen", mock.Anything, testParams, 2, 3).Return(interfaces.KeyGenResult{
		MVK: interfaces.MasterVerificationKey{Alpha2: "a2", Beta2: "b2", Beta1: "b1"},
		Shares: []interfaces.AuthorityShare{
			{SGK1: "s1"}, {SGK1: "s2"}, {SGK1: "s3"},
		},
	}, nil).Once()

	// KeyGen before Setup is a client error.
	rec := ts.request(t, http.MethodPost, "/api/admin/polls/1/keygen", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.request(t, http.MethodPost, "/api/admin/polls/1/setup", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Setup is once per poll.
	rec = ts.request(t, http.MethodPost, "/api/admin/polls/1/setup", adminToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.request(t, http.MethodPost, "/api/admin/polls/1/keygen", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var mvk interfaces.PollMvk
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mvk))
	assert.Equal(t, 2, mvk.Threshold)
	assert.Equal(t, 3, mvk.TotalAuthorities)

	// Public reads require no session.
	rec = ts.request(t, http.MethodGet, "/api/polls/1/setup", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.request(t, http.MethodGet, "/api/polls/1/mvk", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.engine.AssertExpectations(t)
}

func TestPublicReadsBeforeCeremony(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.token(t, 1, interfaces.RoleAdmin)
	ts.createPoll(t, adminToken)

	rec := ts.request(t, http.MethodGet, "/api/polls/1/setup", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.request(t, http.MethodGet, "/api/polls/1/mvk", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEnrollParticipantsMultipart(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.token(t, 1, interfaces.RoleAdmin)
	ts.createPoll(t, adminToken)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	votersPart, err := writer.CreateFormFile("voters_file", "voters.csv")
	require.NoError(t, err)
	_, err = votersPart.Write([]byte("11111111111,alice@example.com,+905551110001\nbadrow\n"))
	require.NoError(t, err)

	authoritiesPart, err := writer.CreateFormFile("authorities_file", "authorities.csv")
	require.NoError(t, err)
	_, err = authoritiesPart.Write([]byte("22222222222,auth@example.com,+905551110002,Authority One\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/admin/polls/1/participants", &buf)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result polls.EnrollResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.VotersAdded)
	assert.Equal(t, 1, result.VotersSkipped)
	assert.Equal(t, 1, result.AuthoritiesAdded)
	assert.Equal(t, 1, result.TotalAuthorities)
	assert.Equal(t, 1, result.Threshold)
}

func TestEnrollParticipantsWithoutFiles(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.token(t, 1, interfaces.RoleAdmin)
	ts.createPoll(t, adminToken)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	require.NoError(t, writer.WriteField("unrelated", "x"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/admin/polls/1/participants", &buf)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthorityKeysOwnRowOnly(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	adminToken := ts.token(t, 1, interfaces.RoleAdmin)
	poll := ts.createPoll(t, adminToken)

	enrolled, err := ts.store.CreateAuthority(ctx, interfaces.Principal{
		Email: "a1@example.com", TCHash: "t1", PhoneHash: "p1", Name: "A1",
	})
	require.NoError(t, err)
	outsider, err := ts.store.CreateAuthority(ctx, interfaces.Principal{
		Email: "a2@example.com", TCHash: "t2", PhoneHash: "p2", Name: "A2",
	})
	require.NoError(t, err)

	require.NoError(t, ts.store.AddPollAuthority(ctx, poll.ID, enrolled.ID))

	ts.engine.On("Setup", mock.Anything, 256).Return(testParams, nil)
	ts.engine.On("KeyGen", mock.Anything, testParams, 1, 1).Return(interfaces.KeyGenResult{
		MVK:    interfaces.MasterVerificationKey{Alpha2: "a2", Beta2: "b2", Beta1: "b1"},
		Shares: []interfaces.AuthorityShare{{SGK1: "secret-share"}},
	}, nil)

	rec := ts.request(t, http.MethodPost, "/api/admin/polls/1/setup", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.request(t, http.MethodPost, "/api/admin/polls/1/keygen", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	enrolledToken := ts.token(t, enrolled.ID, interfaces.RoleAuthority)
	rec = ts.request(t, http.MethodGet, "/api/authority/keys/1", enrolledToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var keys polls.AuthorityKeys
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &keys))
	require.NotNil(t, keys.Share)
	assert.Equal(t, "secret-share", keys.Share.SGK1)
	require.NotNil(t, keys.MVK)

	// The outsider's valid authority session cannot reach the enrolled
	// authority's row.
	outsiderToken := ts.token(t, outsider.ID, interfaces.RoleAuthority)
	rec = ts.request(t, http.MethodGet, "/api/authority/keys/1", outsiderToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVoterDashboard(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	adminToken := ts.token(t, 1, interfaces.RoleAdmin)
	poll := ts.createPoll(t, adminToken)

	voter, err := ts.store.UpsertVoter(ctx, interfaces.Principal{
		Email: "v@example.com", TCHash: "t", PhoneHash: "p",
	})
	require.NoError(t, err)
	require.NoError(t, ts.store.AddPollVoter(ctx, poll.ID, voter.ID))

	voterToken := ts.token(t, voter.ID, interfaces.RoleVoter)

	// Draft polls are hidden from voters.
	rec := ts.request(t, http.MethodGet, "/api/voter/polls", voterToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var views []interfaces.VoterPollView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	assert.Empty(t, views)

	require.NoError(t, ts.store.SetPollStatus(ctx, poll.ID, interfaces.PollActive))

	rec = ts.request(t, http.MethodGet, "/api/voter/polls", voterToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, poll.ID, views[0].ID)
}

func TestInvalidPollIDParam(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.token(t, 1, interfaces.RoleAdmin)

	rec := ts.request(t, http.MethodGet, "/api/admin/polls/abc", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
