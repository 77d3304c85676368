package authhandler

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiacvote/poll-ceremony-backend/auth"
	"github.com/tiacvote/poll-ceremony-backend/interfaces"
	"github.com/tiacvote/poll-ceremony-backend/session"
	"github.com/tiacvote/poll-ceremony-backend/storage"
)

type testServer struct {
	router  chi.Router
	service *auth.Service
	logBuf  *bytes.Buffer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logBuf := &bytes.Buffer{}
	log := slog.New(slog.NewJSONHandler(logBuf, nil))

	issuer, err := session.NewIssuer([]byte("0123456789abcdef0123456789abcdef"), 0)
	require.NoError(t, err)

	service := auth.NewService(storage.NewMemoryStore(), issuer, log)
	router := chi.NewRouter()
	NewHandler(service, log).RegisterRoutes(router)

	return &testServer{router: router, service: service, logBuf: logBuf}
}

func (ts *testServer) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

// issuedCodes scrapes the delivery log for the most recently issued
// passcode pair, standing in for the email/SMS channel.
func (ts *testServer) issuedCodes(t *testing.T) (emailCode, phoneCode string) {
	t.Helper()

	scanner := bufio.NewScanner(bytes.NewReader(ts.logBuf.Bytes()))
	for scanner.Scan() {
		var record struct {
			Msg       string `json:"msg"`
			EmailCode string `json:"email_code"`
			PhoneCode string `json:"phone_code"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.Msg == "login passcodes issued" {
			emailCode, phoneCode = record.EmailCode, record.PhoneCode
		}
	}
	require.NotEmpty(t, emailCode, "no passcodes were delivered")
	return emailCode, phoneCode
}

func registerAdmin(t *testing.T, ts *testServer) {
	t.Helper()
	rec := ts.post(t, "/api/admin/register", map[string]string{
		"tc_number": "12345678901",
		"email":     "admin@example.com",
		"phone":     "+905551112233",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestAdminRegisterDuplicateConflict(t *testing.T) {
	ts := newTestServer(t)
	registerAdmin(t, ts)

	rec := ts.post(t, "/api/admin/register", map[string]string{
		"tc_number": "12345678901",
		"email":     "admin@example.com",
		"phone":     "+905551112233",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAuthorityRegisterRequiresName(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.post(t, "/api/authority/register", map[string]string{
		"tc_number": "12345678901",
		"email":     "auth@example.com",
		"phone":     "+905551112233",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginStartUnknownPrincipal(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.post(t, "/api/admin/login/start", map[string]string{
		"tc_number": "12345678901",
		"email":     "nobody@example.com",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminLoginFlow(t *testing.T) {
	ts := newTestServer(t)
	registerAdmin(t, ts)

	rec := ts.post(t, "/api/admin/login/start", map[string]string{
		"tc_number": "12345678901",
		"email":     "admin@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	emailCode, phoneCode := ts.issuedCodes(t)

	rec = ts.post(t, "/api/admin/login/verify", map[string]string{
		"tc_number":  "12345678901",
		"email":      "admin@example.com",
		"email_code": emailCode,
		"phone_code": phoneCode,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var response struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.NotEmpty(t, response.Token)

	_, err := ts.service.VerifyToken(response.Token, interfaces.RoleAdmin)
	assert.NoError(t, err)
	_, err = ts.service.VerifyToken(response.Token, interfaces.RoleVoter)
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
}

func TestLoginVerifyWrongCodesAllowsRetry(t *testing.T) {
	ts := newTestServer(t)
	registerAdmin(t, ts)

	rec := ts.post(t, "/api/admin/login/start", map[string]string{
		"tc_number": "12345678901",
		"email":     "admin@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	emailCode, phoneCode := ts.issuedCodes(t)

	// A wrong attempt must not consume the challenge.
	wrongEmailCode := "000000"
	if wrongEmailCode == emailCode {
		wrongEmailCode = "000001"
	}
	rec = ts.post(t, "/api/admin/login/verify", map[string]string{
		"tc_number":  "12345678901",
		"email":      "admin@example.com",
		"email_code": wrongEmailCode,
		"phone_code": phoneCode,
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.post(t, "/api/admin/login/verify", map[string]string{
		"tc_number":  "12345678901",
		"email":      "admin@example.com",
		"email_code": emailCode,
		"phone_code": phoneCode,
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestLoginVerifyMalformedBody(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/login/verify", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
