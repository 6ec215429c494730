package web

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subsync/internal/config"
	"subsync/internal/reconcile"
	"subsync/internal/store"
)

const testPassword = "test-admin-password"

const exportHeader = "定期ステータス,配送先 姓,配送先 名,配送先 名前,注文者 メールアドレス,注文番号\n"

func newTestServer(t *testing.T) (*Server, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	cfg := &config.Config{
		Server: config.ServerConfig{RequestTimeout: time.Minute},
		Upload: config.UploadConfig{
			MaxFileSize: 10 << 20,
			Dir:         t.TempDir(),
		},
		Rate: config.RateLimitConfig{Enabled: false},
		Security: config.SecurityConfig{
			AdminPassword: testPassword,
			SessionTTL:    time.Hour,
		},
	}
	return NewServer(cfg, st, reconcile.New(st)), st
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, s *Server) string {
	t.Helper()
	body, err := json.Marshal(map[string]string{"password": testPassword})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
	rec := do(s, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func authed(t *testing.T, s *Server, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+login(t, s))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return do(s, req)
}

func uploadBody(t *testing.T, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "subscriptions.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(b)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/login",
		jsonBody(t, map[string]string{"password": "wrong"}))
	rec := do(s, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotContains(t, rec.Body.String(), "token")
}

func TestAPIRequiresAuth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/uploads", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/uploads", nil)
	req.Header.Set("Authorization", "Bearer bogus-token")
	assert.Equal(t, http.StatusUnauthorized, do(s, req).Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	s, _ := newTestServer(t)
	token := login(t, s)

	req := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, do(s, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/uploads", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, do(s, req).Code)
}

func TestHealthIsPublic(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUploadReconcilesExport(t *testing.T) {
	s, st := newTestServer(t)
	a := &store.Applicant{
		Pool: store.PoolService, LastName: "佐藤", FirstName: "花子",
		Email: "hanako@example.com",
	}
	require.NoError(t, st.CreateApplicant(t.Context(), a))

	body, contentType := uploadBody(t, exportHeader+
		"継続,佐藤,花子,佐藤 花子,hanako@example.com,ORD-1\n")
	rec := authed(t, s, http.MethodPost, "/api/uploads", body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Run     runView           `json:"run"`
		Summary reconcile.Summary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, store.RunCompleted, resp.Run.Status)
	assert.Equal(t, 1, resp.Summary.ServiceMatches)
	assert.Equal(t, "subscriptions.csv", resp.Run.FileName)

	got, err := st.GetApplicant(t.Context(), store.PoolService, a.ID)
	require.NoError(t, err)
	assert.True(t, got.SubscriptionVerified)
}

func TestUploadWithoutFile(t *testing.T) {
	s, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.Close())

	rec := authed(t, s, http.MethodPost, "/api/uploads", &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "FILE004", resp.Code)
}

func TestUploadUndecodableFile(t *testing.T) {
	s, st := newTestServer(t)

	body, contentType := uploadBody(t, string([]byte{0xFF, 0xFE, 0xFD, 0xFC}))
	rec := authed(t, s, http.MethodPost, "/api/uploads", body, contentType)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "FILE001", resp.Code)

	runs, err := st.ListRuns(t.Context())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunError, runs[0].Status)
}

func TestListAndDeleteRuns(t *testing.T) {
	s, st := newTestServer(t)

	body, contentType := uploadBody(t, exportHeader)
	rec := authed(t, s, http.MethodPost, "/api/uploads", body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = authed(t, s, http.MethodGet, "/api/uploads", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []runView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)

	rec = authed(t, s, http.MethodDelete, "/api/uploads/"+runs[0].ID, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	remaining, err := st.ListRuns(t.Context())
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestCreateAndListApplicants(t *testing.T) {
	s, _ := newTestServer(t)

	rec := authed(t, s, http.MethodPost, "/api/applicants/service", jsonBody(t, map[string]string{
		"lastName":  "佐藤",
		"firstName": "花子",
		"email":     "hanako@example.com",
	}), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created applicantView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, store.ApplicantPending, created.Status)
	assert.False(t, created.SubscriptionVerified)

	rec = authed(t, s, http.MethodGet, "/api/applicants/service?verified=false", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []applicantView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestCreateApplicantMissingFields(t *testing.T) {
	s, _ := newTestServer(t)

	rec := authed(t, s, http.MethodPost, "/api/applicants/service",
		jsonBody(t, map[string]string{"email": "only@example.com"}), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownPool(t *testing.T) {
	s, _ := newTestServer(t)

	rec := authed(t, s, http.MethodGet, "/api/applicants/unknown", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "VAL002", resp.Code)
}

func TestManualMatchEndpoint(t *testing.T) {
	s, st := newTestServer(t)
	a := &store.Applicant{
		Pool: store.PoolService, LastName: "佐藤", FirstName: "花子",
		Email: "unmatched@example.com",
	}
	require.NoError(t, st.CreateApplicant(t.Context(), a))

	rec := authed(t, s, http.MethodPost, "/api/applicants/service/"+a.ID+"/manual-match",
		jsonBody(t, map[string]any{
			"email":     "chosen@example.com",
			"lastName":  "佐藤",
			"firstName": "花子",
			"rowNumber": 3,
		}), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got applicantView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.SubscriptionVerified)
	assert.Equal(t, store.MatchManual, got.MatchMethod)
}

func TestGrantRequiresVerification(t *testing.T) {
	s, st := newTestServer(t)
	a := &store.Applicant{
		Pool: store.PoolDiscount, LastName: "佐藤", FirstName: "花子",
		Email: "hanako@example.com",
	}
	require.NoError(t, st.CreateApplicant(t.Context(), a))

	rec := authed(t, s, http.MethodPost, "/api/applicants/discount/"+a.ID+"/grant", nil, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGrantAndRevokeFlow(t *testing.T) {
	s, st := newTestServer(t)
	a := &store.Applicant{
		Pool: store.PoolService, LastName: "佐藤", FirstName: "花子",
		Email: "hanako@example.com", SubscriptionVerified: true,
		Status: store.ApplicantVerified,
	}
	require.NoError(t, st.CreateApplicant(t.Context(), a))

	rec := authed(t, s, http.MethodPost, "/api/applicants/service/"+a.ID+"/grant", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var granted applicantView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &granted))
	assert.True(t, granted.BenefitGranted)
	assert.Equal(t, store.ApplicantCompleted, granted.Status)

	rec = authed(t, s, http.MethodPost, "/api/applicants/service/"+a.ID+"/revoke", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var revoked applicantView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &revoked))
	assert.False(t, revoked.BenefitGranted)
	assert.NotNil(t, revoked.RevokedAt)
	assert.Equal(t, store.ApplicantVerified, revoked.Status)
}

func TestApplicantNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	rec := authed(t, s, http.MethodGet, "/api/applicants/service/missing-id", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
