package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hmsportal/hms/internal/config"
	"github.com/hmsportal/hms/internal/db/dbtest"
	"github.com/hmsportal/hms/internal/db/models"
	"github.com/hmsportal/hms/internal/services"
	"github.com/hmsportal/hms/internal/storage"
	"github.com/hmsportal/hms/internal/utils"
	"github.com/hmsportal/hms/pkg/metrics"
)

const testPassword = "correct horse battery"

type testServer struct {
	engine   *gin.Engine
	db       *gorm.DB
	tenantID string
}

func newTestServer(t *testing.T, tweak func(*config.Configuration)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.InitializeDefaultConfig()
	cfg.Storage.Directory = t.TempDir()
	cfg.Server.PublicURL = "http://hms.test"
	if tweak != nil {
		tweak(cfg)
	}

	database := dbtest.New(t)
	logger := zap.NewNop()
	mc := metrics.NewMetricsCollector()

	store, err := storage.NewDisk(cfg.Storage.Directory, cfg.Server.PublicURL, []byte(cfg.Storage.SigningSecret))
	require.NoError(t, err)

	gate := services.NewRoleGate(services.DefaultGrants())
	audit := services.NewGormAuditSink(database)
	sessions := services.NewSessionService(database, logger, mc, services.SessionOptionsFromConfig(cfg.Security))

	router := NewRouter(logger, mc, cfg, Services{
		Sessions:  sessions,
		Documents: services.NewDocumentService(database, store, gate, audit, logger, mc, services.DocumentOptionsFromConfig(cfg.Documents)),
		Risks:     services.NewRiskService(database, gate, audit, logger, mc, services.RiskOptions{}),
		Members:   services.NewMemberService(database, gate, logger),
		Store:     store,
	})
	router.SetupRoutes()
	t.Cleanup(router.Close)

	ts := &testServer{engine: router.GetEngine(), db: database}
	tenant := models.Tenant{ID: uuid.New().String(), Name: "Acme", Slug: "acme"}
	require.NoError(t, database.Create(&tenant).Error)
	ts.tenantID = tenant.ID

	ts.addUser(t, "admin@acme.test", models.RoleAdmin)
	ts.addUser(t, "employee@acme.test", models.RoleEmployee)
	return ts
}

func (ts *testServer) addUser(t *testing.T, email string, role models.Role) {
	t.Helper()
	hash, err := utils.HashPassword(testPassword)
	require.NoError(t, err)
	user := models.User{ID: uuid.New().String(), Email: email, Name: email, PasswordHash: hash, ActiveStatus: true}
	require.NoError(t, ts.db.Create(&user).Error)
	require.NoError(t, ts.db.Create(&models.TenantMember{
		ID: uuid.New().String(), TenantID: ts.tenantID, UserID: user.ID, Role: role,
	}).Error)
}

type envelope struct {
	Success    bool              `json:"success"`
	Error      string            `json:"error"`
	Fields     map[string]string `json:"fields"`
	ExistingID string            `json:"existingId"`
	Data       json.RawMessage   `json:"data"`
}

func (ts *testServer) do(t *testing.T, req *http.Request, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func (ts *testServer) doJSON(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	return ts.do(t, req, token)
}

func (ts *testServer) login(t *testing.T, email string) string {
	t.Helper()
	w, env := ts.doJSON(t, http.MethodPost, "/api/login", "", gin.H{"email": email, "password": testPassword})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var data struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.Token)
	return data.Token
}

func multipartRequest(t *testing.T, path string, fields map[string]string, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)

	w, _ := ts.do(t, httptest.NewRequest(http.MethodGet, "/health", nil), "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = ts.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hms_http_requests_total")
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, nil)

	w, env := ts.doJSON(t, http.MethodGet, "/api/documents", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, env.Success)

	w, _ = ts.doJSON(t, http.MethodGet, "/api/documents", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env = ts.doJSON(t, http.MethodPost, "/api/login", "", gin.H{"email": "admin@acme.test", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, services.ErrInvalidLogin.Error(), env.Error)

	token := ts.login(t, "admin@acme.test")
	w, env = ts.doJSON(t, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"role":"ADMIN"`)

	w, _ = ts.doJSON(t, http.MethodPost, "/api/logout", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = ts.doJSON(t, http.MethodGet, "/api/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginThrottle(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Configuration) {
		cfg.Security.LoginAttemptLimit = 2
	})

	for i := 0; i < 2; i++ {
		w, _ := ts.doJSON(t, http.MethodPost, "/api/login", "", gin.H{"email": "admin@acme.test", "password": "nope"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w, env := ts.doJSON(t, http.MethodPost, "/api/login", "", gin.H{"email": "admin@acme.test", "password": testPassword})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.False(t, env.Success)
}

func TestDocumentFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	admin := ts.login(t, "admin@acme.test")
	employee := ts.login(t, "employee@acme.test")

	req := multipartRequest(t, "/api/documents", map[string]string{
		"kind":                 "PLAN",
		"title":                "Fire Safety Plan",
		"reviewIntervalMonths": "24",
		"effectiveFrom":        "2025-01-31",
	}, "fire-plan.pdf", "%PDF-1.7 fire")
	w, env := ts.do(t, req, employee)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var doc models.Document
	require.NoError(t, json.Unmarshal(env.Data, &doc))
	assert.Equal(t, models.StatusDraft, doc.Status)
	assert.Equal(t, 24, doc.ReviewIntervalMonths)
	require.NotNil(t, doc.NextReviewDate)
	assert.Equal(t, "2027-01-31", doc.NextReviewDate.Format("2006-01-02"))

	t.Run("duplicate slug returns existing id", func(t *testing.T) {
		req := multipartRequest(t, "/api/documents", map[string]string{
			"kind": "PLAN", "title": "Fire Safety Plan!!",
		}, "again.pdf", "%PDF")
		w, env := ts.do(t, req, employee)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, doc.ID, env.ExistingID)
	})

	t.Run("form errors are field level", func(t *testing.T) {
		req := multipartRequest(t, "/api/documents", map[string]string{
			"kind": "PLAN", "title": "Broken", "reviewIntervalMonths": "often",
		}, "", "")
		w, env := ts.do(t, req, employee)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, env.Fields, "reviewIntervalMonths")
	})

	t.Run("employee cannot approve", func(t *testing.T) {
		w, _ := ts.doJSON(t, http.MethodPost, "/api/documents/"+doc.ID+"/approve", employee, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	w, env = ts.doJSON(t, http.MethodPost, "/api/documents/"+doc.ID+"/approve", admin, gin.H{"expectedRevision": 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &doc))
	assert.Equal(t, models.StatusApproved, doc.Status)

	w, env = ts.doJSON(t, http.MethodPatch, "/api/documents/"+doc.ID, admin, gin.H{"title": "x", "expectedRevision": 1})
	assert.Equal(t, http.StatusConflict, w.Code)

	req = multipartRequest(t, "/api/documents/"+doc.ID+"/versions", map[string]string{
		"version": "v2.0", "changeComment": "new muster point",
	}, "fire-plan-v2.pdf", "%PDF-1.7 fire v2")
	w, env = ts.do(t, req, employee)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &doc))
	assert.Equal(t, models.StatusDraft, doc.Status)
	require.Len(t, doc.Versions, 2)

	w, env = ts.doJSON(t, http.MethodGet, "/api/documents/"+doc.ID+"/download", employee, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var link struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &link))
	u, err := url.Parse(link.URL)
	require.NoError(t, err)
	assert.Equal(t, "hms.test", u.Host)

	w, _ = ts.do(t, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "%PDF-1.7 fire v2", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "fire-plan-v2.pdf")

	tampered := *u
	q := tampered.Query()
	q.Set("sig", "00")
	tampered.RawQuery = q.Encode()
	w, _ = ts.do(t, httptest.NewRequest(http.MethodGet, tampered.RequestURI(), nil), "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env = ts.doJSON(t, http.MethodGet, "/api/documents", employee, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var docs []models.Document
	require.NoError(t, json.Unmarshal(env.Data, &docs))
	assert.Len(t, docs, 1)

	w, _ = ts.doJSON(t, http.MethodDelete, "/api/documents/"+doc.ID, admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = ts.doJSON(t, http.MethodGet, "/api/documents/"+doc.ID, admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProtectedDocumentDelete(t *testing.T) {
	ts := newTestServer(t, nil)
	admin := ts.login(t, "admin@acme.test")

	req := multipartRequest(t, "/api/documents", map[string]string{"kind": "LAW", "title": "Arbeidsmiljoloven"}, "aml.pdf", "%PDF")
	w, env := ts.do(t, req, admin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var doc models.Document
	require.NoError(t, json.Unmarshal(env.Data, &doc))

	w, env = ts.doJSON(t, http.MethodDelete, "/api/documents/"+doc.ID, admin, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, services.ErrProtectedKind.Error(), env.Error)
}

func TestJSONBodies(t *testing.T) {
	ts := newTestServer(t, nil)
	admin := ts.login(t, "admin@acme.test")

	req := multipartRequest(t, "/api/documents", map[string]string{"kind": "PROCEDURE", "title": "Lockout Tagout"}, "loto.pdf", "%PDF")
	w, env := ts.do(t, req, admin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var doc models.Document
	require.NoError(t, json.Unmarshal(env.Data, &doc))

	t.Run("date only effective date", func(t *testing.T) {
		w, env := ts.doJSON(t, http.MethodPatch, "/api/documents/"+doc.ID, admin, gin.H{"effectiveFrom": "2025-03-01"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var got models.Document
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, "2025-03-01", got.EffectiveFrom.UTC().Format("2006-01-02"))
	})

	t.Run("bad date is a field error", func(t *testing.T) {
		w, env := ts.doJSON(t, http.MethodPatch, "/api/documents/"+doc.ID, admin, gin.H{"effectiveTo": "31/12/2025"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "must be a date (YYYY-MM-DD)", env.Fields["effectiveTo"])
	})

	t.Run("wrong type is a field error", func(t *testing.T) {
		w, env := ts.doJSON(t, http.MethodPost, "/api/risks", admin, gin.H{
			"title": "Slips", "context": "Canteen", "likelihood": "high", "consequence": 2,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "must be a whole number", env.Fields["likelihood"])
	})

	t.Run("risk review date and nullable fields", func(t *testing.T) {
		w, env := ts.doJSON(t, http.MethodPost, "/api/risks", admin, gin.H{
			"title": "Slips", "context": "Canteen", "likelihood": 2, "consequence": 2, "nextReviewDate": "2026-01-15",
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var risk services.RiskView
		require.NoError(t, json.Unmarshal(env.Data, &risk))
		require.NotNil(t, risk.NextReviewDate)
		assert.Equal(t, "2026-01-15", risk.NextReviewDate.UTC().Format("2006-01-02"))

		w, env = ts.doJSON(t, http.MethodPut, "/api/risks/"+risk.ID, admin, gin.H{
			"nextReviewDate": "soon", "residualLikelihood": "x",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "must be a date (YYYY-MM-DD)", env.Fields["nextReviewDate"])
		assert.Equal(t, "must be a whole number", env.Fields["residualLikelihood"])
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/risks", strings.NewReader("{not json"))
		req.Header.Set("Content-Type", "application/json")
		w, env := ts.do(t, req, admin)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, env.Fields, "body")
	})
}

func TestRiskFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	employee := ts.login(t, "employee@acme.test")

	w, env := ts.doJSON(t, http.MethodPost, "/api/risks", employee, gin.H{
		"title": "Forklift collision", "context": "Warehouse", "likelihood": 5, "consequence": 5,
		"residualLikelihood": 2, "residualConsequence": 2,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var risk services.RiskView
	require.NoError(t, json.Unmarshal(env.Data, &risk))
	assert.Equal(t, 25, risk.Inherent.Score)
	require.NotNil(t, risk.Residual)
	assert.Equal(t, 4, risk.Residual.Score)

	w, env = ts.doJSON(t, http.MethodPost, "/api/risks", employee, gin.H{
		"title": "Bad", "context": "x", "likelihood": 7, "consequence": 1,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, env.Fields, "likelihood")

	w, env = ts.doJSON(t, http.MethodPut, "/api/risks/"+risk.ID, employee, gin.H{
		"residualConsequence": nil, "status": "MITIGATING",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &risk))
	assert.Nil(t, risk.Residual)
	assert.Equal(t, models.RiskMitigating, risk.Status)

	goal := uuid.New().String()
	w, _ = ts.doJSON(t, http.MethodPut, "/api/risks/"+risk.ID+"/goal", employee, gin.H{"id": goal})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = ts.doJSON(t, http.MethodPost, "/api/risks/"+risk.ID+"/reviewed", employee, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = ts.doJSON(t, http.MethodGet, "/api/risks/matrix", employee, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var m services.RiskMatrix
	require.NoError(t, json.Unmarshal(env.Data, &m))
	assert.Equal(t, 1, m.Inherent[4][4])

	w, _ = ts.doJSON(t, http.MethodGet, "/api/risks/"+uuid.New().String(), employee, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
