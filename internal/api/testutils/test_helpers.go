package testutils

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rongwang/bytebank/internal/api"
	"github.com/rongwang/bytebank/internal/config"
	"github.com/rongwang/bytebank/internal/ledger"
	"github.com/rongwang/bytebank/internal/models"
	"github.com/rongwang/bytebank/internal/repository"
	"github.com/rongwang/bytebank/internal/service"
	"github.com/rongwang/bytebank/internal/session"
	"github.com/rongwang/bytebank/internal/store"
	"github.com/rongwang/bytebank/internal/utils"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

const (
	TestUserEmail    = "testuser@example.com"
	TestUserPassword = "testpassword"
	HomeURL          = "http://home.test"
)

// TestContext holds all dependencies for tests
type TestContext struct {
	HomeRouter      *gin.Engine
	DashboardRouter *gin.Engine
	Repository      repository.Repository
	Service         service.Service
	Engine          *ledger.Engine
	DB              store.DB
	LocalStorage    *bbolt.DB
	TestUserID      string
}

// SetupTestContext creates a new test context backed by temporary bolt files
func SetupTestContext(t *testing.T) *TestContext {
	t.Helper()
	dir := t.TempDir()

	cfg := config.LoadConfig()
	cfg.Store.Driver = config.DriverBolt
	cfg.Store.Path = filepath.Join(dir, "bank.db")
	cfg.Store.LocalStoragePath = filepath.Join(dir, "local.db")
	cfg.Auth.JWTSecret = "test-secret-key"
	cfg.Server.HomeURL = HomeURL

	db, err := config.SetupStore(context.Background(), cfg)
	require.NoError(t, err, "Failed to set up test store")
	local, err := config.SetupLocalStorage(cfg)
	require.NoError(t, err, "Failed to set up local storage")

	logger := utils.NewDiscardLogger()
	repo := repository.NewStoreRepository(db)
	engine := ledger.NewEngine(db, logger)
	svc := service.NewDefaultService(repo, engine, nil, cfg.Auth.SessionDuration, logger)

	policy := session.CookiePolicy{Environment: session.Development}
	home := session.NewOrigin("home", local, repo, policy, cfg.Auth.JWTSecret, logger)
	dashboard := session.NewOrigin("dashboard", local, repo, policy, cfg.Auth.JWTSecret, logger)

	gin.SetMode(gin.TestMode)
	homeRouter := gin.New()
	homeRouter.Use(api.RequestLogger(logger))
	api.NewHandler(svc, home, cfg.Server.HomeURL, logger).SetupHomeRoutes(homeRouter)

	dashboardRouter := gin.New()
	dashboardRouter.Use(api.RequestLogger(logger))
	api.NewHandler(svc, dashboard, cfg.Server.HomeURL, logger).SetupDashboardRoutes(dashboardRouter)

	resp, err := svc.SignUp(context.Background(), models.SignUpRequest{
		Email:    TestUserEmail,
		Password: TestUserPassword,
		Name:     "Test User",
	})
	require.NoError(t, err, "Failed to create test user")

	return &TestContext{
		HomeRouter:      homeRouter,
		DashboardRouter: dashboardRouter,
		Repository:      repo,
		Service:         svc,
		Engine:          engine,
		DB:              db,
		LocalStorage:    local,
		TestUserID:      resp.UserID,
	}
}

// CleanupTestContext closes the test stores
func CleanupTestContext(t *TestContext) {
	if t.DB != nil {
		t.DB.Close()
	}
	if t.LocalStorage != nil {
		t.LocalStorage.Close()
	}
}

// Browser keeps cookies between requests, shared by both applications the
// way a browser shares localhost cookies across ports.
type Browser struct {
	cookies map[string]*http.Cookie
}

func NewBrowser() *Browser {
	return &Browser{cookies: make(map[string]*http.Cookie)}
}

// Cookie returns the value of a stored cookie
func (b *Browser) Cookie(name string) (string, bool) {
	c, ok := b.cookies[name]
	if !ok {
		return "", false
	}
	return c.Value, true
}

// Do performs a request with the browser's cookies and stores the response's
func (b *Browser) Do(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	req := newRequest(method, path, body, nil)
	for _, c := range b.cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	for _, c := range w.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c
	}
	return w
}

// Login signs the test user in through the home application
func (b *Browser) Login(t *testing.T, tc *TestContext) {
	t.Helper()
	w := b.Do(tc.HomeRouter, http.MethodPost, "/api/auth/login", models.LoginRequest{
		Email:    TestUserEmail,
		Password: TestUserPassword,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

// PerformRequest executes an HTTP request against the router
func PerformRequest(r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, newRequest(method, path, body, headers))
	return w
}

// DecodeJSON unmarshals a response body
func DecodeJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func newRequest(method, path string, body interface{}, headers map[string]string) *http.Request {
	var reqBody *bytes.Buffer

	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBody)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}
