package dashboard

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ctf-assistant/internal/analytics"
	"ctf-assistant/internal/config"
	"ctf-assistant/internal/core"
	"ctf-assistant/internal/integrations"
	"ctf-assistant/internal/models"
	"ctf-assistant/internal/poller"
	"ctf-assistant/internal/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type failingDeletes struct {
	*storage.MemoryStore
}

func (f failingDeletes) DeleteIntegration(ctx context.Context, id string) error {
	return &core.StorageError{Op: "delete integration", Err: io.ErrUnexpectedEOF}
}

type fakeChecker struct {
	err error
	ids []string
}

func (f *fakeChecker) CheckNow(ctx context.Context, id string) (poller.Result, error) {
	f.ids = append(f.ids, id)
	return poller.Result{IntegrationID: id}, f.err
}

type fixture struct {
	server  *Server
	handler http.Handler
	service *integrations.Service
	checker *fakeChecker
	cookie  *http.Cookie
}

func dashboardConfig() config.DashboardConfig {
	return config.DashboardConfig{
		Addr:          ":0",
		PublicURL:     "http://localhost:3000",
		SessionSecret: testSecret,
		AdminIDs:      []string{"admin1"},
		OAuthClientID: "client-id",
		APIBaseURL:    "https://api.example.test/",
	}
}

func newFixture(t *testing.T, repo storage.IntegrationRepository) *fixture {
	t.Helper()
	service := integrations.NewService(repo, nil, zap.NewNop())
	checker := &fakeChecker{}
	server, err := New(Options{
		Config:       dashboardConfig(),
		Env:          config.EnvProduction,
		Integrations: service,
		Analytics:    analytics.New(repo, 3*time.Minute),
		Checker:      checker,
		Logger:       zap.NewNop(),
	})
	require.NoError(t, err)

	value, err := server.sessions.Encode("admin1", "Admin")
	require.NoError(t, err)
	return &fixture{
		server:  server,
		handler: server.Handler(),
		service: service,
		checker: checker,
		cookie:  server.sessions.Cookie(value),
	}
}

func (f *fixture) do(t *testing.T, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if f.cookie != nil {
		req.AddCookie(f.cookie)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) create(t *testing.T, channel, key string) models.DonationIntegration {
	t.Helper()
	record, err := f.service.Create(context.Background(), integrations.Actor{UserID: "admin1"}, models.NewIntegration{
		GuildID: "g1", ChannelID: channel, APIKey: key,
	})
	require.NoError(t, err)
	return record
}

func TestHealth(t *testing.T) {
	f := newFixture(t, storage.NewMemory())
	f.cookie = nil
	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRequiresAdminSession(t *testing.T) {
	f := newFixture(t, storage.NewMemory())
	f.cookie = nil

	rec := f.do(t, http.MethodGet, "/integrations", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	rec = f.do(t, http.MethodGet, "/api/integrations", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	f.cookie = &http.Cookie{Name: sessionCookie, Value: "forged.value"}
	rec = f.do(t, http.MethodGet, "/integrations", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
}

func TestListMasksAPIKey(t *testing.T) {
	f := newFixture(t, storage.NewMemory())
	f.create(t, "c1", "very-secret-key-1234")

	rec := f.do(t, http.MethodGet, "/integrations?notice=created", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "********1234")
	assert.Contains(t, body, "Integration created.")
	assert.Contains(t, body, `data-confirm=`)
	assert.NotContains(t, body, "very-secret")
}

func TestCreateIntegration(t *testing.T) {
	f := newFixture(t, storage.NewMemory())

	rec := f.do(t, http.MethodPost, "/integrations", url.Values{
		"guild_id": {"g1"}, "channel_id": {"c1"}, "api_key": {"k-5678"}, "page_url": {"trakteer.id/team"}, "is_active": {"on"},
	})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/integrations?notice=created", rec.Header().Get("Location"))

	record, err := f.service.Get(context.Background(), "g1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "https://trakteer.id/team", record.PageURL)
	assert.True(t, record.IsActive)

	rec = f.do(t, http.MethodPost, "/integrations", url.Values{"guild_id": {"g1"}, "channel_id": {"c2"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "API key is required")

	rec = f.do(t, http.MethodPost, "/integrations", url.Values{"guild_id": {"g1"}, "channel_id": {"c1"}, "api_key": {"other"}})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreatePausedBesideActive(t *testing.T) {
	f := newFixture(t, storage.NewMemory())
	active := f.create(t, "c1", "key-0001")

	rec := f.do(t, http.MethodPost, "/integrations", url.Values{
		"guild_id": {"g1"}, "channel_id": {"c1"}, "api_key": {"key-0002"},
	})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/integrations?notice=created", rec.Header().Get("Location"))

	records, err := f.service.List(context.Background(), models.IntegrationFilter{GuildID: "g1"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, record := range records {
		assert.Equal(t, record.ID == active.ID, record.IsActive)
	}
}

func TestUpdateKeepsBlankKey(t *testing.T) {
	f := newFixture(t, storage.NewMemory())
	record := f.create(t, "c1", "original-key")

	rec := f.do(t, http.MethodGet, "/integrations/"+record.HexID()+"/edit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "original-key")

	rec = f.do(t, http.MethodPost, "/integrations/"+record.HexID(), url.Values{"page_url": {"https://saweria.co/team"}})
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	updated, err := f.service.GetByID(context.Background(), record.HexID())
	require.NoError(t, err)
	assert.Equal(t, "original-key", updated.APIKey)
	assert.False(t, updated.IsActive)
	assert.Equal(t, "https://saweria.co/team", updated.PageURL)
}

func TestDeleteConfirmationFlow(t *testing.T) {
	f := newFixture(t, storage.NewMemory())
	record := f.create(t, "c1", "key-0001")
	path := "/integrations/" + record.HexID() + "/delete"

	rec := f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<form method="post" action="`+path+`">`)

	_, err := f.service.GetByID(context.Background(), record.HexID())
	require.NoError(t, err, "confirmation page must not delete")

	rec = f.do(t, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/integrations?notice=deleted", rec.Header().Get("Location"))
	_, err = f.service.GetByID(context.Background(), record.HexID())
	assert.True(t, core.IsNotFound(err))

	rec = f.do(t, http.MethodPost, path, nil)
	assert.Equal(t, "/integrations?error=not_found", rec.Header().Get("Location"))
}

func TestDeleteFailureKeepsPageUsable(t *testing.T) {
	store := storage.NewMemory()
	f := newFixture(t, failingDeletes{store})
	record := f.create(t, "c1", "key-0001")

	rec := f.do(t, http.MethodPost, "/integrations/"+record.HexID()+"/delete", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	location := rec.Header().Get("Location")
	assert.Equal(t, "/integrations?error=delete_failed", location)

	rec = f.do(t, http.MethodGet, location, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Delete failed. Nothing was removed")
	assert.Contains(t, rec.Body.String(), "/integrations/"+record.HexID()+"/delete")
}

func TestCheckNow(t *testing.T) {
	f := newFixture(t, storage.NewMemory())
	record := f.create(t, "c1", "key-0001")

	rec := f.do(t, http.MethodPost, "/integrations/"+record.HexID()+"/check", nil)
	assert.Equal(t, "/integrations?notice=checked", rec.Header().Get("Location"))
	assert.Equal(t, []string{record.HexID()}, f.checker.ids)

	f.checker.err = io.ErrUnexpectedEOF
	rec = f.do(t, http.MethodPost, "/integrations/"+record.HexID()+"/check", nil)
	assert.Equal(t, "/integrations?error=check_failed", rec.Header().Get("Location"))
}

func TestCheckOffWithoutPoller(t *testing.T) {
	f := newFixture(t, storage.NewMemory())
	f.server.checker = nil
	f.handler = f.server.Handler()
	record := f.create(t, "c1", "key-0001")

	rec := f.do(t, http.MethodGet, "/integrations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "Check now")

	rec = f.do(t, http.MethodPost, "/integrations/"+record.HexID()+"/check", nil)
	assert.Equal(t, "/integrations?error=check_off", rec.Header().Get("Location"))
	assert.Empty(t, f.checker.ids)
}

func TestJSONAPI(t *testing.T) {
	f := newFixture(t, storage.NewMemory())
	record := f.create(t, "c1", "api-secret-9999")

	rec := f.do(t, http.MethodGet, "/api/integrations?guild_id=g1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, record.HexID(), list[0]["id"])
	assert.Equal(t, "********9999", list[0]["api_key_masked"])
	assert.NotContains(t, rec.Body.String(), "api-secret")

	rec = f.do(t, http.MethodGet, "/api/stats?guild_id=g1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary analytics.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.NeverChecked)

	rec = f.do(t, http.MethodDelete, "/api/integrations/"+record.HexID(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/integrations/"+record.HexID(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDevProxy(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "remote "+r.URL.Path)
	}))
	defer backend.Close()

	cfg := dashboardConfig()
	cfg.APIBaseURL = backend.URL + "/"
	server, err := New(Options{
		Config:       cfg,
		Env:          config.EnvDevelopment,
		Integrations: integrations.NewService(storage.NewMemory(), nil, zap.NewNop()),
		Analytics:    analytics.New(storage.NewMemory(), time.Minute),
		Logger:       zap.NewNop(),
	})
	require.NoError(t, err)
	handler := server.Handler()

	for _, path := range []string{"/api/stats", "/health"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "remote "+path, rec.Body.String())
	}
}

func TestStaticConfirmScript(t *testing.T) {
	f := newFixture(t, storage.NewMemory())
	f.cookie = nil
	rec := f.do(t, http.MethodGet, "/static/confirm.js", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "form.submit()")
}

func TestNewRequiresSecret(t *testing.T) {
	cfg := dashboardConfig()
	cfg.SessionSecret = "short"
	_, err := New(Options{Config: cfg, Logger: zap.NewNop()})
	assert.Error(t, err)
}
