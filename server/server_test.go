package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/agent-governor/config"
	"github.com/upb/agent-governor/internal/eventlog"
	"github.com/upb/agent-governor/internal/kernel"
	"github.com/upb/agent-governor/models"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	k, err := kernel.New(kernel.Options{
		ProjectID: "demo",
		Store:     eventlog.NewMemoryStore(),
	})
	require.NoError(t, err)
	return NewRegistry(k, zap.NewNop())
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"*"},
		},
		EventLog: config.EventLogConfig{Backend: "memory"},
	}
}

func humanActorJSON() string {
	return `{"id":"reviewer-1","role":"reviewer","role_type":"HUMAN","source":"test"}`
}

func callTool(t *testing.T, router http.Handler, name, payload string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tools/"+name, strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestHealthz(t *testing.T) {
	srv := NewHTTPServer(testRegistry(t), testConfig(), zap.NewNop())
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListTools(t *testing.T) {
	srv := NewHTTPServer(testRegistry(t), testConfig(), zap.NewNop())
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tools", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "submit_event")
	assert.Contains(t, rec.Body.String(), "export_proof")
}

func TestGetStateTool(t *testing.T) {
	srv := NewHTTPServer(testRegistry(t), testConfig(), zap.NewNop())
	rec, env := callTool(t, srv.Router(), "get_state", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.OK)
	result := env.Result.(map[string]interface{})
	assert.Equal(t, "S1", result["stage"])
}

func TestSubmitEventOverHTTP(t *testing.T) {
	srv := NewHTTPServer(testRegistry(t), testConfig(), zap.NewNop())
	router := srv.Router()

	payload := fmt.Sprintf(`{"type":"STAGE_CHANGE","actor":%s,"payload":{"to_stage":"S2"}}`, humanActorJSON())
	rec, env := callTool(t, router, "submit_event", payload)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.OK)
	result := env.Result.(map[string]interface{})
	assert.Equal(t, "SUCCESS", result["result"])
	assert.Equal(t, "S2", result["stage"])
}

func TestRejectionMapsToForbidden(t *testing.T) {
	srv := NewHTTPServer(testRegistry(t), testConfig(), zap.NewNop())
	rec, env := callTool(t, srv.Router(), "submit_event", `{"type":"TOOL_CALL"}`)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.False(t, env.OK)
	assert.Equal(t, string(kernel.KindRejection), env.Error.Kind)
}

func TestUnknownToolIsBadRequest(t *testing.T) {
	srv := NewHTTPServer(testRegistry(t), testConfig(), zap.NewNop())
	rec, env := callTool(t, srv.Router(), "no_such_tool", "{}")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.OK)
}

func TestFreezeAndUnfreezeTools(t *testing.T) {
	srv := NewHTTPServer(testRegistry(t), testConfig(), zap.NewNop())
	router := srv.Router()

	payload := fmt.Sprintf(`{"actor":%s,"reason":"halt"}`, humanActorJSON())
	rec, env := callTool(t, router, "freeze_project", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.OK)

	_, env = callTool(t, router, "get_stage", "")
	result := env.Result.(map[string]interface{})
	assert.Equal(t, true, result["frozen"])

	rec, env = callTool(t, router, "unfreeze_project", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.OK)

	_, env = callTool(t, router, "get_stage", "")
	result = env.Result.(map[string]interface{})
	assert.Equal(t, false, result["frozen"])
}

func TestViolationTools(t *testing.T) {
	srv := NewHTTPServer(testRegistry(t), testConfig(), zap.NewNop())
	router := srv.Router()

	// TOOL_CALL is not permitted in the opening stage, so this raises a
	// violation the tools can then list and resolve
	payload := `{"type":"TOOL_CALL","id":"ev-1","actor":{"id":"coder-1","role":"coder","role_type":"AI","source":"cli"}}`
	rec, env := callTool(t, router, "submit_event", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.OK)

	_, env = callTool(t, router, "get_violations", "")
	require.True(t, env.OK)
	result := env.Result.(map[string]interface{})
	assert.Equal(t, float64(1), result["count"])
	violations := result["violations"].([]interface{})
	first := violations[0].(map[string]interface{})
	assert.Equal(t, "viol-ev-1-1", first["id"])
	assert.Equal(t, "OPEN", first["status"])

	rec, env = callTool(t, router, "resolve_violation", `{"violation_id":"viol-ev-1-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.OK)
	resolved := env.Result.(map[string]interface{})
	assert.Equal(t, "RESOLVED", resolved["status"])

	_, env = callTool(t, router, "get_score_history", "")
	require.True(t, env.OK)
	history := env.Result.(map[string]interface{})
	assert.Equal(t, float64(1), history["count"])
}

func TestAuthRequiresToken(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, JWTSecret: "test-secret"}
	srv := NewHTTPServer(testRegistry(t), cfg, zap.NewNop())
	router := srv.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/tools/get_state", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthInjectsActorFromToken(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, JWTSecret: "test-secret"}
	srv := NewHTTPServer(testRegistry(t), cfg, zap.NewNop())
	router := srv.Router()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, actorClaims{
		Role:     "reviewer",
		RoleType: "HUMAN",
		Source:   "test",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "reviewer-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	body := `{"type":"STAGE_CHANGE","payload":{"to_stage":"S2"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tools/submit_event", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.True(t, env.OK)
	result := env.Result.(map[string]interface{})
	assert.Equal(t, "S2", result["stage"])
}

func TestParseActorTokenRejectsBadSignature(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, actorClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "x"},
	})
	signed, err := token.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	_, err = parseActorToken(signed, "test-secret")
	assert.Error(t, err)
}

func TestStdioRoundTrip(t *testing.T) {
	registry := testRegistry(t)

	lines := []string{
		`{"id":"1","tool":"get_stage"}`,
		fmt.Sprintf(`{"id":"2","tool":"submit_event","payload":{"type":"STAGE_CHANGE","actor":%s,"payload":{"to_stage":"S2"}}}`, humanActorJSON()),
		`{"id":"3","tool":"get_stage"}`,
		`not json`,
		`{"id":"5","tool":"missing_tool"}`,
	}
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var out bytes.Buffer

	srv := NewStdioServer(registry, zap.NewNop(), in, &out)
	require.NoError(t, srv.Serve(context.Background()))

	responses := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, responses, 5)

	var first stdioResponse
	require.NoError(t, json.Unmarshal([]byte(responses[0]), &first))
	assert.True(t, first.OK)
	assert.Equal(t, "1", first.ID)

	var third stdioResponse
	require.NoError(t, json.Unmarshal([]byte(responses[2]), &third))
	require.True(t, third.OK)
	stage := third.Result.(map[string]interface{})
	assert.Equal(t, "S2", stage["stage"])

	var fourth stdioResponse
	require.NoError(t, json.Unmarshal([]byte(responses[3]), &fourth))
	assert.False(t, fourth.OK)

	var fifth stdioResponse
	require.NoError(t, json.Unmarshal([]byte(responses[4]), &fifth))
	assert.False(t, fifth.OK)
	assert.Equal(t, "5", fifth.ID)
}

func TestInjectActor(t *testing.T) {
	actor := &models.Actor{ID: "a-1", Role: models.ActorRoleCoder, RoleType: models.ActorTypeAI, Source: "test"}

	out, err := injectActor(nil, actor)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"a-1"`)

	// an explicit actor in the payload wins
	explicit := json.RawMessage(`{"actor":{"id":"other"},"type":"TOOL_CALL"}`)
	out, err = injectActor(explicit, actor)
	require.NoError(t, err)
	assert.Equal(t, string(explicit), string(out))
}
