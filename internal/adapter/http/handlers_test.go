package adapthttp_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adapthttp "vitals/internal/adapter/http"
	"vitals/internal/adapter/memory"
	"vitals/internal/app"
	"vitals/internal/domain"
	"vitals/internal/metrics"
	"vitals/internal/pubsub"
)

// ---------------------------------------------------------------------------
// Test-server helper
// ---------------------------------------------------------------------------

type testEnv struct {
	ts  *httptest.Server
	db  *memory.DB
	svc *app.RecordService
}

func newTestServer(t *testing.T, withAuth bool) *testEnv {
	t.Helper()

	db := memory.New()
	reg := prometheus.NewRegistry()
	svc := app.NewRecordService(db, pubsub.NewBroker(), metrics.New(reg), nil)
	dashboards := app.NewDashboards(svc, 16, time.Minute, nil)
	t.Cleanup(dashboards.Close)
	authSvc := app.NewAuthService(db, db.NewSessionRepo())

	webDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(webDir, "index.html"), []byte("<html></html>"), 0o600); err != nil {
		t.Fatal(err)
	}

	srv := adapthttp.New(dashboards, authSvc, app.NewProjector(time.UTC, domain.UnitKg), webDir, nil).
		WithMetrics(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if !withAuth {
		srv = srv.WithoutAuth()
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, db: db, svc: svc}
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return m
}

func do(t *testing.T, c *http.Client, method, url string, body any) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// dashboard fetches a snapshot. It reports problems with t.Errorf so it is
// safe inside require.Eventually conditions.
func dashboard(t *testing.T, c *http.Client, base string) app.Dashboard {
	t.Helper()
	var d app.Dashboard
	resp, err := c.Get(base + "/api/dashboard")
	if err != nil {
		t.Errorf("get dashboard: %v", err)
		return d
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get dashboard: status %d", resp.StatusCode)
		return d
	}
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		t.Errorf("decode dashboard: %v", err)
	}
	return d
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	env := newTestServer(t, false)

	resp, err := http.Get(env.ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeBody(t, resp)["ok"])
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

func TestConfigEndpoint(t *testing.T) {
	env := newTestServer(t, false)
	resp := do(t, http.DefaultClient, http.MethodGet, env.ts.URL+"/api/config", nil)
	body := decodeBody(t, resp)
	assert.Equal(t, false, body["sso_enabled"])
	assert.Equal(t, "kg", body["unit"])
	assert.Equal(t, float64(domain.FeedLimit), body["feed_limit"])
}

func TestDashboard_Empty(t *testing.T) {
	env := newTestServer(t, false)
	d := dashboard(t, http.DefaultClient, env.ts.URL)
	assert.Empty(t, d.Records)
	assert.Nil(t, d.Latest)
	assert.Equal(t, 0, d.Series.Len())
}

func TestSubmit(t *testing.T) {
	tests := []struct {
		name       string
		payload    map[string]any
		wantStatus int
		wantField  string
	}{
		{"numbers", map[string]any{"weight": 72.4, "systolic": 118, "diastolic": 76}, http.StatusCreated, ""},
		{"strings", map[string]any{"weight": "72.4", "systolic": "118", "diastolic": "76"}, http.StatusCreated, ""},
		{"client timestamp ignored", map[string]any{"weight": 70, "systolic": 120, "diastolic": 80, "createdAt": "1999-01-01T00:00:00Z"}, http.StatusCreated, ""},
		{"weight not a number", map[string]any{"weight": "heavy", "systolic": 118, "diastolic": 76}, http.StatusBadRequest, "weight"},
		{"weight zero", map[string]any{"weight": 0, "systolic": 118, "diastolic": 76}, http.StatusBadRequest, "weight"},
		{"fractional systolic", map[string]any{"weight": 70, "systolic": "118.5", "diastolic": 76}, http.StatusBadRequest, "systolic"},
		{"missing diastolic", map[string]any{"weight": 70, "systolic": 118}, http.StatusBadRequest, "diastolic"},
		{"unknown field", map[string]any{"weight": 70, "systolic": 118, "diastolic": 76, "pulse": 60}, http.StatusBadRequest, ""},
	}

	env := newTestServer(t, false)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(t, http.DefaultClient, http.MethodPost, env.ts.URL+"/api/records", tc.payload)
			body := decodeBody(t, resp)
			require.Equal(t, tc.wantStatus, resp.StatusCode, "body: %v", body)
			if tc.wantField != "" {
				assert.Equal(t, tc.wantField, body["field"])
			}
			if tc.wantStatus == http.StatusCreated {
				assert.NotEmpty(t, body["id"])
				assert.Equal(t, false, body["updated"])
			}
		})
	}
}

func TestSubmit_AppearsInDashboardViaFeed(t *testing.T) {
	env := newTestServer(t, false)
	base := env.ts.URL

	resp := do(t, http.DefaultClient, http.MethodPost, base+"/api/records", map[string]any{"weight": 80, "systolic": 142, "diastolic": 88})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decodeBody(t, resp)["id"].(string)

	require.Eventually(t, func() bool {
		return len(dashboard(t, http.DefaultClient, base).Records) == 1
	}, 2*time.Second, 10*time.Millisecond)

	d := dashboard(t, http.DefaultClient, base)
	assert.Equal(t, id, d.Records[0].ID)
	require.NotNil(t, d.Latest)
	assert.Equal(t, "Hypertension Stage 2", d.Latest.Status.Label)
	assert.Equal(t, []int{142}, d.Series.Systolic)

	lb := do(t, http.DefaultClient, http.MethodGet, base+"/api/dashboard?unit=lb", nil)
	var dl app.Dashboard
	require.NoError(t, json.NewDecoder(lb.Body).Decode(&dl))
	assert.Equal(t, domain.UnitLb, dl.Series.Unit)
	assert.InDelta(t, 176.37, dl.Series.Weight[0], 0.01)

	bad := do(t, http.DefaultClient, http.MethodGet, base+"/api/dashboard?unit=stone", nil)
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestEditFlow(t *testing.T) {
	env := newTestServer(t, false)
	base := env.ts.URL
	c := http.DefaultClient

	resp := do(t, c, http.MethodPost, base+"/api/records", map[string]any{"weight": 70, "systolic": 118, "diastolic": 76})
	id := decodeBody(t, resp)["id"].(string)
	require.Eventually(t, func() bool { return len(dashboard(t, c, base).Records) == 1 }, 2*time.Second, 10*time.Millisecond)

	// Unknown id leaves the buffer alone.
	assert.Equal(t, http.StatusNotFound, do(t, c, http.MethodPost, base+"/api/edit", map[string]any{"id": "nope"}).StatusCode)

	resp = do(t, c, http.MethodPost, base+"/api/edit", map[string]any{"id": id})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, decodeBody(t, resp)["recordId"])
	assert.Equal(t, id, dashboard(t, c, base).Editing.RecordID)

	resp = do(t, c, http.MethodPost, base+"/api/records", map[string]any{"weight": 69, "systolic": 150, "diastolic": 95})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, true, body["updated"])

	require.Eventually(t, func() bool {
		d := dashboard(t, c, base)
		return len(d.Records) == 1 && d.Records[0].Systolic == 150 && d.Editing == nil
	}, 2*time.Second, 10*time.Millisecond)

	// Cancel with no edit in progress is harmless.
	assert.Equal(t, http.StatusNoContent, do(t, c, http.MethodDelete, base+"/api/edit", nil).StatusCode)
}

func TestRemove(t *testing.T) {
	env := newTestServer(t, false)
	base := env.ts.URL
	c := http.DefaultClient

	resp := do(t, c, http.MethodPost, base+"/api/records", map[string]any{"weight": 70, "systolic": 118, "diastolic": 76})
	id := decodeBody(t, resp)["id"].(string)
	require.Eventually(t, func() bool { return len(dashboard(t, c, base).Records) == 1 }, 2*time.Second, 10*time.Millisecond)

	resp = do(t, c, http.MethodDelete, base+"/api/records/"+id, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool { return len(dashboard(t, c, base).Records) == 0 }, 2*time.Second, 10*time.Millisecond)

	resp = do(t, c, http.MethodDelete, base+"/api/records/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDashboardStream(t *testing.T) {
	env := newTestServer(t, false)
	base := env.ts.URL

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/dashboard/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan app.Dashboard, 8)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			line := sc.Text()
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var d app.Dashboard
				if json.Unmarshal([]byte(data), &d) == nil {
					events <- d
				}
			}
		}
		close(events)
	}()

	next := func() app.Dashboard {
		select {
		case d, ok := <-events:
			require.True(t, ok, "stream ended")
			return d
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for event")
			return app.Dashboard{}
		}
	}

	assert.Empty(t, next().Records)

	post := do(t, http.DefaultClient, http.MethodPost, base+"/api/records", map[string]any{"weight": 70, "systolic": 118, "diastolic": 76})
	require.Equal(t, http.StatusCreated, post.StatusCode)

	for {
		if d := next(); len(d.Records) == 1 {
			assert.Equal(t, 118, d.Records[0].Systolic)
			break
		}
	}
}

func TestAuth_Required(t *testing.T) {
	env := newTestServer(t, true)
	resp := do(t, http.DefaultClient, http.MethodGet, env.ts.URL+"/api/dashboard", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_SetupLoginLogout(t *testing.T) {
	env := newTestServer(t, true)
	base := env.ts.URL
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	c := &http.Client{Jar: jar}

	creds := map[string]any{"username": "alice", "password": "correct-horse"}
	assert.Equal(t, http.StatusBadRequest, do(t, c, http.MethodPost, base+"/api/auth/setup", map[string]any{"username": "alice", "password": "short"}).StatusCode)
	require.Equal(t, http.StatusOK, do(t, c, http.MethodPost, base+"/api/auth/setup", creds).StatusCode)
	assert.Equal(t, http.StatusConflict, do(t, c, http.MethodPost, base+"/api/auth/setup", creds).StatusCode)

	assert.Equal(t, http.StatusUnauthorized, do(t, c, http.MethodPost, base+"/api/auth/login", map[string]any{"username": "alice", "password": "wrong"}).StatusCode)
	require.Equal(t, http.StatusOK, do(t, c, http.MethodPost, base+"/api/auth/login", creds).StatusCode)

	me := do(t, c, http.MethodGet, base+"/api/auth/me", nil)
	require.Equal(t, http.StatusOK, me.StatusCode)
	assert.Equal(t, "alice", decodeBody(t, me)["username"])

	resp := do(t, c, http.MethodPost, base+"/api/records", map[string]any{"weight": 70, "systolic": 118, "diastolic": 76})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Eventually(t, func() bool { return len(dashboard(t, c, base).Records) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusOK, do(t, c, http.MethodPost, base+"/api/auth/logout", nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, do(t, c, http.MethodGet, base+"/api/dashboard", nil).StatusCode)
}

func TestAuth_ForwardAuthUsersAreIsolated(t *testing.T) {
	env := newTestServer(t, true)
	base := env.ts.URL

	as := func(user, method, path string, body any) *http.Response {
		var rd *bytes.Reader
		if body != nil {
			b, _ := json.Marshal(body)
			rd = bytes.NewReader(b)
		} else {
			rd = bytes.NewReader(nil)
		}
		req, err := http.NewRequest(method, base+path, rd)
		require.NoError(t, err)
		req.Header.Set("Remote-User", user)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	resp := as("bob", http.MethodPost, "/api/records", map[string]any{"weight": 90, "systolic": 130, "diastolic": 85})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decodeBody(t, resp)["id"].(string)

	count := func(user string) int {
		req, _ := http.NewRequest(http.MethodGet, base+"/api/dashboard", nil)
		req.Header.Set("Remote-User", user)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Errorf("get dashboard: %v", err)
			return -1
		}
		defer resp.Body.Close() //nolint:errcheck
		var d app.Dashboard
		if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
			t.Errorf("decode dashboard: %v", err)
			return -1
		}
		return len(d.Records)
	}
	require.Eventually(t, func() bool { return count("bob") == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, count("carol"))

	assert.Equal(t, http.StatusNotFound, as("carol", http.MethodDelete, "/api/records/"+id, nil).StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestServer(t, false)
	do(t, http.DefaultClient, http.MethodPost, env.ts.URL+"/api/records", map[string]any{"weight": 70, "systolic": 118, "diastolic": 76})

	resp := do(t, http.DefaultClient, http.MethodGet, env.ts.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	assert.Contains(t, buf.String(), "vitals_records_mutations_total")
}

func TestSPAFallback(t *testing.T) {
	env := newTestServer(t, false)
	resp := do(t, http.DefaultClient, http.MethodGet, env.ts.URL+"/some/client/route", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	assert.Equal(t, "<html></html>", buf.String())
}
