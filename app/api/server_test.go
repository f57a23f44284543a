package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/lysyi3m/xtream-catalog/app/catalog"
	"github.com/lysyi3m/xtream-catalog/app/database"
	"github.com/lysyi3m/xtream-catalog/app/epg"
	"github.com/lysyi3m/xtream-catalog/app/profile"
	"github.com/lysyi3m/xtream-catalog/app/tasks"
	"github.com/lysyi3m/xtream-catalog/app/xtream"
)

const testAccessKey = "test-key"

var portalResponses = map[string]string{
	"get_live_categories":   `[{"category_id":"1","category_name":"News","parent_id":0},{"category_id":"2","category_name":"Sports","parent_id":0}]`,
	"get_vod_categories":    `[{"category_id":"10","category_name":"Movies","parent_id":0}]`,
	"get_series_categories": `[{"category_id":"20","category_name":"Drama","parent_id":0}]`,
	"get_live_streams": `[
		{"num":1,"name":"ESPN","stream_id":101,"stream_icon":"http://img/espn.png","epg_channel_id":"espn.us","category_id":"2","added":"1700000000"},
		{"num":2,"name":"CNN","stream_id":102,"stream_icon":"http://img/cnn.png","epg_channel_id":null,"category_id":"1","added":"1700000001"}
	]`,
	"get_vod_streams": `[
		{"num":1,"name":"Heat","stream_id":201,"stream_icon":"","rating":"8.3","category_id":"10","added":"1700000000","container_extension":"mkv"},
		{"num":2,"name":"Ronin","stream_id":202,"stream_icon":"","rating":"7.2","category_id":"10","added":"1700000001","container_extension":"mp4"}
	]`,
	"get_series":   `[{"num":1,"name":"The Wire","series_id":301,"cover":"","rating":"9.3","category_id":"20","last_modified":"1700000000"}]`,
	"get_vod_info": `{"info":{"name":"Heat","plot":"A heist."},"movie_data":{"stream_id":201}}`,
}

const testXmltv = `<?xml version="1.0" encoding="UTF-8"?>
<tv>
  <channel id="espn.us"><display-name>ESPN</display-name></channel>
  <channel id="cnn.us"><display-name>CNN</display-name></channel>
</tv>`

type fakePortal struct {
	server *httptest.Server

	mu       sync.Mutex
	requests map[string]int
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()

	p := &fakePortal{requests: make(map[string]int)}
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		action := r.URL.Query().Get("action")
		if r.URL.Path == "/xmltv.php" {
			action = "xmltv"
		}

		p.mu.Lock()
		p.requests[action]++
		p.mu.Unlock()

		if action == "xmltv" {
			w.Header().Set("Content-Type", "application/xml")
			w.Write([]byte(testXmltv))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if resp, ok := portalResponses[action]; ok {
			w.Write([]byte(resp))
			return
		}
		w.Write([]byte(`{"user_info":{"auth":1,"status":"Active","username":"alice"}}`))
	}))
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakePortal) count(action string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[action]
}

type mockProfiles struct {
	profiles []*profile.Profile
}

func (m *mockProfiles) GetProfile(id string) (*profile.Profile, error) {
	for _, p := range m.profiles {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, profile.ErrNotFound
}

func (m *mockProfiles) GetProfiles() []*profile.Profile {
	return m.profiles
}

func (m *mockProfiles) Count() int {
	return len(m.profiles)
}

type mockScheduler struct {
	mu       sync.Mutex
	err      error
	enqueued []string
}

func (m *mockScheduler) Start() {}
func (m *mockScheduler) Stop()  {}

func (m *mockScheduler) EnqueueTask(task tasks.TaskInterface) error {
	return m.err
}

func (m *mockScheduler) EnqueueSync(p *profile.Profile) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.enqueued = append(m.enqueued, p.ID)
	return "task-1", nil
}

type testEnv struct {
	router    *gin.Engine
	portal    *fakePortal
	profile   *profile.Profile
	syncer    *catalog.Syncer
	hub       *catalog.Hub
	scheduler *mockScheduler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	portal := newFakePortal(t)
	p := &profile.Profile{
		ID:       "home",
		Name:     "Home",
		Host:     portal.server.URL,
		Username: "alice",
		Password: "secret",
		Settings: profile.Settings{Enabled: true, SyncInterval: 86400, EpgRefreshInterval: 86400},
	}

	repo := database.NewCatalogRepository(db)
	client := xtream.NewClient(xtream.ClientOptions{UserAgent: "test"})
	syncer := catalog.NewSyncer(repo, client, nil, catalog.Options{})
	hub := catalog.NewHub()
	scheduler := &mockScheduler{}

	handler := NewHandler(Dependencies{
		Profiles:  &mockProfiles{profiles: []*profile.Profile{p}},
		Catalog:   repo,
		Library:   database.NewLibraryRepository(db),
		Cache:     database.NewCacheRepository(db),
		Client:    client,
		Syncer:    syncer,
		Resolver:  epg.NewResolver(repo, epg.Options{}),
		Scheduler: scheduler,
		Hub:       hub,
		DB:        db,
		Version:   "test",
	})

	return &testEnv{
		router:    NewServer(handler, testAccessKey),
		portal:    portal,
		profile:   p,
		syncer:    syncer,
		hub:       hub,
		scheduler: scheduler,
	}
}

func (e *testEnv) sync(t *testing.T) {
	t.Helper()
	if _, err := e.syncer.SyncProfile(context.Background(), e.profile, nil); err != nil {
		t.Fatalf("Failed to sync profile: %v", err)
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("X-API-Key", testAccessKey)

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return body
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing key", "", "", http.StatusUnauthorized},
		{"wrong key", "X-API-Key", "nope", http.StatusUnauthorized},
		{"header key", "X-API-Key", testAccessKey, http.StatusOK},
		{"bearer token", "Authorization", "Bearer " + testAccessKey, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/profiles", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := decode(t, w)
	if body["database"] != "ok" {
		t.Errorf("Expected database ok, got %v", body["database"])
	}
	if body["profiles"] != float64(1) {
		t.Errorf("Expected 1 profile, got %v", body["profiles"])
	}
}

func TestUnknownProfile(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/profiles/missing/live", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestLivePaging(t *testing.T) {
	env := newTestEnv(t)
	env.sync(t)

	w := env.do(t, http.MethodGet, "/api/profiles/home/live?limit=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := decode(t, w)
	if body["count"] != float64(1) {
		t.Errorf("Expected 1 item, got %v", body["count"])
	}

	w = env.do(t, http.MethodGet, "/api/profiles/home/live?limit=10&offset=1", "")
	body = decode(t, w)
	if body["count"] != float64(1) {
		t.Errorf("Expected 1 item after offset, got %v", body["count"])
	}

	w = env.do(t, http.MethodGet, "/api/profiles/home/live?limit=10&category=1", "")
	body = decode(t, w)
	items := body["items"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["id"] != "102" {
		t.Errorf("Expected only channel 102 in category 1, got %v", items)
	}
}

func TestLiveWithEpgResolvesChannels(t *testing.T) {
	env := newTestEnv(t)
	env.sync(t)

	w := env.do(t, http.MethodGet, "/api/profiles/home/live?epg=true", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	got := make(map[string]string)
	for _, raw := range decode(t, w)["items"].([]any) {
		item := raw.(map[string]any)
		id, _ := item["epg_channel_id"].(string)
		got[item["id"].(string)] = id
	}

	if got["101"] != "espn.us" {
		t.Errorf("Expected provided id espn.us, got %q", got["101"])
	}
	if got["102"] != "cnn.us" {
		t.Errorf("Expected CNN resolved to cnn.us, got %q", got["102"])
	}
	if n := env.portal.count("xmltv"); n != 1 {
		t.Errorf("Expected fresh EPG not to be refetched, got %d xmltv requests", n)
	}
}

func TestLiveOffset(t *testing.T) {
	env := newTestEnv(t)
	env.sync(t)

	w := env.do(t, http.MethodGet, "/api/profiles/home/live/102/offset", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if offset := decode(t, w)["offset"]; offset != float64(1) {
		t.Errorf("Expected offset 1, got %v", offset)
	}

	w = env.do(t, http.MethodGet, "/api/profiles/home/live/999/offset", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestCategoriesRejectUnknownKind(t *testing.T) {
	env := newTestEnv(t)
	env.sync(t)

	w := env.do(t, http.MethodGet, "/api/profiles/home/categories/radio", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/profiles/home/categories/live", "")
	if total := decode(t, w)["total"]; total != float64(2) {
		t.Errorf("Expected 2 live categories, got %v", total)
	}
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t)
	env.sync(t)

	w := env.do(t, http.MethodGet, "/api/profiles/home/search", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without query, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/profiles/home/search?q=heat&type=vod", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	results := decode(t, w)["results"].(map[string]any)
	if _, ok := results["live"]; ok {
		t.Error("Expected only vod results")
	}
	vod := results["vod"].([]any)
	if len(vod) != 1 || vod[0].(map[string]any)["title"] != "Heat" {
		t.Errorf("Expected Heat, got %v", vod)
	}
}

func TestSyncEnqueue(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/profiles/home/sync", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", w.Code)
	}
	task := decode(t, w)["task"].(map[string]any)
	if task["id"] != "task-1" {
		t.Errorf("Expected task-1, got %v", task["id"])
	}

	env.scheduler.err = tasks.ErrAlreadyQueued
	if w := env.do(t, http.MethodPost, "/api/profiles/home/sync", ""); w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}

	env.scheduler.err = tasks.ErrQueueFull
	if w := env.do(t, http.MethodPost, "/api/profiles/home/sync", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}

func TestSyncWait(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/profiles/home/sync?wait=true", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["live_streams"] != float64(2) {
		t.Errorf("Expected 2 live streams, got %v", body["live_streams"])
	}
	if len(env.scheduler.enqueued) != 0 {
		t.Error("Expected inline sync not to use the scheduler")
	}
}

func TestDeleteProfileData(t *testing.T) {
	env := newTestEnv(t)
	env.sync(t)

	if w := env.do(t, http.MethodDelete, "/api/profiles/home/data", ""); w.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", w.Code)
	}

	w := env.do(t, http.MethodGet, "/api/profiles/home/stats", "")
	counts := decode(t, w)["counts"].(map[string]any)
	if counts["live_streams"] != float64(0) {
		t.Errorf("Expected catalog cleared, got %v live streams", counts["live_streams"])
	}
}

func TestDeleteProfileDataDuringSync(t *testing.T) {
	env := newTestEnv(t)

	var code int
	_, err := env.syncer.SyncProfile(context.Background(), env.profile, func(progress catalog.Progress) {
		if progress.Step == catalog.StepCategories {
			code = env.do(t, http.MethodDelete, "/api/profiles/home/data", "").Code
		}
	})
	if err != nil {
		t.Fatalf("Expected sync to succeed, got: %v", err)
	}
	if code != http.StatusConflict {
		t.Errorf("Expected status 409 during sync, got %d", code)
	}

	w := env.do(t, http.MethodGet, "/api/profiles/home/stats", "")
	counts := decode(t, w)["counts"].(map[string]any)
	if counts["live_streams"] != float64(2) {
		t.Errorf("Expected synced catalog to be kept, got %v live streams", counts["live_streams"])
	}
}

func TestLibrary(t *testing.T) {
	env := newTestEnv(t)
	env.sync(t)

	if w := env.do(t, http.MethodPut, "/api/profiles/home/library/favorites/radio/1", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for unknown type, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPut, "/api/profiles/home/library/favorites/vod/201", ""); w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPut, "/api/profiles/home/library/favorites/vod/999", ""); w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/profiles/home/library/recent/live/101", ""); w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPut, "/api/profiles/home/library/continue/vod/202", `{"position_seconds":120,"duration_seconds":6000}`); w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPut, "/api/profiles/home/library/continue/vod/202", `{"position_seconds":-1}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for negative position, got %d", w.Code)
	}

	w := env.do(t, http.MethodGet, "/api/profiles/home/library", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := decode(t, w)

	favorites := body["favorites"].([]any)
	if len(favorites) != 1 || favorites[0].(map[string]any)["title"] != "Heat" {
		t.Errorf("Expected only hydrated favorite Heat, got %v", favorites)
	}
	recent := body["recently_viewed"].([]any)
	if len(recent) != 1 || recent[0].(map[string]any)["title"] != "ESPN" {
		t.Errorf("Expected recently viewed ESPN, got %v", recent)
	}
	continuing := body["continue_watching"].([]any)
	if len(continuing) != 1 {
		t.Fatalf("Expected 1 continue watching entry, got %d", len(continuing))
	}
	if pos := continuing[0].(map[string]any)["position_seconds"]; pos != float64(120) {
		t.Errorf("Expected position 120, got %v", pos)
	}

	if w := env.do(t, http.MethodDelete, "/api/profiles/home/library/continue/vod/202", ""); w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/api/profiles/home/library", "")
	if continuing := decode(t, w)["continue_watching"].([]any); len(continuing) != 0 {
		t.Errorf("Expected continue watching cleared, got %v", continuing)
	}
}

func TestPlayURL(t *testing.T) {
	env := newTestEnv(t)
	env.sync(t)
	host := xtream.NormalizeHost(env.portal.server.URL)

	tests := []struct {
		path string
		want string
	}{
		{"/api/profiles/home/urls/live/101", host + "/live/alice/secret/101.m3u8"},
		{"/api/profiles/home/urls/vod/201", host + "/movie/alice/secret/201.mkv"},
		{"/api/profiles/home/urls/vod/201?ext=avi", host + "/movie/alice/secret/201.avi"},
		{"/api/profiles/home/urls/vod/999", host + "/movie/alice/secret/999.mp4"},
		{"/api/profiles/home/urls/series/5001?ext=mkv", host + "/series/alice/secret/5001.mkv"},
	}

	for _, tt := range tests {
		w := env.do(t, http.MethodGet, tt.path, "")
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", tt.path, w.Code)
			continue
		}
		if got := decode(t, w)["url"]; got != tt.want {
			t.Errorf("%s: expected %s, got %v", tt.path, tt.want, got)
		}
	}

	if w := env.do(t, http.MethodGet, "/api/profiles/home/urls/radio/1", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestVodInfoIsCached(t *testing.T) {
	env := newTestEnv(t)
	env.sync(t)

	for i, want := range []string{"MISS", "HIT"} {
		w := env.do(t, http.MethodGet, "/api/profiles/home/vod/201", "")
		if w.Code != http.StatusOK {
			t.Fatalf("Request %d: expected status 200, got %d", i, w.Code)
		}
		if got := w.Header().Get("X-Cache"); got != want {
			t.Errorf("Request %d: expected X-Cache %s, got %s", i, want, got)
		}
		info := decode(t, w)["info"].(map[string]any)
		if info["name"] != "Heat" {
			t.Errorf("Expected info for Heat, got %v", info)
		}
	}

	if n := env.portal.count("get_vod_info"); n != 1 {
		t.Errorf("Expected 1 portal request, got %d", n)
	}
}

func TestVodSimilar(t *testing.T) {
	env := newTestEnv(t)
	env.sync(t)

	w := env.do(t, http.MethodGet, "/api/profiles/home/vod/201/similar", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	items := decode(t, w)["items"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["id"] != "202" {
		t.Errorf("Expected Ronin as similar item, got %v", items)
	}

	if w := env.do(t, http.MethodGet, "/api/profiles/home/vod/999/similar", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestSyncEvents(t *testing.T) {
	env := newTestEnv(t)

	server := httptest.NewServer(env.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/profiles/home/sync/events?api_key=" + testAccessKey
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Subscribers("home") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected websocket to subscribe to the hub")
		}
		time.Sleep(10 * time.Millisecond)
	}

	env.hub.Publish(catalog.Event{ProfileID: "other", State: catalog.EventRunning})
	env.hub.Publish(catalog.Event{
		ProfileID: "home",
		State:     catalog.EventRunning,
		Progress:  &catalog.Progress{Step: catalog.StepLiveStreams, Current: 2, Total: catalog.TotalSteps},
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event catalog.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}

	if event.ProfileID != "home" {
		t.Errorf("Expected event for home, got %s", event.ProfileID)
	}
	if event.Progress == nil || event.Progress.Step != catalog.StepLiveStreams {
		t.Errorf("Expected live_streams progress, got %+v", event.Progress)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for env.hub.Subscribers("home") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected subscriber to be removed after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestQueryInt(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		query string
		want  int
	}{
		{"", 50},
		{"limit=10", 10},
		{"limit=-1", 50},
		{"limit=abc", 50},
		{"limit=9999", 500},
	}

	for _, tt := range tests {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
		if got := queryInt(c, "limit", 50, 500); got != tt.want {
			t.Errorf("queryInt(%q): expected %d, got %d", tt.query, tt.want, got)
		}
	}
}
