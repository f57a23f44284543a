package catalog

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/lysyi3m/xtream-catalog/app/database"
	"github.com/lysyi3m/xtream-catalog/app/profile"
	"github.com/lysyi3m/xtream-catalog/app/xtream"
)

const testXmltv = `<?xml version="1.0" encoding="UTF-8"?>
<tv>
  <channel id="espn.us"><display-name>ESPN</display-name></channel>
  <channel id="cnn.intl"><display-name>CNN INTL</display-name></channel>
  <programme channel="espn.us" start="20240101120000 +0000" stop="20240101140000 +0000">
    <title>SportsCenter</title>
  </programme>
</tv>`

var portalResponses = map[string]string{
	"get_live_categories":   `[{"category_id":"1","category_name":"News","parent_id":0},{"category_id":"2","category_name":"Sports","parent_id":0}]`,
	"get_vod_categories":    `[{"category_id":"10","category_name":"Movies","parent_id":0}]`,
	"get_series_categories": `[{"category_id":"20","category_name":"Drama","parent_id":0}]`,
	"get_live_streams": `[
		{"num":1,"name":"ESPN","stream_id":101,"stream_icon":"http://img/espn.png","epg_channel_id":"espn.us","category_id":"2","added":"1700000000"},
		{"num":2,"name":"CNN International","stream_id":102,"stream_icon":"","epg_channel_id":null,"category_id":"1","added":"1700000001"}
	]`,
	"get_vod_streams": `[{"num":1,"name":"Heat","stream_id":201,"stream_icon":"","rating":"8.3","category_id":"10","added":"1700000000","container_extension":"mkv"}]`,
	"get_series":      `[{"num":1,"name":"The Wire","series_id":301,"cover":"","rating":"9.3","category_id":"20","last_modified":"1700000000"}]`,
}

type fakePortal struct {
	server *httptest.Server

	mu       sync.Mutex
	requests map[string]int
	fail     map[string]int
	xmltv    string
	// onRequest runs before every response.
	onRequest func(action string)
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()

	p := &fakePortal{
		requests: make(map[string]int),
		fail:     make(map[string]int),
		xmltv:    testXmltv,
	}
	p.server = httptest.NewServer(http.HandlerFunc(p.handle))
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakePortal) handle(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	if r.URL.Path == "/xmltv.php" {
		action = "xmltv"
	}

	p.mu.Lock()
	p.requests[action]++
	status := p.fail[action]
	body := p.xmltv
	hook := p.onRequest
	p.mu.Unlock()

	if hook != nil {
		hook(action)
	}
	if status != 0 {
		w.WriteHeader(status)
		return
	}

	if action == "xmltv" {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(body))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if resp, ok := portalResponses[action]; ok {
		w.Write([]byte(resp))
		return
	}
	w.Write([]byte(`{"user_info":{"auth":1,"status":"Active"}}`))
}

func (p *fakePortal) count(action string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[action]
}

func (p *fakePortal) failWith(action string, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail[action] = status
}

func (p *fakePortal) profile(id string) *profile.Profile {
	return &profile.Profile{
		ID:       id,
		Name:     id,
		Host:     p.server.URL,
		Username: "alice",
		Password: "secret",
		Settings: profile.Settings{
			Enabled:            true,
			SyncInterval:       86400,
			EpgRefreshInterval: 86400,
		},
	}
}

func newTestRepo(t *testing.T) *database.CatalogRepository {
	t.Helper()

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return database.NewCatalogRepository(db)
}

func newTestClient() *xtream.Client {
	return xtream.NewClient(xtream.ClientOptions{UserAgent: "test"})
}
