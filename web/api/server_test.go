package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/selfheal/internal/broadcast"
	"github.com/hochfrequenz/selfheal/internal/config"
	"github.com/hochfrequenz/selfheal/internal/orchestrator"
	"github.com/hochfrequenz/selfheal/internal/patterns"
	"github.com/hochfrequenz/selfheal/internal/sessionstore"
	"github.com/hochfrequenz/selfheal/internal/worktree"
)

const peerDepLog = "npm ERR! peer dep missing react-router\n"

const packageJSON = `{
  "name": "demo",
  "dependencies": {
    "react": "^18.0.0"
  }
}
`

func newTestServer(t *testing.T) (*Server, *broadcast.Hub) {
	t.Helper()

	root := t.TempDir()
	tree, err := worktree.NewDir(root, filepath.Join(root, ".snapshots"))
	if err != nil {
		t.Fatal(err)
	}
	if err := tree.Write("package.json", packageJSON); err != nil {
		t.Fatal(err)
	}

	store, err := sessionstore.New(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	hub := broadcast.NewHub(64, 256, store)
	trees := orchestrator.TreeProviderFunc(func(string) (worktree.Accessor, error) { return tree, nil })
	orch := orchestrator.New(config.Default(), store, hub, patterns.Default(), nil, trees, nil)

	return NewServer(orch, store, hub, ":0"), hub
}

func postJSON(t *testing.T, client *http.Client, url string, body string) *http.Response {
	t.Helper()
	resp, err := client.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func waitForStatus(t *testing.T, client *http.Client, url, want string) SessionResponse {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		resp, err := client.Get(url)
		if err != nil {
			t.Fatal(err)
		}
		var sess SessionResponse
		if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if sess.Status == want {
			return sess
		}
		select {
		case <-deadline:
			t.Fatalf("session never reached %s, stuck at %s", want, sess.Status)
		case <-time.After(25 * time.Millisecond):
		}
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()
	client := ts.Client()

	resp := postJSON(t, client, ts.URL+"/api/sessions",
		`{"pipeline_id": "build-42", "raw_log": "npm ERR! peer dep missing react-router\n"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("create status = %d, want 202", resp.StatusCode)
	}
	var created SessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if created.PipelineID != "build-42" || created.Status != "created" {
		t.Errorf("created = %+v", created)
	}

	sessURL := ts.URL + "/api/sessions/" + created.ID
	sess := waitForStatus(t, client, sessURL, "awaiting-approval")
	if len(sess.Errors) != 1 || sess.Errors[0].Category != "dependency" {
		t.Fatalf("errors = %+v", sess.Errors)
	}
	if len(sess.Patches) != 1 || sess.Patches[0].Type != "template" {
		t.Fatalf("patches = %+v", sess.Patches)
	}

	resp = postJSON(t, client, sessURL+"/approve", `{}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status = %d, want 200", resp.StatusCode)
	}
	var approved SessionResponse
	json.NewDecoder(resp.Body).Decode(&approved)
	resp.Body.Close()
	if approved.Status != "completed" {
		t.Errorf("status after approve = %s, want completed", approved.Status)
	}
	if len(approved.Patches) != 1 || !approved.Patches[0].Applied {
		t.Errorf("patches = %+v", approved.Patches)
	}

	// A second approve on the terminal session is rejected.
	resp = postJSON(t, client, sessURL+"/approve", `{}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("approve on terminal session status = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()

	// The timeline is queryable.
	resp, err := client.Get(sessURL + "/timeline")
	if err != nil {
		t.Fatal(err)
	}
	var events []sessionstore.TimelineEvent
	json.NewDecoder(resp.Body).Decode(&events)
	resp.Body.Close()
	if len(events) == 0 {
		t.Error("timeline should not be empty")
	}
}

func TestCancelSessionOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()
	client := ts.Client()

	resp := postJSON(t, client, ts.URL+"/api/sessions",
		`{"pipeline_id": "build-1", "raw_log": "npm ERR! peer dep missing react-router\n"}`)
	var created SessionResponse
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()

	sessURL := ts.URL + "/api/sessions/" + created.ID
	waitForStatus(t, client, sessURL, "awaiting-approval")

	resp = postJSON(t, client, sessURL+"/cancel", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200", resp.StatusCode)
	}
	var cancelled SessionResponse
	json.NewDecoder(resp.Body).Decode(&cancelled)
	resp.Body.Close()
	if cancelled.Status != "cancelled" {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	server, _ := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()
	client := ts.Client()

	resp := postJSON(t, client, ts.URL+"/api/sessions", `{"raw_log": "whatever"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing pipeline_id status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, client, ts.URL+"/api/sessions", `not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err := client.Get(ts.URL + "/api/sessions/nope")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestListPatternsHandler(t *testing.T) {
	server, _ := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/api/patterns")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got []PatternResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) == 0 {
		t.Fatal("pattern list should not be empty")
	}
	found := false
	for _, p := range got {
		if p.Name == "npm-peer-dep" {
			found = true
			if p.Category != "dependency" || !p.AutoFixable {
				t.Errorf("npm-peer-dep = %+v", p)
			}
		}
	}
	if !found {
		t.Error("npm-peer-dep pattern missing from listing")
	}
}

func TestSSEReplaysHistory(t *testing.T) {
	server, hub := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	// Events published before the client connects come from the replay
	// ring.
	hub.Publish("sess-1", broadcast.EventSessionCreated, map[string]string{"pipeline_id": "p1"})
	hub.Publish("sess-1", broadcast.EventErrorDetected, map[string]string{"category": "dependency"})

	resp, err := ts.Client().Get(ts.URL + "/api/events?session=sess-1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	var eventTypes []string
	for scanner.Scan() && len(eventTypes) < 2 {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventTypes = append(eventTypes, strings.TrimPrefix(line, "event: "))
		}
	}
	if len(eventTypes) != 2 ||
		eventTypes[0] != broadcast.EventSessionCreated ||
		eventTypes[1] != broadcast.EventErrorDetected {
		t.Errorf("replayed events = %v", eventTypes)
	}
}

func TestWebSocketStream(t *testing.T) {
	server, hub := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	hub.Publish("sess-1", broadcast.EventSessionCreated, nil)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws?session=sess-1"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	// The replayed event arrives first, then live events.
	var first wsMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	hub.Publish("sess-1", broadcast.EventPatchGenerated, nil)
	var second wsMessage
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatal(err)
	}

	firstEvent, _ := first.Event.(map[string]interface{})
	secondEvent, _ := second.Event.(map[string]interface{})
	if firstEvent["type"] != broadcast.EventSessionCreated {
		t.Errorf("first event = %v", first.Event)
	}
	if secondEvent["type"] != broadcast.EventPatchGenerated {
		t.Errorf("second event = %v", second.Event)
	}
}
