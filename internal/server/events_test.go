package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type streamedDesk struct {
	Windows []json.RawMessage `json:"windows"`
}

type receivedMessage struct {
	Event     string        `json:"event"`
	WindowIDs []string      `json:"windowIds"`
	ActiveID  string        `json:"activeId"`
	Desk      *streamedDesk `json:"desk"`
}

func dialEvents(t *testing.T, server *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	endpoint := "ws" + strings.TrimPrefix(server.URL, "http") + "/desk/events"
	if token != "" {
		endpoint += "?" + url.Values{accessTokenQueryKey: {token}}.Encode()
	}
	return websocket.DefaultDialer.Dial(endpoint, nil)
}

func readMessage(t *testing.T, conn *websocket.Conn) receivedMessage {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	var message receivedMessage
	if err := conn.ReadJSON(&message); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	return message
}

func TestDeskEventsStreamSnapshotAndChanges(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.handler)
	t.Cleanup(server.Close)
	token := env.token(t)

	openTableWindow(t, env, token)

	conn, _, err := dialEvents(t, server, token)
	if err != nil {
		t.Fatalf("failed to dial events: %v", err)
	}
	defer conn.Close()

	initial := readMessage(t, conn)
	if initial.Event != streamEventSnapshot || initial.Desk == nil || len(initial.Desk.Windows) != 1 {
		t.Fatalf("unexpected initial message: %+v", initial)
	}

	payload, _ := json.Marshal(map[string]string{"type": "dashboard"})
	request, err := http.NewRequest(http.MethodPost, server.URL+"/desk/windows", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("Content-Type", "application/json")
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("open request failed: %v", err)
	}
	response.Body.Close()

	opened := readMessage(t, conn)
	if opened.Event != "window-opened" || len(opened.WindowIDs) != 1 || opened.WindowIDs[0] != "window-2" || opened.ActiveID != "window-2" {
		t.Fatalf("unexpected change event: %+v", opened)
	}
}

func TestDeskEventsSendHeartbeats(t *testing.T) {
	env := newTestEnv(t, func(deps *Dependencies) {
		deps.HeartbeatInterval = 20 * time.Millisecond
	})
	server := httptest.NewServer(env.handler)
	t.Cleanup(server.Close)

	conn, _, err := dialEvents(t, server, env.token(t))
	if err != nil {
		t.Fatalf("failed to dial events: %v", err)
	}
	defer conn.Close()

	if message := readMessage(t, conn); message.Event != streamEventSnapshot {
		t.Fatalf("expected snapshot first, got %q", message.Event)
	}
	if message := readMessage(t, conn); message.Event != streamEventHeartbeat {
		t.Fatalf("expected heartbeat, got %q", message.Event)
	}
}

func TestDeskEventsRequireSession(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.handler)
	t.Cleanup(server.Close)

	conn, response, err := dialEvents(t, server, "")
	if err == nil {
		conn.Close()
		t.Fatalf("expected handshake to fail without a token")
	}
	if response == nil || response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %+v", response)
	}
}
