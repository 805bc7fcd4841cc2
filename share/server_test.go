package bsshare

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestRouteListenAddr(t *testing.T) {
	cases := []struct {
		endpoint, addr, path string
	}{
		{"ws://0.0.0.0:5800/OlivOSMsgApi/qq/onebot/default", "0.0.0.0:5800", "/OlivOSMsgApi/qq/onebot/default"},
		{"ws://127.0.0.1", "127.0.0.1:80", "/"},
		{"ws://localhost:8080/", "localhost:8080", "/"},
	}
	for _, c := range cases {
		r := &Route{ID: "r", ClientEndpoint: c.endpoint}
		addr, path, err := r.ListenAddr()
		if err != nil || addr != c.addr || path != c.path {
			t.Errorf("ListenAddr(%s) = %s %s %v, expected %s %s", c.endpoint, addr, path, err, c.addr, c.path)
		}
	}
	bad := &Route{ID: "r", ClientEndpoint: "ws://127.0.0.1:1/", TargetEndpoints: []string{"http://x"}}
	if err := bad.Validate(); err == nil {
		t.Errorf("http target accepted")
	}
}

func TestNewServerRejectsDuplicatePaths(t *testing.T) {
	routes := []*Route{
		{ID: "a", ClientEndpoint: "ws://127.0.0.1:5800/x", Enabled: true},
		{ID: "b", ClientEndpoint: "ws://127.0.0.1:5800/x", Enabled: true},
	}
	if _, err := NewServer(testLogger(), &ServerConfig{Routes: routes, Session: testSessionConfig(), Policy: newFakePolicy()}); err == nil {
		t.Errorf("two routes on one path accepted")
	}
	routes[1].Enabled = false
	if _, err := NewServer(testLogger(), &ServerConfig{Routes: routes, Session: testSessionConfig(), Policy: newFakePolicy()}); err != nil {
		t.Errorf("disabled duplicate rejected: %s", err)
	}
}

func TestServerProxiesOverWebSockets(t *testing.T) {
	received := make(chan string, 16)
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			received <- string(data)
		}
	}))
	defer target.Close()

	route := &Route{
		ID:              "r1",
		ClientEndpoint:  "ws://127.0.0.1:0/onebot",
		TargetEndpoints: []string{"ws" + strings.TrimPrefix(target.URL, "http")},
		Enabled:         true,
	}
	srv, err := NewServer(testLogger(), &ServerConfig{Routes: []*Route{route}, Session: testSessionConfig(), Policy: newFakePolicy()})
	if err != nil {
		t.Fatalf("NewServer returned error: %s", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("server not ready")
	}
	addr := srv.listeners[0].httpServer.BoundAddr().String()

	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("health check failed: %s", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "OK\n" {
		t.Errorf("health body = %q", body)
	}

	client, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/onebot", http.Header{"X-Self-ID": {"10"}})
	if err != nil {
		t.Fatalf("client dial failed: %s", err)
	}
	defer client.Close()
	// the heartbeat is sent only once the target is connected, or it would be lost
	for _, frame := range []string{testHandshake, testHeartbeat} {
		if err := client.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("client write failed: %s", err)
		}
		select {
		case got := <-received:
			if got != frame {
				t.Errorf("target received %s, expected %s", got, frame)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("target did not receive %s", frame)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}
