package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dcaengine/internal/backtest"

	"github.com/gorilla/websocket"
)

func TestHubSlowClientDoesNotBlockProgress(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Close()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	// 客户端连上后从不读取，服务端写缓冲很快填满。
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.Clients() != 1 {
		t.Fatalf("clients = %d", hub.Clients())
	}

	big := bytes.Repeat([]byte("x"), 1<<20)
	for i := 0; i < 48; i++ {
		hub.broadcast <- big
	}
	time.Sleep(300 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		hub.OnProgress(backtest.Progress{Index: 1, Done: true})
		_ = hub.Clients()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnProgress blocked behind a slow websocket write")
	}
}

func TestHubDueThrottlesPlainProgress(t *testing.T) {
	hub := NewHub()
	if hub.due(backtest.Progress{Index: 1}) {
		t.Fatal("no clients should never be due")
	}
	hub.clients[&websocket.Conn{}] = struct{}{}
	if !hub.due(backtest.Progress{Index: 1}) {
		t.Fatal("first update should be due")
	}
	if hub.due(backtest.Progress{Index: 2}) {
		t.Fatal("plain update inside the throttle window should be skipped")
	}
	if !hub.due(backtest.Progress{Index: 3, Rejection: "cap"}) {
		t.Fatal("rejections are always pushed")
	}
}
