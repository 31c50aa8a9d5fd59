package transport

import (
	"bytes"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/navlink/fioctl/internal/config"
)

func TestOpen_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	rwc, err := Open(config.Config{TCP: true, Port: ln.Addr().String()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rwc.Close()

	select {
	case conn := <-accepted:
		conn.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("listener never saw the connection")
	}
}

func TestOpen_TCPRejectsBareHost(t *testing.T) {
	if _, err := Open(config.Config{TCP: true, Port: "devicehost"}); err == nil {
		t.Fatal("Open with --tcp and no port should fail")
	}
}

func TestWSConn_RoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Echo binary messages back in two pieces to exercise
		// leftover handling on the client side.
		for {
			typ, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if typ != websocket.BinaryMessage {
				continue
			}
			half := len(data) / 2
			conn.WriteMessage(websocket.BinaryMessage, data[:half])
			conn.WriteMessage(websocket.BinaryMessage, data[half:])
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	rwc, err := Open(config.Config{WSURL: url})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rwc.Close()

	payload := []byte("\x55framed device traffic goes here")
	if _, err := rwc.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got := make([]byte, 0, len(payload))
	buf := make([]byte, 7) // small reads force leftover carry-over
	for len(got) < len(payload) {
		n, err := rwc.Read(buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip = %q, want %q", got, payload)
	}
}
