package network

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func TestFrameRoundTrip(t *testing.T) {
	body := []byte(`{"request_id":"r1","session_id":"s1"}`)
	frame, err := Encode(MsgTypeJoinSession, body)
	if err != nil {
		t.Fatal(err)
	}
	if len(frame) != HeaderSize+len(body) {
		t.Fatalf("unexpected frame size %d", len(frame))
	}
	p, err := Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	var req Request
	if err := p.Decode(&req); err != nil {
		t.Fatal(err)
	}
	if p.MsgID != MsgTypeJoinSession || req.RequestID != "r1" || req.SessionID != "s1" {
		t.Fatalf("unexpected packet %+v %+v", p, req)
	}
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	if _, err := Decode([]byte{0, 1, 0}); !errors.Is(err, io.ErrShortBuffer) {
		t.Fatalf("expected short buffer, got %v", err)
	}
	frame, _ := Encode(MsgTypeHeartbeat, []byte("abcdef"))
	if _, err := Decode(frame[:len(frame)-2]); !errors.Is(err, io.ErrShortBuffer) {
		t.Fatalf("expected short buffer for truncated body, got %v", err)
	}
	huge := []byte{0, 1, 0xff, 0xff, 0xff, 0xff}
	if _, err := Decode(huge); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if _, err := Encode(1, make([]byte, MaxBodySize+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestWSConnectionEcho(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewWSConnection(ws)
		defer conn.Close()
		p, err := conn.ReadPacket()
		if err != nil {
			return
		}
		var req Request
		p.Decode(&req)
		conn.SendJSON(MsgTypeResult, Result{RequestID: req.RequestID, OK: true})
	}))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	client := NewWSConnection(ws)
	defer client.Close()
	if err := client.SendJSON(MsgTypeGetSession, Request{RequestID: "42"}); err != nil {
		t.Fatal(err)
	}
	p, err := client.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	var res Result
	if err := p.Decode(&res); err != nil {
		t.Fatal(err)
	}
	if p.MsgID != MsgTypeResult || res.RequestID != "42" || !res.OK {
		t.Fatalf("unexpected reply %d %+v", p.MsgID, res)
	}
}
