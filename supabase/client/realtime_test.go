package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// realtimeServer is a minimal Phoenix-speaking websocket endpoint.
type realtimeServer struct {
	srv    *httptest.Server
	frames chan realtimeMessage
	conns  chan *websocket.Conn
}

func newRealtimeServer(t *testing.T) *realtimeServer {
	t.Helper()
	rs := &realtimeServer{
		frames: make(chan realtimeMessage, 16),
		conns:  make(chan *websocket.Conn, 1),
	}
	rs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime/v1/websocket" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		rs.conns <- conn
		for {
			var msg realtimeMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			rs.frames <- msg
		}
	}))
	t.Cleanup(rs.srv.Close)
	return rs
}

func (rs *realtimeServer) waitFrame(t *testing.T) realtimeMessage {
	t.Helper()
	select {
	case msg := <-rs.frames:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a client frame")
		return realtimeMessage{}
	}
}

func (rs *realtimeServer) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-rs.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a connection")
		return nil
	}
}

func changeFrame(topic, eventType, record string) realtimeMessage {
	payload, _ := json.Marshal(map[string]any{
		"data": map[string]any{
			"type":   eventType,
			"schema": "public",
			"table":  "messages",
			"record": json.RawMessage(record),
		},
	})
	return realtimeMessage{Topic: topic, Event: "postgres_changes", Payload: payload}
}

func connectedClient(t *testing.T, rs *realtimeServer) *RealtimeClient {
	t.Helper()
	rc := NewRealtimeClient(rs.srv.URL, "test-key")
	if err := rc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	t.Cleanup(func() { rc.Disconnect() })
	return rc
}

func TestSubscribeSendsJoinFrame(t *testing.T) {
	rs := newRealtimeServer(t)
	rc := connectedClient(t, rs)

	ch, err := rc.Subscribe(context.Background(), PostgresChangesConfig{
		Event:  "INSERT",
		Table:  "messages",
		Filter: "room_id=eq.lobby",
	}, func(*ChangeEvent) {})
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}

	frame := rs.waitFrame(t)
	if frame.Event != "phx_join" {
		t.Fatalf("event = %s, want phx_join", frame.Event)
	}
	if frame.Topic != "realtime:public:messages:room_id=eq.lobby" {
		t.Fatalf("topic = %s", frame.Topic)
	}
	if ch.Topic() != frame.Topic {
		t.Fatalf("channel topic = %s", ch.Topic())
	}
	if !strings.Contains(string(frame.Payload), `"postgres_changes"`) {
		t.Fatalf("payload = %s", frame.Payload)
	}
}

func TestSubscribeDeliversEventsInOrder(t *testing.T) {
	rs := newRealtimeServer(t)
	rc := connectedClient(t, rs)

	received := make(chan string, 8)
	_, err := rc.Subscribe(context.Background(), PostgresChangesConfig{
		Event:  "INSERT",
		Table:  "messages",
		Filter: "room_id=eq.lobby",
	}, func(ev *ChangeEvent) {
		var rec struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(ev.Record, &rec)
		received <- rec.ID
	})
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	rs.waitFrame(t) // join

	conn := rs.conn(t)
	topic := "realtime:public:messages:room_id=eq.lobby"
	for _, id := range []string{"m1", "m2", "m3"} {
		if err := conn.WriteJSON(changeFrame(topic, "INSERT", `{"id":"`+id+`"}`)); err != nil {
			t.Fatalf("server write error: %v", err)
		}
	}

	for _, want := range []string{"m1", "m2", "m3"} {
		select {
		case got := <-received:
			if got != want {
				t.Fatalf("got %s, want %s (commit order)", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestSubscribeFiltersEventType(t *testing.T) {
	rs := newRealtimeServer(t)
	rc := connectedClient(t, rs)

	received := make(chan struct{}, 1)
	_, err := rc.Subscribe(context.Background(), PostgresChangesConfig{
		Event: "INSERT",
		Table: "messages",
	}, func(*ChangeEvent) { received <- struct{}{} })
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	rs.waitFrame(t)

	conn := rs.conn(t)
	topic := "realtime:public:messages"
	if err := conn.WriteJSON(changeFrame(topic, "UPDATE", `{"id":"m1"}`)); err != nil {
		t.Fatalf("server write error: %v", err)
	}
	if err := conn.WriteJSON(changeFrame(topic, "INSERT", `{"id":"m2"}`)); err != nil {
		t.Fatalf("server write error: %v", err)
	}

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the INSERT event")
	}
	select {
	case <-received:
		t.Fatal("UPDATE event should have been filtered out")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	rs := newRealtimeServer(t)
	rc := connectedClient(t, rs)

	received := make(chan struct{}, 1)
	ch, err := rc.Subscribe(context.Background(), PostgresChangesConfig{
		Event:  "INSERT",
		Table:  "messages",
		Filter: "room_id=eq.lobby",
	}, func(*ChangeEvent) { received <- struct{}{} })
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	rs.waitFrame(t)

	if err := ch.Unsubscribe(context.Background()); err != nil {
		t.Fatalf("Unsubscribe error: %v", err)
	}
	leave := rs.waitFrame(t)
	if leave.Event != "phx_leave" {
		t.Fatalf("event = %s, want phx_leave", leave.Event)
	}

	conn := rs.conn(t)
	if err := conn.WriteJSON(changeFrame(ch.Topic(), "INSERT", `{"id":"stale"}`)); err != nil {
		t.Fatalf("server write error: %v", err)
	}
	select {
	case <-received:
		t.Fatal("no events may be delivered after Unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribeDeduplicatesTopics(t *testing.T) {
	rs := newRealtimeServer(t)
	rc := connectedClient(t, rs)

	cfg := PostgresChangesConfig{Event: "INSERT", Table: "messages", Filter: "room_id=eq.lobby"}
	a, err := rc.Subscribe(context.Background(), cfg, func(*ChangeEvent) {})
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	b, err := rc.Subscribe(context.Background(), cfg, func(*ChangeEvent) {})
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	if a != b {
		t.Fatal("same topic must return the same channel")
	}
}
