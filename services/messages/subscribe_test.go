package messages

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tokenrooms/backend/internal/database"
	"github.com/tokenrooms/backend/internal/logging"
	"github.com/tokenrooms/backend/supabase/client"
)

// phoenixServer is a minimal realtime endpoint. Frames written by the
// client surface on frames; the server connection surfaces on conns so
// tests can push change events back.
type phoenixServer struct {
	*httptest.Server
	frames chan map[string]interface{}
	conns  chan *websocket.Conn
}

func newPhoenixServer(t *testing.T) *phoenixServer {
	t.Helper()
	ps := &phoenixServer{
		frames: make(chan map[string]interface{}, 16),
		conns:  make(chan *websocket.Conn, 4),
	}
	upgrader := websocket.Upgrader{}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ps.conns <- conn
		for {
			var frame map[string]interface{}
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			ps.frames <- frame
		}
	}))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *phoenixServer) waitFrame(t *testing.T, event string) map[string]interface{} {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-ps.frames:
			if frame["event"] == event {
				return frame
			}
		case <-deadline:
			t.Fatalf("no %s frame received", event)
		}
	}
}

func (ps *phoenixServer) pushInsert(t *testing.T, conn *websocket.Conn, topic, record string) {
	t.Helper()
	frame := fmt.Sprintf(
		`{"topic":%q,"event":"postgres_changes","payload":{"data":{"type":"INSERT","schema":"public","table":"messages","record":%s}}}`,
		topic, record)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("push insert: %v", err)
	}
}

func testBroker(t *testing.T) (*Broker, *phoenixServer, *websocket.Conn) {
	t.Helper()
	ps := newPhoenixServer(t)
	rc := client.NewRealtimeClient(ps.URL, "service-key")
	if err := rc.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = rc.Disconnect() })

	var conn *websocket.Conn
	select {
	case conn = <-ps.conns:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the connection")
	}
	return NewBroker(rc, logging.New("test", "error")), ps, conn
}

func waitMessage(t *testing.T, sub *Subscription) database.Message {
	t.Helper()
	select {
	case msg, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}
	return database.Message{}
}

const lobbyTopic = "realtime:public:messages:room_id=eq.lobby"

func TestBrokerDeliversRoomMessages(t *testing.T) {
	broker, ps, conn := testBroker(t)

	sub, err := broker.Subscribe(context.Background(), "Lobby")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer sub.Close(context.Background())

	join := ps.waitFrame(t, "phx_join")
	if join["topic"] != lobbyTopic {
		t.Fatalf("join topic = %v, want %s", join["topic"], lobbyTopic)
	}

	ps.pushInsert(t, conn, lobbyTopic, `{"id":"m1","room_id":"lobby","content":"hello"}`)

	msg := waitMessage(t, sub)
	if msg.ID != "m1" || msg.Content != "hello" {
		t.Fatalf("message = %+v", msg)
	}
}

func TestBrokerSharesChannelAcrossSubscribers(t *testing.T) {
	broker, ps, conn := testBroker(t)

	first, err := broker.Subscribe(context.Background(), "lobby")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	ps.waitFrame(t, "phx_join")

	second, err := broker.Subscribe(context.Background(), "lobby")
	if err != nil {
		t.Fatalf("second Subscribe error: %v", err)
	}

	select {
	case frame := <-ps.frames:
		if frame["event"] == "phx_join" {
			t.Fatal("second subscriber must reuse the existing channel")
		}
	case <-time.After(100 * time.Millisecond):
	}

	ps.pushInsert(t, conn, lobbyTopic, `{"id":"m1","room_id":"lobby","content":"hi"}`)

	if got := waitMessage(t, first); got.ID != "m1" {
		t.Fatalf("first subscriber got %s", got.ID)
	}
	if got := waitMessage(t, second); got.ID != "m1" {
		t.Fatalf("second subscriber got %s", got.ID)
	}

	first.Close(context.Background())
	second.Close(context.Background())
	leave := ps.waitFrame(t, "phx_leave")
	if leave["topic"] != lobbyTopic {
		t.Fatalf("leave topic = %v", leave["topic"])
	}
}

func TestBrokerKeepsChannelWhileSubscribersRemain(t *testing.T) {
	broker, ps, _ := testBroker(t)

	first, _ := broker.Subscribe(context.Background(), "lobby")
	second, _ := broker.Subscribe(context.Background(), "lobby")
	ps.waitFrame(t, "phx_join")

	first.Close(context.Background())

	select {
	case frame := <-ps.frames:
		if frame["event"] == "phx_leave" {
			t.Fatal("channel must stay open while a subscriber remains")
		}
	case <-time.After(100 * time.Millisecond):
	}

	second.Close(context.Background())
	ps.waitFrame(t, "phx_leave")
}

func TestBrokerDropsStalledSubscriber(t *testing.T) {
	broker, ps, conn := testBroker(t)

	sub, err := broker.Subscribe(context.Background(), "lobby")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer sub.Close(context.Background())
	ps.waitFrame(t, "phx_join")

	// One more event than the subscription buffers, never read.
	for i := 0; i <= subscriptionBuffer; i++ {
		ps.pushInsert(t, conn, lobbyTopic,
			fmt.Sprintf(`{"id":"m%d","room_id":"lobby","content":"flood"}`, i))
	}

	// Hold off draining until every push has been dispatched and the
	// overflow event has dropped the subscriber; draining concurrently
	// would free buffer slots and the subscriber would never stall.
	dropDeadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(dropDeadline) {
		broker.mu.Lock()
		feed, ok := broker.rooms["lobby"]
		dropped := !ok
		if ok {
			_, present := feed.subs[sub]
			dropped = !present
		}
		broker.mu.Unlock()
		if dropped {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	deadline := time.After(2 * time.Second)
	drained := 0
	for {
		select {
		case _, ok := <-sub.C:
			if !ok {
				if drained != subscriptionBuffer {
					t.Fatalf("drained %d messages before drop, want %d", drained, subscriptionBuffer)
				}
				return
			}
			drained++
		case <-deadline:
			t.Fatal("stalled subscriber was never dropped")
		}
	}
}

func TestBrokerIgnoresUndecodableRecord(t *testing.T) {
	broker, ps, conn := testBroker(t)

	sub, err := broker.Subscribe(context.Background(), "lobby")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer sub.Close(context.Background())
	ps.waitFrame(t, "phx_join")

	ps.pushInsert(t, conn, lobbyTopic, `{"id":["not","a","string"]}`)
	ps.pushInsert(t, conn, lobbyTopic, `{"id":"m2","room_id":"lobby","content":"after"}`)

	if got := waitMessage(t, sub); got.ID != "m2" {
		t.Fatalf("delivered %s, want the decodable event only", got.ID)
	}
}

func TestBrokerJoinCarriesChangeConfig(t *testing.T) {
	broker, ps, _ := testBroker(t)

	sub, err := broker.Subscribe(context.Background(), "lobby")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer sub.Close(context.Background())

	join := ps.waitFrame(t, "phx_join")
	payload, err := json.Marshal(join["payload"])
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	for _, want := range []string{`"event":"INSERT"`, `"table":"messages"`, `"filter":"room_id=eq.lobby"`} {
		if !strings.Contains(string(payload), want) {
			t.Fatalf("join payload %s missing %s", payload, want)
		}
	}
}
