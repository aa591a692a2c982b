package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// RealtimeClient handles Supabase Realtime subscriptions over the Phoenix
// websocket protocol.
type RealtimeClient struct {
	mu       sync.RWMutex
	url      string
	apiKey   string
	conn     *websocket.Conn
	channels map[string]*Channel
	done     chan struct{}
	ref      int
}

// ChangeHandler receives row change events. Handlers are invoked
// synchronously from the read loop so delivery order matches the server's
// commit order.
type ChangeHandler func(event *ChangeEvent)

// ChangeEvent is a decoded postgres_changes event.
type ChangeEvent struct {
	Type   string          // INSERT, UPDATE, DELETE
	Schema string
	Table  string
	Record json.RawMessage // the new row, as sent by the server
	Old    json.RawMessage // the previous row, for UPDATE/DELETE
}

// realtimeMessage is the wire format of a Phoenix frame.
type realtimeMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

// PostgresChangesConfig selects the rows a channel observes.
type PostgresChangesConfig struct {
	Event  string `json:"event"`  // INSERT, UPDATE, DELETE, *
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"` // e.g. "room_id=eq.lobby"
}

// Channel is one realtime subscription.
type Channel struct {
	client  *RealtimeClient
	topic   string
	config  PostgresChangesConfig
	handler ChangeHandler
	joined  bool
	joinRef string
}

// NewRealtimeClient creates a realtime client for the project URL.
func NewRealtimeClient(supabaseURL, apiKey string) *RealtimeClient {
	wsURL := supabaseURL
	if strings.HasPrefix(wsURL, "https") {
		wsURL = "wss" + wsURL[5:]
	} else if strings.HasPrefix(wsURL, "http") {
		wsURL = "ws" + wsURL[4:]
	}
	wsURL += "/realtime/v1/websocket?apikey=" + apiKey + "&vsn=1.0.0"

	return &RealtimeClient{
		url:      wsURL,
		apiKey:   apiKey,
		channels: make(map[string]*Channel),
		done:     make(chan struct{}),
	}
}

// Connect establishes the websocket connection and starts the read loop.
func (r *RealtimeClient) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	r.conn = conn
	r.done = make(chan struct{})

	go r.readLoop()
	go r.heartbeat()

	return nil
}

// Disconnect closes the connection and drops all channels.
func (r *RealtimeClient) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}

	close(r.done)
	r.channels = make(map[string]*Channel)

	_ = r.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	err := r.conn.Close()
	r.conn = nil
	return err
}

// Subscribe joins a channel observing the configured postgres changes.
// The topic is derived from the table and filter so distinct filters get
// distinct channels.
func (r *RealtimeClient) Subscribe(ctx context.Context, cfg PostgresChangesConfig, handler ChangeHandler) (*Channel, error) {
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.Event == "" {
		cfg.Event = "*"
	}

	topic := fmt.Sprintf("realtime:%s:%s", cfg.Schema, cfg.Table)
	if cfg.Filter != "" {
		topic += ":" + cfg.Filter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil, fmt.Errorf("realtime client not connected")
	}
	if existing, ok := r.channels[topic]; ok {
		return existing, nil
	}

	r.ref++
	ref := fmt.Sprintf("%d", r.ref)

	joinPayload := map[string]any{
		"config": map[string]any{
			"postgres_changes": []PostgresChangesConfig{cfg},
		},
	}
	payload, err := json.Marshal(joinPayload)
	if err != nil {
		return nil, fmt.Errorf("marshal join payload: %w", err)
	}

	msg := realtimeMessage{
		Topic:   topic,
		Event:   "phx_join",
		Payload: payload,
		Ref:     ref,
		JoinRef: ref,
	}
	if err := r.conn.WriteJSON(msg); err != nil {
		return nil, fmt.Errorf("send join: %w", err)
	}

	ch := &Channel{
		client:  r,
		topic:   topic,
		config:  cfg,
		handler: handler,
		joined:  true,
		joinRef: ref,
	}
	r.channels[topic] = ch
	return ch, nil
}

// Unsubscribe leaves the channel. After it returns, the channel's handler
// receives no further events.
func (c *Channel) Unsubscribe(ctx context.Context) error {
	c.client.mu.Lock()
	defer c.client.mu.Unlock()

	if !c.joined {
		return nil
	}
	c.joined = false
	delete(c.client.channels, c.topic)

	if c.client.conn == nil {
		return nil
	}

	c.client.ref++
	msg := realtimeMessage{
		Topic:   c.topic,
		Event:   "phx_leave",
		Payload: json.RawMessage(`{}`),
		Ref:     fmt.Sprintf("%d", c.client.ref),
		JoinRef: c.joinRef,
	}
	if err := c.client.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send leave: %w", err)
	}
	return nil
}

// Topic returns the channel topic.
func (c *Channel) Topic() string {
	return c.topic
}

func (r *RealtimeClient) readLoop() {
	for {
		select {
		case <-r.done:
			return
		default:
		}

		r.mu.RLock()
		conn := r.conn
		r.mu.RUnlock()

		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg realtimeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Event != "postgres_changes" {
			continue
		}

		r.dispatch(&msg)
	}
}

// changePayload is the payload of a postgres_changes frame.
type changePayload struct {
	Data struct {
		Type      string          `json:"type"`
		Schema    string          `json:"schema"`
		Table     string          `json:"table"`
		Record    json.RawMessage `json:"record"`
		OldRecord json.RawMessage `json:"old_record"`
	} `json:"data"`
}

func (r *RealtimeClient) dispatch(msg *realtimeMessage) {
	var payload changePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return
	}

	r.mu.RLock()
	ch, ok := r.channels[msg.Topic]
	joined := ok && ch.joined
	handler := ChangeHandler(nil)
	if joined {
		handler = ch.handler
	}
	wanted := joined && (ch.config.Event == "*" || ch.config.Event == payload.Data.Type)
	r.mu.RUnlock()

	if !wanted || handler == nil {
		return
	}

	// Synchronous dispatch: events for a channel arrive in commit order
	// and are delivered in that order.
	handler(&ChangeEvent{
		Type:   payload.Data.Type,
		Schema: payload.Data.Schema,
		Table:  payload.Data.Table,
		Record: payload.Data.Record,
		Old:    payload.Data.OldRecord,
	})
}

func (r *RealtimeClient) heartbeat() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.conn != nil {
				r.ref++
				msg := realtimeMessage{
					Topic:   "phoenix",
					Event:   "heartbeat",
					Payload: json.RawMessage(`{}`),
					Ref:     fmt.Sprintf("%d", r.ref),
				}
				_ = r.conn.WriteJSON(msg)
			}
			r.mu.Unlock()
		}
	}
}
