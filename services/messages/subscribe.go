package messages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/tokenrooms/backend/internal/database"
	"github.com/tokenrooms/backend/internal/logging"
	"github.com/tokenrooms/backend/supabase/client"
)

// subscriptionBuffer bounds how many undelivered messages a subscriber
// may lag behind before it is dropped.
const subscriptionBuffer = 64

// Subscription is a live feed of new messages in one room. C is closed
// when the subscription ends, either by Close or because the subscriber
// fell too far behind.
type Subscription struct {
	RoomID string
	C      <-chan database.Message

	broker *Broker
	ch     chan database.Message
	once   sync.Once
}

// Close ends the subscription. No messages are delivered after Close
// returns.
func (s *Subscription) Close(ctx context.Context) {
	s.once.Do(func() {
		s.broker.remove(ctx, s)
	})
}

type roomFeed struct {
	channel *client.Channel
	subs    map[*Subscription]struct{}
}

// Broker fans database change events out to per-room subscribers. It
// holds one realtime channel per room with at least one subscriber.
type Broker struct {
	realtime *client.RealtimeClient
	logger   *logging.Logger

	mu    sync.Mutex
	rooms map[string]*roomFeed
}

// NewBroker creates a message broker on top of a connected realtime
// client.
func NewBroker(realtime *client.RealtimeClient, logger *logging.Logger) *Broker {
	return &Broker{
		realtime: realtime,
		logger:   logger,
		rooms:    make(map[string]*roomFeed),
	}
}

// Subscribe starts a live feed for roomID. The first subscriber of a
// room opens the underlying realtime channel; later ones share it.
func (b *Broker) Subscribe(ctx context.Context, roomID string) (*Subscription, error) {
	roomID = strings.ToLower(roomID)

	b.mu.Lock()
	defer b.mu.Unlock()

	feed, ok := b.rooms[roomID]
	if !ok {
		channel, err := b.realtime.Subscribe(ctx, client.PostgresChangesConfig{
			Event:  "INSERT",
			Schema: "public",
			Table:  "messages",
			Filter: fmt.Sprintf("room_id=eq.%s", roomID),
		}, b.handlerFor(roomID))
		if err != nil {
			return nil, fmt.Errorf("subscribe to room %q: %w", roomID, err)
		}
		feed = &roomFeed{
			channel: channel,
			subs:    make(map[*Subscription]struct{}),
		}
		b.rooms[roomID] = feed
	}

	ch := make(chan database.Message, subscriptionBuffer)
	sub := &Subscription{RoomID: roomID, C: ch, broker: b, ch: ch}
	feed.subs[sub] = struct{}{}
	return sub, nil
}

// handlerFor builds the realtime change handler for one room. Events
// are dispatched in commit order; delivery to each subscriber must not
// block, so a subscriber that cannot keep up is disconnected instead.
func (b *Broker) handlerFor(roomID string) client.ChangeHandler {
	return func(event *client.ChangeEvent) {
		var msg database.Message
		if err := json.Unmarshal(event.Record, &msg); err != nil {
			b.logger.WithError(err).WithFields(map[string]interface{}{
				"room": roomID,
			}).Warn("Undecodable realtime message")
			return
		}

		b.mu.Lock()
		feed, ok := b.rooms[roomID]
		if !ok {
			b.mu.Unlock()
			return
		}
		var stalled []*Subscription
		for sub := range feed.subs {
			select {
			case sub.ch <- msg:
			default:
				stalled = append(stalled, sub)
			}
		}
		for _, sub := range stalled {
			b.dropLocked(feed, sub)
		}
		b.mu.Unlock()

		if len(stalled) > 0 {
			b.logger.WithFields(map[string]interface{}{
				"room":    roomID,
				"dropped": len(stalled),
			}).Warn("Dropped slow subscribers")
		}
	}
}

// remove detaches a subscription and tears down the room channel when
// it was the last one.
func (b *Broker) remove(ctx context.Context, sub *Subscription) {
	b.mu.Lock()
	feed, ok := b.rooms[sub.RoomID]
	if !ok {
		b.mu.Unlock()
		return
	}
	b.dropLocked(feed, sub)
	var channel *client.Channel
	if len(feed.subs) == 0 {
		channel = feed.channel
		delete(b.rooms, sub.RoomID)
	}
	b.mu.Unlock()

	if channel != nil {
		if err := channel.Unsubscribe(ctx); err != nil {
			b.logger.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{
				"room": sub.RoomID,
			}).Warn("Realtime unsubscribe failed")
		}
	}
}

// dropLocked removes a subscription from a feed and closes its channel.
// Callers hold b.mu.
func (b *Broker) dropLocked(feed *roomFeed, sub *Subscription) {
	if _, present := feed.subs[sub]; !present {
		return
	}
	delete(feed.subs, sub)
	close(sub.ch)
}
