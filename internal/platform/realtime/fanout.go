package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const channelPrefix = "intraop.events."

// envelope is the cross-instance wire form of an event. Instance tags the
// publishing process so a subscriber can ignore its own publications, and
// Origin carries the originating session id so echo suppression still
// holds for a session connected to another instance.
type envelope struct {
	Instance string `json:"instance"`
	Origin   string `json:"origin,omitempty"`
	Event    Event  `json:"event"`
}

// Fanout is the Broadcaster handed to the domain services. It always
// delivers to local hub sessions; when a Redis client is configured it
// also publishes the event so viewers connected to other instances see
// it. Redis failures are logged and never surface to the mutation path.
type Fanout struct {
	hub      *Hub
	rdb      *redis.Client
	instance string
	logger   zerolog.Logger
}

func NewFanout(hub *Hub, rdb *redis.Client, logger zerolog.Logger) *Fanout {
	return &Fanout{
		hub:      hub,
		rdb:      rdb,
		instance: uuid.New().String(),
		logger:   logger,
	}
}

// Broadcast delivers a section-scoped update to every viewer of the
// record except the originating session. It is a best-effort side effect
// of a successful write and never returns an error to the caller.
func (f *Fanout) Broadcast(recordID, section string, data interface{}, originSessionID string) {
	raw, err := json.Marshal(data)
	if err != nil {
		f.logger.Error().Err(err).Str("section", section).Msg("realtime: marshal broadcast data")
		return
	}

	event := Event{
		Type:      "update",
		RecordID:  recordID,
		Section:   section,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}

	f.hub.Deliver(event, originSessionID)

	if f.rdb == nil {
		return
	}

	env, err := json.Marshal(envelope{Instance: f.instance, Origin: originSessionID, Event: event})
	if err != nil {
		f.logger.Error().Err(err).Msg("realtime: marshal envelope")
		return
	}
	if err := f.rdb.Publish(context.Background(), channelPrefix+recordID, env).Err(); err != nil {
		f.logger.Warn().Err(err).Str("record_id", recordID).Msg("realtime: redis publish failed")
	}
}

// Run subscribes to the cross-instance event channels and re-delivers
// remote events to local sessions until ctx is cancelled. It is a no-op
// without a Redis client.
func (f *Fanout) Run(ctx context.Context) {
	if f.rdb == nil {
		return
	}

	sub := f.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				f.logger.Warn().Err(err).Msg("realtime: malformed envelope")
				continue
			}
			if env.Instance == f.instance {
				continue // our own publication, already delivered locally
			}
			if !strings.HasPrefix(msg.Channel, channelPrefix) {
				continue
			}
			f.hub.Deliver(env.Event, env.Origin)
		}
	}
}
