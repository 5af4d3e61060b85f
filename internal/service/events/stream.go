package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	rplatform "github.com/open-builders/soulpull-backend/internal/platform/redis"
)

// StreamPublisher appends events to a capped Redis stream. The notification
// worker consumes it through a consumer group.
type StreamPublisher struct {
	rdb    *rplatform.Client
	stream string
	maxLen int64
	log    zerolog.Logger
}

func NewStreamPublisher(rdb *rplatform.Client, stream string, log zerolog.Logger) *StreamPublisher {
	return &StreamPublisher{rdb: rdb, stream: stream, maxLen: 100000, log: log}
}

func (p *StreamPublisher) Publish(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	body, err := json.Marshal(e)
	if err != nil {
		p.log.Error().Err(err).Str("event", string(e.Type)).Msg("marshal event")
		return
	}
	err = p.rdb.XAdd(context.WithoutCancel(ctx), &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Values: map[string]interface{}{"type": string(e.Type), "data": body},
	}).Err()
	if err != nil {
		p.log.Warn().Err(err).Str("event", string(e.Type)).Msg("stream publish failed")
	}
}

// Decode turns a stream entry written by StreamPublisher back into an Event.
func Decode(values map[string]interface{}) (Event, error) {
	var e Event
	raw, _ := values["data"].(string)
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Event{}, err
	}
	return e, nil
}
