package workers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	rplatform "github.com/open-builders/soulpull-backend/internal/platform/redis"
	"github.com/open-builders/soulpull-backend/internal/service/events"
)

const (
	consumerGroup = "soulpull_notifiers"
	readBlock     = 5 * time.Second
	errorBackoff  = time.Second
)

// EventHandler processes one decoded event. A returned error leaves the
// entry pending so it is retried from the group's pending list.
type EventHandler func(ctx context.Context, e events.Event) error

// RedisStreamWorker consumes the events stream through a consumer group.
type RedisStreamWorker struct {
	rdb      *rplatform.Client
	stream   string
	consumer string
	handle   EventHandler
	log      zerolog.Logger
}

func NewRedisStreamWorker(rdb *rplatform.Client, stream, consumer string, handle EventHandler, log zerolog.Logger) *RedisStreamWorker {
	return &RedisStreamWorker{rdb: rdb, stream: stream, consumer: consumer, handle: handle, log: log}
}

// Start blocks until ctx is done. Entries left pending by an earlier run are
// replayed before new ones are read.
func (w *RedisStreamWorker) Start(ctx context.Context) {
	if err := w.ensureGroup(ctx); err != nil {
		w.log.Error().Err(err).Str("stream", w.stream).Msg("create consumer group")
	}
	w.log.Info().Str("stream", w.stream).Str("consumer", w.consumer).Msg("stream worker started")

	// an ID cursor walks this consumer's pending entries; ">" reads new ones
	cursor := "0"
	for {
		if ctx.Err() != nil {
			w.log.Info().Msg("stream worker stopped")
			return
		}
		last, err := w.ReadOnce(ctx, cursor)
		if err != nil {
			if ctx.Err() == nil {
				w.log.Warn().Err(err).Msg("read stream")
				sleep(ctx, errorBackoff)
			}
			continue
		}
		if cursor != ">" {
			cursor = last
			if last == "" {
				cursor = ">"
			}
		}
	}
}

// ReadOnce reads and processes one batch after cursor and returns the ID of
// the last entry seen, or "" when there was none.
func (w *RedisStreamWorker) ReadOnce(ctx context.Context, cursor string) (string, error) {
	block := readBlock
	if cursor != ">" {
		block = -1
	}
	res, err := w.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    consumerGroup,
		Consumer: w.consumer,
		Streams:  []string{w.stream, cursor},
		Count:    10,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	last := ""
	for _, s := range res {
		for _, msg := range s.Messages {
			last = msg.ID
			w.process(ctx, msg)
		}
	}
	return last, nil
}

// ensureGroup creates the stream and group; an existing group is fine.
func (w *RedisStreamWorker) ensureGroup(ctx context.Context) error {
	err := w.rdb.XGroupCreateMkStream(ctx, w.stream, consumerGroup, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (w *RedisStreamWorker) process(ctx context.Context, msg redis.XMessage) {
	e, err := events.Decode(msg.Values)
	if err != nil {
		// undecodable entries are dropped, retrying can not fix them
		w.log.Error().Err(err).Str("id", msg.ID).Msg("decode event")
		w.ack(ctx, msg.ID)
		return
	}
	if err := w.handle(ctx, e); err != nil {
		w.log.Warn().Err(err).Str("id", msg.ID).Str("event", string(e.Type)).Msg("handle event")
		return
	}
	w.ack(ctx, msg.ID)
}

func (w *RedisStreamWorker) ack(ctx context.Context, id string) {
	if err := w.rdb.XAck(ctx, w.stream, consumerGroup, id).Err(); err != nil {
		w.log.Warn().Err(err).Str("id", id).Msg("ack event")
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
