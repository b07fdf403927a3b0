package redisrepo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirinyoku/cinego/internal/domain"
)

// ShowtimesPubSub fans showtime changes out to every API instance.
type ShowtimesPubSub struct {
	rdb     *redis.Client
	channel string
	now     func() time.Time
}

func NewShowtimesPubSub(rdb *redis.Client) *ShowtimesPubSub {
	return &ShowtimesPubSub{
		rdb:     rdb,
		channel: ChannelShowtimesChanged(),
		now:     time.Now,
	}
}

func (p *ShowtimesPubSub) Publish(ctx context.Context, ev domain.ShowtimeEvent) error {
	if ev.At.IsZero() {
		ev.At = p.now().UTC()
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	return p.rdb.Publish(ctx, p.channel, string(b)).Err()
}

// Subscribe blocks until ctx is done, calling handler for every well-formed message.
func (p *ShowtimesPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, ev domain.ShowtimeEvent)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var ev domain.ShowtimeEvent
			if err := json.Unmarshal([]byte(m.Payload), &ev); err == nil &&
				ev.ShowtimeID != "" {
				handler(ctx, ev)
			}
		}
	}
}
