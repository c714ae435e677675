package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-order-ledger/internal/kafka"
	"github.com/ariefcatur/go-order-ledger/internal/logger"
	"github.com/ariefcatur/go-order-ledger/internal/redisx"
)

// Relay is a consumer handler that hands order events read from Kafka to a
// local Publisher, normally the Hub of a notifier process.
type Relay struct {
	Out Publisher
	// Redis, when set, drops events this group has already relayed.
	Redis redis.UniversalClient
	Group string
	// Events limits which event types are relayed. Empty relays all.
	Events []string
	Log    *zap.Logger
}

// Handle never fails on a bad message, so a poison record is committed and
// skipped instead of stalling the partition.
func (r *Relay) Handle(ctx context.Context, m kafkago.Message) error {
	log := logger.OrNop(r.Log)

	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		log.Warn("skip undecodable event", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if !r.wants(env.EventType) {
		return nil
	}

	if r.Redis != nil {
		key := fmt.Sprintf(redisx.KeyDedup, r.Group, env.EventID)
		fresh, err := r.Redis.SetNX(ctx, key, "1", redisx.TTLDedup).Result()
		if err != nil {
			log.Warn("dedup check failed", zap.String("event_id", env.EventID), zap.Error(err))
		} else if !fresh {
			return nil
		}
	}

	// Producers outside this service may send indented payloads; listeners
	// get one line.
	data := []byte(env.Payload)
	var flat bytes.Buffer
	if err := json.Compact(&flat, env.Payload); err == nil {
		data = flat.Bytes()
	}
	ev := Event{Name: env.EventType, Key: env.CorrelationID, Data: data}
	if err := r.Out.Publish(ctx, env.Target, ev); err != nil {
		log.Warn("relay publish failed", zap.String("event_id", env.EventID), zap.String("target", env.Target), zap.Error(err))
	}
	return nil
}

func (r *Relay) wants(eventType string) bool {
	return len(r.Events) == 0 || slices.Contains(r.Events, eventType)
}
