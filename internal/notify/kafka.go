package notify

import (
	"context"
	"fmt"

	kafkax "github.com/ariefcatur/go-order-ledger/internal/kafka"
)

// KafkaPublisher forwards events to the order event topic so that notifier
// instances in other processes can reach their own listeners.
type KafkaPublisher struct {
	Producer *kafkax.Producer
	Service  string
}

func (k *KafkaPublisher) Publish(ctx context.Context, target string, ev Event) error {
	env := kafkax.NewEnvelope(ev.Name, k.Service, ev.Key, target, ev.Data)
	key := []byte(ev.Key)
	if len(key) == 0 {
		key = []byte(target)
	}
	if err := k.Producer.Publish(ctx, key, kafkax.MustMarshal(env), env.Headers()...); err != nil {
		return fmt.Errorf("publish %s to kafka: %w", ev.Name, err)
	}
	return nil
}
