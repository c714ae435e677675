package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-order-ledger/internal/apperr"
	"github.com/ariefcatur/go-order-ledger/internal/redisx"
)

const (
	codeInsufficient = -1
	codeUnknown      = -2
)

// Redis runs a script as one indivisible step, so the check and the
// decrement cannot interleave with another client on the same key.
var reserveScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return -2 end
local have = tonumber(v)
local want = tonumber(ARGV[1])
if have < want then return -1 end
return redis.call('DECRBY', KEYS[1], want)
`)

var releaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -2 end
return redis.call('INCRBY', KEYS[1], ARGV[1])
`)

type RedisLedger struct{ Redis redis.UniversalClient }

func stockKey(productID string) string { return fmt.Sprintf(redisx.KeyStock, productID) }

func (l *RedisLedger) Reserve(ctx context.Context, productID string, qty int) error {
	if err := checkQty(productID, qty); err != nil {
		return err
	}
	n, err := reserveScript.Run(ctx, l.Redis, []string{stockKey(productID)}, qty).Int()
	if err != nil {
		return fmt.Errorf("reserve %s: %v: %w", productID, err, apperr.ErrUnavailable)
	}
	switch n {
	case codeUnknown:
		return unknown(productID)
	case codeInsufficient:
		have, _ := l.Available(ctx, productID)
		return insufficient(productID, qty, have)
	}
	return nil
}

func (l *RedisLedger) Release(ctx context.Context, productID string, qty int) error {
	if err := checkQty(productID, qty); err != nil {
		return err
	}
	n, err := releaseScript.Run(ctx, l.Redis, []string{stockKey(productID)}, qty).Int()
	if err != nil {
		return fmt.Errorf("release %s: %v: %w", productID, err, apperr.ErrUnavailable)
	}
	if n == codeUnknown {
		return unknown(productID)
	}
	return nil
}

func (l *RedisLedger) Available(ctx context.Context, productID string) (int, error) {
	n, err := l.Redis.Get(ctx, stockKey(productID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, unknown(productID)
	}
	if err != nil {
		return 0, fmt.Errorf("available %s: %v: %w", productID, err, apperr.ErrUnavailable)
	}
	return n, nil
}

func (l *RedisLedger) Init(ctx context.Context, productID string, qty int) error {
	if qty < 0 {
		return fmt.Errorf("product %s: opening stock %d: %w", productID, qty, apperr.ErrInvalidInput)
	}
	if err := l.Redis.Set(ctx, stockKey(productID), qty, 0).Err(); err != nil {
		return fmt.Errorf("init %s: %v: %w", productID, err, apperr.ErrUnavailable)
	}
	return nil
}
