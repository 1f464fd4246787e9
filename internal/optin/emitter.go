// Package optin emits opt-in audit events for downstream analytics. The
// engine writes these and never reads them back.
package optin

import (
	"context"
	"fmt"
	"time"

	"push-engine/internal/common/logger"
	"push-engine/internal/models"

	"github.com/redis/go-redis/v9"
)

// Stream is the redis stream audit events land on.
const Stream = "pushengine:optin-events"

// maxStreamLen caps the stream so an idle consumer cannot grow it without
// bound.
const maxStreamLen = 100000

// Emitter appends OptInEvents to a redis stream.
type Emitter struct {
	rdb    *redis.Client
	logger logger.Logger
}

func NewEmitter(rdb *redis.Client, log logger.Logger) *Emitter {
	return &Emitter{
		rdb:    rdb,
		logger: log.WithFields(map[string]interface{}{"component": "optin_emitter"}),
	}
}

// Emit appends one event. The timestamp defaults to now when unset.
func (e *Emitter) Emit(ctx context.Context, ev models.OptInEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	values := map[string]interface{}{
		"type": string(ev.Type),
		"at":   ev.At.Format(time.RFC3339Nano),
	}
	if ev.Platform != "" {
		values["platform"] = ev.Platform
	}
	if ev.Endpoint != "" {
		values["endpoint"] = ev.Endpoint
	}

	err := e.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: Stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("emit opt-in event: %w", err)
	}
	return nil
}
