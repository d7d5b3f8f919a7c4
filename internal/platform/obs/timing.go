package obs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"trip-route-service/internal/platform/logging"
)

type ctxKey string

const RequestIDKey ctxKey = "req_id"

// RequestID returns the request id stored by the HTTP middleware, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// Time logs the duration of op when the returned func runs, typically via
// defer obs.Time(ctx, "op")(&err). Durations also feed the op histogram of
// the default metrics when they have been installed.
func Time(ctx context.Context, name string) func(errp *error) {
	start := time.Now()

	return func(errp *error) {
		dur := time.Since(start)
		log := logging.FromContext(ctx)

		outcome := "ok"
		if errp != nil && *errp != nil {
			outcome = "error"
			log.Debug("op finished",
				zap.String("req_id", RequestID(ctx)),
				zap.String("op", name),
				zap.Int64("dur_ms", dur.Milliseconds()),
				zap.Error(*errp),
			)
		} else {
			log.Debug("op finished",
				zap.String("req_id", RequestID(ctx)),
				zap.String("op", name),
				zap.Int64("dur_ms", dur.Milliseconds()),
			)
		}

		if m := Default(); m != nil {
			m.OpDurations.WithLabelValues(name, outcome).Observe(dur.Seconds())
		}
	}
}
