package store

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/pmrelay/pmrelay/internal/health"
)

// probeKey is never written; loading it only proves the backend answers.
var probeKey = Key{Bot: "0", Kind: KindDirectory, ChatID: 0}

// NewStoreHealthChecker monitors docs. Stores implementing health.HealthPinger
// are pinged directly; others are probed with a Load that may miss.
func NewStoreHealthChecker(docs Documents, log zerolog.Logger, probeTimeout time.Duration) *health.PingChecker {
	if p, ok := docs.(health.HealthPinger); ok {
		return health.NewPingChecker("store", p, log, probeTimeout)
	}
	probe := health.PingFunc(func(ctx context.Context) error {
		_, err := docs.Load(ctx, probeKey)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return nil
	})
	return health.NewPingChecker("store", probe, log, probeTimeout)
}
