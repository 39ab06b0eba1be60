package heartbeat

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/hxnam/affibot/pkg/ledger"
	"github.com/hxnam/affibot/pkg/logger"
)

const sweepAge = time.Hour

// Sweeper removes stale rendered images.
type Sweeper interface {
	SweepOlderThan(age time.Duration) int
}

// Heartbeat periodically reports ledger health and sweeps rendered QR images
// that no reply references anymore. The schedule is a cron expression checked
// once a minute.
type Heartbeat struct {
	cron    string
	gron    *gronx.Gronx
	ledger  *ledger.Ledger
	sweeper Sweeper
}

func New(cron string, ldg *ledger.Ledger, sweeper Sweeper) (*Heartbeat, error) {
	g := gronx.New()
	if !g.IsValid(cron) {
		return nil, fmt.Errorf("invalid heartbeat cron expression: %q", cron)
	}
	return &Heartbeat{
		cron:    cron,
		gron:    g,
		ledger:  ldg,
		sweeper: sweeper,
	}, nil
}

func (h *Heartbeat) Run(ctx context.Context) {
	logger.InfoCF("heartbeat", "Heartbeat started", map[string]interface{}{
		"cron": h.cron,
	})
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := h.gron.IsDue(h.cron)
			if err != nil || !due {
				continue
			}
			h.tick()
		}
	}
}

func (h *Heartbeat) tick() {
	stats := h.ledger.Stats()
	swept := 0
	if h.sweeper != nil {
		swept = h.sweeper.SweepOlderThan(sweepAge)
	}
	logger.InfoCF("heartbeat", "Ledger health", map[string]interface{}{
		"seen_events":      stats.SeenEvents,
		"active_cooldowns": stats.ActiveCooldowns,
		"evicted_total":    stats.Evicted,
		"qr_swept":         swept,
	})
}
