package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hxnam/affibot/pkg/affiliate"
	"github.com/hxnam/affibot/pkg/bus"
	"github.com/hxnam/affibot/pkg/ledger"
	"github.com/hxnam/affibot/pkg/links"
	"github.com/hxnam/affibot/pkg/logger"
	"github.com/hxnam/affibot/pkg/utils"
)

const (
	msgLocked       = "This link was just processed. Please wait %d more seconds."
	msgProcessing   = "Processing link..."
	msgExpandFailed = "Could not expand the shortened link."
	msgBadDomain    = "That is not a valid Shopee link."
	msgShortenFail  = "Could not shorten the link."
	msgShortened    = "Link shortened:\n%s"
	msgUsageProcess = "Usage: %sprocess <link>"
)

// Resolver converts a canonical link into a tracked short-link.
type Resolver interface {
	Shorten(ctx context.Context, link string) (string, error)
}

// Renderer produces a scannable image file for a URL.
type Renderer interface {
	Render(url string) (string, error)
}

type Options struct {
	CommandPrefix string
	Workers       int
	InstanceID    string
}

// Pipeline consumes inbound chat events and runs each through the
// dedup -> extract -> normalize -> resolve -> render -> reply sequence.
// Processing is linear per event; events run concurrently on a fixed pool of
// workers so one hung network call stalls only its own event.
type Pipeline struct {
	bus        *bus.MessageBus
	ledger     *ledger.Ledger
	normalizer *links.Normalizer
	resolver   Resolver
	renderer   Renderer
	prefix     string
	workers    int
	instanceID string
	now        func() time.Time
}

func New(msgBus *bus.MessageBus, ldg *ledger.Ledger, normalizer *links.Normalizer, resolver Resolver, renderer Renderer, opts Options) *Pipeline {
	prefix := opts.CommandPrefix
	if prefix == "" {
		prefix = "!"
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Pipeline{
		bus:        msgBus,
		ledger:     ldg,
		normalizer: normalizer,
		resolver:   resolver,
		renderer:   renderer,
		prefix:     prefix,
		workers:    workers,
		instanceID: opts.InstanceID,
		now:        time.Now,
	}
}

// SetClock replaces the pipeline's time source. Tests use this to position
// events inside or outside the cooldown window deterministically.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// Run consumes the bus inbound queue until ctx is cancelled. It blocks until
// all workers have drained.
func (p *Pipeline) Run(ctx context.Context) {
	logger.InfoCF("pipeline", "Pipeline started", map[string]interface{}{
		"workers":  p.workers,
		"cooldown": p.ledger.Cooldown().String(),
	})

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-p.bus.Inbound():
					if !ok {
						return
					}
					p.handleEvent(ctx, msg)
				}
			}
		}()
	}
	wg.Wait()
	logger.InfoC("pipeline", "Pipeline stopped")
}

// handleEvent is the per-event state machine. The seen-set is updated before
// any other work so a redelivered event can never run twice, and every
// failure is isolated to this event.
func (p *Pipeline) handleEvent(ctx context.Context, msg bus.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("pipeline", "Panic while handling event", map[string]interface{}{
				"event": eventKey(msg),
				"panic": fmt.Sprintf("%v", r),
			})
		}
	}()

	if !p.ledger.MarkSeen(eventKey(msg)) {
		logger.DebugCF("pipeline", "Duplicate event skipped", map[string]interface{}{
			"event": eventKey(msg),
		})
		return
	}

	logger.DebugCF("pipeline", "Event accepted", map[string]interface{}{
		"event":   eventKey(msg),
		"sender":  msg.SenderID,
		"preview": utils.Truncate(msg.Content, 50),
	})

	if strings.HasPrefix(msg.Content, p.prefix) {
		p.handleCommand(ctx, msg)
		return
	}

	found := links.Extract(msg.Content)
	if len(found) == 0 {
		return
	}
	logger.InfoCF("pipeline", "Links found", map[string]interface{}{
		"event": eventKey(msg),
		"count": len(found),
	})

	// Single-link-per-message policy: only the first candidate is processed.
	p.processLink(ctx, msg, found[0])
}

func (p *Pipeline) handleCommand(ctx context.Context, msg bus.InboundMessage) {
	rest := strings.TrimPrefix(msg.Content, p.prefix)
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "process":
		if len(fields) < 2 {
			p.reply(msg, fmt.Sprintf(msgUsageProcess, p.prefix), nil)
			return
		}
		p.processLink(ctx, msg, fields[1])
	case "status":
		p.reply(msg, p.statusReport(), nil)
	default:
		logger.DebugCF("pipeline", "Unknown command ignored", map[string]interface{}{
			"command": fields[0],
		})
	}
}

// processLink walks one link through cooldown check, normalization, affiliate
// resolution, and QR rendering. The cooldown slot is taken before any network
// step on purpose: a link that keeps failing stays locked for the window
// instead of hammering the affiliate API.
func (p *Pipeline) processLink(ctx context.Context, msg bus.InboundMessage, link string) {
	lock := p.ledger.TryLock(link, p.now())
	if !lock.Acquired {
		secs := int(lock.Remaining.Seconds())
		logger.InfoCF("pipeline", "Link inside cooldown window", map[string]interface{}{
			"link":      link,
			"remaining": secs,
		})
		p.reply(msg, fmt.Sprintf(msgLocked, secs), nil)
		return
	}

	p.reply(msg, msgProcessing, nil)

	canonical, err := p.normalizer.Normalize(ctx, link)
	if err != nil {
		var expErr *links.ExpandError
		switch {
		case errors.As(err, &expErr):
			logger.WarnCF("pipeline", "Link expansion failed", map[string]interface{}{
				"link":   link,
				"kind":   string(expErr.Kind),
				"status": expErr.Status,
				"error":  expErr.Error(),
			})
			p.reply(msg, msgExpandFailed, nil)
		case errors.Is(err, links.ErrInvalidDomain):
			logger.InfoCF("pipeline", "Link rejected: invalid domain", map[string]interface{}{
				"link": link,
			})
			p.reply(msg, msgBadDomain, nil)
		default:
			logger.ErrorCF("pipeline", "Unexpected normalization error", map[string]interface{}{
				"link":  link,
				"error": err.Error(),
			})
			p.reply(msg, msgExpandFailed, nil)
		}
		return
	}

	short, err := p.resolver.Shorten(ctx, canonical)
	if err != nil {
		if errors.Is(err, affiliate.ErrCampaignNotFound) {
			logger.ErrorCF("pipeline", "CampaignNotFound", map[string]interface{}{
				"link": canonical,
			})
		} else {
			logger.ErrorCF("pipeline", "Affiliate resolution failed", map[string]interface{}{
				"link":  canonical,
				"error": err.Error(),
			})
		}
		p.reply(msg, msgShortenFail, nil)
		return
	}

	var media []string
	imgPath, err := p.renderer.Render(short)
	if err != nil {
		// Degraded reply: the short-link still goes out, just without the code.
		logger.ErrorCF("pipeline", "QR render failed", map[string]interface{}{
			"link":  short,
			"error": err.Error(),
		})
	} else {
		media = append(media, imgPath)
	}

	logger.InfoCF("pipeline", "Link processed", map[string]interface{}{
		"original": link,
		"short":    short,
	})
	p.reply(msg, fmt.Sprintf(msgShortened, short), media)
}

func (p *Pipeline) reply(msg bus.InboundMessage, content string, media []string) {
	p.bus.PublishOutbound(bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: content,
		Media:   media,
	})
}

func (p *Pipeline) statusReport() string {
	stats := p.ledger.Stats()
	var b strings.Builder
	b.WriteString("Shopee link bot status\n\n")
	fmt.Fprintf(&b, "Instance: %s\n", p.instanceID)
	b.WriteString("Link shortening: active\n")
	b.WriteString("QR codes: active\n")
	fmt.Fprintf(&b, "Cooldown window: %s\n", p.ledger.Cooldown())
	fmt.Fprintf(&b, "Seen events: %d (evicted %d)\n", stats.SeenEvents, stats.Evicted)
	fmt.Fprintf(&b, "Links in cooldown: %d\n", stats.ActiveCooldowns)
	b.WriteString("\nCommands:\n")
	fmt.Fprintf(&b, "  %sprocess <link> - shorten a link manually\n", p.prefix)
	fmt.Fprintf(&b, "  %sstatus - show this report\n", p.prefix)
	b.WriteString("  Send a Shopee link - automatic processing")
	return b.String()
}

func eventKey(msg bus.InboundMessage) string {
	return msg.Channel + ":" + msg.MessageID
}
