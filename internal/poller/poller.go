package poller

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ctf-assistant/internal/models"
	"ctf-assistant/internal/platform"
	"ctf-assistant/internal/storage"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Dispatcher announces new supports in the integration's channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, integration models.DonationIntegration, supports []platform.Support) error
}

type Config struct {
	Interval time.Duration
	PageSize int
	// MaxPages bounds how far back one check walks when many supports
	// arrived since the checkpoint.
	MaxPages int
	// SkewMargin keeps the checkpoint this far behind the local clock, so
	// supports stamped late by the platform are still picked up.
	SkewMargin time.Duration
}

// Result describes one integration check.
type Result struct {
	IntegrationID string
	Fetched       int
	Pages         int
	Announced     int
	Checkpoint    time.Time
	FirstCheck    bool
	// Truncated is set when MaxPages ran out before the checkpoint was reached.
	Truncated bool
}

// cursor is the per-integration state kept between checks. seen holds the
// supports already handled at or after the stored checkpoint; it is lost on
// restart, which can repeat an announcement but never drops one.
type cursor struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

type Poller struct {
	cfg        Config
	repo       storage.IntegrationRepository
	source     platform.Source
	dispatcher Dispatcher
	clock      Clock
	logger     *zap.Logger

	mu      sync.Mutex
	cursors map[string]*cursor
}

func New(cfg Config, repo storage.IntegrationRepository, source platform.Source, dispatcher Dispatcher, logger *zap.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 5
	}
	if cfg.SkewMargin < 0 {
		cfg.SkewMargin = 0
	}
	return &Poller{
		cfg:        cfg,
		repo:       repo,
		source:     source,
		dispatcher: dispatcher,
		clock:      realClock{},
		logger:     logger,
		cursors:    make(map[string]*cursor),
	}
}

func (p *Poller) WithClock(clock Clock) {
	p.clock = clock
}

// Run checks all active integrations every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("donation poller started", zap.Duration("interval", p.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("donation poller stopped")
			return
		case <-ticker.C:
			if err := p.CheckAll(ctx); err != nil {
				p.logger.Warn("donation poll failed", zap.Error(err))
			}
		}
	}
}

// CheckAll processes active integrations one at a time. A failing record is
// logged and does not stop the others.
func (p *Poller) CheckAll(ctx context.Context) error {
	records, err := p.repo.ListIntegrations(ctx, models.IntegrationFilter{ActiveOnly: true})
	if err != nil {
		return errors.Wrap(err, "list active integrations")
	}
	for _, record := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := p.check(ctx, record); err != nil {
			p.logger.Warn("integration check failed", zap.Object("integration", record), zap.Error(err))
		}
	}
	return nil
}

// CheckNow runs a single check outside the ticker, e.g. from an admin command.
func (p *Poller) CheckNow(ctx context.Context, id string) (Result, error) {
	record, err := p.repo.GetIntegrationByID(ctx, id)
	if err != nil {
		return Result{}, errors.Wrap(err, "load integration")
	}
	return p.check(ctx, record)
}

func (p *Poller) check(ctx context.Context, record models.DonationIntegration) (Result, error) {
	cur := p.cursorFor(record.HexID())
	cur.mu.Lock()
	defer cur.mu.Unlock()

	// Reload under the lock so a concurrent check's checkpoint is seen.
	current, err := p.repo.GetIntegrationByID(ctx, record.HexID())
	if err != nil {
		return Result{}, errors.Wrap(err, "reload integration")
	}

	result := Result{IntegrationID: current.HexID(), FirstCheck: current.NeverChecked()}
	checkStart := p.clock.Now()

	supports, pages, truncated, err := p.fetch(ctx, current)
	if err != nil {
		return result, err
	}
	result.Fetched = len(supports)
	result.Pages = pages
	result.Truncated = truncated
	if truncated {
		p.logger.Warn("support backlog deeper than page limit, older supports skipped",
			zap.Object("integration", current),
			zap.Int("pages", pages),
			zap.Int("page_size", p.cfg.PageSize),
		)
	}

	fresh := Fresh(supports, current.LastChecked, cur.seen)
	if len(fresh) > 0 {
		if err := p.dispatcher.Dispatch(ctx, current, fresh); err != nil {
			return result, errors.Wrap(err, "dispatch supports")
		}
	}
	result.Announced = len(fresh)

	checkpoint := NextCheckpoint(current.LastChecked, checkStart, p.cfg.SkewMargin)
	if err := p.repo.MarkChecked(ctx, current.HexID(), checkpoint); err != nil {
		return result, errors.Wrap(err, "mark checked")
	}
	cur.remember(supports, checkpoint)
	result.Checkpoint = checkpoint

	if result.Announced > 0 || result.FirstCheck {
		p.logger.Info("integration checked",
			zap.Object("integration", current),
			zap.Int("fetched", result.Fetched),
			zap.Int("announced", result.Announced),
			zap.Bool("first_check", result.FirstCheck),
		)
	}
	return result, nil
}

// fetch walks pages from newest to oldest until a page reaches back to the
// checkpoint, runs short, or MaxPages is used up. A first check reads one
// page only since nothing on it is announced.
func (p *Poller) fetch(ctx context.Context, record models.DonationIntegration) ([]platform.Support, int, bool, error) {
	var all []platform.Support
	for page := 1; page <= p.cfg.MaxPages; page++ {
		batch, err := p.source.FetchSupports(ctx, record.APIKey, p.cfg.PageSize, page)
		if err != nil {
			return nil, page - 1, false, errors.Wrapf(err, "fetch supports page %d", page)
		}
		all = append(all, batch...)

		if record.LastChecked == nil || len(batch) < p.cfg.PageSize || reachesBack(batch, *record.LastChecked) {
			return all, page, false, nil
		}
	}
	return all, p.cfg.MaxPages, true, nil
}

func reachesBack(batch []platform.Support, checkpoint time.Time) bool {
	for _, support := range batch {
		if support.UpdatedAt.Before(checkpoint) {
			return true
		}
	}
	return false
}

func (p *Poller) cursorFor(id string) *cursor {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.cursors[id]
	if !ok {
		cur = &cursor{seen: make(map[string]time.Time)}
		p.cursors[id] = cur
	}
	return cur
}

// remember records every fetched support at or after the checkpoint and
// forgets the ones the checkpoint has moved past.
func (c *cursor) remember(supports []platform.Support, checkpoint time.Time) {
	for key, at := range c.seen {
		if at.Before(checkpoint) {
			delete(c.seen, key)
		}
	}
	for _, support := range supports {
		if !support.UpdatedAt.Before(checkpoint) {
			c.seen[supportKey(support)] = support.UpdatedAt
		}
	}
}

// Fresh returns the supports at or after checkpoint that are not in seen,
// oldest first and without duplicates. A nil checkpoint selects nothing.
func Fresh(supports []platform.Support, checkpoint *time.Time, seen map[string]time.Time) []platform.Support {
	if checkpoint == nil {
		return nil
	}
	picked := make(map[string]struct{}, len(supports))
	var fresh []platform.Support
	for _, support := range supports {
		if support.UpdatedAt.Before(*checkpoint) {
			continue
		}
		key := supportKey(support)
		if _, ok := seen[key]; ok {
			continue
		}
		if _, ok := picked[key]; ok {
			continue
		}
		picked[key] = struct{}{}
		fresh = append(fresh, support)
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].UpdatedAt.Before(fresh[j].UpdatedAt)
	})
	return fresh
}

// NextCheckpoint is the check start floored to the platform's one-second
// resolution, minus the skew margin. It never moves backwards.
func NextCheckpoint(previous *time.Time, checkStart time.Time, skew time.Duration) time.Time {
	next := checkStart.UTC().Truncate(time.Second).Add(-skew)
	if previous != nil && previous.After(next) {
		return previous.UTC()
	}
	return next
}

func supportKey(support platform.Support) string {
	if support.OrderID != "" {
		return support.OrderID
	}
	return support.UpdatedAt.UTC().Format(time.RFC3339) + "|" + support.SupporterName + "|" + support.Amount.String() + "|" + support.Message
}
