package service

import (
	"context"
	"time"

	"github.com/lyzr/toolcrib/common/cache"
	"github.com/lyzr/toolcrib/common/clock"
	"github.com/lyzr/toolcrib/common/logger"
	"github.com/lyzr/toolcrib/common/models"
	"github.com/lyzr/toolcrib/common/store"
)

// Cache keys for derived dashboard reads. Any asset or reservation
// transition deletes both.
const (
	CacheKeyStatusPanel = "dashboard:status_panel"
	CacheKeySummary     = "dashboard:summary"
)

// DefaultDashboardTTL bounds how stale a cached panel can be
const DefaultDashboardTTL = time.Minute

// DashboardStore is the read surface the dashboard aggregates over
type DashboardStore interface {
	store.AssetStore
	store.ReservationStore
}

// StatusRow is one asset line of the status panel
type StatusRow struct {
	AssetID   string             `json:"assetId"`
	Name      string             `json:"name,omitempty"`
	Status    models.AssetStatus `json:"status"`
	HolderID  string             `json:"holderId,omitempty"`
	HeldForMs int64              `json:"heldForMs,omitempty"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// StatusPanel lists every asset with its live state
type StatusPanel struct {
	Assets      []StatusRow `json:"assets"`
	GeneratedAt time.Time   `json:"generatedAt"`
}

// Summary is the aggregate analytics view
type Summary struct {
	TotalAssets  int                              `json:"totalAssets"`
	ByStatus     map[models.AssetStatus]int       `json:"byStatus"`
	Reservations map[models.ReservationStatus]int `json:"openReservations"`
	GeneratedAt  time.Time                        `json:"generatedAt"`
}

// DashboardService builds and memoizes the status panel and summary
type DashboardService struct {
	store DashboardStore
	cache *cache.TTLCache
	ttl   time.Duration
	clock clock.Clock
	log   *logger.Logger
}

// NewDashboardService creates the dashboard read model. c may be nil, in
// which case every read is computed.
func NewDashboardService(st DashboardStore, c *cache.TTLCache, ttl time.Duration, clk clock.Clock, log *logger.Logger) *DashboardService {
	if ttl <= 0 {
		ttl = DefaultDashboardTTL
	}
	return &DashboardService{
		store: st,
		cache: c,
		ttl:   ttl,
		clock: clk,
		log:   log,
	}
}

// StatusPanel returns the per-asset status table
func (s *DashboardService) StatusPanel(ctx context.Context) (*StatusPanel, error) {
	var panel StatusPanel
	if s.cached(ctx, CacheKeyStatusPanel, &panel) {
		return &panel, nil
	}

	assets, err := s.store.ListAssets(ctx)
	if err != nil {
		return nil, storeError(err, "asset list")
	}

	now := s.clock.Now()
	panel = StatusPanel{Assets: make([]StatusRow, 0, len(assets)), GeneratedAt: now}
	for _, a := range assets {
		row := StatusRow{
			AssetID:   a.ID,
			Name:      a.Name,
			Status:    a.Status,
			HolderID:  a.Holder(),
			UpdatedAt: a.UpdatedAt,
		}
		if a.Status == models.AssetInUse && now.After(a.UpdatedAt) {
			row.HeldForMs = now.Sub(a.UpdatedAt).Milliseconds()
		}
		panel.Assets = append(panel.Assets, row)
	}

	s.remember(ctx, CacheKeyStatusPanel, panel)
	return &panel, nil
}

// Summary returns counts by asset status and by open reservation status
func (s *DashboardService) Summary(ctx context.Context) (*Summary, error) {
	var sum Summary
	if s.cached(ctx, CacheKeySummary, &sum) {
		return &sum, nil
	}

	assets, err := s.store.ListAssets(ctx)
	if err != nil {
		return nil, storeError(err, "asset list")
	}
	open, err := s.store.ListOpenReservations(ctx)
	if err != nil {
		return nil, storeError(err, "open reservations")
	}

	sum = Summary{
		TotalAssets:  len(assets),
		ByStatus:     make(map[models.AssetStatus]int),
		Reservations: make(map[models.ReservationStatus]int),
		GeneratedAt:  s.clock.Now(),
	}
	for _, a := range assets {
		sum.ByStatus[a.Status]++
	}
	for _, r := range open {
		sum.Reservations[r.Status]++
	}

	s.remember(ctx, CacheKeySummary, sum)
	return &sum, nil
}

func (s *DashboardService) cached(ctx context.Context, key string, out any) bool {
	if s.cache == nil {
		return false
	}
	hit, err := s.cache.GetJSON(ctx, key, out)
	if err != nil {
		s.log.Warn("dashboard cache read failed", "key", key, "error", err)
		return false
	}
	return hit
}

func (s *DashboardService) remember(ctx context.Context, key string, v any) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetJSON(ctx, key, v, s.ttl); err != nil {
		s.log.Warn("dashboard cache write failed", "key", key, "error", err)
	}
}

// invalidateDashboard drops both derived views. c may be nil.
func invalidateDashboard(ctx context.Context, c cache.Cache, log *logger.Logger) {
	if c == nil {
		return
	}
	for _, key := range []string{CacheKeyStatusPanel, CacheKeySummary} {
		if err := c.Delete(ctx, key); err != nil {
			log.Warn("failed to invalidate cache", "key", key, "error", err)
		}
	}
}

// Invalidate drops the cached views after a write that bypassed the state
// machine, such as a registration applied through the sync queue
func (s *DashboardService) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	invalidateDashboard(ctx, s.cache, s.log)
}
