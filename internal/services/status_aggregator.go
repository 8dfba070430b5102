package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"cashflow-suite/settings/internal/common"
	"cashflow-suite/settings/internal/constants"
	"cashflow-suite/settings/internal/logging"
	"cashflow-suite/settings/internal/metrics"
	"cashflow-suite/settings/internal/models"
	"cashflow-suite/settings/internal/models/dtos"
	"cashflow-suite/settings/internal/models/entities"
	"cashflow-suite/settings/internal/registry"
)

// StatusSource is the part of the store the aggregator reads.
type StatusSource interface {
	ListStatuses(ctx context.Context, family registry.Family, ownerScope string) ([]entities.ProviderStatusRow, error)
}

var _ StatusSource = (*ConfigurationStore)(nil)

// aggregationTimeout bounds one shared recompute of a family summary.
const aggregationTimeout = 10 * time.Second

// StatusAggregator joins the registry with stored states into per-family
// summaries, behind a read-through cache that store mutations invalidate.
type StatusAggregator struct {
	registry *registry.Registry
	source   StatusSource
	cache    common.CacheInterface
	ttl      time.Duration
	metrics  *metrics.MetricsRegistry
	log      *zap.SugaredLogger

	group singleflight.Group

	// mu orders cache writes against invalidations. A recompute only caches
	// its result if no invalidation bumped the generation in the meantime.
	mu          sync.Mutex
	generations map[string]uint64

	unsubscribe func()
	now         func() time.Time
}

func NewStatusAggregator(
	reg *registry.Registry,
	source StatusSource,
	cache common.CacheInterface,
	ttl time.Duration,
	bus common.InvalidationBus,
	m *metrics.MetricsRegistry,
) *StatusAggregator {
	if ttl <= 0 {
		ttl = constants.DefaultStatusCacheTTL
	}
	a := &StatusAggregator{
		registry:    reg,
		source:      source,
		cache:       cache,
		ttl:         ttl,
		metrics:     m,
		log:         logging.ForComponent("status_aggregator"),
		generations: map[string]uint64{},
		now:         common.NowUTC,
	}
	if bus != nil {
		a.unsubscribe = bus.Subscribe(a.onInvalidation)
	}
	return a
}

// Close detaches the aggregator from the invalidation bus.
func (a *StatusAggregator) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
}

func statusCacheKey(family registry.Family, ownerScope string) string {
	return fmt.Sprintf("%s%s:%s", constants.CachePrefixStatusSummary, family, ownerScope)
}

func (a *StatusAggregator) onInvalidation(ev common.InvalidationEvent) {
	a.Invalidate(registry.Family(ev.Family), ev.OwnerScope)
}

// Invalidate drops the cached summary of one family and owner.
func (a *StatusAggregator) Invalidate(family registry.Family, ownerScope string) {
	key := statusCacheKey(family, ownerScope)
	a.mu.Lock()
	a.generations[key]++
	a.cache.Delete(key)
	a.mu.Unlock()
}

func (a *StatusAggregator) generation(key string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generations[key]
}

// storeIfCurrent caches data unless the key was invalidated after gen was read.
func (a *StatusAggregator) storeIfCurrent(key string, gen uint64, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.generations[key] == gen {
		a.cache.Set(key, data, a.ttl)
	}
}

// Summarize returns the status summary of one family for one owner. Every
// registry provider appears, configured or not.
func (a *StatusAggregator) Summarize(ctx context.Context, family registry.Family, ownerScope string) (*dtos.StatusSummary, error) {
	if _, err := registry.ParseFamily(string(family)); err != nil {
		return nil, newSettingsError(constants.ErrCodeUnknownFamily, err)
	}

	key := statusCacheKey(family, ownerScope)
	if data, ok := a.cache.Get(key); ok {
		var summary dtos.StatusSummary
		if err := json.Unmarshal(data, &summary); err == nil {
			a.count(true, family)
			return &summary, nil
		}
		a.log.Warnw("Dropping unreadable cached summary", "key", key)
	}
	a.count(false, family)

	gen := a.generation(key)
	// The recompute is shared by every caller that joins the flight, so it
	// must not die with the caller that started it.
	flight := a.group.DoChan(key+"#"+strconv.FormatUint(gen, 10), func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), aggregationTimeout)
		defer cancel()

		rows, err := a.source.ListStatuses(loadCtx, family, ownerScope)
		if err != nil {
			return nil, err
		}
		summary := a.build(family, ownerScope, rows)
		if data, err := json.Marshal(summary); err == nil {
			a.storeIfCurrent(key, gen, data)
		}
		return summary, nil
	})

	var res singleflight.Result
	select {
	case res = <-flight:
	case <-ctx.Done():
		return nil, newSettingsError(constants.ErrCodeAggregationFailed, ctx.Err())
	}
	if res.Err != nil {
		a.log.Errorw("Failed to summarize provider status", "family", family, "owner_scope", ownerScope, "error", res.Err)
		return nil, newSettingsError(constants.ErrCodeAggregationFailed, res.Err)
	}

	// Callers sharing one flight must not share the slice.
	shared := res.Val.(*dtos.StatusSummary)
	summary := *shared
	summary.Providers = append([]dtos.ProviderStatus(nil), shared.Providers...)
	return &summary, nil
}

// SummarizeAll summarizes every family concurrently.
func (a *StatusAggregator) SummarizeAll(ctx context.Context, ownerScope string) (*dtos.GlobalStatusSummary, error) {
	families := a.registry.Families()
	summaries := make([]dtos.StatusSummary, len(families))

	g, gctx := errgroup.WithContext(ctx)
	for i, family := range families {
		g.Go(func() error {
			s, err := a.Summarize(gctx, family, ownerScope)
			if err != nil {
				return err
			}
			summaries[i] = *s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	global := &dtos.GlobalStatusSummary{OwnerScope: ownerScope, Families: summaries}
	for _, s := range summaries {
		global.Totals.Add(s.Counts)
	}
	return global, nil
}

func (a *StatusAggregator) build(family registry.Family, ownerScope string, rows []entities.ProviderStatusRow) *dtos.StatusSummary {
	byProvider := make(map[string]entities.ProviderStatusRow, len(rows))
	for _, r := range rows {
		byProvider[r.ProviderID] = r
	}

	descriptors := a.registry.List(family)
	summary := &dtos.StatusSummary{
		Family:      string(family),
		OwnerScope:  ownerScope,
		Providers:   make([]dtos.ProviderStatus, 0, len(descriptors)),
		GeneratedAt: a.now(),
	}

	for _, d := range descriptors {
		status := dtos.ProviderStatus{
			ProviderID:  d.ID,
			DisplayName: d.DisplayName,
			State:       string(models.ConfigStateUnconfigured),
		}
		if row, ok := byProvider[d.ID]; ok {
			state := models.ConfigState(row.State)
			status.State = string(state)
			status.Configured = state != models.ConfigStateUnconfigured
			status.Verified = state == models.ConfigStateVerified || state == models.ConfigStateActive
			status.Active = state == models.ConfigStateActive
			status.LastVerifiedAt = row.LastVerifiedAt
			if row.LastError != nil {
				status.LastError = *row.LastError
			}
		}

		summary.Counts.Total++
		if status.Configured {
			summary.Counts.Configured++
		}
		if status.Verified {
			summary.Counts.Verified++
		}
		if status.Active {
			summary.Counts.Active++
		}
		if status.State == string(models.ConfigStateError) {
			summary.Counts.Error++
		}
		summary.Providers = append(summary.Providers, status)
	}
	return summary
}

func (a *StatusAggregator) count(hit bool, family registry.Family) {
	if a.metrics == nil {
		return
	}
	if hit {
		a.metrics.CacheHitsTotal.WithLabelValues(string(family)).Inc()
	} else {
		a.metrics.CacheMissesTotal.WithLabelValues(string(family)).Inc()
	}
}
