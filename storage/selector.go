package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"headersmanager/logger"
	"headersmanager/models"
)

// DefaultQuotaBytes is the hard quota of the synced backend.
const DefaultQuotaBytes = 102400

// DefaultThresholdRatio is the share of the quota above which writes move to local storage.
const DefaultThresholdRatio = 0.8

// Selector routes reads and writes to whichever backend is authoritative and moves data
// from the synced backend to the local one when it no longer fits.
//
// Listeners are called synchronously and must not call back into the Selector from the
// same goroutine.
type Selector struct {
	primary   Backend
	secondary Backend
	quota     int64
	threshold float64

	opMu        sync.Mutex
	initialized bool
	current     atomic.Value // Area
	suppress    atomic.Bool

	lmu       sync.RWMutex
	listeners []ChangeFunc
}

// Option configures a Selector.
type Option func(*Selector)

// WithQuota sets the primary backend quota in bytes.
func WithQuota(bytes int64) Option {
	return func(s *Selector) {
		if bytes > 0 {
			s.quota = bytes
		}
	}
}

// WithThresholdRatio sets the share of the quota that triggers migration.
func WithThresholdRatio(ratio float64) Option {
	return func(s *Selector) {
		if ratio > 0 && ratio <= 1 {
			s.threshold = ratio
		}
	}
}

// NewSelector wires primary (synced) and secondary (local) backends together.
func NewSelector(primary, secondary Backend, opts ...Option) *Selector {
	s := &Selector{
		primary:   primary,
		secondary: secondary,
		quota:     DefaultQuotaBytes,
		threshold: DefaultThresholdRatio,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(AreaSync)
	primary.Watch(s.route)
	secondary.Watch(s.route)
	return s
}

// Backend returns the currently authoritative area.
func (s *Selector) Backend() Area {
	return s.current.Load().(Area)
}

// ThresholdBytes is the size above which data does not stay in the primary backend.
func (s *Selector) ThresholdBytes() int64 {
	return int64(float64(s.quota) * s.threshold)
}

// AddChangeListener registers fn for user-data changes from the authoritative backend.
func (s *Selector) AddChangeListener(fn ChangeFunc) {
	s.lmu.Lock()
	s.listeners = append(s.listeners, fn)
	s.lmu.Unlock()
}

func (s *Selector) route(area Area, changes Changes) {
	if s.suppress.Load() || area != s.Backend() {
		return
	}
	s.dispatch(area, changes)
}

func (s *Selector) dispatch(area Area, changes Changes) {
	user := make(Changes, len(changes))
	for k, c := range changes {
		if !models.IsBookkeepingKey(k) {
			user[k] = c
		}
	}
	if len(user) == 0 {
		return
	}
	s.lmu.RLock()
	listeners := append([]ChangeFunc(nil), s.listeners...)
	s.lmu.RUnlock()
	for _, fn := range listeners {
		fn(area, user)
	}
}

// Init loads the persisted selection and runs the one-time migration check. Every other
// method calls it, so calling it explicitly is only needed to migrate eagerly.
func (s *Selector) Init(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.initLocked(ctx)
}

func (s *Selector) initLocked(ctx context.Context) error {
	if s.initialized {
		return nil
	}
	s.initialized = true

	meta, err := s.secondary.Get(ctx, []string{models.StorageTypeKey, models.MigrationKey})
	if err != nil {
		logger.Error("Storage selector: reading bookkeeping failed, defaulting to local storage: %v", err)
		s.current.Store(AreaLocal)
		return nil
	}
	if raw, ok := meta[models.StorageTypeKey]; ok {
		var area Area
		if err := json.Unmarshal(raw, &area); err == nil && area == AreaLocal {
			s.current.Store(AreaLocal)
		}
	}

	if _, done := meta[models.MigrationKey]; !done {
		s.initialMigrationLocked(ctx)
		if err := s.secondary.Set(ctx, Items{models.MigrationKey: json.RawMessage("true")}); err != nil {
			return fmt.Errorf("marking initial migration done: %w", err)
		}
	}
	logger.Info("Storage selector initialized with storage type: %s", s.Backend())
	return nil
}

func (s *Selector) initialMigrationLocked(ctx context.Context) {
	if s.Backend() != AreaSync {
		return
	}
	existing, err := s.primary.Get(ctx, nil)
	if err != nil {
		logger.Warn("Storage selector: initial migration check failed: %v", err)
		return
	}
	if len(existing) == 0 {
		return
	}
	size := EstimateSize(existing)
	if size <= s.ThresholdBytes() {
		return
	}
	logger.Info("Existing sync data (%d bytes) is over the %d byte threshold, migrating to local storage", size, s.ThresholdBytes())
	if err := s.migrateToSecondaryLocked(ctx, existing, nil); err != nil {
		logger.Error("Storage selector: initial migration failed: %v", err)
	}
}

func (s *Selector) ensureInit(ctx context.Context) {
	if err := s.initLocked(ctx); err != nil {
		logger.Error("Storage selector: %v", err)
	}
}

func (s *Selector) setAreaLocked(ctx context.Context, area Area) error {
	s.current.Store(area)
	raw, _ := json.Marshal(area)
	if err := s.secondary.Set(ctx, Items{models.StorageTypeKey: raw}); err != nil {
		return fmt.Errorf("persisting storage type %s: %w", area, err)
	}
	return nil
}

func userItems(items Items) Items {
	out := make(Items, len(items))
	for k, v := range items {
		if !models.IsBookkeepingKey(k) {
			out[k] = v
		}
	}
	return out
}

func userKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !models.IsBookkeepingKey(k) {
			out = append(out, k)
		}
	}
	return out
}

// Get reads keys from the authoritative backend, filling keys it lacks from the other one.
// nil keys returns everything.
func (s *Selector) Get(ctx context.Context, keys []string) (Items, error) {
	if keys != nil {
		keys = userKeys(keys)
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.ensureInit(ctx)

	cur, other := s.primary, s.secondary
	if s.Backend() == AreaLocal {
		cur, other = s.secondary, s.primary
	}

	res, err := cur.Get(ctx, keys)
	if err != nil {
		if cur == s.secondary {
			return nil, fmt.Errorf("storage get failed: %w", err)
		}
		logger.Error("Storage get on %s failed, falling back to local storage: %v", cur.Area(), err)
		res, ferr := s.secondary.Get(ctx, keys)
		if ferr != nil {
			return nil, fmt.Errorf("storage get failed: %v; fallback: %w", err, ferr)
		}
		return userItems(res), nil
	}
	res = userItems(res)

	var missing []string
	if keys != nil {
		for _, k := range keys {
			if _, ok := res[k]; !ok {
				missing = append(missing, k)
			}
		}
		if len(missing) == 0 {
			return res, nil
		}
	}

	extra, err := other.Get(ctx, missing)
	if err != nil {
		logger.Debug("Storage get: reading missing keys from %s failed: %v", other.Area(), err)
		return res, nil
	}
	for k, v := range userItems(extra) {
		if _, ok := res[k]; !ok || other == s.primary {
			res[k] = v
		}
	}
	return res, nil
}

// Set writes items, migrating to the local backend when they do not fit the synced one.
func (s *Selector) Set(ctx context.Context, items Items) error {
	items = userItems(items)
	if len(items) == 0 {
		return nil
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.ensureInit(ctx)

	if s.Backend() == AreaLocal {
		if err := s.secondary.Set(ctx, items); err != nil {
			return fmt.Errorf("storage set failed: %w", err)
		}
		return nil
	}

	if size := EstimateSize(items); size > s.ThresholdBytes() {
		logger.Info("Data size (%d bytes) too large for sync storage, using local storage", size)
		return s.migrateToSecondaryLocked(ctx, nil, items)
	}

	err := s.primary.Set(ctx, items)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrQuotaExceeded) {
		logger.Warn("Sync storage quota exceeded, migrating to local storage")
		return s.migrateToSecondaryLocked(ctx, nil, items)
	}

	logger.Error("Storage set on sync failed, falling back to local storage: %v", err)
	s.suppress.Store(true)
	ferr := s.secondary.Set(ctx, items)
	if ferr == nil {
		if aerr := s.setAreaLocked(ctx, AreaLocal); aerr != nil {
			logger.Error("Storage selector: %v", aerr)
		}
	}
	s.suppress.Store(false)
	if ferr != nil {
		return fmt.Errorf("storage set failed: %v; fallback: %w", err, ferr)
	}
	s.dispatch(AreaLocal, diff(nil, items))
	return nil
}

// migrateToSecondaryLocked moves the primary contents plus incoming into the secondary
// backend, clears the primary and flips the selection. existing may be nil.
func (s *Selector) migrateToSecondaryLocked(ctx context.Context, existing, incoming Items) error {
	if existing == nil {
		var err error
		existing, err = s.primary.Get(ctx, nil)
		if err != nil {
			logger.Error("Reading sync storage before migration failed: %v", err)
			existing = Items{}
		}
	}
	existing = userItems(existing)
	merged := make(Items, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}

	s.suppress.Store(true)
	if err := s.secondary.Set(ctx, merged); err != nil {
		s.suppress.Store(false)
		return fmt.Errorf("migrating to local storage: %w", err)
	}
	if err := s.primary.Clear(ctx); err != nil {
		logger.Error("Clearing sync storage after migration failed, data is duplicated until the next write: %v", err)
	}
	if err := s.setAreaLocked(ctx, AreaLocal); err != nil {
		logger.Error("Storage selector: %v", err)
	}
	s.suppress.Store(false)
	logger.Info("Migrated %d keys from sync to local storage", len(merged))

	if len(incoming) > 0 {
		s.dispatch(AreaLocal, diff(existing, incoming))
	}
	return nil
}

// Remove deletes keys. While on the synced backend both backends are cleaned.
func (s *Selector) Remove(ctx context.Context, keys []string) error {
	keys = userKeys(keys)
	if len(keys) == 0 {
		return nil
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.ensureInit(ctx)

	if s.Backend() == AreaLocal {
		if err := s.secondary.Remove(ctx, keys); err != nil {
			return fmt.Errorf("storage remove failed: %w", err)
		}
		return nil
	}

	perr := s.primary.Remove(ctx, keys)
	serr := s.secondary.Remove(ctx, keys)
	if perr != nil && serr != nil {
		return fmt.Errorf("storage remove failed: %v; fallback: %w", perr, serr)
	}
	if perr != nil {
		logger.Error("Storage remove on sync failed: %v", perr)
	}
	return nil
}

// Clear wipes both backends and resets the selection to the synced backend.
func (s *Selector) Clear(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.initialized = true

	perr := s.primary.Clear(ctx)
	serr := s.secondary.Clear(ctx)
	s.current.Store(AreaSync)

	raw, _ := json.Marshal(AreaSync)
	meta := Items{models.StorageTypeKey: raw, models.MigrationKey: json.RawMessage("true")}
	if err := s.secondary.Set(ctx, meta); err != nil {
		logger.Error("Storage clear: persisting bookkeeping failed: %v", err)
	}
	if perr != nil && serr != nil {
		return fmt.Errorf("storage clear failed: %v; %w", perr, serr)
	}
	if perr != nil {
		logger.Error("Storage clear on sync failed: %v", perr)
	}
	if serr != nil {
		logger.Error("Storage clear on local failed: %v", serr)
	}
	return nil
}

// UsageInfo reports how much of each backend is used and what the user could do about it.
func (s *Selector) UsageInfo(ctx context.Context) (models.UsageInfo, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.ensureInit(ctx)

	primaryBytes, perr := s.primary.BytesInUse(ctx)
	secondaryBytes, serr := s.secondary.BytesInUse(ctx)
	if perr != nil && serr != nil {
		return models.UsageInfo{}, fmt.Errorf("reading storage usage: %v; %w", perr, serr)
	}

	area := s.Backend()
	info := models.UsageInfo{
		Backend:        string(area),
		PrimaryBytes:   primaryBytes,
		SecondaryBytes: secondaryBytes,
		QuotaBytes:     s.quota,
		PercentUsed:    float64(primaryBytes) / float64(s.quota) * 100,
		RemainingBytes: s.quota - primaryBytes,
	}
	info.BytesUsed = primaryBytes
	if area == AreaLocal {
		info.BytesUsed = secondaryBytes
	}
	info.Recommendations = s.recommendations(area, primaryBytes)
	return info, nil
}

func (s *Selector) recommendations(area Area, primaryBytes int64) []string {
	recs := []string{}
	if primaryBytes > s.ThresholdBytes() {
		recs = append(recs, "Consider reducing the number of header rules or websites to stay within sync storage limits")
	}
	if area == AreaLocal {
		recs = append(recs, "Using local storage - settings will not sync across devices")
		if float64(primaryBytes) < float64(s.quota)*0.5 {
			recs = append(recs, "Data size reduced - you could migrate back to sync storage for cross-device sync")
		}
	}
	return recs
}

// MigrateToPrimary moves data from the local backend back to the synced one.
func (s *Selector) MigrateToPrimary(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.ensureInit(ctx)

	if s.Backend() == AreaSync {
		return ErrAlreadyPrimary
	}

	data, err := s.secondary.Get(ctx, nil)
	if err != nil {
		return fmt.Errorf("reading local storage: %w", err)
	}
	data = userItems(data)
	if size := EstimateSize(data); size > s.ThresholdBytes() {
		return fmt.Errorf("%w: data size (%d bytes) exceeds %d bytes", ErrCapacity, size, s.ThresholdBytes())
	}

	s.suppress.Store(true)
	defer s.suppress.Store(false)

	if err := s.primary.Clear(ctx); err != nil {
		return fmt.Errorf("clearing sync storage: %w", err)
	}
	if len(data) > 0 {
		if err := s.primary.Set(ctx, data); err != nil {
			if errors.Is(err, ErrQuotaExceeded) {
				return fmt.Errorf("%w: %v", ErrCapacity, err)
			}
			return fmt.Errorf("writing sync storage: %w", err)
		}
		if err := s.secondary.Remove(ctx, data.Keys()); err != nil {
			logger.Error("Removing migrated keys from local storage failed: %v", err)
		}
	}
	if err := s.setAreaLocked(ctx, AreaSync); err != nil {
		logger.Error("Storage selector: %v", err)
	}
	s.suppress.Store(false)
	logger.Info("Migrated %d keys from local back to sync storage", len(data))

	if len(data) > 0 {
		s.dispatch(AreaSync, diff(nil, data))
	}
	return nil
}
