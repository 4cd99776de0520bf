package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"headersmanager/models"
)

type recorder struct {
	mu     sync.Mutex
	events []recordedChange
}

type recordedChange struct {
	area    Area
	changes Changes
}

func (r *recorder) record(area Area, changes Changes) {
	r.mu.Lock()
	r.events = append(r.events, recordedChange{area: area, changes: changes})
	r.mu.Unlock()
}

func (r *recorder) snapshot() []recordedChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedChange(nil), r.events...)
}

func newTestSelector(t *testing.T) (*Selector, *MemoryBackend, *MemoryBackend) {
	t.Helper()
	primary := NewMemoryBackend(AreaSync, DefaultQuotaBytes)
	secondary := NewMemoryBackend(AreaLocal, 0)
	return NewSelector(primary, secondary), primary, secondary
}

func rawString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func bigValue(n int) json.RawMessage {
	return rawString(strings.Repeat("x", n))
}

func TestSelectorSmallWriteStaysOnSync(t *testing.T) {
	ctx := context.Background()
	sel, primary, secondary := newTestSelector(t)

	items := Items{models.WebsitesKey: json.RawMessage(`[]`), models.HeaderRulesKey: json.RawMessage(`[{"id":"a"}]`)}
	if err := sel.Set(ctx, items); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if sel.Backend() != AreaSync {
		t.Fatalf("expected sync backend, got %s", sel.Backend())
	}
	got, _ := primary.Get(ctx, []string{models.HeaderRulesKey})
	if string(got[models.HeaderRulesKey]) != `[{"id":"a"}]` {
		t.Errorf("primary did not receive write: %s", got[models.HeaderRulesKey])
	}
	local, _ := secondary.Get(ctx, []string{models.HeaderRulesKey})
	if len(local) != 0 {
		t.Errorf("secondary should not hold user data, got %v", local)
	}

	read, err := sel.Get(ctx, models.ConfigKeys)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(read[models.HeaderRulesKey]) != `[{"id":"a"}]` || string(read[models.WebsitesKey]) != `[]` {
		t.Errorf("Get returned unexpected data: %v", read)
	}
}

func TestSelectorLargeWriteMigratesToLocal(t *testing.T) {
	ctx := context.Background()
	sel, primary, secondary := newTestSelector(t)

	if err := sel.Set(ctx, Items{models.WebsitesKey: json.RawMessage(`["small"]`)}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// ~85 KB, above the 81920 byte threshold but below the quota.
	large := bigValue(85 * 1024)
	if err := sel.Set(ctx, Items{models.HeaderRulesKey: large}); err != nil {
		t.Fatalf("Set large failed: %v", err)
	}
	if sel.Backend() != AreaLocal {
		t.Fatalf("expected local backend after large write, got %s", sel.Backend())
	}

	inPrimary, _ := primary.Get(ctx, nil)
	if len(inPrimary) != 0 {
		t.Errorf("primary should be cleared after migration, has %d keys", len(inPrimary))
	}
	inLocal, _ := secondary.Get(ctx, models.ConfigKeys)
	if string(inLocal[models.WebsitesKey]) != `["small"]` {
		t.Errorf("existing sync data not carried to local: %s", inLocal[models.WebsitesKey])
	}
	if string(inLocal[models.HeaderRulesKey]) != string(large) {
		t.Errorf("large value not written to local")
	}

	meta, _ := secondary.Get(ctx, []string{models.StorageTypeKey})
	if string(meta[models.StorageTypeKey]) != `"local"` {
		t.Errorf("storage type not persisted, got %s", meta[models.StorageTypeKey])
	}

	read, err := sel.Get(ctx, []string{models.HeaderRulesKey})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(read[models.HeaderRulesKey]) != string(large) {
		t.Errorf("Get after migration returned different data")
	}
}

func TestSelectorQuotaErrorMigrates(t *testing.T) {
	ctx := context.Background()
	sel, primary, _ := newTestSelector(t)
	if err := sel.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	primary.FailNext(ErrQuotaExceeded)
	if err := sel.Set(ctx, Items{models.WebsitesKey: json.RawMessage(`[1]`)}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if sel.Backend() != AreaLocal {
		t.Fatalf("expected local after quota error, got %s", sel.Backend())
	}
	read, _ := sel.Get(ctx, []string{models.WebsitesKey})
	if string(read[models.WebsitesKey]) != `[1]` {
		t.Errorf("data lost after quota migration: %v", read)
	}
}

func TestSelectorOtherWriteErrorFallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	sel, primary, secondary := newTestSelector(t)
	rec := &recorder{}
	sel.AddChangeListener(rec.record)
	if err := sel.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	primary.FailNext(errors.New("network down"))
	if err := sel.Set(ctx, Items{models.WebsitesKey: json.RawMessage(`[2]`)}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if sel.Backend() != AreaLocal {
		t.Fatalf("expected local after fallback, got %s", sel.Backend())
	}
	local, _ := secondary.Get(ctx, []string{models.WebsitesKey})
	if string(local[models.WebsitesKey]) != `[2]` {
		t.Errorf("fallback write missing: %v", local)
	}
	events := rec.snapshot()
	if len(events) != 1 || events[0].area != AreaLocal || !events[0].changes.Has(models.WebsitesKey) {
		t.Errorf("expected one local change event, got %+v", events)
	}
}

func TestSelectorGetMergesMissingKeys(t *testing.T) {
	ctx := context.Background()
	sel, primary, secondary := newTestSelector(t)

	_ = primary.Set(ctx, Items{models.HeaderRulesKey: json.RawMessage(`["sync"]`)})
	_ = secondary.Set(ctx, Items{
		models.HeaderRulesKey: json.RawMessage(`["local"]`),
		models.WebsitesKey:    json.RawMessage(`["local-only"]`),
	})

	got, err := sel.Get(ctx, models.ConfigKeys)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got[models.HeaderRulesKey]) != `["sync"]` {
		t.Errorf("primary value should win, got %s", got[models.HeaderRulesKey])
	}
	if string(got[models.WebsitesKey]) != `["local-only"]` {
		t.Errorf("missing key not filled from secondary, got %s", got[models.WebsitesKey])
	}
}

func TestSelectorGetFallsBackOnPrimaryError(t *testing.T) {
	ctx := context.Background()
	sel, primary, secondary := newTestSelector(t)
	if err := sel.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	_ = secondary.Set(ctx, Items{models.WebsitesKey: json.RawMessage(`["fallback"]`)})

	primary.FailNext(errors.New("unreachable"))
	got, err := sel.Get(ctx, []string{models.WebsitesKey})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got[models.WebsitesKey]) != `["fallback"]` {
		t.Errorf("expected fallback data, got %v", got)
	}
}

func TestSelectorInitialMigrationRunsOnce(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryBackend(AreaSync, 0)
	secondary := NewMemoryBackend(AreaLocal, 0)
	_ = primary.Set(ctx, Items{models.HeaderRulesKey: bigValue(90 * 1024)})

	sel := NewSelector(primary, secondary)
	if err := sel.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if sel.Backend() != AreaLocal {
		t.Fatalf("oversized sync data should migrate on first init, got %s", sel.Backend())
	}
	meta, _ := secondary.Get(ctx, []string{models.MigrationKey})
	if _, ok := meta[models.MigrationKey]; !ok {
		t.Fatalf("migration marker not written")
	}

	// A fresh selector over the same backends must not migrate again even though the
	// sync backend holds oversized data once more.
	_ = secondary.Set(ctx, Items{models.StorageTypeKey: rawString("sync")})
	_ = primary.Set(ctx, Items{models.HeaderRulesKey: bigValue(90 * 1024)})
	second := NewSelector(primary, secondary)
	if err := second.Init(ctx); err != nil {
		t.Fatalf("second Init failed: %v", err)
	}
	if second.Backend() != AreaSync {
		t.Errorf("initial migration ran twice")
	}
}

func TestSelectorInitRestoresPersistedState(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryBackend(AreaSync, 0)
	secondary := NewMemoryBackend(AreaLocal, 0)
	_ = secondary.Set(ctx, Items{
		models.StorageTypeKey: rawString("local"),
		models.MigrationKey:   json.RawMessage("true"),
	})

	sel := NewSelector(primary, secondary)
	if _, err := sel.Get(ctx, models.ConfigKeys); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sel.Backend() != AreaLocal {
		t.Errorf("expected persisted local state, got %s", sel.Backend())
	}
}

func TestSelectorInitFailureDefaultsToLocal(t *testing.T) {
	ctx := context.Background()
	sel, _, secondary := newTestSelector(t)
	secondary.FailNext(errors.New("disk error"))
	if err := sel.Init(ctx); err != nil {
		t.Fatalf("Init should not fail: %v", err)
	}
	if sel.Backend() != AreaLocal {
		t.Errorf("expected local after failed init, got %s", sel.Backend())
	}
}

func TestSelectorRemoveOnSyncCleansBoth(t *testing.T) {
	ctx := context.Background()
	sel, primary, secondary := newTestSelector(t)
	_ = primary.Set(ctx, Items{models.WebsitesKey: json.RawMessage(`[1]`)})
	_ = secondary.Set(ctx, Items{models.WebsitesKey: json.RawMessage(`[2]`)})

	if err := sel.Remove(ctx, []string{models.WebsitesKey}); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	p, _ := primary.Get(ctx, []string{models.WebsitesKey})
	s, _ := secondary.Get(ctx, []string{models.WebsitesKey})
	if len(p) != 0 || len(s) != 0 {
		t.Errorf("key should be removed from both backends: primary=%v secondary=%v", p, s)
	}
}

func TestSelectorRemoveFailsOnlyWhenBothFail(t *testing.T) {
	ctx := context.Background()
	sel, primary, secondary := newTestSelector(t)
	if err := sel.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	primary.FailNext(errors.New("p"))
	if err := sel.Remove(ctx, []string{models.WebsitesKey}); err != nil {
		t.Errorf("single failure should not surface: %v", err)
	}

	primary.FailNext(errors.New("p"))
	secondary.FailNext(errors.New("s"))
	if err := sel.Remove(ctx, []string{models.WebsitesKey}); err == nil {
		t.Errorf("expected error when both backends fail")
	}
}

func TestSelectorClearResetsToSync(t *testing.T) {
	ctx := context.Background()
	sel, _, secondary := newTestSelector(t)
	if err := sel.Set(ctx, Items{models.HeaderRulesKey: bigValue(85 * 1024)}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if sel.Backend() != AreaLocal {
		t.Fatalf("precondition: expected local")
	}

	if err := sel.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if sel.Backend() != AreaSync {
		t.Errorf("expected sync after clear, got %s", sel.Backend())
	}
	got, _ := sel.Get(ctx, models.ConfigKeys)
	if len(got) != 0 {
		t.Errorf("expected no user data after clear, got %v", got)
	}
	meta, _ := secondary.Get(ctx, []string{models.StorageTypeKey, models.MigrationKey})
	if string(meta[models.StorageTypeKey]) != `"sync"` {
		t.Errorf("storage type not reset, got %s", meta[models.StorageTypeKey])
	}
	if _, ok := meta[models.MigrationKey]; !ok {
		t.Errorf("migration marker should survive clear")
	}
}

func TestSelectorMigrateToPrimary(t *testing.T) {
	ctx := context.Background()

	t.Run("already on sync", func(t *testing.T) {
		sel, _, _ := newTestSelector(t)
		if err := sel.MigrateToPrimary(ctx); !errors.Is(err, ErrAlreadyPrimary) {
			t.Fatalf("expected ErrAlreadyPrimary, got %v", err)
		}
	})

	t.Run("too large", func(t *testing.T) {
		sel, _, _ := newTestSelector(t)
		_ = sel.Set(ctx, Items{models.HeaderRulesKey: bigValue(85 * 1024)})
		err := sel.MigrateToPrimary(ctx)
		if !errors.Is(err, ErrCapacity) {
			t.Fatalf("expected ErrCapacity, got %v", err)
		}
		if sel.Backend() != AreaLocal {
			t.Errorf("state must not change on failed migration")
		}
	})

	t.Run("moves data back", func(t *testing.T) {
		sel, primary, secondary := newTestSelector(t)
		_ = sel.Set(ctx, Items{models.HeaderRulesKey: bigValue(85 * 1024)})
		// Shrink the data while on local storage.
		if err := sel.Set(ctx, Items{models.HeaderRulesKey: json.RawMessage(`["small"]`)}); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if err := sel.MigrateToPrimary(ctx); err != nil {
			t.Fatalf("MigrateToPrimary failed: %v", err)
		}
		if sel.Backend() != AreaSync {
			t.Fatalf("expected sync after migrating back")
		}
		p, _ := primary.Get(ctx, []string{models.HeaderRulesKey})
		if string(p[models.HeaderRulesKey]) != `["small"]` {
			t.Errorf("data not written to primary: %v", p)
		}
		s, _ := secondary.Get(ctx, []string{models.HeaderRulesKey})
		if len(s) != 0 {
			t.Errorf("user data should be removed from secondary: %v", s)
		}
		meta, _ := secondary.Get(ctx, []string{models.StorageTypeKey})
		if string(meta[models.StorageTypeKey]) != `"sync"` {
			t.Errorf("storage type not persisted as sync")
		}
	})
}

func TestSelectorChangeRouting(t *testing.T) {
	ctx := context.Background()
	sel, _, secondary := newTestSelector(t)
	rec := &recorder{}
	sel.AddChangeListener(rec.record)
	if err := sel.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	// Writes to the non-authoritative backend are not forwarded.
	_ = secondary.Set(ctx, Items{models.WebsitesKey: json.RawMessage(`["ignored"]`)})
	if n := len(rec.snapshot()); n != 0 {
		t.Fatalf("expected no events from inactive backend, got %d", n)
	}

	if err := sel.Set(ctx, Items{models.WebsitesKey: json.RawMessage(`["sync"]`)}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	events := rec.snapshot()
	if len(events) != 1 || events[0].area != AreaSync {
		t.Fatalf("expected one sync event, got %+v", events)
	}

	// Migration emits exactly one event from local and nothing about bookkeeping.
	if err := sel.Set(ctx, Items{models.HeaderRulesKey: bigValue(85 * 1024)}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	events = rec.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected two events after migration, got %d", len(events))
	}
	last := events[1]
	if last.area != AreaLocal || !last.changes.Has(models.HeaderRulesKey) {
		t.Errorf("unexpected migration event: %+v", last)
	}
	if last.changes.Has(models.StorageTypeKey, models.MigrationKey) {
		t.Errorf("bookkeeping keys leaked to listeners")
	}
}

func TestSelectorIgnoresBookkeepingKeysFromCallers(t *testing.T) {
	ctx := context.Background()
	sel, primary, _ := newTestSelector(t)
	if err := sel.Set(ctx, Items{models.StorageTypeKey: rawString("local")}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if sel.Backend() != AreaSync {
		t.Errorf("caller must not be able to flip the backend through Set")
	}
	p, _ := primary.Get(ctx, nil)
	if len(p) != 0 {
		t.Errorf("bookkeeping key written to primary: %v", p)
	}
}

func TestSelectorUsageInfo(t *testing.T) {
	ctx := context.Background()

	t.Run("sync", func(t *testing.T) {
		sel, _, _ := newTestSelector(t)
		_ = sel.Set(ctx, Items{models.WebsitesKey: json.RawMessage(`[]`)})
		info, err := sel.UsageInfo(ctx)
		if err != nil {
			t.Fatalf("UsageInfo failed: %v", err)
		}
		if info.Backend != "sync" || info.QuotaBytes != DefaultQuotaBytes {
			t.Errorf("unexpected info: %+v", info)
		}
		if info.BytesUsed != ItemSize(models.WebsitesKey, json.RawMessage(`[]`)) {
			t.Errorf("unexpected bytes used: %d", info.BytesUsed)
		}
		if len(info.Recommendations) != 0 {
			t.Errorf("expected no recommendations, got %v", info.Recommendations)
		}
	})

	t.Run("local with small data", func(t *testing.T) {
		sel, _, _ := newTestSelector(t)
		_ = sel.Set(ctx, Items{models.HeaderRulesKey: bigValue(85 * 1024)})
		info, err := sel.UsageInfo(ctx)
		if err != nil {
			t.Fatalf("UsageInfo failed: %v", err)
		}
		if info.Backend != "local" {
			t.Fatalf("expected local, got %s", info.Backend)
		}
		if len(info.Recommendations) != 2 {
			t.Errorf("expected local and migrate-back recommendations, got %v", info.Recommendations)
		}
		if info.PercentUsed != 0 || info.RemainingBytes != DefaultQuotaBytes {
			t.Errorf("primary should be empty after migration: %+v", info)
		}
	})
}

func TestSelectorOptions(t *testing.T) {
	sel := NewSelector(NewMemoryBackend(AreaSync, 0), NewMemoryBackend(AreaLocal, 0),
		WithQuota(1000), WithThresholdRatio(0.5))
	if sel.ThresholdBytes() != 500 {
		t.Errorf("expected threshold 500, got %d", sel.ThresholdBytes())
	}
	sel = NewSelector(NewMemoryBackend(AreaSync, 0), NewMemoryBackend(AreaLocal, 0),
		WithQuota(-1), WithThresholdRatio(2))
	if sel.ThresholdBytes() != int64(float64(DefaultQuotaBytes)*DefaultThresholdRatio) {
		t.Errorf("invalid options should be ignored, got %d", sel.ThresholdBytes())
	}
}
