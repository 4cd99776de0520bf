package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"headersmanager/logger"
	"headersmanager/models"
	"headersmanager/storage"

	"github.com/sirupsen/logrus"
)

// DefaultSettleDelay is how long a pass waits between removing and adding directives.
const DefaultSettleDelay = 100 * time.Millisecond

// ConfigSource is where a reload pass reads the configuration from.
type ConfigSource interface {
	Get(ctx context.Context, keys []string) (storage.Items, error)
}

// Engine is the directive executor. The whole set is replaced on every pass.
type Engine interface {
	GetInstalledIDs(ctx context.Context) ([]int, error)
	RemoveDirectives(ctx context.Context, ids []int) error
	AddDirectives(ctx context.Context, directives []models.CompiledDirective) error
}

// Notifier is told after every successful install. Failures are logged and ignored.
type Notifier interface {
	Name() string
	Notify(ctx context.Context) error
}

// ChangeSubscriber delivers storage change notifications.
type ChangeSubscriber interface {
	AddChangeListener(fn storage.ChangeFunc)
}

type reloadState int

const (
	stateIdle reloadState = iota
	stateRunning
	stateRunningWithRerun
)

// Reloader keeps the engine's directives in line with the stored configuration. At most
// one pass runs at a time; requests arriving during a pass collapse into one more pass.
type Reloader struct {
	source      ConfigSource
	engine      Engine
	compiler    *Compiler
	settleDelay time.Duration
	log         *logrus.Entry

	mu        sync.Mutex
	state     reloadState
	passes    int
	notifiers []Notifier
}

func NewReloader(source ConfigSource, engine Engine, compiler *Compiler, settleDelay time.Duration) *Reloader {
	if compiler == nil {
		compiler = NewCompiler()
	}
	if settleDelay < 0 {
		settleDelay = 0
	}
	return &Reloader{
		source:      source,
		engine:      engine,
		compiler:    compiler,
		settleDelay: settleDelay,
		log:         logger.WithComponent("reloader"),
	}
}

// AddNotifier registers a consumer told about every finished pass.
func (r *Reloader) AddNotifier(n Notifier) {
	r.mu.Lock()
	r.notifiers = append(r.notifiers, n)
	r.mu.Unlock()
}

// Passes returns how many passes have run.
func (r *Reloader) Passes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.passes
}

// Busy reports whether a pass is in flight.
func (r *Reloader) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state != stateIdle
}

// Reload runs passes in the calling goroutine until no rerun is pending. If a pass is
// already running it records a rerun and returns nil immediately. The returned error is
// that of the last pass run by this call; the reloader itself never stays busy on error.
func (r *Reloader) Reload(ctx context.Context) error {
	r.mu.Lock()
	if r.state != stateIdle {
		r.state = stateRunningWithRerun
		r.mu.Unlock()
		r.log.Debug("reload already in progress, marking for rerun")
		return nil
	}
	r.state = stateRunning
	r.mu.Unlock()

	finished := false
	defer func() {
		if !finished {
			r.mu.Lock()
			r.state = stateIdle
			r.mu.Unlock()
		}
	}()

	var lastErr error
	for {
		lastErr = r.runPass(ctx)
		if lastErr != nil {
			r.log.WithError(lastErr).Error("reload pass failed")
		}

		r.mu.Lock()
		r.passes++
		if r.state == stateRunningWithRerun {
			r.state = stateRunning
			r.mu.Unlock()
			continue
		}
		r.state = stateIdle
		finished = true
		r.mu.Unlock()
		return lastErr
	}
}

func (r *Reloader) runPass(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("reload pass panicked: %v", rec)
		}
	}()

	items, err := r.source.Get(ctx, models.ConfigKeys)
	if err != nil {
		return fmt.Errorf("reading configuration: %w", err)
	}
	cfg, err := DecodeConfiguration(items)
	if err != nil {
		return err
	}

	ids, err := r.engine.GetInstalledIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing installed directives: %w", err)
	}
	if len(ids) > 0 {
		if err := r.engine.RemoveDirectives(ctx, ids); err != nil {
			return fmt.Errorf("removing %d directives: %w", len(ids), err)
		}
		if r.settleDelay > 0 {
			select {
			case <-time.After(r.settleDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	directives, sources := r.compiler.CompileWithSources(cfg.Websites, cfg.HeaderRules)
	if r.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		for i, d := range directives {
			r.log.Debugf("Created directive %d for %s -> %s (%s / %s)", d.ID, sources[i].Pattern, d.Condition.URLFilter, sources[i].Rule, sources[i].Header)
		}
	}
	if len(directives) > 0 {
		if err := r.engine.AddDirectives(ctx, directives); err != nil {
			return fmt.Errorf("installing %d directives: %w", len(directives), err)
		}
	}

	r.notify(ctx)
	r.log.WithFields(logrus.Fields{
		"directives": len(directives),
		"websites":   len(cfg.Websites),
	}).Info("configuration loaded")
	return nil
}

func (r *Reloader) notify(ctx context.Context) {
	r.mu.Lock()
	notifiers := append([]Notifier(nil), r.notifiers...)
	r.mu.Unlock()
	for _, n := range notifiers {
		if err := safeNotify(ctx, n); err != nil {
			r.log.WithField("consumer", n.Name()).WithError(err).Warn("could not notify consumer")
		}
	}
}

func safeNotify(ctx context.Context, n Notifier) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("notifier panicked: %v", rec)
		}
	}()
	return n.Notify(ctx)
}

// Watch reloads whenever websites or header rules change. Reloads run in their own
// goroutine so the storage layer is never re-entered from its own notification.
func (r *Reloader) Watch(sub ChangeSubscriber) {
	sub.AddChangeListener(func(area storage.Area, changes storage.Changes) {
		if !changes.Has(models.WebsitesKey, models.HeaderRulesKey) {
			return
		}
		r.log.WithField("area", area).Debug("configuration changed")
		go r.Reload(context.Background())
	})
}

// DecodeConfiguration reads websites and header rules out of stored items. Absent keys
// decode to empty lists.
func DecodeConfiguration(items storage.Items) (models.Configuration, error) {
	cfg := models.Configuration{Websites: []models.Website{}, HeaderRules: []models.HeaderRule{}}
	if raw, ok := items[models.WebsitesKey]; ok && len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &cfg.Websites); err != nil {
			return cfg, fmt.Errorf("decoding websites: %w", err)
		}
	}
	if raw, ok := items[models.HeaderRulesKey]; ok && len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &cfg.HeaderRules); err != nil {
			return cfg, fmt.Errorf("decoding header rules: %w", err)
		}
	}
	return cfg, nil
}
