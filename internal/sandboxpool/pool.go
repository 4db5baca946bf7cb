// Package sandboxpool implements the pre-warmed, per-language sandbox pool
// manager of spec §4.1: acquire/release discipline, auto-replenishment,
// idle/running TTL enforcement, orphan cleanup, and bounded concurrency
// against a per-language fleet quota.
//
// Grounded on internal/instruments/docker.go for container provisioning
// (the `docker run` flag shape) generalized to long-lived containers, and
// on internal/instruments/subagent.go's SubagentManager / skill.go's
// SkillRegistry for the single-mutex membership-transition discipline a
// pool's idle/active sets require.
package sandboxpool

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config is a per-language pool configuration (spec §4.1, §6 "Pool config").
type Config struct {
	MinIdle     int
	MaxTotal    int
	IdleTTL     time.Duration
	RunningTTL  time.Duration
	Image       string
	AcquireWait time.Duration
}

// languagePool is the per-language fleet: an idle set (FIFO reuse order),
// an active set, and the configuration/manifest governing provisioning.
type languagePool struct {
	mu       sync.Mutex
	idle     []*Handle
	active   map[string]*Handle
	config   Config
	manifest Manifest
}

func (p *languagePool) total() int {
	return len(p.idle) + len(p.active)
}

// Manager is the process-singleton-in-spirit, explicit-handle-in-practice
// pool manager (spec §9 REDESIGN FLAGS: "Model as an explicit PoolManager
// handle passed into the pipeline; avoid globals"). One Manager per
// process owns every per-language pool and the background sweeper.
type Manager struct {
	mu         sync.Mutex
	pools      map[string]*languagePool
	fleetLabel string
	sweepEvery time.Duration
	stop       chan struct{}
	stopped    chan struct{}
}

// NewManager creates an uninitialized Manager. Call Initialize before
// Acquire.
func NewManager(fleetLabel string) *Manager {
	return &Manager{
		pools:      make(map[string]*languagePool),
		fleetLabel: fleetLabel,
		sweepEvery: 10 * time.Second,
	}
}

// Initialize implements spec §4.1 `initialize(pool_configs)`: orphan
// cleanup, per-language pool construction, min_idle provisioning, and
// starting the background sweeper.
func (m *Manager) Initialize(ctx context.Context, configs map[string]Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.cleanupOrphans(ctx); err != nil {
		return fmt.Errorf("orphan cleanup: %w", err)
	}

	for language, cfg := range configs {
		if cfg.AcquireWait == 0 {
			cfg.AcquireWait = 30 * time.Second
		}
		pool := &languagePool{
			active:   make(map[string]*Handle),
			config:   cfg,
			manifest: DefaultManifest(language, cfg.Image),
		}
		m.pools[language] = pool

		for i := 0; i < cfg.MinIdle; i++ {
			h, err := newHandle(ctx, pool.manifest, m.fleetLabel)
			if err != nil {
				return fmt.Errorf("provision initial idle %s sandbox: %w", language, err)
			}
			h.State = StateIdle
			pool.idle = append(pool.idle, h)
		}
	}

	m.stop = make(chan struct{})
	m.stopped = make(chan struct{})
	go m.sweep()

	return nil
}

// Acquire implements spec §4.1's acquire algorithm.
func (m *Manager) Acquire(ctx context.Context, language string) (*Handle, error) {
	m.mu.Lock()
	pool, ok := m.pools[language]
	m.mu.Unlock()
	if !ok {
		return nil, &UnsupportedLanguageError{Language: language}
	}
	return pool.acquire(ctx, m.fleetLabel)
}

func (p *languagePool) acquire(ctx context.Context, fleetLabel string) (*Handle, error) {
	deadline := time.Now().Add(p.config.AcquireWait)

	for {
		p.mu.Lock()
		if len(p.idle) > 0 {
			h := p.idle[0]
			p.idle = p.idle[1:]
			h.State = StateActive
			h.LastActivity = time.Now()
			p.active[h.ID] = h
			p.mu.Unlock()
			return h, nil
		}

		if p.total() < p.config.MaxTotal {
			p.mu.Unlock()
			h, err := newHandle(ctx, p.manifest, fleetLabel)
			if err != nil {
				return nil, &NoSandboxAvailableError{Language: p.manifest.Language, Cause: err}
			}
			p.mu.Lock()
			p.active[h.ID] = h
			p.mu.Unlock()
			return h, nil
		}
		p.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, &NoSandboxAvailableError{Language: p.manifest.Language}
		}

		select {
		case <-ctx.Done():
			return nil, &NoSandboxAvailableError{Language: p.manifest.Language, Cause: ctx.Err()}
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Release implements spec §4.1's release algorithm. destroyAfterPanic
// forces destruction rather than reset-and-reuse (spec §5: "Release after
// an uncaught exception SHOULD destroy the sandbox rather than return it
// to the idle set").
func (m *Manager) Release(language string, h *Handle, destroyAfterPanic bool) {
	m.mu.Lock()
	pool, ok := m.pools[language]
	m.mu.Unlock()
	if !ok || h == nil {
		return
	}
	pool.release(h, destroyAfterPanic)
}

func (p *languagePool) release(h *Handle, destroyAfterPanic bool) {
	p.mu.Lock()
	delete(p.active, h.ID)
	p.mu.Unlock()

	if destroyAfterPanic {
		_ = h.destroy()
		return
	}

	if err := h.reset(); err != nil {
		_ = h.destroy()
		return
	}

	h.State = StateIdle
	h.LastActivity = time.Now()
	p.mu.Lock()
	p.idle = append(p.idle, h)
	p.mu.Unlock()
}

// Shutdown implements spec §4.1 `shutdown()`: destroy every handle, stop
// the sweeper.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	pools := make([]*languagePool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	stop := m.stop
	stopped := m.stopped
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		<-stopped
	}

	for _, p := range pools {
		p.mu.Lock()
		for _, h := range p.idle {
			_ = h.destroy()
		}
		for _, h := range p.active {
			_ = h.destroy()
		}
		p.idle = nil
		p.active = make(map[string]*Handle)
		p.mu.Unlock()
	}
}

// Stats reports idle/active/total counts for a language, for metrics and
// tests (spec §8 "Pool conservation" law).
func (m *Manager) Stats(language string) (idle, active, total int, ok bool) {
	m.mu.Lock()
	pool, exists := m.pools[language]
	m.mu.Unlock()
	if !exists {
		return 0, 0, 0, false
	}
	pool.mu.Lock()
	defer pool.mu.Unlock()
	return len(pool.idle), len(pool.active), pool.total(), true
}
