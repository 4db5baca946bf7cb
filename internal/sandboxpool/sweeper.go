package sandboxpool

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// cleanupOrphans implements spec §4.1 "Orphan cleanup on init": enumerate
// pre-existing containers bearing the fleet's label and destroy them,
// recovering from an ungraceful prior shutdown.
func (m *Manager) cleanupOrphans(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "docker", "ps", "-a",
		"--filter", fmt.Sprintf("label=fleet=%s", m.fleetLabel), "-q")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker ps (orphan scan): %w: %s", err, stderr.String())
	}

	ids := strings.Fields(stdout.String())
	for _, id := range ids {
		rm := exec.CommandContext(ctx, "docker", "rm", "-f", id)
		if err := rm.Run(); err != nil {
			return fmt.Errorf("docker rm orphan %s: %w", id, err)
		}
	}
	return nil
}

// sweep runs the background sweeper (spec §4.1 "Background sweeper"): a
// cooperative worker owned by the Manager handle (spec §9 REDESIGN FLAGS),
// never a package-level goroutine.
func (m *Manager) sweep() {
	defer close(m.stopped)
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

func (m *Manager) sweepOnce() {
	m.mu.Lock()
	pools := make(map[string]*languagePool, len(m.pools))
	for lang, p := range m.pools {
		pools[lang] = p
	}
	fleetLabel := m.fleetLabel
	m.mu.Unlock()

	for lang, pool := range pools {
		sweepPool(lang, pool, fleetLabel)
	}
}

func sweepPool(language string, pool *languagePool, fleetLabel string) {
	now := time.Now()

	pool.mu.Lock()
	var expiredActive []*Handle
	for id, h := range pool.active {
		if now.Sub(h.LastActivity) > pool.config.RunningTTL {
			expiredActive = append(expiredActive, h)
			delete(pool.active, id)
		}
	}

	var survivingIdle []*Handle
	var expiredIdle []*Handle
	for _, h := range pool.idle {
		if len(survivingIdle) >= pool.config.MinIdle && now.Sub(h.LastActivity) > pool.config.IdleTTL {
			expiredIdle = append(expiredIdle, h)
			continue
		}
		survivingIdle = append(survivingIdle, h)
	}
	pool.idle = survivingIdle
	needed := 0
	if len(pool.idle) < pool.config.MinIdle && pool.total() < pool.config.MaxTotal {
		needed = pool.config.MinIdle - len(pool.idle)
		if room := pool.config.MaxTotal - pool.total(); needed > room {
			needed = room
		}
	}
	pool.mu.Unlock()

	// Destruction and provisioning happen outside the pool lock: both are
	// blocking docker CLI calls and must not hold up acquire/release for
	// unrelated handles (spec §5 "a single critical section for each pool
	// covering membership transitions" — destruction/provisioning are not
	// membership transitions themselves, only their before/after are).
	for _, h := range expiredActive {
		_ = h.destroy() // sweeper errors are discarded: neither logged nor surfaced
	}
	for _, h := range expiredIdle {
		_ = h.destroy()
	}

	for i := 0; i < needed; i++ {
		h, err := newHandle(context.Background(), pool.manifest, fleetLabel)
		if err != nil {
			continue // provisioning failure during replenishment is discarded, not logged or surfaced
		}
		h.State = StateIdle
		pool.mu.Lock()
		pool.idle = append(pool.idle, h)
		pool.mu.Unlock()
	}
}
