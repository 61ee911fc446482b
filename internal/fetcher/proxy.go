package fetcher

import (
	"log/slog"
	"math/rand"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IshaanNene/catalogcrawl/internal/config"
)

// ProxyManager rotates requests across the configured proxies and parks
// the ones that keep failing.
type ProxyManager struct {
	proxies      []*proxyEntry
	rotation     string
	rotateOnFail bool
	index        atomic.Int64
	mu           sync.RWMutex
	logger       *slog.Logger
}

type proxyEntry struct {
	URL     *url.URL
	Healthy bool
	LastErr error
	LastUse time.Time
}

// NewProxyManager creates a new ProxyManager from configuration.
func NewProxyManager(cfg *config.ProxyConfig, logger *slog.Logger) *ProxyManager {
	pm := &ProxyManager{
		proxies:      make([]*proxyEntry, 0, len(cfg.URLs)),
		rotation:     cfg.Rotation,
		rotateOnFail: cfg.RotateOnFail,
		logger:       logger.With("component", "proxy_manager"),
	}

	for _, rawURL := range cfg.URLs {
		u, err := url.Parse(rawURL)
		if err != nil || u.Host == "" {
			pm.logger.Warn("invalid proxy URL", "url", rawURL, "error", err)
			continue
		}
		pm.proxies = append(pm.proxies, &proxyEntry{URL: u, Healthy: true})
	}

	pm.logger.Info("proxy manager initialized", "count", len(pm.proxies), "rotation", cfg.Rotation)
	return pm
}

// Next returns the next proxy URL based on the rotation strategy. When
// every proxy is parked they are all revived, so a flaky pool slows the
// crawl down instead of stopping it.
func (pm *ProxyManager) Next() *url.URL {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if len(pm.proxies) == 0 {
		return nil
	}

	healthy := pm.healthyProxies()
	if len(healthy) == 0 {
		pm.logger.Warn("all proxies unhealthy, reviving pool", "count", len(pm.proxies))
		for _, p := range pm.proxies {
			p.Healthy = true
			p.LastErr = nil
		}
		healthy = pm.proxies
	}

	var entry *proxyEntry
	switch pm.rotation {
	case "random":
		entry = healthy[rand.Intn(len(healthy))]
	default: // round_robin
		entry = healthy[(pm.index.Add(1)-1)%int64(len(healthy))]
	}
	entry.LastUse = time.Now()
	return entry.URL
}

// MarkFailed marks a proxy as unhealthy.
func (pm *ProxyManager) MarkFailed(proxyURL *url.URL, err error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if p := pm.find(proxyURL); p != nil && p.Healthy {
		p.Healthy = false
		p.LastErr = err
		pm.logger.Warn("proxy marked unhealthy", "proxy", proxyURL.Host, "error", err)
	}
}

// MarkHealthy marks a proxy as healthy.
func (pm *ProxyManager) MarkHealthy(proxyURL *url.URL) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if p := pm.find(proxyURL); p != nil {
		p.Healthy = true
		p.LastErr = nil
	}
}

// Count returns the total number of proxies.
func (pm *ProxyManager) Count() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.proxies)
}

// HealthyCount returns the number of healthy proxies.
func (pm *ProxyManager) HealthyCount() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.healthyProxies())
}

func (pm *ProxyManager) find(proxyURL *url.URL) *proxyEntry {
	for _, p := range pm.proxies {
		if p.URL.String() == proxyURL.String() {
			return p
		}
	}
	return nil
}

func (pm *ProxyManager) healthyProxies() []*proxyEntry {
	healthy := make([]*proxyEntry, 0, len(pm.proxies))
	for _, p := range pm.proxies {
		if p.Healthy {
			healthy = append(healthy, p)
		}
	}
	return healthy
}
