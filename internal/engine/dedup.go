package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Deduplicator tracks seen request URLs. A bloom filter answers most
// "never seen" lookups; the exact hash set settles the rest.
type Deduplicator struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	seen   map[string]struct{}
}

// NewDeduplicator creates a Deduplicator sized for estimatedCapacity URLs.
func NewDeduplicator(estimatedCapacity int) *Deduplicator {
	if estimatedCapacity < 1024 {
		estimatedCapacity = 1024
	}
	return &Deduplicator{
		filter: bloom.NewWithEstimates(uint(estimatedCapacity), 0.001),
		seen:   make(map[string]struct{}, estimatedCapacity),
	}
}

// IsSeen returns true if the URL (after canonicalization) has been seen before.
func (d *Deduplicator) IsSeen(rawURL string) bool {
	hash := hashURL(CanonicalizeURL(rawURL))

	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.contains(hash)
}

// MarkSeen marks a URL as seen.
func (d *Deduplicator) MarkSeen(rawURL string) {
	hash := hashURL(CanonicalizeURL(rawURL))

	d.mu.Lock()
	defer d.mu.Unlock()
	d.add(hash)
}

// MarkIfNew marks rawURL as seen and reports whether it was new. The check
// and the mark happen under one lock.
func (d *Deduplicator) MarkIfNew(rawURL string) bool {
	hash := hashURL(CanonicalizeURL(rawURL))

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.contains(hash) {
		return false
	}
	d.add(hash)
	return true
}

func (d *Deduplicator) contains(hash string) bool {
	if !d.filter.TestString(hash) {
		return false
	}
	_, ok := d.seen[hash]
	return ok
}

func (d *Deduplicator) add(hash string) {
	d.filter.AddString(hash)
	d.seen[hash] = struct{}{}
}

// Count returns the number of unique URLs seen.
func (d *Deduplicator) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.seen)
}

// Export returns all seen URL hashes (for checkpoint serialization).
func (d *Deduplicator) Export() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	hashes := make([]string, 0, len(d.seen))
	for h := range d.seen {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	return hashes
}

// Import loads URL hashes (for checkpoint restore).
func (d *Deduplicator) Import(hashes []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range hashes {
		d.add(h)
	}
}

// CanonicalizeURL normalizes a URL for deduplication: scheme and host are
// lower-cased, the fragment and default ports are dropped, query parameters
// are sorted and a trailing slash is removed. The query string itself is
// kept, so listing pages that differ only in start stay distinct.
func CanonicalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	host := u.Hostname()
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		u.Host = host
	}

	if u.RawQuery != "" {
		params := u.Query()
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var sorted []string
		for _, k := range keys {
			vals := params[k]
			sort.Strings(vals)
			for _, v := range vals {
				sorted = append(sorted, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
		u.RawQuery = strings.Join(sorted, "&")
	}

	if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String()
}

// hashURL creates a compact hash of a URL string.
func hashURL(canonicalURL string) string {
	h := sha256.Sum256([]byte(canonicalURL))
	return hex.EncodeToString(h[:16]) // 128-bit hash
}
