package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Deduper remembers the last fingerprint seen per key (a topic) and rejects
// an identical message arriving again before the TTL expires. Only the most
// recent fingerprint is kept, so A, B, A still lets the second A through.
type Deduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	last map[string]seen
	now  func() time.Time
}

type seen struct {
	fp  string
	exp time.Time
}

func New(ttl time.Duration, max int) *Deduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 10000
	}
	return &Deduper{ttl: ttl, max: max, last: make(map[string]seen, max), now: time.Now}
}

// Fingerprint hashes a payload.
func Fingerprint(payload []byte) string {
	h := sha256.Sum256(payload)
	return hex.EncodeToString(h[:])
}

// ShouldProcess reports whether fp differs from the last fingerprint recorded
// for key, and records it.
func (d *Deduper) ShouldProcess(key, fp string) bool {
	if key == "" {
		return true
	}
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.last[key]; ok && s.fp == fp && now.Before(s.exp) {
		return false
	}
	d.last[key] = seen{fp: fp, exp: now.Add(d.ttl)}
	if len(d.last) > d.max {
		for k, v := range d.last {
			if now.After(v.exp) {
				delete(d.last, k)
			}
			if len(d.last) <= d.max {
				break
			}
		}
	}
	return true
}

// Forget drops the record for key, e.g. when the message was accepted by
// ShouldProcess but never made it downstream.
func (d *Deduper) Forget(key string) {
	d.mu.Lock()
	delete(d.last, key)
	d.mu.Unlock()
}
