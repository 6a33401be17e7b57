// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package routing

import (
	"sync"
	"time"
)

// RecentMessageCache remembers message ids seen recently, so
// handle_routing can drop a re-forwarded or looped envelope silently.
// Entries expire after ttl; a background goroutine reclaims them so the
// map does not grow unbounded in a long-lived node.
type RecentMessageCache struct {
	ttl  time.Duration
	mu   sync.RWMutex
	seen map[string]time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewRecentMessageCache starts the cache's cleanup loop and returns it.
// Stop must be called to end it.
func NewRecentMessageCache(ttl, cleanupInterval time.Duration) *RecentMessageCache {
	c := &RecentMessageCache{
		ttl:    ttl,
		seen:   make(map[string]time.Time),
		stopCh: make(chan struct{}),
	}
	c.wg.Add(1)
	go c.cleanupLoop(cleanupInterval)
	return c
}

// Stop ends the cleanup loop and waits for it to exit. Safe to call more
// than once.
func (c *RecentMessageCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Contains reports whether id was added within the last ttl.
func (c *RecentMessageCache) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seenAt, ok := c.seen[id]
	if !ok {
		return false
	}
	return time.Since(seenAt) <= c.ttl
}

// Add records id as seen now().
func (c *RecentMessageCache) Add(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[id] = time.Now()
}

// Len is the current number of tracked ids, exposed for metrics.
func (c *RecentMessageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.seen)
}

func (c *RecentMessageCache) cleanupLoop(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *RecentMessageCache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for id, seenAt := range c.seen {
		if now.Sub(seenAt) > c.ttl {
			delete(c.seen, id)
		}
	}
}
