// Package entitycache holds the canonical copy of every post, keyed by id.
//
// Every write carries a stamp from NextStamp. A write whose stamp is older
// than the entry's current stamp is dropped, so a response to a request
// issued before an optimistic change cannot overwrite that change. Removed
// ids and Reset leave a high-water mark behind for the same reason.
package entitycache

import (
	"sync"

	"loopline/internal/models"
	"loopline/internal/observability"
)

type entry struct {
	post  models.Post
	stamp uint64
}

// Cache is safe for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	entries    map[int64]*entry
	tombstones map[int64]uint64
	floor      uint64
	stamp      uint64
}

func New() *Cache {
	return &Cache{
		entries:    make(map[int64]*entry),
		tombstones: make(map[int64]uint64),
	}
}

// NextStamp returns a stamp newer than every stamp handed out before.
func (c *Cache) NextStamp() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextLocked()
}

func (c *Cache) nextLocked() uint64 {
	c.stamp++
	return c.stamp
}

// UpsertMany merges patches with a fresh stamp, so they always apply.
func (c *Cache) UpsertMany(patches []models.PostPatch) int {
	return c.UpsertManyAt(c.NextStamp(), patches)
}

// Upsert stores complete posts built locally with a fresh stamp. Every field
// of each post is written; payloads from the network go through UpsertMany.
func (c *Cache) Upsert(posts ...models.Post) int {
	patches := make([]models.PostPatch, len(posts))
	for i, p := range posts {
		patches[i] = models.PatchFromPost(p)
	}
	return c.UpsertMany(patches)
}

// UpsertManyAt merges each patch into the entry with the same id, inserting
// it when absent. Fields missing from a patch are preserved. Patches older
// than the entry, a removal of the id, or the last Reset are dropped. It
// returns how many patches applied.
func (c *Cache) UpsertManyAt(stamp uint64, patches []models.PostPatch) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	applied := 0
	for _, patch := range patches {
		if !c.acceptLocked(stamp, patch.ID) {
			continue
		}
		e, ok := c.entries[patch.ID]
		if !ok {
			e = &entry{}
			c.entries[patch.ID] = e
			delete(c.tombstones, patch.ID)
		}
		e.post.Merge(patch)
		e.stamp = stamp
		applied++
	}
	observability.CacheEntities.Set(float64(len(c.entries)))
	return applied
}

func (c *Cache) acceptLocked(stamp uint64, id int64) bool {
	if stamp < c.floor {
		observability.StaleUpdatesDropped.WithLabelValues("post").Inc()
		return false
	}
	if t, ok := c.tombstones[id]; ok && stamp <= t {
		observability.StaleUpdatesDropped.WithLabelValues("post").Inc()
		return false
	}
	if e, ok := c.entries[id]; ok && stamp < e.stamp {
		observability.StaleUpdatesDropped.WithLabelValues("post").Inc()
		return false
	}
	return true
}

// ReplacePollSnapshot swaps the whole poll of an existing post. It is a
// no-op when the post is not cached.
func (c *Cache) ReplacePollSnapshot(id int64, poll *models.Poll) bool {
	return c.ReplacePollSnapshotAt(c.NextStamp(), id, poll)
}

// ReplacePollSnapshotAt is ReplacePollSnapshot for a response issued at stamp.
func (c *Cache) ReplacePollSnapshotAt(stamp uint64, id int64, poll *models.Poll) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok || !c.acceptLocked(stamp, id) {
		return false
	}
	e.post.Poll = poll.Clone()
	e.stamp = stamp
	return true
}

// Remove deletes the post. Writes stamped before the removal stay dropped.
func (c *Cache) Remove(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, id)
	c.tombstones[id] = c.nextLocked()
	observability.CacheEntities.Set(float64(len(c.entries)))
}

// GetByID returns a copy of the cached post.
func (c *Cache) GetByID(id int64) (models.Post, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[id]
	if !ok {
		return models.Post{}, false
	}
	return e.post.Clone(), true
}

// GetByIDs resolves ids in order, silently skipping missing ones.
func (c *Cache) GetByIDs(ids []int64) []models.Post {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Post, 0, len(ids))
	for _, id := range ids {
		if e, ok := c.entries[id]; ok {
			out = append(out, e.post.Clone())
		}
	}
	return out
}

// Has reports whether id is cached.
func (c *Cache) Has(id int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[id]
	return ok
}

// Mutate applies an optimistic change under a new stamp. It returns the
// pre-change snapshot and the stamp to pass to RestoreAt or UpsertManyAt.
func (c *Cache) Mutate(id int64, fn func(*models.Post)) (models.Post, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return models.Post{}, 0, false
	}
	before := e.post.Clone()
	fn(&e.post)
	e.stamp = c.nextLocked()
	return before, e.stamp, true
}

// RestoreAt rolls an optimistic change back to snapshot, unless a newer
// write landed after it.
func (c *Cache) RestoreAt(stamp uint64, snapshot models.Post) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[snapshot.ID]
	if !ok || e.stamp != stamp {
		return false
	}
	e.post = snapshot.Clone()
	return true
}

// AdjustCommentCount adds delta to a post's comment counter, flooring at 0.
func (c *Cache) AdjustCommentCount(id int64, delta int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return false
	}
	e.post.CommentCount = max(0, e.post.CommentCount+delta)
	e.stamp = c.nextLocked()
	return true
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Reset drops every entry. Writes stamped before the reset are dropped.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[int64]*entry)
	c.tombstones = make(map[int64]uint64)
	c.floor = c.nextLocked()
	observability.CacheEntities.Set(0)
}
