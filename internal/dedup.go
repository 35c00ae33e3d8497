package internal

import "sync"

const defaultDedupCapacity = 1000

// DedupCache is a bounded FIFO set of recently processed message ids, used
// to reject replays of the same client-supplied idempotency key. When the
// cache is full the oldest entry is evicted, making that key reusable.
type DedupCache struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	order    []string
	capacity int
}

func NewDedupCache(capacity int) *DedupCache {
	if capacity <= 0 {
		capacity = defaultDedupCapacity
	}
	return &DedupCache{
		seen:     make(map[string]struct{}, capacity),
		order:    make([]string, 0, capacity),
		capacity: capacity,
	}
}

// SeenOrRecord reports whether id was already in the window and records it
// if not, as one atomic step. Two near-simultaneous duplicates cannot both
// pass an advisory check, so this is the call the relay uses.
func (d *DedupCache) SeenOrRecord(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return true
	}
	d.record(id)
	return false
}

// Seen is a pure membership query.
func (d *DedupCache) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[id]
	return ok
}

// Record inserts id, evicting the oldest entry at capacity.
func (d *DedupCache) Record(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return
	}
	d.record(id)
}

func (d *DedupCache) record(id string) {
	if len(d.order) >= d.capacity {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)
}

// Len returns the number of ids currently held.
func (d *DedupCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
