package ledger

import (
	"sort"
	"sync"
	"time"
)

// Ledger tracks which inbound events have been handled and which links are
// inside their cooldown window. Both tables share one mutex so that two
// concurrent events can never both acquire the lock for the same link or
// double-count the same event ID.
//
// State is process-local and lost on restart.
type Ledger struct {
	mu sync.Mutex

	// seen maps event ID -> insertion sequence. The sequence is the recency
	// order used for eviction; event IDs themselves are treated as opaque.
	seen      map[string]uint64
	seq       uint64
	highWater int
	keep      int
	evicted   uint64

	// cooldowns maps link text -> time processing of that link last started.
	cooldowns map[string]time.Time
	cooldown  time.Duration
}

// LockResult is the outcome of TryLock. When not acquired, Remaining is the
// time left until the link's cooldown expires.
type LockResult struct {
	Acquired  bool
	Remaining time.Duration
}

type Stats struct {
	SeenEvents      int
	ActiveCooldowns int
	Evicted         uint64
}

func New(cooldown time.Duration, highWater, keep int) *Ledger {
	if highWater <= 0 {
		highWater = 1000
	}
	if keep <= 0 || keep > highWater {
		keep = highWater / 2
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Ledger{
		seen:      make(map[string]uint64),
		highWater: highWater,
		keep:      keep,
		cooldowns: make(map[string]time.Time),
		cooldown:  cooldown,
	}
}

func (l *Ledger) HasSeen(eventID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[eventID]
	return ok
}

// MarkSeen records an event ID and reports whether it was new. Re-marking a
// known ID is a no-op and keeps its original recency. When the set grows past
// the high-water mark, the oldest entries are evicted down to the keep count;
// an evicted ID may be reprocessed on redelivery, which is the documented
// exception to the process-once guarantee.
func (l *Ledger) MarkSeen(eventID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[eventID]; ok {
		return false
	}
	l.seq++
	l.seen[eventID] = l.seq

	if len(l.seen) > l.highWater {
		l.evictLocked()
	}
	return true
}

func (l *Ledger) evictLocked() {
	type entry struct {
		id  string
		seq uint64
	}
	entries := make([]entry, 0, len(l.seen))
	for id, seq := range l.seen {
		entries = append(entries, entry{id, seq})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	drop := len(entries) - l.keep
	for _, e := range entries[:drop] {
		delete(l.seen, e.id)
	}
	l.evicted += uint64(drop)
}

// TryLock purges expired cooldown entries, then either reports the remaining
// wait for a link still inside its window or records a new processing start.
// The lock has no manual release; it expires with the window. A link that
// later fails resolution keeps its slot, so a persistently broken link cannot
// hammer the affiliate API.
func (l *Ledger) TryLock(link string, now time.Time) LockResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	for k, ts := range l.cooldowns {
		if now.Sub(ts) >= l.cooldown {
			delete(l.cooldowns, k)
		}
	}

	if ts, ok := l.cooldowns[link]; ok {
		return LockResult{Remaining: l.cooldown - now.Sub(ts)}
	}
	l.cooldowns[link] = now
	return LockResult{Acquired: true}
}

func (l *Ledger) Cooldown() time.Duration {
	return l.cooldown
}

func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		SeenEvents:      len(l.seen),
		ActiveCooldowns: len(l.cooldowns),
		Evicted:         l.evicted,
	}
}
