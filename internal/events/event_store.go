package events

import (
	"log/slog"
	"sort"
	"sync"
)

// Bucket selects one of the two independent pending queues.
type Bucket int

const (
	// ForegroundBucket is drained by the interactive runtime.
	ForegroundBucket Bucket = iota
	// BackgroundBucket is drained by the headless task.
	BackgroundBucket
)

// String returns the bucket name used in logs and metric labels.
func (b Bucket) String() string {
	if b == BackgroundBucket {
		return "background"
	}
	return "foreground"
}

// BucketFor maps the isBackground flag of a take call to a bucket.
func BucketFor(isBackground bool) Bucket {
	if isBackground {
		return BackgroundBucket
	}
	return ForegroundBucket
}

// DefaultMaxPerName is the per-name, per-bucket capacity used when none is given.
const DefaultMaxPerName = 1000

// PendingStore holds events that no runtime has taken yet.
//
// Both buckets share one mutex, so Enqueue and Take never interleave. Take
// reads and clears in the same critical section: an event is returned at most
// once and is never lost between the read and the clear.
type PendingStore struct {
	mu         sync.Mutex
	buckets    [2]map[string][]Event // indexed by Bucket
	seq        uint64
	dropped    uint64
	maxPerName int
	logger     *slog.Logger
}

// NewPendingStore creates a store holding at most maxPerName events per
// routing name in each bucket. Past that the oldest event for the name is
// dropped.
func NewPendingStore(maxPerName int, logger *slog.Logger) *PendingStore {
	if maxPerName <= 0 {
		maxPerName = DefaultMaxPerName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PendingStore{
		buckets: [2]map[string][]Event{
			make(map[string][]Event),
			make(map[string][]Event),
		},
		maxPerName: maxPerName,
		logger:     logger,
	}
}

var (
	defaultStore     *PendingStore
	defaultStoreOnce sync.Once
)

// Default returns the process-wide store. It is created on first use and
// lives until the process exits, so a runtime reload does not lose events.
// Components should receive the store through their constructors; Default is
// only for the composition root.
func Default() *PendingStore {
	defaultStoreOnce.Do(func() {
		defaultStore = NewPendingStore(DefaultMaxPerName, nil)
	})
	return defaultStore
}

// Enqueue appends the event to the bucket matching its classification.
// It never fails.
func (s *PendingStore) Enqueue(event Event) EnqueueResult {
	bucket := event.Classification.Bucket()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	event.Seq = s.seq

	queue := s.buckets[bucket][event.Name]
	result := EnqueueResult{
		Bucket:   bucket,
		Seq:      event.Seq,
		WasEmpty: len(queue) == 0,
	}

	queue = append(queue, event)
	if over := len(queue) - s.maxPerName; over > 0 {
		s.logger.Warn("pending event capacity reached, dropping oldest",
			slog.String("event_name", event.Name),
			slog.String("bucket", bucket.String()),
			slog.Int("dropped", over),
			slog.Int("capacity", s.maxPerName),
		)
		// Copy so the dropped events can be collected.
		queue = append([]Event(nil), queue[over:]...)
		s.dropped += uint64(over)
		result.Dropped = over
	}
	s.buckets[bucket][event.Name] = queue
	result.PendingCount = len(queue)

	return result
}

// Take returns every pending event for name in the bucket, in arrival order,
// and clears them.
func (s *PendingStore) Take(name string, bucket Bucket) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.takeLocked(name, bucket)
}

// TakeAll returns and clears the events for name from both buckets, merged in
// arrival order. Used on platforms where one runtime drains everything.
func (s *PendingStore) TakeAll(name string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	fg := s.takeLocked(name, ForegroundBucket)
	bg := s.takeLocked(name, BackgroundBucket)
	if len(bg) == 0 {
		return fg
	}
	if len(fg) == 0 {
		return bg
	}

	merged := append(fg, bg...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Seq < merged[j].Seq
	})
	return merged
}

// takeLocked must be called with s.mu held.
func (s *PendingStore) takeLocked(name string, bucket Bucket) []Event {
	queue, ok := s.buckets[bucket][name]
	if !ok {
		return []Event{}
	}
	delete(s.buckets[bucket], name)
	return queue
}

// HasPending reports whether name has anything waiting in the bucket.
func (s *PendingStore) HasPending(name string, bucket Bucket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets[bucket][name]) > 0
}

// HasAny reports whether the bucket holds any event at all.
func (s *PendingStore) HasAny(bucket Bucket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, queue := range s.buckets[bucket] {
		if len(queue) > 0 {
			return true
		}
	}
	return false
}

// HasAnyBackgroundPending reports whether any of names has background events.
// An empty names slice checks every name.
func (s *PendingStore) HasAnyBackgroundPending(names []string) bool {
	if len(names) == 0 {
		return s.HasAny(BackgroundBucket)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		if len(s.buckets[BackgroundBucket][name]) > 0 {
			return true
		}
	}
	return false
}

// Len returns the number of events in the bucket.
func (s *PendingStore) Len(bucket Bucket) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, queue := range s.buckets[bucket] {
		total += len(queue)
	}
	return total
}

// LenForName returns the number of events for name in the bucket.
func (s *PendingStore) LenForName(name string, bucket Bucket) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets[bucket][name])
}

// Snapshot returns the pending counts per name for both buckets.
func (s *PendingStore) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Foreground: make(map[string]int, len(s.buckets[ForegroundBucket])),
		Background: make(map[string]int, len(s.buckets[BackgroundBucket])),
		Dropped:    s.dropped,
	}
	for name, queue := range s.buckets[ForegroundBucket] {
		stats.Foreground[name] = len(queue)
	}
	for name, queue := range s.buckets[BackgroundBucket] {
		stats.Background[name] = len(queue)
	}
	return stats
}

// Clear removes every pending event. Only tests should need it.
func (s *PendingStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buckets[ForegroundBucket] = make(map[string][]Event)
	s.buckets[BackgroundBucket] = make(map[string][]Event)
}
