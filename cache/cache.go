// Package cache is the content-addressed evaluation cache: it stores
// completed ParamResponsePairs and answers exact and tolerance-based
// duplicate queries, and backs those queries with a durable, append-only
// restart journal.
package cache

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/evalgo-org/evalcore/activeset"
	"github.com/evalgo-org/evalcore/variables"
	"github.com/sirupsen/logrus"
)

// entry is one cache-resident pair plus its position in the
// insertion-ordered index used by nearby lookup.
type entry struct {
	pair  Pair
	order int
}

// Cache is the in-process evaluation cache. One Cache belongs to exactly
// one iterator partition's rank zero (see §5, shared-resource policy): it
// is never mutated from any other rank.
type Cache struct {
	mu sync.RWMutex

	log *logrus.Entry

	// hashIndex groups entries by (interface-id, variables) so exact
	// lookup only needs to superset-check a short candidate list instead
	// of the whole cache.
	hashIndex map[string][]*entry

	// ordered is the insertion-ordered index nearby lookup walks; it is
	// also the index journal replay and promotion must keep consistent
	// with hashIndex.
	ordered []*entry

	journal *Journal
	mirror  *RedisMirror
	nextSeq int
}

// New creates an empty Cache. journal may be nil if restart is disabled.
func New(journal *Journal, log *logrus.Entry) *Cache {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Cache{
		log:       log.WithField("component", "cache"),
		hashIndex: make(map[string][]*entry),
		journal:   journal,
	}
}

// SetMirror attaches a RedisMirror that every subsequent Insert publishes
// to, so a cooperating out-of-band process can see the same nearby-lookup
// ordering this Cache keeps. Passing nil detaches any existing mirror.
func (c *Cache) SetMirror(m *RedisMirror) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mirror = m
}

// keyOf builds the hash-bucket key from interface id and variables. Variables
// have no canonical string form, so the key groups on interface id plus the
// continuous/discrete lengths — a coarse bucket that keeps each bucket's
// candidate list short without requiring a bespoke hash of float slices.
func keyOf(interfaceID string, vars variables.Set) string {
	return fmt.Sprintf("%s|%d|%d|%d|%d", interfaceID,
		len(vars.Continuous), len(vars.DiscreteInt), len(vars.DiscreteReal), len(vars.DiscreteString))
}

// Insert adds pair by value; the pair is deep-copied so the caller may
// freely reuse its Response. Also appends to the restart journal if one is
// configured, durably, before returning.
func (c *Cache) Insert(pair Pair) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insertLocked(pair, true)
}

func (c *Cache) insertLocked(pair Pair, writeJournal bool) error {
	cp := pair.Clone()
	e := &entry{pair: cp, order: c.nextSeq}
	c.nextSeq++

	k := keyOf(cp.InterfaceID, cp.Variables)
	c.hashIndex[k] = append(c.hashIndex[k], e)
	c.ordered = append(c.ordered, e)

	if writeJournal && c.journal != nil {
		if err := c.journal.Write(cp); err != nil {
			return fmt.Errorf("cache: journal write failed: %w", err)
		}
	}
	if c.mirror != nil {
		if err := c.mirror.Publish(context.Background(), cp); err != nil {
			c.log.WithError(err).Warn("redis mirror publish failed")
		}
	}
	return nil
}

// ErrMiss is returned by LookupExact and LookupNearby when no entry matches.
var ErrMiss = fmt.Errorf("cache: miss")

// LookupExact returns the cached pair matching interfaceID and vars whose
// response active-set is a bitwise superset of set, or ErrMiss.
func (c *Cache) LookupExact(interfaceID string, vars variables.Set, set activeset.Set) (Pair, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, e := range c.hashIndex[keyOf(interfaceID, vars)] {
		if e.pair.InterfaceID != interfaceID {
			continue
		}
		if !e.pair.Variables.Equal(vars) {
			continue
		}
		if e.pair.Response != nil && e.pair.Response.Set.Superset(set) {
			return e.pair.Clone(), nil
		}
	}
	return Pair{}, ErrMiss
}

// LookupNearby returns the first (by insertion order) entry whose
// continuous variables are within an L-infinity per-axis relative radius
// tol of vars, whose discrete slots are identical, and whose response
// active-set is a superset of set.
func (c *Cache) LookupNearby(interfaceID string, vars variables.Set, set activeset.Set, tol float64) (Pair, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	candidates := make([]*entry, 0)
	for _, e := range c.ordered {
		if e.pair.InterfaceID != interfaceID {
			continue
		}
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].order < candidates[j].order })

	for _, e := range candidates {
		if !e.pair.Variables.DiscreteEqual(vars) {
			continue
		}
		if !e.pair.Variables.WithinTolerance(vars, tol) {
			continue
		}
		if e.pair.Response == nil || !e.pair.Response.Set.Superset(set) {
			continue
		}
		return e.pair.Clone(), nil
	}
	return Pair{}, ErrMiss
}

// Promote re-inserts the entry found at a prior lookup with a new, positive
// evaluation id, erasing the old entry so the hashed index never carries
// two entries with the same positive id. Used when an in-run request
// duplicates a journal-loaded (non-positive id) entry.
func (c *Cache) Promote(old Pair, newID int64) (Pair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.eraseLocked(old)

	promoted := old.Clone()
	promoted.EvaluationID = newID
	if err := c.insertLocked(promoted, true); err != nil {
		return Pair{}, err
	}
	c.log.WithFields(logrus.Fields{
		"old_id": old.EvaluationID,
		"new_id": newID,
	}).Debug("promoted journal entry to in-run status")
	return promoted, nil
}

func (c *Cache) eraseLocked(target Pair) {
	k := keyOf(target.InterfaceID, target.Variables)
	bucket := c.hashIndex[k]
	for i, e := range bucket {
		if e.pair.EvaluationID == target.EvaluationID {
			c.hashIndex[k] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	for i, e := range c.ordered {
		if e.pair.EvaluationID == target.EvaluationID {
			c.ordered = append(c.ordered[:i], c.ordered[i+1:]...)
			break
		}
	}
}

// Nearest returns the cached pair for interfaceID whose continuous
// variables are closest to vars by Euclidean distance, ties broken by
// insertion order (lowest order first). Used by failure-recovery's
// continuation fail-action, which has no active-set or tolerance
// constraint — it just needs the closest known-good point to step from.
func (c *Cache) Nearest(interfaceID string, vars variables.Set) (Pair, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best *entry
	bestDist := -1.0
	for _, e := range c.ordered {
		if e.pair.InterfaceID != interfaceID || e.pair.Response == nil {
			continue
		}
	d := euclidean(e.pair.Variables.Continuous, vars.Continuous)
		if best == nil || d < bestDist || (d == bestDist && e.order < best.order) {
			best = e
			bestDist = d
		}
	}
	if best == nil {
		return Pair{}, false
	}
	return best.pair.Clone(), true
}

func euclidean(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sumSq float64
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sumSq += d * d
	}
	return math.Sqrt(sumSq)
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ordered)
}

// LoadJournal eagerly replays every record from the restart journal into
// the hashed index, resolving duplicate keys to the latest entry written
// for that key (§6, restart journal contract). See DESIGN.md for why eager
// replay was chosen over lazy, on-miss journal scanning.
func (c *Cache) LoadJournal() error {
	if c.journal == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	pairs, err := c.journal.ReadAll()
	if err != nil {
		return fmt.Errorf("cache: journal replay failed: %w", err)
	}
	c.hashIndex = make(map[string][]*entry)
	c.ordered = nil
	c.nextSeq = 0
	for _, p := range pairs {
		// Replayed entries carry non-positive ids (see Pair.EvaluationID).
		if p.EvaluationID > 0 {
			p.EvaluationID = -p.EvaluationID
		}
		if err := c.insertLocked(p, false); err != nil {
			return err
		}
	}
	c.log.WithField("count", len(pairs)).Info("replayed restart journal")
	return nil
}
