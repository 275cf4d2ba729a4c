// Package tracking persists what the daemon knows about every resource it
// has ever seen: first/last observation, deletion attempts and their
// outcomes, and the in-flight markers that serialize attempts across
// overlapping runs and process restarts.
package tracking

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/cloudreap/cloudreap/types"
)

var bucketTracked = []byte("tracked")

// TrackedResource is one persisted row, keyed (tenant, type, id).
type TrackedResource struct {
	Tenant        string             `json:"tenant"`
	Type          types.ResourceType `json:"type"`
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	FirstSeen     time.Time          `json:"first_seen"`
	LastSeen      time.Time          `json:"last_seen"`
	LastAttempt   time.Time          `json:"last_attempt,omitzero"`
	Attempts      int                `json:"attempts"`
	Outcome       types.Outcome      `json:"outcome"`
	InFlight      bool               `json:"in_flight"`
	InFlightSince time.Time          `json:"in_flight_since,omitzero"`
}

// Key returns the composite row key.
func (r *TrackedResource) Key() string {
	return makeKey(r.Tenant, r.Type, r.ID)
}

func makeKey(tenant string, t types.ResourceType, id string) string {
	return fmt.Sprintf("%s/%s/%s", tenant, t, id)
}

// Tracker is the narrow interface the evaluator and executor depend on, so
// both stay test-double friendly.
type Tracker interface {
	UpsertSeen(tenant string, res types.Resource, now time.Time) error
	Get(tenant string, t types.ResourceType, id string) (*TrackedResource, bool)
	RecordAttempt(tenant string, t types.ResourceType, id string, outcome types.Outcome, now time.Time) error
	MarkInFlight(tenant string, t types.ResourceType, id string, now time.Time) (bool, error)
	ClearInFlight(tenant string, t types.ResourceType, id string) error
	IsInFlight(tenant string, t types.ResourceType, id string, now time.Time) bool
}

// Store is the bbolt-backed Tracker with an in-memory btree index for reads.
type Store struct {
	mu           sync.RWMutex
	db           *bbolt.DB
	index        *btree.BTreeG[*TrackedResource]
	reclaimAfter time.Duration
}

// Open opens (or creates) the store at path. In-flight markers older than
// reclaimAfter are treated as stale leftovers of a crashed run and become
// reclaimable.
func Open(path string, reclaimAfter time.Duration) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open tracking database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTracked)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db: db,
		index: btree.NewG[*TrackedResource](32, func(a, b *TrackedResource) bool {
			return a.Key() < b.Key()
		}),
		reclaimAfter: reclaimAfter,
	}

	if err := s.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertSeen records an observation: creates the row on first sight, bumps
// last-seen otherwise.
func (s *Store) UpsertSeen(tenant string, res types.Resource, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, found := s.lookup(tenant, res.Type, res.ID)
	if !found {
		row = &TrackedResource{
			Tenant:    tenant,
			Type:      res.Type,
			ID:        res.ID,
			Name:      res.Name,
			FirstSeen: now,
			Outcome:   types.OutcomePending,
		}
	}
	row.Name = res.Name
	row.LastSeen = now

	return s.putRow(row)
}

// Get returns a copy of the tracked row.
func (s *Store) Get(tenant string, t types.ResourceType, id string) (*TrackedResource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, found := s.lookup(tenant, t, id)
	if !found {
		return nil, false
	}
	copied := *row
	return &copied, true
}

// RecordAttempt stores the outcome of a deletion attempt and clears the
// in-flight marker. This is the single write path for attempt results.
func (s *Store) RecordAttempt(tenant string, t types.ResourceType, id string, outcome types.Outcome, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, found := s.lookup(tenant, t, id)
	if !found {
		return fmt.Errorf("cannot record attempt for untracked resource %s", makeKey(tenant, t, id))
	}

	row.LastAttempt = now
	row.Attempts++
	row.Outcome = outcome
	row.InFlight = false
	row.InFlightSince = time.Time{}

	return s.putRow(row)
}

// MarkInFlight claims the resource for a deletion attempt. It returns false
// without error when another still-live attempt already holds the marker.
// Stale markers past the reclaim window are taken over.
func (s *Store) MarkInFlight(tenant string, t types.ResourceType, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, found := s.lookup(tenant, t, id)
	if !found {
		return false, fmt.Errorf("cannot mark untracked resource %s in flight", makeKey(tenant, t, id))
	}

	if row.InFlight && !s.stale(row, now) {
		return false, nil
	}

	row.InFlight = true
	row.InFlightSince = now

	if err := s.putRow(row); err != nil {
		return false, err
	}
	return true, nil
}

// ClearInFlight drops the marker without recording an attempt. Used when a
// claimed task is abandoned before the delete call is made.
func (s *Store) ClearInFlight(tenant string, t types.ResourceType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, found := s.lookup(tenant, t, id)
	if !found {
		return nil
	}

	row.InFlight = false
	row.InFlightSince = time.Time{}

	return s.putRow(row)
}

// IsInFlight reports whether a live attempt holds the resource. Stale
// markers do not count.
func (s *Store) IsInFlight(tenant string, t types.ResourceType, id string, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, found := s.lookup(tenant, t, id)
	if !found {
		return false
	}
	return row.InFlight && !s.stale(row, now)
}

// Prune removes rows for resources confirmed deleted whose record has aged
// past retention. Rows are never pruned before deletion confirmation, which
// would invite duplicate delete storms on the next observation.
func (s *Store) Prune(retention time.Duration, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-retention)

	var doomed []*TrackedResource
	s.index.Ascend(func(row *TrackedResource) bool {
		if row.Outcome.Deleted() && !row.InFlight && row.LastAttempt.Before(cutoff) {
			doomed = append(doomed, row)
		}
		return true
	})

	for _, row := range doomed {
		err := s.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(bucketTracked).Delete([]byte(row.Key()))
		})
		if err != nil {
			return 0, err
		}
		s.index.Delete(row)
	}

	return len(doomed), nil
}

// Len returns the number of tracked rows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len()
}

func (s *Store) stale(row *TrackedResource, now time.Time) bool {
	if s.reclaimAfter <= 0 {
		return false
	}
	return now.Sub(row.InFlightSince) >= s.reclaimAfter
}

func (s *Store) lookup(tenant string, t types.ResourceType, id string) (*TrackedResource, bool) {
	probe := &TrackedResource{Tenant: tenant, Type: t, ID: id}
	return s.index.Get(probe)
}

// putRow writes one row transactionally and mirrors it into the index.
func (s *Store) putRow(row *TrackedResource) error {
	value, err := json.Marshal(row)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTracked).Put([]byte(row.Key()), value)
	})
	if err != nil {
		return err
	}

	s.index.ReplaceOrInsert(row)
	return nil
}

func (s *Store) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTracked).ForEach(func(k, v []byte) error {
			var row TrackedResource
			if err := json.Unmarshal(v, &row); err != nil {
				return fmt.Errorf("corrupt tracking row %s: %w", k, err)
			}
			s.index.ReplaceOrInsert(&row)
			return nil
		})
	})
}
