package cache

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/evalgo-org/evalcore/db/bolt"
)

const journalBucket = "restart_journal"

// Journal is the append-only restart stream backing the cache. It is a
// thin domain wrapper over db/bolt's generic bucket helpers: every write
// goes through a bbolt.Update transaction, which fsyncs before returning,
// satisfying the "durable before completion is reported" contract.
type Journal struct {
	db *bolt.DB
}

// OpenJournal opens (creating if necessary) the bbolt-backed restart
// journal at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := bolt.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cache: opening journal: %w", err)
	}
	if err := db.CreateBucket(journalBucket); err != nil {
		return nil, fmt.Errorf("cache: creating journal bucket: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying bbolt handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Write appends (or overwrites, for a repeated evaluation id) one record.
func (j *Journal) Write(pair Pair) error {
	key := strconv.FormatInt(pair.EvaluationID, 10)
	return j.db.PutJSON(journalBucket, key, pair.toWire())
}

// ReadAll reconstructs every pair currently in the journal. Duplicate keys
// cannot occur in bbolt (Put overwrites), which already gives "duplicates
// resolve to the latest entry for a given key" for free.
func (j *Journal) ReadAll() ([]Pair, error) {
	var pairs []Pair
	err := j.db.ForEach(journalBucket, func(_, v []byte) error {
		var w wireRecord
		if err := json.Unmarshal(v, &w); err != nil {
			return fmt.Errorf("cache: decoding journal record: %w", err)
		}
		pairs = append(pairs, fromWire(w))
		return nil
	})
	return pairs, err
}
