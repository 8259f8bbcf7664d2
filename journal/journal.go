// Package journal keeps a persistent history of replay runs. It is an
// audit log for operators and the watch loop; the replay engine never
// reads it, so replays stay stateless between runs.
package journal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v3"

	"github.com/geodiff-tools/registry-replay/metrics"
)

const runPrefix = "run:"

// Entry is one recorded replay run.
type Entry struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	StartedAt int64  `json:"startedAt"`
	Total     int    `json:"total"`
	Applied   int    `json:"applied"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
}

type Journal interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

type badgerJournal struct {
	db      *badger.DB
	metrics *metrics.Metrics
}

func New(path string, metrics *metrics.Metrics) (Journal, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable Badger's internal logger

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &badgerJournal{db: db, metrics: metrics}, nil
}

func (j *badgerJournal) Append(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		j.metrics.IncJournalRequest("append", false)
		return err
	}

	// Keys sort by start time so List can walk newest-first.
	key := fmt.Sprintf("%s%020d:%s", runPrefix, entry.StartedAt, entry.ID)
	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	j.metrics.IncJournalRequest("append", err == nil)
	return err
}

func (j *badgerJournal) List(ctx context.Context, limit int) ([]Entry, error) {
	entries := []Entry{}

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(runPrefix)
		seek := append([]byte(runPrefix), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				var entry Entry
				if err := json.Unmarshal(val, &entry); err != nil {
					return err
				}
				entries = append(entries, entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	j.metrics.IncJournalRequest("list", err == nil)
	return entries, err
}

func (j *badgerJournal) Close() error {
	return j.db.Close()
}
