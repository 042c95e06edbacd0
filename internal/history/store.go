// Package history persists a log of completed relays so the operator can
// see what the bot has moved, via the /history chat command or the history
// CLI subcommand.
package history

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"git.mills.io/prologic/bitcask"
	log "github.com/sirupsen/logrus"
)

// Entry records one successfully relayed file.
type Entry struct {
	Link        string    `json:"link"`
	FileName    string    `json:"file_name"`
	Size        uint64    `json:"size"`
	ChatID      int64     `json:"chat_id"`
	Checksum    string    `json:"checksum,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Store wraps the bitcask instance holding transfer history.
type Store struct {
	db *bitcask.Bitcask
}

// Open initializes and returns a Store at the given directory path.
func Open(path string) (*Store, error) {
	db, err := bitcask.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store at %s: %w", path, err)
	}
	log.Infof("Transfer history opened at %s", path)
	return &Store{db: db}, nil
}

// Record appends an entry. Keys are zero-padded completion timestamps so
// lexicographic key order matches chronological order.
func (s *Store) Record(e Entry) error {
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now().UTC()
	}
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding history entry: %w", err)
	}
	key := []byte(fmt.Sprintf("%020d", e.CompletedAt.UnixNano()))
	if err := s.db.Put(key, value); err != nil {
		return fmt.Errorf("writing history entry: %w", err)
	}
	return nil
}

// List returns up to limit entries, newest first. limit <= 0 returns all.
func (s *Store) List(limit int) ([]Entry, error) {
	var keys []string
	err := s.db.Fold(func(key []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning history keys: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		value, err := s.db.Get([]byte(key))
		if err != nil {
			log.WithError(err).Warnf("Skipping unreadable history key %s", key)
			continue
		}
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			log.WithError(err).Warnf("Skipping malformed history entry %s", key)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Len returns the number of recorded entries.
func (s *Store) Len() int {
	return s.db.Len()
}

// Close closes the underlying store.
func (s *Store) Close() error {
	return s.db.Close()
}
