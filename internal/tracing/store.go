// Package tracing persists one record per terminal model call.
package tracing

import (
	"sort"
	"time"

	"github.com/spigell/ai-guard/internal/jsonstore"

	"go.uber.org/zap"
)

// DefaultListLimit is used by ListRecent when no positive limit is given.
const DefaultListLimit = 50

// Store is the durable trace log.
type Store struct {
	records *jsonstore.Store[Record]
}

// NewStore opens the trace log backed by path.
func NewStore(path string, logger *zap.Logger) *Store {
	return &Store{records: jsonstore.New[Record](path, logger)}
}

// Add persists one record.
func (s *Store) Add(record Record) error {
	return s.records.Add(record)
}

// ListRecent returns up to limit records, most recently created first.
func (s *Store) ListRecent(limit int) []Record {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	records := s.records.All()
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	if len(records) > limit {
		records = records[:limit]
	}
	return records
}

// Get returns the record with the given identifier.
func (s *Store) Get(traceID string) (Record, bool) {
	for _, record := range s.records.All() {
		if record.TraceID == traceID {
			return record, true
		}
	}
	return Record{}, false
}

// PurgeOlderThan removes every record created before cutoff and reports how
// many were removed.
func (s *Store) PurgeOlderThan(cutoff time.Time) (int, error) {
	removed := 0
	err := s.records.Update(func(records []Record) ([]Record, bool) {
		kept := records[:0]
		for _, record := range records {
			if record.CreatedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, record)
		}
		return kept, removed > 0
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	return s.records.Len()
}
