// Package review keeps human-reported issues about model output.
package review

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/ai-guard/internal/jsonstore"
	"github.com/spigell/ai-guard/internal/logger"
)

var (
	// ErrNotFound is returned when no item matches an identifier.
	ErrNotFound = errors.New("feedback not found")
	// ErrCategoryRequired is returned by Submit for a blank category.
	ErrCategoryRequired = errors.New("feedback category is required")
)

// Conventional categories; any non-empty category is accepted.
const (
	CategoryParseError    = "parse_error"
	CategoryBias          = "bias"
	CategoryHallucination = "hallucination"
	CategoryOther         = "other"
)

// Conventional statuses; the workflow is open-ended.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// MetadataSource is the metadata key naming the submission channel.
const MetadataSource = "source"

// Item is one feedback report. Description is always redacted.
type Item struct {
	FeedbackID    string            `json:"feedback_id"`
	Category      string            `json:"category"`
	Description   string            `json:"description"`
	SourceTraceID string            `json:"source_trace_id,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	Status        string            `json:"status"`
	Reporter      string            `json:"reporter,omitempty"`
	Metadata      map[string]string `json:"metadata"`
}

// Submission is the caller input for Submit.
type Submission struct {
	Category      string
	Description   string
	Reporter      string
	SourceTraceID string
	Metadata      map[string]string
}

// Redactor removes PII from free text.
type Redactor interface {
	Redact(text string) string
}

// Option customises a Queue.
type Option func(*Queue)

// WithClock replaces the time source used to stamp new items.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// Queue is the durable review queue.
type Queue struct {
	items    *jsonstore.Store[Item]
	redactor Redactor
	logger   *zap.Logger
	now      func() time.Time
}

// NewQueue opens the queue backed by path. Categories and descriptions are
// passed through redactor before they are stored or logged.
func NewQueue(path string, redactor Redactor, l *zap.Logger, opts ...Option) *Queue {
	l = logger.OrNop(l)
	q := &Queue{
		items:    jsonstore.New[Item](path, l),
		redactor: redactor,
		logger:   l,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Submit stores a new open item.
func (q *Queue) Submit(s Submission) (Item, error) {
	category := strings.TrimSpace(s.Category)
	if category == "" {
		return Item{}, ErrCategoryRequired
	}
	// Categories are free-form and end up in logs.
	category = q.redactor.Redact(category)

	metadata := make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		metadata[k] = v
	}

	item := Item{
		FeedbackID:    uuid.NewString(),
		Category:      category,
		Description:   q.redactor.Redact(s.Description),
		SourceTraceID: strings.TrimSpace(s.SourceTraceID),
		CreatedAt:     q.now().UTC(),
		Status:        StatusOpen,
		Reporter:      strings.TrimSpace(s.Reporter),
		Metadata:      metadata,
	}

	if err := q.items.Add(item); err != nil {
		return Item{}, fmt.Errorf("store feedback: %w", err)
	}

	fields := append([]zap.Field{
		zap.String("feedback_id", item.FeedbackID),
		zap.String("category", item.Category),
	}, logger.MetadataFields(metadata, MetadataSource)...)
	q.logger.Info("feedback submitted", fields...)

	return item, nil
}

// List returns items newest first. An empty status returns every item.
func (q *Queue) List(status string) []Item {
	all := q.items.All()

	items := all[:0]
	for _, item := range all {
		if status != "" && item.Status != status {
			continue
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items
}

// Get returns the item with the given identifier.
func (q *Queue) Get(id string) (Item, error) {
	for _, item := range q.items.All() {
		if item.FeedbackID == id {
			return item, nil
		}
	}
	return Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// UpdateStatus sets the status of one item and persists the queue.
func (q *Queue) UpdateStatus(id, status string) (Item, error) {
	status = strings.TrimSpace(status)
	if status == "" {
		return Item{}, errors.New("feedback status is required")
	}

	var updated Item
	found := false
	err := q.items.Update(func(items []Item) ([]Item, bool) {
		for i := range items {
			if items[i].FeedbackID == id {
				items[i].Status = status
				updated = items[i]
				found = true
				return items, true
			}
		}
		return items, false
	})
	if err != nil {
		return Item{}, fmt.Errorf("store feedback status: %w", err)
	}
	if !found {
		return Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	q.logger.Info("feedback status updated",
		zap.String("feedback_id", id),
		zap.String("status", status),
	)
	return updated, nil
}

// Close marks an item closed.
func (q *Queue) Close(id string) (Item, error) {
	return q.UpdateStatus(id, StatusClosed)
}

// PurgeOlderThan removes every item created before cutoff and reports how
// many were removed.
func (q *Queue) PurgeOlderThan(cutoff time.Time) (int, error) {
	removed := 0
	err := q.items.Update(func(items []Item) ([]Item, bool) {
		kept := items[:0]
		for _, item := range items {
			if item.CreatedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, item)
		}
		return kept, removed > 0
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Len returns the number of stored items.
func (q *Queue) Len() int {
	return q.items.Len()
}
