// Package working is the entity's short-term scratchpad: a small,
// importance-ranked list of what is on its mind, plus per-conversation
// history. Everything lives in the TTL cache and expires on its own.
package working

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hmennen90/open-entity-sub000/pkg/cache"
)

const (
	DefaultTTL      = 60 * time.Minute
	DefaultMaxItems = 20
	// DefaultMaxTurns is how much of a conversation is kept.
	DefaultMaxTurns = 20
)

// Item is one thing on the entity's mind.
type Item struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Importance float64   `json:"importance"`
	Category   string    `json:"category,omitempty"`
	AddedAt    time.Time `json:"added_at"`
}

// Turn is one message of a conversation.
type Turn struct {
	ID      string    `json:"id"`
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Options configures a Store.
type Options struct {
	TTL       time.Duration
	MaxItems  int
	MaxTurns  int
	Namespace string // key prefix, default "entity"
}

// Store is the working memory of one entity.
type Store struct {
	cache    cache.Cache
	ttl      time.Duration
	maxItems int
	maxTurns int
	prefix   string
	now      func() time.Time
}

// NewStore creates a working memory on top of c.
func NewStore(c cache.Cache, opts Options) *Store {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = DefaultMaxItems
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	if opts.Namespace == "" {
		opts.Namespace = "entity"
	}
	return &Store{
		cache:    c,
		ttl:      opts.TTL,
		maxItems: opts.MaxItems,
		maxTurns: opts.MaxTurns,
		prefix:   opts.Namespace + ":working:",
		now:      time.Now,
	}
}

func (s *Store) itemsKey() string { return s.prefix + "items" }

func (s *Store) conversationKey(id string) string { return s.prefix + "conversation:" + id }

// Add puts content at the front of working memory. When the list grows
// past MaxItems it is ranked by importance, then recency, and truncated.
func (s *Store) Add(ctx context.Context, content string, importance float64, category string) (Item, error) {
	item := Item{
		ID:         uuid.NewString(),
		Content:    content,
		Importance: min(max(importance, 0), 1),
		Category:   category,
		AddedAt:    s.now().UTC(),
	}

	items, err := s.Items(ctx)
	if err != nil {
		return Item{}, err
	}
	items = append([]Item{item}, items...)

	if len(items) > s.maxItems {
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].Importance != items[j].Importance {
				return items[i].Importance > items[j].Importance
			}
			return items[i].AddedAt.After(items[j].AddedAt)
		})
		items = items[:s.maxItems]
	}

	if err := cache.SetJSON(ctx, s.cache, s.itemsKey(), items, s.ttl); err != nil {
		return Item{}, fmt.Errorf("store working memory: %w", err)
	}
	return item, nil
}

// Items returns the stored items in their stored order.
func (s *Store) Items(ctx context.Context) ([]Item, error) {
	var items []Item
	err := cache.GetJSON(ctx, s.cache, s.itemsKey(), &items)
	if errors.Is(err, cache.ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load working memory: %w", err)
	}
	return items, nil
}

// CurrentFocus returns the limit most important items.
func (s *Store) CurrentFocus(ctx context.Context, limit int) ([]Item, error) {
	items, err := s.Items(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Importance > items[j].Importance
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// HasTopic reports whether any item mentions topic, ignoring case.
func (s *Store) HasTopic(ctx context.Context, topic string) (bool, error) {
	items, err := s.Items(ctx)
	if err != nil {
		return false, err
	}
	topic = strings.ToLower(topic)
	for _, it := range items {
		if strings.Contains(strings.ToLower(it.Content), topic) {
			return true, nil
		}
	}
	return false, nil
}

// Reset clears the item list. Conversations expire on their own.
func (s *Store) Reset(ctx context.Context) error {
	return s.cache.Delete(ctx, s.itemsKey())
}

// Conversation returns the stored turns of a conversation, oldest first.
func (s *Store) Conversation(ctx context.Context, id string) ([]Turn, error) {
	var turns []Turn
	err := cache.GetJSON(ctx, s.cache, s.conversationKey(id), &turns)
	if errors.Is(err, cache.ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	return turns, nil
}

// SetConversation replaces a conversation, keeping the newest MaxTurns.
func (s *Store) SetConversation(ctx context.Context, id string, turns []Turn) error {
	if len(turns) > s.maxTurns {
		turns = turns[len(turns)-s.maxTurns:]
	}
	if err := cache.SetJSON(ctx, s.cache, s.conversationKey(id), turns, s.ttl); err != nil {
		return fmt.Errorf("store conversation %s: %w", id, err)
	}
	return nil
}

// AppendTurns adds turns to a conversation and refreshes its TTL.
func (s *Store) AppendTurns(ctx context.Context, id string, turns ...Turn) error {
	existing, err := s.Conversation(ctx, id)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	for _, t := range turns {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.At.IsZero() {
			t.At = now
		}
		existing = append(existing, t)
	}
	return s.SetConversation(ctx, id, existing)
}
