package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukerupert/chorgi/internal/kv"
	"github.com/dukerupert/chorgi/internal/model"
)

const childrenKey = "children"

var ErrNotFound = errors.New("child not found")

func personalCalendarsKey(childID string) string { return childID + "-personal-calendars" }
func sharedCalendarsKey(childID string) string   { return childID + "-shared-calendars" }

// Store owns the children list and each child's calendar selections.
type Store struct {
	kv     kv.Store
	logger *slog.Logger

	// mu guards read-modify-write of the children list.
	mu sync.Mutex
}

func NewStore(s kv.Store, logger *slog.Logger) *Store {
	return &Store{kv: s, logger: logger}
}

func (s *Store) List(ctx context.Context) []model.Child {
	children := kv.Load[[]model.Child](ctx, s.kv, childrenKey, s.logger)
	if children == nil {
		children = []model.Child{}
	}
	return children
}

func (s *Store) Get(ctx context.Context, id string) (*model.Child, error) {
	for _, c := range s.List(ctx) {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// GetByGoogleID looks a child up by provider subject id.
func (s *Store) GetByGoogleID(ctx context.Context, googleID string) (*model.Child, error) {
	for _, c := range s.List(ctx) {
		if c.GoogleID == googleID {
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// Upsert adds child, or replaces the existing entry with the same id.
func (s *Store) Upsert(ctx context.Context, child model.Child) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	children := s.List(ctx)
	replaced := false
	for i := range children {
		if children[i].ID == child.ID {
			children[i] = child
			replaced = true
			break
		}
	}
	if !replaced {
		children = append(children, child)
	}
	return s.save(ctx, children)
}

// UpdateCredential replaces the stored token bundle of one child.
func (s *Store) UpdateCredential(ctx context.Context, id string, cred model.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	children := s.List(ctx)
	for i := range children {
		if children[i].ID == id {
			children[i].GoogleToken = cred
			return s.save(ctx, children)
		}
	}
	return ErrNotFound
}

// Remove deletes the child and its calendar selections. Completion records
// are left in place; they are keyed by child id and never read again.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	children := s.List(ctx)
	kept := children[:0]
	found := false
	for _, c := range children {
		if c.ID == id {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		return ErrNotFound
	}
	if err := s.save(ctx, kept); err != nil {
		return err
	}
	for _, key := range []string{personalCalendarsKey(id), sharedCalendarsKey(id)} {
		if err := s.kv.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}

func (s *Store) save(ctx context.Context, children []model.Child) error {
	if err := kv.Save(ctx, s.kv, childrenKey, children); err != nil {
		return fmt.Errorf("save children: %w", err)
	}
	return nil
}

// Selection returns the calendars the child reads personal and shared chores from.
func (s *Store) Selection(ctx context.Context, childID string) model.CalendarSelection {
	sel := model.CalendarSelection{
		Personal: kv.Load[[]string](ctx, s.kv, personalCalendarsKey(childID), s.logger),
		Shared:   kv.Load[[]string](ctx, s.kv, sharedCalendarsKey(childID), s.logger),
	}
	if sel.Personal == nil {
		sel.Personal = []string{}
	}
	if sel.Shared == nil {
		sel.Shared = []string{}
	}
	return sel
}

func (s *Store) SetPersonalCalendars(ctx context.Context, childID string, ids []string) error {
	return kv.Save(ctx, s.kv, personalCalendarsKey(childID), nonNil(ids))
}

func (s *Store) SetSharedCalendars(ctx context.Context, childID string, ids []string) error {
	return kv.Save(ctx, s.kv, sharedCalendarsKey(childID), nonNil(ids))
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
