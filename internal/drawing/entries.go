package drawing

import (
	"context"
	"slices"

	"drawbot/internal/storage"
)

// EntryBook keeps the set of entered user ids per announcement. It is the
// ParticipantSource used in production.
type EntryBook struct {
	st storage.Store
}

func NewEntryBook(st storage.Store) *EntryBook { return &EntryBook{st: st} }

// Fetch returns the sorted entrant ids for ref.
func (b *EntryBook) Fetch(ctx context.Context, ref AnnouncementRef) ([]string, error) {
	c, err := b.st.Get(ctx, CollectionEntries)
	if err != nil {
		return nil, err
	}
	ids, _, err := storage.GetRecord[[]string](c, ref.Key())
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (b *EntryBook) Count(ctx context.Context, ref AnnouncementRef) (int, error) {
	ids, err := b.Fetch(ctx, ref)
	return len(ids), err
}

// Add enters userID under ref. Adding an existing entrant changes nothing.
func (b *EntryBook) Add(ctx context.Context, ref AnnouncementRef, userID string) (EntryResult, error) {
	return b.mutate(ctx, ref, func(ids []string) []string {
		if _, found := slices.BinarySearch(ids, userID); found {
			return ids
		}
		return normalizeIDs(append(ids, userID))
	})
}

// Remove withdraws userID from ref.
func (b *EntryBook) Remove(ctx context.Context, ref AnnouncementRef, userID string) (EntryResult, error) {
	return b.mutate(ctx, ref, func(ids []string) []string {
		i, found := slices.BinarySearch(ids, userID)
		if !found {
			return ids
		}
		return slices.Delete(slices.Clone(ids), i, i+1)
	})
}

func (b *EntryBook) mutate(ctx context.Context, ref AnnouncementRef, fn func([]string) []string) (EntryResult, error) {
	var res EntryResult
	key := ref.Key()
	_, err := b.st.Transact(ctx, CollectionEntries, func(c storage.Content) (storage.Content, error) {
		ids, _, err := storage.GetRecord[[]string](c, key)
		if err != nil {
			return c, err
		}
		next := fn(ids)
		res.Count = len(next)
		res.Changed = len(next) != len(ids)
		if !res.Changed {
			return c, nil
		}
		if len(next) == 0 {
			storage.DeleteRecord(&c, key)
			return c, nil
		}
		return c, storage.SetRecord(&c, key, next)
	})
	if err != nil {
		return EntryResult{}, err
	}
	return res, nil
}

// Drop deletes the entry sets of refs.
func (b *EntryBook) Drop(ctx context.Context, refs ...AnnouncementRef) error {
	if len(refs) == 0 {
		return nil
	}
	_, err := b.st.Transact(ctx, CollectionEntries, func(c storage.Content) (storage.Content, error) {
		for _, r := range refs {
			storage.DeleteRecord(&c, r.Key())
		}
		return c, nil
	})
	return err
}
