package chatsync

import (
	"sort"

	"pairchat/internal/domain"
)

// Status of a timeline entry.
type Status int

const (
	Confirmed Status = iota
	Pending
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Failed:
		return "failed"
	default:
		return "confirmed"
	}
}

// Entry is one rendered row of a conversation view. Confirmed entries carry
// the store record; provisional ones carry a LocalID, the sender's cached
// profile in Message.Sender and, once failed, the write error.
type Entry struct {
	LocalID string
	Message domain.Message
	Status  Status
	Err     error

	draft domain.Draft
}

// Provisional reports whether the entry is not yet confirmed by the store.
func (e Entry) Provisional() bool {
	return e.LocalID != ""
}

// Timeline keeps the two layers of a view: confirmed messages keyed by
// server id in (created_at, id) order, and the provisional overlay keyed by
// local id in submission order. It is not safe for concurrent use.
type Timeline struct {
	confirmed []*domain.Message
	ids       map[int64]struct{}

	pending []*Entry
	local   map[string]*Entry
}

func NewTimeline() *Timeline {
	return &Timeline{
		ids:   make(map[int64]struct{}),
		local: make(map[string]*Entry),
	}
}

// Upsert inserts m at its ordered position. Messages are immutable, so a
// known id is a no-op. It reports whether the timeline changed.
func (t *Timeline) Upsert(m *domain.Message) bool {
	if m == nil {
		return false
	}
	if _, ok := t.ids[m.ID]; ok {
		return false
	}
	cp := *m
	i := sort.Search(len(t.confirmed), func(i int) bool {
		return cp.Before(t.confirmed[i])
	})
	t.confirmed = append(t.confirmed, nil)
	copy(t.confirmed[i+1:], t.confirmed[i:])
	t.confirmed[i] = &cp
	t.ids[cp.ID] = struct{}{}
	return true
}

// MergeAll upserts a batch, typically a fetched history page.
func (t *Timeline) MergeAll(ms []*domain.Message) bool {
	changed := false
	for _, m := range ms {
		if t.Upsert(m) {
			changed = true
		}
	}
	return changed
}

// AddProvisional appends an optimistic entry to the overlay.
func (t *Timeline) AddProvisional(e Entry) {
	if e.LocalID == "" {
		return
	}
	if old, ok := t.local[e.LocalID]; ok {
		*old = e
		return
	}
	cp := e
	t.pending = append(t.pending, &cp)
	t.local[e.LocalID] = &cp
}

// Confirm replaces the provisional entry localID with the authoritative
// record. If the feed already delivered m the upsert is a no-op and only the
// provisional entry goes away. A record without a sender profile keeps the
// provisional entry's.
func (t *Timeline) Confirm(localID string, m *domain.Message) bool {
	if e, ok := t.local[localID]; ok && m != nil && m.Sender == nil && e.Message.Sender != nil {
		cp := *m
		cp.Sender = e.Message.Sender
		m = &cp
	}
	removed := t.Remove(localID)
	return t.Upsert(m) || removed
}

// Fail flags a provisional entry as failed.
func (t *Timeline) Fail(localID string, err error) bool {
	e, ok := t.local[localID]
	if !ok {
		return false
	}
	e.Status = Failed
	e.Err = err
	return true
}

// MarkPending puts a failed entry back in flight.
func (t *Timeline) MarkPending(localID string) (Entry, bool) {
	e, ok := t.local[localID]
	if !ok {
		return Entry{}, false
	}
	e.Status = Pending
	e.Err = nil
	return *e, true
}

// Provisional returns a copy of the overlay entry localID.
func (t *Timeline) Provisional(localID string) (Entry, bool) {
	e, ok := t.local[localID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Remove drops a provisional entry.
func (t *Timeline) Remove(localID string) bool {
	if _, ok := t.local[localID]; !ok {
		return false
	}
	delete(t.local, localID)
	for i, e := range t.pending {
		if e.LocalID == localID {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			break
		}
	}
	return true
}

// DropProvisional discards the whole overlay.
func (t *Timeline) DropProvisional() {
	t.pending = nil
	t.local = make(map[string]*Entry)
}

// Len returns the number of confirmed messages.
func (t *Timeline) Len() int {
	return len(t.confirmed)
}

// Entries returns the merged rendering of both layers.
func (t *Timeline) Entries() []Entry {
	return Merge(t.confirmed, t.pending)
}

// Merge renders confirmed messages in order followed by the provisional
// overlay in submission order. A provisional entry whose message id is
// already confirmed is skipped, so one message never renders twice.
func Merge(confirmed []*domain.Message, overlay []*Entry) []Entry {
	out := make([]Entry, 0, len(confirmed)+len(overlay))
	seen := make(map[int64]struct{}, len(confirmed))
	for _, m := range confirmed {
		seen[m.ID] = struct{}{}
		out = append(out, Entry{Message: *m, Status: Confirmed})
	}
	for _, e := range overlay {
		if e.Message.ID != 0 {
			if _, ok := seen[e.Message.ID]; ok {
				continue
			}
		}
		out = append(out, *e)
	}
	return out
}
