package ledger

import (
	"container/list"
	"errors"
)

var (
	// ErrItemNotFound indicates no row with the given id.
	ErrItemNotFound = errors.New("ledger: item not found")
	// ErrDuplicateID indicates a row with the same id is already stored.
	ErrDuplicateID = errors.New("ledger: duplicate item id")
)

// Ledger keeps rows in insertion order with O(1) lookup and removal by id.
// It does not enforce product uniqueness or stock bounds.
type Ledger struct {
	order *list.List
	index map[string]*list.Element
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{order: list.New(), index: make(map[string]*list.Element)}
}

// Append adds item at the end.
func (l *Ledger) Append(item Item) error {
	if _, exists := l.index[item.ID]; exists {
		return ErrDuplicateID
	}
	l.index[item.ID] = l.order.PushBack(item)
	return nil
}

// Remove deletes the row with id and returns it.
func (l *Ledger) Remove(id string) (Item, bool) {
	el, ok := l.index[id]
	if !ok {
		return Item{}, false
	}
	delete(l.index, id)
	return l.order.Remove(el).(Item), true
}

// Get returns the row with id.
func (l *Ledger) Get(id string) (Item, bool) {
	el, ok := l.index[id]
	if !ok {
		return Item{}, false
	}
	return el.Value.(Item), true
}

// Update applies fn to a copy of the row and stores it only when fn succeeds.
// fn must not change the row id.
func (l *Ledger) Update(id string, fn func(*Item) error) (Item, error) {
	el, ok := l.index[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	item := el.Value.(Item)
	if err := fn(&item); err != nil {
		return Item{}, err
	}
	item.ID = id
	el.Value = item
	return item, nil
}

// All returns the rows in insertion order.
func (l *Ledger) All() []Item {
	out := make([]Item, 0, l.order.Len())
	for el := l.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(Item))
	}
	return out
}

// Len returns the number of rows.
func (l *Ledger) Len() int { return l.order.Len() }

// Reset drops every row.
func (l *Ledger) Reset() {
	l.order.Init()
	l.index = make(map[string]*list.Element)
}
