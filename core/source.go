package core

import "context"

// Event names a mutation notification
type Event string

const (
	OnCreate                  Event = "onCreate"
	OnUpdate                  Event = "onUpdate"
	OnDelete                  Event = "onDelete"
	OnChangeCustomQueryParams Event = "onChangeCustomQueryParams"
)

// MutationEvents are the events every source fires after a successful write
var MutationEvents = []Event{OnCreate, OnUpdate, OnDelete}

// EventHandler receives an event with the affected records
type EventHandler = Handler[Event, []Record]

// Source defines the interface every data source implements.
// Recoverable failures are reported as Status values, never as panics.
type Source interface {
	// KeyField names the field holding each record's key
	KeyField() string

	// Record operations
	Create(ctx context.Context, items []Record) Status
	Read(ctx context.Context, id any) (Record, Status)
	Update(ctx context.Context, partial Partial) Status
	Delete(ctx context.Context, id any) Status
	List(ctx context.Context, q Query) (*ListResult, Status)

	// GetSerializationData returns the cached outcome of q without blocking, or nil
	GetSerializationData(q Query) *CacheEntry

	// On subscribes to an event and returns the unsubscribe function
	On(event Event, h EventHandler) func()
}

// Remover is implemented by sources that can delete a record and return it in
// one step. Servers prefer it over a Read followed by Delete, which can echo a
// record that a concurrent request removed.
type Remover interface {
	Remove(ctx context.Context, id any) (Record, Status)
}

// Base carries the state shared by source implementations: the key field,
// the query cache and the event bus. Implementations embed it.
type Base struct {
	keyField string
	cache    *Cache
	events   *EventBus[Event, []Record]
}

// NewBase creates the shared state, seeding the cache from an optional bundle
func NewBase(keyField string, bundle *Bundle) Base {
	if keyField == "" {
		keyField = DefaultKeyField
	}
	b := Base{
		keyField: keyField,
		cache:    NewCache(),
		events:   NewEventBus[Event, []Record](),
	}
	if bundle != nil {
		b.cache.Seed(*bundle)
	}
	return b
}

// KeyField implements Source
func (b *Base) KeyField() string {
	return b.keyField
}

// GetSerializationData implements Source
func (b *Base) GetSerializationData(q Query) *CacheEntry {
	return b.cache.Load(q)
}

// On implements Source
func (b *Base) On(event Event, h EventHandler) func() {
	return b.events.Subscribe(event, h)
}

// Publish fires an event to the source's subscribers
func (b *Base) Publish(event Event, records []Record) {
	b.events.Publish(event, records)
}

// Cache exposes the query cache to implementations
func (b *Base) Cache() *Cache {
	return b.cache
}

// Unimplemented exposes the contract but panics with ErrNotImplemented on
// every record operation. It is a behavioral stub, not a usable source.
type Unimplemented struct {
	Base
}

// NewUnimplemented creates the stub source
func NewUnimplemented(keyField string) *Unimplemented {
	return &Unimplemented{Base: NewBase(keyField, nil)}
}

// Create implements Source.
func (u *Unimplemented) Create(ctx context.Context, items []Record) Status {
	panic(ErrNotImplemented)
}

// Read implements Source.
func (u *Unimplemented) Read(ctx context.Context, id any) (Record, Status) {
	panic(ErrNotImplemented)
}

// Update implements Source.
func (u *Unimplemented) Update(ctx context.Context, partial Partial) Status {
	panic(ErrNotImplemented)
}

// Delete implements Source.
func (u *Unimplemented) Delete(ctx context.Context, id any) Status {
	panic(ErrNotImplemented)
}

// List implements Source.
func (u *Unimplemented) List(ctx context.Context, q Query) (*ListResult, Status) {
	panic(ErrNotImplemented)
}

var _ Source = (*Unimplemented)(nil)
