package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/offerwatch/internal/core/domain"
	"github.com/vietddude/offerwatch/internal/infra/storage"
)

type eventKey struct {
	txDigest string
	eventSeq int
}

// state is everything a unit of work may change. Units of work mutate a private copy
// and swap it in on commit.
type state struct {
	offers     []*domain.Offer
	placed     map[eventKey]int64
	events     map[eventKey]domain.EventEnvelope
	watermarks map[string]*domain.Watermark
	nextID     int64
}

func (s *state) clone() *state {
	c := &state{
		offers:     make([]*domain.Offer, len(s.offers)),
		placed:     make(map[eventKey]int64, len(s.placed)),
		events:     make(map[eventKey]domain.EventEnvelope, len(s.events)),
		watermarks: make(map[string]*domain.Watermark, len(s.watermarks)),
		nextID:     s.nextID,
	}
	for i, o := range s.offers {
		c.offers[i] = o.Clone()
	}
	for k, v := range s.placed {
		c.placed[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.watermarks {
		wm := *v
		c.watermarks[k] = &wm
	}
	return c
}

// MemoryStorage is an in-process store. Units of work are serialized: Begin blocks
// until the previous one commits or rolls back, or until its context is done.
type MemoryStorage struct {
	mu     sync.RWMutex
	// writer holds one token while a unit of work or maintenance write is open.
	writer chan struct{}
	data   *state
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		writer: make(chan struct{}, 1),
		data: &state{
			placed:     make(map[eventKey]int64),
			events:     make(map[eventKey]domain.EventEnvelope),
			watermarks: make(map[string]*domain.Watermark),
			nextID:     1,
		},
	}
}

var _ storage.Store = (*MemoryStorage)(nil)

func (m *MemoryStorage) Offers() storage.OfferReader {
	return &OfferRepo{store: m}
}

func (m *MemoryStorage) Watermarks() storage.WatermarkRepository {
	return &WatermarkRepo{store: m}
}

func (m *MemoryStorage) Events() storage.EventRepository {
	return &EventRepo{store: m}
}

func (m *MemoryStorage) Health(ctx context.Context) error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

// -----------------------------------------------------------------------------
// Unit of Work
// -----------------------------------------------------------------------------

// lockWriter waits for the writer token or for ctx to be done.
func (m *MemoryStorage) lockWriter(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case m.writer <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MemoryStorage) unlockWriter() {
	<-m.writer
}

// Begin opens a unit of work over a snapshot of the store.
func (m *MemoryStorage) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	if err := m.lockWriter(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	snapshot := m.data.clone()
	m.mu.RUnlock()

	return &UnitOfWork{store: m, data: snapshot}, nil
}

type UnitOfWork struct {
	store *MemoryStorage
	data  *state
	done  bool
}

func (u *UnitOfWork) check(ctx context.Context) error {
	if u.done {
		return storage.ErrTxDone
	}
	return ctx.Err()
}

func (u *UnitOfWork) InsertOffer(ctx context.Context, offer *domain.Offer) (bool, error) {
	if err := u.check(ctx); err != nil {
		return false, err
	}
	key := eventKey{offer.PlacedTxDigest, offer.PlacedEventSeq}
	if id, ok := u.data.placed[key]; ok {
		offer.ID = id
		return false, nil
	}

	offer.ID = u.data.nextID
	u.data.nextID++
	u.data.offers = append(u.data.offers, offer.Clone())
	u.data.placed[key] = offer.ID
	return true, nil
}

func (u *UnitOfWork) LatestOpenOffer(ctx context.Context, domainName, buyer string) (*domain.Offer, error) {
	if err := u.check(ctx); err != nil {
		return nil, err
	}
	return latest(u.data.offers, domainName, buyer, true), nil
}

func (u *UnitOfWork) LatestOffer(ctx context.Context, domainName, buyer string) (*domain.Offer, error) {
	if err := u.check(ctx); err != nil {
		return nil, err
	}
	return latest(u.data.offers, domainName, buyer, false), nil
}

func (u *UnitOfWork) UpdateOffer(ctx context.Context, offer *domain.Offer) error {
	if err := u.check(ctx); err != nil {
		return err
	}
	for i, o := range u.data.offers {
		if o.ID == offer.ID {
			u.data.offers[i] = offer.Clone()
			return nil
		}
	}
	return storage.ErrOfferNotFound
}

func (u *UnitOfWork) SaveEvents(ctx context.Context, events []domain.EventEnvelope) error {
	if err := u.check(ctx); err != nil {
		return err
	}
	for _, ev := range events {
		key := eventKey{ev.TxDigest, ev.EventSeq}
		if _, ok := u.data.events[key]; !ok {
			u.data.events[key] = ev
		}
	}
	return nil
}

func (u *UnitOfWork) AdvanceWatermark(ctx context.Context, wm domain.Watermark) error {
	if err := u.check(ctx); err != nil {
		return err
	}
	if cur, ok := u.data.watermarks[wm.Pipeline]; ok && cur.CheckpointHiInclusive >= wm.CheckpointHiInclusive {
		return fmt.Errorf("%w: %d <= %d", storage.ErrWatermarkRegressed, wm.CheckpointHiInclusive, cur.CheckpointHiInclusive)
	}
	wm.UpdatedAt = time.Now().Unix()
	u.data.watermarks[wm.Pipeline] = &wm
	return nil
}

// Commit publishes the snapshot and releases the writer lock.
func (u *UnitOfWork) Commit() error {
	if u.done {
		return storage.ErrTxDone
	}
	u.done = true

	u.store.mu.Lock()
	u.store.data = u.data
	u.store.mu.Unlock()

	u.store.unlockWriter()
	return nil
}

// Rollback discards the snapshot. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	u.store.unlockWriter()
	return nil
}

// latest picks the newest row for the pair by updated_at, then id.
func latest(offers []*domain.Offer, domainName, buyer string, openOnly bool) *domain.Offer {
	var best *domain.Offer
	for _, o := range offers {
		if o.DomainName != domainName || o.Buyer != buyer {
			continue
		}
		if openOnly && o.Status.IsTerminal() {
			continue
		}
		if best == nil || newer(o, best) {
			best = o
		}
	}
	if best == nil {
		return nil
	}
	return best.Clone()
}

func newer(a, b *domain.Offer) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID > b.ID
}

// -----------------------------------------------------------------------------
// Offer Repository
// -----------------------------------------------------------------------------

type OfferRepo struct {
	store *MemoryStorage
}

func (r *OfferRepo) Latest(ctx context.Context, domainName, buyer string) (*domain.Offer, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return latest(r.store.data.offers, domainName, buyer, false), nil
}

func (r *OfferRepo) ListByDomain(ctx context.Context, domainName string, limit int) ([]*domain.Offer, error) {
	r.store.mu.RLock()
	var out []*domain.Offer
	for _, o := range r.store.data.offers {
		if o.DomainName == domainName {
			out = append(out, o.Clone())
		}
	}
	r.store.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return newer(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Watermark Repository
// -----------------------------------------------------------------------------

type WatermarkRepo struct {
	store *MemoryStorage
}

func (r *WatermarkRepo) Get(ctx context.Context, pipeline string) (*domain.Watermark, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	wm, ok := r.store.data.watermarks[pipeline]
	if !ok {
		return nil, nil
	}
	c := *wm
	return &c, nil
}

func (r *WatermarkRepo) List(ctx context.Context) ([]*domain.Watermark, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.Watermark, 0, len(r.store.data.watermarks))
	for _, wm := range r.store.data.watermarks {
		c := *wm
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pipeline < out[j].Pipeline })
	return out, nil
}

// Reset takes the writer lock so it never interleaves with a batch.
func (r *WatermarkRepo) Reset(ctx context.Context, pipeline string, checkpoint uint64) error {
	if err := r.store.lockWriter(ctx); err != nil {
		return err
	}
	defer r.store.unlockWriter()

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.data.watermarks[pipeline] = &domain.Watermark{
		Pipeline:              pipeline,
		CheckpointHiInclusive: checkpoint,
		UpdatedAt:             time.Now().Unix(),
	}
	return nil
}

// -----------------------------------------------------------------------------
// Event Repository
// -----------------------------------------------------------------------------

type EventRepo struct {
	store *MemoryStorage
}

func (r *EventRepo) Count(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.store.data.events), nil
}

// DeleteOlderThan waits for the running unit of work so the pruned events are not
// brought back by its commit.
func (r *EventRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	if err := r.store.lockWriter(ctx); err != nil {
		return 0, err
	}
	defer r.store.unlockWriter()

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for k, ev := range r.store.data.events {
		if ev.CreatedAt.Before(before) {
			delete(r.store.data.events, k)
			n++
		}
	}
	return n, nil
}
