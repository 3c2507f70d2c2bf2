// Package memory is an in-process Store used for local development and tests
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lyzr/toolcrib/common/models"
	"github.com/lyzr/toolcrib/common/store"
)

// Store keeps every table in maps guarded by a single RWMutex
type Store struct {
	mu           sync.RWMutex
	assets       map[string]*models.Asset
	movements    map[string]*models.Movement
	reservations map[string]*models.Reservation
	seq          int64
	offline      bool
}

var _ store.Store = (*Store)(nil)
var _ store.RecordWriter = (*Store)(nil)

// New creates an empty in-memory store
func New() *Store {
	return &Store{
		assets:       make(map[string]*models.Asset),
		movements:    make(map[string]*models.Movement),
		reservations: make(map[string]*models.Reservation),
	}
}

// SetOffline simulates losing (true) or regaining (false) the backend.
// While offline every call returns store.ErrUnavailable.
func (s *Store) SetOffline(offline bool) {
	s.mu.Lock()
	s.offline = offline
	s.mu.Unlock()
}

// Ping reports store.ErrUnavailable while offline
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check(ctx)
}

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.offline {
		return store.ErrUnavailable
	}
	return nil
}

// PutAsset seeds or replaces an asset without any checks
func (s *Store) PutAsset(a *models.Asset) {
	s.mu.Lock()
	s.assets[a.ID] = a.Clone()
	s.mu.Unlock()
}

// GetAsset returns a copy of the asset
func (s *Store) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	a, ok := s.assets[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a.Clone(), nil
}

// ListAssets returns all assets ordered by id
func (s *Store) ListAssets(ctx context.Context) ([]*models.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := make([]*models.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CompareAndSwapAsset swaps the asset state if it still equals expected
func (s *Store) CompareAndSwapAsset(ctx context.Context, id string, expected, next models.AssetState, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}
	a, ok := s.assets[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if !a.State().Equal(expected) {
		return false, nil
	}
	a.Status = next.Status
	a.CurrentHolderID = nil
	if next.HolderID != nil {
		a.CurrentHolderID = models.StringPtr(*next.HolderID)
	}
	a.UpdatedAt = at
	return true, nil
}

// InsertAssetIfAbsent stores a unless the id is taken
func (s *Store) InsertAssetIfAbsent(ctx context.Context, a *models.Asset) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}
	if _, ok := s.assets[a.ID]; ok {
		return false, nil
	}
	s.assets[a.ID] = a.Clone()
	return true, nil
}

// ReplaceAsset writes a if the stored status and holder still equal expected
func (s *Store) ReplaceAsset(ctx context.Context, a *models.Asset, expected models.AssetState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}
	cur, ok := s.assets[a.ID]
	if !ok {
		return false, store.ErrNotFound
	}
	if !cur.State().Equal(expected) {
		return false, nil
	}
	s.assets[a.ID] = a.Clone()
	return true, nil
}

// DeleteAsset removes an asset
func (s *Store) DeleteAsset(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, ok := s.assets[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.assets, id)
	return nil
}

// InsertMovement appends m, assigning the next sequence number
func (s *Store) InsertMovement(ctx context.Context, m *models.Movement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, ok := s.movements[m.ID]; ok {
		return models.Conflict("movement %s already recorded", m.ID)
	}
	s.insertMovement(m)
	return nil
}

func (s *Store) insertMovement(m *models.Movement) {
	s.seq++
	m.Seq = s.seq
	c := *m
	s.movements[m.ID] = &c
}

// ListMovements returns the asset's movements by timestamp then seq
func (s *Store) ListMovements(ctx context.Context, assetID string) ([]*models.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out []*models.Movement
	for _, m := range s.movements {
		if m.AssetID == assetID {
			c := *m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

// CountMovements counts movements referencing an asset
func (s *Store) CountMovements(ctx context.Context, assetID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	n := 0
	for _, m := range s.movements {
		if m.AssetID == assetID {
			n++
		}
	}
	return n, nil
}

// GetReservation returns a copy of the reservation
func (s *Store) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	r, ok := s.reservations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r.Clone(), nil
}

// ListReservations filters an asset's reservations by status
func (s *Store) ListReservations(ctx context.Context, assetID string, statuses ...models.ReservationStatus) ([]*models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out []*models.Reservation
	for _, r := range s.reservations {
		if r.AssetID == assetID && matchStatus(r.Status, statuses) {
			out = append(out, r.Clone())
		}
	}
	sortReservations(out)
	return out, nil
}

// ListOpenReservations returns every non-terminal reservation
func (s *Store) ListOpenReservations(ctx context.Context) ([]*models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out []*models.Reservation
	for _, r := range s.reservations {
		if !r.Status.IsTerminal() {
			out = append(out, r.Clone())
		}
	}
	sortReservations(out)
	return out, nil
}

// InsertReservation stores a new reservation
func (s *Store) InsertReservation(ctx context.Context, r *models.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, ok := s.reservations[r.ID]; ok {
		return models.Conflict("reservation %s already exists", r.ID)
	}
	s.reservations[r.ID] = r.Clone()
	return nil
}

// UpdateReservation replaces r if the stored status still equals expected
func (s *Store) UpdateReservation(ctx context.Context, r *models.Reservation, expected models.ReservationStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}
	cur, ok := s.reservations[r.ID]
	if !ok {
		return false, store.ErrNotFound
	}
	if cur.Status != expected {
		return false, nil
	}
	s.reservations[r.ID] = r.Clone()
	return true, nil
}

// Apply replays a queued operation
func (s *Store) Apply(ctx context.Context, op models.Operation) error {
	return store.ApplyOperation(ctx, s, op)
}

func matchStatus(st models.ReservationStatus, statuses []models.ReservationStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if st == want {
			return true
		}
	}
	return false
}

func sortReservations(rs []*models.Reservation) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].From.Equal(rs[j].From) {
			return rs[i].From.Before(rs[j].From)
		}
		return rs[i].ID < rs[j].ID
	})
}
