// Package memory is an in-process implementation of repository.Store used by
// service and handler tests and by the server when no database is needed.
// Units of work hold a single mutex and restore a snapshot when they fail, so
// the locking and rollback behaviour callers rely on holds here as well.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/verrify/internal/caseid"
	"github.com/stwalsh4118/verrify/internal/geometry"
	"github.com/stwalsh4118/verrify/internal/models"
	"github.com/stwalsh4118/verrify/internal/repository"
)

// Maximum number of parcels returned by FindNearby, matching the SQL store.
const maxNearbyResults = 20

type state struct {
	parcels       map[string]models.Parcel
	verifications map[string]models.VerificationRequest
	orders        map[string]models.Order
	transactions  map[string]models.Transaction
	users         map[string]models.User
}

func newState() *state {
	return &state{
		parcels:       map[string]models.Parcel{},
		verifications: map[string]models.VerificationRequest{},
		orders:        map[string]models.Order{},
		transactions:  map[string]models.Transaction{},
		users:         map[string]models.User{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.parcels {
		c.parcels[k] = v
	}
	for k, v := range s.verifications {
		c.verifications[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	return c
}

// Store is an in-memory repository.Store.
type Store struct {
	mu   sync.Mutex
	data *state
	now  func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{data: newState(), now: func() time.Time { return time.Now().UTC() }}
}

var _ repository.Store = (*Store)(nil)

// WithTx runs fn while holding the store lock. When fn fails every write it
// made is discarded.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	committed := false
	defer func() {
		if !committed {
			s.data = snapshot
		}
	}()

	if err := fn(&repos{s: s, inTx: true}); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Parcels() repository.ParcelRepository {
	return &parcels{repos{s: s}}
}

func (s *Store) Verifications() repository.VerificationRepository {
	return &verifications{repos{s: s}}
}

func (s *Store) Orders() repository.OrderRepository {
	return &orders{repos{s: s}}
}

func (s *Store) Transactions() repository.TransactionRepository {
	return &transactions{repos{s: s}}
}

func (s *Store) Users() repository.UserRepository {
	return &users{repos{s: s}}
}

// repos is bound either to a running unit of work, where the store lock is
// already held, or to the store itself, where each call takes the lock.
type repos struct {
	s    *Store
	inTx bool
}

func (r repos) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.s.mu.Lock()
	return r.s.mu.Unlock
}

func (r *repos) Parcels() repository.ParcelRepository             { return &parcels{*r} }
func (r *repos) Verifications() repository.VerificationRepository { return &verifications{*r} }
func (r *repos) Orders() repository.OrderRepository               { return &orders{*r} }
func (r *repos) Transactions() repository.TransactionRepository   { return &transactions{*r} }
func (r *repos) Users() repository.UserRepository                 { return &users{*r} }

func ptr[T any](v T) *T { return &v }

func paginate[T any](items []T, page models.Page) []T {
	page = page.Normalize()
	start := page.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// parcels

type parcels struct{ repos }

func (r *parcels) withOwner(p models.Parcel) models.Parcel {
	if u, ok := r.s.data.users[p.OwnerID]; ok {
		p.OwnerName = u.DisplayName()
	}
	return p
}

func (r *parcels) Get(_ context.Context, id string) (*models.Parcel, error) {
	defer r.lock()()
	p, ok := r.s.data.parcels[id]
	if !ok {
		return nil, nil
	}
	return ptr(r.withOwner(p)), nil
}

func (r *parcels) GetForUpdate(ctx context.Context, id string) (*models.Parcel, error) {
	return r.Get(ctx, id)
}

func (r *parcels) pinTaken(pin *string, exceptID string) bool {
	if pin == nil {
		return false
	}
	for id, p := range r.s.data.parcels {
		if id != exceptID && p.PIN != nil && *p.PIN == *pin {
			return true
		}
	}
	return false
}

func (r *parcels) Create(_ context.Context, p *models.Parcel) error {
	defer r.lock()()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, exists := r.s.data.parcels[p.ID]; exists || r.pinTaken(p.PIN, p.ID) {
		return repository.ErrDuplicate
	}
	now := r.s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	r.s.data.parcels[p.ID] = *p
	return nil
}

func (r *parcels) Update(_ context.Context, p *models.Parcel) error {
	defer r.lock()()
	if r.pinTaken(p.PIN, p.ID) {
		return repository.ErrDuplicate
	}
	p.UpdatedAt = r.s.now()
	r.s.data.parcels[p.ID] = *p
	return nil
}

func (r *parcels) PINExists(_ context.Context, pin string) (bool, error) {
	defer r.lock()()
	return r.pinTaken(&pin, ""), nil
}

func (r *parcels) OverlapCandidates(_ context.Context, polygon models.Polygon, excludeIDs []string) ([]geometry.Candidate, error) {
	defer r.lock()()
	excluded := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}
	bound := geometry.ToOrb(polygon).Bound()

	var out []geometry.Candidate
	for _, id := range r.sortedParcelIDs() {
		p := r.withOwner(r.s.data.parcels[id])
		if excluded[p.ID] || !isActiveClaim(p.Status) || p.Location.Polygon.IsEmpty() {
			continue
		}
		if !geometry.ToOrb(p.Location.Polygon).Bound().Intersects(bound) {
			continue
		}
		out = append(out, geometry.Candidate{
			ParcelID:   p.ID,
			ParcelName: p.Name,
			OwnerName:  p.OwnerName,
			Polygon:    p.Location.Polygon,
		})
	}
	return out, nil
}

func isActiveClaim(s models.ParcelStatus) bool {
	for _, active := range models.ActiveClaimStatuses {
		if s == active {
			return true
		}
	}
	return false
}

// LockClaims is a no-op: units of work already run one at a time.
func (r *parcels) LockClaims(context.Context) error {
	return nil
}

func (r *parcels) sortedParcelIDs() []string {
	ids := make([]string, 0, len(r.s.data.parcels))
	for id := range r.s.data.parcels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *parcels) FindByPoint(_ context.Context, lat, lng float64) (*models.Parcel, error) {
	defer r.lock()()
	var found *models.Parcel
	for _, id := range r.sortedParcelIDs() {
		p := r.s.data.parcels[id]
		if p.Status != models.ParcelVerified || !geometry.ContainsPoint(p.Location.Polygon, lng, lat) {
			continue
		}
		if found == nil || (p.IsSubParcel && !found.IsSubParcel) {
			found = ptr(r.withOwner(p))
		}
	}
	return found, nil
}

func (r *parcels) FindNearby(_ context.Context, lat, lng float64, radiusMeters int) ([]models.ParcelWithDistance, error) {
	defer r.lock()()
	results := []models.ParcelWithDistance{}
	for _, id := range r.sortedParcelIDs() {
		p := r.s.data.parcels[id]
		if p.Status != models.ParcelVerified {
			continue
		}
		d := geometry.DistanceTo(p.Location.Polygon, lng, lat)
		if d <= float64(radiusMeters) {
			results = append(results, models.ParcelWithDistance{Parcel: r.withOwner(p), Distance: d})
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > maxNearbyResults {
		results = results[:maxNearbyResults]
	}
	return results, nil
}

// verifications

type verifications struct{ repos }

func isTerminal(s models.Stage) bool {
	return s == models.StageVerificationComplete || s == models.StageVerificationRejected
}

func (r *verifications) Get(_ context.Context, id string) (*models.VerificationRequest, error) {
	defer r.lock()()
	v, ok := r.s.data.verifications[id]
	if !ok || v.DeletedAt != nil {
		return nil, nil
	}
	return ptr(v), nil
}

func (r *verifications) GetForUpdate(ctx context.Context, id string) (*models.VerificationRequest, error) {
	return r.Get(ctx, id)
}

func (r *verifications) checkUnique(v *models.VerificationRequest) error {
	for id, other := range r.s.data.verifications {
		if id == v.ID || other.DeletedAt != nil {
			continue
		}
		if v.CaseID != nil && other.CaseID != nil && *v.CaseID == *other.CaseID {
			return repository.ErrDuplicate
		}
		if v.DeletedAt == nil && other.ParcelID == v.ParcelID && !isTerminal(v.Stage) && !isTerminal(other.Stage) {
			return repository.ErrDuplicate
		}
	}
	return nil
}

func (r *verifications) Create(_ context.Context, v *models.VerificationRequest) error {
	defer r.lock()()
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if err := r.checkUnique(v); err != nil {
		return err
	}
	now := r.s.now()
	v.CreatedAt, v.UpdatedAt = now, now
	if v.VerificationFiles == nil {
		v.VerificationFiles = []string{}
	}
	if v.AdminStageFiles == nil {
		v.AdminStageFiles = []string{}
	}
	stored := *v
	stored.Parcel = nil
	r.s.data.verifications[v.ID] = stored
	return nil
}

func (r *verifications) Update(_ context.Context, v *models.VerificationRequest) error {
	defer r.lock()()
	if err := r.checkUnique(v); err != nil {
		return err
	}
	v.UpdatedAt = r.s.now()
	stored := *v
	stored.Parcel = nil
	stored.VerificationFiles = append([]string{}, v.VerificationFiles...)
	stored.AdminStageFiles = append([]string{}, v.AdminStageFiles...)
	r.s.data.verifications[v.ID] = stored
	return nil
}

func (r *verifications) FindActiveByParcel(_ context.Context, parcelID string) (*models.VerificationRequest, error) {
	defer r.lock()()
	for _, v := range r.s.data.verifications {
		if v.ParcelID == parcelID && v.DeletedAt == nil && !isTerminal(v.Stage) {
			return ptr(v), nil
		}
	}
	return nil, nil
}

// LockCaseIDs is a no-op for the same reason as LockClaims.
func (r *verifications) LockCaseIDs(context.Context, int) error {
	return nil
}

func (r *verifications) MaxCaseID(_ context.Context, year int) (string, error) {
	defer r.lock()()
	ids := make([]string, 0)
	for _, v := range r.s.data.verifications {
		if v.CaseID != nil {
			ids = append(ids, *v.CaseID)
		}
	}
	return caseid.Max(ids, year), nil
}

func (r *verifications) List(_ context.Context, f models.VerificationFilter) ([]models.VerificationRequest, int, error) {
	defer r.lock()()
	var matched []models.VerificationRequest
	for _, v := range r.s.data.verifications {
		if v.DeletedAt != nil ||
			(f.Stage != "" && v.Stage != f.Stage) ||
			(f.ParcelID != "" && v.ParcelID != f.ParcelID) ||
			(f.UserID != "" && v.UserID != f.UserID) {
			continue
		}
		if f.Search != "" && (v.CaseID == nil || !strings.Contains(strings.ToLower(*v.CaseID), strings.ToLower(f.Search))) {
			continue
		}
		matched = append(matched, v)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, f.Page), len(matched), nil
}

// orders

type orders struct{ repos }

func (r *orders) Get(_ context.Context, id string) (*models.Order, error) {
	defer r.lock()()
	o, ok := r.s.data.orders[id]
	if !ok {
		return nil, nil
	}
	return ptr(o), nil
}

func (r *orders) findPending(verificationID string) *models.Order {
	for _, o := range r.s.data.orders {
		if o.VerificationID == verificationID && o.Status == models.OrderPending {
			return ptr(o)
		}
	}
	return nil
}

func (r *orders) FindPendingByVerification(_ context.Context, verificationID string) (*models.Order, error) {
	defer r.lock()()
	return r.findPending(verificationID), nil
}

func (r *orders) Create(_ context.Context, o *models.Order) error {
	defer r.lock()()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == models.OrderPending && r.findPending(o.VerificationID) != nil {
		return repository.ErrDuplicate
	}
	now := r.s.now()
	o.CreatedAt, o.UpdatedAt = now, now
	r.s.data.orders[o.ID] = *o
	return nil
}

func (r *orders) UpdateStatus(_ context.Context, id string, status models.OrderStatus) error {
	defer r.lock()()
	o, ok := r.s.data.orders[id]
	if !ok {
		return nil
	}
	o.Status = status
	o.UpdatedAt = r.s.now()
	r.s.data.orders[id] = o
	return nil
}

func (r *orders) List(_ context.Context, f models.OrderFilter) ([]models.Order, int, error) {
	defer r.lock()()
	var matched []models.Order
	for _, o := range r.s.data.orders {
		if (f.Status != "" && o.Status != f.Status) || (f.UserID != "" && o.UserID != f.UserID) {
			continue
		}
		matched = append(matched, o)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return paginate(matched, f.Page), len(matched), nil
}

// transactions

type transactions struct{ repos }

func (r *transactions) byReference(reference string) *models.Transaction {
	for _, t := range r.s.data.transactions {
		if t.Reference == reference {
			return ptr(t)
		}
	}
	return nil
}

func (r *transactions) LockByReference(_ context.Context, reference string) (*models.Transaction, error) {
	defer r.lock()()
	return r.byReference(reference), nil
}

func (r *transactions) GetAggregate(_ context.Context, reference string) (*repository.PaymentAggregate, error) {
	defer r.lock()()
	t := r.byReference(reference)
	if t == nil {
		return nil, nil
	}
	o, ok := r.s.data.orders[t.OrderID]
	if !ok {
		return nil, nil
	}
	agg := &repository.PaymentAggregate{Transaction: *t, Order: o}
	if v, ok := r.s.data.verifications[o.VerificationID]; ok && v.DeletedAt == nil {
		agg.Verification = ptr(v)
	}
	return agg, nil
}

func (r *transactions) Create(_ context.Context, t *models.Transaction) error {
	defer r.lock()()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if r.byReference(t.Reference) != nil {
		return repository.ErrDuplicate
	}
	now := r.s.now()
	t.CreatedAt, t.UpdatedAt = now, now
	r.s.data.transactions[t.ID] = *t
	return nil
}

func (r *transactions) UpdateStatus(_ context.Context, id string, status models.TransactionStatus) error {
	defer r.lock()()
	t, ok := r.s.data.transactions[id]
	if !ok {
		return nil
	}
	t.Status = status
	t.UpdatedAt = r.s.now()
	r.s.data.transactions[id] = t
	return nil
}

func (r *transactions) List(_ context.Context, f models.TransactionFilter) ([]models.Transaction, int, error) {
	defer r.lock()()
	var matched []models.Transaction
	for _, t := range r.s.data.transactions {
		if (f.Status != "" && t.Status != f.Status) || (f.OrderID != "" && t.OrderID != f.OrderID) {
			continue
		}
		if f.UserID != "" && r.s.data.orders[t.OrderID].UserID != f.UserID {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(t.Reference), strings.ToLower(f.Search)) {
			continue
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return paginate(matched, f.Page), len(matched), nil
}

// users

type users struct{ repos }

func (r *users) Get(_ context.Context, id string) (*models.User, error) {
	defer r.lock()()
	u, ok := r.s.data.users[id]
	if !ok {
		return nil, nil
	}
	return ptr(u), nil
}

func (r *users) Upsert(_ context.Context, u *models.User) error {
	defer r.lock()()
	merged := *u
	if existing, ok := r.s.data.users[u.ID]; ok {
		if merged.Email == "" {
			merged.Email = existing.Email
		}
		if merged.FirstName == "" {
			merged.FirstName = existing.FirstName
		}
		if merged.LastName == "" {
			merged.LastName = existing.LastName
		}
	}
	if merged.Role == "" {
		merged.Role = "USER"
	}
	r.s.data.users[u.ID] = merged
	return nil
}
