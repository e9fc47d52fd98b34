// Package memrepo is an in-memory RepositoryManager and dbx.Transactor for
// service tests. Transactions are serialized and roll back on error by
// restoring a snapshot.
package memrepo

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/dbx"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/repositories/applications"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/repositories/cursors"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/repositories/events"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/repositories/loans"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/repositories/reveals"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/repositories/shares"
)

type appKey struct {
	loanID uint64
	ac     string
}

type shareKey struct {
	appKey
	index int
}

type state struct {
	nextLoanID uint64
	loans      map[uint64]models.Loan
	apps       map[appKey]models.Application
	events     []models.Event
	shares     map[shareKey]models.Share
	reveals    map[appKey]models.RevealRecord
	deliveries []models.Delivery
	cursors    map[string]uint64
}

func (s *state) clone() state {
	c := state{
		nextLoanID: s.nextLoanID,
		loans:      make(map[uint64]models.Loan, len(s.loans)),
		apps:       make(map[appKey]models.Application, len(s.apps)),
		events:     append([]models.Event(nil), s.events...),
		shares:     make(map[shareKey]models.Share, len(s.shares)),
		reveals:    make(map[appKey]models.RevealRecord, len(s.reveals)),
		deliveries: append([]models.Delivery(nil), s.deliveries...),
		cursors:    make(map[string]uint64, len(s.cursors)),
	}
	for k, v := range s.loans {
		c.loans[k] = v
	}
	for k, v := range s.apps {
		c.apps[k] = v
	}
	for k, v := range s.shares {
		c.shares[k] = v
	}
	for k, v := range s.reveals {
		c.reveals[k] = v
	}
	for k, v := range s.cursors {
		c.cursors[k] = v
	}
	return c
}

// Store holds all tables.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   state
}

func New() *Store {
	return &Store{st: state{
		loans:   map[uint64]models.Loan{},
		apps:    map[appKey]models.Application{},
		shares:  map[shareKey]models.Share{},
		reveals: map[appKey]models.RevealRecord{},
		cursors: map[string]uint64{},
	}}
}

var _ dbx.Transactor = (*Store)(nil)

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			s.restore(snapshot)
			panic(p)
		}
		if err != nil {
			s.restore(snapshot)
		}
	}()

	return fn(ctx, nil)
}

func (s *Store) restore(snapshot state) {
	s.mu.Lock()
	s.st = snapshot
	s.mu.Unlock()
}

func (s *Store) Conn() dbx.DBTX { return nil }

func (s *Store) RunMigrations(context.Context, *sql.DB) error { return nil }

func (s *Store) Loans(dbx.DBTX) loans.Repository               { return loanRepo{s} }
func (s *Store) Applications(dbx.DBTX) applications.Repository { return appRepo{s} }
func (s *Store) Events(dbx.DBTX) events.Repository             { return eventRepo{s} }
func (s *Store) Shares(dbx.DBTX) shares.Repository             { return shareRepo{s} }
func (s *Store) Reveals(dbx.DBTX) reveals.Repository           { return revealRepo{s} }
func (s *Store) Cursors(dbx.DBTX) cursors.Repository           { return cursorRepo{s} }

// ---- loans ----

type loanRepo struct{ s *Store }

func (r loanRepo) Create(_ context.Context, loan *models.Loan) (*models.Loan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.st.nextLoanID++
	loan.ID = r.s.st.nextLoanID
	r.s.st.loans[loan.ID] = *loan
	return loan, nil
}

func (r loanRepo) GetByID(_ context.Context, id uint64) (*models.Loan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.st.loans[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &l, nil
}

func (r loanRepo) GetByIDForUpdate(ctx context.Context, id uint64) (*models.Loan, error) {
	return r.GetByID(ctx, id)
}

func (r loanRepo) Update(_ context.Context, loan *models.Loan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.st.loans[loan.ID]
	if !ok {
		return common.ErrNotFound
	}
	cur.Borrower, cur.FilledSlots, cur.State = loan.Borrower, loan.FilledSlots, loan.State
	r.s.st.loans[loan.ID] = cur
	return nil
}

func (r loanRepo) List(_ context.Context, limit, offset int) ([]*models.Loan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := make([]uint64, 0, len(r.s.st.loans))
	for id := range r.s.st.loans {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var out []*models.Loan
	for i, id := range ids {
		if i < offset {
			continue
		}
		if len(out) == limit {
			break
		}
		l := r.s.st.loans[id]
		out = append(out, &l)
	}
	return out, nil
}

// ---- applications ----

type appRepo struct{ s *Store }

func (r appRepo) Create(_ context.Context, app *models.Application) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := appKey{app.LoanID, app.ActivityCommitment}
	if _, ok := r.s.st.apps[k]; ok {
		return common.ErrStateConflict
	}
	r.s.st.apps[k] = copyApp(*app)
	return nil
}

func (r appRepo) Get(_ context.Context, loanID uint64, ac string) (*models.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.st.apps[appKey{loanID, ac}]
	if !ok {
		return nil, common.ErrNotFound
	}
	c := copyApp(a)
	return &c, nil
}

func (r appRepo) GetForUpdate(ctx context.Context, loanID uint64, ac string) (*models.Application, error) {
	return r.Get(ctx, loanID, ac)
}

func (r appRepo) ListByLoan(_ context.Context, loanID uint64) ([]*models.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Application
	for k, a := range r.s.st.apps {
		if k.loanID == loanID {
			c := copyApp(a)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AppliedAt != out[j].AppliedAt {
			return out[i].AppliedAt < out[j].AppliedAt
		}
		return out[i].ActivityCommitment < out[j].ActivityCommitment
	})
	return out, nil
}

func (r appRepo) ListByLoanForUpdate(ctx context.Context, loanID uint64) ([]*models.Application, error) {
	return r.ListByLoan(ctx, loanID)
}

func (r appRepo) ListDefaultedUnrevealed(_ context.Context, limit int) ([]*models.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Application
	for k, a := range r.s.st.apps {
		if a.Status != models.ApplicationDefaulted {
			continue
		}
		if _, done := r.s.st.reveals[k]; done {
			continue
		}
		c := copyApp(a)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DefaultedAt < out[j].DefaultedAt })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r appRepo) Update(_ context.Context, app *models.Application) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := appKey{app.LoanID, app.ActivityCommitment}
	if _, ok := r.s.st.apps[k]; !ok {
		return common.ErrNotFound
	}
	r.s.st.apps[k] = copyApp(*app)
	return nil
}

func copyApp(a models.Application) models.Application {
	if a.Escrow != nil {
		e := *a.Escrow
		e.Commitments = append([]string(nil), a.Escrow.Commitments...)
		a.Escrow = &e
	}
	return a
}

// ---- events ----

type eventRepo struct{ s *Store }

func (r eventRepo) Append(_ context.Context, ev *models.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ev.Seq = uint64(len(r.s.st.events)) + 1
	r.s.st.events = append(r.s.st.events, *ev)
	return nil
}

func (r eventRepo) Head(context.Context) (uint64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return uint64(len(r.s.st.events)), nil
}

func (r eventRepo) Range(_ context.Context, from, to uint64) ([]*models.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Event
	for _, ev := range r.s.st.events {
		if ev.Seq > from && ev.Seq <= to {
			e := ev
			out = append(out, &e)
		}
	}
	return out, nil
}

// ---- shares ----

type shareRepo struct{ s *Store }

func (r shareRepo) CreateBatch(_ context.Context, list []*models.Share) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sh := range list {
		k := shareKey{appKey{sh.LoanID, sh.ActivityCommitment}, sh.Index}
		if _, ok := r.s.st.shares[k]; ok {
			continue
		}
		c := *sh
		c.Value = append([]byte(nil), sh.Value...)
		c.UpdatedAt = time.Now()
		r.s.st.shares[k] = c
	}
	return nil
}

func (r shareRepo) ListByApplication(_ context.Context, loanID uint64, ac string) ([]*models.Share, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Share
	for k, sh := range r.s.st.shares {
		if k.loanID == loanID && k.ac == ac {
			c := sh
			c.Value = append([]byte(nil), sh.Value...)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (r shareRepo) update(loanID uint64, ac string, index int, fn func(*models.Share)) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := shareKey{appKey{loanID, ac}, index}
	sh, ok := r.s.st.shares[k]
	if !ok {
		return
	}
	fn(&sh)
	sh.UpdatedAt = time.Now()
	r.s.st.shares[k] = sh
}

func (r shareRepo) MarkDistributed(_ context.Context, loanID uint64, ac string, index int, attempts int) error {
	r.update(loanID, ac, index, func(sh *models.Share) {
		sh.Status, sh.Value, sh.Attempts = models.ShareStatusDistributed, nil, attempts
	})
	return nil
}

func (r shareRepo) MarkFailed(_ context.Context, loanID uint64, ac string, index int, attempts int) error {
	r.update(loanID, ac, index, func(sh *models.Share) {
		sh.Status, sh.Attempts = models.ShareStatusFailed, attempts
	})
	return nil
}

func (r shareRepo) SaveCollected(_ context.Context, share *models.Share) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := shareKey{appKey{share.LoanID, share.ActivityCommitment}, share.Index}
	sh, ok := r.s.st.shares[k]
	if !ok {
		sh = models.Share{LoanID: share.LoanID, ActivityCommitment: share.ActivityCommitment, Index: share.Index, TrusteeID: share.TrusteeID}
	}
	sh.Value = append([]byte(nil), share.Value...)
	sh.Status = models.ShareStatusCollected
	sh.UpdatedAt = time.Now()
	r.s.st.shares[k] = sh
	return nil
}

func (r shareRepo) setCollected(loanID uint64, ac string, to models.ShareStatus) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for k, sh := range r.s.st.shares {
		if k.loanID == loanID && k.ac == ac && sh.Status == models.ShareStatusCollected {
			sh.Status, sh.Value = to, nil
			r.s.st.shares[k] = sh
		}
	}
}

func (r shareRepo) Consume(_ context.Context, loanID uint64, ac string) error {
	r.setCollected(loanID, ac, models.ShareStatusConsumed)
	return nil
}

func (r shareRepo) ResetCollected(_ context.Context, loanID uint64, ac string) error {
	r.setCollected(loanID, ac, models.ShareStatusDistributed)
	return nil
}

// ---- reveals ----

type revealRepo struct{ s *Store }

func (r revealRepo) InsertIfAbsent(_ context.Context, rec *models.RevealRecord) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := appKey{rec.LoanID, rec.ActivityCommitment}
	if _, ok := r.s.st.reveals[k]; ok {
		return false, nil
	}
	c := *rec
	c.SharesUsed = append([]int(nil), rec.SharesUsed...)
	r.s.st.reveals[k] = c
	return true, nil
}

func (r revealRepo) Get(_ context.Context, loanID uint64, ac string) (*models.RevealRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.st.reveals[appKey{loanID, ac}]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &rec, nil
}

func (r revealRepo) Exists(_ context.Context, loanID uint64, ac string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.st.reveals[appKey{loanID, ac}]
	return ok, nil
}

func (r revealRepo) CreateDelivery(_ context.Context, d *models.Delivery) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.st.deliveries {
		if existing.LoanID == d.LoanID && existing.ActivityCommitment == d.ActivityCommitment {
			return common.ErrAlreadyRevealed
		}
	}
	c := *d
	c.Identity = append([]byte(nil), d.Identity...)
	r.s.st.deliveries = append(r.s.st.deliveries, c)
	return nil
}

func (r revealRepo) ListDeliveries(_ context.Context, lender string) ([]*models.Delivery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Delivery
	for _, d := range r.s.st.deliveries {
		if d.Lender == lender {
			c := d
			out = append(out, &c)
		}
	}
	return out, nil
}

// ---- cursors ----

type cursorRepo struct{ s *Store }

func (r cursorRepo) Load(_ context.Context, name string) (uint64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.st.cursors[name], nil
}

func (r cursorRepo) Save(_ context.Context, name string, position uint64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.st.cursors[name] = position
	return nil
}

// ---- inspection helpers ----

// Deliveries returns every inbox entry regardless of lender.
func (s *Store) Deliveries() []models.Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Delivery(nil), s.st.deliveries...)
}

// EventsOfType counts the log entries of one type.
func (s *Store) EventsOfType(t models.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.st.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// RevealCount returns the number of reveal records.
func (s *Store) RevealCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.reveals)
}
