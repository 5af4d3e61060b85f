// Package memory is an in-process Store used by tests and STORE_DRIVER=memory.
// Write transactions are serialized by one mutex and roll back by restoring a
// snapshot, which gives the same isolation the Postgres store gets from row locks.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/open-builders/soulpull-backend/internal/domain/participation"
	"github.com/open-builders/soulpull-backend/internal/domain/payout"
	"github.com/open-builders/soulpull-backend/internal/domain/user"
	"github.com/open-builders/soulpull-backend/internal/repository"
)

type state struct {
	users          map[int64]user.User
	participations map[int64]participation.Participation
	payouts        map[int64]payout.Request
	authorCodes    map[string]user.AuthorCode
	nextUser       int64
	nextPart       int64
	nextPayout     int64
	nextCode       int64
}

func (s *state) clone() *state {
	cp := &state{
		users:          make(map[int64]user.User, len(s.users)),
		participations: make(map[int64]participation.Participation, len(s.participations)),
		payouts:        make(map[int64]payout.Request, len(s.payouts)),
		authorCodes:    make(map[string]user.AuthorCode, len(s.authorCodes)),
		nextUser:       s.nextUser,
		nextPart:       s.nextPart,
		nextPayout:     s.nextPayout,
		nextCode:       s.nextCode,
	}
	for k, v := range s.users {
		cp.users[k] = v
	}
	for k, v := range s.participations {
		cp.participations[k] = v
	}
	for k, v := range s.payouts {
		cp.payouts[k] = v
	}
	for k, v := range s.authorCodes {
		cp.authorCodes[k] = v
	}
	return cp
}

// Store keeps all aggregates in maps.
type Store struct {
	mu  sync.RWMutex
	st  *state
	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		st: &state{
			users:          map[int64]user.User{},
			participations: map[int64]participation.Participation{},
			payouts:        map[int64]payout.Request{},
			authorCodes:    map[string]user.AuthorCode{},
		},
		now: time.Now,
	}
}

func (s *Store) Update(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&txn{st: s.st, now: s.now, writable: true}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) View(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&txn{st: s.st, now: s.now})
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }

type txn struct {
	st       *state
	now      func() time.Time
	writable bool
}

func (t *txn) Users() user.Repository                   { return userRepo{t} }
func (t *txn) Participations() participation.Repository { return participationRepo{t} }
func (t *txn) Payouts() payout.Repository               { return payoutRepo{t} }
func (t *txn) AuthorCodes() user.AuthorCodeRepository   { return authorCodeRepo{t} }

func (t *txn) mustWrite() {
	if !t.writable {
		panic("memory store: write in read-only transaction")
	}
}

type userRepo struct{ t *txn }

func (r userRepo) GetByID(_ context.Context, id int64) (*user.User, error) {
	u, ok := r.t.st.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r userRepo) GetByTelegramID(_ context.Context, telegramID int64) (*user.User, error) {
	for _, u := range r.t.st.users {
		if u.TelegramID != nil && *u.TelegramID == telegramID {
			cp := u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r userRepo) IDByTelegramID(ctx context.Context, telegramID int64) (int64, error) {
	u, _ := r.GetByTelegramID(ctx, telegramID)
	if u == nil {
		return 0, nil
	}
	return u.ID, nil
}

func (r userRepo) GetByWallet(_ context.Context, address string) (*user.User, error) {
	for _, u := range r.t.st.users {
		if u.WalletAddress != nil && *u.WalletAddress == address {
			cp := u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r userRepo) checkUnique(u *user.User) error {
	for id, other := range r.t.st.users {
		if id == u.ID {
			continue
		}
		if u.TelegramID != nil && other.TelegramID != nil && *u.TelegramID == *other.TelegramID {
			return &repository.ConflictError{Constraint: repository.ConstraintUserTelegram}
		}
		if u.WalletAddress != nil && other.WalletAddress != nil && *u.WalletAddress == *other.WalletAddress {
			return &repository.ConflictError{Constraint: repository.ConstraintUserWallet}
		}
	}
	return nil
}

func (r userRepo) Create(_ context.Context, u *user.User) error {
	r.t.mustWrite()
	if err := r.checkUnique(u); err != nil {
		return err
	}
	r.t.st.nextUser++
	u.ID = r.t.st.nextUser
	now := r.t.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	r.t.st.users[u.ID] = *u
	return nil
}

func (r userRepo) Update(_ context.Context, u *user.User) error {
	r.t.mustWrite()
	if _, ok := r.t.st.users[u.ID]; !ok {
		return nil
	}
	if err := r.checkUnique(u); err != nil {
		return err
	}
	u.UpdatedAt = r.t.now().UTC()
	r.t.st.users[u.ID] = *u
	return nil
}

func (r userRepo) AddPoints(_ context.Context, id int64, delta int64) error {
	r.t.mustWrite()
	u, ok := r.t.st.users[id]
	if !ok {
		return nil
	}
	u.Points += delta
	u.UpdatedAt = r.t.now().UTC()
	r.t.st.users[id] = u
	return nil
}

type participationRepo struct{ t *txn }

func (r participationRepo) GetByID(_ context.Context, id int64) (*participation.Participation, error) {
	p, ok := r.t.st.participations[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r participationRepo) GetByTxHash(_ context.Context, txHash string) (*participation.Participation, error) {
	for _, p := range r.t.st.participations {
		if p.TxHash != nil && *p.TxHash == txHash {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r participationRepo) Current(_ context.Context, userID int64) (*participation.Participation, error) {
	var best *participation.Participation
	for _, p := range r.t.st.participations {
		if p.UserID != userID || p.Status == participation.StatusRejected || p.ClosedAt != nil {
			continue
		}
		if best == nil || p.ID > best.ID {
			cp := p
			best = &cp
		}
	}
	return best, nil
}

func (r participationRepo) OwnerOf(_ context.Context, id int64) (int64, error) {
	return r.t.st.participations[id].UserID, nil
}

func (r participationRepo) HasAny(_ context.Context, userID int64) (bool, error) {
	for _, p := range r.t.st.participations {
		if p.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (r participationRepo) Create(_ context.Context, p *participation.Participation) error {
	r.t.mustWrite()
	for _, other := range r.t.st.participations {
		if p.TxHash != nil && other.TxHash != nil && *p.TxHash == *other.TxHash {
			return &repository.ConflictError{Constraint: repository.ConstraintParticipationTx}
		}
		if other.UserID == p.UserID && other.Active() && p.Active() {
			return &repository.ConflictError{Constraint: repository.ConstraintOneActiveCycle}
		}
	}
	r.t.st.nextPart++
	p.ID = r.t.st.nextPart
	p.CreatedAt = r.t.now().UTC()
	r.t.st.participations[p.ID] = *p
	return nil
}

func (r participationRepo) SetTxHash(_ context.Context, id int64, txHash string, chain *participation.ChainPayment) error {
	r.t.mustWrite()
	for oid, other := range r.t.st.participations {
		if oid != id && other.TxHash != nil && *other.TxHash == txHash {
			return &repository.ConflictError{Constraint: repository.ConstraintParticipationTx}
		}
	}
	p, ok := r.t.st.participations[id]
	if !ok {
		return nil
	}
	p.SetPayment(txHash, chain)
	r.t.st.participations[id] = p
	return nil
}

func (r participationRepo) Decide(_ context.Context, id int64, status participation.Status, txHash *string, decidedBy string, at time.Time) (bool, error) {
	r.t.mustWrite()
	p, ok := r.t.st.participations[id]
	if !ok || !p.Decidable() {
		return false, nil
	}
	if txHash != nil {
		for oid, other := range r.t.st.participations {
			if oid != id && other.TxHash != nil && *other.TxHash == *txHash {
				return false, &repository.ConflictError{Constraint: repository.ConstraintParticipationTx}
			}
		}
		h := *txHash
		p.TxHash = &h
	}
	by := decidedBy
	at = at.UTC()
	p.Status = status
	p.DecidedAt = &at
	p.DecidedBy = &by
	r.t.st.participations[id] = p
	return true, nil
}

func (r participationRepo) Close(_ context.Context, id int64, at time.Time) error {
	r.t.mustWrite()
	p, ok := r.t.st.participations[id]
	if !ok {
		return nil
	}
	at = at.UTC()
	p.ClosedAt = &at
	r.t.st.participations[id] = p
	return nil
}

func (r participationRepo) CountReferrals(_ context.Context, referrerParticipationID int64, statuses ...participation.Status) (int, error) {
	n := 0
	for _, p := range r.t.st.participations {
		if p.ReferrerParticipationID == nil || *p.ReferrerParticipationID != referrerParticipationID {
			continue
		}
		if hasStatus(p.Status, statuses) {
			n++
		}
	}
	return n, nil
}

func (r participationRepo) ListReferrals(_ context.Context, referrerParticipationID int64) ([]*participation.Participation, error) {
	var out []*participation.Participation
	for _, p := range r.t.st.participations {
		if p.ReferrerParticipationID != nil && *p.ReferrerParticipationID == referrerParticipationID {
			cp := p
			out = append(out, &cp)
		}
	}
	sortParticipations(out)
	return out, nil
}

func (r participationRepo) ListPending(_ context.Context, limit int) ([]*participation.Participation, error) {
	var out []*participation.Participation
	for _, p := range r.t.st.participations {
		if p.Decidable() {
			cp := p
			out = append(out, &cp)
		}
	}
	sortParticipations(out)
	return truncate(out, limit), nil
}

func (r participationRepo) ListStale(_ context.Context, before time.Time, limit int) ([]*participation.Participation, error) {
	var out []*participation.Participation
	for _, p := range r.t.st.participations {
		if p.Status == participation.StatusPending && p.TxHash == nil && p.ValidUntil.Before(before) {
			cp := p
			out = append(out, &cp)
		}
	}
	sortParticipations(out)
	return truncate(out, limit), nil
}

type payoutRepo struct{ t *txn }

func (r payoutRepo) GetByID(_ context.Context, id int64) (*payout.Request, error) {
	p, ok := r.t.st.payouts[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r payoutRepo) GetOpen(_ context.Context, userID int64) (*payout.Request, error) {
	for _, p := range r.t.st.payouts {
		if p.UserID == userID && p.Status == payout.StatusOpen {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r payoutRepo) Create(_ context.Context, req *payout.Request) error {
	r.t.mustWrite()
	if req.Status == payout.StatusOpen {
		for _, other := range r.t.st.payouts {
			if other.UserID == req.UserID && other.Status == payout.StatusOpen {
				return &repository.ConflictError{Constraint: repository.ConstraintOneOpenPayout}
			}
		}
	}
	r.t.st.nextPayout++
	req.ID = r.t.st.nextPayout
	req.CreatedAt = r.t.now().UTC()
	r.t.st.payouts[req.ID] = *req
	return nil
}

func (r payoutRepo) Settle(_ context.Context, id int64, status payout.Status, txHash *string, decidedBy string, at time.Time) (bool, error) {
	r.t.mustWrite()
	p, ok := r.t.st.payouts[id]
	if !ok || p.Status != payout.StatusOpen {
		return false, nil
	}
	if txHash != nil {
		h := *txHash
		p.TxHash = &h
	}
	by := decidedBy
	at = at.UTC()
	p.Status = status
	p.DecidedAt = &at
	p.DecidedBy = &by
	r.t.st.payouts[id] = p
	return true, nil
}

func (r payoutRepo) ListOpen(_ context.Context, limit int) ([]*payout.Request, error) {
	var out []*payout.Request
	for _, p := range r.t.st.payouts {
		if p.Status == payout.StatusOpen {
			cp := p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type authorCodeRepo struct{ t *txn }

func (r authorCodeRepo) GetByCode(_ context.Context, code string) (*user.AuthorCode, error) {
	c, ok := r.t.st.authorCodes[code]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r authorCodeRepo) Create(_ context.Context, c *user.AuthorCode) error {
	r.t.mustWrite()
	if _, exists := r.t.st.authorCodes[c.Code]; exists {
		return &repository.ConflictError{Constraint: repository.ConstraintAuthorCode}
	}
	r.t.st.nextCode++
	c.ID = r.t.st.nextCode
	c.CreatedAt = r.t.now().UTC()
	r.t.st.authorCodes[c.Code] = *c
	return nil
}

func (r authorCodeRepo) SetActive(_ context.Context, code string, active bool) (bool, error) {
	r.t.mustWrite()
	c, ok := r.t.st.authorCodes[code]
	if !ok {
		return false, nil
	}
	c.Active = active
	r.t.st.authorCodes[code] = c
	return true, nil
}

func (r authorCodeRepo) List(_ context.Context, limit int) ([]*user.AuthorCode, error) {
	out := make([]*user.AuthorCode, 0, len(r.t.st.authorCodes))
	for _, c := range r.t.st.authorCodes {
		cp := c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func hasStatus(s participation.Status, set []participation.Status) bool {
	if len(set) == 0 {
		return true
	}
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}

func sortParticipations(ps []*participation.Participation) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
}

func truncate(ps []*participation.Participation, limit int) []*participation.Participation {
	if limit > 0 && len(ps) > limit {
		return ps[:limit]
	}
	return ps
}
