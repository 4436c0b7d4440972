package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/book-catalog/internal/model"
	"github.com/iliyamo/book-catalog/internal/queue"
	"github.com/iliyamo/book-catalog/internal/repository"
)

// memDB is an in-memory credential store. Transactions are serialized and
// roll back by restoring a snapshot.
type memDB struct {
	mu    sync.Mutex
	txMu  sync.Mutex
	users map[uint64]model.User
	toks  map[uint64]model.RefreshToken

	nextUser, nextTok uint64

	// test hooks
	tokenErr   error // returned by every token operation when set
	loseRevoke bool  // RevokeIfActive behaves as if another writer won
}

func newMemDB() *memDB {
	return &memDB{users: map[uint64]model.User{}, toks: map[uint64]model.RefreshToken{}}
}

type memStore struct {
	db   *memDB
	inTx bool
}

func (s *memStore) Users() repository.Users   { return memUsers{s.db} }
func (s *memStore) Tokens() repository.Tokens { return memTokens{s.db} }

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, s repository.CredentialStore) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	s.db.txMu.Lock()
	defer s.db.txMu.Unlock()

	users, toks, nu, nt := s.db.snapshot()
	if err := fn(ctx, &memStore{db: s.db, inTx: true}); err != nil {
		s.db.mu.Lock()
		s.db.users, s.db.toks, s.db.nextUser, s.db.nextTok = users, toks, nu, nt
		s.db.mu.Unlock()
		return err
	}
	return nil
}

func (d *memDB) snapshot() (map[uint64]model.User, map[uint64]model.RefreshToken, uint64, uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	users := make(map[uint64]model.User, len(d.users))
	for k, v := range d.users {
		users[k] = v
	}
	toks := make(map[uint64]model.RefreshToken, len(d.toks))
	for k, v := range d.toks {
		toks[k] = v
	}
	return users, toks, d.nextUser, d.nextTok
}

func (d *memDB) tokensInFamily(family string) []model.RefreshToken {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []model.RefreshToken
	for _, t := range d.toks {
		if t.FamilyID == family {
			out = append(out, t)
		}
	}
	return out
}

func (d *memDB) userCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.users)
}

func (d *memDB) tokenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.toks)
}

type memUsers struct{ db *memDB }

func (u memUsers) Create(_ context.Context, in *model.User) (uint64, error) {
	u.db.mu.Lock()
	defer u.db.mu.Unlock()
	email := repository.NormalizeEmail(in.Email)
	for _, x := range u.db.users {
		if x.Email == email {
			return 0, repository.ErrEmailExists
		}
		if in.Username != "" && x.Username == in.Username {
			return 0, repository.ErrUsernameExists
		}
	}
	u.db.nextUser++
	row := *in
	row.ID = u.db.nextUser
	row.Email = email
	if row.Role == "" {
		row.Role = model.RoleUser
	}
	row.CreatedAt = time.Now().UTC()
	row.UpdatedAt = row.CreatedAt
	u.db.users[row.ID] = row
	return row.ID, nil
}

func (u memUsers) find(match func(model.User) bool) (*model.User, error) {
	u.db.mu.Lock()
	defer u.db.mu.Unlock()
	for _, x := range u.db.users {
		if match(x) {
			x := x
			return &x, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (u memUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	email = repository.NormalizeEmail(email)
	return u.find(func(x model.User) bool { return x.Email == email })
}

func (u memUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	username = strings.TrimSpace(username)
	return u.find(func(x model.User) bool { return x.Username != "" && x.Username == username })
}

func (u memUsers) GetByID(_ context.Context, id uint64) (*model.User, error) {
	return u.find(func(x model.User) bool { return x.ID == id })
}

type memTokens struct{ db *memDB }

func (t memTokens) Create(_ context.Context, in *model.RefreshToken) (uint64, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.db.tokenErr != nil {
		return 0, t.db.tokenErr
	}
	for _, x := range t.db.toks {
		if x.TokenHash == in.TokenHash {
			return 0, errors.New("duplicate token hash")
		}
	}
	t.db.nextTok++
	row := *in
	row.ID = t.db.nextTok
	row.Revoked = false
	t.db.toks[row.ID] = row
	return row.ID, nil
}

func (t memTokens) FindByHash(_ context.Context, hash string) (*model.RefreshToken, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.db.tokenErr != nil {
		return nil, t.db.tokenErr
	}
	for _, x := range t.db.toks {
		if x.TokenHash == hash {
			x := x
			return &x, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (t memTokens) RevokeIfActive(_ context.Context, id, replacedBy uint64, at time.Time) (bool, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.db.tokenErr != nil {
		return false, t.db.tokenErr
	}
	row, ok := t.db.toks[id]
	if !ok || row.Revoked || t.db.loseRevoke {
		return false, nil
	}
	row.Revoked = true
	row.RevokedAt = &at
	row.ReplacedByID = replacedBy
	t.db.toks[id] = row
	return true, nil
}

func (t memTokens) RevokeFamily(_ context.Context, family string, at time.Time) (int64, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.db.tokenErr != nil {
		return 0, t.db.tokenErr
	}
	var n int64
	for id, row := range t.db.toks {
		if row.FamilyID == family && !row.Revoked {
			row.Revoked = true
			row.RevokedAt = &at
			t.db.toks[id] = row
			n++
		}
	}
	return n, nil
}

func (t memTokens) DeleteByHash(_ context.Context, hash string) (bool, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.db.tokenErr != nil {
		return false, t.db.tokenErr
	}
	for id, row := range t.db.toks {
		if row.TokenHash == hash {
			delete(t.db.toks, id)
			return true, nil
		}
	}
	return false, nil
}

func (t memTokens) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.db.tokenErr != nil {
		return 0, t.db.tokenErr
	}
	var n int64
	for id, row := range t.db.toks {
		if row.ExpiresAt.Before(before) {
			delete(t.db.toks, id)
			n++
		}
	}
	return n, nil
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []queue.AuthEvent
}

func (r *recorder) Publish(_ context.Context, ev queue.AuthEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}
