package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smehub/apiserver/internal/mail"
	"github.com/smehub/apiserver/internal/store"
	"github.com/smehub/apiserver/types"
)

// memDB is an in-memory stand-in for the users and reset token tables.
type memDB struct {
	mu       sync.Mutex
	users    map[string]types.User
	tokens   map[string]types.ResetToken
	requests []memRequest
	nextID   int64
}

type memRequest struct {
	ip string
	at time.Time
}

func newMemDB() *memDB {
	return &memDB{
		users:  make(map[string]types.User),
		tokens: make(map[string]types.ResetToken),
	}
}

func (db *memDB) addUser(u types.User) types.User {
	db.mu.Lock()
	defer db.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	db.users[u.ID] = u
	return u
}

func (db *memDB) user(id string) types.User {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.users[id]
}

type memUsers struct{ db *memDB }

func (m memUsers) GetByID(_ context.Context, id string) (types.User, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	u, ok := m.db.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (m memUsers) find(match func(types.User) bool) (types.User, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, u := range m.db.users {
		if match(u) {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m memUsers) GetByEmail(_ context.Context, email string) (types.User, error) {
	return m.find(func(u types.User) bool { return u.Email == email })
}

func (m memUsers) GetByUsername(_ context.Context, username string) (types.User, error) {
	return m.find(func(u types.User) bool { return u.Username == username })
}

func (m memUsers) List(_ context.Context, offset, limit int) ([]types.User, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	users := make([]types.User, 0, len(m.db.users))
	for _, u := range m.db.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	if offset > len(users) {
		return []types.User{}, nil
	}
	users = users[offset:]
	if limit < len(users) {
		users = users[:limit]
	}
	return users, nil
}

func (m memUsers) Create(_ context.Context, u types.User) (types.User, error) {
	if _, err := m.GetByUsername(context.Background(), u.Username); err == nil {
		return types.User{}, store.ErrConflict
	}
	return m.db.addUser(u), nil
}

func (m memUsers) update(id string, fn func(*types.User)) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	u, ok := m.db.users[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&u)
	m.db.users[id] = u
	return nil
}

func (m memUsers) UpdateStatus(_ context.Context, id string, active bool) error {
	return m.update(id, func(u *types.User) { u.IsActive = active })
}

func (m memUsers) UpdatePassword(_ context.Context, id, hash string) error {
	return m.update(id, func(u *types.User) { u.PasswordHash = hash })
}

func (m memUsers) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	return m.update(id, func(u *types.User) { u.LastLogin = &at })
}

func (m memUsers) Delete(_ context.Context, id string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.db.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.db.users, id)
	return nil
}

type memTokens struct {
	db       *memDB
	purgeErr error
}

func (m *memTokens) PurgeExpired(_ context.Context, now, cutoff time.Time) (int64, error) {
	if m.purgeErr != nil {
		return 0, m.purgeErr
	}
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var removed int64
	for k, t := range m.db.tokens {
		if !t.ExpiresAt.After(now) {
			delete(m.db.tokens, k)
			removed++
		}
	}
	kept := m.db.requests[:0]
	for _, r := range m.db.requests {
		if !r.at.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	m.db.requests = kept
	return removed, nil
}

func (m *memTokens) CountRequestsSince(_ context.Context, ip string, since time.Time) (int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	count := 0
	for _, r := range m.db.requests {
		if r.ip == ip && !r.at.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *memTokens) RecordRequest(_ context.Context, ip string, at time.Time) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.db.requests = append(m.db.requests, memRequest{ip: ip, at: at})
	return nil
}

func (m *memTokens) Create(_ context.Context, t types.ResetToken) (types.ResetToken, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, exists := m.db.tokens[t.Token]; exists {
		return types.ResetToken{}, store.ErrConflict
	}
	m.db.nextID++
	t.ID = m.db.nextID
	m.db.tokens[t.Token] = t
	return t, nil
}

func (m *memTokens) GetByToken(_ context.Context, token string) (types.ResetToken, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	t, ok := m.db.tokens[token]
	if !ok {
		return types.ResetToken{}, store.ErrNotFound
	}
	return t, nil
}

func (m *memTokens) Consume(_ context.Context, token, hash string, now time.Time) (string, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	t, ok := m.db.tokens[token]
	if !ok {
		return "", store.ErrNotFound
	}
	if t.UsedAt != nil {
		return "", store.ErrTokenUsed
	}
	if !t.ExpiresAt.After(now) {
		return "", store.ErrNotFound
	}
	u, ok := m.db.users[t.UserID]
	if !ok || !u.IsActive {
		return "", store.ErrNotFound
	}
	t.UsedAt = &now
	m.db.tokens[token] = t
	u.PasswordHash = hash
	m.db.users[u.ID] = u
	return u.ID, nil
}

// plainHasher avoids bcrypt cost in tests.
type plainHasher struct{}

func (plainHasher) Hash(p string) (string, error) { return "hashed:" + p, nil }

func (plainHasher) Compare(hash, p string) error {
	if hash != "hashed:"+p {
		return errors.New("mismatch")
	}
	return nil
}

type captureMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (c *captureMailer) Send(_ context.Context, msg mail.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msg)
	return nil
}

type countingRecorder struct {
	mu        sync.Mutex
	requested map[string]int
	completed map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{requested: map[string]int{}, completed: map[string]int{}}
}

func (c *countingRecorder) ResetRequested(o string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requested[o]++
}

func (c *countingRecorder) ResetCompleted(o string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed[o]++
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
