package authentication

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gfmateus5/Mateus2121/models"
	"github.com/gfmateus5/Mateus2121/repositories"
	"github.com/google/uuid"
)

// memStore is an in-memory user and course store with buffered transactions.
// Writes become visible on commit. Creating a username that another transaction
// committed first fails the commit with repositories.ErrConflict, the way a
// unique index does.
type memStore struct {
	mu      sync.Mutex
	users   map[string]*models.User
	courses map[string]*models.CourseExecution

	// failCommits forces that many commits to fail with a serialization error
	failCommits int
	commits     int
	rollbacks   int
	linkWrites  int

	// linksErr, when set, fails every course link lookup
	linksErr error

	// commitGate, when set, holds the first commits until all of them arrive
	commitGate *sync.WaitGroup
	gated      int
}

func newMemStore(courses ...*models.CourseExecution) *memStore {
	s := &memStore{
		users:   make(map[string]*models.User),
		courses: make(map[string]*models.CourseExecution),
	}
	for _, c := range courses {
		s.courses[c.Acronym] = c
	}
	return s
}

// seed stores a committed user
func (s *memStore) seed(user *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.Username] = cloneUser(user)
}

func (s *memStore) user(username string) (*models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return nil, false
	}
	return cloneUser(u), true
}

func (s *memStore) userCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func cloneUser(u *models.User) *models.User {
	c := *u
	c.CourseExecutions = append([]*models.CourseExecution(nil), u.CourseExecutions...)
	return &c
}

// TransactionManager

type txKey struct{}

type memTx struct {
	store    *memStore
	ctx      context.Context
	creates  []*models.User
	links    map[uuid.UUID][]uuid.UUID
	acronyms map[uuid.UUID]string
}

func (s *memStore) Begin(ctx context.Context) (repositories.Transaction, error) {
	tx := &memTx{
		store:    s,
		links:    make(map[uuid.UUID][]uuid.UUID),
		acronyms: make(map[uuid.UUID]string),
	}
	tx.ctx = context.WithValue(ctx, txKey{}, tx)
	return tx, nil
}

func (t *memTx) Context() context.Context { return t.ctx }

func (t *memTx) Rollback() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.rollbacks++
	return nil
}

func (t *memTx) Commit() error {
	s := t.store

	s.mu.Lock()
	gate := s.commitGate
	if gate != nil && s.gated < 2 {
		s.gated++
	} else {
		gate = nil
	}
	s.mu.Unlock()
	if gate != nil {
		gate.Done()
		gate.Wait()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCommits > 0 {
		s.failCommits--
		return fmt.Errorf("could not serialize access: %w", repositories.ErrConflict)
	}
	for _, u := range t.creates {
		if _, taken := s.users[u.Username]; taken {
			return fmt.Errorf("duplicate key on users.username: %w", repositories.ErrConflict)
		}
	}

	byID := make(map[uuid.UUID]*models.User, len(s.users))
	for _, u := range t.creates {
		s.users[u.Username] = cloneUser(u)
		s.users[u.Username].CourseExecutions = nil
	}
	for _, u := range s.users {
		byID[u.ID] = u
	}
	for userID, courseIDs := range t.links {
		u := byID[userID]
		for _, id := range courseIDs {
			for _, c := range s.courses {
				if c.ID == id {
					u.AddCourse(c)
				}
			}
		}
	}
	for userID, acronyms := range t.acronyms {
		byID[userID].CourseExecutionAcronyms = acronyms
	}

	s.commits++
	return nil
}

func txFrom(ctx context.Context) *memTx {
	tx, _ := ctx.Value(txKey{}).(*memTx)
	return tx
}

// UserRepository

func (s *memStore) Create(ctx context.Context, user *models.User) error {
	tx := txFrom(ctx)
	if tx == nil {
		return errors.New("create outside transaction")
	}
	tx.creates = append(tx.creates, cloneUser(user))
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			return cloneUser(u), nil
		}
	}
	return nil, repositories.ErrNotFound
}

// GetByUsername leaves course links out, like the postgres repository
func (s *memStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	if u, ok := s.user(username); ok {
		u.CourseExecutions = nil
		return u, nil
	}
	return nil, repositories.ErrNotFound
}

func (s *memStore) AddCourseExecution(ctx context.Context, userID, courseExecutionID uuid.UUID) error {
	tx := txFrom(ctx)
	if tx == nil {
		return errors.New("link outside transaction")
	}
	tx.links[userID] = append(tx.links[userID], courseExecutionID)
	s.mu.Lock()
	s.linkWrites++
	s.mu.Unlock()
	return nil
}

func (s *memStore) UpdateCourseExecutionAcronyms(ctx context.Context, userID uuid.UUID, acronyms string) error {
	tx := txFrom(ctx)
	if tx == nil {
		return errors.New("update outside transaction")
	}
	tx.acronyms[userID] = acronyms
	return nil
}

// CourseExecutionRepository

func (s *memStore) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*models.CourseExecution, error) {
	s.mu.Lock()
	linksErr := s.linksErr
	s.mu.Unlock()
	if linksErr != nil {
		return nil, linksErr
	}
	if u, err := s.GetByID(ctx, userID); err == nil {
		return u.CourseExecutions, nil
	}
	return nil, nil
}

func (s *memStore) GetByAcronym(ctx context.Context, acronym string) (*models.CourseExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.courses[acronym]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return c, nil
}
