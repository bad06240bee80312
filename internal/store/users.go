package store

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUsernameTaken      = errors.New("username already exists")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// User is a registered account.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"-"`

	passwordHash []byte
}

// UserStore holds accounts in memory.
type UserStore struct {
	mu      sync.RWMutex
	byName  map[string]*User
	byEmail map[string]string
	cost    int
}

func NewUserStore() *UserStore {
	return &UserStore{
		byName:  make(map[string]*User),
		byEmail: make(map[string]string),
		cost:    bcrypt.DefaultCost,
	}
}

// Create registers a new account. Usernames are case-sensitive and emails
// are compared case-insensitively.
func (s *UserStore) Create(username, email, password string) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return User{}, err
	}
	emailKey := strings.ToLower(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[username]; ok {
		return User{}, ErrUsernameTaken
	}
	if _, ok := s.byEmail[emailKey]; ok {
		return User{}, ErrEmailTaken
	}

	u := &User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		CreatedAt:    time.Now().UTC(),
		passwordHash: hash,
	}
	s.byName[username] = u
	s.byEmail[emailKey] = username
	return *u, nil
}

// Authenticate returns the user when the password matches.
func (s *UserStore) Authenticate(username, password string) (User, error) {
	s.mu.RLock()
	u, ok := s.byName[username]
	s.mu.RUnlock()
	if !ok {
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return *u, nil
}

// Exists reports whether username is registered.
func (s *UserStore) Exists(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byName[username]
	return ok
}
