package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var usersBucket = []byte("users")

// User is a registered account. PasswordHash is a bcrypt hash.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserStore keeps users in a bbolt bucket keyed by normalized email.
type UserStore struct {
	db *bolt.DB
}

func NewUserStore(db *bolt.DB) (*UserStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(usersBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create users bucket: %w", err)
	}
	return &UserStore{db: db}, nil
}

// Create stores u, failing with ErrEmailTaken if the email is registered.
func (s *UserStore) Create(ctx context.Context, u User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(usersBucket)
		if b.Get([]byte(u.Email)) != nil {
			return ErrEmailTaken
		}
		return b.Put([]byte(u.Email), value)
	})
}

// FindByEmail returns the user registered under email; ok is false if there is none.
func (s *UserStore) FindByEmail(ctx context.Context, email string) (User, bool, error) {
	if err := ctx.Err(); err != nil {
		return User{}, false, err
	}
	var (
		u     User
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(usersBucket).Get([]byte(email))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &u)
	})
	if err != nil {
		return User{}, false, fmt.Errorf("load user: %w", err)
	}
	return u, found, nil
}
