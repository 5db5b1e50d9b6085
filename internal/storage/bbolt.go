package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"pigeon/internal/models"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.etcd.io/bbolt"
)

var (
	bucketUsers             = []byte("users")
	bucketUsersByEmail      = []byte("users_by_email")
	bucketMessages          = []byte("messages")
	bucketMessageIndex      = []byte("message_index")
	bucketChannels          = []byte("channels")
	bucketFiles             = []byte("files")
	bucketPushSubscriptions = []byte("push_subscriptions")
)

type BboltStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketUsers,
			bucketUsersByEmail,
			bucketMessages,
			bucketMessageIndex,
			bucketChannels,
			bucketFiles,
			bucketPushSubscriptions,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, now: time.Now}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// CreateUser stores a new account. The email must already be normalised;
// it is unique across users.
func (s *BboltStorage) CreateUser(user models.User, passwordHash string) (models.User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := s.now().UnixMilli()
	user.CreatedAt = now
	user.UpdatedAt = now

	err := s.db.Update(func(tx *bbolt.Tx) error {
		byEmail := tx.Bucket(bucketUsersByEmail)
		if byEmail.Get([]byte(user.Email)) != nil {
			return models.ErrUserExists
		}

		dbUser := DBUser{
			ID:           user.ID,
			Email:        user.Email,
			FirstName:    user.FirstName,
			LastName:     user.LastName,
			Picture:      user.Picture,
			Color:        user.Color,
			ProfileSetup: user.ProfileSetup,
			PasswordHash: passwordHash,
			CreatedAt:    user.CreatedAt,
			UpdatedAt:    user.UpdatedAt,
		}
		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketUsers).Put(dbUser.Key(), data); err != nil {
			return err
		}
		return byEmail.Put([]byte(user.Email), dbUser.Key())
	})
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (s *BboltStorage) GetUser(id string) (models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbUser, err := getUser(tx, id)
		if err != nil {
			return err
		}
		user = dbUser.toModel()
		return nil
	})
	return user, err
}

// GetCredentials returns the user registered with email and their password hash.
func (s *BboltStorage) GetCredentials(email string) (models.User, string, error) {
	var (
		user models.User
		hash string
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketUsersByEmail).Get([]byte(email))
		if id == nil {
			return fmt.Errorf("user %s: %w", email, models.ErrNotFound)
		}
		dbUser, err := getUser(tx, string(id))
		if err != nil {
			return err
		}
		user = dbUser.toModel()
		hash = dbUser.PasswordHash
		return nil
	})
	return user, hash, err
}

// UpdateUser overwrites the profile fields of an existing user. Email and
// password hash are kept.
func (s *BboltStorage) UpdateUser(user models.User) (models.User, error) {
	var updated models.User
	err := s.db.Update(func(tx *bbolt.Tx) error {
		dbUser, err := getUser(tx, user.ID)
		if err != nil {
			return err
		}
		dbUser.FirstName = user.FirstName
		dbUser.LastName = user.LastName
		dbUser.Picture = user.Picture
		dbUser.Color = user.Color
		dbUser.ProfileSetup = user.ProfileSetup
		dbUser.UpdatedAt = s.now().UnixMilli()

		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketUsers).Put(dbUser.Key(), data); err != nil {
			return err
		}
		updated = dbUser.toModel()
		return nil
	})
	return updated, err
}

// ListUsers returns all users ordered by email.
func (s *BboltStorage) ListUsers() ([]models.User, error) {
	var users []models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			users = append(users, dbUser.toModel())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(users, func(i, j int) bool {
		return users[i].Email < users[j].Email
	})
	return users, nil
}

// SearchUsers does a case-insensitive substring match of term against first
// name, last name and email. excludeID is left out of the result.
func (s *BboltStorage) SearchUsers(term, excludeID string) ([]models.User, error) {
	users, err := s.ListUsers()
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(term)
	return lo.Filter(users, func(u models.User, _ int) bool {
		if u.ID == excludeID {
			return false
		}
		return strings.Contains(strings.ToLower(u.FirstName), needle) ||
			strings.Contains(strings.ToLower(u.LastName), needle) ||
			strings.Contains(strings.ToLower(u.Email), needle)
	}), nil
}

func getUser(tx *bbolt.Tx, id string) (DBUser, error) {
	var dbUser DBUser
	data := tx.Bucket(bucketUsers).Get([]byte(id))
	if data == nil {
		return dbUser, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	if err := dbUser.UnmarshalBinary(data); err != nil {
		return dbUser, fmt.Errorf("failed to unmarshal user %s: %w", id, err)
	}
	return dbUser, nil
}
