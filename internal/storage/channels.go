package storage

import (
	"fmt"
	"sort"
	"strings"

	"pigeon/internal/models"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.etcd.io/bbolt"
)

// CreateChannel stores a new channel administered by adminID. Every member
// and the admin must be existing users.
func (s *BboltStorage) CreateChannel(name, adminID string, members []string) (models.Channel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Channel{}, fmt.Errorf("channel name is required: %w", models.ErrValidation)
	}
	members = lo.Uniq(lo.Filter(members, func(m string, _ int) bool { return m != "" }))
	if len(members) == 0 {
		return models.Channel{}, fmt.Errorf("channel members are required: %w", models.ErrValidation)
	}

	now := s.now().UnixMilli()
	dbChannel := DBChannel{
		ID:        uuid.NewString(),
		Name:      name,
		Members:   members,
		Admin:     adminID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		if users.Get([]byte(adminID)) == nil {
			return fmt.Errorf("admin %s does not exist: %w", adminID, models.ErrValidation)
		}
		for _, m := range members {
			if users.Get([]byte(m)) == nil {
				return fmt.Errorf("member %s does not exist: %w", m, models.ErrValidation)
			}
		}

		data, err := dbChannel.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal channel: %w", err)
		}
		return tx.Bucket(bucketChannels).Put(dbChannel.Key(), data)
	})
	if err != nil {
		return models.Channel{}, err
	}
	return dbChannel.toModel(), nil
}

func (s *BboltStorage) GetChannel(id string) (models.Channel, error) {
	var channel models.Channel
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbChannel, err := getChannel(tx, id)
		if err != nil {
			return err
		}
		channel = dbChannel.toModel()
		return nil
	})
	return channel, err
}

// ListUserChannels returns the channels userID administers or belongs to,
// most recently active first.
func (s *BboltStorage) ListUserChannels(userID string) ([]models.Channel, error) {
	channels := []models.Channel{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChannels).ForEach(func(k, v []byte) error {
			var dbChannel DBChannel
			if err := dbChannel.UnmarshalBinary(v); err != nil {
				return err
			}
			channel := dbChannel.toModel()
			if channel.HasMember(userID) {
				channels = append(channels, channel)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(channels, func(i, j int) bool {
		return channels[i].UpdatedAt > channels[j].UpdatedAt
	})
	return channels, nil
}

func getChannel(tx *bbolt.Tx, id string) (DBChannel, error) {
	var dbChannel DBChannel
	data := tx.Bucket(bucketChannels).Get([]byte(id))
	if data == nil {
		return dbChannel, fmt.Errorf("channel %s: %w", id, models.ErrNotFound)
	}
	if err := dbChannel.UnmarshalBinary(data); err != nil {
		return dbChannel, fmt.Errorf("failed to unmarshal channel %s: %w", id, err)
	}
	return dbChannel, nil
}

func touchChannel(tx *bbolt.Tx, id string, ts int64) error {
	dbChannel, err := getChannel(tx, id)
	if err != nil {
		return err
	}
	dbChannel.UpdatedAt = ts
	data, err := dbChannel.MarshalBinary()
	if err != nil {
		return err
	}
	return tx.Bucket(bucketChannels).Put(dbChannel.Key(), data)
}
