package storage

import (
	"fmt"

	"pigeon/internal/models"

	"go.etcd.io/bbolt"
)

// UpsertPushSubscription binds a browser endpoint to userID. An endpoint
// belongs to at most one user; re-registering moves it.
func (s *BboltStorage) UpsertPushSubscription(userID string, sub models.PushSubscription) error {
	if sub.Endpoint == "" {
		return fmt.Errorf("push endpoint is required: %w", models.ErrValidation)
	}
	dbSub := DBPushSubscription{
		UserID:   userID,
		Endpoint: sub.Endpoint,
		P256dh:   sub.P256dh,
		Auth:     sub.Auth,
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := dbSub.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal push subscription: %w", err)
		}
		return tx.Bucket(bucketPushSubscriptions).Put(dbSub.Key(), data)
	})
}

func (s *BboltStorage) ListPushSubscriptions(userID string) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPushSubscriptions).ForEach(func(k, v []byte) error {
			var dbSub DBPushSubscription
			if err := dbSub.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbSub.UserID != userID {
				return nil
			}
			subs = append(subs, models.PushSubscription{
				Endpoint: dbSub.Endpoint,
				P256dh:   dbSub.P256dh,
				Auth:     dbSub.Auth,
			})
			return nil
		})
	})
	return subs, err
}

func (s *BboltStorage) DeletePushSubscription(endpoint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPushSubscriptions).Delete([]byte(endpoint))
	})
}
