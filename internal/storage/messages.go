package storage

import (
	"fmt"
	"sort"
	"strings"

	"pigeon/internal/content"
	"pigeon/internal/models"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const (
	dmPrefix      = "dm:"
	channelPrefix = "ch:"
)

// dmKey names the conversation bucket shared by two users, independent of
// who sent first.
func dmKey(u1, u2 string) string {
	if u2 < u1 {
		u1, u2 = u2, u1
	}
	return dmPrefix + u1 + ":" + u2
}

func channelKey(channelID string) string {
	return channelPrefix + channelID
}

// dmParticipants splits a dm bucket name back into its two user ids.
func dmParticipants(key string) (string, string, bool) {
	if !strings.HasPrefix(key, dmPrefix) {
		return "", "", false
	}
	parts := strings.Split(key[len(dmPrefix):], ":")
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func conversationKey(msg models.Message) (string, error) {
	if strings.Contains(msg.Sender, ":") || strings.Contains(msg.Recipient, ":") {
		return "", fmt.Errorf("user ids cannot contain ':': %w", models.ErrValidation)
	}
	switch {
	case msg.ChannelID != "":
		return channelKey(msg.ChannelID), nil
	case msg.Sender != "" && msg.Recipient != "":
		return dmKey(msg.Sender, msg.Recipient), nil
	default:
		return "", fmt.Errorf("message needs a recipient or a channel: %w", models.ErrValidation)
	}
}

// CreateMessage appends msg to its conversation and returns it with the
// generated id, sequence number and timestamp. Channel messages also bump
// the channel's UpdatedAt.
func (s *BboltStorage) CreateMessage(msg models.Message) (models.Message, error) {
	convKey, err := conversationKey(msg)
	if err != nil {
		return models.Message{}, err
	}

	msg.ID = uuid.NewString()
	msg.Timestamp = s.now().UnixMilli()

	err = s.db.Update(func(tx *bbolt.Tx) error {
		if msg.ChannelID != "" {
			if err := touchChannel(tx, msg.ChannelID, msg.Timestamp); err != nil {
				return err
			}
		}

		convBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(convKey))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}

		seq, err := convBucket.NextSequence()
		if err != nil {
			return err
		}
		msg.Seq = int64(seq)

		dbMessage := DBMessage{
			ID:          msg.ID,
			Seq:         msg.Seq,
			Sender:      msg.Sender,
			Recipient:   msg.Recipient,
			ChannelID:   msg.ChannelID,
			Content:     msg.Content,
			FileURL:     msg.FileURL,
			MessageType: string(msg.MessageType),
			Timestamp:   msg.Timestamp,
		}
		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := convBucket.Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		ref := DBMessageRef{ID: msg.ID, Conversation: convKey, Seq: msg.Seq}
		refData, err := ref.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMessageIndex).Put(ref.Key(), refData)
	})
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func (s *BboltStorage) GetMessage(id string) (models.Message, error) {
	var msg models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbMsg, err := getMessage(tx, id)
		if err != nil {
			return err
		}
		msg = dbMsg.toModel()
		return nil
	})
	return msg, err
}

// GetEnvelope reads a stored message back with sender and recipient
// expanded into their public projections.
func (s *BboltStorage) GetEnvelope(id string) (models.Envelope, error) {
	var env models.Envelope
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbMsg, err := getMessage(tx, id)
		if err != nil {
			return err
		}
		env, err = envelopeFrom(tx, dbMsg)
		return err
	})
	return env, err
}

// ListDirectMessages returns the conversation between two users, oldest first.
func (s *BboltStorage) ListDirectMessages(u1, u2 string) ([]models.Envelope, error) {
	return s.listConversation(dmKey(u1, u2))
}

// ListChannelMessages returns a channel's messages, oldest first.
func (s *BboltStorage) ListChannelMessages(channelID string) ([]models.Envelope, error) {
	return s.listConversation(channelKey(channelID))
}

func (s *BboltStorage) listConversation(convKey string) ([]models.Envelope, error) {
	envelopes := []models.Envelope{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		convBucket := tx.Bucket(bucketMessages).Bucket([]byte(convKey))
		if convBucket == nil {
			return nil // No messages yet
		}
		return convBucket.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			env, err := envelopeFrom(tx, dbMsg)
			if err != nil {
				return err
			}
			envelopes = append(envelopes, env)
			return nil
		})
	})
	return envelopes, err
}

// ListDMContacts reduces the direct message log to one row per counterpart
// of userID, carrying the time of the latest message exchanged, most recent
// first. Counterparts that no longer exist are skipped.
func (s *BboltStorage) ListDMContacts(userID string) ([]models.Contact, error) {
	contacts := []models.Contact{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		messages := tx.Bucket(bucketMessages)
		return messages.ForEachBucket(func(name []byte) error {
			a, b, ok := dmParticipants(string(name))
			if !ok {
				return nil
			}
			var counterpart string
			switch userID {
			case a:
				counterpart = b
			case b:
				counterpart = a
			default:
				return nil
			}

			_, v := messages.Bucket(name).Cursor().Last()
			if v == nil {
				return nil
			}
			var last DBMessage
			if err := last.UnmarshalBinary(v); err != nil {
				return err
			}

			user, err := getUser(tx, counterpart)
			if err != nil {
				return nil
			}
			contacts = append(contacts, models.Contact{
				PublicUser:      models.NewPublicUser(user.toModel()),
				LastMessageTime: last.Timestamp,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(contacts, func(i, j int) bool {
		return contacts[i].LastMessageTime > contacts[j].LastMessageTime
	})
	return contacts, nil
}

func getMessage(tx *bbolt.Tx, id string) (DBMessage, error) {
	var dbMsg DBMessage
	refData := tx.Bucket(bucketMessageIndex).Get([]byte(id))
	if refData == nil {
		return dbMsg, fmt.Errorf("message %s: %w", id, models.ErrNotFound)
	}
	var ref DBMessageRef
	if err := ref.UnmarshalBinary(refData); err != nil {
		return dbMsg, err
	}

	convBucket := tx.Bucket(bucketMessages).Bucket([]byte(ref.Conversation))
	if convBucket == nil {
		return dbMsg, fmt.Errorf("conversation %s: %w", ref.Conversation, models.ErrNotFound)
	}
	data := convBucket.Get(seqKey(ref.Seq))
	if data == nil {
		return dbMsg, fmt.Errorf("message %s: %w", id, models.ErrNotFound)
	}
	if err := dbMsg.UnmarshalBinary(data); err != nil {
		return dbMsg, fmt.Errorf("failed to unmarshal message %s: %w", id, err)
	}
	return dbMsg, nil
}

func envelopeFrom(tx *bbolt.Tx, m DBMessage) (models.Envelope, error) {
	sender, err := publicUser(tx, m.Sender)
	if err != nil {
		return models.Envelope{}, err
	}

	env := models.Envelope{
		ID:          m.ID,
		Seq:         m.Seq,
		Sender:      sender,
		ChannelID:   m.ChannelID,
		Content:     m.Content,
		FileURL:     m.FileURL,
		MessageType: models.MessageType(m.MessageType),
		Timestamp:   m.Timestamp,
	}
	if m.Recipient != "" {
		recipient, err := publicUser(tx, m.Recipient)
		if err != nil {
			return models.Envelope{}, err
		}
		env.Recipient = &recipient
	}
	if env.MessageType == models.MessageTypeText {
		env.ContentHTML = content.RenderMarkdown(m.Content)
	}
	return env, nil
}

// publicUser expands id into its projection. Unknown ids expand to a
// projection carrying only the id.
func publicUser(tx *bbolt.Tx, id string) (models.PublicUser, error) {
	data := tx.Bucket(bucketUsers).Get([]byte(id))
	if data == nil {
		return models.PublicUser{ID: id}, nil
	}
	var dbUser DBUser
	if err := dbUser.UnmarshalBinary(data); err != nil {
		return models.PublicUser{}, fmt.Errorf("failed to unmarshal user %s: %w", id, err)
	}
	return models.NewPublicUser(dbUser.toModel()), nil
}
