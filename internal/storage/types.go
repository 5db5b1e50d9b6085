package storage

import (
	"encoding"
	"encoding/binary"

	"pigeon/internal/models"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID           string `msgpack:"id"`
	Email        string `msgpack:"email"`
	FirstName    string `msgpack:"firstName"`
	LastName     string `msgpack:"lastName"`
	Picture      string `msgpack:"picture"`
	Color        int    `msgpack:"color"`
	ProfileSetup bool   `msgpack:"profileSetup"`
	PasswordHash string `msgpack:"passwordHash"`
	CreatedAt    int64  `msgpack:"createdAt"`
	UpdatedAt    int64  `msgpack:"updatedAt"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

func (u *DBUser) toModel() models.User {
	return models.User{
		ID:           u.ID,
		Email:        u.Email,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Picture:      u.Picture,
		Color:        u.Color,
		ProfileSetup: u.ProfileSetup,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

type DBMessage struct {
	ID          string `msgpack:"id"`
	Seq         int64  `msgpack:"seq"`
	Sender      string `msgpack:"sender"`
	Recipient   string `msgpack:"recipient"`
	ChannelID   string `msgpack:"channelId"`
	Content     string `msgpack:"content"`
	FileURL     string `msgpack:"fileUrl"`
	MessageType string `msgpack:"messageType"`
	Timestamp   int64  `msgpack:"timestamp"`
}

func (m *DBMessage) Key() []byte {
	return seqKey(m.Seq)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

func (m *DBMessage) toModel() models.Message {
	return models.Message{
		ID:          m.ID,
		Seq:         m.Seq,
		Sender:      m.Sender,
		Recipient:   m.Recipient,
		ChannelID:   m.ChannelID,
		Content:     m.Content,
		FileURL:     m.FileURL,
		MessageType: models.MessageType(m.MessageType),
		Timestamp:   m.Timestamp,
	}
}

// DBMessageRef locates a message inside the per-conversation buckets.
type DBMessageRef struct {
	ID           string `msgpack:"id"`
	Conversation string `msgpack:"conversation"`
	Seq          int64  `msgpack:"seq"`
}

func (r *DBMessageRef) Key() []byte {
	return []byte(r.ID)
}

func (r *DBMessageRef) MarshalBinary() (data []byte, err error) {
	type alias DBMessageRef
	return msgpack.Marshal((*alias)(r))
}

func (r *DBMessageRef) UnmarshalBinary(data []byte) error {
	type alias DBMessageRef
	return msgpack.Unmarshal(data, (*alias)(r))
}

type DBChannel struct {
	ID        string   `msgpack:"id"`
	Name      string   `msgpack:"name"`
	Members   []string `msgpack:"members"`
	Admin     string   `msgpack:"admin"`
	CreatedAt int64    `msgpack:"createdAt"`
	UpdatedAt int64    `msgpack:"updatedAt"`
}

func (c *DBChannel) Key() []byte {
	return []byte(c.ID)
}

func (c *DBChannel) MarshalBinary() (data []byte, err error) {
	type alias DBChannel
	return msgpack.Marshal((*alias)(c))
}

func (c *DBChannel) UnmarshalBinary(data []byte) error {
	type alias DBChannel
	return msgpack.Unmarshal(data, (*alias)(c))
}

func (c *DBChannel) toModel() models.Channel {
	return models.Channel{
		ID:        c.ID,
		Name:      c.Name,
		Members:   append([]string(nil), c.Members...),
		Admin:     c.Admin,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

type DBPushSubscription struct {
	UserID   string `msgpack:"userId"`
	Endpoint string `msgpack:"endpoint"`
	P256dh   string `msgpack:"p256dh"`
	Auth     string `msgpack:"auth"`
}

func (p *DBPushSubscription) Key() []byte {
	return []byte(p.Endpoint)
}

func (p *DBPushSubscription) MarshalBinary() (data []byte, err error) {
	type alias DBPushSubscription
	return msgpack.Marshal((*alias)(p))
}

func (p *DBPushSubscription) UnmarshalBinary(data []byte) error {
	type alias DBPushSubscription
	return msgpack.Unmarshal(data, (*alias)(p))
}

func seqKey(seq int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(seq))
	return key
}
