package models

import (
	"encoding/json"
	"errors"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("validation failed")
	ErrUserExists     = errors.New("user already exists")
	ErrForbidden      = errors.New("forbidden")
	ErrSenderMismatch = errors.New("sender does not match connection identity")
	ErrPersistence    = errors.New("persistence failure")
)

// User represents a registered account. The password hash never leaves storage.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	FirstName    string `json:"firstName,omitempty"`
	LastName     string `json:"lastName,omitempty"`
	Picture      string `json:"picture,omitempty"`
	Color        int    `json:"color"`
	ProfileSetup bool   `json:"profileSetup"`
	CreatedAt    int64  `json:"createdAt"` // Unix timestamp (milliseconds)
	UpdatedAt    int64  `json:"updatedAt"`
}

// PublicUser is the projection of a user embedded into outbound messages
// and contact lists.
type PublicUser struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	Picture   string
	Color     int
}

func NewPublicUser(u User) PublicUser {
	return PublicUser{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Picture:   u.Picture,
		Color:     u.Color,
	}
}

// DisplayName returns "First Last", falling back to the email.
func (u PublicUser) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Email
	}
}

type publicUserJSON struct {
	UnderscoreID string `json:"_id"`
	ID           string `json:"id"`
	Email        string `json:"email"`
	FirstName    string `json:"firstName,omitempty"`
	LastName     string `json:"lastName,omitempty"`
	Picture      string `json:"picture,omitempty"`
	Color        int    `json:"color"`
}

// MarshalJSON writes the identifier both as "_id" and "id"; web clients
// use either form.
func (u PublicUser) MarshalJSON() ([]byte, error) {
	return json.Marshal(publicUserJSON{
		UnderscoreID: u.ID,
		ID:           u.ID,
		Email:        u.Email,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Picture:      u.Picture,
		Color:        u.Color,
	})
}

func (u *PublicUser) UnmarshalJSON(data []byte) error {
	var v publicUserJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	id := v.ID
	if id == "" {
		id = v.UnderscoreID
	}
	*u = PublicUser{
		ID:        id,
		Email:     v.Email,
		FirstName: v.FirstName,
		LastName:  v.LastName,
		Picture:   v.Picture,
		Color:     v.Color,
	}
	return nil
}

type MessageType string

const (
	MessageTypeText MessageType = "text"
	MessageTypeFile MessageType = "file"
)

func (t MessageType) Valid() bool {
	return t == MessageTypeText || t == MessageTypeFile
}

// Message is a persisted chat message. Direct messages carry Recipient,
// channel messages carry ChannelID.
type Message struct {
	ID          string      `json:"_id"`
	Seq         int64       `json:"seq"`
	Sender      string      `json:"sender"`
	Recipient   string      `json:"recipient,omitempty"`
	ChannelID   string      `json:"channelId,omitempty"`
	Content     string      `json:"content,omitempty"`
	FileURL     string      `json:"fileUrl,omitempty"`
	MessageType MessageType `json:"messageType"`
	Timestamp   int64       `json:"timestamp"` // Unix timestamp (milliseconds)
}

// Envelope is a Message with its participants expanded. It is built
// fresh for every delivery and never stored.
type Envelope struct {
	ID          string      `json:"_id"`
	Seq         int64       `json:"seq"`
	Sender      PublicUser  `json:"sender"`
	Recipient   *PublicUser `json:"recipient,omitempty"`
	ChannelID   string      `json:"channelId,omitempty"`
	Content     string      `json:"content,omitempty"`
	ContentHTML string      `json:"contentHtml,omitempty"`
	FileURL     string      `json:"fileUrl,omitempty"`
	MessageType MessageType `json:"messageType"`
	Timestamp   int64       `json:"timestamp"`
}

// Channel is a named group conversation owned by Admin.
type Channel struct {
	ID        string   `json:"_id"`
	Name      string   `json:"name"`
	Members   []string `json:"members"`
	Admin     string   `json:"admin"`
	CreatedAt int64    `json:"createdAt"`
	UpdatedAt int64    `json:"updatedAt"`
}

// HasMember reports whether userID may read and post in the channel.
func (c Channel) HasMember(userID string) bool {
	if c.Admin == userID {
		return true
	}
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// Contact is one row of the direct message list: the counterpart and the
// time of the most recent message exchanged with them.
type Contact struct {
	PublicUser
	LastMessageTime int64 `json:"lastMessageTime"`
}

func (c Contact) MarshalJSON() ([]byte, error) {
	type contactJSON struct {
		publicUserJSON
		LastMessageTime int64 `json:"lastMessageTime"`
	}
	return json.Marshal(contactJSON{
		publicUserJSON: publicUserJSON{
			UnderscoreID: c.ID,
			ID:           c.ID,
			Email:        c.Email,
			FirstName:    c.FirstName,
			LastName:     c.LastName,
			Picture:      c.Picture,
			Color:        c.Color,
		},
		LastMessageTime: c.LastMessageTime,
	})
}

func (c *Contact) UnmarshalJSON(data []byte) error {
	if err := c.PublicUser.UnmarshalJSON(data); err != nil {
		return err
	}
	var v struct {
		LastMessageTime int64 `json:"lastMessageTime"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	c.LastMessageTime = v.LastMessageTime
	return nil
}

// PushSubscription is a browser web push endpoint registered by a user.
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

// ClientMessage represents a frame sent from the client to the server.
type ClientMessage struct {
	Type        ClientMessageType `json:"type"`
	Ref         string            `json:"ref,omitempty"`
	Sender      string            `json:"sender"`
	Recipient   string            `json:"recipient,omitempty"`
	ChannelID   string            `json:"channelId,omitempty"`
	Content     string            `json:"content,omitempty"`
	FileURL     string            `json:"fileUrl,omitempty"`
	MessageType MessageType       `json:"messageType"`
}

// ServerMessage represents a frame sent to the client.
type ServerMessage struct {
	Type    ServerMessageType `json:"type"`
	Ref     string            `json:"ref,omitempty"`
	Reason  EvictReason       `json:"reason,omitempty"`
	Message *Envelope         `json:"message,omitempty"`
	Error   *ErrorPayload     `json:"error,omitempty"`
}

type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

type ErrorCode string

const (
	ErrorCodeValidation     ErrorCode = "validation"
	ErrorCodeForbidden      ErrorCode = "forbidden"
	ErrorCodeSenderMismatch ErrorCode = "sender_mismatch"
	ErrorCodePersistence    ErrorCode = "persistence"
	ErrorCodeUnknownType    ErrorCode = "unknown_type"
)

// ErrorCodeFor classifies err into the code reported to socket clients.
func ErrorCodeFor(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
		return ErrorCodeValidation
	case errors.Is(err, ErrForbidden):
		return ErrorCodeForbidden
	case errors.Is(err, ErrSenderMismatch):
		return ErrorCodeSenderMismatch
	default:
		return ErrorCodePersistence
	}
}

type EvictReason string

const (
	EvictReasonSuperseded EvictReason = "superseded"
	EvictReasonKicked     EvictReason = "kicked"
)

type ClientMessageType string

const (
	ClientMessageTypeSend        ClientMessageType = "sendMessage"
	ClientMessageTypeSendChannel ClientMessageType = "sendChannelMessage"
)

type ServerMessageType string

const (
	ServerMessageTypeReceive        ServerMessageType = "receiveMessage"
	ServerMessageTypeReceiveChannel ServerMessageType = "receiveChannelMessage"
	ServerMessageTypeSendAck        ServerMessageType = "sendAck"
	ServerMessageTypeSendError      ServerMessageType = "sendError"
	ServerMessageTypeEvicted        ServerMessageType = "evicted"
)

// APIResponse is a generic JSON body for operator endpoints.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
