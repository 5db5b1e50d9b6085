package api

import (
	"errors"
	"net/http"
	"strings"

	"pigeon/internal/models"

	"github.com/samber/lo"
)

type contactsResponse struct {
	Contacts any `json:"contacts"`
}

type messagesResponse struct {
	Messages []models.Envelope `json:"messages"`
}

type contactOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

func (a *API) SearchContactsHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SearchTerm string `json:"searchTerm"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	term := strings.TrimSpace(req.SearchTerm)
	if term == "" {
		writeError(w, http.StatusBadRequest, "searchTerm is required.")
		return
	}

	users, err := a.storage.SearchUsers(term, userIDFrom(r))
	if err != nil {
		a.logger.Error("contact search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, contactsResponse{Contacts: lo.Map(users, func(u models.User, _ int) models.PublicUser {
		return models.NewPublicUser(u)
	})})
}

func (a *API) ContactsForDMHandler(w http.ResponseWriter, r *http.Request) {
	contacts, err := a.storage.ListDMContacts(userIDFrom(r))
	if err != nil {
		a.logger.Error("failed to list dm contacts", "user_id", userIDFrom(r), "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, contactsResponse{Contacts: contacts})
}

func (a *API) AllContactsHandler(w http.ResponseWriter, r *http.Request) {
	users, err := a.storage.ListUsers()
	if err != nil {
		a.logger.Error("failed to list users", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	callerID := userIDFrom(r)
	options := lo.FilterMap(users, func(u models.User, _ int) (contactOption, bool) {
		return contactOption{
			Label: models.NewPublicUser(u).DisplayName(),
			Value: u.ID,
		}, u.ID != callerID
	})
	writeJSON(w, http.StatusOK, contactsResponse{Contacts: options})
}

func (a *API) GetMessagesHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "Both user ID's are required.")
		return
	}

	messages, err := a.storage.ListDirectMessages(userIDFrom(r), req.ID)
	if err != nil {
		a.logger.Error("failed to list messages", "user_id", userIDFrom(r), "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, messagesResponse{Messages: messages})
}

type filePathResponse struct {
	FilePath string `json:"filePath"`
}

func (a *API) UploadFileHandler(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > a.cfg.MaxUploadSize+1<<10 {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large.")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, a.cfg.MaxUploadSize+1<<10)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "File is required.")
		return
	}
	defer func() { _ = file.Close() }()

	meta, err := a.storeUpload(file, header.Filename, userIDFrom(r), nil)
	if err != nil {
		a.writeUploadError(w, err, "Unsupported file type.")
		return
	}
	writeJSON(w, http.StatusOK, filePathResponse{FilePath: uploadURL(meta.ID)})
}

type createChannelRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

type channelResponse struct {
	Channel models.Channel `json:"channel"`
}

type channelsResponse struct {
	Channels []models.Channel `json:"channels"`
}

func (a *API) CreateChannelHandler(w http.ResponseWriter, r *http.Request) {
	var req createChannelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	channel, err := a.storage.CreateChannel(req.Name, userIDFrom(r), req.Members)
	switch {
	case errors.Is(err, models.ErrValidation):
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	case err != nil:
		a.logger.Error("failed to create channel", "user_id", userIDFrom(r), "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusCreated, channelResponse{Channel: channel})
}

func (a *API) UserChannelsHandler(w http.ResponseWriter, r *http.Request) {
	channels, err := a.storage.ListUserChannels(userIDFrom(r))
	if err != nil {
		a.logger.Error("failed to list channels", "user_id", userIDFrom(r), "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, channelsResponse{Channels: channels})
}

func (a *API) ChannelMessagesHandler(w http.ResponseWriter, r *http.Request) {
	channelID := r.PathValue("channelId")
	channel, err := a.storage.GetChannel(channelID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Channel not found.")
			return
		}
		a.logger.Error("failed to load channel", "channel_id", channelID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if !channel.HasMember(userIDFrom(r)) {
		writeError(w, http.StatusForbidden, "You are not a member of this channel.")
		return
	}

	messages, err := a.storage.ListChannelMessages(channelID)
	if err != nil {
		a.logger.Error("failed to list channel messages", "channel_id", channelID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, messagesResponse{Messages: messages})
}
