package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pigeon/internal/auth"
	"pigeon/internal/content"
	"pigeon/internal/models"
	"pigeon/internal/storage"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
)

const maxColor = 7

var profileImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

type userResponse struct {
	User models.User `json:"user"`
}

func (a *API) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.Credentials
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, token, err := a.auth.Signup(req)
	switch {
	case errors.Is(err, models.ErrValidation):
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	case errors.Is(err, models.ErrUserExists):
		writeError(w, http.StatusConflict, "User with this email already exists")
		return
	case err != nil:
		a.logger.Error("signup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	a.setSessionCookie(w, token, a.auth.TokenExpiry)
	writeJSON(w, http.StatusCreated, userResponse{User: user})
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.Credentials
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, token, err := a.auth.Login(req)
	switch {
	case errors.Is(err, models.ErrValidation):
		writeError(w, http.StatusBadRequest, "Email and password are required.")
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid email or password.")
		return
	case errors.Is(err, auth.ErrTooManyAttempts):
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	case err != nil:
		a.logger.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	a.setSessionCookie(w, token, a.auth.TokenExpiry)
	writeJSON(w, http.StatusOK, userResponse{User: user})
}

func (a *API) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	a.auth.Logout(getToken(r))
	a.setSessionCookie(w, "", -1)
	writeJSON(w, http.StatusOK, errorResponse{Msg: "Logout successful."})
}

func (a *API) UserInfoHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type updateProfileRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Color     *int   `json:"color"`
}

func (a *API) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	firstName, err := content.ValidateName(req.FirstName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lastName, err := content.ValidateName(req.LastName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Color == nil || *req.Color < 0 || *req.Color > maxColor {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("color must be between 0 and %d", maxColor))
		return
	}

	user, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	user.FirstName = firstName
	user.LastName = lastName
	user.Color = *req.Color
	user.ProfileSetup = true

	a.saveUser(w, user)
}

type profileImageResponse struct {
	Image string `json:"image"`
}

func (a *API) AddProfileImageHandler(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > maxProfileImageSize+1<<10 {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large. Maximum size is 5MB.")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxProfileImageSize+1<<10)
	file, header, err := r.FormFile("profile-image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "File is required.")
		return
	}
	defer func() { _ = file.Close() }()

	if header.Size > maxProfileImageSize {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large. Maximum size is 5MB.")
		return
	}

	meta, err := a.storeUpload(file, header.Filename, userIDFrom(r), func(mime string) bool {
		return profileImageTypes[mime]
	})
	if err != nil {
		a.writeUploadError(w, err, "Only .jpeg, .png and .webp images are allowed.")
		return
	}

	user, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	user.Picture = uploadURL(meta.ID)
	if _, err := a.storage.UpdateUser(user); err != nil {
		a.logger.Error("failed to update profile image", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, profileImageResponse{Image: user.Picture})
}

func (a *API) RemoveProfileImageHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	user.Picture = ""
	if _, err := a.storage.UpdateUser(user); err != nil {
		a.logger.Error("failed to remove profile image", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, errorResponse{Msg: "Profile image removed successfully."})
}

func (a *API) currentUser(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	user, err := a.storage.GetUser(userIDFrom(r))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User with the given id not found.")
			return models.User{}, false
		}
		a.logger.Error("failed to load user", "user_id", userIDFrom(r), "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return models.User{}, false
	}
	return user, true
}

func (a *API) saveUser(w http.ResponseWriter, user models.User) {
	updated, err := a.storage.UpdateUser(user)
	if err != nil {
		a.logger.Error("failed to update user", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

var errUnsupportedType = errors.New("unsupported file type")

// storeUpload sniffs the content type of an upload, writes the blob to the
// filestore and records its metadata.
func (a *API) storeUpload(file io.Reader, name, userID string, allow func(mime string) bool) (storage.FileMetadata, error) {
	head := make([]byte, 261)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return storage.FileMetadata{}, err
	}
	head = head[:n]

	mime := "application/octet-stream"
	if kind, err := filetype.Match(head); err == nil && kind != filetype.Unknown {
		mime = kind.MIME.Value
	}
	if allow != nil && !allow(mime) {
		return storage.FileMetadata{}, errUnsupportedType
	}

	hash, size, err := a.files.Put(io.MultiReader(bytes.NewReader(head), file))
	if err != nil {
		return storage.FileMetadata{}, fmt.Errorf("failed to store upload: %w", err)
	}

	meta := storage.FileMetadata{
		ID:        uuid.NewString(),
		Hash:      hash,
		Name:      name,
		MimeType:  mime,
		Size:      size,
		CreatedAt: time.Now().UnixMilli(),
		UserID:    userID,
	}
	if err := a.storage.UpsertFileMetadata(meta); err != nil {
		return storage.FileMetadata{}, err
	}
	return meta, nil
}

func (a *API) writeUploadError(w http.ResponseWriter, err error, unsupported string) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, errUnsupportedType):
		writeError(w, http.StatusBadRequest, unsupported)
	case errors.As(err, &maxErr):
		writeError(w, http.StatusRequestEntityTooLarge, "File too large.")
	default:
		a.logger.Error("upload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func uploadURL(id string) string {
	return "/uploads/" + id
}

// validationMessage strips the sentinel suffix from a validation error.
func validationMessage(err error) string {
	return strings.TrimSuffix(err.Error(), ": "+models.ErrValidation.Error())
}
