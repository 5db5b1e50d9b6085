package commands

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pigeon/internal/api"
	"pigeon/internal/config"

	"github.com/stretchr/testify/require"
)

func TestAddUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/admin/users", r.URL.Path)
		var req api.AddUserRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "new@example.com", req.Email)
		_ = json.NewEncoder(w).Encode(api.AddUserResponse{
			Success:  true,
			Email:    req.Email,
			Password: "Generated1!",
			LoginURL: "http://localhost:3000/auth",
		})
	}))
	defer srv.Close()

	cfg := &config.Config{AdminAddr: strings.TrimPrefix(srv.URL, "http://")}
	var out bytes.Buffer
	require.NoError(t, AddUser("new@example.com", cfg, &out))
	require.Contains(t, out.String(), "new@example.com")
	require.Contains(t, out.String(), "Generated1!")
}

func TestAddUserServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusConflict)
	}))
	defer srv.Close()

	cfg := &config.Config{AdminAddr: strings.TrimPrefix(srv.URL, "http://")}
	err := AddUser("dup@example.com", cfg, &bytes.Buffer{})
	require.ErrorContains(t, err, "409")
}

func TestGenerateVAPIDKeys(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, GenerateVAPIDKeys(&out))
	require.Contains(t, out.String(), "VAPID_PUBLIC_KEY=")
	require.Contains(t, out.String(), "VAPID_PRIVATE_KEY=")
}
