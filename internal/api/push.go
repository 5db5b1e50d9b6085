package api

import (
	"net/http"

	"pigeon/internal/models"
)

// browserSubscription mirrors PushSubscription.toJSON() in browsers.
type browserSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (a *API) PushSubscribeHandler(w http.ResponseWriter, r *http.Request) {
	if a.cfg.VAPIDPublicKey == "" {
		writeError(w, http.StatusNotFound, "Push notifications are not enabled.")
		return
	}

	var req browserSubscription
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "endpoint and keys are required.")
		return
	}

	err := a.storage.UpsertPushSubscription(userIDFrom(r), models.PushSubscription{
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	})
	if err != nil {
		a.logger.Error("failed to store push subscription", "user_id", userIDFrom(r), "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusCreated, models.APIResponse{Success: true})
}

func (a *API) VAPIDPublicKeyHandler(w http.ResponseWriter, r *http.Request) {
	if a.cfg.VAPIDPublicKey == "" {
		writeError(w, http.StatusNotFound, "Push notifications are not enabled.")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		PublicKey string `json:"publicKey"`
	}{PublicKey: a.cfg.VAPIDPublicKey})
}
