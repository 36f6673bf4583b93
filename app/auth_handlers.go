package huddle

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/huddlenet/huddle/core"
	"github.com/huddlenet/huddle/pkg/router"
)

type AuthHandler struct {
	store core.AuthStore
	conns *core.ConnManager
}

func NewAuthHandler(store core.AuthStore, conns *core.ConnManager) *AuthHandler {
	return &AuthHandler{store: store, conns: conns}
}

type SigninPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AuthHandler) SigninHandler(w http.ResponseWriter, r *http.Request) error {
	var payload SigninPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return fmt.Errorf("Decode: %w", err)
	}
	defer r.Body.Close()

	session, err := h.store.NewSession(r.Context(), payload.Username, payload.Password)
	if err != nil {
		if errors.Is(err, core.ErrBadCredentials) {
			return router.Unauthorized(err.Error())
		}
		return err
	}

	http.SetCookie(w, core.NewSessionCookie(*session, true, "/"))

	if err := json.NewEncoder(w).Encode(session); err != nil {
		return fmt.Errorf("Encode: %w", err)
	}
	return nil
}

func (h *AuthHandler) SignoutHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	if err := h.store.DestroySession(r.Context(), session); err != nil {
		return err
	}

	// revoking the token does not tear down live sockets by itself
	h.conns.Disconnect(session.Username)

	http.SetCookie(w, &http.Cookie{
		Name:     core.AuthCookieName,
		Value:    "",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Path:     "/",
	})
	w.WriteHeader(http.StatusOK)
	return nil
}
