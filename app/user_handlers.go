package huddle

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/huddlenet/huddle/core"
	"github.com/huddlenet/huddle/pkg/router"
)

type UserHandler struct {
	store core.UserStore
}

func NewUserHandler(store core.UserStore) *UserHandler {
	return &UserHandler{store: store}
}

func (h *UserHandler) RegisterUserHandler(w http.ResponseWriter, r *http.Request) error {
	var user core.User

	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		return fmt.Errorf("Decode: %w", err)
	}
	defer r.Body.Close()

	if err := h.store.CreateUser(r.Context(), user); err != nil {
		switch {
		case errors.Is(err, core.ErrConflictedUser):
			return router.Conflict("user already exists")
		case errors.Is(err, core.ErrInvalidUser):
			return router.BadRequest("invalid input")
		default:
			return err
		}
	}

	w.WriteHeader(http.StatusCreated)
	return nil
}

func (h *UserHandler) MeHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	user, err := h.store.GetUserByUsername(r.Context(), session.Username)
	if err != nil {
		return fmt.Errorf("get user by username: %w", err)
	}

	if user == nil {
		return router.NotFound("user not found")
	}

	json.NewEncoder(w).Encode(user)
	return nil
}

func (h *UserHandler) GetUserByUsernameHandler(w http.ResponseWriter, r *http.Request) error {
	user, err := h.store.GetUserByUsername(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		return err
	}

	if user == nil {
		return router.NotFound("user not found")
	}

	json.NewEncoder(w).Encode(user)
	return nil
}
