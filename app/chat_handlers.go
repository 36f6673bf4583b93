package huddle

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/huddlenet/huddle/core"
	"github.com/huddlenet/huddle/pkg/router"
)

type ChatHandler struct {
	chatStore core.ChatStore
}

func NewChatHandler(chatStore core.ChatStore) *ChatHandler {
	return &ChatHandler{chatStore: chatStore}
}

type CreateRoomResponse struct {
	ID string `json:"id"`
}

func (h *ChatHandler) CreateRoomHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	var payload core.RoomCreateInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return err
	}
	r.Body.Close()

	id, err := h.chatStore.CreateRoom(r.Context(), session.Username, payload)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrInvalidUser), errors.Is(err, core.ErrInvalidRoom):
			return router.BadRequest(err.Error())
		case errors.Is(err, core.ErrConflictedRoom):
			return router.Conflict(err.Error())
		default:
			return err
		}
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateRoomResponse{ID: id})
	return nil
}

type AddRoomMemberPayload struct {
	Username string          `json:"username" validate:"required"`
	Role     core.MemberRole `json:"role" validate:"required"`
}

func (h *ChatHandler) AddRoomMemberHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	inRoom, role, err := h.chatStore.IsRoomMember(r.Context(), chi.URLParam(r, "roomID"), session.Username)
	if err != nil {
		return err
	}
	if !inRoom {
		return router.Forbidden(core.ErrInvalidRoom.Error())
	}

	if role != core.Owner {
		return router.Forbidden(core.ErrDisallowedOperation.Error())
	}

	var payload AddRoomMemberPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return err
	}
	r.Body.Close()

	if err := validate.Struct(payload); err != nil {
		return router.BadRequest("invalid input")
	}

	if err := h.chatStore.AddRoomMember(r.Context(), chi.URLParam(r, "roomID"), payload.Username, payload.Role); err != nil {
		switch {
		case errors.Is(err, core.ErrInvalidRoom), errors.Is(err, core.ErrInvalidUser):
			return router.BadRequest(err.Error())
		case errors.Is(err, core.ErrDisallowedOperation):
			return router.Forbidden(err.Error())
		default:
			return err
		}
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *ChatHandler) RemoveRoomMemberHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	roomID := chi.URLParam(r, "roomID")
	userID := chi.URLParam(r, "userID")
	inRoom, role, err := h.chatStore.IsRoomMember(r.Context(), roomID, session.Username)
	if err != nil {
		return err
	}
	if !inRoom {
		return router.Forbidden(core.ErrInvalidRoom.Error())
	}

	// members may remove themselves; removing others takes the owner
	if userID != session.Username && role != core.Owner {
		return router.Forbidden(core.ErrDisallowedOperation.Error())
	}

	if err := h.chatStore.RemoveRoomMember(r.Context(), roomID, userID); err != nil {
		if errors.Is(err, core.ErrInvalidRoom) || errors.Is(err, core.ErrInvalidMember) {
			return router.BadRequest(err.Error())
		}
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *ChatHandler) GetRoomByIDHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	id := chi.URLParam(r, "roomID")

	inRoom, _, err := h.chatStore.IsRoomMember(r.Context(), id, session.Username)
	if err != nil {
		return err
	}

	if !inRoom {
		return router.Forbidden("you are not in this room")
	}

	room, err := h.chatStore.GetRoomByID(r.Context(), id)
	if err != nil {
		return err
	}
	if room == nil {
		return router.NotFound("room not found")
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(room)
	return nil
}

func (h *ChatHandler) GetMyRoomsHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	offset, limit := pagination(r)

	rooms, err := h.chatStore.GetRoomSummaries(r.Context(), session.Username, offset, limit)
	if err != nil {
		return err
	}

	if rooms == nil {
		rooms = []core.RoomSummary{}
	}

	return json.NewEncoder(w).Encode(rooms)
}

func (h *ChatHandler) GetMyContactsHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)

	contacts, err := h.chatStore.GetContacts(r.Context(), session.Username)
	if err != nil {
		return err
	}

	if contacts == nil {
		contacts = []string{}
	}

	return json.NewEncoder(w).Encode(contacts)
}

func (h *ChatHandler) GetRoomMessagesHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	roomID := chi.URLParam(r, "roomID")

	inRoom, _, err := h.chatStore.IsRoomMember(r.Context(), roomID, session.Username)
	if err != nil {
		return err
	}
	if !inRoom {
		return router.Forbidden("you are not in this room")
	}

	offset, limit := pagination(r)
	messages, err := h.chatStore.GetRoomMessages(r.Context(), roomID, offset, limit)
	if err != nil {
		return err
	}

	if messages == nil {
		messages = []core.Message{}
	}

	json.NewEncoder(w).Encode(messages)
	return nil
}

func pagination(r *http.Request) (offset, limit int) {
	query := r.URL.Query()
	limit, _ = strconv.Atoi(query.Get("limit"))
	offset, _ = strconv.Atoi(query.Get("offset"))
	return offset, limit
}
