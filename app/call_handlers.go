package huddle

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/huddlenet/huddle/core"
	"github.com/huddlenet/huddle/pkg/router"
)

type CallHandler struct {
	callStore core.CallStore
}

func NewCallHandler(callStore core.CallStore) *CallHandler {
	return &CallHandler{callStore: callStore}
}

// CreateCallRecordHandler accepts a call-history report from one of the
// parties after the call ended. The store guard refuses records for
// calls that never connected.
func (h *CallHandler) CreateCallRecordHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)

	var input core.CallRecordInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		return err
	}
	r.Body.Close()

	if !slices.Contains(input.Participants, session.Username) {
		return router.Forbidden("not a call participant")
	}

	record, err := h.callStore.CreateCallRecord(r.Context(), input)
	if err != nil {
		if errors.Is(err, core.ErrInvalidCallRecord) {
			return router.BadRequest(err.Error())
		}
		return err
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(record)
	return nil
}

func (h *CallHandler) GetCallHistoryHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	offset, limit := pagination(r)

	records, err := h.callStore.GetUserCallRecords(r.Context(), session.Username, offset, limit)
	if err != nil {
		return err
	}

	if records == nil {
		records = []core.CallRecord{}
	}

	return json.NewEncoder(w).Encode(records)
}
