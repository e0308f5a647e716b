package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/terraconstructs/rolewarden/internal/audit"
	"github.com/terraconstructs/rolewarden/internal/platform"
)

// auditRecordResponse is the API form of an audit record. Ids are rendered
// as strings because snowflakes overflow JavaScript numbers.
type auditRecordResponse struct {
	MemberID     string    `json:"member_id"`
	Timestamp    time.Time `json:"timestamp"`
	RemovedRoles []string  `json:"removed_roles"`
	NewRole      string    `json:"new_role,omitempty"`
	Action       string    `json:"action,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	ActionID     string    `json:"action_id,omitempty"`
}

func toResponse(member platform.MemberID, rec audit.Record) auditRecordResponse {
	removed := make([]string, 0, len(rec.RemovedRoles))
	for _, r := range rec.RemovedRoles {
		removed = append(removed, r.String())
	}
	resp := auditRecordResponse{
		MemberID:     member.String(),
		Timestamp:    rec.Timestamp,
		RemovedRoles: removed,
		Action:       string(rec.Action),
		Reason:       rec.Reason,
		ActionID:     rec.ActionID,
	}
	if rec.NewRole != 0 {
		resp.NewRole = rec.NewRole.String()
	}
	return resp
}

// HandleListAudit handles GET /v1/audit?filter=<bexpr>.
// Records are returned newest first.
func HandleListAudit(store audit.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := audit.NewFilter(r.URL.Query().Get("filter"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		records, err := store.Load(r.Context())
		if err != nil {
			log.Printf("ERROR: load audit records: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to load audit records")
			return
		}

		matched := filter.Apply(records)
		out := make([]auditRecordResponse, 0, len(matched))
		for member, rec := range matched {
			out = append(out, toResponse(member, rec))
		}
		sort.Slice(out, func(i, j int) bool {
			if !out[i].Timestamp.Equal(out[j].Timestamp) {
				return out[i].Timestamp.After(out[j].Timestamp)
			}
			return out[i].MemberID < out[j].MemberID
		})

		writeJSON(w, http.StatusOK, map[string]any{
			"records": out,
			"count":   len(out),
		})
	}
}

// HandleGetAudit handles GET /v1/audit/{memberID}.
func HandleGetAudit(store audit.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		member, err := platform.ParseMemberID(chi.URLParam(r, "memberID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		rec, err := store.Get(r.Context(), member)
		if errors.Is(err, audit.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no audit record for member")
			return
		}
		if err != nil {
			log.Printf("ERROR: get audit record for member %s: %v", member, err)
			writeError(w, http.StatusInternalServerError, "failed to load audit record")
			return
		}

		writeJSON(w, http.StatusOK, toResponse(member, rec))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
