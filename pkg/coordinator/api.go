package coordinator

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/csremote/broker/pkg/accesscode"
	"github.com/csremote/broker/pkg/chat"
	"github.com/csremote/broker/pkg/events"
	"github.com/csremote/broker/pkg/logger"
	"github.com/csremote/broker/pkg/permission"
	"github.com/csremote/broker/pkg/session"
	"github.com/goccy/go-json"
)

const maxBody = 1 << 16

type (
	IssueCodeRequest struct {
		Owner session.Identity `json:"owner" validate:"required,gt=0"`
	}
	IssueCodeResponse struct {
		Code      string    `json:"code"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	CodeOwnerResponse struct {
		Owner session.Identity `json:"owner"`
	}
	StartSessionRequest struct {
		Analyst session.Identity `json:"analyst" validate:"required,gt=0"`
		Code    string           `json:"code" validate:"required"`
	}
	StartSessionResponse struct {
		Session session.ID       `json:"session_id"`
		Client  session.Identity `json:"client"`
	}
	GrantRequest struct {
		Identity   session.Identity      `json:"identity" validate:"required,gt=0"`
		Permission permission.Permission `json:"permission" validate:"required"`
		Granted    bool                  `json:"granted"`
	}
	CapabilitiesResponse struct {
		Permissions []permission.Permission `json:"permissions"`
	}
	StatusResponse struct {
		Session         session.ID     `json:"session"`
		ChatSubscribers int            `json:"chat_subscribers"`
		SignalSlots     []session.Role `json:"signal_slots"`
	}
	HistoryResponse struct {
		Messages []chat.Message `json:"messages"`
	}
	errorResponse struct {
		Error string `json:"error"`
	}
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *Hub) readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err == nil {
		err = json.Unmarshal(data, v)
	}
	if err == nil {
		err = h.frames.validate.Struct(v)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func pathSession(w http.ResponseWriter, r *http.Request) (session.ID, bool) {
	sid, err := session.ParseID(r.PathValue("session"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return 0, false
	}
	return sid, true
}

// POST /api/codes
func (h *Hub) issueCode(w http.ResponseWriter, r *http.Request) {
	var req IssueCodeRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	code, err := h.Codes.Issue(req.Owner)
	if err != nil {
		h.log.Error().Err(err).Msg("code issue failed")
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	codesIssued.Inc()
	h.publish(r.Context(), events.TopicCodeIssued, events.CodeIssued{Owner: code.Owner, ExpiresAt: code.ExpiresAt})
	writeJSON(w, http.StatusCreated, IssueCodeResponse{Code: code.Code, ExpiresAt: code.ExpiresAt})
}

// GET /api/codes/{code}
func (h *Hub) validateCode(w http.ResponseWriter, r *http.Request) {
	owner, err := h.Codes.Validate(r.PathValue("code"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, CodeOwnerResponse{Owner: owner})
}

// POST /api/sessions
func (h *Hub) startSession(w http.ResponseWriter, r *http.Request) {
	if h.Starter == nil {
		writeError(w, http.StatusNotImplemented, errors.New("sessions are managed elsewhere"))
		return
	}
	var req StartSessionRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	client, err := h.Codes.Redeem(req.Code)
	switch {
	case errors.Is(err, accesscode.ErrAlreadyConsumed):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
		return
	}
	codesRedeemed.Inc()

	sid, err := h.Starter.StartSession(r.Context(), req.Analyst, client, req.Code)
	if err != nil {
		h.log.Error().Err(err).Msg("session start failed")
		writeError(w, http.StatusInternalServerError, ErrPersistence)
		return
	}
	h.log.Info().Str(logger.SessionField, sid.String()).Msgf("session started, analyst %v client %v", req.Analyst, client)
	h.publish(r.Context(), events.TopicSessionStarted, events.SessionStarted{Session: sid, Analyst: req.Analyst, Client: client})
	writeJSON(w, http.StatusCreated, StartSessionResponse{Session: sid, Client: client})
}

// POST /api/sessions/{session}/end
func (h *Hub) endSession(w http.ResponseWriter, r *http.Request) {
	if h.Starter == nil {
		writeError(w, http.StatusNotImplemented, errors.New("sessions are managed elsewhere"))
		return
	}
	sid, ok := pathSession(w, r)
	if !ok {
		return
	}
	if err := h.Starter.EndSession(r.Context(), sid); err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		h.log.Error().Err(err).Msg("session end failed")
		writeError(w, http.StatusInternalServerError, ErrPersistence)
		return
	}
	h.perms.Forget(sid)
	h.publish(r.Context(), events.TopicSessionEnded, events.SessionEnded{Session: sid})
	writeJSON(w, http.StatusNoContent, nil)
}

// PUT /api/sessions/{session}/grants
func (h *Hub) grant(w http.ResponseWriter, r *http.Request) {
	sid, ok := pathSession(w, r)
	if !ok {
		return
	}
	var req GrantRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	if !req.Permission.Valid() {
		writeError(w, http.StatusBadRequest, errors.New("unknown permission"))
		return
	}
	h.perms.Grant(sid, req.Identity, req.Permission, req.Granted)
	writeJSON(w, http.StatusOK, CapabilitiesResponse{Permissions: h.perms.Overrides(sid, req.Identity)})
}

// GET /api/sessions/{session}/capabilities?identity=&role=&admin=
func (h *Hub) capabilities(w http.ResponseWriter, r *http.Request) {
	sid, ok := pathSession(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	identity, _ := strconv.ParseInt(q.Get("identity"), 10, 64)
	role, err := session.ParseRole(q.Get("role"))
	if err != nil {
		role = ""
	}
	admin, _ := strconv.ParseBool(q.Get("admin"))
	writeJSON(w, http.StatusOK, CapabilitiesResponse{
		Permissions: h.perms.Effective(role, session.Identity(identity), sid, admin),
	})
}

// GET /api/sessions/{session}/status
func (h *Hub) status(w http.ResponseWriter, r *http.Request) {
	sid, ok := pathSession(w, r)
	if !ok {
		return
	}
	slots := h.relay.Slots(sid)
	if slots == nil {
		slots = []session.Role{}
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Session:         sid,
		ChatSubscribers: h.fanout.Subscribers(sid),
		SignalSlots:     slots,
	})
}

// GET /api/sessions/{session}/messages?limit=
func (h *Hub) history(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		writeError(w, http.StatusNotImplemented, errors.New("no chat history"))
		return
	}
	sid, ok := pathSession(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := h.History.ChatHistory(r.Context(), sid, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("chat history failed")
		writeError(w, http.StatusInternalServerError, ErrPersistence)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Messages: msgs})
}
