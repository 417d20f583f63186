package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"housebnb.com/backend/internal/core"
	"housebnb.com/backend/internal/store"
)

type APIHandler struct {
	logger      *zap.SugaredLogger
	chatService *core.ChatService
	jwtSecret   string
}

func NewAPIHandler(logger *zap.SugaredLogger, cs *core.ChatService, jwtSecret string) *APIHandler {
	return &APIHandler{
		logger:      logger,
		chatService: cs,
		jwtSecret:   jwtSecret,
	}
}

// writeJSON sends v with the given status. The status is already out when encoding
// fails, so the failure can only be logged.
func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debugw("Failed to write response body", "status", status, "error", err)
	}
}

// writeError maps service and store errors to status codes. Unexpected errors are logged and become 500.
func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error, what string) {
	switch {
	case errors.Is(err, store.ErrUserExists):
		http.Error(w, "User already exists", http.StatusBadRequest)
	case errors.Is(err, store.ErrForeignKeyViolation):
		http.Error(w, "Unknown user or conversation", http.StatusBadRequest)
	case errors.Is(err, store.ErrUniqueViolation),
		errors.Is(err, core.ErrInvalidText),
		errors.Is(err, core.ErrMissingField):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, core.ErrInvalidCredentials):
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
	case errors.Is(err, core.ErrNotParticipant):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		h.logger.Errorw("Failed to "+what, "path", r.URL.Path, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		http.Error(w, "Invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// requireSelf lets the request through only if the authenticated user is uid
func requireSelf(w http.ResponseWriter, r *http.Request, uid int64) bool {
	if self, ok := userIDFromContext(r.Context()); !ok || self != uid {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return false
	}
	return true
}

type SignupRequest struct {
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !decode(w, r, &req) {
		return
	}

	user, err := h.chatService.SignUp(r.Context(), core.SignupInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
	})
	if err != nil {
		h.writeError(w, r, err, "create user")
		return
	}
	h.writeJSON(w, http.StatusOK, user)
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string      `json:"token"`
	User  *store.User `json:"user"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "Username and password are required", http.StatusBadRequest)
		return
	}

	token, user, err := h.chatService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err, "log in")
		return
	}
	h.writeJSON(w, http.StatusOK, LoginResponse{Token: token, User: user})
}

func (h *APIHandler) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	user, err := h.chatService.GetUser(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, "get user")
		return
	}
	if user == nil {
		http.Error(w, "User not found", http.StatusBadRequest)
		return
	}
	h.writeJSON(w, http.StatusOK, user)
}

type UpdateUserRequest struct {
	FirstName *string `json:"firstname"`
	LastName  *string `json:"lastname"`
	Username  *string `json:"username"`
	Email     *string `json:"email"`
	Password  *string `json:"password"`
}

func (h *APIHandler) UpdateUserHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok || !requireSelf(w, r, id) {
		return
	}

	var req UpdateUserRequest
	if !decode(w, r, &req) {
		return
	}

	user, err := h.chatService.UpdateUser(r.Context(), id, core.UpdateUserInput(req))
	if err != nil {
		h.writeError(w, r, err, "update user")
		return
	}
	if user == nil {
		http.Error(w, "User not found", http.StatusBadRequest)
		return
	}
	h.writeJSON(w, http.StatusOK, user)
}

func (h *APIHandler) DeleteUserHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok || !requireSelf(w, r, id) {
		return
	}

	user, err := h.chatService.DeleteUser(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, "delete user")
		return
	}
	if user == nil {
		http.Error(w, "User not found", http.StatusBadRequest)
		return
	}
	h.writeJSON(w, http.StatusOK, user)
}

type PostMessageRequest struct {
	ConversationID int64  `json:"cid"`
	SenderID       int64  `json:"fromid"`
	Text           string `json:"text"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if !decode(w, r, &req) || !requireSelf(w, r, req.SenderID) {
		return
	}

	msg, err := h.chatService.PostMessage(r.Context(), req.ConversationID, req.SenderID, req.Text)
	if err != nil {
		h.writeError(w, r, err, "post message")
		return
	}
	if msg == nil {
		http.Error(w, "Conversation not found", http.StatusBadRequest)
		return
	}
	h.writeJSON(w, http.StatusOK, msg)
}

// ownMessage loads the message and checks it was sent by the authenticated user.
// A nil message with ok set means it does not exist.
func (h *APIHandler) ownMessage(w http.ResponseWriter, r *http.Request, mid int64) (*store.Message, bool) {
	msg, err := h.chatService.GetMessage(r.Context(), mid)
	if err != nil {
		h.writeError(w, r, err, "get message")
		return nil, false
	}
	if msg != nil && !requireSelf(w, r, msg.SenderID) {
		return nil, false
	}
	return msg, true
}

type EditMessageRequest struct {
	MessageID int64  `json:"mid"`
	NewText   string `json:"newtext"`
}

func (h *APIHandler) EditMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req EditMessageRequest
	if !decode(w, r, &req) {
		return
	}

	existing, ok := h.ownMessage(w, r, req.MessageID)
	if !ok {
		return
	}
	if existing == nil {
		http.Error(w, "Message not found", http.StatusBadRequest)
		return
	}

	msg, err := h.chatService.EditMessage(r.Context(), req.MessageID, req.NewText)
	if err != nil {
		h.writeError(w, r, err, "edit message")
		return
	}
	if msg == nil {
		http.Error(w, "Message not found", http.StatusBadRequest)
		return
	}
	h.writeJSON(w, http.StatusOK, msg)
}

func (h *APIHandler) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	mid, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.ownMessage(w, r, mid); !ok {
		return
	}

	if err := h.chatService.DeleteMessage(r.Context(), mid); err != nil {
		h.writeError(w, r, err, "delete message")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *APIHandler) HideMessageHandler(w http.ResponseWriter, r *http.Request) {
	h.setVisibility(w, r, false)
}

func (h *APIHandler) ShowMessageHandler(w http.ResponseWriter, r *http.Request) {
	h.setVisibility(w, r, true)
}

func (h *APIHandler) setVisibility(w http.ResponseWriter, r *http.Request, visible bool) {
	mid, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	existing, ok := h.ownMessage(w, r, mid)
	if !ok {
		return
	}
	if existing == nil {
		http.Error(w, "Message not found", http.StatusBadRequest)
		return
	}

	var (
		msg *store.Message
		err error
	)
	if visible {
		msg, err = h.chatService.ShowMessage(r.Context(), mid)
	} else {
		msg, err = h.chatService.HideMessage(r.Context(), mid)
	}
	if err != nil {
		h.writeError(w, r, err, "change message visibility")
		return
	}
	if msg == nil {
		http.Error(w, "Message not found", http.StatusBadRequest)
		return
	}
	h.writeJSON(w, http.StatusOK, msg)
}

type StartConversationRequest struct {
	InquirerID int64   `json:"iid"`
	HostID     int64   `json:"hid"`
	Text       *string `json:"text,omitempty"`
}

type StartConversationResponse struct {
	*store.Conversation
	Messages []store.Message `json:"messages,omitempty"`
}

func (h *APIHandler) StartConversationHandler(w http.ResponseWriter, r *http.Request) {
	var req StartConversationRequest
	if !decode(w, r, &req) || !requireSelf(w, r, req.InquirerID) {
		return
	}
	if req.InquirerID == req.HostID {
		http.Error(w, "Cannot start a conversation with yourself", http.StatusBadRequest)
		return
	}

	conv, messages, err := h.chatService.StartConversation(r.Context(), req.InquirerID, req.HostID, req.Text)
	if err != nil {
		h.writeError(w, r, err, "start conversation")
		return
	}
	h.writeJSON(w, http.StatusOK, StartConversationResponse{Conversation: conv, Messages: messages})
}

// participantConversation loads the conversation and checks the authenticated user takes part in it.
// A nil conversation with ok set means it does not exist.
func (h *APIHandler) participantConversation(w http.ResponseWriter, r *http.Request, cid int64) (*store.Conversation, bool) {
	conv, err := h.chatService.GetConversationByID(r.Context(), cid)
	if err != nil {
		h.writeError(w, r, err, "get conversation")
		return nil, false
	}
	if conv == nil {
		return nil, true
	}

	self, _ := userIDFromContext(r.Context())
	if self != conv.InquirerID && self != conv.HostID {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return nil, false
	}
	return conv, true
}

func (h *APIHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	cid, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid conversation id", http.StatusBadRequest)
		return
	}
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 0 {
		http.Error(w, "Invalid page", http.StatusBadRequest)
		return
	}

	conv, ok := h.participantConversation(w, r, cid)
	if !ok {
		return
	}
	if conv == nil {
		http.Error(w, "Conversation not found", http.StatusBadRequest)
		return
	}

	messages, err := h.chatService.GetConversation(r.Context(), cid, page)
	if err != nil {
		h.writeError(w, r, err, "get conversation")
		return
	}
	h.writeJSON(w, http.StatusOK, messages)
}

func (h *APIHandler) GetUserConversationsHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := idParam(w, r, "uid")
	if !ok || !requireSelf(w, r, uid) {
		return
	}

	convs, err := h.chatService.GetUserConversations(r.Context(), uid)
	if err != nil {
		h.writeError(w, r, err, "list conversations")
		return
	}
	h.writeJSON(w, http.StatusOK, convs)
}

func (h *APIHandler) DeleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	cid, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	conv, ok := h.participantConversation(w, r, cid)
	if !ok {
		return
	}
	if conv == nil {
		http.Error(w, "Conversation not found", http.StatusBadRequest)
		return
	}

	deleted, err := h.chatService.DeleteConversation(r.Context(), cid)
	if err != nil {
		h.writeError(w, r, err, "delete conversation")
		return
	}
	if deleted == nil {
		http.Error(w, "Conversation not found", http.StatusBadRequest)
		return
	}
	h.writeJSON(w, http.StatusOK, deleted)
}
