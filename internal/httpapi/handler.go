package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"marketplace/messaging-service/internal/models"
	"marketplace/messaging-service/internal/realtime"
	"marketplace/messaging-service/internal/service"
)

type Handler struct {
	chat          service.ChatService
	inbox         service.InboxService
	notifications service.NotificationService
	hub           *realtime.Hub
	auth          *Authenticator
	upgrader      websocket.Upgrader
	logger        *logrus.Logger
}

func NewHandler(
	chat service.ChatService,
	inbox service.InboxService,
	notifications service.NotificationService,
	hub *realtime.Hub,
	auth *Authenticator,
	logger *logrus.Logger,
) *Handler {
	return &Handler{
		chat:          chat,
		inbox:         inbox,
		notifications: notifications,
		hub:           hub,
		auth:          auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(h.auth.Middleware)

	api.HandleFunc("/conversations", h.listConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations", h.startConversation).Methods(http.MethodPost)
	api.HandleFunc("/conversations/unread-counts", h.unreadCounts).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}", h.getConversation).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}", h.deleteConversation).Methods(http.MethodDelete)
	api.HandleFunc("/conversations/{id}/archive", h.toggleArchive).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/read", h.markRead).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/unread", h.markUnread).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/messages", h.listMessages).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/messages", h.sendMessage).Methods(http.MethodPost)

	api.HandleFunc("/listings/{id}/like", h.likeListing).Methods(http.MethodPost)
	api.HandleFunc("/listings/{id}/like", h.unlikeListing).Methods(http.MethodDelete)

	api.HandleFunc("/notifications", h.listNotifications).Methods(http.MethodGet)
	api.HandleFunc("/notifications/unread-count", h.unreadNotificationCount).Methods(http.MethodGet)
	api.HandleFunc("/notifications/read-all", h.markAllNotificationsRead).Methods(http.MethodPost)
	api.HandleFunc("/notifications/{id}/read", h.markNotificationRead).Methods(http.MethodPost)

	r.Handle("/ws", h.auth.Middleware(http.HandlerFunc(h.subscribe))).Methods(http.MethodGet)
	return r
}

func (h *Handler) fail(w http.ResponseWriter, err error, msg string) {
	status := statusOf(err)
	entry := h.logger.WithError(err)
	if status == http.StatusInternalServerError {
		entry.Error(msg)
		writeJSON(w, status, errorBody{Error: msg})
		return
	}
	entry.Debug(msg)
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", models.ErrInvalidState)
	}
	return nil
}

func intParam(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}

func optionalParam(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startConversationRequest struct {
	ListingID   string `json:"listing_id"`
	RecipientID string `json:"recipient_id"`
}

func (h *Handler) startConversation(w http.ResponseWriter, r *http.Request) {
	var req startConversationRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, err, "invalid request body")
		return
	}

	conv, err := h.chat.StartConversation(r.Context(), optionalParam(req.ListingID), userFrom(r.Context()), req.RecipientID)
	if err != nil {
		h.fail(w, err, "failed to start conversation")
		return
	}
	writeJSON(w, http.StatusOK, toConversation(conv))
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.inbox.ListConversations(
		r.Context(),
		userFrom(r.Context()),
		models.ConversationFilter(q.Get("filter")),
		intParam(r, "page"),
		intParam(r, "page_size"),
		optionalParam(q.Get("listing_id")),
	)
	if err != nil {
		h.fail(w, err, "failed to list conversations")
		return
	}

	out := pageJSON{
		Items:    make([]summaryJSON, len(page.Items)),
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	}
	for i, item := range page.Items {
		out.Items[i] = toSummary(item)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) unreadCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.inbox.UnreadCounts(r.Context(), userFrom(r.Context()))
	if err != nil {
		h.fail(w, err, "failed to count unread conversations")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *Handler) getConversation(w http.ResponseWriter, r *http.Request) {
	summary, err := h.inbox.GetConversation(r.Context(), mux.Vars(r)["id"], userFrom(r.Context()))
	if err != nil {
		h.fail(w, err, "failed to get conversation")
		return
	}
	writeJSON(w, http.StatusOK, toSummary(summary))
}

func (h *Handler) deleteConversation(w http.ResponseWriter, r *http.Request) {
	purged, err := h.chat.DeleteConversation(r.Context(), mux.Vars(r)["id"], userFrom(r.Context()))
	if err != nil {
		h.fail(w, err, "failed to delete conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"purged": purged})
}

func (h *Handler) toggleArchive(w http.ResponseWriter, r *http.Request) {
	archived, err := h.chat.ToggleArchive(r.Context(), mux.Vars(r)["id"], userFrom(r.Context()))
	if err != nil {
		h.fail(w, err, "failed to toggle archive")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"archived": archived})
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	count, err := h.chat.MarkRead(r.Context(), mux.Vars(r)["id"], userFrom(r.Context()))
	if err != nil {
		h.fail(w, err, "failed to mark conversation as read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked_count": count})
}

func (h *Handler) markUnread(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.MarkUnread(r.Context(), mux.Vars(r)["id"], userFrom(r.Context())); err != nil {
		h.fail(w, err, "failed to mark conversation as unread")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chat.ListMessages(r.Context(), mux.Vars(r)["id"], userFrom(r.Context()), intParam(r, "page"), intParam(r, "page_size"))
	if err != nil {
		h.fail(w, err, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, toMessages(messages))
}

type sendMessageRequest struct {
	Content         string  `json:"content"`
	AttachmentURL   *string `json:"attachment_url"`
	ClientMessageID *string `json:"client_message_id"`
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, err, "invalid request body")
		return
	}

	msg, err := h.chat.SendMessage(r.Context(), service.SendMessageInput{
		ConversationID:  mux.Vars(r)["id"],
		SenderID:        userFrom(r.Context()),
		Content:         req.Content,
		AttachmentURL:   req.AttachmentURL,
		ClientMessageID: req.ClientMessageID,
	})
	if err != nil {
		h.fail(w, err, "failed to send message")
		return
	}
	writeJSON(w, http.StatusCreated, toMessage(msg))
}

func (h *Handler) likeListing(w http.ResponseWriter, r *http.Request) {
	n, err := h.notifications.ListingLiked(r.Context(), userFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, err, "failed to record like")
		return
	}
	if n == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toNotification(n))
}

func (h *Handler) unlikeListing(w http.ResponseWriter, r *http.Request) {
	removed, err := h.notifications.ListingUnliked(r.Context(), userFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, err, "failed to record unlike")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := h.notifications.ListNotifications(r.Context(), userFrom(r.Context()), intParam(r, "page"), intParam(r, "page_size"))
	if err != nil {
		h.fail(w, err, "failed to list notifications")
		return
	}
	out := make([]notificationJSON, len(notifications))
	for i, n := range notifications {
		out[i] = toNotification(n)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) unreadNotificationCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.notifications.UnreadNotificationCount(r.Context(), userFrom(r.Context()))
	if err != nil {
		h.fail(w, err, "failed to count notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread_count": count})
}

func (h *Handler) markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	count, err := h.notifications.MarkAllNotificationsRead(r.Context(), userFrom(r.Context()))
	if err != nil {
		h.fail(w, err, "failed to mark notifications as read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked_count": count})
}

func (h *Handler) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := h.notifications.MarkNotificationRead(r.Context(), userFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		h.fail(w, err, "failed to mark notification as read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	userID := userFrom(r.Context())
	h.logger.WithField("user_id", userID).Info("WebSocket client connected")

	realtime.NewClient(h.hub, conn, userID, h.chat.AuthorizeChannel, h.logger).Serve(r.Context())

	h.logger.WithField("user_id", userID).Info("WebSocket client disconnected")
}
