package handlers

import (
	"net/http"

	"github.com/Dias221467/when2meet/internal/services"
	"github.com/Dias221467/when2meet/pkg/logger"
	"github.com/gorilla/mux"
)

type NotificationHandler struct {
	Service *services.NotificationService
}

func NewNotificationHandler(service *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{Service: service}
}

// RegisterRoutes mounts the notification endpoints on an authenticated router.
func (h *NotificationHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("", h.GetUserNotificationsHandler).Methods("GET")
	r.HandleFunc("/{id}/read", h.MarkAsReadHandler).Methods("POST")
	r.HandleFunc("/{id}", h.DeleteNotificationHandler).Methods("DELETE")
}

// GET /notifications
func (h *NotificationHandler) GetUserNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	notifications, err := h.Service.GetUserNotifications(r.Context(), caller.ID)
	if err != nil {
		logger.Log.Errorf("Failed to fetch notifications: %v", err)
		respondError(w, err, "Failed to get notifications")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"notifications": notifications})
}

// POST /notifications/{id}/read
func (h *NotificationHandler) MarkAsReadHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	notifID, ok := pathID(w, r, "id", services.ErrNotificationNotFound)
	if !ok {
		return
	}

	if err := h.Service.MarkNotificationAsRead(r.Context(), caller.ID, notifID); err != nil {
		logger.Log.Errorf("Failed to mark notification as read: %v", err)
		respondError(w, err, "Failed to mark as read")
		return
	}
	respondMessage(w, http.StatusOK, "Notification marked as read")
}

// DELETE /notifications/{id}
func (h *NotificationHandler) DeleteNotificationHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	notifID, ok := pathID(w, r, "id", services.ErrNotificationNotFound)
	if !ok {
		return
	}

	if err := h.Service.DeleteNotification(r.Context(), caller.ID, notifID); err != nil {
		logger.Log.Errorf("Failed to delete notification: %v", err)
		respondError(w, err, "Failed to delete notification")
		return
	}
	respondMessage(w, http.StatusOK, "Notification deleted")
}
