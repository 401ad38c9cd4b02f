package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/Dias221467/when2meet/internal/services"
	"github.com/Dias221467/when2meet/pkg/logger"
	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FriendHandler manages HTTP endpoints related to friends and friend requests.
type FriendHandler struct {
	Service *services.FriendService
}

// NewFriendHandler initializes a new FriendHandler.
func NewFriendHandler(service *services.FriendService) *FriendHandler {
	return &FriendHandler{Service: service}
}

// RegisterRoutes mounts the friend endpoints on an authenticated router.
func (h *FriendHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("", h.GetFriendsHandler).Methods("GET")
	r.HandleFunc("/requests", h.GetReceivedRequestsHandler).Methods("GET")
	r.HandleFunc("/requests/sent", h.GetSentRequestsHandler).Methods("GET")
	r.HandleFunc("/request", h.SendFriendRequestHandler).Methods("POST")
	r.HandleFunc("/request/{requestId}", h.CancelFriendRequestHandler).Methods("DELETE")
	r.HandleFunc("/accept/{requestId}", h.AcceptFriendRequestHandler).Methods("POST")
	r.HandleFunc("/decline/{requestId}", h.DeclineFriendRequestHandler).Methods("POST")
	r.HandleFunc("/remove/{friendId}", h.RemoveFriendHandler).Methods("DELETE")
}

// GetFriendsHandler returns the caller's friends.
func (h *FriendHandler) GetFriendsHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	friends, err := h.Service.ListFriends(r.Context(), caller.ID)
	if err != nil {
		logger.Log.Errorf("Failed to fetch friends for user %s: %v", caller.ID.Hex(), err)
		respondError(w, err, "Failed to get friends")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"friends": friends})
}

// GetReceivedRequestsHandler shows all incoming friend requests.
func (h *FriendHandler) GetReceivedRequestsHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	requests, err := h.Service.ListReceivedRequests(r.Context(), caller.ID)
	if err != nil {
		logger.Log.Errorf("Failed to get received requests: %v", err)
		respondError(w, err, "Failed to get friend requests")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"friendRequests": requests})
}

// GetSentRequestsHandler shows all outgoing friend requests.
func (h *FriendHandler) GetSentRequestsHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	requests, err := h.Service.ListSentRequests(r.Context(), caller.ID)
	if err != nil {
		logger.Log.Errorf("Failed to get sent requests: %v", err)
		respondError(w, err, "Failed to get sent requests")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"sentRequests": requests})
}

// SendFriendRequestHandler sends a request to the user with the given email.
func (h *FriendHandler) SendFriendRequestHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		logger.Log.Warnf("Failed to decode friend request body: %v", err)
		respondMessage(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	request, err := h.Service.SendRequest(r.Context(), caller, body.Email)
	if err != nil {
		logger.Log.Warnf("Failed to send friend request: %v", err)
		respondError(w, err, "Failed to send friend request")
		return
	}

	logger.Log.Infof("User %s sent a friend request to %s", caller.ID.Hex(), request.To.ID.Hex())
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Friend request sent successfully",
		"request": request,
	})
}

// CancelFriendRequestHandler withdraws a sent request.
func (h *FriendHandler) CancelFriendRequestHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	requestID, ok := pathID(w, r, "requestId", services.ErrRequestNotFound)
	if !ok {
		return
	}

	if err := h.Service.CancelRequest(r.Context(), caller, requestID); err != nil {
		logger.Log.Warnf("Failed to cancel friend request %s: %v", requestID.Hex(), err)
		respondError(w, err, "Failed to cancel friend request")
		return
	}
	respondMessage(w, http.StatusOK, "Friend request cancelled successfully")
}

// AcceptFriendRequestHandler accepts a received request.
func (h *FriendHandler) AcceptFriendRequestHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	requestID, ok := pathID(w, r, "requestId", services.ErrRequestNotFound)
	if !ok {
		return
	}

	friend, err := h.Service.AcceptRequest(r.Context(), caller, requestID)
	if err != nil {
		logger.Log.Warnf("Failed to accept friend request %s: %v", requestID.Hex(), err)
		respondError(w, err, "Failed to accept friend request")
		return
	}

	logger.Log.Infof("User %s accepted friend request %s", caller.ID.Hex(), requestID.Hex())
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Friend request accepted",
		"friend":  friend,
	})
}

// DeclineFriendRequestHandler declines a received request.
func (h *FriendHandler) DeclineFriendRequestHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	requestID, ok := pathID(w, r, "requestId", services.ErrRequestNotFound)
	if !ok {
		return
	}

	if err := h.Service.DeclineRequest(r.Context(), caller, requestID); err != nil {
		logger.Log.Warnf("Failed to decline friend request %s: %v", requestID.Hex(), err)
		respondError(w, err, "Failed to decline friend request")
		return
	}
	respondMessage(w, http.StatusOK, "Friend request declined")
}

// RemoveFriendHandler ends a friendship.
func (h *FriendHandler) RemoveFriendHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	friendID, ok := pathID(w, r, "friendId", services.ErrFriendNotFound)
	if !ok {
		return
	}

	if err := h.Service.RemoveFriend(r.Context(), caller, friendID); err != nil {
		logger.Log.Warnf("Failed to remove friend %s: %v", friendID.Hex(), err)
		respondError(w, err, "Failed to remove friend")
		return
	}
	respondMessage(w, http.StatusOK, "Friend removed successfully")
}

// pathID parses an ObjectID path variable. A malformed id cannot match any
// entity, so it is reported as notFound.
func pathID(w http.ResponseWriter, r *http.Request, name string, notFound *services.Error) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(mux.Vars(r)[name])
	if err != nil {
		respondError(w, notFound, notFound.Msg)
		return primitive.NilObjectID, false
	}
	return id, true
}
