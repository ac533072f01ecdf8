package grouphandler

import (
	"context"
	"net/http"

	"github.com/Adimac93/chad-chat-sub000/internal/ws"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Rooms is the live room state the handler reads and acts on; *ws.Hub
// satisfies it.
type Rooms interface {
	Presence(roomID string) []string
	Kick(roomID, userID string, terminal ws.ServerAction) int
}

type DisplayNames interface {
	FetchDisplayName(ctx context.Context, userID, roomID string) (string, error)
}

type Handler struct {
	verifier ws.Verifier
	members  ws.Membership
	rooms    Rooms
	names    DisplayNames
}

func New(verifier ws.Verifier, members ws.Membership, rooms Rooms, names DisplayNames) *Handler {
	return &Handler{verifier: verifier, members: members, rooms: rooms, names: names}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/groups/:id/presence", h.presence)
	r.POST("/groups/:id/kick", h.kick)
}

// caller authenticates the request, writing 401 on failure.
func (h *Handler) caller(ginCtx *gin.Context) (string, bool) {
	userID, err := h.verifier.Verify(ginCtx.Request)
	if err != nil {
		ginCtx.JSON(http.StatusUnauthorized, &ErrorResponse{Error: "unauthorized"})
		return "", false
	}
	return userID, true
}

// @Summary		List online members
// @Description	Returns the ids of users with at least one live connection in the group. The caller must be a member.
// @Tags			Groups
// @Security		BearerAuth
// @Param			id	path		string	true	"Group ID"
// @Success		200	{object}	PresenceResponse
// @Failure		401	{object}	ErrorResponse
// @Failure		403	{object}	ErrorResponse
// @Router			/groups/{id}/presence [get]
func (h *Handler) presence(ginCtx *gin.Context) {
	userID, ok := h.caller(ginCtx)
	if !ok {
		return
	}
	roomID := ginCtx.Param("id")

	member, err := h.members.IsMember(ginCtx.Request.Context(), userID, roomID)
	if err != nil {
		ginCtx.JSON(http.StatusInternalServerError, &ErrorResponse{Error: err.Error()})
		return
	}
	if !member {
		ginCtx.JSON(http.StatusForbidden, &ErrorResponse{Error: "not a member"})
		return
	}
	ginCtx.JSON(http.StatusOK, &PresenceResponse{RoomID: roomID, Users: h.rooms.Presence(roomID)})
}

// @Summary		Remove a user from a group's live room
// @Description	Closes every connection the user has in the group after sending them a Kicked notice. Requires the kick privilege.
// @Tags			Groups
// @Security		BearerAuth
// @Param			id		path		string		true	"Group ID"
// @Param			body	body		KickBody	true	"Kick payload"
// @Success		200		{object}	KickResponse
// @Failure		400		{object}	ErrorResponse
// @Failure		401		{object}	ErrorResponse
// @Failure		403		{object}	ErrorResponse
// @Router			/groups/{id}/kick [post]
func (h *Handler) kick(ginCtx *gin.Context) {
	userID, ok := h.caller(ginCtx)
	if !ok {
		return
	}
	var body KickBody
	if err := ginCtx.ShouldBindJSON(&body); err != nil {
		ginCtx.JSON(http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
		return
	}
	if body.UserID == userID {
		ginCtx.JSON(http.StatusBadRequest, &ErrorResponse{Error: "cannot remove yourself"})
		return
	}

	ctx := ginCtx.Request.Context()
	roomID := ginCtx.Param("id")
	allowed, err := h.members.HasPrivilege(ctx, userID, roomID, ws.PrivilegeKick)
	if err != nil {
		ginCtx.JSON(http.StatusInternalServerError, &ErrorResponse{Error: err.Error()})
		return
	}
	if !allowed {
		ginCtx.JSON(http.StatusForbidden, &ErrorResponse{Error: "kick not allowed"})
		return
	}

	from, err := h.names.FetchDisplayName(ctx, userID, roomID)
	if err != nil || from == "" {
		from = userID
	}
	n := h.rooms.Kick(roomID, body.UserID, ws.NewKicked(from, body.Reason))
	if err := h.members.Invalidate(ctx, body.UserID, roomID); err != nil {
		zap.L().Warn("http.invalidate_role", zap.String("room", roomID), zap.String("user", body.UserID), zap.Error(err))
	}
	zap.L().Info("http.kick",
		zap.String("room", roomID),
		zap.String("by", userID),
		zap.String("user", body.UserID),
		zap.Int("connections", n))
	ginCtx.JSON(http.StatusOK, &KickResponse{RoomID: roomID, UserID: body.UserID, Kicked: n})
}
