package grouphandler

type KickBody struct {
	UserID string `json:"user_id" binding:"required"       example:"0b9e8d7c-6a5b-4c3d-8e2f-1a0b9c8d7e6f"`
	Reason string `json:"reason"  binding:"omitempty,max=256" example:"spam"`
} // @name KickRequest

type KickResponse struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	Kicked int    `json:"kicked"`
} // @name KickResponse

type PresenceResponse struct {
	RoomID string   `json:"room_id"`
	Users  []string `json:"users"`
} // @name PresenceResponse

type ErrorResponse struct {
	Error string `json:"error"`
} // @name ErrorResponse
