package http

type ErrorResponse struct {
	Error string `json:"error"`
}

type CreateRoomRequest struct {
	UserID string `json:"user_id"`
}

type RoomCreatedResponse struct {
	Code string `json:"code"`
}

type RoomItem struct {
	Code      string `json:"code"`
	Occupants int    `json:"occupants"`
}

type RoomsListResponse struct {
	Items []RoomItem `json:"items"`
}

type PlayerItem struct {
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	JoinedAt int64  `json:"joined_at"`
}

type RoomDetailResponse struct {
	Code      string       `json:"code"`
	CreatedAt int64        `json:"created_at"`
	CreatedBy string       `json:"created_by,omitempty"`
	Players   []PlayerItem `json:"players"`
}

type RegisterUserRequest struct {
	Name string `json:"name"`
}

type UserItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Key  string `json:"key,omitempty"`
}
