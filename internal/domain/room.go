package domain

// Room — эфемерная комната, живёт в общем дереве под rooms/{code}.
type Room struct {
	Code      string            `json:"-"`
	CreatedAt int64             `json:"createdAt"` // unix ms
	CreatedBy string            `json:"createdBy"`
	Players   map[string]Player `json:"players,omitempty"`
}

// Player — запись присутствия; удаляется store-ом при разрыве соединения.
type Player struct {
	Name     string `json:"name"`
	Key      string `json:"key,omitempty"`
	JoinedAt int64  `json:"joinedAt"`
}

type RoomListing struct {
	Code      string `json:"code"`
	Occupants int    `json:"occupants"`
}

// UserInfo — идентичность клиента в рамках одной сессии.
type UserInfo struct {
	ID   string
	Name string
	Key  string
}
