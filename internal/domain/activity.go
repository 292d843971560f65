package domain

type ActivityType string

const (
	ActivityChat         ActivityType = "chat"
	ActivityReactionGame ActivityType = "reaction_game"
)

// Activity — под-сессия комнаты со своим составом участников.
// messages есть только у чата, gameState — только у игры.
type Activity struct {
	ID          string                    `json:"-"`
	Type        ActivityType              `json:"type"`
	CreatedAt   int64                     `json:"createdAt"`
	CreatedBy   string                    `json:"createdBy"`
	ActiveUsers map[string]ActivityMember `json:"activeUsers,omitempty"`
}

type ActivityMember struct {
	Name     string `json:"name"`
	JoinedAt int64  `json:"joinedAt"`
}

type ActivityListing struct {
	ID      string       `json:"id"`
	Type    ActivityType `json:"type"`
	Members int          `json:"members"`
}

type ChatMessage struct {
	ID        string `json:"-"`
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // unix ms
}
