package domain

import "sort"

type RoundState string

const (
	RoundWaiting  RoundState = "waiting"
	RoundReady    RoundState = "ready"
	RoundFinished RoundState = "finished"
)

type PlayerStatus string

const (
	StatusPlaying  PlayerStatus = "playing"
	StatusWatching PlayerStatus = "watching"
)

// GameState — разделяемый документ одного раунда игры на реакцию.
// Инварианты: roundStartTime задан тогда и только тогда, когда state=ready;
// round монотонно не убывает.
type GameState struct {
	Active         bool                    `json:"active"`
	Round          int64                   `json:"round"`
	State          RoundState              `json:"state"`
	RoundInitiator string                  `json:"roundInitiator,omitempty"`
	RoundStartTime int64                   `json:"roundStartTime,omitempty"` // unix ms, момент записи ready
	LastResult     *RoundResult            `json:"lastResult,omitempty"`
	PlayerStatus   map[string]PlayerStatus `json:"playerStatus,omitempty"`
	Scores         map[string]Score        `json:"scores"`
}

// NewGameState — стартовый документ, который сеется при создании активности.
func NewGameState() GameState {
	return GameState{
		Active: false,
		Round:  1,
		State:  RoundWaiting,
		Scores: map[string]Score{},
	}
}

type RoundResult struct {
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	TimeMs   int64  `json:"timeMs,omitempty"`
	TooEarly bool   `json:"tooEarly,omitempty"`
}

type Score struct {
	Name   string `json:"name"`
	Points int64  `json:"points"`
}

type ScoreRow struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Points int64  `json:"points"`
}

// Scoreboard — чистая проекция scores: по убыванию очков,
// при равенстве — по id, чтобы порядок был детерминирован.
func Scoreboard(scores map[string]Score) []ScoreRow {
	rows := make([]ScoreRow, 0, len(scores))
	for id, s := range scores {
		rows = append(rows, ScoreRow{UserID: id, Name: s.Name, Points: s.Points})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Points != rows[j].Points {
			return rows[i].Points > rows[j].Points
		}
		return rows[i].UserID < rows[j].UserID
	})
	return rows
}
