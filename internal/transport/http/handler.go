package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/reflex-hall/rooms-service/internal/domain"
	"github.com/reflex-hall/rooms-service/internal/service"
	"github.com/reflex-hall/rooms-service/internal/store"

	"github.com/go-chi/chi/v5"
)

// Handler обслуживает REST-срез: снимки комнат и каталог пользователей.
// Живые подписки идут через ws, сюда ходят лобби-экраны и healthcheck-и.
type Handler struct {
	sess *store.Session
	dir  *service.DirectoryService
}

// NewHandler принимает серверную сессию store (она живёт весь аптайм
// процесса и не несёт on_disconnect-операций) и каталог; dir может быть
// nil, если постгрес не сконфигурирован.
func NewHandler(sess *store.Session, dir *service.DirectoryService) *Handler {
	return &Handler{sess: sess, dir: dir}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// POST /rooms
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("handler.CreateRoom.Decode:", slog.Any("err", err))
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "user_id required"})
		return
	}

	var dir service.Directory
	if h.dir != nil {
		dir = h.dir
	}
	svc := service.NewRoomService(h.sess, domain.UserInfo{ID: req.UserID}, dir)
	code, err := svc.CreateRoom(r.Context())
	if err != nil {
		slog.Error("handler.CreateRoom:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, RoomCreatedResponse{Code: code})
}

// GET /rooms
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := service.SnapshotRooms(r.Context(), h.sess)
	if err != nil {
		slog.Error("handler.ListRooms:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	items := make([]RoomItem, 0, len(rooms))
	for _, rm := range rooms {
		items = append(items, RoomItem{Code: rm.Code, Occupants: rm.Occupants})
	}
	writeJSON(w, http.StatusOK, RoomsListResponse{Items: items})
}

// GET /rooms/{code}
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(chi.URLParam(r, "code"))

	rm, err := service.SnapshotRoom(r.Context(), h.sess, code)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "room not found"})
			return
		}
		slog.Error("handler.GetRoom:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	players := make([]PlayerItem, 0, len(rm.Players))
	for id, p := range rm.Players {
		players = append(players, PlayerItem{UserID: id, Name: p.Name, JoinedAt: p.JoinedAt})
	}
	sort.Slice(players, func(i, j int) bool { return players[i].JoinedAt < players[j].JoinedAt })

	writeJSON(w, http.StatusOK, RoomDetailResponse{
		Code:      rm.Code,
		CreatedAt: rm.CreatedAt,
		CreatedBy: rm.CreatedBy,
		Players:   players,
	})
}

// POST /users
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	if h.dir == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "directory disabled"})
		return
	}

	var req RegisterUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("handler.RegisterUser.Decode:", slog.Any("err", err))
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}

	u, err := h.dir.Register(r.Context(), req.Name)
	if err != nil {
		slog.Error("handler.RegisterUser:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	// key возвращаем один раз, при регистрации
	writeJSON(w, http.StatusCreated, UserItem{ID: u.ID, Name: u.Name, Key: u.Key})
}

// GET /users/{id}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	if h.dir == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "directory disabled"})
		return
	}

	u, err := h.dir.Lookup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "user not found"})
			return
		}
		slog.Error("handler.GetUser:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, UserItem{ID: u.ID, Name: u.Name})
}
