package ws

// Типы операций клиента над общим деревом
const (
	TypeGet           = "get"
	TypeSet           = "set"
	TypeUpdate        = "update" // частичная запись полей
	TypeDelete        = "delete"
	TypePush          = "push"           // append в упорядоченный лог
	TypeCAS           = "cas"            // оптимистичная запись по версии
	TypeWatch         = "watch"          // подписка «on value changed»
	TypeWatchChildren = "watch_children" // подписка «on child added»
	TypeUnwatch       = "unwatch"
	TypeOnDisconnect  = "on_disconnect" // compensating-операция на разрыв

	// Ответы и события сервера
	TypeResult     = "result"
	TypeError      = "error"
	TypeValue      = "value"
	TypeChildAdded = "child_added"
)

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// OpPayload — запрос клиента; id используется для корреляции ответа.
type OpPayload struct {
	ID      string         `json:"id,omitempty"`
	Path    string         `json:"path"`
	Value   any            `json:"value,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
	Version uint64         `json:"version,omitempty"`
	WatchID string         `json:"watch_id,omitempty"`
	Op      string         `json:"op,omitempty"` // on_disconnect: delete|set
}

type ResultPayload struct {
	ID      string `json:"id,omitempty"`
	Value   any    `json:"value,omitempty"`
	Version uint64 `json:"version,omitempty"`
	PushID  string `json:"push_id,omitempty"`
	WatchID string `json:"watch_id,omitempty"`
}

type ErrorPayload struct {
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

type ValuePayload struct {
	WatchID string `json:"watch_id"`
	Path    string `json:"path"`
	Value   any    `json:"value"`
	Version uint64 `json:"version"`
}

type ChildAddedPayload struct {
	WatchID string `json:"watch_id"`
	Path    string `json:"path"`
	Key     string `json:"key"`
	Value   any    `json:"value"`
}
