package store

// Snapshot — полное текущее значение наблюдаемого пути.
// Доставляется при подписке и после каждого изменения; это не дифф.
type Snapshot struct {
	Path    string
	Value   any
	Version uint64
}

// ChildEvent — появление нового непосредственного потомка.
type ChildEvent struct {
	Path  string
	Key   string
	Value any
}

const childBuffer = 256

type watchKind int

const (
	watchValue watchKind = iota
	watchChildren
)

type watcher struct {
	id     uint64
	kind   watchKind
	path   string
	valCh  chan Snapshot
	kidCh  chan ChildEvent
	closed bool
}

// deliverValue — доставка «последнего значения»: если подписчик не успевает,
// устаревший снапшот вытесняется свежим, канал никогда не блокирует store.
func (w *watcher) deliverValue(s Snapshot) {
	if w.closed {
		return
	}
	for {
		select {
		case w.valCh <- s:
			return
		default:
		}
		select {
		case <-w.valCh:
		default:
		}
	}
}

// deliverChild — события потомков не коалесцируются; при переполнении
// буфера вытесняется самое старое событие.
func (w *watcher) deliverChild(e ChildEvent) {
	if w.closed {
		return
	}
	for {
		select {
		case w.kidCh <- e:
			return
		default:
		}
		select {
		case <-w.kidCh:
		default:
		}
	}
}

func (w *watcher) close() {
	if w.closed {
		return
	}
	w.closed = true
	if w.valCh != nil {
		close(w.valCh)
	}
	if w.kidCh != nil {
		close(w.kidCh)
	}
}
