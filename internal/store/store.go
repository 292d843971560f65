// Package store — общее мутируемое дерево, через которое координируются
// все клиенты: точечные чтения, частичные записи, live-подписки,
// оптимистичные CAS-транзакции и compensating-операции на разрыв сессии.
//
// Версия пути меняется при любой записи, задевшей его поддерево или
// предка. Именно версии делают «первая запись выигрывает» проверяемым
// свойством, а не случайностью (см. CAS и Session.Tx).
package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type Store struct {
	mu       sync.Mutex
	root     map[string]any
	versions map[string]uint64
	watchers map[uint64]*watcher
	watchSeq uint64
	pushSeq  uint64
}

func New() *Store {
	return &Store{
		root:     make(map[string]any),
		versions: make(map[string]uint64),
		watchers: make(map[uint64]*watcher),
	}
}

// --- чтение ---

func (s *Store) get(path string) (any, uint64, error) {
	p := cleanPath(path)
	if _, err := splitPath(path); err != nil {
		return nil, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, _ := s.valueAtLocked(p)
	return copyValue(v), s.versions[p], nil
}

func (s *Store) valueAtLocked(path string) (any, bool) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, false
	}
	var cur any = s.root
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func (s *Store) childKeysLocked(path string) map[string]struct{} {
	out := make(map[string]struct{})
	v, ok := s.valueAtLocked(path)
	if !ok {
		return out
	}
	if m, ok := v.(map[string]any); ok {
		for k := range m {
			out[k] = struct{}{}
		}
	}
	return out
}

// --- запись ---

func (s *Store) set(path string, v any) error {
	norm, err := normalize(v)
	if err != nil {
		return err
	}
	segs, err := splitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pre := s.snapshotKidsLocked()
	s.setAtLocked(segs, norm)
	s.bumpLocked(cleanPath(path))
	s.notifyLocked([]string{cleanPath(path)}, pre)
	return nil
}

func (s *Store) update(path string, fields map[string]any) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	norm := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == "" || strings.ContainsRune(k, '/') {
			return ErrInvalidPath
		}
		nv, err := normalize(v)
		if err != nil {
			return err
		}
		norm[k] = nv
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pre := s.snapshotKidsLocked()
	base := cleanPath(path)
	changed := make([]string, 0, len(norm))
	for k, nv := range norm {
		s.setAtLocked(append(append([]string{}, segs...), k), nv)
		p := k
		if base != "" {
			p = base + "/" + k
		}
		s.bumpLocked(p)
		changed = append(changed, p)
	}
	s.notifyLocked(changed, pre)
	return nil
}

func (s *Store) deletePath(path string) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pre := s.snapshotKidsLocked()
	if len(segs) == 0 {
		s.root = make(map[string]any)
	} else {
		deleteAt(s.root, segs)
	}
	s.bumpLocked(cleanPath(path))
	s.notifyLocked([]string{cleanPath(path)}, pre)
	return nil
}

func (s *Store) push(path string, v any) (string, error) {
	norm, err := normalize(v)
	if err != nil {
		return "", err
	}
	segs, err := splitPath(path)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pushSeq++
	// лексикографический порядок id совпадает с порядком вставки
	id := fmt.Sprintf("k%012d", s.pushSeq)

	pre := s.snapshotKidsLocked()
	s.setAtLocked(append(append([]string{}, segs...), id), norm)
	p := id
	if base := cleanPath(path); base != "" {
		p = base + "/" + id
	}
	s.bumpLocked(p)
	s.notifyLocked([]string{p}, pre)
	return id, nil
}

func (s *Store) cas(path string, expected uint64, v any) error {
	norm, err := normalize(v)
	if err != nil {
		return err
	}
	segs, err := splitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := cleanPath(path)
	if s.versions[p] != expected {
		return ErrVersionConflict
	}

	pre := s.snapshotKidsLocked()
	s.setAtLocked(segs, norm)
	s.bumpLocked(p)
	s.notifyLocked([]string{p}, pre)
	return nil
}

// setAtLocked кладёт значение по пути; nil означает удаление.
// Скаляры по дороге перезаписываются контейнерами.
func (s *Store) setAtLocked(segs []string, v any) {
	if len(segs) == 0 {
		if m, ok := v.(map[string]any); ok {
			s.root = m
		} else {
			s.root = make(map[string]any)
		}
		return
	}
	if v == nil {
		deleteAt(s.root, segs)
		return
	}
	parent := s.root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := parent[seg].(map[string]any)
		if !ok {
			child = make(map[string]any)
			parent[seg] = child
		}
		parent = child
	}
	parent[segs[len(segs)-1]] = v
}

// deleteAt удаляет лист и подчищает опустевшие контейнеры,
// чтобы дерево не зарастало пустыми узлами.
func deleteAt(m map[string]any, segs []string) {
	if len(segs) == 1 {
		delete(m, segs[0])
		return
	}
	child, ok := m[segs[0]].(map[string]any)
	if !ok {
		return
	}
	deleteAt(child, segs[1:])
	if len(child) == 0 {
		delete(m, segs[0])
	}
}

func (s *Store) bumpLocked(p string) {
	bumped := map[string]struct{}{}
	bump := func(q string) {
		if _, ok := bumped[q]; !ok {
			bumped[q] = struct{}{}
			s.versions[q]++
		}
	}

	bump(p)
	for q := p; q != ""; {
		if i := strings.LastIndexByte(q, '/'); i >= 0 {
			q = q[:i]
		} else {
			q = ""
		}
		bump(q)
	}

	// записи под p: перезапись поддерева инвалидирует чужие CAS
	var under []string
	for k := range s.versions {
		if _, ok := bumped[k]; !ok && isUnder(p, k) {
			under = append(under, k)
		}
	}
	for _, k := range under {
		bump(k)
	}
}

// --- подписки ---

func (s *Store) snapshotKidsLocked() map[uint64]map[string]struct{} {
	out := make(map[uint64]map[string]struct{})
	for id, w := range s.watchers {
		if w.kind == watchChildren {
			out[id] = s.childKeysLocked(w.path)
		}
	}
	return out
}

func (s *Store) notifyLocked(changed []string, preKids map[uint64]map[string]struct{}) {
	for _, w := range s.watchers {
		switch w.kind {
		case watchValue:
			hit := false
			for _, cp := range changed {
				if isUnder(w.path, cp) || isUnder(cp, w.path) {
					hit = true
					break
				}
			}
			if hit {
				v, _ := s.valueAtLocked(w.path)
				w.deliverValue(Snapshot{Path: w.path, Value: copyValue(v), Version: s.versions[w.path]})
			}
		case watchChildren:
			pre := preKids[w.id]
			cur := s.childKeysLocked(w.path)
			var added []string
			for k := range cur {
				if _, ok := pre[k]; !ok {
					added = append(added, k)
				}
			}
			sort.Strings(added)
			for _, k := range added {
				v, _ := s.valueAtLocked(w.path + "/" + k)
				w.deliverChild(ChildEvent{Path: w.path, Key: k, Value: copyValue(v)})
			}
		}
	}
}

// watchValueAt регистрирует подписчика и сразу доставляет текущее значение.
func (s *Store) watchValueAt(path string) (*watcher, error) {
	if _, err := splitPath(path); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.watchSeq++
	w := &watcher{
		id:    s.watchSeq,
		kind:  watchValue,
		path:  cleanPath(path),
		valCh: make(chan Snapshot, 1),
	}
	s.watchers[w.id] = w

	v, _ := s.valueAtLocked(w.path)
	w.deliverValue(Snapshot{Path: w.path, Value: copyValue(v), Version: s.versions[w.path]})
	return w, nil
}

// watchChildrenAt регистрирует подписчика; существующие потомки
// доставляются сразу в порядке ключей (replay лога сообщений).
func (s *Store) watchChildrenAt(path string) (*watcher, error) {
	if _, err := splitPath(path); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.watchSeq++
	w := &watcher{
		id:    s.watchSeq,
		kind:  watchChildren,
		path:  cleanPath(path),
		kidCh: make(chan ChildEvent, childBuffer),
	}
	s.watchers[w.id] = w

	keys := s.childKeysLocked(w.path)
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)
	for _, k := range sorted {
		v, _ := s.valueAtLocked(w.path + "/" + k)
		w.deliverChild(ChildEvent{Path: w.path, Key: k, Value: copyValue(v)})
	}
	return w, nil
}

func (s *Store) unwatch(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.watchers[id]; ok {
		delete(s.watchers, id)
		w.close()
	}
}
