package store

import "encoding/json"

// normalize приводит произвольное значение к json-дереву
// (map[string]any / []any / string / float64 / bool / nil),
// чтобы в хранилище не попадали ссылки на память клиента.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, ErrInvalidValue
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, ErrInvalidValue
	}
	return out, nil
}

// Decode распаковывает значение из дерева в структуру вызывающего.
func Decode(src any, dst any) error {
	b, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, cv := range t {
			m[k] = copyValue(cv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, cv := range t {
			s[i] = copyValue(cv)
		}
		return s
	default:
		return t
	}
}
