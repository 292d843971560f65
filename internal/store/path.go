package store

import "strings"

func splitPath(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, nil
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if s == "" {
			return nil, ErrInvalidPath
		}
	}
	return segs, nil
}

func cleanPath(path string) string {
	return strings.Trim(path, "/")
}

// isUnder: child лежит на пути parent или строго под ним.
func isUnder(parent, child string) bool {
	if parent == "" {
		return true
	}
	return child == parent || strings.HasPrefix(child, parent+"/")
}
