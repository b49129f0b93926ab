package sync

import (
	"fmt"
	"strings"
)

// EncodeKey builds the wire key for an entity: "<table>/<id>".
func EncodeKey(table, id string) string {
	return table + "/" + id
}

// ParseKey splits a wire key back into table name and entity id.
// It is the inverse of EncodeKey for any id that does not contain "/".
func ParseKey(key string) (table, id string, err error) {
	table, id, ok := strings.Cut(key, "/")
	if !ok || table == "" || id == "" {
		return "", "", fmt.Errorf("malformed entity key %q", key)
	}
	return table, id, nil
}
