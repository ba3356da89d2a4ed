package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a prefixed random id such as "sale-3f2c...".
func New(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}
