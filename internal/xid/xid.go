package xid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New returns a prefixed id whose numeric part sorts by creation time.
func New(prefix string) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), random[:12])
}

// Short returns an upper-case code of n hex characters for printed documents.
func Short(n int) string {
	if n < 1 || n > 32 {
		n = 5
	}
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:n])
}
