package pop

import (
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
)

func mustUUID(t *testing.T) uuid.UUID {
	t.Helper()
	return uuid.New()
}

func nowString() string {
	return strconv.FormatInt(time.Now().Unix(), 10)
}
