package orchestrator

import (
	"fmt"

	"github.com/google/uuid"
)

// tokenNamespace is the stable UUIDv5 namespace for idempotency tokens.
var tokenNamespace = uuid.MustParse("6b1f0a52-9c1e-4a79-b7d3-2f0c8f4f6e01")

// IdempotencyToken derives a stable token from the event kind and the
// component it targets, so repeated deliveries of the same logical event
// carry the same token.
func IdempotencyToken(kind string, issue, emID, workerID int) string {
	key := fmt.Sprintf("%s/%d/%d/%d", kind, issue, emID, workerID)
	return uuid.NewSHA1(tokenNamespace, []byte(key)).String()
}
