// Package idempotency derives stable keys for backend calls that must not be
// applied twice (reschedule patches, publish-now).
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/domain"
)

// Header is the request header carrying the key.
const Header = "Idempotency-Key"

type Operation string

const (
	OpReschedule Operation = "reschedule"
	OpPublishNow Operation = "publish_now"
	OpCancel     Operation = "cancel"
	OpSchedule   Operation = "schedule"
)

// DeriveKey returns a hex-encoded SHA-256 of (operation, org, event key, instant).
// The same intent always yields the same key, so a repeated request is
// recognisable by the backend. A zero instant is encoded as 0.
func DeriveKey(op Operation, orgID string, key domain.EventKey, at time.Time) string {
	var unix int64
	if !at.IsZero() {
		unix = at.UTC().UnixNano()
	}
	composite := fmt.Sprintf("%s|%s|%s|%d", op, orgID, key, unix)
	sum := sha256.Sum256([]byte(composite))
	return hex.EncodeToString(sum[:])
}
