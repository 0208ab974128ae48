package runtime

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionIdentity pins one client attachment to one kernel session.
type SessionIdentity struct {
	SessionID string
	FileKey   string
	StartedAt time.Time
}

// NewSessionID mints a fresh session id. The backend treats it as opaque.
func NewSessionID() string {
	return "s_" + uuid.NewString()
}

// NewSessionIdentity mints the identity for a new attachment to fileKey.
func NewSessionIdentity(fileKey string, now time.Time) SessionIdentity {
	return SessionIdentity{
		SessionID: NewSessionID(),
		FileKey:   fileKey,
		StartedAt: now,
	}
}

// Fingerprint is a stable digest of the attachment, used to correlate run
// history rows across reconnects of the same session.
func (s SessionIdentity) Fingerprint() string {
	payload := fmt.Sprintf("%s|%s|%d", s.SessionID, s.FileKey, s.StartedAt.UTC().UnixNano())
	hash := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(hash[:])
}
