// Package idgen generates identifiers used across the module: plan
// agent ids and hex ids for components that don't need UUID's
// structure.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// HexID returns a 16-byte random id hex-encoded, falling back to a
// timestamp-derived id if the system's random source is unavailable.
func HexID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// AgentID returns a UUID suitable for PlanProto's agent_id field.
func AgentID() string {
	return uuid.NewString()
}
