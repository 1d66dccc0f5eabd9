package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// EventIDPrefix starts every generated event ID.
const EventIDPrefix = "evt_"

// GenerateEventID derives a deterministic ID from the tenant, type and payload.
// Payload key order does not affect the result.
func GenerateEventID(tenantID, eventType string, payload map[string]any) string {
	sum := sha256.Sum256([]byte(tenantID + ":" + eventType + ":" + canonicalPayload(payload)))
	return EventIDPrefix + hex.EncodeToString(sum[:16])
}

// contentKey identifies a payload for window-based duplicate detection.
func contentKey(tenantID, eventType string, payload map[string]any) string {
	sum := sha256.Sum256([]byte(tenantID + ":" + eventType + ":" + canonicalPayload(payload)))
	return hex.EncodeToString(sum[:])
}

// canonicalPayload renders payload as JSON with map keys sorted at every level.
func canonicalPayload(payload map[string]any) string {
	if payload == nil {
		return "{}"
	}
	b, err := json.Marshal(payload)
	if err != nil {
		// fmt also prints maps in key order.
		return fmt.Sprintf("%v", payload)
	}
	return string(b)
}
