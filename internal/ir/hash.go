package ir

import (
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"
)

// DomainEvent prefixes every event ID hash. The version suffix leaves room
// for an algorithm migration.
const DomainEvent = "preauth/event/v1"

// hashWithDomain computes BLAKE3(domain || 0x00 || data) as lowercase hex.
// The null separator keeps the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	in := make([]byte, 0, len(domain)+1+len(data))
	in = append(in, domain...)
	in = append(in, 0x00)
	in = append(in, data...)
	sum := blake3.Sum256(in)
	return hex.EncodeToString(sum[:])
}

// EventID computes the content-addressed ID of an event. The same kind,
// operation ID, timestamp and payload always produce the same ID; the
// operation ID makes IDs unique across otherwise identical operations.
func EventID(kind, opID string, unixTimestamp int64, payload Object) (string, error) {
	obj := Object{
		"kind":           String(kind),
		"op_id":          String(opID),
		"unix_timestamp": Int(unixTimestamp),
		"payload":        payload,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EventID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}
