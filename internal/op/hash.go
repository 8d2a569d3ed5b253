package op

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/roach88/accord/internal/clock"
	"github.com/roach88/accord/internal/field"
)

// DomainOperation is the domain prefix for content-addressed operation
// IDs. The version suffix enables future algorithm migration.
const DomainOperation = "accord/operation/v1"

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeID computes the content-addressed ID of an operation.
//
// The ID is a function of everything that defines the operation's
// logical identity: device, type, target path, canonical payload, clock
// fingerprint, and parent link. Two replicas constructing the same
// logical operation derive the same ID, which is what makes re-delivery
// detectable and store inserts idempotent.
func ComputeID(device clock.DeviceID, t Type, targetPath string, payload field.Object, clk clock.VectorClock, parentID string) (string, error) {
	obj := field.Object{
		"clock":       field.String(clk.String()),
		"device":      field.String(device),
		"parent_id":   field.String(parentID),
		"payload":     payload,
		"target_path": field.String(targetPath),
		"type":        field.String(t),
	}
	if payload == nil {
		obj["payload"] = field.Object{}
	}

	canonical, err := field.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ComputeID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainOperation, canonical), nil
}

// MustComputeID is like ComputeID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustComputeID(device clock.DeviceID, t Type, targetPath string, payload field.Object, clk clock.VectorClock, parentID string) string {
	id, err := ComputeID(device, t, targetPath, payload, clk, parentID)
	if err != nil {
		panic(err)
	}
	return id
}
