package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity. The version suffix leaves
// room for a future encoding change.
const (
	DomainPlan    = "planopt/plan/v1"
	DomainSession = "planopt/session/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PlanFingerprint hashes the canonical encoding of a plan. Two plans have the
// same fingerprint iff they have the same node ids, kinds, symbol names and
// types, attributes and shape.
func PlanFingerprint(node PlanNode) (string, error) {
	canonical, err := MarshalCanonical(EncodePlan(node))
	if err != nil {
		return "", fmt.Errorf("PlanFingerprint: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainPlan, canonical), nil
}

// SessionFingerprint hashes a canonical session property object.
func SessionFingerprint(props Object) (string, error) {
	canonical, err := MarshalCanonical(props)
	if err != nil {
		return "", fmt.Errorf("SessionFingerprint: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSession, canonical), nil
}

// MustPlanFingerprint is like PlanFingerprint but panics on error.
// Use only in tests or when the plan is known to be well formed.
func MustPlanFingerprint(node PlanNode) string {
	fp, err := PlanFingerprint(node)
	if err != nil {
		panic(err)
	}
	return fp
}
