package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is matched by every NotFoundError.
var ErrNotFound = errors.New("not found")

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// Is allows errors.Is(err, ErrNotFound).
func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// RuleViolationError indicates a transaction was rejected by blocking rules.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	if len(e.Result.Violations) == 0 {
		return "transaction blocked by rules"
	}
	msgs := make([]string, 0, len(e.Result.Violations))
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			msgs = append(msgs, v.Rule+": "+v.Message)
		}
	}
	return "transaction blocked by rules: " + strings.Join(msgs, "; ")
}

// RulesetExpiredError means an assessment refused to run because the requested
// ruleset version is unavailable or past its expiry.
type RulesetExpiredError struct {
	Version string
	Reason  string
}

func (e RulesetExpiredError) Error() string {
	return fmt.Sprintf("ruleset %q expired: %s", e.Version, e.Reason)
}

// BindingViolation is one reason a shipment cannot rely on its certificate.
type BindingViolation struct {
	Code      string `json:"code"`
	SeedLotID string `json:"seed_lot_id,omitempty"`
	Message   string `json:"message"`
}

// BindingViolationError carries the full list of binding problems so that all
// of them can be fixed in one pass.
type BindingViolationError struct {
	ShipmentID string
	Violations []BindingViolation
}

func (e BindingViolationError) Error() string {
	codes := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		codes = append(codes, v.Code)
	}
	return fmt.Sprintf("shipment %q has %d binding violation(s): %s", e.ShipmentID, len(e.Violations), strings.Join(codes, ", "))
}

// SupersessionConflictError is returned when supersede targets evidence that is
// no longer active. It is never retried.
type SupersessionConflictError struct {
	EvidenceID   string
	SupersededBy string
}

func (e SupersessionConflictError) Error() string {
	if e.SupersededBy != "" {
		return fmt.Sprintf("evidence %q already superseded by %q", e.EvidenceID, e.SupersededBy)
	}
	return fmt.Sprintf("evidence %q is not active", e.EvidenceID)
}

// ContentHashConflictError is returned when appended evidence duplicates an
// active record and was not marked as a correction.
type ContentHashConflictError struct {
	ContentHash string
	ExistingID  string
}

func (e ContentHashConflictError) Error() string {
	return fmt.Sprintf("content hash %s already recorded by active evidence %q", e.ContentHash, e.ExistingID)
}

// InactiveEvidenceError is returned when a non-contradictory link targets
// inactive evidence.
type InactiveEvidenceError struct {
	EvidenceID string
}

func (e InactiveEvidenceError) Error() string {
	return fmt.Sprintf("evidence %q is inactive", e.EvidenceID)
}
