// SPDX-License-Identifier: AGPL-3.0-or-later
package types

import "time"

// ValidationResult classifies the overall outcome of a check battery.
type ValidationResult string

const (
	ValidationApproved   ValidationResult = "APPROVED"
	ValidationRejected   ValidationResult = "REJECTED"
	ValidationWarning    ValidationResult = "WARNING"
	ValidationKillSwitch ValidationResult = "KILL_SWITCH"
)

// CheckSeverity grades an individual validation check.
type CheckSeverity string

const (
	SeverityError   CheckSeverity = "error"
	SeverityWarning CheckSeverity = "warning"
	SeverityInfo    CheckSeverity = "info"
)

// ValidationCheck is one named pass/fail probe within a battery.
type ValidationCheck struct {
	Name      string        `json:"name"`
	Passed    bool          `json:"passed"`
	Message   string        `json:"message,omitempty"`
	Severity  CheckSeverity `json:"severity"`
	Timestamp time.Time     `json:"timestamp"`
}

// ValidationReport is the outcome of a pre- or post-execution battery.
// Confidence is the fraction of checks that passed. Approved requires every
// error-severity check to pass and the kill switch to be inactive.
type ValidationReport struct {
	Phase               string            `json:"phase"`
	Result              ValidationResult  `json:"result"`
	Checks              []ValidationCheck `json:"checks"`
	Confidence          float64           `json:"confidence"`
	Approved            bool              `json:"approved"`
	KillSwitchTriggered bool              `json:"kill_switch_triggered"`
	Reason              string            `json:"reason,omitempty"`
	Timestamp           time.Time         `json:"timestamp"`
}
