// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy decides whether a proposed workspace action may be
// forwarded to the injection layer. The oracle is a pure function over
// the action's UI target; it holds no state and touches no OS surface.
//
// Decisions fail closed: an unknown application, a missing rules file,
// or any internal error produces DENY, never ALLOW.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/tidwall/jsonc"
)

// Decision is the oracle's verdict for one proposed action.
type Decision string

const (
	// Allow: the action may be forwarded.
	Allow Decision = "ALLOW"

	// Deny: the action must not be forwarded.
	Deny Decision = "DENY"

	// RequireHumanConfirmation: the action targets a high-risk
	// control and needs explicit human approval before forwarding.
	RequireHumanConfirmation Decision = "REQUIRE_HUMAN_CONFIRMATION"
)

// Target identifies the UI element a proposed action would act on, as
// reported by the perception layer.
type Target struct {
	// App is the application owning the element (e.g. "editor").
	App string `json:"app"`

	// Role is the element's accessibility role (e.g. "button",
	// "password").
	Role string `json:"role"`

	// Label is the element's visible or accessible label.
	Label string `json:"label"`
}

// ruleFile is the on-disk shape of the rules document. Authored as
// JSONC so operators can annotate entries.
type ruleFile struct {
	AllowedApps    []string `json:"allowed_apps"`
	DeniedRoles    []string `json:"denied_roles"`
	HighRiskLabels []string `json:"high_risk_labels"`
}

// Rules is a compiled policy rule set.
type Rules struct {
	allowedApps    map[string]bool
	deniedRoles    map[string]bool
	highRiskLabels []*regexp.Regexp
}

// LoadRules reads and compiles a JSONC rules file. A file that does
// not parse, or a label pattern that does not compile, is a load
// error; the caller must not fall back to an open policy.
func LoadRules(path string) (*Rules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy rules: %w", err)
	}
	return ParseRules(raw)
}

// ParseRules compiles a JSONC rules document.
func ParseRules(raw []byte) (*Rules, error) {
	var file ruleFile
	if err := json.Unmarshal(jsonc.ToJSON(raw), &file); err != nil {
		return nil, fmt.Errorf("parse policy rules: %w", err)
	}
	rules := &Rules{
		allowedApps: make(map[string]bool, len(file.AllowedApps)),
		deniedRoles: make(map[string]bool, len(file.DeniedRoles)),
	}
	for _, app := range file.AllowedApps {
		rules.allowedApps[app] = true
	}
	for _, role := range file.DeniedRoles {
		rules.deniedRoles[role] = true
	}
	for _, pattern := range file.HighRiskLabels {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("policy label pattern %q: %w", pattern, err)
		}
		rules.highRiskLabels = append(rules.highRiskLabels, compiled)
	}
	return rules, nil
}

// Oracle evaluates proposed actions against a compiled rule set.
type Oracle struct {
	rules *Rules
}

// NewOracle returns an oracle over the given rules. A nil rule set
// yields an oracle that denies everything.
func NewOracle(rules *Rules) *Oracle {
	return &Oracle{rules: rules}
}

// Decide returns the verdict for an action on the given target.
//
// Evaluation order: unknown application denies, denied role denies,
// high-risk label requires confirmation, otherwise allow. The first
// matching rule wins; DENY always beats REQUIRE_HUMAN_CONFIRMATION.
func (o *Oracle) Decide(target Target) Decision {
	if o == nil || o.rules == nil {
		return Deny
	}
	if !o.rules.allowedApps[target.App] {
		return Deny
	}
	if target.Role != "" && o.rules.deniedRoles[target.Role] {
		return Deny
	}
	for _, pattern := range o.rules.highRiskLabels {
		if pattern.MatchString(target.Label) {
			return RequireHumanConfirmation
		}
	}
	return Allow
}
