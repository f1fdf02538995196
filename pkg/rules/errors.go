package rules

import "errors"

var (
	// ErrParse means the rule blob was structurally invalid. The
	// whole fetch fails; a partially parsed rule set is never
	// returned.
	ErrParse = errors.New("rules: malformed access rule data")

	// ErrNoRuleSource means neither the rule authority applet nor the
	// rule file could be found on the card.
	ErrNoRuleSource = errors.New("rules: no access rule source on card")
)
