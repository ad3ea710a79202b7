package engine

import (
	"fmt"
	"strings"

	"github.com/newtron-network/newtauth/pkg/probe"
	"github.com/newtron-network/newtauth/pkg/spec"
)

// Satisfied applies policy to one group's probe results. Only pass counts;
// ambiguous and timeout fail closed. No results never satisfies a policy.
func Satisfied(policy spec.Policy, results []*probe.Result) bool {
	if len(results) == 0 {
		return false
	}
	passes := 0
	for _, r := range results {
		if r.Outcome.Passed() {
			passes++
		}
	}
	if policy == spec.PolicyRequireAllPass {
		return passes == len(results)
	}
	return passes > 0
}

// summarize renders results as "NEW1@10.9.0.1: fail, NEW2@10.9.0.2: pass".
func summarize(results []*probe.Result) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("%s: %s", r.Server, r.Outcome)
	}
	return strings.Join(parts, ", ")
}
