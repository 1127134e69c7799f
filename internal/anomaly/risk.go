package anomaly

import (
	"context"
	"fmt"
	"log"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

// RiskLevel is the qualitative output of the risk policy.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

const riskQuery = "data.truxe.session_risk.level"

// Default Rego policy. Thresholds mirror the platform's shipped defaults;
// orgs override by publishing their own policy under the same package.
const defaultRiskPolicy = `package truxe.session_risk

default level = "low"

high if {
	input.failed_auth_count >= 5
}
high if {
	input.rate_limit_violations >= 3
}
high if {
	input.device_changes >= 4
}

medium if {
	not high
	input.failed_auth_count >= 2
}
medium if {
	not high
	input.rate_limit_violations >= 1
}
medium if {
	not high
	input.device_changes >= 2
}

level = "high" if { high }
level = "medium" if { medium }
`

// RiskInput aggregates the recent failure signals for one user.
type RiskInput struct {
	FailedAuthCount     int `json:"failed_auth_count"`
	DeviceChanges       int `json:"device_changes"`
	RateLimitViolations int `json:"rate_limit_violations"`
}

// PolicySource loads org-specific risk policies. A nil source or an empty
// result selects the default policy.
type PolicySource interface {
	RiskPoliciesForOrg(ctx context.Context, orgID string) ([]string, error)
}

// RiskEvaluator scores suspicious-pattern signals with OPA Rego policies.
// Exact scoring is an org-tunable extension point, not a fixed formula.
type RiskEvaluator struct {
	policies PolicySource
}

// NewRiskEvaluator returns an OPA-based risk evaluator.
func NewRiskEvaluator(policies PolicySource) *RiskEvaluator {
	return &RiskEvaluator{policies: policies}
}

// HealthCheck verifies the embedded default policy compiles and evaluates.
func (e *RiskEvaluator) HealthCheck(ctx context.Context) error {
	_, err := evalRisk(ctx, []string{defaultRiskPolicy}, RiskInput{})
	return err
}

// Evaluate returns the risk level for the given signals. Policy load or
// evaluation failures fall back to the default policy; if even that fails,
// the result is RiskLow so detection trouble never blocks authentication.
func (e *RiskEvaluator) Evaluate(ctx context.Context, orgID string, in RiskInput) RiskLevel {
	policies := e.loadPolicies(ctx, orgID)
	usingDefault := len(policies) == 1 && policies[0] == defaultRiskPolicy

	level, err := evalRisk(ctx, policies, in)
	if err != nil && !usingDefault {
		log.Printf("anomaly: org %s risk policy failed: %v, using default", orgID, err)
		level, err = evalRisk(ctx, []string{defaultRiskPolicy}, in)
	}
	if err != nil {
		log.Printf("anomaly: risk evaluation failed: %v", err)
		return RiskLow
	}
	return level
}

func (e *RiskEvaluator) loadPolicies(ctx context.Context, orgID string) []string {
	if e.policies == nil || orgID == "" {
		return []string{defaultRiskPolicy}
	}
	orgPolicies, err := e.policies.RiskPoliciesForOrg(ctx, orgID)
	if err != nil {
		log.Printf("anomaly: load risk policies for org %s: %v", orgID, err)
		return []string{defaultRiskPolicy}
	}
	var out []string
	for _, p := range orgPolicies {
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{defaultRiskPolicy}
	}
	return out
}

func evalRisk(ctx context.Context, policies []string, in RiskInput) (RiskLevel, error) {
	modules := make(map[string]string)
	for i, p := range policies {
		modules[fmt.Sprintf("risk_%d.rego", i)] = p
	}
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return "", fmt.Errorf("compile risk policies: %w", err)
	}

	input := map[string]interface{}{
		"failed_auth_count":     in.FailedAuthCount,
		"device_changes":        in.DeviceChanges,
		"rate_limit_violations": in.RateLimitViolations,
	}
	q := rego.New(
		rego.Query(riskQuery),
		rego.Compiler(compiler),
		rego.Input(input),
	)
	rs, err := q.Eval(ctx)
	if err != nil {
		return "", fmt.Errorf("eval risk policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return "", fmt.Errorf("risk query returned no result")
	}
	v, ok := rs[0].Expressions[0].Value.(string)
	if !ok {
		return "", fmt.Errorf("risk query returned non-string %T", rs[0].Expressions[0].Value)
	}
	switch lvl := RiskLevel(v); lvl {
	case RiskLow, RiskMedium, RiskHigh:
		return lvl, nil
	default:
		return "", fmt.Errorf("risk query returned unknown level %q", v)
	}
}
