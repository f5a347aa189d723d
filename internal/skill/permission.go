package skill

import (
	"fmt"
	"sync"
	"time"

	"github.com/cis-project/cis-core/internal/domain"
)

// decisionKey identifies a cached (skill, category) decision.
type decisionKey struct {
	skillID  string
	category domain.PermissionCategory
}

// rateLimitState tracks a fixed-window call count for one (skill, category)
// pair that carries an active rate_limit constraint.
type rateLimitState struct {
	windowStart time.Time
	count       int
}

// PermissionChecker enforces skill sandbox scopes. Positive and negative
// decisions are cached per (skill, category) — Grant/Revoke record an
// explicit decision; Resolve consults that cache, the skill's manifest-
// declared scopes, the implicit-allow set, and any constraint attached to
// the matching scope.
type PermissionChecker struct {
	mu     sync.Mutex
	cache  map[decisionKey]domain.Decision
	limits map[decisionKey]*rateLimitState
}

// NewPermissionChecker returns a checker with no recorded decisions.
func NewPermissionChecker() *PermissionChecker {
	return &PermissionChecker{
		cache:  make(map[decisionKey]domain.Decision),
		limits: make(map[decisionKey]*rateLimitState),
	}
}

// Check reports the cached decision, if any, for skillID+category.
func (pc *PermissionChecker) Check(skillID string, category domain.PermissionCategory) (domain.Decision, bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	d, ok := pc.cache[decisionKey{skillID, category}]
	return d, ok
}

// Grant records an ALLOW decision for skillID+category.
func (pc *PermissionChecker) Grant(skillID string, category domain.PermissionCategory) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.cache[decisionKey{skillID, category}] = domain.DecisionAllow
	return nil
}

// Revoke records a DENY decision for skillID+category. Once denied, a
// category never silently becomes allowed again — the caller must
// explicitly Grant it, and an explicit revoke overrides the implicit-allow
// set too.
func (pc *PermissionChecker) Revoke(skillID string, category domain.PermissionCategory) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.cache[decisionKey{skillID, category}] = domain.DecisionDeny
	return nil
}

// ResolveResult is the outcome of resolving a skill's attempt to exercise a
// capability, carrying enough detail for the caller to report or retry.
type ResolveResult struct {
	Decision   domain.Decision
	Reason     string
	Suggestion string
}

// Resolve decides whether skillID, whose manifest declared the scopes in
// declared, may perform an action in category against resource of the
// given size at time now.
//
// Resolution order:
//  1. an explicit Revoke always wins, even over the implicit-allow set.
//  2. no declared scope matches category+resource: Implicit if category is
//     in the implicit-allow set, otherwise Denied. The skill never
//     asked for this capability, so there is nothing pending approval —
//     scenario "skill declared only memory:read, attempts network:http"
//     resolves here, not as Pending.
//  3. the matching scope's constraints (time window, size, path, rate
//     limit) are violated: Denied.
//  4. an explicit Grant is cached: Allow.
//  5. category is in the implicit-allow set: Implicit.
//  6. otherwise: declared but never decided: Pending, awaiting approval.
func (pc *PermissionChecker) Resolve(skillID string, declared []domain.PermissionScope, category domain.PermissionCategory, resource string, size int64, now time.Time) ResolveResult {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	key := decisionKey{skillID, category}
	if d, ok := pc.cache[key]; ok && d == domain.DecisionDeny {
		return ResolveResult{Decision: domain.DecisionDeny, Reason: "explicitly revoked"}
	}

	match := findMatch(declared, category, resource)
	if match == nil {
		if domain.ImplicitAllowCategories[category] {
			return ResolveResult{Decision: domain.DecisionImplicit}
		}
		return ResolveResult{
			Decision:   domain.DecisionDeny,
			Reason:     fmt.Sprintf("skill never declared category %s", category),
			Suggestion: "Add permission to skill.toml",
		}
	}

	if !match.InTimeWindow(now) {
		return ResolveResult{Decision: domain.DecisionDeny, Reason: "outside permitted time window"}
	}
	if !match.WithinSize(size) {
		return ResolveResult{Decision: domain.DecisionDeny, Reason: "exceeds max_size constraint"}
	}
	if !match.WithinPath(resource) {
		return ResolveResult{Decision: domain.DecisionDeny, Reason: "outside path restriction"}
	}
	if match.HasRateLimit() && !pc.allowRateLocked(key, *match.Constraints, now) {
		return ResolveResult{Decision: domain.DecisionDeny, Reason: "rate limit exceeded"}
	}

	if d, ok := pc.cache[key]; ok && d == domain.DecisionAllow {
		return ResolveResult{Decision: domain.DecisionAllow}
	}
	if domain.ImplicitAllowCategories[category] {
		return ResolveResult{Decision: domain.DecisionImplicit}
	}
	return ResolveResult{
		Decision:   domain.DecisionPending,
		Reason:     "declared but not yet approved",
		Suggestion: "approve " + scopeString(*match) + " for skill " + skillID,
	}
}

// allowRateLocked reports whether another call fits within the rate_limit
// constraint's window, advancing the window's call count. Callers must
// hold pc.mu. The RateLimitCount+1'th call inside a window is denied; the
// window then resets on the first call that lands outside Period.
func (pc *PermissionChecker) allowRateLocked(key decisionKey, c domain.PermissionConstraint, now time.Time) bool {
	state, ok := pc.limits[key]
	if !ok || now.Sub(state.windowStart) >= c.RateLimitPeriod {
		state = &rateLimitState{windowStart: now}
		pc.limits[key] = state
	}
	if state.count >= c.RateLimitCount {
		return false
	}
	state.count++
	return true
}

func findMatch(declared []domain.PermissionScope, category domain.PermissionCategory, resource string) *domain.PermissionScope {
	for i := range declared {
		if declared[i].MatchesCategory(category) && declared[i].MatchesResource(resource) {
			return &declared[i]
		}
	}
	return nil
}

// RequireAllowed pre-flight-checks every scope a skill's manifest declared,
// resolving each against itself (its own pattern as the resource). The
// first Denied or Pending scope short-circuits dispatch.
func (pc *PermissionChecker) RequireAllowed(skillID string, declared []domain.PermissionScope) error {
	now := time.Now()
	for _, scope := range declared {
		res := pc.Resolve(skillID, declared, scope.Category, scope.Pattern, 0, now)
		switch res.Decision {
		case domain.DecisionDeny:
			e := domain.Wrap(domain.ErrSkill, "skill.permission_denied", domain.ErrPermissionDenied)
			if res.Suggestion != "" {
				e = e.WithSuggestion(res.Suggestion)
			}
			return e
		case domain.DecisionPending:
			e := domain.Wrap(domain.ErrSkill, "skill.permission_pending", domain.ErrPermissionPending)
			if res.Suggestion != "" {
				e = e.WithSuggestion(res.Suggestion)
			}
			return e
		}
	}
	return nil
}
