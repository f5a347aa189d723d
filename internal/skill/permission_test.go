package skill

import (
	"testing"
	"time"

	"github.com/cis-project/cis-core/internal/domain"
)

func declare(t *testing.T, raws ...string) []domain.PermissionScope {
	t.Helper()
	out := make([]domain.PermissionScope, len(raws))
	for i, r := range raws {
		out[i] = mustScope(t, r)
	}
	return out
}

func TestResolveImplicitAllowForUndeclaredMemoryRead(t *testing.T) {
	pc := NewPermissionChecker()
	res := pc.Resolve("skill-a", nil, domain.CategoryMemoryRead, "anything", 0, time.Now())
	if res.Decision != domain.DecisionImplicit {
		t.Fatalf("Resolve() = %+v, want Implicit", res)
	}
}

func TestResolveDeniesUndeclaredNonImplicitCategory(t *testing.T) {
	// A skill that declares only memory:read attempting network:http must
	// be Denied outright, not Pending — it never asked for that capability.
	pc := NewPermissionChecker()
	declared := declare(t, "memory:read:public")

	res := pc.Resolve("skill-a", declared, domain.CategoryNetworkHTTP, "https://example.com", 0, time.Now())
	if res.Decision != domain.DecisionDeny {
		t.Fatalf("Resolve() = %+v, want Deny", res)
	}
	if res.Suggestion == "" {
		t.Fatal("expected a suggestion to add the permission to skill.toml")
	}
}

func TestResolvePendingForDeclaredButUndecidedScope(t *testing.T) {
	pc := NewPermissionChecker()
	declared := declare(t, "network:http:*.example.com")

	res := pc.Resolve("skill-a", declared, domain.CategoryNetworkHTTP, "api.example.com", 0, time.Now())
	if res.Decision != domain.DecisionPending {
		t.Fatalf("Resolve() = %+v, want Pending", res)
	}
}

func TestResolveAllowAfterGrant(t *testing.T) {
	pc := NewPermissionChecker()
	declared := declare(t, "network:http:*.example.com")
	if err := pc.Grant("skill-a", domain.CategoryNetworkHTTP); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	res := pc.Resolve("skill-a", declared, domain.CategoryNetworkHTTP, "api.example.com", 0, time.Now())
	if res.Decision != domain.DecisionAllow {
		t.Fatalf("Resolve() = %+v, want Allow", res)
	}
}

func TestResolveRevokeOverridesImplicitAllow(t *testing.T) {
	pc := NewPermissionChecker()
	if err := pc.Revoke("skill-a", domain.CategoryMemoryRead); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	res := pc.Resolve("skill-a", nil, domain.CategoryMemoryRead, "anything", 0, time.Now())
	if res.Decision != domain.DecisionDeny {
		t.Fatalf("Resolve() = %+v, want Deny", res)
	}
}

func TestResolveGlobPatternMatchesResource(t *testing.T) {
	pc := NewPermissionChecker()
	declared := declare(t, "file:read:/data/*.json")
	pc.Grant("skill-a", domain.CategoryFileRead)

	res := pc.Resolve("skill-a", declared, domain.CategoryFileRead, "/data/report.json", 0, time.Now())
	if res.Decision != domain.DecisionAllow {
		t.Fatalf("Resolve() = %+v, want Allow for a matching glob", res)
	}
}

func TestResolveMaxSizeConstraintDenies(t *testing.T) {
	pc := NewPermissionChecker()
	declared := declare(t, "file:write:/tmp/out.bin?max_size=1024")
	pc.Grant("skill-a", domain.CategoryFileWrite)

	res := pc.Resolve("skill-a", declared, domain.CategoryFileWrite, "/tmp/out.bin", 2048, time.Now())
	if res.Decision != domain.DecisionDeny {
		t.Fatalf("Resolve() = %+v, want Deny for oversized payload", res)
	}
}

func TestResolvePathRestrictionDenies(t *testing.T) {
	pc := NewPermissionChecker()
	declared := declare(t, "file:read:*?path=/home/skill")
	pc.Grant("skill-a", domain.CategoryFileRead)

	res := pc.Resolve("skill-a", declared, domain.CategoryFileRead, "/etc/passwd", 0, time.Now())
	if res.Decision != domain.DecisionDeny {
		t.Fatalf("Resolve() = %+v, want Deny outside path restriction", res)
	}
}

func TestResolveTimeWindowDeniesOutsideWindow(t *testing.T) {
	pc := NewPermissionChecker()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	start := now.Add(-time.Hour).Format(time.RFC3339)
	end := now.Add(-time.Minute).Format(time.RFC3339)
	declared := declare(t, "network:http:*?time_window="+start+".."+end)
	pc.Grant("skill-a", domain.CategoryNetworkHTTP)

	res := pc.Resolve("skill-a", declared, domain.CategoryNetworkHTTP, "example.com", 0, now)
	if res.Decision != domain.DecisionDeny {
		t.Fatalf("Resolve() = %+v, want Deny outside time window", res)
	}
}

func TestResolveRateLimitDeniesOnNPlusOnethCall(t *testing.T) {
	pc := NewPermissionChecker()
	declared := declare(t, "network:http:*?rate_limit=3/1m")
	pc.Grant("skill-a", domain.CategoryNetworkHTTP)

	now := time.Now()
	for i := 0; i < 3; i++ {
		res := pc.Resolve("skill-a", declared, domain.CategoryNetworkHTTP, "example.com", 0, now)
		if res.Decision != domain.DecisionAllow {
			t.Fatalf("call %d: Resolve() = %+v, want Allow within the limit", i+1, res)
		}
	}

	res := pc.Resolve("skill-a", declared, domain.CategoryNetworkHTTP, "example.com", 0, now)
	if res.Decision != domain.DecisionDeny {
		t.Fatalf("4th call: Resolve() = %+v, want Deny past the rate limit", res)
	}
}

func TestResolveRateLimitResetsAfterWindow(t *testing.T) {
	pc := NewPermissionChecker()
	declared := declare(t, "network:http:*?rate_limit=1/1m")
	pc.Grant("skill-a", domain.CategoryNetworkHTTP)

	now := time.Now()
	if res := pc.Resolve("skill-a", declared, domain.CategoryNetworkHTTP, "example.com", 0, now); res.Decision != domain.DecisionAllow {
		t.Fatalf("1st call = %+v, want Allow", res)
	}
	if res := pc.Resolve("skill-a", declared, domain.CategoryNetworkHTTP, "example.com", 0, now); res.Decision != domain.DecisionDeny {
		t.Fatalf("2nd call within window = %+v, want Deny", res)
	}

	later := now.Add(2 * time.Minute)
	if res := pc.Resolve("skill-a", declared, domain.CategoryNetworkHTTP, "example.com", 0, later); res.Decision != domain.DecisionAllow {
		t.Fatalf("call in next window = %+v, want Allow", res)
	}
}

func TestPermissionCheckerIsolatedPerSkill(t *testing.T) {
	pc := NewPermissionChecker()
	pc.Grant("skill-a", domain.CategoryFileWrite)
	if _, ok := pc.Check("skill-b", domain.CategoryFileWrite); ok {
		t.Fatal("expected skill-b to have no decision for skill-a's grant")
	}
}

func TestRequireAllowedDeniesOnDeclaredButUngranted(t *testing.T) {
	pc := NewPermissionChecker()
	declared := declare(t, "process:exec:/bin/true")

	if err := pc.RequireAllowed("skill-a", declared); err == nil {
		t.Fatal("expected pending error for an undecided, non-implicit scope")
	}
}

func TestRequireAllowedPassesOnImplicitOnlyScopes(t *testing.T) {
	pc := NewPermissionChecker()
	declared := declare(t, "memory:read:public")

	if err := pc.RequireAllowed("skill-a", declared); err != nil {
		t.Fatalf("RequireAllowed: %v", err)
	}
}
