package skill

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cis-project/cis-core/internal/domain"
)

// knownCategories lists every category a manifest may declare, longest
// prefix first so "memory:read" is tried before a bare "memory" would be.
var knownCategories = []domain.PermissionCategory{
	domain.CategoryMemoryRead,
	domain.CategoryMemoryWrite,
	domain.CategoryFileRead,
	domain.CategoryFileWrite,
	domain.CategoryNetworkHTTP,
	domain.CategoryProcessExec,
}

// ParseScope decodes a manifest permission string of the form
// "category:pattern[?constraint=value&constraint=value]" into a structured
// PermissionScope, e.g. "network:http:*.example.com?rate_limit=10/1m".
func ParseScope(raw string) (domain.PermissionScope, error) {
	base, query, _ := strings.Cut(raw, "?")

	var category domain.PermissionCategory
	var rest string
	for _, c := range knownCategories {
		prefix := string(c) + ":"
		if strings.HasPrefix(base, prefix) {
			category = c
			rest = base[len(prefix):]
			break
		}
	}
	if category == "" {
		return domain.PermissionScope{}, domain.Wrap(domain.ErrSkill, "skill.scope_category_unknown", domain.ErrManifestInvalid)
	}

	kind, pattern := inferPattern(rest)
	scope := domain.PermissionScope{Category: category, PatternKind: kind, Pattern: pattern}

	if query != "" {
		constraints, err := parseConstraints(query)
		if err != nil {
			return domain.PermissionScope{}, err
		}
		scope.Constraints = constraints
	}
	return scope, nil
}

func inferPattern(rest string) (domain.PatternKind, string) {
	switch {
	case rest == "" || rest == "*":
		return domain.PatternAll, ""
	case strings.HasPrefix(rest, "re:"):
		return domain.PatternRegex, strings.TrimPrefix(rest, "re:")
	case strings.ContainsAny(rest, "*?"):
		return domain.PatternGlob, rest
	default:
		return domain.PatternSpecific, rest
	}
}

func parseConstraints(query string) (*domain.PermissionConstraint, error) {
	c := &domain.PermissionConstraint{}
	for _, pair := range strings.Split(query, "&") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, domain.Wrap(domain.ErrSkill, "skill.scope_constraint_malformed", domain.ErrManifestInvalid)
		}
		switch key {
		case "rate_limit":
			n, period, err := parseRateLimit(value)
			if err != nil {
				return nil, err
			}
			c.RateLimitCount, c.RateLimitPeriod = n, period
		case "max_size":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, domain.Wrap(domain.ErrSkill, "skill.scope_max_size_invalid", err)
			}
			c.MaxSizeBytes = n
		case "path":
			c.PathRestriction = value
		case "time_window":
			start, end, err := parseTimeWindow(value)
			if err != nil {
				return nil, err
			}
			c.TimeWindowStart, c.TimeWindowEnd = start, end
		default:
			return nil, domain.Wrap(domain.ErrSkill, "skill.scope_constraint_unknown", domain.ErrManifestInvalid)
		}
	}
	return c, nil
}

// parseRateLimit decodes "N/period", e.g. "10/1m" or "3/30s".
func parseRateLimit(value string) (int, time.Duration, error) {
	countStr, periodStr, ok := strings.Cut(value, "/")
	if !ok {
		return 0, 0, domain.Wrap(domain.ErrSkill, "skill.scope_rate_limit_malformed", domain.ErrManifestInvalid)
	}
	n, err := strconv.Atoi(countStr)
	if err != nil || n <= 0 {
		return 0, 0, domain.Wrap(domain.ErrSkill, "skill.scope_rate_limit_count_invalid", domain.ErrManifestInvalid)
	}
	period, err := time.ParseDuration(periodStr)
	if err != nil || period <= 0 {
		return 0, 0, domain.Wrap(domain.ErrSkill, "skill.scope_rate_limit_period_invalid", domain.ErrManifestInvalid)
	}
	return n, period, nil
}

// parseTimeWindow decodes "start..end" as two RFC3339 timestamps.
func parseTimeWindow(value string) (time.Time, time.Time, error) {
	startStr, endStr, ok := strings.Cut(value, "..")
	if !ok {
		return time.Time{}, time.Time{}, domain.Wrap(domain.ErrSkill, "skill.scope_time_window_malformed", domain.ErrManifestInvalid)
	}
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, domain.Wrap(domain.ErrSkill, "skill.scope_time_window_start_invalid", err)
	}
	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, domain.Wrap(domain.ErrSkill, "skill.scope_time_window_end_invalid", err)
	}
	return start, end, nil
}

// scopeString renders a PermissionScope back to manifest-string form, used
// only for error messages/suggestions.
func scopeString(s domain.PermissionScope) string {
	pattern := s.Pattern
	if s.PatternKind == domain.PatternRegex {
		pattern = "re:" + pattern
	}
	if pattern == "" {
		pattern = "*"
	}
	return fmt.Sprintf("%s:%s", s.Category, pattern)
}
