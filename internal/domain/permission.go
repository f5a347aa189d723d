package domain

import (
	"path"
	"regexp"
	"strings"
	"time"
)

// MatchesResource reports whether scope's pattern selects resource, per its
// PatternKind.
func (s PermissionScope) MatchesResource(resource string) bool {
	switch s.PatternKind {
	case PatternAll:
		return true
	case PatternSpecific:
		return s.Pattern == resource
	case PatternGlob:
		ok, err := path.Match(s.Pattern, resource)
		return err == nil && ok
	case PatternRegex:
		re, err := regexp.Compile(s.Pattern)
		return err == nil && re.MatchString(resource)
	default:
		return false
	}
}

// MatchesCategory reports whether scope covers category.
func (s PermissionScope) MatchesCategory(category PermissionCategory) bool {
	return s.Category == category
}

// InTimeWindow reports whether at falls inside the scope's configured time
// window, or true if no window constraint is set.
func (s PermissionScope) InTimeWindow(at time.Time) bool {
	c := s.Constraints
	if c == nil || (c.TimeWindowStart.IsZero() && c.TimeWindowEnd.IsZero()) {
		return true
	}
	if !c.TimeWindowStart.IsZero() && at.Before(c.TimeWindowStart) {
		return false
	}
	if !c.TimeWindowEnd.IsZero() && at.After(c.TimeWindowEnd) {
		return false
	}
	return true
}

// WithinSize reports whether size satisfies the scope's MaxSizeBytes
// constraint, or true if none is set.
func (s PermissionScope) WithinSize(size int64) bool {
	c := s.Constraints
	if c == nil || c.MaxSizeBytes == 0 {
		return true
	}
	return size <= c.MaxSizeBytes
}

// WithinPath reports whether resource satisfies the scope's PathRestriction
// prefix, or true if none is set.
func (s PermissionScope) WithinPath(resource string) bool {
	c := s.Constraints
	if c == nil || c.PathRestriction == "" {
		return true
	}
	return strings.HasPrefix(resource, c.PathRestriction)
}

// HasRateLimit reports whether the scope carries a rate-limit constraint.
func (s PermissionScope) HasRateLimit() bool {
	return s.Constraints != nil && s.Constraints.RateLimitCount > 0 && s.Constraints.RateLimitPeriod > 0
}
