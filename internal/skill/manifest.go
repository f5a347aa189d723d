package skill

import (
	"regexp"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/cis-project/cis-core/internal/domain"
)

// semverPattern is a pragmatic MAJOR.MINOR.PATCH check — no pre-release or
// build metadata, which skill manifests don't use.
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// Manifest is the parsed form of a skill's manifest.toml.
type Manifest struct {
	Skill        manifestSkill            `toml:"skill"`
	Permissions  []string                 `toml:"permissions"`
	Exports      []string                 `toml:"exports"`
	Config       map[string]any           `toml:"config"`
	Dependencies []string                 `toml:"dependencies"`
	Dag          *manifestDag             `toml:"dag"`
}

type manifestSkill struct {
	Name           string `toml:"name"`
	Version        string `toml:"version"`
	Kind           string `toml:"kind"`
	Entrypoint     string `toml:"entrypoint"`
	MaxMemoryMB    int64  `toml:"max_memory_mb"`
	MaxCPUPercent  int    `toml:"max_cpu_percent"`
	MaxWallSeconds int64  `toml:"max_wall_seconds"`
}

type manifestDag struct {
	DagID string `toml:"dag_id"`
}

// ParseManifest decodes and validates a manifest.toml's contents.
func ParseManifest(raw []byte) (*Manifest, error) {
	var m Manifest
	if _, err := toml.Decode(string(raw), &m); err != nil {
		return nil, domain.Wrap(domain.ErrSkill, "skill.manifest_decode_failed", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest against skill invariants: required fields,
// a well-formed version, and a dispatch kind this executor understands.
func (m *Manifest) Validate() error {
	if m.Skill.Name == "" {
		return domain.Wrap(domain.ErrSkill, "skill.name_empty", domain.ErrManifestInvalid)
	}
	if !semverPattern.MatchString(m.Skill.Version) {
		return domain.Wrap(domain.ErrSkill, "skill.version_invalid", domain.ErrManifestInvalid)
	}
	switch domain.SkillKind(m.Skill.Kind) {
	case domain.SkillNative, domain.SkillWasm, domain.SkillRemote, domain.SkillDag:
	default:
		return domain.Wrap(domain.ErrSkill, "skill.kind_unknown", domain.ErrManifestInvalid)
	}
	if m.Skill.Entrypoint == "" && domain.SkillKind(m.Skill.Kind) != domain.SkillDag {
		return domain.Wrap(domain.ErrSkill, "skill.entrypoint_empty", domain.ErrManifestInvalid)
	}
	if domain.SkillKind(m.Skill.Kind) == domain.SkillDag && (m.Dag == nil || m.Dag.DagID == "") {
		return domain.Wrap(domain.ErrSkill, "skill.dag_id_missing", domain.ErrManifestInvalid)
	}
	for _, p := range m.Permissions {
		if _, err := ParseScope(p); err != nil {
			return err
		}
	}
	return nil
}

// ToSkill converts a parsed manifest into the domain.Skill record stored in
// the registry. Validate must have already checked every permission string
// parses, so parse errors here are unreachable.
func (m *Manifest) ToSkill(id string) domain.Skill {
	perms := make([]domain.PermissionScope, 0, len(m.Permissions))
	for _, p := range m.Permissions {
		scope, err := ParseScope(p)
		if err != nil {
			continue
		}
		perms = append(perms, scope)
	}
	return domain.Skill{
		ID:         id,
		Name:       m.Skill.Name,
		Version:    m.Skill.Version,
		Kind:       domain.SkillKind(m.Skill.Kind),
		Entrypoint: m.Skill.Entrypoint,
		Permissions: perms,
		Limits: domain.ResourceLimits{
			MaxMemoryMB:    m.Skill.MaxMemoryMB,
			MaxCPUPercent:  m.Skill.MaxCPUPercent,
			MaxWallSeconds: m.Skill.MaxWallSeconds,
		},
		Exports:      m.Exports,
		Config:       m.Config,
		Dependencies: m.Dependencies,
		RegisteredAt: time.Now(),
	}
}
