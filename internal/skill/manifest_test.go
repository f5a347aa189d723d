package skill

import "testing"

const validManifest = `
[skill]
name = "echo"
version = "1.0.0"
kind = "native"
entrypoint = "/usr/bin/echo"
max_memory_mb = 64
max_cpu_percent = 50
max_wall_seconds = 5

permissions = ["memory:read:public"]
exports = ["run"]
`

func TestParseManifestValid(t *testing.T) {
	m, err := ParseManifest([]byte(validManifest))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if m.Skill.Name != "echo" || m.Skill.Version != "1.0.0" {
		t.Fatalf("m.Skill = %+v", m.Skill)
	}
}

func TestParseManifestRejectsBadVersion(t *testing.T) {
	bad := `
[skill]
name = "echo"
version = "v1"
kind = "native"
entrypoint = "/bin/echo"
`
	if _, err := ParseManifest([]byte(bad)); err == nil {
		t.Fatal("expected error for malformed version")
	}
}

func TestParseManifestRejectsUnknownKind(t *testing.T) {
	bad := `
[skill]
name = "echo"
version = "1.0.0"
kind = "telepathic"
entrypoint = "/bin/echo"
`
	if _, err := ParseManifest([]byte(bad)); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestParseManifestDagRequiresDagID(t *testing.T) {
	bad := `
[skill]
name = "workflow"
version = "1.0.0"
kind = "dag"
`
	if _, err := ParseManifest([]byte(bad)); err == nil {
		t.Fatal("expected error for dag manifest missing dag_id")
	}
}

func TestParseManifestDagValid(t *testing.T) {
	ok := `
[skill]
name = "workflow"
version = "1.0.0"
kind = "dag"

[dag]
dag_id = "some-dag"
`
	m, err := ParseManifest([]byte(ok))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if m.Dag == nil || m.Dag.DagID != "some-dag" {
		t.Fatalf("m.Dag = %+v", m.Dag)
	}
}
