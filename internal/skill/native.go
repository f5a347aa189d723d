package skill

import (
	"bytes"
	"context"
	"errors"
	"os/exec"

	"github.com/cis-project/cis-core/internal/domain"
)

// NativeRuntime dispatches a skill to an OS subprocess, writing the input
// to stdin as JSON and reading the output from stdout.
type NativeRuntime struct {
	Entrypoint string
	Args       []string
}

// Kind identifies this runtime for logging/metrics.
func (r *NativeRuntime) Kind() string { return string(domain.SkillNative) }

// Run executes the subprocess, feeding input on stdin and returning stdout.
func (r *NativeRuntime) Run(ctx context.Context, input []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.Entrypoint, r.Args...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, domain.Wrap(domain.ErrSkill, "skill.native_timeout", domain.ErrExecutionTimeout)
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, domain.Wrap(domain.ErrSkill, "skill.native_cancelled", context.Canceled)
		}
		return nil, domain.Wrap(domain.ErrSkill, "skill.native_failed", err)
	}
	return stdout.Bytes(), nil
}
