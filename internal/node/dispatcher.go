package node

import (
	"context"

	"github.com/cis-project/cis-core/internal/domain"
	"github.com/cis-project/cis-core/internal/skill"
)

// skillDispatcher satisfies scheduler.NodeDispatcher over an
// internal/skill.Executor. The scheduler only knows a skill by ID; this
// adapter resolves it to the full domain.Skill Executor.Run needs and
// flattens the resulting domain.ExecutionRecord down to the ([]byte,
// error) shape the scheduler's run loop expects.
type skillDispatcher struct {
	executor *skill.Executor
}

func newSkillDispatcher(executor *skill.Executor) *skillDispatcher {
	return &skillDispatcher{executor: executor}
}

// Dispatch implements scheduler.NodeDispatcher.
func (d *skillDispatcher) Dispatch(ctx context.Context, skillID string, input []byte) ([]byte, error) {
	sk, err := d.executor.GetSkill(skillID)
	if err != nil {
		return nil, err
	}
	record, err := d.executor.Run(ctx, sk, input)
	if err != nil {
		return nil, err
	}
	if record.Status != domain.ExecSucceeded {
		return nil, domain.NewError(domain.ErrSkill, "skill.dispatch_not_succeeded", record.Error)
	}
	return record.Output, nil
}
