package consensus

import (
	"context"
)

// curate produces the finalized answer. Polish mode rewrites the agreed
// answer for clarity; override mode synthesizes one answer from the three
// final-round candidates without attributing sources.
func (e *Engine) curate(ctx context.Context, session *Session, answers roundAnswers) (string, error) {
	var prompt string
	if session.ConsensusType == ConsensusCuratorOverride {
		prompt = synthesisPrompt(session.Query, []string{
			answers.generator,
			answers.refiner,
			answers.validator,
		})
	} else {
		prompt = polishPrompt(session.Query, answers.validator)
	}

	final, err := e.stageCall(ctx, session, StageCurator, session.Round, prompt)
	if err != nil {
		return "", err
	}
	return final, nil
}
