package consensus

import (
	"context"

	"github.com/adalundhe/quorum/core/memory"
)

// loopState is the deliberation state machine.
type loopState int

const (
	stateAwaitingRound loopState = iota
	stateRoundInProgress
	stateConsensusCheck
	stateTerminal
)

// roundAnswers holds the resolved answer after each stage of a round. When a
// stage replies with the accept token, the prior answer carries forward.
type roundAnswers struct {
	generator string
	refiner   string
	validator string
}

// deliberate runs bounded rounds of generate, refine, validate, then a vote,
// until consensus settles or the round ceiling forces a decision. Returns
// the final round's answers for the curator.
func (e *Engine) deliberate(ctx context.Context, session *Session, frame memory.ContextFrame) (roundAnswers, error) {
	var (
		answers roundAnswers
		state   = stateAwaitingRound
	)

	for state != stateTerminal {
		switch state {
		case stateAwaitingRound:
			round := session.BeginRound()
			e.observer.RoundStarted(round)
			state = stateRoundInProgress

		case stateRoundInProgress:
			var err error
			answers, err = e.runRound(ctx, session, frame, answers.validator)
			if err != nil {
				return roundAnswers{}, err
			}
			state = stateConsensusCheck

		case stateConsensusCheck:
			votes := e.collectVotes(ctx, session, answers.validator)
			ct, settled := decide(session.Round, session.Profile.MaxRounds, votes)
			if settled {
				session.Settle(ct)
				state = stateTerminal
			} else {
				state = stateAwaitingRound
			}
		}
	}

	return answers, nil
}

// runRound executes the three sequential stage calls. previous is the prior
// round's validator answer, empty on round one.
func (e *Engine) runRound(ctx context.Context, session *Session, frame memory.ContextFrame, previous string) (roundAnswers, error) {
	round := session.Round

	var genPrompt string
	if round == 1 {
		genPrompt = enhancedQuery(session.Query, frame.Summary)
	} else {
		genPrompt = revisionPrompt(session.Query, previous)
	}

	reply, err := e.stageCall(ctx, session, StageGenerator, round, genPrompt)
	if err != nil {
		return roundAnswers{}, err
	}
	answer := resolveAnswer(previous, reply, round > 1)
	answers := roundAnswers{generator: answer}

	reply, err = e.stageCall(ctx, session, StageRefiner, round, revisionPrompt(session.Query, answer))
	if err != nil {
		return roundAnswers{}, err
	}
	answer = resolveAnswer(answer, reply, true)
	answers.refiner = answer

	reply, err = e.stageCall(ctx, session, StageValidator, round, revisionPrompt(session.Query, answer))
	if err != nil {
		return roundAnswers{}, err
	}
	answers.validator = resolveAnswer(answer, reply, true)

	return answers, nil
}

// resolveAnswer interprets a stage reply under the revision contract: an
// accepting reply keeps the current answer, anything else replaces it.
func resolveAnswer(current, reply string, revising bool) string {
	if revising && ParseVote(reply) == VoteStable {
		return current
	}
	return reply
}
