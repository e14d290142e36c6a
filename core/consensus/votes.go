package consensus

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/adalundhe/quorum/core/providers"
)

// ParseVote reads a vote reply under the accept-token contract. A reply
// that is exactly, begins with, ends with, or contains the standalone token
// accepts the answer; any other non-empty reply is a proposed revision.
// Empty or failed replies count as STABLE so one flaky call cannot stall
// the loop.
func ParseVote(reply string) Vote {
	t := strings.TrimSpace(reply)
	if t == "" {
		return VoteStable
	}
	if t == acceptToken || strings.HasPrefix(t, acceptToken) || strings.HasSuffix(t, acceptToken) {
		return VoteStable
	}
	for _, word := range strings.Fields(t) {
		if strings.Trim(word, ".,!?:;\"'`()") == acceptToken {
			return VoteStable
		}
	}
	return VoteRevise
}

// collectVotes asks all three role models to judge the round's final answer.
// The three calls have no data dependency, so they fan out concurrently;
// votes are appended in fixed stage order regardless of completion order.
func (e *Engine) collectVotes(ctx context.Context, session *Session, answer string) []Vote {
	stages := []Stage{StageGenerator, StageRefiner, StageValidator}
	prompt := revisionPrompt(session.Query, answer)

	type ballot struct {
		resp    *providers.Response
		elapsed time.Duration
		err     error
	}
	ballots := make([]ballot, len(stages))

	var wg sync.WaitGroup
	for i, stage := range stages {
		wg.Add(1)
		go func(i int, stage Stage) {
			defer wg.Done()
			model := session.Profile.ModelFor(stage)
			resp, elapsed, err := e.complete(ctx, StageVote, model, prompt)
			ballots[i] = ballot{resp: resp, elapsed: elapsed, err: err}
		}(i, stage)
	}
	wg.Wait()

	// Session mutation stays on this goroutine, in fixed stage order.
	votes := make([]Vote, len(stages))
	for i, stage := range stages {
		model := session.Profile.ModelFor(stage)
		b := ballots[i]

		var content string
		if b.err != nil {
			e.logger.Warn("vote call failed, counting as stable",
				"session", session.ID, "stage", stage, "error", b.err)
		} else {
			content = b.resp.Content
			e.account(ctx, session, StageVote, model, b.resp.Usage, b.elapsed)
		}

		votes[i] = ParseVote(content)
		session.Append(Message{
			Stage:   stage,
			Model:   model,
			Content: content,
			Round:   session.Round,
			Vote:    votes[i],
		})
	}
	return votes
}

// decide applies the round-dependent policy. Before the final round only a
// unanimous STABLE settles. At the final round the priority chain is
// unanimous, then majority of at least two, then curator override; all
// three outcomes settle the session.
func decide(round, maxRounds int, votes []Vote) (ConsensusType, bool) {
	stable := 0
	for _, v := range votes {
		if v == VoteStable {
			stable++
		}
	}

	if round < maxRounds {
		if stable == len(votes) {
			return ConsensusUnanimous, true
		}
		return ConsensusNone, false
	}

	switch {
	case stable == len(votes):
		return ConsensusUnanimous, true
	case stable >= 2:
		return ConsensusMajority, true
	default:
		return ConsensusCuratorOverride, true
	}
}
