package consensus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/quorum/core/providers"
	"github.com/adalundhe/quorum/core/store"
)

// scriptedCompleter replays canned replies per model, FIFO. The magic
// replies <error> and <timeout> simulate call failures.
type scriptedCompleter struct {
	mu      sync.Mutex
	replies map[string][]string
	calls   []providers.Request
}

func newScripted(replies map[string][]string) *scriptedCompleter {
	return &scriptedCompleter{replies: replies}
}

func (s *scriptedCompleter) Complete(_ context.Context, req *providers.Request) (*providers.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.replies[req.Model]
	if len(queue) == 0 {
		return nil, fmt.Errorf("no scripted reply left for %s", req.Model)
	}
	reply := queue[0]
	s.replies[req.Model] = queue[1:]
	s.calls = append(s.calls, *req)

	switch reply {
	case "<error>":
		return nil, errors.New("simulated api failure")
	case "<timeout>":
		return nil, context.DeadlineExceeded
	}
	return &providers.Response{
		Content: reply,
		Model:   req.Model,
		Usage:   providers.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}, nil
}

// promptsFor returns the prompts sent to one model, in call order.
func (s *scriptedCompleter) promptsFor(model string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prompts []string
	for _, call := range s.calls {
		if call.Model == model {
			prompts = append(prompts, call.Messages[0].Content)
		}
	}
	return prompts
}

type recordingSinks struct {
	mu            sync.Mutex
	transcripts   map[string][]byte
	transcriptErr error
	usage         []store.UsageRecord
	usageErr      error
	fragments     []store.Fragment
	fragmentErr   error
}

func newRecordingSinks() *recordingSinks {
	return &recordingSinks{transcripts: make(map[string][]byte)}
}

func (r *recordingSinks) SaveTranscript(_ context.Context, sessionID string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transcriptErr != nil {
		return r.transcriptErr
	}
	r.transcripts[sessionID] = body
	return nil
}

func (r *recordingSinks) AppendUsage(_ context.Context, rec store.UsageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.usageErr != nil {
		return r.usageErr
	}
	r.usage = append(r.usage, rec)
	return nil
}

func (r *recordingSinks) AppendFragment(_ context.Context, f store.Fragment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fragmentErr != nil {
		return r.fragmentErr
	}
	r.fragments = append(r.fragments, f)
	return nil
}

type recordingObserver struct {
	mu     sync.Mutex
	rounds []int
	stages []string
}

func (r *recordingObserver) StageChanged(stage Stage, status StageStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, fmt.Sprintf("%s:%s", stage, status))
}

func (r *recordingObserver) RoundStarted(round int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rounds = append(r.rounds, round)
}

func testProfile() *store.Profile {
	return &store.Profile{
		ID:             "p1",
		Name:           "balanced",
		GeneratorModel: "g-model",
		RefinerModel:   "r-model",
		ValidatorModel: "v-model",
		CuratorModel:   "c-model",
		MaxRounds:      3,
	}
}

func newTestEngine(t *testing.T, completer Completer, sinks *recordingSinks, obs Observer) *Engine {
	t.Helper()
	cfg := EngineConfig{
		Completer:  completer,
		Profiles:   &fakeProfiles{active: testProfile()},
		Observer:   obs,
		MaxRetries: -1,
	}
	if sinks != nil {
		cfg.Transcripts = sinks
		cfg.Usage = sinks
		cfg.Fragments = sinks
	}
	engine, err := NewEngine(cfg)
	require.NoError(t, err)
	return engine
}

func TestUnanimousBeforeFinalRound(t *testing.T) {
	// Scenario: vote fails round one, all three accept in round two.
	completer := newScripted(map[string][]string{
		"g-model": {"COMPLEX", "g1", "Needs more detail on failure modes", "ACCEPT", "ACCEPT"},
		"r-model": {"r1", "ACCEPT", "ACCEPT", "ACCEPT"},
		"v-model": {"v1", "ACCEPT", "ACCEPT", "ACCEPT"},
		"c-model": {"polished answer"},
	})
	obs := &recordingObserver{}
	engine := newTestEngine(t, completer, newRecordingSinks(), obs)

	result, err := engine.Ask(context.Background(), Request{Query: "explain raft leader election"})
	require.NoError(t, err)

	assert.Equal(t, 2, result.RoundsCompleted)
	assert.True(t, result.ConsensusAchieved)
	assert.Equal(t, ConsensusUnanimous, result.ConsensusType)
	assert.Equal(t, "polished answer", result.ResponseText)
	assert.Equal(t, []int{1, 2}, obs.rounds)

	// Polish mode over the carried round-two validator answer.
	curatorPrompts := completer.promptsFor("c-model")
	require.Len(t, curatorPrompts, 1)
	assert.Contains(t, curatorPrompts[0], "v1")
	assert.NotContains(t, curatorPrompts[0], "Reference material")
}

func TestMajorityAtFinalRound(t *testing.T) {
	completer := newScripted(map[string][]string{
		"g-model": {"COMPLEX", "g1", "Needs revision", "g2", "Needs revision", "g3", "ACCEPT"},
		"r-model": {"r1", "Needs revision", "r2", "Needs revision", "r3", "ACCEPT"},
		"v-model": {"v1", "Needs revision", "v2", "Needs revision", "v3", "Still wrong on consistency"},
		"c-model": {"polished final"},
	})
	engine := newTestEngine(t, completer, newRecordingSinks(), NopObserver{})

	result, err := engine.Ask(context.Background(), Request{Query: "design a distributed lock"})
	require.NoError(t, err)

	assert.Equal(t, 3, result.RoundsCompleted)
	assert.True(t, result.ConsensusAchieved)
	assert.Equal(t, ConsensusMajority, result.ConsensusType)
	assert.Equal(t, "polished final", result.ResponseText)

	curatorPrompts := completer.promptsFor("c-model")
	require.Len(t, curatorPrompts, 1)
	assert.Contains(t, curatorPrompts[0], "v3")
}

func TestCuratorOverrideAtFinalRound(t *testing.T) {
	completer := newScripted(map[string][]string{
		"g-model": {"COMPLEX", "g1", "Needs revision", "g2", "Needs revision", "g3", "Needs revision"},
		"r-model": {"r1", "Needs revision", "r2", "Needs revision", "r3", "Needs revision"},
		"v-model": {"v1", "Needs revision", "v2", "Needs revision", "v3", "Needs revision"},
		"c-model": {"synthesized answer"},
	})
	engine := newTestEngine(t, completer, newRecordingSinks(), NopObserver{})

	result, err := engine.Ask(context.Background(), Request{Query: "design a cache"})
	require.NoError(t, err)

	assert.Equal(t, 3, result.RoundsCompleted)
	assert.Equal(t, ConsensusCuratorOverride, result.ConsensusType)
	assert.True(t, result.ConsensusAchieved)
	assert.Equal(t, "synthesized answer", result.ResponseText)
	assert.NotContains(t, result.ResponseText, "Reference 1")

	// Synthesis mode gets all three final-round answers, unlabeled.
	curatorPrompts := completer.promptsFor("c-model")
	require.Len(t, curatorPrompts, 1)
	for _, answer := range []string{"g3", "r3", "v3"} {
		assert.Contains(t, curatorPrompts[0], answer)
	}
	assert.NotContains(t, curatorPrompts[0], "Reference 1")
}

func TestSimplePath(t *testing.T) {
	completer := newScripted(map[string][]string{
		"g-model": {"SIMPLE", "4"},
		"c-model": {"The answer is 4."},
	})
	engine := newTestEngine(t, completer, newRecordingSinks(), NopObserver{})

	result, err := engine.Ask(context.Background(), Request{Query: "What is 2+2?"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.RoundsCompleted)
	assert.True(t, result.ConsensusAchieved)
	assert.Equal(t, ConsensusNone, result.ConsensusType)
	assert.Equal(t, "The answer is 4.", result.ResponseText)
}

func TestRouterClassification(t *testing.T) {
	assert.Equal(t, QuerySimple, classifyReply("SIMPLE"))
	assert.Equal(t, QueryComplex, classifyReply("COMPLEX"))
	assert.Equal(t, QueryComplex, classifyReply("This looks complex to me"))
	assert.Equal(t, QuerySimple, classifyReply("unintelligible"))

	// The fixed regression pair lives in the classification prompt examples.
	prompt := routerPrompt("anything", "")
	assert.Contains(t, prompt, "What is 2+2?")
	assert.Contains(t, prompt, "Design a caching layer with eviction and replication across regions")
}

func TestSingleFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 8)
	gated := &gatedCompleter{release: release, started: started}
	engine := newTestEngine(t, gated, nil, NopObserver{})

	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := engine.Ask(context.Background(), Request{Query: "first"})
		done <- outcome{result, err}
	}()
	<-started

	_, err := engine.Ask(context.Background(), Request{Query: "second"})
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	first := <-done
	require.NoError(t, first.err)
	assert.NotEmpty(t, first.result.ResponseText)
}

type gatedCompleter struct {
	release chan struct{}
	started chan struct{}
}

func (g *gatedCompleter) Complete(_ context.Context, req *providers.Request) (*providers.Response, error) {
	g.started <- struct{}{}
	<-g.release
	return &providers.Response{
		Content: "SIMPLE",
		Model:   req.Model,
		Usage:   providers.Usage{InputTokens: 1, OutputTokens: 1, TotalTokens: 2},
	}, nil
}

func TestStageFailureAbortsSession(t *testing.T) {
	completer := newScripted(map[string][]string{
		"g-model": {"COMPLEX", "g1"},
		"r-model": {"<error>"},
	})
	engine := newTestEngine(t, completer, newRecordingSinks(), NopObserver{})

	result, err := engine.Ask(context.Background(), Request{Query: "q"})
	assert.Nil(t, result)

	var apiErr *ApiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, StageRefiner, apiErr.Stage)
	assert.Equal(t, "r-model", apiErr.Model)
}

func TestTimeoutClassification(t *testing.T) {
	completer := newScripted(map[string][]string{
		"g-model": {"<timeout>"},
	})
	engine := newTestEngine(t, completer, newRecordingSinks(), NopObserver{})

	_, err := engine.Ask(context.Background(), Request{Query: "q"})
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, StageRouter, timeoutErr.Stage)
}

func TestVoteFailureCountsAsStable(t *testing.T) {
	completer := newScripted(map[string][]string{
		"g-model": {"COMPLEX", "g1", "<error>"},
		"r-model": {"r1", "ACCEPT"},
		"v-model": {"v1", "ACCEPT"},
		"c-model": {"done"},
	})
	engine := newTestEngine(t, completer, newRecordingSinks(), NopObserver{})

	result, err := engine.Ask(context.Background(), Request{Query: "q"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.RoundsCompleted)
	assert.Equal(t, ConsensusUnanimous, result.ConsensusType)
}

func TestAuditAndAnalyticsFailuresAreSwallowed(t *testing.T) {
	completer := newScripted(map[string][]string{
		"g-model": {"SIMPLE", "answer"},
		"c-model": {"final"},
	})
	sinks := newRecordingSinks()
	sinks.transcriptErr = errors.New("disk full")
	sinks.usageErr = errors.New("disk full")
	sinks.fragmentErr = errors.New("disk full")
	engine := newTestEngine(t, completer, sinks, NopObserver{})

	result, err := engine.Ask(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, "final", result.ResponseText)
}

func TestEmptyQueryRejected(t *testing.T) {
	engine := newTestEngine(t, newScripted(nil), nil, NopObserver{})

	_, err := engine.Ask(context.Background(), Request{Query: "   "})
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestTotalsMatchPerCallSums(t *testing.T) {
	rates := map[string]store.ModelPricing{
		"g-model": {Model: "g-model", InputRate: 0.000001, OutputRate: 0.000002},
		"r-model": {Model: "r-model", InputRate: 0.000003, OutputRate: 0.000004},
		"v-model": {Model: "v-model", InputRate: 0.000005, OutputRate: 0.000006},
		"c-model": {Model: "c-model", InputRate: 0.000007, OutputRate: 0.000008},
	}
	completer := newScripted(map[string][]string{
		"g-model": {"COMPLEX", "g1", "Needs revision", "g2", "Needs revision", "g3", "ACCEPT"},
		"r-model": {"r1", "Needs revision", "r2", "Needs revision", "r3", "ACCEPT"},
		"v-model": {"v1", "Needs revision", "v2", "Needs revision", "v3", "ACCEPT"},
		"c-model": {"final"},
	})
	sinks := newRecordingSinks()
	engine, err := NewEngine(EngineConfig{
		Completer:   completer,
		Profiles:    &fakeProfiles{active: testProfile()},
		Pricing:     &fakePricing{rows: rates},
		Usage:       sinks,
		Transcripts: sinks,
		MaxRetries:  -1,
	})
	require.NoError(t, err)

	result, err := engine.Ask(context.Background(), Request{Query: "q"})
	require.NoError(t, err)

	// Every call used 10 input and 5 output tokens.
	var wantCost float64
	for _, call := range completer.calls {
		r := rates[call.Model]
		wantCost += 10*r.InputRate + 5*r.OutputRate
	}
	assert.InDelta(t, wantCost, result.TotalCost, 1e-12)
	assert.Equal(t, 15*len(completer.calls), result.TotalTokens)
	assert.Len(t, sinks.usage, len(completer.calls))
}

func TestTranscriptRecordsVotes(t *testing.T) {
	completer := newScripted(map[string][]string{
		"g-model": {"COMPLEX", "g1", "ACCEPT"},
		"r-model": {"r1", "ACCEPT"},
		"v-model": {"v1", "ACCEPT"},
		"c-model": {"final"},
	})
	sinks := newRecordingSinks()
	engine := newTestEngine(t, completer, sinks, NopObserver{})

	_, err := engine.Ask(context.Background(), Request{Query: "q", RequestID: "req-1"})
	require.NoError(t, err)

	body, ok := sinks.transcripts["req-1"]
	require.True(t, ok)
	text := string(body)
	assert.Contains(t, text, `"consensus_type":"unanimous"`)
	assert.Contains(t, text, `"vote":"STABLE"`)

	// The exchange is written back to the memory corpus.
	require.Len(t, sinks.fragments, 2)
	assert.Equal(t, "user", sinks.fragments[0].Role)
	assert.Equal(t, "assistant", sinks.fragments[1].Role)
}

func TestPriorContextFlowsIntoPrompts(t *testing.T) {
	completer := newScripted(map[string][]string{
		"g-model": {"SIMPLE", "answer"},
		"c-model": {"final"},
	})
	engine := newTestEngine(t, completer, nil, NopObserver{})

	_, err := engine.Ask(context.Background(), Request{
		Query:        "continue the design",
		PriorContext: "We settled on write-through caching earlier.",
	})
	require.NoError(t, err)

	prompts := completer.promptsFor("g-model")
	require.Len(t, prompts, 2)
	for _, p := range prompts {
		assert.True(t, strings.Contains(p, "write-through caching"))
	}
}
