package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/adalundhe/quorum/core/memory"
	"github.com/adalundhe/quorum/core/providers"
	"github.com/adalundhe/quorum/core/store"
)

// Completer issues one completion call. The provider registry satisfies
// this; tests use scripted fakes.
type Completer interface {
	Complete(ctx context.Context, req *providers.Request) (*providers.Response, error)
}

// ContextSource assembles the memory context frame for a query.
type ContextSource interface {
	Frame(ctx context.Context, query string) memory.ContextFrame
}

// TranscriptSink persists the per-round transcript. Failures are swallowed.
type TranscriptSink interface {
	SaveTranscript(ctx context.Context, sessionID string, body []byte) error
}

// UsageSink records per-call analytics rows. Failures are swallowed.
type UsageSink interface {
	AppendUsage(ctx context.Context, r store.UsageRecord) error
}

// FragmentSink receives the query and final answer for the memory corpus.
// Failures are swallowed.
type FragmentSink interface {
	AppendFragment(ctx context.Context, f store.Fragment) error
}

const (
	DefaultCallTimeout  = 60 * time.Second
	DefaultMaxTokens    = 4096
	DefaultMaxRetries   = 2
	DefaultRetryBackoff = 500 * time.Millisecond
)

type EngineConfig struct {
	Completer Completer
	Profiles  ProfileSource

	Context     ContextSource
	Pricing     PricingSource
	Transcripts TranscriptSink
	Usage       UsageSink
	Fragments   FragmentSink
	Observer    Observer
	Logger      *slog.Logger

	CallTimeout  time.Duration
	MaxTokens    int
	Temperature  *float64
	MaxRetries   int
	RetryBackoff time.Duration
}

// Engine runs the consensus pipeline. It enforces single flight: one
// session at a time, concurrent requests are rejected with ErrBusy.
type Engine struct {
	completer   Completer
	profiles    *ProfileResolver
	contexts    ContextSource
	accountant  *Accountant
	auditor     *Auditor
	usage       UsageSink
	fragments   FragmentSink
	observer    Observer
	logger      *slog.Logger
	callTimeout time.Duration
	maxTokens   int
	temperature *float64
	maxRetries  int
	backoff     time.Duration

	busy atomic.Bool
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Completer == nil {
		return nil, fmt.Errorf("consensus: completer is required")
	}
	if cfg.Profiles == nil {
		return nil, fmt.Errorf("consensus: profile source is required")
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}

	return &Engine{
		completer:   cfg.Completer,
		profiles:    NewProfileResolver(cfg.Profiles),
		contexts:    cfg.Context,
		accountant:  NewAccountant(cfg.Pricing, cfg.Logger),
		auditor:     NewAuditor(cfg.Transcripts, cfg.Logger),
		usage:       cfg.Usage,
		fragments:   cfg.Fragments,
		observer:    cfg.Observer,
		logger:      cfg.Logger,
		callTimeout: cfg.CallTimeout,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		maxRetries:  cfg.MaxRetries,
		backoff:     cfg.RetryBackoff,
	}, nil
}

// Ask runs one query through the full pipeline and returns the finalized
// answer with accumulated usage.
func (e *Engine) Ask(ctx context.Context, req Request) (*Result, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer e.busy.Store(false)

	if strings.TrimSpace(req.Query) == "" {
		return nil, &ConfigurationError{Field: "query", Reason: "query is empty"}
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	// Profile resolution and memory retrieval are independent reads.
	frameCh := make(chan memory.ContextFrame, 1)
	go func() {
		frameCh <- e.buildFrame(ctx, req)
	}()

	profile, err := e.profiles.Resolve(ctx, req.ProfileName)
	if err != nil {
		return nil, err
	}
	frame := <-frameCh

	session := newSession(req.RequestID, req.Query, profile)

	complexity, err := e.route(ctx, session, frame)
	if err != nil {
		return nil, err
	}

	var answers roundAnswers
	if complexity == QuerySimple {
		answer, err := e.simpleAnswer(ctx, session, frame)
		if err != nil {
			return nil, err
		}
		session.Round = 1
		session.Settle(ConsensusNone)
		answers = roundAnswers{validator: answer}
	} else {
		answers, err = e.deliberate(ctx, session, frame)
		if err != nil {
			return nil, err
		}
	}

	final, err := e.curate(ctx, session, answers)
	if err != nil {
		return nil, err
	}

	e.auditor.Record(ctx, session, final)
	e.rememberExchange(ctx, session, final)

	return &Result{
		ResponseText:      final,
		TotalTokens:       session.TotalTokens,
		TotalCost:         session.TotalCost,
		RoundsCompleted:   session.Round,
		ConsensusAchieved: session.Achieved,
		ConsensusType:     session.ConsensusType,
	}, nil
}

func (e *Engine) buildFrame(ctx context.Context, req Request) memory.ContextFrame {
	var frame memory.ContextFrame
	if e.contexts != nil {
		frame = e.contexts.Frame(ctx, req.Query)
	}
	if req.PriorContext != "" {
		if frame.Summary != "" {
			frame.Summary = req.PriorContext + "\n" + frame.Summary
		} else {
			frame.Summary = req.PriorContext
		}
	}
	return frame
}

// simpleAnswer is the short path: one generator call, no deliberation.
func (e *Engine) simpleAnswer(ctx context.Context, session *Session, frame memory.ContextFrame) (string, error) {
	resp, err := e.stageCall(ctx, session, StageGenerator, 1, enhancedQuery(session.Query, frame.Summary))
	if err != nil {
		return "", err
	}
	return resp, nil
}

// complete issues one completion call with timeout and bounded retry.
// Transient failures back off and retry; the final failure is classified as
// TimeoutError or ApiError.
func (e *Engine) complete(ctx context.Context, stage Stage, model, prompt string) (*providers.Response, time.Duration, error) {
	req := &providers.Request{
		Messages:    []providers.Message{{Role: providers.RoleUser, Content: prompt}},
		Model:       model,
		MaxTokens:   e.maxTokens,
		Temperature: e.temperature,
	}

	var lastErr error
	start := time.Now()
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, time.Since(start), &TimeoutError{Stage: stage, Model: model, Err: ctx.Err()}
			case <-time.After(e.backoff * time.Duration(attempt)):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		resp, err := e.completer.Complete(callCtx, req)
		cancel()

		if err == nil {
			if resp == nil || resp.Content == "" {
				lastErr = fmt.Errorf("empty completion from %s", model)
				continue
			}
			return resp, time.Since(start), nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	elapsed := time.Since(start)
	if errors.Is(lastErr, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, elapsed, &TimeoutError{Stage: stage, Model: model, Err: lastErr}
	}
	return nil, elapsed, &ApiError{Stage: stage, Model: model, Err: lastErr}
}

// stageCall runs one pipeline stage: notify the observer, call the model,
// account usage, append the transcript message.
func (e *Engine) stageCall(ctx context.Context, session *Session, stage Stage, round int, prompt string) (string, error) {
	model := session.Profile.ModelFor(stage)

	e.observer.StageChanged(stage, StatusRunning)
	resp, elapsed, err := e.complete(ctx, stage, model, prompt)
	if err != nil {
		return "", err
	}
	e.observer.StageChanged(stage, StatusCompleted)

	e.account(ctx, session, stage, model, resp.Usage, elapsed)
	session.Append(Message{
		Stage:   stage,
		Model:   model,
		Content: resp.Content,
		Round:   round,
	})
	return resp.Content, nil
}

// account accumulates usage into the session and records an analytics row.
func (e *Engine) account(ctx context.Context, session *Session, stage Stage, model string, usage providers.Usage, elapsed time.Duration) {
	cost := e.accountant.Cost(ctx, model, usage)
	session.AddUsage(usage.InputTokens+usage.OutputTokens, cost)

	if e.usage == nil {
		return
	}
	err := e.usage.AppendUsage(ctx, store.UsageRecord{
		SessionID:    session.ID,
		Stage:        string(stage),
		Model:        model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Cost:         cost,
		Duration:     elapsed,
	})
	if err != nil {
		e.logger.Warn("usage record write failed", "session", session.ID, "error", err)
	}
}

// rememberExchange writes the query and final answer back to the corpus.
func (e *Engine) rememberExchange(ctx context.Context, session *Session, final string) {
	if e.fragments == nil {
		return
	}
	for _, f := range []store.Fragment{
		{ConversationID: session.ID, Role: "user", Content: session.Query},
		{ConversationID: session.ID, Role: "assistant", Content: final},
	} {
		if err := e.fragments.AppendFragment(ctx, f); err != nil {
			e.logger.Warn("memory write-back failed", "session", session.ID, "error", err)
			return
		}
	}
}
