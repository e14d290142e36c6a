// Package consensus implements the multi-model deliberation engine: a query
// is routed as simple or complex, complex queries run bounded rounds of
// generate, refine, and validate, the three role models vote on the round's
// answer, and a curator finalizes the result.
package consensus

import (
	"time"
)

// Stage names the pipeline step a completion call belongs to.
type Stage string

const (
	StageRouter    Stage = "router"
	StageGenerator Stage = "generator"
	StageRefiner   Stage = "refiner"
	StageValidator Stage = "validator"
	StageCurator   Stage = "curator"
	StageVote      Stage = "vote"
)

// StageStatus is the lifecycle of a stage as reported to the observer.
type StageStatus string

const (
	StatusReady     StageStatus = "ready"
	StatusRunning   StageStatus = "running"
	StatusCompleted StageStatus = "completed"
)

// Vote is one role model's judgment on a round's final answer.
type Vote string

const (
	// VoteStable means the model accepted the answer as correct and complete.
	VoteStable Vote = "STABLE"
	// VoteRevise means the model supplied a correction instead of accepting.
	VoteRevise Vote = "REVISE"
)

// ConsensusType records how agreement was reached.
type ConsensusType string

const (
	ConsensusNone            ConsensusType = "none"
	ConsensusUnanimous       ConsensusType = "unanimous"
	ConsensusMajority        ConsensusType = "majority"
	ConsensusCuratorOverride ConsensusType = "curator_override"
)

// Profile binds the four deliberation roles to model identifiers and caps
// the round count. Immutable once resolved for a session.
type Profile struct {
	Name           string
	GeneratorModel string
	RefinerModel   string
	ValidatorModel string
	CuratorModel   string
	MaxRounds      int
}

// DefaultMaxRounds applies when a profile row carries no round ceiling.
const DefaultMaxRounds = 3

// ModelFor returns the model bound to a deliberation stage.
func (p Profile) ModelFor(stage Stage) string {
	switch stage {
	case StageGenerator, StageRouter:
		return p.GeneratorModel
	case StageRefiner:
		return p.RefinerModel
	case StageValidator:
		return p.ValidatorModel
	case StageCurator:
		return p.CuratorModel
	}
	return ""
}

// Message is one utterance in a session's deliberation transcript.
type Message struct {
	Stage     Stage     `json:"stage"`
	Model     string    `json:"model"`
	Content   string    `json:"content"`
	Round     int       `json:"round"`
	Vote      Vote      `json:"vote,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the mutable record of one query's deliberation. It is created
// per request, owned exclusively by that request, and discarded once the
// result is returned. It is never shared between requests.
type Session struct {
	ID            string
	Query         string
	Profile       Profile
	Messages      []Message
	Round         int
	Achieved      bool
	ConsensusType ConsensusType
	TotalTokens   int
	TotalCost     float64
	StartedAt     time.Time
}

func newSession(id, query string, profile Profile) *Session {
	return &Session{
		ID:            id,
		Query:         query,
		Profile:       profile,
		ConsensusType: ConsensusNone,
		StartedAt:     time.Now().UTC(),
	}
}

// BeginRound advances to the next round. Rounds start at 1 and only move
// forward.
func (s *Session) BeginRound() int {
	s.Round++
	return s.Round
}

// Append records a message on the transcript. The list is append-only.
func (s *Session) Append(m Message) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.Messages = append(s.Messages, m)
}

// AddUsage accumulates tokens and cost. Totals never decrease.
func (s *Session) AddUsage(tokens int, cost float64) {
	if tokens > 0 {
		s.TotalTokens += tokens
	}
	if cost > 0 {
		s.TotalCost += cost
	}
}

// Settle marks consensus achieved with the given type. The flag transitions
// false to true exactly once; later calls are ignored.
func (s *Session) Settle(ct ConsensusType) {
	if s.Achieved {
		return
	}
	s.Achieved = true
	s.ConsensusType = ct
}

// LastContent returns the newest message content for a stage in a round, or
// empty when the stage never spoke.
func (s *Session) LastContent(stage Stage, round int) string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m.Stage == stage && m.Round == round {
			return m.Content
		}
	}
	return ""
}

// Request is one consensus query submitted to the engine.
type Request struct {
	Query        string
	ProfileName  string
	RequestID    string
	PriorContext string
}

// Result is the engine's answer to a request.
type Result struct {
	ResponseText      string
	TotalTokens       int
	TotalCost         float64
	RoundsCompleted   int
	ConsensusAchieved bool
	ConsensusType     ConsensusType
}
