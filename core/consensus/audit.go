package consensus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Auditor persists the full per-round transcript. Audit failures are logged
// and swallowed; they never alter the user-facing result.
type Auditor struct {
	sink   TranscriptSink
	logger *slog.Logger
}

func NewAuditor(sink TranscriptSink, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{sink: sink, logger: logger}
}

type transcript struct {
	SessionID       string        `json:"session_id"`
	Query           string        `json:"query"`
	Profile         string        `json:"profile"`
	RoundsCompleted int           `json:"rounds_completed"`
	ConsensusType   ConsensusType `json:"consensus_type"`
	FinalAnswer     string        `json:"final_answer"`
	TotalTokens     int           `json:"total_tokens"`
	TotalCost       float64       `json:"total_cost"`
	StartedAt       time.Time     `json:"started_at"`
	Messages        []Message     `json:"messages"`
}

// Record writes the session transcript keyed by session id.
func (a *Auditor) Record(ctx context.Context, session *Session, final string) {
	if a.sink == nil {
		return
	}

	body, err := json.Marshal(transcript{
		SessionID:       session.ID,
		Query:           session.Query,
		Profile:         session.Profile.Name,
		RoundsCompleted: session.Round,
		ConsensusType:   session.ConsensusType,
		FinalAnswer:     final,
		TotalTokens:     session.TotalTokens,
		TotalCost:       session.TotalCost,
		StartedAt:       session.StartedAt,
		Messages:        session.Messages,
	})
	if err != nil {
		a.logger.Warn("transcript encode failed", "session", session.ID, "error", err)
		return
	}

	if err := a.sink.SaveTranscript(ctx, session.ID, body); err != nil {
		a.logger.Warn("transcript write failed", "session", session.ID, "error", err)
	}
}
