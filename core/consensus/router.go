package consensus

import (
	"context"
	"strings"

	"github.com/adalundhe/quorum/core/memory"
)

// QueryComplexity is the router's classification of a query.
type QueryComplexity string

const (
	QuerySimple  QueryComplexity = "SIMPLE"
	QueryComplex QueryComplexity = "COMPLEX"
)

// route issues the single classification call using the generator model.
// Its usage counts against the session before the path decision is made.
func (e *Engine) route(ctx context.Context, session *Session, frame memory.ContextFrame) (QueryComplexity, error) {
	reply, err := e.stageCall(ctx, session, StageRouter, 0, routerPrompt(session.Query, frame.Summary))
	if err != nil {
		return "", err
	}
	return classifyReply(reply), nil
}

// classifyReply reads the router's verdict. Anything containing COMPLEX is
// complex; everything else, including garbage, falls back to simple.
func classifyReply(reply string) QueryComplexity {
	if strings.Contains(strings.ToUpper(reply), string(QueryComplex)) {
		return QueryComplex
	}
	return QuerySimple
}
