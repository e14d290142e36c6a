package consensus

import (
	"fmt"
	"strings"
)

// acceptToken is the exact token a model must lead with to accept an answer
// unchanged. Any other non-empty reply is read as a proposed revision.
const acceptToken = "ACCEPT"

const routerPromptTemplate = `Classify the user's query as SIMPLE or COMPLEX.

SIMPLE: a direct factual question, short lookup, or trivial computation that
one model can answer in a single short response.
Examples:
- "What is 2+2?"
- "What year was Go released?"
- "Convert 100 fahrenheit to celsius"

COMPLEX: a query requiring design, analysis, multi-step reasoning, code of
non-trivial size, or weighing of trade-offs.
Examples:
- "Design a caching layer with eviction and replication across regions"
- "Why does my service deadlock under load, and how do I fix it?"
- "Compare event sourcing against CRUD for an audit-heavy system"

%sQuery: %s

Reply with exactly one word: SIMPLE or COMPLEX.`

// routerPrompt builds the classification prompt, embedding the memory
// summary when one exists.
func routerPrompt(query, contextSummary string) string {
	var ctx string
	if contextSummary != "" {
		ctx = fmt.Sprintf("Prior conversation context:\n%s\n\n", contextSummary)
	}
	return fmt.Sprintf(routerPromptTemplate, ctx, query)
}

// enhancedQuery prefixes the query with the context summary for the first
// generator call and the simple path.
func enhancedQuery(query, contextSummary string) string {
	if contextSummary == "" {
		return query
	}
	return fmt.Sprintf("Relevant context from earlier conversations:\n%s\n\n%s", contextSummary, query)
}

const revisionPromptTemplate = `Original question:
%s

Current answer:
%s

Review the current answer. If it is correct and complete, respond with
exactly the single token %s and nothing else. Otherwise respond with a
corrected and improved version of the answer, with no preamble.`

// revisionPrompt is the shared contract for refine, validate, cross-round
// revision, and voting.
func revisionPrompt(question, answer string) string {
	return fmt.Sprintf(revisionPromptTemplate, question, answer, acceptToken)
}

const polishPromptTemplate = `Improve the clarity and formatting of the answer below without changing its
substance. Return only the polished answer. Do not comment on the editing,
do not describe what you changed, and do not address the reader about this
task.

Question:
%s

Answer:
%s`

func polishPrompt(question, answer string) string {
	return fmt.Sprintf(polishPromptTemplate, question, answer)
}

const synthesisPromptTemplate = `Answer the question below directly, in your own voice.

You have several pieces of reference material. Draw on whatever is useful,
but do not mention the materials, compare them, or attribute any part of
your answer to a source. Produce one coherent answer as if you were asked
the question cold.

Question:
%s

Reference material:

%s`

func synthesisPrompt(question string, answers []string) string {
	var b strings.Builder
	for i, a := range answers {
		if i > 0 {
			b.WriteString("\n---\n\n")
		}
		b.WriteString(strings.TrimSpace(a))
		b.WriteString("\n")
	}
	return fmt.Sprintf(synthesisPromptTemplate, question, b.String())
}
