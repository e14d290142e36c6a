package memory

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ContextFrame is the condensed view of retrieved memories handed to the
// consensus engine: a short natural-language summary plus topic and intent
// tags extracted from the fragments.
type ContextFrame struct {
	Summary  string
	Topics   []string
	Patterns []string
}

// Empty reports whether the frame carries no usable context.
func (f ContextFrame) Empty() bool {
	return f.Summary == "" && len(f.Topics) == 0 && len(f.Patterns) == 0
}

const (
	maxSummaryItems  = 5
	verbatimItems    = 2
	verbatimMaxChars = 200
	truncatedChars   = 100
)

// topicVocabulary is the fixed keyword set matched against fragment content.
// Languages, frameworks, and API/database terms.
var topicVocabulary = []string{
	"go", "golang", "python", "rust", "javascript", "typescript", "java",
	"react", "vue", "django", "flask", "spring", "node",
	"docker", "kubernetes", "terraform", "aws", "gcp", "azure",
	"sql", "postgres", "postgresql", "mysql", "sqlite", "mongodb", "redis",
	"database", "api", "rest", "graphql", "grpc", "http", "websocket",
	"cache", "queue", "kafka", "auth", "oauth", "jwt",
}

var wordBoundaries = regexp.MustCompile(`[a-z0-9+#.]+`)

// patternMatchers detect the intent of a fragment.
var patternMatchers = []struct {
	tag string
	re  *regexp.Regexp
}{
	{"question", regexp.MustCompile(`(?i)(^\s*(what|how|why|when|where|who|which|can|could|should|does|do|is|are)\b|\?)`)},
	{"code", regexp.MustCompile(`(?i)\b(code|function|class|method|variable|compile|syntax|struct|interface|import)\b`)},
	{"creation", regexp.MustCompile(`(?i)\b(create|build|implement|design|generate|write|scaffold|add)\b`)},
	{"debugging", regexp.MustCompile(`(?i)\b(debug|fix|bug|error|exception|crash|broken|fail(s|ed|ing)?|stack\s*trace)\b`)},
	{"optimization", regexp.MustCompile(`(?i)\b(optimi[sz]e|optimi[sz]ation|performance|faster|slow|latency|throughput|efficient|profil(e|ing))\b`)},
}

// BuildFrame condenses memories into a context frame. Memories are taken
// newest first: the freshest items appear near-verbatim, older ones
// truncated. An empty input yields an empty frame.
func BuildFrame(memories []Memory) ContextFrame {
	if len(memories) == 0 {
		return ContextFrame{}
	}

	ordered := make([]Memory, len(memories))
	copy(ordered, memories)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.After(ordered[j].CreatedAt)
	})

	if len(ordered) > maxSummaryItems {
		ordered = ordered[:maxSummaryItems]
	}

	var lines []string
	for i, m := range ordered {
		content := strings.TrimSpace(m.Content)
		if i < verbatimItems {
			lines = append(lines, fmt.Sprintf("Recently discussed: %s", clip(content, verbatimMaxChars)))
		} else {
			lines = append(lines, fmt.Sprintf("Earlier: %s", clip(content, truncatedChars)))
		}
	}

	return ContextFrame{
		Summary:  strings.Join(lines, "\n"),
		Topics:   ExtractTopics(memories),
		Patterns: ExtractPatterns(memories),
	}
}

// ExtractTopics matches fragment content against the fixed vocabulary.
func ExtractTopics(memories []Memory) []string {
	seen := make(map[string]bool)
	var topics []string

	for _, m := range memories {
		words := make(map[string]bool)
		for _, w := range wordBoundaries.FindAllString(strings.ToLower(m.Content), -1) {
			words[w] = true
		}
		for _, topic := range topicVocabulary {
			if words[topic] && !seen[topic] {
				seen[topic] = true
				topics = append(topics, topic)
			}
		}
	}

	sort.Strings(topics)
	return topics
}

// ExtractPatterns classifies fragment intent with regex heuristics.
func ExtractPatterns(memories []Memory) []string {
	seen := make(map[string]bool)
	var patterns []string

	for _, m := range memories {
		for _, pm := range patternMatchers {
			if !seen[pm.tag] && pm.re.MatchString(m.Content) {
				seen[pm.tag] = true
				patterns = append(patterns, pm.tag)
			}
		}
	}

	sort.Strings(patterns)
	return patterns
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	clipped := s[:max]
	if idx := strings.LastIndex(clipped, " "); idx > max/2 {
		clipped = clipped[:idx]
	}
	return clipped + "..."
}
