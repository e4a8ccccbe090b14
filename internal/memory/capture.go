package memory

import (
	"regexp"
	"strings"

	"github.com/driftware/recall/internal/models"
)

const (
	minCaptureLen        = 10
	maxCaptureLen        = 500
	maxCandidatesPerTurn = 3
	explicitImportance   = 0.9
)

// rememberPhrases matches imperative "remember"-class openings across the
// locales the assistant ships in. The matched prefix is stripped before
// storing.
var rememberPhrases = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(please\s+)?remember\s+(that\s+)?`),
	regexp.MustCompile(`(?i)^(please\s+)?(don'?t|do not)\s+forget\s+(that\s+)?`),
	regexp.MustCompile(`(?i)^keep\s+in\s+mind\s+(that\s+)?`),
	regexp.MustCompile(`(?i)^(bitte\s+)?merk(e)?\s+dir,?\s+(dass\s+)?`),
	regexp.MustCompile(`(?i)^vergiss\s+nicht,?\s+(dass\s+)?`),
	regexp.MustCompile(`(?i)^(rappelle|souviens)-toi\s+(que\s+)?`),
	regexp.MustCompile(`(?i)^n'oublie\s+pas\s+(que\s+)?`),
	regexp.MustCompile(`(?i)^recuerda\s+(que\s+)?`),
	regexp.MustCompile(`(?i)^no\s+olvides\s+(que\s+)?`),
	regexp.MustCompile(`(?i)^ricorda(ti)?\s+(che\s+)?`),
}

// antiPatterns rejects text that looks like a memory rather than being one:
// injected recall blocks echoed back, bare acknowledgements, and pure
// numbers.
var antiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\[?(relevant\s+)?memor(y|ies)\b`),
	regexp.MustCompile(`(?i)^(here('s| is) what i remember|i (will|'ll) remember)`),
	regexp.MustCompile(`(?i)^(ok(ay)?|yes|no|sure|thanks?|thank you|got it|sounds good)[.!]?$`),
	regexp.MustCompile(`^[\d\s.,:-]+$`),
}

var (
	preferenceWords = regexp.MustCompile(`(?i)\b(like|likes|love|loves|prefer|prefers|favorite|favourite|hate|hates|dislike|dislikes)\b`)
	decisionWords   = regexp.MustCompile(`(?i)\b(decided|decision|from now on|going forward|we will|i will always|agreed)\b`)
	entityPattern   = regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.]+|\+?\d[\d\s()./-]{6,}\d`)
	temporalWords   = regexp.MustCompile(`(?i)\b(today|yesterday|tomorrow|tonight|this (week|month|morning|evening)|currently|right now|at the moment)\b`)
)

// Candidate is a memory extracted from a conversation turn.
type Candidate struct {
	Text       string
	Category   models.Category
	Importance float64
}

// ExtractExplicit scans user-authored turns for explicit remember commands
// and returns at most three validated candidates per turn.
func ExtractExplicit(messages []models.ChatMessage) []Candidate {
	var out []Candidate
	for _, msg := range messages {
		if !strings.EqualFold(msg.Role, "user") {
			continue
		}
		perTurn := 0
		for _, sentence := range splitSentences(msg.Content) {
			if perTurn >= maxCandidatesPerTurn {
				break
			}
			text, ok := matchRememberPhrase(sentence)
			if !ok {
				continue
			}
			if !validCandidate(text) {
				continue
			}
			out = append(out, Candidate{
				Text:       text,
				Category:   Categorize(text),
				Importance: explicitImportance,
			})
			perTurn++
		}
	}
	return out
}

func matchRememberPhrase(sentence string) (string, bool) {
	s := strings.TrimSpace(sentence)
	for _, re := range rememberPhrases {
		if loc := re.FindStringIndex(s); loc != nil {
			rest := strings.TrimSpace(s[loc[1]:])
			return strings.TrimRight(rest, ".!"), true
		}
	}
	return "", false
}

// validCandidate applies the length bound and anti-pattern filter.
func validCandidate(text string) bool {
	if len(text) < minCaptureLen || len(text) > maxCaptureLen {
		return false
	}
	for _, re := range antiPatterns {
		if re.MatchString(text) {
			return false
		}
	}
	return true
}

// Categorize assigns a category from keyword heuristics: preference and
// decision words, contact-info patterns for entities, temporal words for
// observations, else fact.
func Categorize(text string) models.Category {
	switch {
	case preferenceWords.MatchString(text):
		return models.CategoryPreference
	case decisionWords.MatchString(text):
		return models.CategoryDecision
	case entityPattern.MatchString(text):
		return models.CategoryEntity
	case temporalWords.MatchString(text):
		return models.CategoryObservation
	default:
		return models.CategoryFact
	}
}

// sentenceBoundary splits on terminal punctuation followed by whitespace,
// or on newlines, so dotted tokens like email addresses stay intact.
var sentenceBoundary = regexp.MustCompile(`[.!?]+\s+|\n+`)

func splitSentences(text string) []string {
	parts := sentenceBoundary.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
