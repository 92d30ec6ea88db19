// Package expression shapes candidate responses: leave-ability
// enforcement first, then tone, detail, and length. Pure string
// rewriting with no external calls, so shaping is deterministic and
// cheap to re-run.
package expression

import (
	"regexp"
	"strings"

	"github.com/mirrorlabs/mirror/core/pkg/contracts"
	"github.com/mirrorlabs/mirror/core/pkg/safety"
	"github.com/mirrorlabs/mirror/core/pkg/semantic"
)

// substitution rewrites directives into invitations. Applied
// case-insensitively; every replacement is itself a fixed point of the
// table so repeated shaping cannot drift.
type substitution struct {
	pattern *regexp.Regexp
	replace string
}

var directiveSoftening = []substitution{
	{regexp.MustCompile(`(?i)\byou should\b`), "you could"},
	{regexp.MustCompile(`(?i)\byou must\b`), "you could"},
	{regexp.MustCompile(`(?i)\byou need to\b`), "you could"},
	{regexp.MustCompile(`(?i)\byou have to\b`), "you could"},
	{regexp.MustCompile(`(?i)\byou ought to\b`), "you could"},
}

// anxietySoftening moves invitations one step further back when the
// semantic context carries a strong anxiety pattern.
var anxietySoftening = []substitution{
	{regexp.MustCompile(`(?i)\byou could\b`), "one option might be to"},
}

// necessityPhrases and exitGuiltPhrases mark sentences that get removed
// outright. Leave-ability is enforced even against the requested tone.
var necessityPhrases = regexp.MustCompile(`(?i)\b(?:you need mirror|keep using|come back soon|come back tomorrow|can't do this without)\b`)

var exitGuiltPhrases = regexp.MustCompile(`(?i)\b(?:we'll miss you|we will miss you|you'll lose progress|you will lose your progress|don't leave|are you sure you want to leave)\b`)

var hedges = regexp.MustCompile(`(?i)\b(?:perhaps|maybe|possibly|it seems like|i think)\b[ ]?`)

var emotionalIntensifiers = regexp.MustCompile(`(?i)\b(?:really|deeply|truly|incredibly|so very)\b[ ]?`)

const warmAcknowledgement = "That sounds like a lot to carry. "

// Shaper applies the expression pipeline.
type Shaper struct{}

// NewShaper creates a Shaper.
func NewShaper() *Shaper { return &Shaper{} }

// Shape rewrites candidate text under the given preferences and semantic
// context. Order matters: leave-ability, tone, detail, length, context
// softening.
func (s *Shaper) Shape(text string, prefs contracts.Preferences, ctx semantic.Context) string {
	out := enforceLeaveability(text)
	out = applyTone(out, prefs.Tone)
	out = applyDetail(out, prefs.DetailLevel)
	out = capLength(out, prefs.MaxLength)
	// Tone rewriting can uncover a directive the first pass could not see
	// ("you really should" loses its intensifier under clinical tone), so
	// leave-ability runs once more before the text leaves the shaper.
	out = enforceLeaveability(out)
	if ctx.HasStrongPattern("anxiety") {
		out = applySubstitutions(out, anxietySoftening)
	}
	return strings.TrimSpace(out)
}

// Validate scans shaped text for leave-ability violations. The shaping
// post-condition is that shaped output always validates clean.
func (s *Shaper) Validate(text string) []contracts.Violation {
	var violations []contracts.Violation
	for _, sub := range directiveSoftening {
		if m := sub.pattern.FindString(text); m != "" {
			violations = append(violations, contracts.NewViolation(
				contracts.AxiomAdvice, safety.TruncateEvidence(m), "unsoftened directive"))
		}
	}
	if m := necessityPhrases.FindString(text); m != "" {
		violations = append(violations, contracts.NewViolation(
			contracts.AxiomNecessity, safety.TruncateEvidence(m), "necessity framing"))
	}
	if m := exitGuiltPhrases.FindString(text); m != "" {
		violations = append(violations, contracts.NewViolation(
			contracts.AxiomExitFreedom, safety.TruncateEvidence(m), "exit guilt"))
	}
	return violations
}

func enforceLeaveability(text string) string {
	sentences := splitSentences(text)
	kept := sentences[:0]
	for _, sentence := range sentences {
		if necessityPhrases.MatchString(sentence) || exitGuiltPhrases.MatchString(sentence) {
			continue
		}
		kept = append(kept, sentence)
	}
	return applySubstitutions(strings.Join(kept, " "), directiveSoftening)
}

func applyTone(text string, tone contracts.Tone) string {
	switch tone {
	case contracts.ToneWarm:
		if strings.HasPrefix(text, strings.TrimSpace(warmAcknowledgement)) {
			return text
		}
		return warmAcknowledgement + text
	case contracts.ToneClinical:
		return collapseSpaces(emotionalIntensifiers.ReplaceAllString(text, ""))
	case contracts.ToneDirect:
		return collapseSpaces(hedges.ReplaceAllString(text, ""))
	default:
		return text
	}
}

func applyDetail(text string, level contracts.DetailLevel) string {
	if level != contracts.DetailBrief {
		return text
	}
	sentences := splitSentences(text)
	if len(sentences) <= 2 {
		return text
	}
	return strings.Join(sentences[:2], " ")
}

// capLength truncates at the nearest sentence boundary within the cap.
// When no boundary falls in the last 30% of the window, hard-truncate
// with an ellipsis.
func capLength(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	window := text[:max]
	boundary := -1
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == '.' || window[i] == '!' || window[i] == '?' {
			boundary = i
			break
		}
	}
	if boundary >= (max*7)/10 {
		return strings.TrimSpace(window[:boundary+1])
	}
	cut := max - 3
	for cut > 0 && text[cut]&0xC0 == 0x80 {
		cut--
	}
	return strings.TrimSpace(text[:cut]) + "..."
}

func applySubstitutions(text string, subs []substitution) string {
	for _, sub := range subs {
		text = sub.pattern.ReplaceAllString(text, sub.replace)
	}
	return text
}

var sentenceBoundary = regexp.MustCompile(`[^.!?]+[.!?]*`)

func splitSentences(text string) []string {
	parts := sentenceBoundary.FindAllString(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func collapseSpaces(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
