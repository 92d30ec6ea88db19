// Package semantic derives patterns and tensions from the current
// reflection plus history. Everything here is deterministic: identical
// inputs produce identical contexts, with timestamps used for ordering
// only.
package semantic

import (
	"regexp"
	"sort"
	"strings"

	"github.com/mirrorlabs/mirror/core/pkg/contracts"
)

const (
	maxContextsPerPattern = 3
	maxContextLength      = 80

	// Opposing emotions below this confidence are noise, not tension.
	tensionConfidenceThreshold = 0.5
)

// Context is the semantic layer's output for one pipeline run.
type Context struct {
	Patterns          []contracts.Pattern `json:"patterns"`
	Tensions          []contracts.Tension `json:"tensions"`
	RecurringThemes   []string            `json:"recurring_themes"`
	EmotionalBaseline string              `json:"emotional_baseline"`
	Metadata          map[string]any      `json:"metadata"`
}

// HasStrongPattern reports whether a pattern with the given name reached
// strong strength.
func (c Context) HasStrongPattern(name string) bool {
	for _, p := range c.Patterns {
		if p.Name == name && p.Strength == contracts.StrengthStrong {
			return true
		}
	}
	return false
}

// Analyzer runs the emotion, topic, and behavior detectors plus the
// tension mappers.
type Analyzer struct{}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer() *Analyzer { return &Analyzer{} }

type occurrence struct {
	pattern  contracts.Pattern
	key      patternKey
	baseline int // occurrences within history only
}

type patternKey struct {
	Type contracts.PatternType
	Name string
}

// Analyze folds current and history into a semantic context. History is
// expected in chronological order with current as the latest utterance.
func (a *Analyzer) Analyze(current contracts.Reflection, history []contracts.Reflection) Context {
	utterances := append(append([]contracts.Reflection{}, history...), current)

	counts := make(map[patternKey]*occurrence)
	tokenTotal := 0
	for i, u := range utterances {
		tokens := Tokenize(u.Content)
		tokenTotal += len(tokens)
		seen := make(map[patternKey]bool)
		for _, tok := range tokens {
			for _, hit := range classify(tok) {
				occ, ok := counts[hit]
				if !ok {
					occ = &occurrence{
						key: hit,
						pattern: contracts.Pattern{
							Type:      hit.Type,
							Name:      hit.Name,
							FirstSeen: u.Timestamp.UTC(),
						},
					}
					counts[hit] = occ
				}
				occ.pattern.Occurrences++
				occ.pattern.LastSeen = u.Timestamp.UTC()
				if i < len(history) {
					occ.baseline++
				}
				if !seen[hit] && len(occ.pattern.Contexts) < maxContextsPerPattern {
					occ.pattern.Contexts = append(occ.pattern.Contexts, clip(u.Content, maxContextLength))
					seen[hit] = true
				}
			}
		}
	}

	ctx := Context{
		Metadata: map[string]any{
			"utterance_count": len(utterances),
			"token_count":     tokenTotal,
		},
	}

	keys := make([]patternKey, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].Name < keys[j].Name
	})
	for _, k := range keys {
		occ := counts[k]
		occ.pattern.Confidence = confidenceFor(occ.pattern.Occurrences)
		occ.pattern.Strength = contracts.StrengthFor(occ.pattern.Occurrences)
		if occ.pattern.Occurrences >= 2 {
			ctx.Patterns = append(ctx.Patterns, occ.pattern)
		}
	}

	ctx.RecurringThemes = recurringThemes(ctx.Patterns)
	ctx.EmotionalBaseline = baselineEmotion(counts)
	ctx.Tensions = detectTensions(ctx.Patterns, utterances)
	return ctx
}

func classify(token string) []patternKey {
	var hits []patternKey
	if name, ok := emotionVocabulary[token]; ok {
		hits = append(hits, patternKey{contracts.PatternEmotion, name})
	}
	if name, ok := topicVocabulary[token]; ok {
		hits = append(hits, patternKey{contracts.PatternTopic, name})
	}
	if name, ok := behaviorStems[Stem(token)]; ok {
		hits = append(hits, patternKey{contracts.PatternBehavior, name})
	}
	return hits
}

func recurringThemes(patterns []contracts.Pattern) []string {
	var topics []contracts.Pattern
	for _, p := range patterns {
		if p.Type == contracts.PatternTopic {
			topics = append(topics, p)
		}
	}
	sort.Slice(topics, func(i, j int) bool {
		if topics[i].Occurrences != topics[j].Occurrences {
			return topics[i].Occurrences > topics[j].Occurrences
		}
		return topics[i].Name < topics[j].Name
	})
	themes := make([]string, 0, len(topics))
	for _, p := range topics {
		themes = append(themes, p.Name)
	}
	return themes
}

// baselineEmotion is the dominant emotion across history alone, so the
// current utterance cannot move its own baseline.
func baselineEmotion(counts map[patternKey]*occurrence) string {
	best := ""
	bestCount := 0
	for k, occ := range counts {
		if k.Type != contracts.PatternEmotion || occ.baseline == 0 {
			continue
		}
		if occ.baseline > bestCount || (occ.baseline == bestCount && k.Name < best) {
			best = k.Name
			bestCount = occ.baseline
		}
	}
	return best
}

var (
	intentionPattern = regexp.MustCompile(`(?i)\bi (?:should|need to|have to) ([a-z']+)`)
	temporalPattern  = regexp.MustCompile(`(?i)\bused to\b.*\b(?:now|these days|anymore)\b`)
	valuePattern     = regexp.MustCompile(`(?i)\bi (?:value|believe in|care about)\b.*\b(?:but|yet|however)\b`)
	contrastPattern  = regexp.MustCompile(`(?i)\b(?:but|however|on the other hand)\b`)
)

func detectTensions(patterns []contracts.Pattern, utterances []contracts.Reflection) []contracts.Tension {
	var tensions []contracts.Tension
	tensions = append(tensions, emotionalTensions(patterns)...)
	tensions = append(tensions, behavioralTensions(utterances)...)
	tensions = append(tensions, markerTensions(utterances)...)
	return tensions
}

func emotionalTensions(patterns []contracts.Pattern) []contracts.Tension {
	byName := make(map[string]contracts.Pattern)
	for _, p := range patterns {
		if p.Type == contracts.PatternEmotion {
			byName[p.Name] = p
		}
	}
	var tensions []contracts.Tension
	for _, pair := range opposingEmotions {
		a, okA := byName[pair[0]]
		b, okB := byName[pair[1]]
		if !okA || !okB {
			continue
		}
		if a.Confidence < tensionConfidenceThreshold || b.Confidence < tensionConfidenceThreshold {
			continue
		}
		tensions = append(tensions, contracts.Tension{
			Type:        contracts.TensionEmotional,
			Description: pair[0] + " pulling against " + pair[1],
			Severity:    (a.Confidence + b.Confidence) / 2,
			Evidence:    []string{pair[0], pair[1]},
		})
	}
	return tensions
}

// behavioralTensions flags stated intentions with no matching action in
// any later utterance.
func behavioralTensions(utterances []contracts.Reflection) []contracts.Tension {
	var tensions []contracts.Tension
	flagged := make(map[string]bool)
	for i, u := range utterances {
		for _, m := range intentionPattern.FindAllStringSubmatch(u.Content, -1) {
			verb := Stem(m[1])
			if verb == "" || flagged[verb] {
				continue
			}
			acted := false
			for _, later := range utterances[i+1:] {
				for _, tok := range Tokenize(later.Content) {
					if stemsMatch(Stem(tok), verb) {
						acted = true
						break
					}
				}
				if acted {
					break
				}
			}
			if !acted {
				flagged[verb] = true
				tensions = append(tensions, contracts.Tension{
					Type:        contracts.TensionBehavioral,
					Description: "stated intention without follow-through: " + m[1],
					Severity:    0.5,
					Evidence:    []string{clip(u.Content, maxContextLength)},
				})
			}
		}
	}
	return tensions
}

func markerTensions(utterances []contracts.Reflection) []contracts.Tension {
	var tensions []contracts.Tension
	seen := make(map[contracts.TensionType]bool)
	for _, u := range utterances {
		if !seen[contracts.TensionTemporal] && temporalPattern.MatchString(u.Content) {
			seen[contracts.TensionTemporal] = true
			tensions = append(tensions, contracts.Tension{
				Type:        contracts.TensionTemporal,
				Description: "past self contrasted with present self",
				Severity:    0.4,
				Evidence:    []string{clip(u.Content, maxContextLength)},
			})
		}
		if !seen[contracts.TensionValue] && valuePattern.MatchString(u.Content) {
			seen[contracts.TensionValue] = true
			tensions = append(tensions, contracts.Tension{
				Type:        contracts.TensionValue,
				Description: "stated value contradicted in the same breath",
				Severity:    0.5,
				Evidence:    []string{clip(u.Content, maxContextLength)},
			})
		}
		if !seen[contracts.TensionContradiction] && explicitContradiction(u.Content) {
			seen[contracts.TensionContradiction] = true
			tensions = append(tensions, contracts.Tension{
				Type:        contracts.TensionContradiction,
				Description: "opposing feelings stated in one utterance",
				Severity:    0.6,
				Evidence:    []string{clip(u.Content, maxContextLength)},
			})
		}
	}
	return tensions
}

// explicitContradiction fires when a contrast marker joins two opposing
// emotion words inside one utterance.
func explicitContradiction(text string) bool {
	if !contrastPattern.MatchString(text) {
		return false
	}
	present := make(map[string]bool)
	for _, tok := range Tokenize(text) {
		if name, ok := emotionVocabulary[tok]; ok {
			present[name] = true
		}
	}
	for _, pair := range opposingEmotions {
		if present[pair[0]] && present[pair[1]] {
			return true
		}
	}
	return false
}

// stemsMatch folds the trailing e so "exercise" and the stem of
// "exercised" compare equal.
func stemsMatch(a, b string) bool {
	return strings.TrimSuffix(a, "e") == strings.TrimSuffix(b, "e")
}

func confidenceFor(occurrences int) float64 {
	c := 0.2 * float64(occurrences)
	if c > 1 {
		return 1
	}
	return c
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && s[max]&0xC0 == 0x80 {
		max--
	}
	return s[:max]
}
