// Package safety implements crisis detection over user reflections.
// Checkers are pattern-based and deterministic: the same utterance always
// yields the same signals. Matching is case-insensitive on whole tokens
// and multi-word phrases, never embedded substrings, so "grandma passed
// away" does not trip a self-harm detector.
package safety

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/mirrorlabs/mirror/core/pkg/contracts"
)

// EvidenceCap bounds evidence text recorded outside the signal itself.
const EvidenceCap = 100

// TruncateEvidence clips evidence for audit records.
func TruncateEvidence(s string) string {
	if len(s) <= EvidenceCap {
		return s
	}
	cut := EvidenceCap
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}

type rule struct {
	level   contracts.SafetyLevel
	pattern *regexp.Regexp
	reason  string
}

// checker scans for one category of crisis signal.
type checker struct {
	category contracts.SafetyCategory
	rules    []rule
}

func phrase(level contracts.SafetyLevel, reason string, phrases ...string) rule {
	quoted := make([]string, len(phrases))
	for i, p := range phrases {
		quoted[i] = regexp.QuoteMeta(p)
	}
	// Token boundaries on both ends keep embedded substrings from matching.
	expr := `(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`
	return rule{level: level, pattern: regexp.MustCompile(expr), reason: reason}
}

func (c *checker) check(text string) []contracts.SafetySignal {
	var signals []contracts.SafetySignal
	for _, r := range c.rules {
		match := r.pattern.FindString(text)
		if match == "" {
			continue
		}
		signals = append(signals, contracts.SafetySignal{
			Level:    r.level,
			Category: c.category,
			Evidence: TruncateEvidence(match),
			Reason:   r.reason,
		})
	}
	return signals
}

// Layer runs every category checker over an utterance.
type Layer struct {
	checkers  []*checker
	resources []contracts.Resource
}

// NewLayer builds the standard detector set with the default resource
// catalog.
func NewLayer() *Layer {
	return &Layer{
		checkers:  defaultCheckers(),
		resources: DefaultResources(),
	}
}

// Check scans the utterance with all checkers in parallel and returns the
// combined signals, ordered by severity (worst first) then category.
// Resources are attached to alert and critical signals.
func (l *Layer) Check(ctx context.Context, text string) []contracts.SafetySignal {
	results := make([][]contracts.SafetySignal, len(l.checkers))
	var wg sync.WaitGroup
	for i, c := range l.checkers {
		wg.Add(1)
		go func(i int, c *checker) {
			defer wg.Done()
			results[i] = c.check(text)
		}(i, c)
	}
	wg.Wait()

	var signals []contracts.SafetySignal
	for _, rs := range results {
		signals = append(signals, rs...)
	}
	for i := range signals {
		if signals[i].Level.Rank() >= contracts.SafetyAlert.Rank() {
			signals[i].Resources = l.resources
		}
	}
	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].Level.Rank() != signals[j].Level.Rank() {
			return signals[i].Level.Rank() > signals[j].Level.Rank()
		}
		return signals[i].Category < signals[j].Category
	})
	return signals
}

// Overall returns the most severe level across signals.
func Overall(signals []contracts.SafetySignal) contracts.SafetyLevel {
	level := contracts.SafetyNone
	for _, s := range signals {
		level = contracts.MaxSafetyLevel(level, s.Level)
	}
	return level
}

// Escalation is the pipeline-facing policy derived from a signal set.
type Escalation struct {
	Level           contracts.SafetyLevel
	ShortCircuit    bool
	AttachResources bool
	NotifyGuardian  bool
}

// Escalate maps the signal set onto the escalation policy:
// critical short-circuits with resources and a guardian notification,
// alert continues with resources and a notification, watch only logs.
func Escalate(signals []contracts.SafetySignal) Escalation {
	level := Overall(signals)
	return Escalation{
		Level:           level,
		ShortCircuit:    level == contracts.SafetyCritical,
		AttachResources: level.Rank() >= contracts.SafetyAlert.Rank(),
		NotifyGuardian:  level.Rank() >= contracts.SafetyAlert.Rank(),
	}
}

func defaultCheckers() []*checker {
	return []*checker{
		{
			category: contracts.CategorySuicidal,
			rules: []rule{
				phrase(contracts.SafetyCritical, "active suicidal ideation",
					"kill myself", "end my life", "want to die", "better off dead",
					"suicide plan", "end it all tonight"),
				phrase(contracts.SafetyAlert, "passive suicidal ideation",
					"don't want to be here anymore", "wish i wasn't alive",
					"no reason to live", "everyone would be better without me"),
				phrase(contracts.SafetyWatch, "hopelessness language",
					"hopeless", "no way out", "can't go on"),
			},
		},
		{
			category: contracts.CategorySelfHarm,
			rules: []rule{
				phrase(contracts.SafetyCritical, "active self-harm intent",
					"hurt myself tonight", "cut myself again", "going to hurt myself"),
				phrase(contracts.SafetyAlert, "self-harm ideation",
					"hurt myself", "cutting myself", "self harm", "self-harm"),
				phrase(contracts.SafetyWatch, "self-punishment language",
					"deserve pain", "punish myself"),
			},
		},
		{
			category: contracts.CategoryAbuse,
			rules: []rule{
				phrase(contracts.SafetyAlert, "possible abuse disclosure",
					"afraid of him", "afraid of her", "hits me", "hurts me",
					"threatened to hurt me", "not safe at home"),
				phrase(contracts.SafetyWatch, "controlling-relationship language",
					"won't let me leave", "checks my phone", "controls my money"),
			},
		},
		{
			category: contracts.CategoryCrisis,
			rules: []rule{
				phrase(contracts.SafetyAlert, "acute crisis state",
					"can't stop shaking", "having a breakdown", "panic attack right now"),
				phrase(contracts.SafetyWatch, "acute distress",
					"falling apart", "completely overwhelmed", "can't breathe"),
			},
		},
	}
}
