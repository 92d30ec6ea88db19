// Package constitution implements the immutable behavioral invariants.
// Fourteen checkers, each a closed pattern catalog, gate every response
// before it leaves the pipeline. A violation of any invariant is fatal:
// the response is blocked, never softened.
//
// The layer fails closed. A checker panic is treated as a violation of
// the checker's own invariant rather than letting the response through.
package constitution

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mirrorlabs/mirror/core/pkg/contracts"
	"github.com/mirrorlabs/mirror/core/pkg/safety"
)

// Axiom is one constitutional invariant with its pattern catalog. Modes
// listed in SkipModes pass the checker unconditionally; OnlyModes, when
// non-empty, restricts the checker to those modes.
type Axiom struct {
	ID        contracts.AxiomID
	Name      string
	Reason    string
	SkipModes []contracts.Mode
	OnlyModes []contracts.Mode
	patterns  []*regexp.Regexp

	// checkFn overrides the catalog scan when set. Test seam.
	checkFn func(text string) *contracts.Violation
}

func (a *Axiom) appliesIn(mode contracts.Mode) bool {
	for _, m := range a.SkipModes {
		if m == mode {
			return false
		}
	}
	if len(a.OnlyModes) == 0 {
		return true
	}
	for _, m := range a.OnlyModes {
		if m == mode {
			return true
		}
	}
	return false
}

func (a *Axiom) check(text string) *contracts.Violation {
	if a.checkFn != nil {
		return a.checkFn(text)
	}
	for _, p := range a.patterns {
		if match := p.FindString(text); match != "" {
			v := contracts.NewViolation(a.ID, safety.TruncateEvidence(match), a.Reason)
			return &v
		}
	}
	return nil
}

// Layer holds the full checker set.
type Layer struct {
	axioms []*Axiom
}

// NewLayer builds the standard fourteen-axiom layer.
func NewLayer() *Layer {
	return &Layer{axioms: defaultAxioms()}
}

// Axioms returns the checker set, for introspection and documentation.
func (l *Layer) Axioms() []*Axiom {
	return l.axioms
}

// CheckRequest validates an incoming reflection. Requests are only
// rejected for structural problems; user speech itself is never a
// constitutional violation.
func (l *Layer) CheckRequest(r contracts.Reflection) []contracts.Violation {
	var violations []contracts.Violation
	if strings.TrimSpace(r.Content) == "" {
		violations = append(violations, contracts.Violation{
			Severity: "fatal",
			Reason:   "empty reflection content",
		})
	}
	return violations
}

// CheckResponse scans a candidate response against every applicable
// axiom for the request's mode. Any match blocks the response.
func (l *Layer) CheckResponse(r contracts.Reflection, response string) []contracts.Violation {
	var violations []contracts.Violation
	for _, a := range l.axioms {
		if !a.appliesIn(r.Mode) {
			continue
		}
		if v := l.checkClosed(a, response); v != nil {
			violations = append(violations, *v)
		}
	}
	return violations
}

// checkClosed runs one axiom and converts a panic into a violation.
func (l *Layer) checkClosed(a *Axiom, text string) (v *contracts.Violation) {
	defer func() {
		if r := recover(); r != nil {
			failed := contracts.NewViolation(a.ID, "",
				fmt.Sprintf("checker failed closed: %v", r))
			v = &failed
		}
	}()
	return a.check(text)
}

func catalog(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

func literals(phrases ...string) string {
	quoted := make([]string, len(phrases))
	for i, p := range phrases {
		quoted[i] = regexp.QuoteMeta(p)
	}
	return `\b(?:` + strings.Join(quoted, "|") + `)\b`
}

func defaultAxioms() []*Axiom {
	return []*Axiom{
		{
			ID:     contracts.AxiomCertainty,
			Name:   "certainty",
			Reason: "asserts certainty about the user's state or future",
			patterns: catalog(
				`\byou (?:are|re) definitely\b`,
				`\byou're definitely\b`,
				`\bthis will (?:definitely|certainly|always)\b`,
				`\byou will (?:definitely|certainly|never|always)\b`,
				`\bit is certain that you\b`,
			),
		},
		{
			ID:     contracts.AxiomSovereignty,
			Name:   "sovereignty",
			Reason: "overrides explicit user autonomy",
			patterns: catalog(
				`\byou have no choice\b`,
				`\byou must (?:do|stop|never|always|comply)\b`,
				`\bi won't let you\b`,
				`\bregardless of what you want\b`,
			),
		},
		{
			ID:     contracts.AxiomManipulation,
			Name:   "manipulation",
			Reason: "gamification, urgency, or scarcity framing",
			patterns: catalog(
				literals("streak", "don't break the chain", "limited time",
					"act now", "before it's too late", "you'll miss out",
					"don't miss out", "earn points", "level up"),
			),
		},
		{
			ID:     contracts.AxiomDiagnosis,
			Name:   "diagnosis",
			Reason: "clinical label or treatment directive",
			patterns: catalog(
				`\byou (?:have|are suffering from|show signs of) (?:depression|anxiety disorder|ptsd|adhd|ocd|bipolar)\b`,
				`\byou(?:'re| are)(?: \w+)? (?:depressed|bipolar|manic)\b`,
				`\byou should (?:take|start|stop) (?:medication|meds|antidepressants)\b`,
				`\bdiagnos(?:is|e|ed)\b`,
			),
		},
		{
			ID:        contracts.AxiomPostAction,
			Name:      "post_action",
			Reason:    "prescriptive advice after the fact",
			OnlyModes: []contracts.Mode{contracts.ModePostAction},
			patterns: catalog(
				`\byou should have\b`,
				`\byou shouldn't have\b`,
				`\bnext time,? (?:you should|do|don't)\b`,
				`\bwhat you should do now\b`,
			),
		},
		{
			ID:     contracts.AxiomNecessity,
			Name:   "necessity",
			Reason: "frames the system as necessary",
			patterns: catalog(
				`\byou need mirror\b`,
				`\bkeep using (?:mirror|this|the app)\b`,
				`\bcome back (?:soon|tomorrow|daily)\b`,
				`\byou can't do this without\b`,
			),
		},
		{
			ID:     contracts.AxiomExitFreedom,
			Name:   "exit_freedom",
			Reason: "attaches guilt or loss to leaving",
			patterns: catalog(
				literals("we'll miss you", "we will miss you",
					"you'll lose progress", "you will lose your progress",
					"all your work will be lost", "are you sure you want to leave"),
			),
		},
		{
			ID:     contracts.AxiomDepartureInference,
			Name:   "departure_inference",
			Reason: "draws inferences from the user's absence",
			patterns: catalog(
				`\byou(?:'ve| have) been (?:away|gone|absent)\b`,
				`\bsince you (?:left|stopped|haven't been here)\b`,
				`\byour absence (?:suggests|means|shows)\b`,
				`\bwhile you were gone\b`,
			),
		},
		{
			ID:        contracts.AxiomAdvice,
			Name:      "advice",
			Reason:    "directive advice outside guidance",
			SkipModes: []contracts.Mode{contracts.ModeGuidance},
			patterns: catalog(
				`\byou should\b`,
				`\byou ought to\b`,
				`\bmy advice is\b`,
				`\bthe right thing to do is\b`,
				`\bif i were you\b`,
			),
		},
		{
			ID:     contracts.AxiomContextCollapse,
			Name:   "context_collapse",
			Reason: "merges separate contexts into one identity",
			patterns: catalog(
				`\bjust like (?:at work|with your family|in your relationship), you\b`,
				`\byou(?:'re| are) (?:always|the same) (?:everywhere|in every context)\b`,
				`\bthis is who you are across\b`,
			),
		},
		{
			ID:     contracts.AxiomCertaintySelf,
			Name:   "certainty_self",
			Reason: "claims the user's inner state for them",
			patterns: catalog(
				`\bdeep down,? you (?:really )?(?:want|feel|know|believe)\b`,
				`\bwhat you(?:'re| are) really feeling is\b`,
				`\byou don't actually (?:want|feel|mean)\b`,
				`\byour true feelings are\b`,
			),
		},
		{
			ID:     contracts.AxiomOptimization,
			Name:   "optimization",
			Reason: "engagement or retention optimization language",
			patterns: catalog(
				literals("daily active", "engagement", "retention",
					"session length", "keep you engaged", "maximize your usage"),
			),
		},
		{
			ID:     contracts.AxiomCoercion,
			Name:   "coercion",
			Reason: "guilt, shame, or fear framing",
			patterns: catalog(
				`\byou should (?:be|feel) ashamed\b`,
				`\bif you don't,? (?:something bad|you'll regret)\b`,
				`\bhow could you\b`,
				`\bafter everything (?:mirror has|we've) done for you\b`,
				`\bdisappoint(?:ing|ed)? (?:me|us)\b`,
			),
		},
		{
			ID:     contracts.AxiomCapture,
			Name:   "capture",
			Reason: "lock-in language or discouraging departure",
			patterns: catalog(
				`\bonly (?:mirror|we) can\b`,
				`\bnowhere else\b`,
				`\byou(?:'d| would) be lost without\b`,
				`\bdon't (?:leave|go|stop now)\b`,
				`\bswitching away (?:would|will) (?:hurt|cost)\b`,
			),
		},
	}
}
