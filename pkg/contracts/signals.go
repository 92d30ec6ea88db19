package contracts

// SafetyLevel ranks crisis signals. Ordering: critical > alert > watch > none.
type SafetyLevel string

const (
	SafetyNone     SafetyLevel = "none"
	SafetyWatch    SafetyLevel = "watch"
	SafetyAlert    SafetyLevel = "alert"
	SafetyCritical SafetyLevel = "critical"
)

var safetyRank = map[SafetyLevel]int{
	SafetyNone: 0, SafetyWatch: 1, SafetyAlert: 2, SafetyCritical: 3,
}

// Rank returns the numeric severity of the level, higher is worse.
func (l SafetyLevel) Rank() int { return safetyRank[l] }

// MaxSafetyLevel returns the more severe of two levels.
func MaxSafetyLevel(a, b SafetyLevel) SafetyLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// SafetyCategory names the kind of crisis detected.
type SafetyCategory string

const (
	CategorySuicidal SafetyCategory = "suicidal"
	CategorySelfHarm SafetyCategory = "self_harm"
	CategoryAbuse    SafetyCategory = "abuse"
	CategoryCrisis   SafetyCategory = "crisis"
)

// Resource is a crisis resource attached to alert and critical responses.
type Resource struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
	Note    string `json:"note,omitempty"`
}

// SafetySignal is a structured detector output. Signals are results, not
// errors: they travel on the success path and are never silently dropped.
type SafetySignal struct {
	Level     SafetyLevel    `json:"level"`
	Category  SafetyCategory `json:"category"`
	Evidence  string         `json:"evidence"`
	Reason    string         `json:"reason"`
	Resources []Resource     `json:"resources,omitempty"`
}

// AxiomID identifies one of the fourteen constitutional invariants.
type AxiomID string

const (
	AxiomCertainty          AxiomID = "I1"
	AxiomSovereignty        AxiomID = "I2"
	AxiomManipulation       AxiomID = "I3"
	AxiomDiagnosis          AxiomID = "I4"
	AxiomPostAction         AxiomID = "I5"
	AxiomNecessity          AxiomID = "I6"
	AxiomExitFreedom        AxiomID = "I7"
	AxiomDepartureInference AxiomID = "I8"
	AxiomAdvice             AxiomID = "I9"
	AxiomContextCollapse    AxiomID = "I10"
	AxiomCertaintySelf      AxiomID = "I11"
	AxiomOptimization       AxiomID = "I12"
	AxiomCoercion           AxiomID = "I13"
	AxiomCapture            AxiomID = "I14"
)

// Violation records a constitutional breach. Every violation is fatal: a
// response carrying any violation is never returned to the user.
type Violation struct {
	AxiomID  AxiomID `json:"axiom_id"`
	Severity string  `json:"severity"`
	Evidence string  `json:"evidence"`
	Reason   string  `json:"reason"`
}

// NewViolation builds a fatal violation for the given axiom.
func NewViolation(id AxiomID, evidence, reason string) Violation {
	return Violation{AxiomID: id, Severity: "fatal", Evidence: evidence, Reason: reason}
}
