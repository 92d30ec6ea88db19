package safety

import (
	"strings"

	"github.com/mirrorlabs/mirror/core/pkg/contracts"
)

// DefaultResources is the static crisis resource catalog attached to alert
// and critical responses. US-centric defaults; deployments can override
// the catalog through configuration.
func DefaultResources() []contracts.Resource {
	return []contracts.Resource{
		{
			Name:    "988 Suicide & Crisis Lifeline",
			Contact: "Call or text 988",
			Note:    "24/7, free and confidential",
		},
		{
			Name:    "Crisis Text Line",
			Contact: "Text HOME to 741741",
			Note:    "24/7 text support",
		},
		{
			Name:    "National Domestic Violence Hotline",
			Contact: "1-800-799-7233",
			Note:    "24/7, interpreters available",
		},
	}
}

// CrisisResponse is the fixed template returned when the pipeline
// short-circuits on a critical signal. It carries resources and nothing
// that analyzes, interprets, or advises.
func CrisisResponse(resources []contracts.Resource) string {
	var b strings.Builder
	b.WriteString("It sounds like you're going through something really serious right now. ")
	b.WriteString("You don't have to face this alone.\n\n")
	for _, r := range resources {
		b.WriteString("- " + r.Name + ": " + r.Contact)
		if r.Note != "" {
			b.WriteString(" (" + r.Note + ")")
		}
		b.WriteString("\n")
	}
	b.WriteString("\nIf you're in immediate danger, please call your local emergency number.")
	return b.String()
}
