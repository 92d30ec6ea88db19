//go:build property
// +build property

// Property-based tests for canonicalization determinism.
package canonicalize

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: JCS(obj) == JCS(obj) for any string map, and re-parsing the
// canonical form yields the same canonical bytes.
func TestJCSDeterminismProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("canonical form is a fixed point", prop.ForAll(
		func(keys []string, values []string) bool {
			obj := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				obj[keys[i]] = values[i]
			}

			first, err := JCS(obj)
			if err != nil {
				return false
			}
			var parsed any
			if err := json.Unmarshal(first, &parsed); err != nil {
				return false
			}
			second, err := JCS(parsed)
			if err != nil {
				return false
			}
			return string(first) == string(second)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
