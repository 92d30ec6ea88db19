package contracts

import "time"

// UpdateSection names the system surface an update targets.
type UpdateSection string

const (
	SectionOrchestration UpdateSection = "orchestration"
	SectionWorkers       UpdateSection = "workers"
	SectionGovernance    UpdateSection = "governance"
	SectionConstitution  UpdateSection = "constitution"
	SectionUI            UpdateSection = "ui"
	SectionProtocol      UpdateSection = "protocol"
)

// ThresholdSigned reports whether the section requires an M-of-N guardian
// signature rather than a single guardian signature.
func (s UpdateSection) ThresholdSigned() bool {
	return s == SectionConstitution || s == SectionGovernance
}

// UpdateChannel is the release channel of an update.
type UpdateChannel string

const (
	ChannelStable UpdateChannel = "stable"
	ChannelBeta   UpdateChannel = "beta"
	ChannelDev    UpdateChannel = "dev"
)

// UpdateManifest is a signed description of a change to one section and
// channel, with artifacts addressed by SHA-256. The signature covers the
// canonical JSON of every field except Signature.
type UpdateManifest struct {
	UpdateID         string            `json:"update_id"`
	Version          string            `json:"version"`
	Section          UpdateSection     `json:"section"`
	Channel          UpdateChannel     `json:"channel"`
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	Changes          []string          `json:"changes"`
	Artifacts        map[string]string `json:"artifacts"`
	Dependencies     []string          `json:"dependencies,omitempty"`
	Conflicts        []string          `json:"conflicts,omitempty"`
	MinVersion       string            `json:"min_version,omitempty"`
	MaxVersion       string            `json:"max_version,omitempty"`
	RollbackManifest string            `json:"rollback_manifest,omitempty"`
	IssuedAt         time.Time         `json:"issued_at"`
	IssuedBy         string            `json:"issued_by"`
	Signature        string            `json:"signature"`
}

// SignedPayload returns the canonical-JSON input of the manifest signature:
// every field except the signature itself.
func (m *UpdateManifest) SignedPayload() map[string]any {
	return map[string]any{
		"update_id":         m.UpdateID,
		"version":           m.Version,
		"section":           string(m.Section),
		"channel":           string(m.Channel),
		"title":             m.Title,
		"description":       m.Description,
		"changes":           m.Changes,
		"artifacts":         m.Artifacts,
		"dependencies":      m.Dependencies,
		"conflicts":         m.Conflicts,
		"min_version":       m.MinVersion,
		"max_version":       m.MaxVersion,
		"rollback_manifest": m.RollbackManifest,
		"issued_at":         m.IssuedAt.UTC().Format(time.RFC3339Nano),
		"issued_by":         m.IssuedBy,
	}
}

// WorkerStatus is the lifecycle state of a worker manifest.
type WorkerStatus string

const (
	WorkerProposed  WorkerStatus = "proposed"
	WorkerApproved  WorkerStatus = "approved"
	WorkerSuspended WorkerStatus = "suspended"
	WorkerRevoked   WorkerStatus = "revoked"
)

// WorkerManifest describes a unit of submitted code executed in the
// sandbox. Code only runs when the manifest is approved and its signature
// verifies. A new version is a new worker_id.
type WorkerManifest struct {
	WorkerID            string       `json:"worker_id"`
	Name                string       `json:"name"`
	Version             string       `json:"version"`
	Code                []byte       `json:"code"`
	Entrypoint          string       `json:"entrypoint"`
	RequiredPermissions []string     `json:"required_permissions"`
	InputSchema         string       `json:"input_schema,omitempty"`
	OutputSchema        string       `json:"output_schema,omitempty"`
	Author              string       `json:"author"`
	Signature           string       `json:"signature"`
	Status              WorkerStatus `json:"status"`
}

// SignedPayload returns the canonical-JSON input of the author signature.
// Code is bound by digest rather than inline bytes.
func (w *WorkerManifest) SignedPayload(codeDigest string) map[string]any {
	return map[string]any{
		"worker_id":            w.WorkerID,
		"name":                 w.Name,
		"version":              w.Version,
		"code_sha256":          codeDigest,
		"entrypoint":           w.Entrypoint,
		"required_permissions": w.RequiredPermissions,
		"input_schema":         w.InputSchema,
		"output_schema":        w.OutputSchema,
		"author":               w.Author,
	}
}
