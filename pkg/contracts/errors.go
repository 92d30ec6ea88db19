package contracts

// ErrorKind is the closed error taxonomy surfaced at the control boundary.
// Violations and crisis signals are first-class results and do not appear
// here; these kinds cover structural and operational failures.
type ErrorKind string

const (
	KindMalformedInput   ErrorKind = "malformed_input"
	KindChainMismatch    ErrorKind = "chain_mismatch"
	KindGenesisViolation ErrorKind = "genesis_violation"
	KindSignatureInvalid ErrorKind = "signature_invalid"
	KindViolation        ErrorKind = "violation"
	KindDeadlineExceeded ErrorKind = "deadline_exceeded"
	KindSandboxError     ErrorKind = "sandbox_error"
	KindUnauthorized     ErrorKind = "unauthorized"
	KindThresholdNotMet  ErrorKind = "threshold_not_met"
	KindPeerError        ErrorKind = "peer_error"
	KindInternal         ErrorKind = "internal"
)
