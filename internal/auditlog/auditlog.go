// Package auditlog is the append-only execution log: one record per oracle
// call and one per capability invocation, keyed by timestamp. Backends must
// serialize concurrent appends; no update or delete operations exist.
package auditlog

import "context"

// OracleCall is one consultation of the decision oracle.
type OracleCall struct {
	ID        string
	RunID     string
	Timestamp string
	Context   string
	Response  string
	LatencyMs int64
	Error     string
}

// CapabilityCall is one capability invocation, successful or failed.
type CapabilityCall struct {
	ID         string
	RunID      string
	Timestamp  string
	Capability string
	Args       string // serialized JSON
	Result     string // serialized JSON, empty on error
	Error      string
	LatencyMs  int64
}

// Log is implemented by audit backends. Append failures are reported but
// never abort an orchestration run.
type Log interface {
	RecordOracleCall(ctx context.Context, call OracleCall) error
	RecordCapabilityCall(ctx context.Context, call CapabilityCall) error
}

// Nop discards all records. Used when auditing is disabled and in tests.
type Nop struct{}

func (Nop) RecordOracleCall(context.Context, OracleCall) error         { return nil }
func (Nop) RecordCapabilityCall(context.Context, CapabilityCall) error { return nil }

// maxStoredContext caps the oracle context persisted per record; the full
// prompt can be large and only its head is useful for auditing.
const maxStoredContext = 8192

func truncateForStorage(s string) string {
	if len(s) <= maxStoredContext {
		return s
	}
	return s[:maxStoredContext] + "\n[truncated for storage]"
}
