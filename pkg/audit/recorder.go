package audit

import (
	"log/slog"

	"github.com/foiacquire/muckrake/pkg/models"
)

// Operation names written to the audit log.
const (
	OpIngest         = "ingest"
	OpReingest       = "reingest"
	OpUntrack        = "untrack"
	OpTag            = "tag"
	OpUntag          = "untag"
	OpCategorize     = "categorize"
	OpSign           = "sign"
	OpUnsign         = "unsign"
	OpVerify         = "verify"
	OpEditDenied     = "edit_denied"
	OpRuleFired      = "rule_fired"
	OpToolRun        = "tool_run"
	OpInboxAssign    = "inbox_assign"
	OpPipelineAdd    = "pipeline_add"
	OpPipelineRemove = "pipeline_remove"
	OpPipelineAttach = "pipeline_attach"
	OpPipelineDetach = "pipeline_detach"
	OpCategoryDefine = "category_define"
	OpCategoryRemove = "category_remove"
	OpRuleChange     = "rule_change"
	OpToolChange     = "tool_change"
	OpAuditPrune     = "audit_prune"
)

// Entry is one event to record. Actor and timestamp are filled in by the
// Recorder.
type Entry struct {
	ChainID   string
	Operation string
	FileID    *uint
	Path      string
	Detail    models.JSONAny
}

// Recorder writes entries on behalf of one actor.
type Recorder struct {
	cfg    *AuditConfig
	actor  string
	logger *slog.Logger
}

// NewRecorder returns a recorder attributing events to actor.
func NewRecorder(cfg *AuditConfig, actor string, logger *slog.Logger) *Recorder {
	if cfg == nil {
		cfg = DefaultAuditConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if actor == "" {
		actor = "unknown"
	}
	return &Recorder{cfg: cfg, actor: actor, logger: logger}
}

// Actor returns the identity events are attributed to.
func (r *Recorder) Actor() string { return r.actor }

// Record appends e to s. Pass a store built on the transaction the
// operation runs in so the event commits or rolls back with it.
func (r *Recorder) Record(s *AuditStore, e Entry) error {
	if !r.cfg.Enabled {
		return nil
	}
	return s.Append(&models.AuditEvent{
		ChainID:   e.ChainID,
		Operation: e.Operation,
		FileID:    e.FileID,
		Path:      e.Path,
		Actor:     r.actor,
		Detail:    e.Detail,
	})
}

// RecordFailure appends e with the cause attached, when failures are
// logged. Write errors are logged, not returned: the caller is already
// reporting cause.
func (r *Recorder) RecordFailure(s *AuditStore, e Entry, cause error) {
	if !r.cfg.Enabled || !r.cfg.LogFailures || cause == nil {
		return
	}
	detail := models.JSONAny{}
	for k, v := range e.Detail {
		detail[k] = v
	}
	detail["error"] = cause.Error()
	e.Detail = detail
	if err := r.Record(s, e); err != nil {
		r.logger.Warn("failed to record audit failure", "operation", e.Operation, "path", e.Path, "error", err)
	}
}
