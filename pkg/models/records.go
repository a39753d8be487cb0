package models

import (
	"path"
	"strings"
	"time"
)

// ProjectMeta is the single identity row of a project database.
type ProjectMeta struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	Name      string    `gorm:"column:name;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (ProjectMeta) TableName() string { return "project_meta" }

// File is a tracked file, keyed by its path relative to the project root.
// Protection is not stored; it is derived from categories at read time.
type File struct {
	ID               uint         `gorm:"primaryKey;column:id"`
	Path             string       `gorm:"column:path;uniqueIndex;not null"`
	Name             string       `gorm:"column:name;index;not null"`
	Size             int64        `gorm:"column:size"`
	MimeType         string       `gorm:"column:mime_type"`
	SHA256           string       `gorm:"column:sha256"`
	Fingerprint      Fingerprint  `gorm:"column:fingerprint;type:text"`
	ProvenanceSource string       `gorm:"column:provenance_source"`
	ProvenanceMethod IngestMethod `gorm:"column:provenance_method"`
	ProvenanceAt     time.Time    `gorm:"column:provenance_at"`
	IngestedAt       time.Time    `gorm:"column:ingested_at;autoCreateTime"`
	UpdatedAt        time.Time    `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (File) TableName() string { return "files" }

// Ext returns the lower-cased extension without the dot, or "".
func (f File) Ext() string {
	ext := path.Ext(f.Name)
	if ext == "" {
		return ""
	}
	return strings.ToLower(ext[1:])
}

// Category classifies paths by glob pattern.
type Category struct {
	ID          uint            `gorm:"primaryKey;column:id"`
	Name        string          `gorm:"column:name;uniqueIndex;not null"`
	Pattern     string          `gorm:"column:pattern;uniqueIndex;not null"`
	Protection  ProtectionLevel `gorm:"column:protection;not null"`
	Kind        CategoryKind    `gorm:"column:kind;not null"`
	Description string          `gorm:"column:description"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (Category) TableName() string { return "categories" }

// Tag is a label on a file. FileHash and Fingerprint capture the content the
// label was applied to.
type Tag struct {
	FileID      uint      `gorm:"primaryKey;column:file_id"`
	Label       string    `gorm:"primaryKey;column:label;index"`
	FileHash    string    `gorm:"column:file_hash"`
	Fingerprint string    `gorm:"column:fingerprint"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (Tag) TableName() string { return "file_tags" }

// Pipeline is a named, ordered sequence of states.
type Pipeline struct {
	ID          uint            `gorm:"primaryKey;column:id"`
	Name        string          `gorm:"column:name;uniqueIndex;not null"`
	States      JSONStringSlice `gorm:"column:states;type:text;not null"`
	Transitions Transitions     `gorm:"column:transitions;type:text"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (Pipeline) TableName() string { return "pipelines" }

// Initial returns the pipeline's first state.
func (p Pipeline) Initial() string {
	if len(p.States) == 0 {
		return ""
	}
	return p.States[0]
}

// HasState reports whether name is one of the pipeline's states.
func (p Pipeline) HasState(name string) bool {
	return p.StateIndex(name) >= 0
}

// StateIndex returns the position of name in the state list, or -1.
func (p Pipeline) StateIndex(name string) int {
	for i, s := range p.States {
		if s == name {
			return i
		}
	}
	return -1
}

// PipelineAttachment binds a pipeline to a category or tag.
type PipelineAttachment struct {
	ID         uint      `gorm:"primaryKey;column:id"`
	PipelineID uint      `gorm:"column:pipeline_id;uniqueIndex:idx_attach,priority:1;not null"`
	ScopeType  ScopeType `gorm:"column:scope_type;uniqueIndex:idx_attach,priority:2;not null"`
	ScopeValue string    `gorm:"column:scope_value;uniqueIndex:idx_attach,priority:3;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (PipelineAttachment) TableName() string { return "pipeline_attachments" }

// Sign attests that Signer saw the file at FileHash in State. Signs are
// append-only; revocation sets RevokedAt.
type Sign struct {
	ID         uint       `gorm:"primaryKey;column:id"`
	PipelineID uint       `gorm:"column:pipeline_id;index:idx_sign_lookup,priority:1;not null"`
	FileID     uint       `gorm:"column:file_id;index:idx_sign_lookup,priority:2;not null"`
	State      string     `gorm:"column:state;index:idx_sign_lookup,priority:3;not null"`
	Signer     string     `gorm:"column:signer;not null"`
	FileHash   string     `gorm:"column:file_hash;not null"`
	Signature  string     `gorm:"column:signature;type:text"`
	SignedAt   time.Time  `gorm:"column:signed_at;not null"`
	RevokedAt  *time.Time `gorm:"column:revoked_at"`
	RevokedBy  string     `gorm:"column:revoked_by"`
}

// TableName returns the GORM table name.
func (Sign) TableName() string { return "signs" }

// Revoked reports whether the sign has been withdrawn.
func (s Sign) Revoked() bool { return s.RevokedAt != nil }

// IsValid reports whether the sign still vouches for content with the
// given hash.
func (s Sign) IsValid(currentHash string) bool {
	return !s.Revoked() && currentHash != "" && s.FileHash == currentHash
}

// Rule reacts to events by running an action.
type Rule struct {
	ID        uint          `gorm:"primaryKey;column:id"`
	Name      string        `gorm:"column:name;uniqueIndex;not null"`
	Enabled   bool          `gorm:"column:enabled;not null"`
	Priority  int           `gorm:"column:priority;not null"`
	Trigger   EventKind     `gorm:"column:trigger_event;index;not null"`
	Filter    TriggerFilter `gorm:"column:trigger_filter;type:text"`
	Action    ActionKind    `gorm:"column:action_type;not null"`
	Params    ActionParams  `gorm:"column:action_config;type:text"`
	CreatedAt time.Time     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time     `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (Rule) TableName() string { return "rules" }

// AnyFileType is the file-type wildcard for tool configs.
const AnyFileType = "*"

// ToolConfig binds an action to a command. Scope nil is the default scope.
// When Tag is set the config applies to files carrying that tag and Scope
// is ignored.
type ToolConfig struct {
	ID        uint         `gorm:"primaryKey;column:id"`
	Action    string       `gorm:"column:action;index;not null"`
	Scope     *string      `gorm:"column:scope"`
	FileType  string       `gorm:"column:file_type;not null"`
	Tag       *string      `gorm:"column:tag;index"`
	Command   string       `gorm:"column:command;not null"`
	Env       EnvOverrides `gorm:"column:env;type:text"`
	Quiet     bool         `gorm:"column:quiet;not null"`
	CreatedAt time.Time    `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (ToolConfig) TableName() string { return "tool_config" }

// ScopeLabel renders the config's scope for display.
func (t ToolConfig) ScopeLabel() string {
	switch {
	case t.Tag != nil:
		return "tag:" + *t.Tag
	case t.Scope != nil:
		return *t.Scope
	default:
		return "(default)"
	}
}

// ProjectRef registers a member project in a workspace database.
type ProjectRef struct {
	ID        uint      `gorm:"primaryKey;column:id"`
	ProjectID string    `gorm:"column:project_id;type:varchar(36)"`
	Name      string    `gorm:"column:name;uniqueIndex;not null"`
	Path      string    `gorm:"column:path;uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (ProjectRef) TableName() string { return "projects" }

// WorkspaceSetting is a key/value setting in a workspace database.
type WorkspaceSetting struct {
	Key   string `gorm:"primaryKey;column:key"`
	Value string `gorm:"column:value;not null"`
}

// TableName returns the GORM table name.
func (WorkspaceSetting) TableName() string { return "workspace_config" }

// AuditEvent is an immutable audit log entry.
type AuditEvent struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	ChainID   string    `gorm:"column:chain_id;index"`
	Operation string    `gorm:"column:operation;index:idx_audit_op_time,priority:1;not null"`
	FileID    *uint     `gorm:"column:file_id;index:idx_audit_file_time,priority:1"`
	Path      string    `gorm:"column:path"`
	Actor     string    `gorm:"column:actor;not null"`
	Detail    JSONAny   `gorm:"column:detail;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;index:idx_audit_op_time,priority:2;index:idx_audit_file_time,priority:2;autoCreateTime"`
}

// TableName returns the GORM table name.
func (AuditEvent) TableName() string { return "audit_events" }
