package integrity

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/foiacquire/muckrake/pkg/apierr"
	"github.com/foiacquire/muckrake/pkg/models"
)

// Status is the outcome of verifying one file.
type Status string

const (
	StatusOK       Status = "ok"
	StatusModified Status = "modified"
	StatusMissing  Status = "missing"
	// StatusSkipped means nothing was recorded to compare against. For an
	// ingested file this indicates a consistency bug.
	StatusSkipped Status = "skipped"
)

// Mode says which tier a report was produced with.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeFingerprint Mode = "fingerprint"
)

// Report is the structured verification result for one file. Integrity
// findings are data, not errors.
type Report struct {
	FileID        uint                   `json:"file_id"`
	Path          string                 `json:"path"`
	Mode          Mode                   `json:"mode"`
	Status        Status                 `json:"status"`
	Expected      string                 `json:"expected,omitempty"`
	Actual        string                 `json:"actual,omitempty"`
	Protection    models.ProtectionLevel `json:"protection"`
	ImmutableFlag *bool                  `json:"immutable_flag,omitempty"`
	Warning       string                 `json:"warning,omitempty"`
	Changed       []ChunkDiff            `json:"changed_chunks,omitempty"`

	// Digests holds what was computed from disk, when content was read.
	Digests *Digests `json:"-"`
}

// OK reports whether the file verified cleanly.
func (r Report) OK() bool { return r.Status == StatusOK }

// Err converts a failed report into the matching coded error, or nil.
func (r Report) Err() error {
	switch r.Status {
	case StatusModified:
		return &IntegrityMismatchError{Code: apierr.CodeIntegrityMismatch, Path: r.Path, Expected: r.Expected, Actual: r.Actual}
	case StatusMissing:
		return &MissingError{Code: apierr.CodeMissing, Path: r.Path}
	case StatusSkipped:
		return fmt.Errorf("%s has no recorded hash", r.Path)
	default:
		return nil
	}
}

// Verifier checks tracked files under a project root.
type Verifier struct {
	root   string
	flags  FlagManager
	logger *slog.Logger
}

// NewVerifier creates a Verifier for files relative to root.
func NewVerifier(root string, flags FlagManager, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	if flags == nil {
		flags = NoopFlags{}
	}
	return &Verifier{root: root, flags: flags, logger: logger}
}

// Abs returns the absolute path of a project-relative path.
func (v *Verifier) Abs(relPath string) string {
	return filepath.Join(v.root, filepath.FromSlash(relPath))
}

// Flags returns the verifier's flag manager.
func (v *Verifier) Flags() FlagManager { return v.flags }

// Verify compares the file's on-disk SHA-256 with the stored one. Only
// unexpected read failures are returned as errors.
func (v *Verifier) Verify(f models.File, protection models.ProtectionLevel) (Report, error) {
	r := Report{FileID: f.ID, Path: f.Path, Mode: ModeFull, Protection: protection, Expected: f.SHA256}
	abs := v.Abs(f.Path)

	d, err := HashFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.Status = StatusMissing
			return r, nil
		}
		return r, fmt.Errorf("verify %s: %w", f.Path, err)
	}
	r.Digests = &d
	r.Actual = d.SHA256

	switch {
	case f.SHA256 == "":
		r.Status = StatusSkipped
		v.logger.Warn("tracked file has no stored hash", "path", f.Path, "fileID", f.ID)
	case f.SHA256 == d.SHA256:
		r.Status = StatusOK
	default:
		r.Status = StatusModified
		if !f.Fingerprint.IsZero() {
			r.Changed = DiffChunks(f.Fingerprint.Chunks, d.Fingerprint.Chunks)
		}
	}
	v.checkFlag(&r, abs)
	return r, nil
}

// VerifyFingerprint compares the file's chunk fingerprint with the stored
// one, reporting which chunks differ.
func (v *Verifier) VerifyFingerprint(f models.File, protection models.ProtectionLevel) (Report, error) {
	r := Report{FileID: f.ID, Path: f.Path, Mode: ModeFingerprint, Protection: protection, Expected: f.Fingerprint.Digest}
	abs := v.Abs(f.Path)

	fp, size, err := FingerprintFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.Status = StatusMissing
			return r, nil
		}
		return r, fmt.Errorf("verify %s: %w", f.Path, err)
	}
	r.Digests = &Digests{Fingerprint: fp, Size: size}
	r.Actual = fp.Digest

	switch {
	case f.Fingerprint.IsZero():
		r.Status = StatusSkipped
	case f.Fingerprint.Digest == fp.Digest:
		r.Status = StatusOK
	default:
		r.Status = StatusModified
		r.Changed = DiffChunks(f.Fingerprint.Chunks, fp.Chunks)
	}
	v.checkFlag(&r, abs)
	return r, nil
}

// checkFlag records whether an immutable file still carries the OS flag.
// A missing flag is a warning, never a hash failure.
func (v *Verifier) checkFlag(r *Report, abs string) {
	if r.Protection != models.ProtectionImmutable {
		return
	}
	set, err := v.flags.IsSet(abs)
	if err != nil {
		r.Warning = fmt.Sprintf("could not read immutable flag: %v", err)
		return
	}
	r.ImmutableFlag = &set
	if !set {
		r.Warning = "immutable flag not set"
	}
}
