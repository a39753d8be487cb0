package custody

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/foiacquire/muckrake/pkg/audit"
	"github.com/foiacquire/muckrake/pkg/integrity"
	"github.com/foiacquire/muckrake/pkg/models"
)

// binarySniff is how much of a file is inspected for a NUL byte before
// decorated output summarizes it instead of printing it.
const binarySniff = 8192

// ReadRequest streams the content of referenced files.
type ReadRequest struct {
	Refs []string
	Out  io.Writer
	// Headers prints each file's "project:path" above its content, separates
	// files with a blank line and summarizes binary files. Without it the
	// bytes are written unchanged, one file after another.
	Headers bool
}

// ReadResult reports a Read call.
type ReadResult struct {
	// Read lists "project:path" for files whose content was written.
	Read []string
	// Warnings are editable files whose content changed outside muckrake.
	Warnings []FileReport
	Failed   []Failure
}

// Read writes the content of every referenced file to req.Out after a full
// SHA-256 check. Files that no longer match their record are refused and
// the refusal is audited, except editable ones, which are written and
// reported as warnings. Only a failed write to req.Out aborts the call.
func (t *Tracker) Read(ctx context.Context, req ReadRequest) (*ReadResult, error) {
	if req.Out == nil {
		return nil, errors.New("read: no output writer")
	}
	coll, _, err := t.resolve(ctx, req.Refs)
	if err != nil {
		return nil, err
	}
	res := &ReadResult{}
	for _, rf := range coll.Files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		u := t.unit(rf.Project)
		f := rf.File
		warn, err := t.checkContent(u, f)
		if err != nil {
			t.recorder.RecordFailure(auditStore(u.h.Store), audit.Entry{
				Operation: audit.OpVerify,
				FileID:    fileID(&f),
				Path:      f.Path,
				Detail:    models.JSONAny{"attempt": "read"},
			}, err)
			res.Failed = append(res.Failed, Failure{Path: label(rf), Err: err})
			continue
		}
		if warn != nil {
			res.Warnings = append(res.Warnings, *warn)
		}

		src, err := os.Open(u.abs(f.Path))
		if err != nil {
			res.Failed = append(res.Failed, Failure{Path: label(rf), Err: err})
			continue
		}
		if req.Headers {
			err = writeDecorated(req.Out, src, label(rf), len(res.Read) > 0)
		} else {
			_, err = io.Copy(req.Out, src)
		}
		_ = src.Close()
		if err != nil {
			return res, fmt.Errorf("read %s: %w", label(rf), err)
		}
		res.Read = append(res.Read, label(rf))
	}
	return res, nil
}

// checkContent verifies f's full hash before its content is handed out.
// A modified editable file comes back as a warning rather than an error.
func (t *Tracker) checkContent(u *unit, f models.File) (*FileReport, error) {
	prot := u.protection(f.Path)
	rep, err := u.verifier.Verify(f, prot)
	if err != nil {
		return nil, err
	}
	if rep.OK() {
		return nil, nil
	}
	if prot == models.ProtectionEditable && rep.Status == integrity.StatusModified {
		return &FileReport{Project: u.h.Name, Report: rep}, nil
	}
	return nil, rep.Err()
}

// tailWriter remembers the last byte written through it.
type tailWriter struct {
	w    io.Writer
	n    int64
	last byte
}

func (tw *tailWriter) Write(p []byte) (int, error) {
	n, err := tw.w.Write(p)
	if n > 0 {
		tw.n += int64(n)
		tw.last = p[n-1]
	}
	return n, err
}

func writeDecorated(w io.Writer, src *os.File, name string, separate bool) error {
	if separate {
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w, name); err != nil {
		return err
	}

	br := bufio.NewReaderSize(src, binarySniff)
	head, err := br.Peek(binarySniff)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if bytes.IndexByte(head, 0) >= 0 {
		st, err := src.Stat()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "(binary file, %d bytes)\n", st.Size())
		return err
	}

	tw := &tailWriter{w: w}
	if _, err := io.Copy(tw, br); err != nil {
		return err
	}
	if tw.n > 0 && tw.last != '\n' {
		_, err := io.WriteString(w, "\n")
		return err
	}
	return nil
}
