// Package merge assembles completed segment part files into the final output
// file, in range order, exactly once per job.
package merge

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/nvelluri/parget/internal/segment"
)

type ErrorKind string

const (
	LengthMismatch ErrorKind = "length_mismatch"
	IOFailure      ErrorKind = "io_failure"
)

type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("merge %s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("merge %s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Combine concatenates the part files of states into outputPath in ascending
// range index. Every segment must be Completed. On a length mismatch the
// partial output file is left in place for inspection; on success all part
// files are removed and the temp directory pruned if empty.
func Combine(states []*segment.State, outputPath string) error {
	for _, st := range states {
		if st.Status() != segment.Completed {
			return &Error{Kind: IOFailure, Detail: fmt.Sprintf("segment %d is %s, not completed", st.Range.Index, st.Status())}
		}
	}
	ordered := make([]*segment.State, len(states))
	copy(ordered, states)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Range.Index < ordered[j].Range.Index
	})

	destFile, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return &Error{Kind: IOFailure, Detail: "creating output file", Err: err}
	}
	defer destFile.Close()

	var totalWritten int64
	for _, st := range ordered {
		partFile, err := os.Open(st.TempFilePath)
		if err != nil {
			return &Error{Kind: IOFailure, Detail: fmt.Sprintf("opening part %d", st.Range.Index), Err: err}
		}
		written, err := io.Copy(destFile, partFile)
		partFile.Close()
		if err != nil {
			return &Error{Kind: IOFailure, Detail: fmt.Sprintf("copying part %d", st.Range.Index), Err: err}
		}
		if written != st.Range.Length() {
			return &Error{Kind: LengthMismatch, Detail: fmt.Sprintf("part %d wrote %d bytes, range holds %d", st.Range.Index, written, st.Range.Length())}
		}
		totalWritten += written
	}
	if err := destFile.Sync(); err != nil {
		return &Error{Kind: IOFailure, Detail: "syncing output file", Err: err}
	}

	log.Debug().Str("op", "merge/combine").Int64("bytes", totalWritten).Msgf("Merged %d parts into %s", len(ordered), outputPath)
	for _, st := range ordered {
		os.Remove(st.TempFilePath)
	}
	if len(ordered) > 0 {
		pruneTempDir(filepath.Dir(ordered[0].TempFilePath))
	}
	return nil
}

func pruneTempDir(dir string) {
	remaining, err := os.ReadDir(dir)
	if err == nil && len(remaining) == 0 {
		os.Remove(dir)
	}
}
