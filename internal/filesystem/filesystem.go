// Package filesystem serves local files and directory listings for
// file:// resource URIs.
package filesystem

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

const (
	// Scheme is the URI prefix handled by this package.
	Scheme = "file://"

	MIMEText = "text/plain"
	MIMEJSON = "application/json"
)

// ErrUnsupportedURI is returned for URIs outside the file:// scheme.
var ErrUnsupportedURI = errors.New("unsupported resource URI")

// FilesystemError wraps a failed filesystem operation on Path.
type FilesystemError struct {
	Path string
	Op   string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// Content is the text form of a resolved resource.
type Content struct {
	Text     string
	MIMEType string
}

// Listing is the JSON document returned for directories.
type Listing struct {
	Files []string `json:"files"`
}

// PathFromURI strips the file:// prefix. The remainder is used verbatim as
// a local path, so file:///etc/hosts names /etc/hosts and file://notes.txt
// names notes.txt relative to the working directory.
func PathFromURI(uri string) (string, error) {
	if !strings.HasPrefix(uri, Scheme) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedURI, uri)
	}
	return strings.TrimPrefix(uri, Scheme), nil
}

// ReadURI resolves a file:// URI. See Read.
func ReadURI(uri string) (*Content, error) {
	path, err := PathFromURI(uri)
	if err != nil {
		return nil, err
	}
	return Read(path)
}

// Read stats path and returns either the raw file text (text/plain) or,
// for a directory, an indented {"files": [...]} listing (application/json).
// Entry names are returned in directory order as sorted by os.ReadDir.
func Read(path string) (*Content, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, newError("stat", path, err)
	}

	if info.IsDir() {
		return list(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newError("read", path, err)
	}
	return &Content{Text: string(data), MIMEType: MIMEText}, nil
}

func list(path string) (*Content, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, newError("readdir", path, err)
	}

	listing := Listing{Files: make([]string, 0, len(entries))}
	for _, e := range entries {
		listing.Files = append(listing.Files, e.Name())
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(listing); err != nil {
		return nil, newError("encode", path, err)
	}
	return &Content{Text: strings.TrimSuffix(buf.String(), "\n"), MIMEType: MIMEJSON}, nil
}

// newError unwraps *fs.PathError so the message names Op and Path once.
func newError(op, path string, err error) *FilesystemError {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		err = pe.Err
	}
	return &FilesystemError{Path: path, Op: op, Err: err}
}
