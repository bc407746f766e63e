package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/trufnetwork/lambda-e2e/lib/errs"
)

// HandlerExt is the source extension of handler files.
const HandlerExt = ".go"

// Handler is one function source file and the logical name derived from its stem.
type Handler struct {
	Path string
	Name string
}

// OutputKey is the stack output that exposes the function ARN for this handler.
func (h Handler) OutputKey() string {
	return h.Name + "Arn"
}

// FindFiles walks dir and returns every file path in lexical order. A non-empty
// ext restricts the result to files with that extension.
func FindFiles(dir string, ext string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &errs.NotFoundError{What: "handler directory", Path: dir, Err: err}
		}
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ext != "" && filepath.Ext(path) != ext {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return paths, nil
}

// LoadHandlers returns the Go handler files under dir. Test files are skipped.
func LoadHandlers(dir string) ([]Handler, error) {
	paths, err := FindFiles(dir, HandlerExt)
	if err != nil {
		return nil, err
	}

	handlers := make([]Handler, 0, len(paths))
	for _, p := range paths {
		if strings.HasSuffix(p, "_test.go") {
			continue
		}
		h, err := NewHandler(p)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, h)
	}
	return handlers, nil
}

// NewHandler builds the descriptor for a single source file.
func NewHandler(path string) (Handler, error) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name := LogicalName(stem)
	if name == "" {
		return Handler{}, fmt.Errorf("cannot derive a logical name from %q", path)
	}
	return Handler{Path: path, Name: name}, nil
}

// LogicalName turns a file stem into an alphanumeric CamelCase identifier:
// "handler_4" and "handler-4" both become "Handler4".
func LogicalName(stem string) string {
	var b strings.Builder
	upper := true
	for _, r := range stem {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) || r > unicode.MaxASCII {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	name := b.String()
	// CloudFormation logical ids must start with a letter
	if name != "" && unicode.IsDigit(rune(name[0])) {
		name = "H" + name
	}
	return name
}
