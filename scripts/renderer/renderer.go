package renderer

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

const templateDir = "templates/"

//go:embed templates/*.tmpl
var tplFS embed.FS

var tplCache = sync.Map{}

// lookup returns the parsed template, parsing and caching it on first use.
func lookup(name TemplateName) (*template.Template, error) {
	strName := string(name)
	if tVal, ok := tplCache.Load(strName); ok {
		if t, okTpl := tVal.(*template.Template); okTpl {
			return t, nil
		}
		return nil, fmt.Errorf("invalid type found in template cache for %q", strName)
	}

	path := templateDir + strName
	t, err := template.New(strName).
		Funcs(sprig.TxtFuncMap()).
		ParseFS(tplFS, path)
	if err != nil {
		return nil, fmt.Errorf("parsing template %q: %w", path, err)
	}
	actual, _ := tplCache.LoadOrStore(strName, t)
	return actual.(*template.Template), nil
}

// RenderTo writes the named template merged with data to w.
func RenderTo(w io.Writer, name TemplateName, data any) error {
	t, err := lookup(name)
	if err != nil {
		return err
	}
	// execute into a buffer so a failing template writes nothing
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return fmt.Errorf("executing template %q: %w", t.Name(), err)
	}
	_, err = buf.WriteTo(w)
	return err
}

// Render merges the named template file with data.
func Render(name TemplateName, data any) (string, error) {
	var buf bytes.Buffer
	if err := RenderTo(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
