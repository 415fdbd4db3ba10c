package emit

import (
	"fmt"
	"html/template"
	"os"
	"path/filepath"
)

// IndexEntry is one digest row on the generated index page.
type IndexEntry struct {
	Name  string
	ID    string
	Files []string // feed filenames written for this digest
}

const indexTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>RSS Digests</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; max-width: 640px; margin: 2rem auto; padding: 0 1rem; color: #1a1a2e; }
h1 { border-bottom: 2px solid #16213e; padding-bottom: 0.5rem; }
ul { list-style: none; padding: 0; }
li { margin: 0.75rem 0; padding: 0.75rem; background: #f4f4f8; border-radius: 6px; }
a { color: #0f3460; margin-right: 0.75rem; }
.name { font-weight: 600; margin-right: 0.5rem; }
</style>
</head>
<body>
<h1>RSS Digests</h1>
<ul>
{{- range .}}
<li><span class="name">{{.Name}}</span>
{{- range .Files}}
<a href="{{.}}">{{.}}</a>
{{- end}}
</li>
{{- end}}
</ul>
</body>
</html>
`

var indexTmpl = template.Must(template.New("index").Parse(indexTemplate))

// WriteIndex generates index.html in dir linking every emitted feed file.
// The page carries no timestamps, so rerunning with unchanged digests
// rewrites identical bytes.
func WriteIndex(dir string, entries []IndexEntry) error {
	path := filepath.Join(dir, "index.html")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if err := indexTmpl.Execute(f, entries); err != nil {
		return fmt.Errorf("render index: %w", err)
	}
	return nil
}
