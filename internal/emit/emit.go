package emit

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/thinkscotty/digest/internal/models"
)

// extensions maps output format names to file extensions.
var extensions = map[string]string{
	"json": "json",
	"rss":  "xml",
	"atom": "atom",
}

// Write emits a digest in each requested format into dir, creating it if
// needed. Files are named <digest_id>.<ext> and overwritten in place. It
// returns the filenames written.
func Write(dir string, d *models.Digest, formats []string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	var written []string
	for _, format := range formats {
		var (
			data []byte
			err  error
		)
		switch format {
		case "json":
			data, err = JSONFeed(d)
		case "rss":
			var s string
			s, err = RSS(d)
			data = []byte(s)
		case "atom":
			var s string
			s, err = Atom(d)
			data = []byte(s)
		default:
			return written, fmt.Errorf("unknown output format %q", format)
		}
		if err != nil {
			return written, fmt.Errorf("render %s feed for %s: %w", format, d.ID, err)
		}

		name := d.ID + "." + extensions[format]
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", path, err)
		}
		written = append(written, name)
	}
	return written, nil
}
