package template

import (
	"embed"
	"io/fs"
)

//go:embed templates/*.yaml
var defaultFiles embed.FS

// Defaults returns the bundled templates (booking reminders and their
// fallbacks).
func Defaults() (*MemorySource, error) {
	sub, err := fs.Sub(defaultFiles, "templates")
	if err != nil {
		return nil, err
	}
	return LoadYAML(sub)
}
