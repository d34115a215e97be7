// Package template resolves template ids into rendered notification content.
//
// Templates come from a Source (in memory, YAML files or a chain of both) and
// may have several locale variants; Render picks the best variant for the
// requested locale with golang.org/x/text/language matching. Subjects and
// text bodies use text/template; HTML bodies use html/template.
//
// Rendering is strict about missing variables. A variant that fails to parse
// or execute falls back to the template named by its Fallback field and then
// to a minimal plain-text message, so only an unknown id is an error.
// Compiled templates are kept in an LRU cache with a TTL.
package template
