package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

// Redactor redacts credentials and inline payloads from log output
type Redactor struct {
	rules []rule
}

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// NewRedactor creates a new redactor with default patterns
func NewRedactor() *Redactor {
	r := &Redactor{}

	// Provider API keys
	r.add(`sk-ant-[a-zA-Z0-9_-]{20,}`, redacted)
	r.add(`sk-[a-zA-Z0-9_-]{20,}`, redacted)
	r.add(`AIza[0-9A-Za-z_-]{35}`, redacted)

	// Bearer tokens
	r.add(`Bearer\s+[a-zA-Z0-9._-]+`, redacted)

	// Key and secret fields keep their name so JSON lines stay parseable
	r.add(`(?i)("?(?:api_key|shared_secret|secret|password)"?\s*[:=]\s*)"?[^\s",}]+"?`, `${1}"`+redacted+`"`)
	r.add(`(?i)(X-Companion-Secret:\s*)\S+`, `${1}`+redacted)

	// Inline attachment bytes
	r.add(`data:[a-z]+/[a-z0-9.+-]+;base64,[A-Za-z0-9+/=]+`, redacted)
	r.add(`("data_base64"\s*:\s*)"[^"]*"`, `${1}"`+redacted+`"`)

	return r
}

func (r *Redactor) add(pattern, replacement string) {
	r.rules = append(r.rules, rule{pattern: regexp.MustCompile(pattern), replacement: replacement})
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, rule{pattern: re, replacement: redacted})
	return nil
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	result := s
	for _, rl := range r.rules {
		result = rl.pattern.ReplaceAllString(result, rl.replacement)
	}
	return result
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success whatever the redacted length
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
