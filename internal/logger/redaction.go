package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

// rule masks one kind of secret. A repl of "" replaces the whole match;
// rules that keep their label ("X-Api-Key: ") use "${1}[REDACTED]".
type rule struct {
	re   *regexp.Regexp
	repl string
}

// Redactor masks credentials in log output.
type Redactor struct {
	rules []rule
}

var defaultRules = []rule{
	// X-Api-Key header, api_key / apiKey fields
	{regexp.MustCompile(`(?i)((?:x-api-key|api[_-]?key)["']?\s*[:=]\s*["']?)[^\s"',}]+`), "${1}" + redacted},
	// X-Signature values and any other hex sha256
	{regexp.MustCompile(`\b[0-9a-fA-F]{64}\b`), ""},
	{regexp.MustCompile(`(Bearer\s+)[A-Za-z0-9._~+/=-]+`), "${1}" + redacted},
	// Telegram bot tokens, also inside /bot<token>/ API paths
	{regexp.MustCompile(`\d{8,10}:[A-Za-z0-9_-]{30,}`), ""},
	{regexp.MustCompile(`(?i)((?:secret|password|passwd)["']?\s*[:=]\s*["']?)[^\s"',}]+`), "${1}" + redacted},
}

// NewRedactor returns a redactor with the relay's default rules.
func NewRedactor() *Redactor {
	r := &Redactor{rules: make([]rule, len(defaultRules))}
	copy(r.rules, defaultRules)
	return r
}

// AddPattern masks every match of pattern.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, rule{re: re})
	return nil
}

// AddLiteral masks a known secret value wherever it appears. Values shorter
// than four bytes are ignored; masking them would shred ordinary text.
func (r *Redactor) AddLiteral(value string) {
	if len(value) < 4 {
		return
	}
	r.rules = append(r.rules, rule{re: regexp.MustCompile(regexp.QuoteMeta(value))})
}

// Redact returns s with every secret masked.
func (r *Redactor) Redact(s string) string {
	for _, rl := range r.rules {
		if rl.repl == "" {
			s = rl.re.ReplaceAllLiteralString(s, redacted)
			continue
		}
		s = rl.re.ReplaceAllString(s, rl.repl)
	}
	return s
}

// Wrap returns a writer that redacts before writing to w.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{w: w, r: r}
}

type redactingWriter struct {
	w io.Writer
	r *Redactor
}

// Write reports len(p) on success so callers do not treat redaction as a short write.
func (rw *redactingWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(rw.w, rw.r.Redact(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
