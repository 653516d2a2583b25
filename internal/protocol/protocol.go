// Package protocol implements the result line carried on a child's stdout.
//
// A child reports its result by writing one line of the form
//
//	<prefix>D<result>D<suffix>
//	<prefix>D<status>D<result>D<suffix>
//
// where D is Delimiter. The first form carries no status; the parent then
// derives the status from the exit code. Only the first well-formed line in
// the output is honored.
package protocol

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// Delimiter brackets the result line fields. It is chosen to be unlikely in
// ordinary log output.
const Delimiter = "%%%%%~=~=~=************=~=~=~%%%%"

// Envelope is a decoded result line.
type Envelope struct {
	// Status is nil when the line carried no status or an unrecognised one.
	Status *bool
	// Result is the structurally decoded result, or the literal text when
	// it could not be decoded.
	Result any
	// Raw is the undecoded result field.
	Raw string
}

// Encode renders a result line without a trailing newline. A nil status
// produces the two-delimiter form.
func Encode(status *bool, result any) string {
	var b strings.Builder
	b.WriteString(Delimiter)
	if status != nil {
		b.WriteString(FormatStatus(*status))
		b.WriteString(Delimiter)
	}
	b.WriteString(EncodeResult(result))
	b.WriteString(Delimiter)
	return b.String()
}

// EncodeResult serializes result. Values that cannot be serialized are
// replaced by their %v text, itself encoded as a string so the line never
// breaks. Every '%' is written as the JSON escape \u0025, so the delimiter
// cannot occur inside the field.
func EncodeResult(result any) string {
	s, err := sonic.MarshalString(result)
	if err != nil {
		s, _ = sonic.MarshalString(fmt.Sprintf("%v", result))
	}
	return strings.ReplaceAll(s, "%", `\u0025`)
}

// FormatStatus renders a status field.
func FormatStatus(ok bool) string {
	if ok {
		return "True"
	}
	return "False"
}

// ParseStatus parses a status field. It returns nil for "None", an empty
// field or any token it does not recognise.
func ParseStatus(tok string) *bool {
	var v bool
	switch strings.TrimSpace(tok) {
	case "True", "true", "1":
		v = true
	case "False", "false", "0":
		v = false
	default:
		return nil
	}
	return &v
}

// DecodeResult decodes a result field, falling back to its trimmed literal
// text when it is not valid JSON.
func DecodeResult(repr string) any {
	repr = strings.TrimSpace(repr)
	var v any
	if err := sonic.UnmarshalString(repr, &v); err != nil {
		return repr
	}
	return v
}

// IsEnvelope reports whether line is a well-formed result line.
func IsEnvelope(line string) bool {
	_, _, _, ok := parseLine(line)
	return ok
}

// Extract finds the first result line in stdout. It returns the decoded
// envelope and stdout with the delimited segment removed; prefix and suffix
// text on the same line are kept. When no result line is present it
// returns nil and stdout unchanged.
func Extract(stdout string) (*Envelope, string) {
	offset := 0
	for _, line := range strings.SplitAfter(stdout, "\n") {
		if env, prefix, suffix, ok := parseLine(line); ok {
			return env, stdout[:offset] + prefix + suffix + stdout[offset+len(line):]
		}
		offset += len(line)
	}
	return nil, stdout
}

func parseLine(line string) (env *Envelope, prefix, suffix string, ok bool) {
	parts := strings.Split(line, Delimiter)
	switch {
	case len(parts) == 3:
		env = &Envelope{Raw: parts[1]}
		prefix, suffix = parts[0], parts[2]
	case len(parts) >= 4:
		env = &Envelope{Status: ParseStatus(parts[1]), Raw: parts[2]}
		prefix, suffix = parts[0], strings.Join(parts[3:], Delimiter)
	default:
		return nil, "", "", false
	}
	env.Result = DecodeResult(env.Raw)
	return env, prefix, suffix, true
}
