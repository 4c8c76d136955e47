package pathtmpl

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/polisai/taskgate/pkg/domain"
)

type piece struct {
	literal string
	param   string
}

func (p piece) isParam() bool {
	return p.param != ""
}

func closerFor(open byte) byte {
	if open == '[' {
		return ']'
	}
	return '}'
}

// parse splits a template into literal and parameter pieces.
func parse(template string) ([]piece, error) {
	var pieces []piece
	var literal strings.Builder

	for i := 0; i < len(template); i++ {
		c := template[i]
		switch c {
		case '{', '[':
			end := strings.IndexByte(template[i+1:], closerFor(c))
			if end < 0 {
				return nil, &domain.RoutingError{Template: template, Reason: fmt.Sprintf("unterminated placeholder at offset %d", i)}
			}
			name := template[i+1 : i+1+end]
			if strings.TrimSpace(name) == "" {
				return nil, &domain.RoutingError{Template: template, Reason: fmt.Sprintf("empty placeholder at offset %d", i)}
			}
			if strings.ContainsAny(name, "{}[]/") {
				return nil, &domain.RoutingError{Template: template, Reason: fmt.Sprintf("invalid placeholder name %q", name)}
			}
			if literal.Len() > 0 {
				pieces = append(pieces, piece{literal: literal.String()})
				literal.Reset()
			}
			pieces = append(pieces, piece{param: name})
			i += end + 1
		case '}', ']':
			return nil, &domain.RoutingError{Template: template, Reason: fmt.Sprintf("unexpected %q at offset %d", c, i)}
		default:
			literal.WriteByte(c)
		}
	}
	if literal.Len() > 0 {
		pieces = append(pieces, piece{literal: literal.String()})
	}
	return pieces, nil
}

// Params returns the placeholder names of a template in order of appearance.
func Params(template string) ([]string, error) {
	pieces, err := parse(template)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, p := range pieces {
		if p.isParam() {
			names = append(names, p.param)
		}
	}
	return names, nil
}

// Validate rejects malformed templates. It is meant for startup checks of the route table.
func Validate(template string) error {
	if !strings.HasPrefix(template, "/") {
		return &domain.RoutingError{Template: template, Reason: "template must start with /"}
	}
	names, err := Params(template)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			return &domain.RoutingError{Template: template, Param: name, Reason: fmt.Sprintf("duplicate placeholder %q", name)}
		}
		seen[name] = struct{}{}
	}
	return nil
}

// Resolve substitutes every placeholder of template with its path-escaped value from
// pathParams and appends query. Query entries named like a placeholder are consumed by
// the path. A placeholder without a non-empty value fails with a *domain.RoutingError.
func Resolve(template string, pathParams map[string]string, query Query) (string, error) {
	pieces, err := parse(template)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	consumed := make(map[string]struct{})
	for _, p := range pieces {
		if !p.isParam() {
			b.WriteString(p.literal)
			continue
		}
		value, ok := pathParams[p.param]
		if !ok || value == "" {
			return "", &domain.RoutingError{Template: template, Param: p.param}
		}
		b.WriteString(url.PathEscape(value))
		consumed[p.param] = struct{}{}
	}

	if encoded := query.Encode(consumed); encoded != "" {
		b.WriteByte('?')
		b.WriteString(encoded)
	}
	return b.String(), nil
}

// Canonical rewrites every placeholder into the {name} form used by the inbound router.
func Canonical(template string) (string, error) {
	pieces, err := parse(template)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, p := range pieces {
		if p.isParam() {
			b.WriteString("{" + p.param + "}")
			continue
		}
		b.WriteString(p.literal)
	}
	return b.String(), nil
}
