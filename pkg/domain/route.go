package domain

import (
	"net/http"
	"strings"
)

// ResourceRoute describes one backend resource family, e.g. the project detail endpoint.
type ResourceRoute struct {
	// Template is the backend path template, e.g. "/projects/{id}".
	Template string `yaml:"template" json:"template"`
	// Label is the logical resource name used in logs and metrics.
	Label string `yaml:"label" json:"label"`
	// Methods restricts the verbs mounted for the route. Empty means all supported verbs.
	Methods []string `yaml:"methods,omitempty" json:"methods,omitempty"`
}

// SupportedMethods lists the verbs the handler factory produces.
var SupportedMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
}

// AllowedMethods returns the normalized verbs the route should be mounted for.
func (r ResourceRoute) AllowedMethods() []string {
	if len(r.Methods) == 0 {
		return append([]string(nil), SupportedMethods...)
	}
	methods := make([]string, 0, len(r.Methods))
	for _, m := range r.Methods {
		methods = append(methods, strings.ToUpper(strings.TrimSpace(m)))
	}
	return methods
}

// TokenPair is the access/refresh credential pair issued by the backend.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// IsZero reports whether the pair carries no access token.
func (p TokenPair) IsZero() bool {
	return p.AccessToken == ""
}

// OutboundRequest is a single backend call before authentication is attached.
type OutboundRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Clone returns a deep copy so a retry never shares header maps with the first attempt.
func (r OutboundRequest) Clone() OutboundRequest {
	out := OutboundRequest{
		Method: r.Method,
		URL:    r.URL,
		Header: r.Header.Clone(),
	}
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}
