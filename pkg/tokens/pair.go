package tokens

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/polisai/taskgate/pkg/domain"
)

// ErrNoPairInBody is returned by ParsePair when no access token can be found.
var ErrNoPairInBody = errors.New("response carries no access token")

// ParsePair extracts a token pair from a backend auth response. The backend shape is not
// fixed, so camelCase and snake_case fields are accepted at the top level and nested
// under "data", "tokens", or "data.tokens".
func ParsePair(body []byte) (domain.TokenPair, error) {
	var root map[string]any
	if err := json.Unmarshal(body, &root); err != nil {
		return domain.TokenPair{}, fmt.Errorf("decode auth response: %w", err)
	}

	candidates := []map[string]any{root}
	for _, key := range []string{"data", "tokens", "token"} {
		if nested, ok := root[key].(map[string]any); ok {
			candidates = append(candidates, nested)
			if inner, ok := nested["tokens"].(map[string]any); ok {
				candidates = append(candidates, inner)
			}
		}
	}

	for _, c := range candidates {
		access := firstString(c, "accessToken", "access_token", "access")
		if access == "" {
			continue
		}
		return domain.TokenPair{
			AccessToken:  access,
			RefreshToken: firstString(c, "refreshToken", "refresh_token", "refresh"),
		}, nil
	}
	return domain.TokenPair{}, ErrNoPairInBody
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
