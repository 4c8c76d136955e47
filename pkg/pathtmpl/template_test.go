package pathtmpl

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/polisai/taskgate/pkg/domain"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		template string
		params   map[string]string
		query    string
		want     string
	}{
		{
			name:     "collection without params",
			template: "/projects",
			want:     "/projects",
		},
		{
			name:     "item with id",
			template: "/projects/{id}",
			params:   map[string]string{"id": "42"},
			want:     "/projects/42",
		},
		{
			name:     "square bracket placeholder",
			template: "/projects/[id]",
			params:   map[string]string{"id": "42"},
			want:     "/projects/42",
		},
		{
			name:     "nested sub-resource",
			template: "/tasks/{id}/activities",
			params:   map[string]string{"id": "7"},
			query:    "page=2&limit=10",
			want:     "/tasks/7/activities?page=2&limit=10",
		},
		{
			name:     "value is escaped but template slashes are not",
			template: "/users/{id}/files",
			params:   map[string]string{"id": "a/b c"},
			want:     "/users/a%2Fb%20c/files",
		},
		{
			name:     "path params are consumed from the query",
			template: "/projects/{id}",
			params:   map[string]string{"id": "3"},
			query:    "id=3&expand=tasks",
			want:     "/projects/3?expand=tasks",
		},
		{
			name:     "multi-valued keys repeat in order",
			template: "/tasks",
			query:    "status=open&assignee=ann&status=blocked",
			want:     "/tasks?status=open&status=blocked&assignee=ann",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := ParseQuery(tt.query)
			require.NoError(t, err)

			got, err := Resolve(tt.template, tt.params, q)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveMissingParam(t *testing.T) {
	_, err := Resolve("/projects/{id}", map[string]string{"projectId": "1"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRouting))

	var routingErr *domain.RoutingError
	require.True(t, errors.As(err, &routingErr))
	assert.Equal(t, "id", routingErr.Param)
}

func TestResolveEmptyValueIsMissing(t *testing.T) {
	_, err := Resolve("/projects/{id}", map[string]string{"id": ""}, nil)
	assert.ErrorIs(t, err, domain.ErrRouting)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("/tasks/{id}/comments/{commentId}"))
	assert.NoError(t, Validate("/projects"))

	for _, bad := range []string{
		"projects/{id}",
		"/projects/{id",
		"/projects/{}",
		"/projects/id}",
		"/projects/{id}/tasks/{id}",
		"/projects/{a/b}",
	} {
		assert.ErrorIs(t, Validate(bad), domain.ErrRouting, bad)
	}
}

func TestParams(t *testing.T) {
	names, err := Params("/tasks/{taskId}/comments/[commentId]")
	require.NoError(t, err)
	assert.Equal(t, []string{"taskId", "commentId"}, names)
}

func TestCanonical(t *testing.T) {
	got, err := Canonical("/tasks/[taskId]/comments/{commentId}")
	require.NoError(t, err)
	assert.Equal(t, "/tasks/{taskId}/comments/{commentId}", got)

	_, err = Canonical("/tasks/[id")
	assert.ErrorIs(t, err, domain.ErrRouting)
}

func TestParseQueryPreservesOrder(t *testing.T) {
	q, err := ParseQuery("z=1&a=2&z=3&m=%20x")
	require.NoError(t, err)
	require.Len(t, q, 3)
	assert.Equal(t, "z", q[0].Key)
	assert.Equal(t, []string{"1", "3"}, q[0].Values)
	assert.Equal(t, "a", q[1].Key)
	assert.Equal(t, " x", q.Get("m"))
}

func TestParseQueryRejectsBadEscape(t *testing.T) {
	_, err := ParseQuery("q=%zz")
	assert.Error(t, err)
}

type templateCase struct {
	template string
	names    []string
	literals []string
}

func drawTemplate(t *rapid.T, minParams int) templateCase {
	names := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z][a-zA-Z0-9_]{0,7}`), minParams, 5, func(s string) string { return s }).Draw(t, "names")
	tc := templateCase{names: names}

	var b strings.Builder
	for _, name := range names {
		lit := "/" + rapid.StringMatching(`[a-z0-9-]{1,8}`).Draw(t, "literal") + "/"
		tc.literals = append(tc.literals, lit)
		b.WriteString(lit)
		if rapid.Bool().Draw(t, "square") {
			b.WriteString("[" + name + "]")
		} else {
			b.WriteString("{" + name + "}")
		}
	}
	if len(names) == 0 {
		b.WriteString("/" + rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "root"))
	}
	tc.template = b.String()
	return tc
}

func TestResolveSubstitutesEveryPlaceholderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tc := drawTemplate(t, 0)

		params := make(map[string]string, len(tc.names))
		var want strings.Builder
		for i, name := range tc.names {
			value := rapid.StringN(1, 16, -1).Draw(t, "value")
			params[name] = value
			want.WriteString(tc.literals[i])
			want.WriteString(url.PathEscape(value))
		}
		if len(tc.names) == 0 {
			want.WriteString(tc.template)
		}

		got, err := Resolve(tc.template, params, nil)
		if err != nil {
			t.Fatalf("resolve %q: %v", tc.template, err)
		}
		assert.Equal(t, want.String(), got)
		assert.False(t, strings.ContainsAny(got, "{}[]"), "unresolved bracket in %q", got)
	})
}

func TestResolveMissingParamProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tc := drawTemplate(t, 1)

		missing := rapid.SampledFrom(tc.names).Draw(t, "missing")
		params := make(map[string]string)
		for _, name := range tc.names {
			if name != missing {
				params[name] = rapid.StringMatching(`[a-z0-9]{1,6}`).Draw(t, "value")
			}
		}

		_, err := Resolve(tc.template, params, nil)
		var routingErr *domain.RoutingError
		if !errors.As(err, &routingErr) {
			t.Fatalf("expected RoutingError for %q, got %v", tc.template, err)
		}
		assert.Equal(t, missing, routingErr.Param)
	})
}
