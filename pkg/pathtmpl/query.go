package pathtmpl

import (
	"fmt"
	"net/url"
	"strings"
)

// Param is one query key with all of its values.
type Param struct {
	Key    string
	Values []string
}

// Query is an ordered query string. Unlike url.Values it keeps keys in the order they
// were first seen.
type Query []Param

// ParseQuery parses a raw query string. Repeated keys are merged into the position of
// their first occurrence.
func ParseQuery(raw string) (Query, error) {
	var q Query
	index := make(map[string]int)
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, fmt.Errorf("invalid query key %q: %w", rawKey, err)
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, fmt.Errorf("invalid query value for %q: %w", key, err)
		}
		if i, ok := index[key]; ok {
			q[i].Values = append(q[i].Values, value)
			continue
		}
		index[key] = len(q)
		q = append(q, Param{Key: key, Values: []string{value}})
	}
	return q, nil
}

// Add appends a value, creating the key at the end when absent.
func (q Query) Add(key, value string) Query {
	for i := range q {
		if q[i].Key == key {
			q[i].Values = append(q[i].Values, value)
			return q
		}
	}
	return append(q, Param{Key: key, Values: []string{value}})
}

// Get returns the first value for key.
func (q Query) Get(key string) string {
	for _, p := range q {
		if p.Key == key && len(p.Values) > 0 {
			return p.Values[0]
		}
	}
	return ""
}

// Encode renders the query in order, repeating the key for every value. Keys listed in
// skip are left out.
func (q Query) Encode(skip map[string]struct{}) string {
	var b strings.Builder
	for _, p := range q {
		if _, ok := skip[p.Key]; ok {
			continue
		}
		key := url.QueryEscape(p.Key)
		values := p.Values
		if len(values) == 0 {
			values = []string{""}
		}
		for _, v := range values {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(key)
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}
