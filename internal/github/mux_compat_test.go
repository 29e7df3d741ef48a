package github

import (
	"context"
	"net/http"
	"strings"
)

// testMux emulates Go 1.22+ ServeMux routing ("METHOD /path/{wildcard}")
// for the Go 1.21 toolchain this module is currently built with. Matched
// wildcard segments are exposed via pathValue, the stand-in for
// (*http.Request).PathValue.
type testMux struct {
	routes []testRoute
}

type testRoute struct {
	method   string
	segments []string
	handler  http.HandlerFunc
}

type pathValuesKey struct{}

func newTestMux() *testMux { return &testMux{} }

func (m *testMux) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	method, path, found := strings.Cut(pattern, " ")
	if !found {
		method, path = "", pattern
	}
	m.routes = append(m.routes, testRoute{
		method:   method,
		segments: strings.Split(strings.TrimPrefix(path, "/"), "/"),
		handler:  handler,
	})
}

func (m *testMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	segments := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
routes:
	for _, rt := range m.routes {
		if rt.method != "" && rt.method != r.Method {
			continue
		}
		if len(rt.segments) != len(segments) {
			continue
		}
		values := map[string]string{}
		for i, ps := range rt.segments {
			if strings.HasPrefix(ps, "{") && strings.HasSuffix(ps, "}") {
				values[strings.Trim(ps, "{}")] = segments[i]
				continue
			}
			if ps != segments[i] {
				continue routes
			}
		}
		rt.handler(w, r.WithContext(context.WithValue(r.Context(), pathValuesKey{}, values)))
		return
	}
	http.NotFound(w, r)
}

func pathValue(r *http.Request, name string) string {
	values, _ := r.Context().Value(pathValuesKey{}).(map[string]string)
	return values[name]
}
