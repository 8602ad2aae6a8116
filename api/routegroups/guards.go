package routegroups

import "net/http"

type Guards struct {
	WithSession       func(http.HandlerFunc) http.HandlerFunc
	OptionalSession   func(http.HandlerFunc) http.HandlerFunc
	RequirePermission func(string) func(http.HandlerFunc) http.HandlerFunc
	RequireRole       func(string) func(http.HandlerFunc) http.HandlerFunc
	LoginLimit        func(http.HandlerFunc) http.HandlerFunc
}

func (g Guards) Session(handler http.HandlerFunc) http.HandlerFunc {
	return g.WithSession(handler)
}

func (g Guards) Optional(handler http.HandlerFunc) http.HandlerFunc {
	return g.OptionalSession(handler)
}

func (g Guards) SessionPerm(perm string, handler http.HandlerFunc) http.HandlerFunc {
	return g.WithSession(g.RequirePermission(perm)(handler))
}

func (g Guards) SessionRole(role string, handler http.HandlerFunc) http.HandlerFunc {
	return g.WithSession(g.RequireRole(role)(handler))
}

func (g Guards) Limited(handler http.HandlerFunc) http.HandlerFunc {
	if g.LoginLimit == nil {
		return handler
	}
	return g.LoginLimit(handler)
}
