package httpmiddleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RouteFinder resolves a request to its route pattern, e.g.
// "/api/orders/{orderID}".
type RouteFinder func(r *http.Request) (string, bool)

// MakeRouteFinder returns a RouteFinder matching requests against routes.
func MakeRouteFinder(routes chi.Routes) RouteFinder {
	return func(r *http.Request) (string, bool) {
		rctx := chi.NewRouteContext()
		if !routes.Match(rctx, r.Method, r.URL.Path) {
			return "", false
		}
		return rctx.RoutePattern(), true
	}
}

func routeOf(find RouteFinder, r *http.Request) string {
	if route, ok := find(r); ok {
		return route
	}
	return "unknown"
}
