package middlewares

import "net/http"

// Middleware decora un http.Handler. Tiene la misma forma que los de chi,
// así que se puede pasar directo a Router.Use / Router.With.
type Middleware func(http.Handler) http.Handler

// Chain envuelve h de modo que mws[0] es el más externo.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}

func ChainFunc(hf http.HandlerFunc, mws ...Middleware) http.Handler {
	return Chain(hf, mws...)
}
