package transport

import (
	"net/http"
	"strings"
)

type Handler interface {
	submit(w http.ResponseWriter, r *http.Request)
	list(w http.ResponseWriter, r *http.Request)
	status(w http.ResponseWriter, r *http.Request)
	bundle(w http.ResponseWriter, r *http.Request)
}

type router struct {
	h Handler
}

func NewRouter(h Handler) *router {
	return &router{h: h}
}

func (rt *router) MountRoutes(mux *http.ServeMux) *http.ServeMux {
	mux.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			rt.h.list(w, r)
			return
		}
		rt.h.submit(w, r)
	})
	mux.HandleFunc("/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(strings.TrimSuffix(r.URL.Path, "/"), "/bundle") {
			rt.h.bundle(w, r)
			return
		}
		rt.h.status(w, r)
	})

	return mux
}
