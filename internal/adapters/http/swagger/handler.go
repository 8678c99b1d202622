// Package swagger serves the API's OpenAPI document.
package swagger

import (
	"net/http"
)

// Register attaches GET /openapi.yaml to mux.
func Register(mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		_, _ = w.Write(OpenAPI)
	})
}
