package handlers

import (
	"net/http"

	"github.com/GnYaroslav/drone-video-fix/internal/api/openapi"
)

// OpenAPISpec обрабатывает GET /api/openapi.yaml.
func OpenAPISpec(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapi.Spec())
}
