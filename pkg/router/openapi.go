package router

import (
	"net/http"

	"speaking-practice/backend/internal/api"
	"speaking-practice/backend/pkg/validator"

	"github.com/gin-gonic/gin"
)

// openAPIValidation serves the REST document and returns the validation
// middleware for the API groups. It returns no middleware when validation is
// switched off.
func (r *Router) openAPIValidation() ([]gin.HandlerFunc, error) {
	r.Engine.GET("/api/docs/openapi.yaml", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/yaml", api.OpenAPISpec)
	})

	if !r.Config.Features.EnableOpenAPI {
		r.Logger.Warn("OpenAPI validation disabled")
		return nil, nil
	}

	v, err := validator.NewOpenAPIValidator(api.OpenAPISpec)
	if err != nil {
		return nil, err
	}
	r.Logger.Info("OpenAPI validation enabled", "operations", len(v.Document().Paths.Map()))
	return []gin.HandlerFunc{v.Middleware()}, nil
}
