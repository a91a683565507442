package api

import _ "embed"

// OpenAPISpec documents the REST surface; the router validates requests against it
//
//go:embed openapi.yaml
var OpenAPISpec []byte
