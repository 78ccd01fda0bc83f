// Package api 内嵌 OpenAPI 文档
package api

import "embed"

//go:embed openapi/*.yaml
var OpenAPIFS embed.FS

// SpecPath OpenAPI 文档在 OpenAPIFS 中的路径
const SpecPath = "openapi/chemsim.yaml"
