// Package docs registers the OpenAPI description of the admin API with swag.
// Regenerate with: swag init -g internal/http/router.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/admin/newsletters": {
            "get": {
                "description": "Newest first. Supports a weak ETag via If-None-Match and may return 304.",
                "produces": ["application/json"],
                "tags": ["Newsletters"],
                "summary": "List published issues (paginated)",
                "operationId": "listNewsletters",
                "parameters": [
                    {"type": "string", "example": "admin", "description": "Authenticated admin", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "string", "description": "Return 304 if ETag matches", "name": "If-None-Match", "in": "header"},
                    {"minimum": 1, "type": "integer", "default": 1, "description": "Page number", "name": "page", "in": "query"},
                    {"maximum": 100, "minimum": 1, "type": "integer", "default": 20, "description": "Items per page", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/handlers.ListIssuesResponse"},
                        "headers": {"ETag": {"type": "string", "description": "Weak ETag for current result"}}
                    },
                    "304": {"description": "Not Modified", "schema": {"type": "string"}},
                    "401": {"description": "Missing user", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "post": {
                "description": "Stores the issue and queues one delivery per confirmed subscriber, in one transaction.\nRetrying with the same idempotency_key returns the original response without publishing again.",
                "consumes": ["application/x-www-form-urlencoded"],
                "produces": ["text/plain"],
                "tags": ["Newsletters"],
                "summary": "Publish a newsletter issue",
                "operationId": "publishNewsletter",
                "parameters": [
                    {"type": "string", "example": "admin", "description": "Authenticated admin", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "string", "description": "Subject line", "name": "title", "in": "formData", "required": true},
                    {"type": "string", "description": "Plain text body", "name": "text_content", "in": "formData", "required": true},
                    {"type": "string", "description": "HTML body", "name": "html_content", "in": "formData", "required": true},
                    {"type": "string", "description": "1-50 printable ASCII characters, no whitespace", "name": "idempotency_key", "in": "formData", "required": true}
                ],
                "responses": {
                    "303": {
                        "description": "Accepted; Location points at the issue list",
                        "schema": {"type": "string"},
                        "headers": {"X-Newsletter-Issue-Id": {"type": "string", "description": "Id of the published issue"}}
                    },
                    "400": {"description": "Invalid key or form", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Missing user", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/admin/newsletters/{id}": {
            "get": {
                "description": "Returns the issue and how many deliveries are still queued or retrying.",
                "produces": ["application/json"],
                "tags": ["Newsletters"],
                "summary": "Issue delivery status",
                "operationId": "getNewsletterStatus",
                "parameters": [
                    {"type": "string", "example": "admin", "description": "Authenticated admin", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "string", "format": "uuid", "description": "Issue ID (UUID)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.IssueStatusResponse"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Issue not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "domain.NewsletterIssue": {
            "type": "object",
            "properties": {
                "html_content": {"type": "string"},
                "id": {"type": "string"},
                "published_at": {"type": "string"},
                "text_content": {"type": "string"},
                "title": {"type": "string"}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"description": "Stable, machine-readable code (see errors.go)", "type": "string", "example": "not_found"},
                "message": {"description": "Human-readable message", "type": "string", "example": "newsletter issue not found"},
                "request_id": {"description": "Echo of X-Request-ID", "type": "string", "example": "123e4567-e89b-12d3-a456-426614174000"}
            }
        },
        "handlers.IssueStatusResponse": {
            "type": "object",
            "properties": {
                "completed": {"description": "True once every delivery reached a terminal outcome.", "type": "boolean"},
                "issue": {"$ref": "#/definitions/domain.NewsletterIssue"},
                "pending": {"description": "Tasks not yet delivered, dropped or abandoned.", "type": "integer"},
                "retrying": {"description": "Subset of Pending that failed at least once.", "type": "integer"}
            }
        },
        "handlers.ListIssuesResponse": {
            "type": "object",
            "properties": {
                "issues": {"type": "array", "items": {"$ref": "#/definitions/domain.NewsletterIssue"}},
                "pagination": {"$ref": "#/definitions/handlers.Pagination"}
            }
        },
        "handlers.Pagination": {
            "type": "object",
            "properties": {
                "has_next": {"type": "boolean"},
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total": {"type": "integer"},
                "total_pages": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Newsletter Admin API",
	Description:      "Idempotent newsletter publishing with an outbox-backed delivery queue.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
