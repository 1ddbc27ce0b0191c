package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "TutorDesk API",
        "description": "Scheduling, billing and reporting backend for a solo tutoring practice",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "tags": [
        {"name": "Auth", "description": "Tutor account and tokens"},
        {"name": "Sessions", "description": "Lesson scheduling and lifecycle"},
        {"name": "Billing", "description": "Earnings summaries and the payment ledger"},
        {"name": "Rates", "description": "Per-student hourly rates"},
        {"name": "Settings", "description": "Tutor preferences"},
        {"name": "Backups", "description": "Snapshots, restore and data portability"},
        {"name": "Reports", "description": "Asynchronous CSV/PDF exports"},
        {"name": "Calendar", "description": "iCalendar feed"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "Degraded"}
                }
            }
        },
        "/api/v1/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Login",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/api/v1/auth/refresh": {
            "post": {
                "tags": ["Auth"],
                "summary": "Rotate the refresh token",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/sessions": {
            "get": {
                "tags": ["Sessions"],
                "summary": "List sessions",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "student", "in": "query", "type": "string"},
                    {"name": "from", "in": "query", "type": "string"},
                    {"name": "to", "in": "query", "type": "string"},
                    {"name": "day", "in": "query", "type": "string"},
                    {"name": "cancelled", "in": "query", "type": "boolean"},
                    {"name": "pending", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "sort", "in": "query", "type": "string"},
                    {"name": "order", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Sessions"],
                "summary": "Schedule a session",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SaveSessionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Slot clash", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/sessions/{id}": {
            "get": {
                "tags": ["Sessions"],
                "summary": "Get one session",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            },
            "put": {
                "tags": ["Sessions"],
                "summary": "Reschedule or amend a session",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SaveSessionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Slot clash"}
                }
            },
            "delete": {
                "tags": ["Sessions"],
                "summary": "Delete a session",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Deleted"}
                }
            }
        },
        "/api/v1/sessions/{id}/cancel": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Cancel a session with a reason",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CancelSessionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/sessions/{id}/restore": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Restore a cancelled session",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Slot reclaimed meanwhile"}
                }
            }
        },
        "/api/v1/sessions/{id}/confirm": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Confirm a pending session",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/sessions/{id}/duplicate": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Duplicate a session onto another date",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DuplicateSessionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/sessions/copy-week": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Copy one week's schedule onto another",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CopyWeekRequest"}}
                ],
                "responses": {
                    "200": {"description": "Created and skipped sessions", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/sessions/check-conflict": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Probe a slot for clashes without saving",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ConflictCheckRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/sessions/slots": {
            "get": {
                "tags": ["Sessions"],
                "summary": "Free slots for a date",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "date", "in": "query", "required": true, "type": "string"},
                    {"name": "duration", "in": "query", "type": "integer"},
                    {"name": "exclude_id", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/billing/summary": {
            "get": {
                "tags": ["Billing"],
                "summary": "Billing summary for a period",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "from", "in": "query", "required": true, "type": "string"},
                    {"name": "to", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/billing/payments": {
            "post": {
                "tags": ["Billing"],
                "summary": "Mark a session slot paid or unpaid",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/MarkPaymentRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/rates/{student}": {
            "put": {
                "tags": ["Rates"],
                "summary": "Set a student's hourly rate",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "student", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SetRateRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Rates"],
                "summary": "Remove a student's rate override",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "student", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Removed"}
                }
            }
        },
        "/api/v1/backups": {
            "get": {
                "tags": ["Backups"],
                "summary": "List stored backups",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Backups"],
                "summary": "Take a manual backup",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/reports": {
            "post": {
                "tags": ["Reports"],
                "summary": "Queue a report export",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReportRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/calendar.ics": {
            "get": {
                "tags": ["Calendar"],
                "summary": "Signed iCalendar feed",
                "produces": ["text/calendar"],
                "parameters": [
                    {"name": "from", "in": "query", "required": true, "type": "string"},
                    {"name": "to", "in": "query", "required": true, "type": "string"},
                    {"name": "expires", "in": "query", "required": true, "type": "integer"},
                    {"name": "signature", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "iCalendar document"},
                    "401": {"description": "Bad or expired signature"}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["email", "password"]
        },
        "SaveSessionRequest": {
            "type": "object",
            "properties": {
                "student": {"type": "string"},
                "date": {"type": "string", "example": "2026-03-09"},
                "start_time": {"type": "string", "example": "15:00"},
                "end_time": {"type": "string", "example": "16:30"},
                "pending_confirmation": {"type": "boolean"},
                "allow_conflict": {"type": "boolean"}
            },
            "required": ["student", "date", "start_time", "end_time"]
        },
        "CancelSessionRequest": {
            "type": "object",
            "properties": {
                "reason": {"type": "string"},
                "note": {"type": "string"}
            },
            "required": ["reason"]
        },
        "DuplicateSessionRequest": {
            "type": "object",
            "properties": {
                "date": {"type": "string"}
            },
            "required": ["date"]
        },
        "CopyWeekRequest": {
            "type": "object",
            "properties": {
                "from_week_start": {"type": "string"},
                "to_week_start": {"type": "string"}
            },
            "required": ["from_week_start", "to_week_start"]
        },
        "ConflictCheckRequest": {
            "type": "object",
            "properties": {
                "student": {"type": "string"},
                "date": {"type": "string"},
                "start_time": {"type": "string"},
                "end_time": {"type": "string"},
                "exclude_id": {"type": "string"}
            },
            "required": ["date", "start_time", "end_time"]
        },
        "MarkPaymentRequest": {
            "type": "object",
            "properties": {
                "student": {"type": "string"},
                "date": {"type": "string"},
                "start_time": {"type": "string"},
                "end_time": {"type": "string"},
                "paid": {"type": "boolean"}
            },
            "required": ["student", "date", "start_time", "end_time"]
        },
        "SetRateRequest": {
            "type": "object",
            "properties": {
                "hourly_rate": {"type": "integer", "minimum": 0}
            }
        },
        "ReportRequest": {
            "type": "object",
            "properties": {
                "type": {"type": "string", "enum": ["billing_statement", "session_log"]},
                "from": {"type": "string"},
                "to": {"type": "string"},
                "student": {"type": "string"},
                "format": {"type": "string", "enum": ["csv", "pdf"]}
            },
            "required": ["type", "from", "to", "format"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
