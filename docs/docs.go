// Package docs registers the Soulpull OpenAPI description with swag.
// Regenerate with: swag init -g cmd/api/main.go -o docs
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
        "/health": {"get": {"tags": ["system"], "summary": "Liveness and dependency status", "produces": ["application/json"], "responses": {"200": {"description": "OK"}, "503": {"description": "Degraded"}}}},
        "/tonproof/payload": {"get": {"tags": ["tonproof"], "summary": "Issue a TON Proof challenge", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}}},
        "/tonproof/verify": {"post": {"tags": ["tonproof"], "summary": "Verify a TON Proof and open a session", "consumes": ["application/json"], "produces": ["application/json"], "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/tonproof.VerifyRequest"}}], "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}}}}},
        "/register": {"post": {"tags": ["users"], "summary": "Register a Telegram user", "consumes": ["application/json"], "produces": ["application/json"], "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}}}}},
        "/wallet": {"post": {"tags": ["users"], "summary": "Link a wallet to a Telegram user", "consumes": ["application/json"], "produces": ["application/json"], "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}}}}},
        "/telegram/verify": {"post": {"security": [{"Bearer": []}], "tags": ["users"], "summary": "Link the Telegram account proven by Mini App init data", "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}}}}},
        "/inviter/apply": {"post": {"security": [{"Bearer": []}], "tags": ["users"], "summary": "Set the inviter once", "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}}}}},
        "/author-code/apply": {"post": {"security": [{"Bearer": []}], "tags": ["users"], "summary": "Set the author code once", "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}}}}},
        "/me": {"get": {"security": [{"Bearer": []}], "tags": ["users"], "summary": "Current user's profile, cycle and referral stats", "responses": {"200": {"description": "OK"}}}},
        "/intent": {"post": {"security": [{"Bearer": []}], "tags": ["participation"], "summary": "Create a payment intent", "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}}, "412": {"description": "Precondition Failed", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}}}}},
        "/payments/confirm": {"post": {"security": [{"Bearer": []}], "tags": ["participation"], "summary": "Submit the payment transaction hash", "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}}}}},
        "/confirm": {"post": {"security": [{"Bearer": []}, {"AdminToken": []}], "tags": ["participation", "admin"], "summary": "Submit a tx hash, or decide a participation with X-Admin-Token", "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}}}}},
        "/payout": {"post": {"security": [{"Bearer": []}], "tags": ["payout"], "summary": "Request a payout for the current cycle", "responses": {"200": {"description": "OK"}, "412": {"description": "Precondition Failed", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}}}}},
        "/payout/mark": {"post": {"security": [{"AdminToken": []}], "tags": ["admin"], "summary": "Settle a payout request", "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}}}}},
        "/admin/participations/pending": {"get": {"security": [{"AdminToken": []}], "tags": ["admin"], "summary": "Participations waiting for a decision", "parameters": [{"type": "integer", "in": "query", "name": "limit"}], "responses": {"200": {"description": "OK"}}}},
        "/admin/payouts/open": {"get": {"security": [{"AdminToken": []}], "tags": ["admin"], "summary": "Open payout requests", "parameters": [{"type": "integer", "in": "query", "name": "limit"}], "responses": {"200": {"description": "OK"}}}}
    },
    "definitions": {
        "middleware.ErrorResponse": {
            "type": "object",
            "properties": {
                "ok": {"type": "boolean"},
                "error": {"type": "string"},
                "kind": {"type": "string"},
                "message": {"type": "string"},
                "details": {"type": "object"},
                "request_id": {"type": "string"}
            }
        },
        "tonproof.VerifyRequest": {
            "type": "object",
            "properties": {
                "address": {"type": "string"},
                "network": {"type": "string"},
                "public_key": {"type": "string"},
                "walletStateInit": {"type": "string"},
                "proof": {
                    "type": "object",
                    "properties": {
                        "timestamp": {"type": "integer"},
                        "domain": {"type": "object", "properties": {"lengthBytes": {"type": "integer"}, "value": {"type": "string"}}},
                        "payload": {"type": "string"},
                        "signature": {"type": "string"},
                        "state_init": {"type": "string"}
                    }
                }
            }
        }
    },
    "securityDefinitions": {
        "Bearer": {"type": "apiKey", "name": "Authorization", "in": "header"},
        "AdminToken": {"type": "apiKey", "name": "X-Admin-Token", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Soulpull API",
	Description:      "Referral-funded participation program with TON wallet payments.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
