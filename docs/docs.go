// Package docs регистрирует описание API для swagger UI на /docs/*.
// Пересобирается командой swag init -g cmd/billing-api/main.go.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "API Support",
            "email": "support@unistudentsmatch.example"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/trial": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Billing"],
                "summary": "Начать пробный период",
                "parameters": [
                    {"description": "Профиль пользователя", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/trial.Request"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Ошибка валидации или не указан контакт опекуна", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "409": {"description": "Пробный период уже начат", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/orders": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Billing"],
                "summary": "Предавторизовать карту",
                "parameters": [
                    {"type": "string", "description": "Ключ идемпотентности", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Платёжный метод", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/order.Request"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Ошибка валидации, карта отклонена или пробный период закончился", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "502": {"description": "Провайдер недоступен", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/subscribe": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Billing"],
                "summary": "Оформить подписку",
                "parameters": [
                    {"type": "string", "description": "Ключ идемпотентности", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Провайдер и платёжные данные", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/subscribe.Request"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Ошибка валидации, отказ провайдера или недопустимый статус", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "409": {"description": "Подписка уже активна", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "502": {"description": "Провайдер недоступен", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/confirm-subscription": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Billing"],
                "summary": "Подтвердить подписку после редиректа",
                "parameters": [
                    {"description": "Идентификатор подписки", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/confirm.Request"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Ошибка валидации или подписка не одобрена провайдером", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "409": {"description": "Подписка уже подтверждена", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/cancel-subscription": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Billing"],
                "summary": "Отменить подписку",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Нет активной подписки", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/subscription": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Billing"],
                "summary": "Состояние подписки",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "404": {"description": "Пользователь не найден", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/access-check": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Billing"],
                "summary": "Проверить платный доступ",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "402": {"description": "Нет активной подписки", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/webhooks/{provider}": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Webhooks"],
                "summary": "Вебхук платёжного провайдера",
                "parameters": [
                    {"enum": ["authorization-provider", "recurring-provider"], "type": "string", "description": "Провайдер", "name": "provider", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Неверная подпись", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "404": {"description": "Неизвестный провайдер", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "response.Response": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "error": {"type": "string"},
                "data": {}
            }
        },
        "response.ErrorResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "Error"},
                "error": {"type": "string", "example": "invalid request body"}
            }
        },
        "subscribe.Request": {
            "type": "object",
            "required": ["provider"],
            "properties": {
                "provider": {"type": "string", "example": "recurring-provider"},
                "paymentDetails": {"$ref": "#/definitions/subscribe.PaymentDetails"}
            }
        },
        "subscribe.PaymentDetails": {
            "type": "object",
            "properties": {
                "order_id": {"type": "string", "example": "pi_3Nx"},
                "payment_method_id": {"type": "string", "example": "pm_card_visa"}
            }
        },
        "confirm.Request": {
            "type": "object",
            "required": ["subscription_id"],
            "properties": {
                "subscription_id": {"type": "string", "example": "I-BW452GLLEP1G"}
            }
        },
        "trial.Request": {
            "type": "object",
            "required": ["email", "gender"],
            "properties": {
                "email": {"type": "string", "example": "anna@uni.ac.uk"},
                "first_name": {"type": "string", "example": "Anna"},
                "gender": {"type": "string", "example": "female"},
                "guardian_email": {"type": "string"}
            }
        },
        "order.Request": {
            "type": "object",
            "required": ["payment_method_id"],
            "properties": {
                "payment_method_id": {"type": "string", "example": "pm_card_visa"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Type \"Bearer\" followed by a space and JWT token.",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "UniMatch Billing API",
	Description:      "Подписки, пробный период, платёжные провайдеры и вебхуки платформы знакомств.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
