// Package docs registers the OpenAPI document served at /openapi.json.
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
        "/health": {
            "get": {
                "tags": ["Public"],
                "summary": "服务健康检查",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/model/keys/status": {
            "get": {
                "tags": ["KeyPool"],
                "summary": "获取密钥池状态",
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/model/keys/allocate": {
            "post": {
                "tags": ["KeyPool"],
                "summary": "为指定客户端分配模型配置",
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/webapi.AllocateRequest"}}],
                "responses": {"200": {"description": "OK"}, "503": {"description": "密钥池已满"}}
            }
        },
        "/usage/model": {
            "post": {
                "tags": ["Usage"],
                "summary": "上报一次模型调用",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/webapi.UsageRequest"}}],
                "responses": {"200": {"description": "OK"}, "401": {"description": "签名无效"}}
            }
        },
        "/usage/model/access": {
            "get": {
                "tags": ["Usage"],
                "summary": "查询用户模型调用权限",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "user_id", "in": "query", "required": true},
                    {"type": "string", "name": "timestamp", "in": "query"},
                    {"type": "string", "name": "auth", "in": "query", "required": true}
                ],
                "responses": {"200": {"description": "OK"}, "404": {"description": "用户不存在"}}
            }
        },
        "/clients": {
            "get": {
                "tags": ["Clients"],
                "summary": "获取所有客户端",
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/clients/online": {
            "get": {
                "tags": ["Clients"],
                "summary": "获取在线客户端",
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/version/current": {
            "get": {
                "tags": ["Version"],
                "summary": "获取当前客户端版本",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/admin/login": {
            "post": {
                "tags": ["Admin"],
                "summary": "管理员登录",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/webapi.LoginRequest"}}],
                "responses": {"200": {"description": "OK"}, "401": {"description": "用户名或密码错误"}}
            }
        },
        "/admin/providers": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Admin"],
                "summary": "供应商列表",
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Admin"],
                "summary": "新增供应商",
                "responses": {"201": {"description": "Created"}}
            }
        },
        "/admin/pools": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Admin"],
                "summary": "密钥列表",
                "parameters": [{"type": "integer", "name": "provider_id", "in": "query"}],
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Admin"],
                "summary": "新增密钥",
                "responses": {"201": {"description": "Created"}}
            }
        },
        "/admin/pools/{id}/probe": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Admin"],
                "summary": "探测密钥连通性",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/admin/allocations": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Admin"],
                "summary": "分配记录",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/admin/users/{user_id}/access": {
            "put": {
                "security": [{"BearerAuth": []}],
                "tags": ["Admin"],
                "summary": "更新用户模型权限",
                "parameters": [{"type": "string", "name": "user_id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/admin/version": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Version"],
                "summary": "发布新版本并立即广播心跳",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/admin/system": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Admin"],
                "summary": "进程与主机信息",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/admin/events": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Admin"],
                "summary": "查询审计事件",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "session_id", "in": "query"},
                    {"type": "string", "name": "user_id", "in": "query"},
                    {"type": "string", "name": "type", "in": "query"},
                    {"type": "string", "name": "since", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/admin/events/stats": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Admin"],
                "summary": "审计事件统计",
                "responses": {"200": {"description": "OK"}}
            }
        }
    },
    "definitions": {
        "webapi.AllocateRequest": {
            "type": "object",
            "required": ["client_id"],
            "properties": {
                "client_id": {"type": "string"},
                "user_id": {"type": "string"}
            }
        },
        "webapi.UsageRequest": {
            "type": "object",
            "required": ["user_id", "model_name", "auth"],
            "properties": {
                "user_id": {"type": "string"},
                "model_name": {"type": "string"},
                "api_key": {"type": "string"},
                "timestamp": {"type": "string"},
                "auth": {"type": "string"}
            }
        },
        "webapi.LoginRequest": {
            "type": "object",
            "required": ["username", "password"],
            "properties": {
                "username": {"type": "string"},
                "password": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "SenWeaver Server API",
	Description:      "密钥池分配、用户额度与长连接会话管理接口",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
