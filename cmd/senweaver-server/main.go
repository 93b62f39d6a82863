// @title SenWeaver Server API
// @version 1.0
// @description 模型密钥池分配、长连接会话与用量管理接口
// @host localhost:8080
// @BasePath /api
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "senweaver-server failed: %v\n", err)
		os.Exit(1)
	}
}
