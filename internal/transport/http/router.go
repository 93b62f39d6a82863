package httptransport

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"

	"senweaver-server-go/internal/platform/logging"
	"senweaver-server-go/internal/platform/observability"
)

const logTag = "HTTP"

// Options configures the HTTP router builder.
type Options struct {
	Debug          bool
	Logger         *logging.Logger
	Metrics        *observability.Metrics
	AuthMiddleware gin.HandlerFunc
	AllowOrigins   []string
	StaticRoot     string
}

// Router bundles together the gin engine and common route groups.
type Router struct {
	Engine *gin.Engine
	API    *gin.RouterGroup
	// Protected shares the /api prefix but requires the admin bearer token.
	Protected *gin.RouterGroup
	Secured   *gin.RouterGroup
}

// Build constructs a gin engine pre-configured with logging, recovery, CORS and observability middlewares.
func Build(opts Options) (*Router, error) {
	if opts.AuthMiddleware == nil {
		return nil, fmt.Errorf("http router requires an admin auth middleware")
	}

	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggingMiddleware(opts.Logger))
	engine.Use(observabilityMiddleware(opts.Metrics))

	_ = engine.SetTrustedProxies(nil)

	origins := opts.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	engine.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Authorization",
			"X-Client-Id",
		},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(origins),
		MaxAge:           12 * time.Hour,
	}))

	// 管理后台静态页面
	if opts.StaticRoot != "" {
		if info, err := os.Stat(opts.StaticRoot); err == nil && info.IsDir() {
			engine.Use(static.Serve("/admin", static.LocalFile(opts.StaticRoot, true)))
		} else {
			opts.Logger.WarnTag(logTag, "静态目录 %s 不存在，跳过管理后台页面", opts.StaticRoot)
		}
	}

	engine.NoRoute(func(c *gin.Context) {
		RespondError(c, http.StatusNotFound, "not found", gin.H{"path": c.Request.URL.Path})
	})

	api := engine.Group("/api")
	protected := api.Group("", opts.AuthMiddleware)
	secured := api.Group("/admin")
	secured.Use(opts.AuthMiddleware)

	return &Router{
		Engine:    engine,
		API:       api,
		Protected: protected,
		Secured:   secured,
	}, nil
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)
		status := c.Writer.Status()

		if status >= http.StatusInternalServerError {
			logger.WarnTag(logTag, "%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, duration)
			return
		}
		logger.DebugTag(logTag, "%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, duration)
	}
}

func observabilityMiddleware(metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		reqCtx, spanEnd := observability.StartSpan(c.Request.Context(), "http.server", path)
		var spanErr error
		c.Request = c.Request.WithContext(reqCtx)

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		if len(c.Errors) > 0 {
			spanErr = c.Errors.Last().Err
		} else if status := c.Writer.Status(); status >= http.StatusInternalServerError {
			spanErr = fmt.Errorf("status %d", status)
		}
		spanEnd(spanErr)

		metrics.RecordHTTP(path, c.Request.Method, strconv.Itoa(c.Writer.Status()), duration)
	}
}
