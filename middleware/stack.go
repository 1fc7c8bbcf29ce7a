package middleware

import (
	"strings"

	"schoolreg/config"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// CORSConfig allows the given comma-separated origins. Session cookies are only
// sent cross-origin to listed origins; a wildcard serves any origin without credentials.
func CORSConfig(origins string) cors.Config {
	origins = strings.TrimSpace(origins)
	if origins == "" {
		origins = "*"
	}
	return cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: !strings.Contains(origins, "*"),
	}
}

// UseGlobal installs the middleware every request passes through.
func UseGlobal(app *fiber.App) {
	app.Use(recover.New())
	app.Use(helmet.New())
	app.Use(cors.New(CORSConfig(config.AppConfig.CORSAllowedOrigins)))
	app.Use(LoggerMiddleware())
	app.Use(LogActivityMiddleware())
}
