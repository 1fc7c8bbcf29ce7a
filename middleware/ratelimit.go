package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

func ipLimiter(limit int, window time.Duration, message string) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        limit,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return fiber.NewError(fiber.StatusTooManyRequests, message)
		},
	})
}

// LoginRateLimiter guards the staff and student login endpoints.
func LoginRateLimiter() fiber.Handler {
	return ipLimiter(5, time.Minute, "Too many login attempts. Try again in a minute.")
}

// PaymentRateLimiter guards payment verification, which calls the gateway.
func PaymentRateLimiter() fiber.Handler {
	return ipLimiter(20, time.Minute, "Too many payment verification requests. Try again shortly.")
}

// ApplicationRateLimiter guards public application submission.
func ApplicationRateLimiter() fiber.Handler {
	return ipLimiter(5, 5*time.Minute, "Too many applications from this address. Wait a few minutes.")
}
