package app

import (
	"time"

	"prompt-cache/internal/common/logging"
	"prompt-cache/internal/config"
	"prompt-cache/internal/ratelimit"
)

func (app *App) initializeRateLimiter() {
	rateLimitConfig := &ratelimit.Config{
		DefaultLimit:  config.Int(app.Config.RateLimitDefault, 100),
		DefaultWindow: config.Duration(app.Config.RateLimitWindow, time.Minute),
		Enabled:       app.Config.RateLimitEnabled,
	}

	app.RateLimiter = ratelimit.NewLimiter(app.Store, rateLimitConfig, app.Metrics, nil)

	if rateLimitConfig.Enabled {
		app.Logger.Info("Rate Limiting: Enabled",
			logging.Int("limit", rateLimitConfig.DefaultLimit),
			logging.Duration("window", rateLimitConfig.DefaultWindow),
		)
	} else {
		app.Logger.Info("Rate Limiting: Disabled")
	}
}
