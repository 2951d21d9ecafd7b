package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/signup-sync/api/responses"
	"github.com/angelmondragon/signup-sync/pkg/db"
	"github.com/angelmondragon/signup-sync/pkg/logger"
	"github.com/angelmondragon/signup-sync/pkg/redis"
)

const healthTimeout = 3 * time.Second

type HealthResponse struct {
	Status         string `json:"status"`
	DBReachable    bool   `json:"db_reachable"`
	RedisReachable *bool  `json:"redis_reachable,omitempty"`
}

// Health pings the database and, when configured, Redis. Only the database
// decides the status code; Redis is reported but optional.
func Health(logg *logger.Logger, dbP db.Pinger, redisP redis.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := HealthResponse{Status: "healthy", DBReachable: true}
		status := http.StatusOK

		if dbP == nil {
			resp.DBReachable = false
		} else if err := dbP.Ping(ctx); err != nil {
			resp.DBReachable = false
			if logg != nil {
				logg.Error(ctx, "health.db_unreachable", err)
			}
		}
		if !resp.DBReachable {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}

		if redisP != nil {
			ok := redisP.Ping(ctx) == nil
			resp.RedisReachable = &ok
			if !ok && resp.DBReachable {
				resp.Status = "degraded"
				if logg != nil {
					logg.Warn(ctx, "health.redis_unreachable")
				}
			}
		}

		responses.WriteSuccessStatus(w, status, resp)
	}
}
