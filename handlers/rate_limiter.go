package handlers

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"survey-management-backend/cache"
)

var (
	globalLimiter    cache.RateLimiter
	userLimiter      *cache.UserRateLimiter
	localLimiter     *rate.Limiter
	rateLimitEnabled bool

	limitStatistics = make(map[string]int64)
	limitStatsLock  = &sync.RWMutex{}

	rateLimiterConfig = RateLimiterConfig{
		GlobalRate:  100,
		GlobalBurst: 200,
		UserRate:    10,
		UserBurst:   20,
	}
)

// RateLimiterConfig holds the limiter settings, adjustable at runtime.
type RateLimiterConfig struct {
	Enabled     bool `json:"enabled"`
	GlobalRate  int  `json:"globalRate"`
	GlobalBurst int  `json:"globalBurst"`
	UserRate    int  `json:"userRate"`
	UserBurst   int  `json:"userBurst"`
}

// RateLimiterStats is the limiter's counters snapshot.
type RateLimiterStats struct {
	TotalRequests     int64             `json:"totalRequests"`
	AllowedRequests   int64             `json:"allowedRequests"`
	RejectedRequests  int64             `json:"rejectedRequests"`
	UserRequestStats  map[string]int64  `json:"userRequestStats"`
	RateLimiterConfig RateLimiterConfig `json:"config"`
}

// InitRateLimiters reads the limiter configuration from the environment and
// builds the limiters when enabled.
func InitRateLimiters() {
	if os.Getenv("ENABLE_RATE_LIMIT") == "true" {
		rateLimitEnabled = true
	}

	if v := os.Getenv("GLOBAL_RATE_LIMIT"); v != "" {
		if r, err := strconv.Atoi(v); err == nil && r > 0 {
			rateLimiterConfig.GlobalRate = r
			rateLimiterConfig.GlobalBurst = r * 2
		}
	}
	if v := os.Getenv("USER_RATE_LIMIT"); v != "" {
		if r, err := strconv.Atoi(v); err == nil && r > 0 {
			rateLimiterConfig.UserRate = r
			rateLimiterConfig.UserBurst = r * 2
		}
	}
	rateLimiterConfig.Enabled = rateLimitEnabled

	if rateLimitEnabled {
		resetRateLimiters()
	}
}

// resetRateLimiters rebuilds the limiters from the current config. The
// Redis token bucket is shared across instances; when Redis is unreachable
// an in-process limiter takes over so the API is never entirely unguarded.
func resetRateLimiters() {
	localLimiter = rate.NewLimiter(rate.Limit(rateLimiterConfig.GlobalRate), rateLimiterConfig.GlobalBurst)

	redisClient, err := cache.GetRedisClient()
	if err != nil {
		log.Printf("rate limiter falling back to in-process limiting: %v", err)
		globalLimiter = nil
		userLimiter = nil
		return
	}

	globalLimiter = cache.NewTokenBucketRateLimiter(
		redisClient,
		"global_api",
		rateLimiterConfig.GlobalRate,
		rateLimiterConfig.GlobalBurst,
	)
	userLimiter = cache.NewUserRateLimiter(
		redisClient,
		"user_api",
		rateLimiterConfig.GlobalRate,
		rateLimiterConfig.GlobalBurst,
		rateLimiterConfig.UserRate,
		rateLimiterConfig.UserBurst,
	)

	limitStatsLock.Lock()
	limitStatistics = map[string]int64{
		"total":    0,
		"allowed":  0,
		"rejected": 0,
	}
	limitStatsLock.Unlock()

	log.Printf("rate limiters initialized: global=%d/s, per-user=%d/s",
		rateLimiterConfig.GlobalRate, rateLimiterConfig.UserRate)
}

func bumpStat(key string) {
	limitStatsLock.Lock()
	limitStatistics[key]++
	limitStatsLock.Unlock()
}

// RateLimitMiddleware applies the global and per-user limits.
func RateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rateLimitEnabled {
			c.Next()
			return
		}

		bumpStat("total")

		if globalLimiter != nil {
			allowed, err := globalLimiter.Allow(c)
			if err != nil || !allowed {
				bumpStat("rejected")
				c.JSON(http.StatusTooManyRequests, gin.H{"error": "request rate too high, try again later"})
				c.Abort()
				return
			}
		} else if localLimiter != nil && !localLimiter.Allow() {
			bumpStat("rejected")
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "request rate too high, try again later"})
			c.Abort()
			return
		}

		userID := c.GetHeader("X-User-ID")
		if userID != "" && userLimiter != nil {
			allowed, err := userLimiter.AllowUser(c, userID)
			if err != nil || !allowed {
				bumpStat("rejected")
				bumpStat("user:" + userID)
				c.JSON(http.StatusTooManyRequests, gin.H{"error": "your request rate is too high, try again later"})
				c.Abort()
				return
			}
		}

		bumpStat("allowed")
		c.Next()
	}
}

// GetRateLimiterStats returns the limiter counters.
func GetRateLimiterStats(c *gin.Context) {
	limitStatsLock.RLock()
	stats := RateLimiterStats{
		TotalRequests:     limitStatistics["total"],
		AllowedRequests:   limitStatistics["allowed"],
		RejectedRequests:  limitStatistics["rejected"],
		UserRequestStats:  make(map[string]int64),
		RateLimiterConfig: rateLimiterConfig,
	}
	for key, value := range limitStatistics {
		if strings.HasPrefix(key, "user:") {
			stats.UserRequestStats[key] = value
		}
	}
	limitStatsLock.RUnlock()

	c.JSON(http.StatusOK, stats)
}

// UpdateRateLimiterConfig swaps in a new limiter configuration.
func UpdateRateLimiterConfig(c *gin.Context) {
	if _, ok := requireAdmin(c); !ok {
		return
	}

	var config RateLimiterConfig
	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid configuration"})
		return
	}
	if config.GlobalRate <= 0 || config.GlobalBurst <= 0 ||
		config.UserRate <= 0 || config.UserBurst <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rates and bursts must be greater than zero"})
		return
	}

	rateLimiterConfig = config
	rateLimitEnabled = config.Enabled
	if rateLimitEnabled {
		resetRateLimiters()
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "rate limiter configuration updated",
		"config":  rateLimiterConfig,
	})
}
