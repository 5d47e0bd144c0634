package storage

import (
	"context"
	"os"
	"path/filepath"
)

// HealthCheck reports the temp area and, when configured, Redis.
func HealthCheck(ctx context.Context, store *TempStore, cache Cache) map[string]string {
	status := make(map[string]string)

	probe := filepath.Join(store.Dir(), ".health")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		status["temp_dir"] = "unhealthy: " + err.Error()
	} else {
		os.Remove(probe)
		status["temp_dir"] = "healthy"
	}

	if rc, ok := cache.(*RedisCache); ok {
		if err := rc.Ping(ctx); err != nil {
			status["redis"] = "unhealthy: " + err.Error()
		} else {
			status["redis"] = "healthy"
		}
	} else {
		status["redis"] = "not configured"
	}

	return status
}
