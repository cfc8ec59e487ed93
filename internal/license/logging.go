package license

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"licenselock/internal/infrastructure"
)

// logAction logs an engine action with a matching span event.
func (e *Engine) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	infrastructure.AddSpanEvent(ctx, "license."+action,
		attribute.String("action", action),
		attribute.String("result", result),
	)

	allAttrs := make([]slog.Attr, 0, len(attrs)+2)
	allAttrs = append(allAttrs,
		slog.String("action", action),
		slog.String("result", result),
	)
	allAttrs = append(allAttrs, attrs...)

	infrastructure.LoggerWithContext(ctx, e.logger).LogAttrs(ctx, level, result, allAttrs...)
}

// licenseAttrs identifies a license in logs without exposing the key.
func licenseAttrs(identifier string) []slog.Attr {
	return []slog.Attr{
		slog.String("license_key", maskLicenseKey(identifier)),
		slog.String("license_hash", hashLicenseKey(identifier)),
	}
}

func (e *Engine) logInfo(ctx context.Context, action, result string, attrs ...slog.Attr) {
	e.logAction(ctx, slog.LevelInfo, action, result, attrs...)
}

func (e *Engine) logWarn(ctx context.Context, action, result string, attrs ...slog.Attr) {
	e.logAction(ctx, slog.LevelWarn, action, result, attrs...)
}

func (e *Engine) logError(ctx context.Context, action, result string, attrs ...slog.Attr) {
	e.logAction(ctx, slog.LevelError, action, result, attrs...)
}

// maskLicenseKey masks the license key for logs
func maskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// hashLicenseKey returns a short sha256 prefix for correlating audit entries
func hashLicenseKey(key string) string {
	if key == "" {
		return ""
	}
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h)[:16]
}
