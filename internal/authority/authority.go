// Package authority implements license.Authority against the external
// systems that know which license keys were genuinely issued: an HTTP
// endpoint (such as a Google Apps Script web app) or a Google Sheet.
package authority

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"licenselock/internal/config"
	"licenselock/internal/license"
	"licenselock/internal/security"
)

// revokedStatuses are sheet or endpoint statuses that deny a key.
var revokedStatuses = map[string]bool{
	"revoked":   true,
	"refunded":  true,
	"cancelled": true,
	"canceled":  true,
	"disabled":  true,
}

// genuineStatus reports whether an authority status marks a key as issued
// and still honoured. An empty status counts as genuine.
func genuineStatus(status string) bool {
	return !revokedStatuses[strings.ToLower(strings.TrimSpace(status))]
}

// New builds the authority selected by cfg.Kind. The "none" kind yields a nil
// authority, so only records already in the store are accepted.
func New(ctx context.Context, cfg config.AuthorityConfig, logger *slog.Logger) (license.Authority, error) {
	logger = logger.With(slog.String("component", "authority"), slog.String("kind", cfg.Kind))

	switch cfg.Kind {
	case config.AuthorityNone, "":
		logger.InfoContext(ctx, "No license authority configured")
		return nil, nil

	case config.AuthorityHTTP:
		a, err := NewHTTPAuthority(cfg, logger)
		if err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "HTTP license authority configured",
			slog.Bool("signed_requests", cfg.SharedSecret != ""))
		return a, nil

	case config.AuthoritySheets:
		creds, err := security.LoadCredentials(cfg.CredentialsFile, cfg.CredentialsPassphrase)
		if err != nil {
			return nil, fmt.Errorf("load sheets credentials: %w", err)
		}
		defer creds.Clear()

		a, err := NewSheetsAuthority(ctx, cfg, logger, SheetsCredentials(creds.Data()))
		if err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "Sheets license authority configured", slog.String("sheet_name", cfg.SheetName))
		return a, nil

	default:
		return nil, fmt.Errorf("unsupported authority kind: %s", cfg.Kind)
	}
}
