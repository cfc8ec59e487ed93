package authority

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"licenselock/internal/config"
)

// Sheet layout: LicenseKey | Duration | ExpiryDate | Status, with a header row.
const (
	columnKey    = 0
	columnStatus = 3
)

// SheetsCredentials authenticates with a service account JSON document.
func SheetsCredentials(serviceAccountJSON []byte) option.ClientOption {
	return option.WithCredentialsJSON(serviceAccountJSON)
}

// SheetsAuthority treats every key listed in a Google Sheet, and not marked
// revoked, as genuine.
type SheetsAuthority struct {
	service   *sheets.Service
	sheetID   string
	readRange string
	logger    *slog.Logger
}

// NewSheetsAuthority builds a Sheets API client for cfg.SheetID.
func NewSheetsAuthority(ctx context.Context, cfg config.AuthorityConfig, logger *slog.Logger, opts ...option.ClientOption) (*SheetsAuthority, error) {
	if cfg.SheetID == "" {
		return nil, fmt.Errorf("sheet id is required")
	}
	if cfg.UserAgent != "" {
		opts = append(opts, option.WithUserAgent(cfg.UserAgent))
	}

	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	sheetName := cfg.SheetName
	if sheetName == "" {
		sheetName = "Licenses"
	}
	return &SheetsAuthority{
		service:   service,
		sheetID:   cfg.SheetID,
		readRange: sheetName + "!A:D",
		logger:    logger,
	}, nil
}

// Verify implements license.Authority.
func (a *SheetsAuthority) Verify(ctx context.Context, identifier string) (bool, error) {
	resp, err := a.service.Spreadsheets.Values.Get(a.sheetID, a.readRange).Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("failed to read from sheets: %w", err)
	}

	for i, row := range resp.Values {
		if i == 0 || len(row) <= columnKey {
			continue
		}
		if strings.TrimSpace(fmt.Sprint(row[columnKey])) != identifier {
			continue
		}

		status := ""
		if len(row) > columnStatus {
			status = fmt.Sprint(row[columnStatus])
		}
		genuine := genuineStatus(status)
		a.logger.DebugContext(ctx, "License key found in sheet",
			slog.Int("row", i+1),
			slog.String("status", status),
			slog.Bool("genuine", genuine))
		return genuine, nil
	}
	return false, nil
}
