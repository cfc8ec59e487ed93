package exporter

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"licenselock/pkg/contracts/domain"
)

const (
	licenseSheet = "Licenses"
	summarySheet = "Summary"
)

// LicenseHeaders are the column names of a license export.
var LicenseHeaders = []string{"key", "activation_state", "used", "bound_device_id", "suspended"}

// LicenseExporter renders license listings as CSV or XLSX
type LicenseExporter struct {
	csv    *CSVWriter
	logger *slog.Logger
}

// NewLicenseExporter creates an exporter resolving relative paths against baseDir
func NewLicenseExporter(baseDir string, logger *slog.Logger) *LicenseExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseExporter{
		csv:    NewCSVWriter(baseDir, logger),
		logger: logger,
	}
}

// Summarize counts used and suspended licenses
func Summarize(licenses []domain.LicenseSummary, generatedAt time.Time) domain.ExportMetadata {
	meta := domain.ExportMetadata{GeneratedAt: generatedAt, Total: len(licenses)}
	for _, l := range licenses {
		if l.Used() {
			meta.Used++
		}
		if l.Suspended {
			meta.Suspended++
		}
	}
	return meta
}

// LicenseRecord converts a summary to a CSV row matching LicenseHeaders
func LicenseRecord(l domain.LicenseSummary) []string {
	return []string{
		l.Key,
		string(l.ActivationState),
		formatBool(l.Used()),
		l.BoundDeviceID,
		formatBool(l.Suspended),
	}
}

// Export writes licenses to filePath in the given format
func (e *LicenseExporter) Export(filePath string, format Format, licenses []domain.LicenseSummary, generatedAt time.Time) (domain.ExportMetadata, error) {
	meta := Summarize(licenses, generatedAt)

	var err error
	switch format {
	case FormatCSV:
		err = e.ExportCSV(filePath, licenses)
	case FormatXLSX:
		err = e.ExportXLSX(filePath, licenses, meta)
	default:
		err = fmt.Errorf("unsupported export format %q", format)
	}
	if err != nil {
		return domain.ExportMetadata{}, err
	}

	e.logger.Info("License export written",
		slog.String("path", filePath),
		slog.String("format", string(format)),
		slog.Int("total", meta.Total),
		slog.Int("used", meta.Used),
		slog.Int("suspended", meta.Suspended))
	return meta, nil
}

// ExportCSV streams licenses to a CSV file
func (e *LicenseExporter) ExportCSV(filePath string, licenses []domain.LicenseSummary) error {
	stream, err := e.csv.CreateStreamWriter(filePath, LicenseHeaders)
	if err != nil {
		return err
	}

	for _, l := range licenses {
		if err := stream.WriteRecord(LicenseRecord(l)); err != nil {
			stream.Close()
			return fmt.Errorf("failed to write license %d: %w", stream.Count(), err)
		}
	}

	return stream.Close()
}

// ExportXLSX writes a workbook with a Licenses sheet and a Summary sheet
func (e *LicenseExporter) ExportXLSX(filePath string, licenses []domain.LicenseSummary, meta domain.ExportMetadata) error {
	fullPath := e.csv.resolvePath(filePath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", licenseSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	header := make([]interface{}, len(LicenseHeaders))
	for i, h := range LicenseHeaders {
		header[i] = h
	}
	if err := f.SetSheetRow(licenseSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(LicenseHeaders), 1)
	if err := f.SetCellStyle(licenseSheet, "A1", lastHeader, headerStyle); err != nil {
		return fmt.Errorf("failed to style headers: %w", err)
	}

	for i, l := range licenses {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []interface{}{l.Key, string(l.ActivationState), l.Used(), l.BoundDeviceID, l.Suspended}
		if err := f.SetSheetRow(licenseSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write license %d: %w", i, err)
		}
	}
	if err := f.SetColWidth(licenseSheet, "A", "A", 24); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}
	if err := f.SetColWidth(licenseSheet, "D", "D", 36); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}
	summary := [][]interface{}{
		{"generated_at", formatTime(meta.GeneratedAt)},
		{"total", meta.Total},
		{"used", meta.Used},
		{"unredeemed", meta.Total - meta.Used},
		{"suspended", meta.Suspended},
	}
	for i, row := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	}

	if err := f.SaveAs(fullPath); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

// SummaryRecords renders export metadata as key/value CSV rows
func SummaryRecords(meta domain.ExportMetadata) [][]string {
	return [][]string{
		{"generated_at", formatTime(meta.GeneratedAt)},
		{"total", formatInt(meta.Total)},
		{"used", formatInt(meta.Used)},
		{"unredeemed", formatInt(meta.Total - meta.Used)},
		{"suspended", formatInt(meta.Suspended)},
	}
}

// WriteSummaryCSV writes export metadata next to a CSV export
func (e *LicenseExporter) WriteSummaryCSV(filePath string, meta domain.ExportMetadata) error {
	return e.csv.WriteCSV(filePath, WriteOptions{
		Headers:   []string{"metric", "value"},
		Records:   SummaryRecords(meta),
		BOMPrefix: true,
	})
}
