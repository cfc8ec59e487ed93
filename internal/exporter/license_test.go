package exporter

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"licenselock/internal/shared/testutil"
	"licenselock/pkg/contracts/domain"
)

var exportTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleLicenses() []domain.LicenseSummary {
	return []domain.LicenseSummary{
		{Key: "LIC-AAAA-AAAA-AAAA", ActivationState: domain.StateLocked, BoundDeviceID: "dev-1"},
		{Key: "LIC-BBBB-BBBB-BBBB", ActivationState: domain.StateUnredeemed},
		{Key: "LIC-CCCC-CCCC-CCCC", ActivationState: domain.StateLocked, BoundDeviceID: "dev-2", Suspended: true},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(content, utf8BOM))

	records, err := csv.NewReader(bytes.NewReader(content[len(utf8BOM):])).ReadAll()
	require.NoError(t, err)
	return records
}

func TestSummarize(t *testing.T) {
	meta := Summarize(sampleLicenses(), exportTime)
	assert.Equal(t, domain.ExportMetadata{GeneratedAt: exportTime, Total: 3, Used: 2, Suspended: 1}, meta)

	empty := Summarize(nil, exportTime)
	assert.Zero(t, empty.Total)
}

func TestLicenseExporter_ExportCSV(t *testing.T) {
	dir := t.TempDir()
	logger, logs := testutil.NewTestLogger(t)
	exp := NewLicenseExporter(dir, logger)

	meta, err := exp.Export("reports/licenses.csv", FormatCSV, sampleLicenses(), exportTime)
	require.NoError(t, err)
	assert.Equal(t, 3, meta.Total)

	records := readCSV(t, filepath.Join(dir, "reports", "licenses.csv"))
	require.Len(t, records, 4)
	assert.Equal(t, LicenseHeaders, records[0])
	assert.Equal(t, []string{"LIC-AAAA-AAAA-AAAA", "locked", "true", "dev-1", "false"}, records[1])
	assert.Equal(t, []string{"LIC-BBBB-BBBB-BBBB", "unredeemed", "false", "", "false"}, records[2])
	assert.Equal(t, "true", records[3][4])

	assert.True(t, logs.ContainsMessage("License export written"))
}

func TestLicenseExporter_ExportCSVEmpty(t *testing.T) {
	dir := t.TempDir()
	exp := NewLicenseExporter(dir, nil)

	_, err := exp.Export("empty.csv", FormatCSV, nil, exportTime)
	require.NoError(t, err)

	records := readCSV(t, filepath.Join(dir, "empty.csv"))
	assert.Equal(t, [][]string{LicenseHeaders}, records)
}

func TestLicenseExporter_ExportXLSX(t *testing.T) {
	dir := t.TempDir()
	exp := NewLicenseExporter(dir, nil)

	_, err := exp.Export("licenses.xlsx", FormatXLSX, sampleLicenses(), exportTime)
	require.NoError(t, err)

	f, err := excelize.OpenFile(filepath.Join(dir, "licenses.xlsx"))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{licenseSheet, summarySheet}, f.GetSheetList())

	rows, err := f.GetRows(licenseSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, LicenseHeaders, rows[0])
	assert.Equal(t, "LIC-AAAA-AAAA-AAAA", rows[1][0])
	assert.Equal(t, "dev-1", rows[1][3])

	total, err := f.GetCellValue(summarySheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "3", total)
	unredeemed, err := f.GetCellValue(summarySheet, "B4")
	require.NoError(t, err)
	assert.Equal(t, "1", unredeemed)
}

func TestLicenseExporter_UnsupportedFormat(t *testing.T) {
	_, err := NewLicenseExporter(t.TempDir(), nil).Export("x.pdf", Format("pdf"), nil, exportTime)
	assert.Error(t, err)
}

func TestLicenseExporter_WriteSummaryCSV(t *testing.T) {
	dir := t.TempDir()
	exp := NewLicenseExporter(dir, nil)

	require.NoError(t, exp.WriteSummaryCSV("summary.csv", Summarize(sampleLicenses(), exportTime)))

	records := readCSV(t, filepath.Join(dir, "summary.csv"))
	assert.Equal(t, []string{"metric", "value"}, records[0])
	assert.Equal(t, []string{"generated_at", "2025-03-01T12:00:00Z"}, records[1])
	assert.Equal(t, []string{"suspended", "1"}, records[5])
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "csv", want: FormatCSV},
		{in: " XLSX ", want: FormatXLSX},
		{in: "json", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
