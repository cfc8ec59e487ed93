// Package exporter writes license listings to files for operators.
//
// CSVWriter is the generic CSV layer: headers, streaming and a UTF-8 BOM for
// Excel compatibility. LicenseExporter renders []domain.LicenseSummary as CSV
// or as an XLSX workbook with a Licenses sheet and a Summary sheet.
//
// Example usage:
//
//	exp := exporter.NewLicenseExporter("", logger)
//	meta, err := exp.Export("licenses.xlsx", exporter.FormatXLSX, summaries, time.Now())
package exporter
