// Package exporter turns analysis records into downloadable tables.
//
// RecordsToCSV renders any JSON-encodable sequence of records as CSV, and
// CSVToXLSX converts such a CSV document into an Excel workbook for
// spreadsheet downloads.
//
// Example usage:
//
//	table, err := exporter.RecordsToCSV(stats)
//	if err != nil {
//	    return err
//	}
//	workbook, err := exporter.CSVToXLSX(table.Data, "stats")
package exporter
