package reports

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/models"
	"github.com/xuri/excelize/v2"
)

// BuildReconciliationRunWorkbook renders one stored run as a reviewer-facing
// workbook: a summary sheet plus one row per discrepancy and aligned line.
func BuildReconciliationRunWorkbook(run *models.ReconciliationRun) (*excelize.File, error) {

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", "Summary"); err != nil {
		return nil, err
	}

	f.SetCellValue("Summary", "A1", "Run Id")
	f.SetCellValue("Summary", "B1", run.RunId)
	f.SetCellValue("Summary", "A2", "Invoice Number")
	f.SetCellValue("Summary", "B2", run.InvoiceNumber)
	f.SetCellValue("Summary", "A3", "Invoice Date")
	f.SetCellValue("Summary", "B3", run.InvoiceDate)
	f.SetCellValue("Summary", "A4", "Vendor")
	f.SetCellValue("Summary", "B4", run.VendorName)
	f.SetCellValue("Summary", "A5", "Status")
	f.SetCellValue("Summary", "B5", string(run.Status))
	f.SetCellValue("Summary", "A6", "Match Score")
	f.SetCellValue("Summary", "B6", run.MatchScore)
	f.SetCellValue("Summary", "A7", "Matched Purchase Order Id")
	if run.MatchedPurchaseOrderId != nil {
		f.SetCellValue("Summary", "B7", *run.MatchedPurchaseOrderId)
	}
	f.SetCellValue("Summary", "A8", "Created At")
	f.SetCellValue("Summary", "B8", run.CreatedAt.UTC().Format(time.RFC3339))

	if run.Status == models.ReconciliationRunStatusRejected {
		f.SetCellValue("Summary", "A9", "Rejected")
		if run.FailureDetail != nil {
			f.SetCellValue("Summary", "B9", *run.FailureDetail)
		}
		return f, nil
	}

	result, err := run.DecodeResult()
	if err != nil {
		return nil, err
	}

	// Discrepancies
	if _, err := f.NewSheet("Discrepancies"); err != nil {
		return nil, err
	}
	f.SetCellValue("Discrepancies", "A1", "Kind")
	f.SetCellValue("Discrepancies", "B1", "Severity")
	f.SetCellValue("Discrepancies", "C1", "InvoiceLine")
	f.SetCellValue("Discrepancies", "D1", "PoLine")
	f.SetCellValue("Discrepancies", "E1", "Detail")
	for i, issue := range result.Issues {
		row := fmt.Sprint(i + 2)
		f.SetCellValue("Discrepancies", "A"+row, string(issue.Kind))
		f.SetCellValue("Discrepancies", "B"+row, string(issue.Severity))
		f.SetCellValue("Discrepancies", "C"+row, lineRefCell(issue.InvoiceLineRef))
		f.SetCellValue("Discrepancies", "D"+row, lineRefCell(issue.PoLineRef))
		f.SetCellValue("Discrepancies", "E"+row, issue.Detail)
	}

	// Line matches
	if _, err := f.NewSheet("LineMatches"); err != nil {
		return nil, err
	}
	f.SetCellValue("LineMatches", "A1", "InvoiceLine")
	f.SetCellValue("LineMatches", "B1", "PoLine")
	f.SetCellValue("LineMatches", "C1", "Similarity")
	f.SetCellValue("LineMatches", "D1", "Issues")
	for i, match := range result.LineItemMatches {
		row := fmt.Sprint(i + 2)
		f.SetCellValue("LineMatches", "A"+row, lineRefCell(match.InvoiceLineRef))
		f.SetCellValue("LineMatches", "B"+row, lineRefCell(match.PoLineRef))
		f.SetCellValue("LineMatches", "C"+row, match.Similarity)
		kinds := make([]string, 0, len(match.Issues))
		for _, kind := range match.Issues {
			kinds = append(kinds, string(kind))
		}
		f.SetCellValue("LineMatches", "D"+row, strings.Join(kinds, ", "))
	}

	return f, nil
}

func lineRefCell(ref *int) interface{} {
	if ref == nil {
		return ""
	}
	return *ref
}

type ReconciliationSummaryResponse struct {
	Status            string  `json:"status"`
	RunCount          int     `json:"run_count"`
	AverageMatchScore float64 `json:"average_match_score"`
	MatchedLineCount  int     `json:"matched_line_count"`
	ErrorIssueCount   int     `json:"error_issue_count"`
	WarningIssueCount int     `json:"warning_issue_count"`
}

func GetReconciliationSummaryReport(ctx context.Context, startDate *models.MyDateString, endDate *models.MyDateString) ([]*ReconciliationSummaryResponse, error) {

	from := time.Time{}
	if startDate != nil {
		if err := startDate.StartOfDayUTCTime(""); err != nil {
			return nil, err
		}
		from = time.Time(*startDate)
	}
	to := time.Now().UTC()
	if endDate != nil {
		if err := endDate.EndOfDayUTCTime(""); err != nil {
			return nil, err
		}
		to = time.Time(*endDate)
	}

	sql := `
SELECT
    status,
    COUNT(id) AS run_count,
    ROUND(AVG(match_score), 4) AS average_match_score,
    SUM(matched_line_count) AS matched_line_count,
    SUM(error_issue_count) AS error_issue_count,
    SUM(warning_issue_count) AS warning_issue_count
FROM
    reconciliation_runs
WHERE
    created_at BETWEEN ? AND ?
GROUP BY
    status
ORDER BY
    status;
`

	var records []*ReconciliationSummaryResponse
	db := config.GetDB()
	if err := db.WithContext(ctx).Raw(sql, from, to).Scan(&records).Error; err != nil {
		return nil, err
	}

	return records, nil
}
