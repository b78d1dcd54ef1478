package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/recon"
)

// ReconciliationRun is one persisted engine verdict. The raw invoice payload
// is kept alongside the result so internal ops can rerun a stored run against
// today's purchase orders.
type ReconciliationRun struct {
	ID                     int                     `gorm:"primary_key" json:"id"`
	RunId                  string                  `gorm:"size:64;uniqueIndex;not null" json:"run_id"`
	InvoiceNumber          string                  `gorm:"size:100;index;not null" json:"invoice_number"`
	InvoiceDate            string                  `gorm:"size:50" json:"invoice_date"`
	VendorName             string                  `gorm:"size:100;index" json:"vendor_name"`
	MatchedPurchaseOrderId *int                    `gorm:"index" json:"matched_purchase_order_id"`
	MatchScore             float64                 `gorm:"not null;default:0" json:"match_score"`
	Status                 ReconciliationRunStatus `gorm:"type:enum('MATCHED','UNMATCHED','REJECTED');not null;index" json:"status"`
	InvoicePayload         []byte                  `gorm:"type:json" json:"invoice_payload"`
	LineItemMatches        []byte                  `gorm:"type:json" json:"line_item_matches"`
	Issues                 []byte                  `gorm:"type:json" json:"issues"`
	MatchedLineCount       int                     `gorm:"not null;default:0" json:"matched_line_count"`
	ErrorIssueCount        int                     `gorm:"not null;default:0" json:"error_issue_count"`
	WarningIssueCount      int                     `gorm:"not null;default:0" json:"warning_issue_count"`
	// set for REJECTED runs only, the input validation failure
	FailureDetail *string   `gorm:"type:text" json:"failure_detail"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type ReconciliationRunsEdge Edge[ReconciliationRun]
type ReconciliationRunsConnection struct {
	PageInfo *PageInfo                 `json:"pageInfo"`
	Edges    []*ReconciliationRunsEdge `json:"edges"`
}

// node
func (r ReconciliationRun) GetId() int {
	return r.ID
}

// returns decoded cursor string
func (r ReconciliationRun) GetCursor() string {
	return r.CreatedAt.String()
}

func ReconciliationStatusForResult(result recon.MatchResult) ReconciliationRunStatus {
	if result.MatchedPurchaseOrderId != nil {
		return ReconciliationRunStatusMatched
	}
	return ReconciliationRunStatusUnmatched
}

// BuildReconciliationRun shapes an engine verdict into its persisted form.
func BuildReconciliationRun(runId string, invoice recon.Invoice, result recon.MatchResult, correlationId string) (*ReconciliationRun, error) {
	invoicePayload, err := json.Marshal(invoice)
	if err != nil {
		return nil, fmt.Errorf("marshal invoice payload: %w", err)
	}
	lineItemMatches, err := json.Marshal(result.LineItemMatches)
	if err != nil {
		return nil, fmt.Errorf("marshal line item matches: %w", err)
	}
	issues, err := json.Marshal(result.Issues)
	if err != nil {
		return nil, fmt.Errorf("marshal issues: %w", err)
	}

	var matchedPurchaseOrderId *int
	if result.MatchedPurchaseOrderId != nil {
		if recordId, err := strconv.Atoi(*result.MatchedPurchaseOrderId); err == nil {
			matchedPurchaseOrderId = &recordId
		}
	}

	matchedLineCount := 0
	for _, match := range result.LineItemMatches {
		if match.InvoiceLineRef != nil && match.PoLineRef != nil {
			matchedLineCount++
		}
	}
	errorIssueCount := 0
	warningIssueCount := 0
	for _, issue := range result.Issues {
		switch issue.Severity {
		case recon.SeverityError:
			errorIssueCount++
		case recon.SeverityWarning:
			warningIssueCount++
		}
	}

	return &ReconciliationRun{
		RunId:                  runId,
		InvoiceNumber:          invoice.InvoiceNumber,
		InvoiceDate:            invoice.InvoiceDate,
		VendorName:             invoice.Vendor.Name,
		MatchedPurchaseOrderId: matchedPurchaseOrderId,
		MatchScore:             result.MatchScore,
		Status:                 ReconciliationStatusForResult(result),
		InvoicePayload:         invoicePayload,
		LineItemMatches:        lineItemMatches,
		Issues:                 issues,
		MatchedLineCount:       matchedLineCount,
		ErrorIssueCount:        errorIssueCount,
		WarningIssueCount:      warningIssueCount,
		CorrelationId:          correlationId,
	}, nil
}

// BuildRejectedReconciliationRun records an invoice that failed input
// validation and never reached matching.
func BuildRejectedReconciliationRun(runId string, invoice recon.Invoice, inputErr error, correlationId string) (*ReconciliationRun, error) {
	invoicePayload, err := json.Marshal(invoice)
	if err != nil {
		return nil, fmt.Errorf("marshal invoice payload: %w", err)
	}
	detail := inputErr.Error()

	return &ReconciliationRun{
		RunId:          runId,
		InvoiceNumber:  invoice.InvoiceNumber,
		InvoiceDate:    invoice.InvoiceDate,
		VendorName:     invoice.Vendor.Name,
		Status:         ReconciliationRunStatusRejected,
		InvoicePayload: invoicePayload,
		FailureDetail:  &detail,
		CorrelationId:  correlationId,
	}, nil
}

// CreateReconciliationRun persists a run and, when given, its outbox row in
// one transaction. The outbox row inherits the run id and correlation id.
func CreateReconciliationRun(ctx context.Context, run *ReconciliationRun, outbox *OutboxMessageRecord) error {
	db := config.GetDB()

	tx := db.Begin()

	// IMPORTANT: always rollback on early-return or panic to avoid leaking DB locks
	// (leaked transactions are a common cause of MySQL 1205 lock wait timeouts).
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	if err := tx.WithContext(ctx).Create(run).Error; err != nil {
		tx.Rollback()
		return err
	}

	if outbox != nil {
		outbox.RunId = run.RunId
		outbox.InvoiceNumber = run.InvoiceNumber
		outbox.CorrelationId = run.CorrelationId
		if outbox.EventType == "" {
			outbox.EventType = EventTypeReconciliationCompleted
		}
		if outbox.PublishStatus == "" {
			outbox.PublishStatus = OutboxPublishStatusPending
		}
		if err := tx.WithContext(ctx).Create(outbox).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit().Error
}

func GetReconciliationRun(ctx context.Context, runId string) (*ReconciliationRun, error) {
	db := config.GetDB()
	var run ReconciliationRun
	err := db.WithContext(ctx).
		Where("run_id = ?", runId).
		First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// DecodeResult reconstructs the engine verdict from the stored columns.
func (r *ReconciliationRun) DecodeResult() (recon.MatchResult, error) {
	var result recon.MatchResult

	if r.Status == ReconciliationRunStatusRejected {
		return result, errors.New("rejected run has no match result")
	}

	if r.MatchedPurchaseOrderId != nil {
		id := strconv.Itoa(*r.MatchedPurchaseOrderId)
		result.MatchedPurchaseOrderId = &id
	}
	result.MatchScore = r.MatchScore

	if len(r.LineItemMatches) > 0 {
		if err := json.Unmarshal(r.LineItemMatches, &result.LineItemMatches); err != nil {
			return recon.MatchResult{}, fmt.Errorf("decode line item matches: %w", err)
		}
	}
	if len(r.Issues) > 0 {
		if err := json.Unmarshal(r.Issues, &result.Issues); err != nil {
			return recon.MatchResult{}, fmt.Errorf("decode issues: %w", err)
		}
	}
	return result, nil
}

// DecodeInvoice reconstructs the submitted invoice payload.
func (r *ReconciliationRun) DecodeInvoice() (recon.Invoice, error) {
	return recon.DecodeInvoice(r.InvoicePayload)
}

func PaginateReconciliationRuns(
	ctx context.Context, limit *int, after *string,

	invoiceNumber *string,
	vendorName *string,
	status *ReconciliationRunStatus,

	startDate *MyDateString,
	endDate *MyDateString,
) (*ReconciliationRunsConnection, error) {

	if limit == nil || *limit < 1 {
		return nil, errors.New("limit is required")
	}

	if err := startDate.StartOfDayUTCTime(""); err != nil {
		return nil, err
	}
	if err := endDate.EndOfDayUTCTime(""); err != nil {
		return nil, err
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&ReconciliationRun{})
	if invoiceNumber != nil && *invoiceNumber != "" {
		dbCtx.Where("invoice_number LIKE ?", "%"+*invoiceNumber+"%")
	}
	if vendorName != nil && *vendorName != "" {
		dbCtx.Where("vendor_name LIKE ?", "%"+*vendorName+"%")
	}
	if status != nil {
		dbCtx.Where("status = ?", *status)
	}
	if startDate != nil && endDate != nil {
		dbCtx.Where("created_at BETWEEN ? AND ?", startDate, endDate)
	}

	edges, pageInfo, err := FetchPageCompositeCursor[ReconciliationRun](dbCtx, *limit, after, "created_at", "<")
	if err != nil {
		return nil, err
	}
	var runsConnection ReconciliationRunsConnection
	runsConnection.PageInfo = pageInfo
	for _, edge := range edges {
		runEdge := ReconciliationRunsEdge(edge)
		runsConnection.Edges = append(runsConnection.Edges, &runEdge)
	}

	return &runsConnection, err
}
