package workflow

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/models"
	"bitbucket.org/mmdatafocus/recon_backend/recon"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("recon-backend")

// ReconcileRequest is the workflow input: the extracted invoice plus optional
// explicit purchase order references and an optional pinned reconciliation
// date. Replays of stored invoices pass the original date so lot expiry
// findings do not drift between runs.
type ReconcileRequest struct {
	Invoice            recon.Invoice        `json:"invoice" binding:"required"`
	PurchaseOrderIds   []string             `json:"purchaseOrderIds,omitempty"`
	ReconciliationDate *models.MyDateString `json:"reconciliationDate,omitempty"`
}

// ProcessReconcileWorkflow runs one invoice end to end: take the per-invoice
// lock, select candidates, reconcile, persist the run together with its outbox
// row in a single transaction. A malformed invoice persists a REJECTED run and
// returns the engine's InputError; callers map it to a client error.
func ProcessReconcileWorkflow(ctx context.Context, logger *logrus.Logger, req ReconcileRequest) (*models.ReconciliationRun, recon.MatchResult, error) {
	ctx, span := tracer.Start(ctx, "ProcessReconcileWorkflow",
		trace.WithAttributes(attribute.String("invoice_number", req.Invoice.InvoiceNumber)))
	defer span.End()

	correlationId, ok := utils.GetCorrelationIdFromContext(ctx)
	if !ok || correlationId == "" {
		correlationId = uuid.NewString()
		ctx = utils.SetCorrelationIdInContext(ctx, correlationId)
	}
	runId := uuid.NewString()
	span.SetAttributes(attribute.String("run_id", runId))

	lock, err := utils.ObtainReconcileLock(ctx, req.Invoice.InvoiceNumber, "reconciliationWorkflow.go", "ProcessReconcileWorkflow")
	if err != nil {
		return nil, recon.MatchResult{}, err
	}
	defer utils.ReleaseLock(ctx, lock)

	cfg := recon.DefaultConfig()
	if req.ReconciliationDate != nil {
		cfg.ReconciliationDate = time.Time(*req.ReconciliationDate).UTC()
	}

	source := models.NewPurchaseOrderSource()
	result, err := recon.Reconcile(ctx, cfg, source, req.Invoice, req.PurchaseOrderIds)
	if err != nil {
		var inputErr *recon.InputError
		if errors.As(err, &inputErr) {
			run, rejectErr := persistRejectedRun(ctx, logger, runId, req.Invoice, inputErr, correlationId)
			if rejectErr != nil {
				return nil, recon.MatchResult{}, rejectErr
			}
			return run, recon.MatchResult{}, inputErr
		}
		config.LogError(logger, "reconciliationWorkflow.go", "ProcessReconcileWorkflow", "Reconcile", req.Invoice.InvoiceNumber, err)
		return nil, recon.MatchResult{}, err
	}

	run, err := models.BuildReconciliationRun(runId, req.Invoice, result, correlationId)
	if err != nil {
		config.LogError(logger, "reconciliationWorkflow.go", "ProcessReconcileWorkflow", "Building run record", runId, err)
		return nil, recon.MatchResult{}, err
	}
	outbox := &models.OutboxMessageRecord{
		Payload: recon.EncodeMatchResult(result),
	}
	if err := models.CreateReconciliationRun(ctx, run, outbox); err != nil {
		config.LogError(logger, "reconciliationWorkflow.go", "ProcessReconcileWorkflow", "Persisting run", runId, err)
		return nil, recon.MatchResult{}, err
	}

	logger.WithFields(logrus.Fields{
		"field":          "ReconcileWorkflow",
		"run_id":         runId,
		"invoice_number": req.Invoice.InvoiceNumber,
		"status":         run.Status,
		"match_score":    run.MatchScore,
		"correlation_id": correlationId,
	}).Info("reconciliation run persisted")

	if run.Status == models.ReconciliationRunStatusMatched && run.MatchedPurchaseOrderId != nil {
		markPurchaseOrderBilled(ctx, logger, *run.MatchedPurchaseOrderId)
	}

	return run, result, nil
}

// RerunReconciliation replays a stored run's invoice against the current
// purchase orders under a fresh run id. Used by internal ops after data fixes
// (a corrected PO, a repaired vendor master).
func RerunReconciliation(ctx context.Context, logger *logrus.Logger, runId string) (*models.ReconciliationRun, recon.MatchResult, error) {
	stored, err := models.GetReconciliationRun(ctx, runId)
	if err != nil {
		return nil, recon.MatchResult{}, err
	}
	invoice, err := stored.DecodeInvoice()
	if err != nil {
		config.LogError(logger, "reconciliationWorkflow.go", "RerunReconciliation", "Decoding stored invoice", runId, err)
		return nil, recon.MatchResult{}, err
	}
	return ProcessReconcileWorkflow(ctx, logger, ReconcileRequest{Invoice: invoice})
}

func persistRejectedRun(ctx context.Context, logger *logrus.Logger, runId string, invoice recon.Invoice, inputErr error, correlationId string) (*models.ReconciliationRun, error) {
	run, err := models.BuildRejectedReconciliationRun(runId, invoice, inputErr, correlationId)
	if err != nil {
		config.LogError(logger, "reconciliationWorkflow.go", "persistRejectedRun", "Building rejected run", invoice.InvoiceNumber, err)
		return nil, err
	}
	// No outbox row: downstream consumers only care about completed matches.
	if err := models.CreateReconciliationRun(ctx, run, nil); err != nil {
		config.LogError(logger, "reconciliationWorkflow.go", "persistRejectedRun", "Persisting rejected run", runId, err)
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"field":          "ReconcileWorkflow",
		"run_id":         runId,
		"invoice_number": invoice.InvoiceNumber,
		"status":         models.ReconciliationRunStatusRejected,
		"correlation_id": correlationId,
	}).Warn("invoice rejected: " + inputErr.Error())
	return run, nil
}

// markPurchaseOrderBilled walks a matched order from Draft or Confirmed to
// Partially Billed. The run is already durable at this point; a failed walk is
// logged and corrected by the invoice's next reconcile.
func markPurchaseOrderBilled(ctx context.Context, logger *logrus.Logger, purchaseOrderId int) {
	po, err := models.GetPurchaseOrder(ctx, purchaseOrderId)
	if err != nil {
		config.LogError(logger, "reconciliationWorkflow.go", "markPurchaseOrderBilled", "Fetching matched purchase order", purchaseOrderId, err)
		return
	}
	if po.CurrentStatus != models.PurchaseOrderStatusDraft && po.CurrentStatus != models.PurchaseOrderStatusConfirmed {
		return
	}
	if _, err := models.UpdateStatusPurchaseOrder(ctx, purchaseOrderId, models.PurchaseOrderStatusPartiallyBilled); err != nil {
		config.LogError(logger, "reconciliationWorkflow.go", "markPurchaseOrderBilled", "Updating matched purchase order status", purchaseOrderId, err)
	}
}
