package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/models"
	"bitbucket.org/mmdatafocus/recon_backend/recon"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// End-to-end store coverage: vendor and purchase order CRUD, the candidate
// source with its po-number cache, and run + outbox persistence in one
// transaction.
func TestReconciliationStore_EndToEnd(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "recon_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())

	// vendors
	vendor, err := models.CreateVendor(ctx, &models.NewVendor{
		Name:  "McKesson Pharmaceutical",
		Email: "ap@mckesson.test",
		Phone: "+12025550147",
	})
	if err != nil {
		t.Fatalf("CreateVendor: %v", err)
	}
	if _, err := models.CreateVendor(ctx, &models.NewVendor{Name: "McKesson Pharmaceutical"}); err == nil {
		t.Fatalf("duplicate vendor name must be rejected")
	} else if !strings.Contains(err.Error(), "duplicate name") {
		t.Fatalf("duplicate vendor error = %v", err)
	}
	if _, err := models.CreateVendor(ctx, &models.NewVendor{Name: "Bad Phone Co", Phone: "not-a-phone"}); err == nil {
		t.Fatalf("invalid phone must be rejected")
	}
	updated, err := models.UpdateVendor(ctx, vendor.ID, &models.NewVendor{
		Name:    "McKesson Pharmaceutical",
		Email:   "ap@mckesson.test",
		Phone:   "+12025550147",
		Address: "1 Post St, San Francisco",
	})
	if err != nil {
		t.Fatalf("UpdateVendor: %v", err)
	}
	if updated.Address != "1 Post St, San Francisco" {
		t.Fatalf("UpdateVendor address = %q", updated.Address)
	}
	if _, err := models.UpdateVendor(ctx, 999999, &models.NewVendor{Name: "Ghost Vendor"}); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("UpdateVendor on unknown id = %v, want record not found", err)
	}

	// purchase orders
	expiry := models.MyDateString(time.Date(2027, 5, 31, 0, 0, 0, 0, time.UTC))
	orderDate := models.MyDateString(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	po1, err := models.CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		PoNumber:  "PO-7781",
		VendorId:  vendor.ID,
		OrderDate: &orderDate,
		Details: []models.NewPurchaseOrderDetail{
			{LineNumber: 1, Identifier: "55150-0188-10", Description: "Atorvastatin 20mg Tablets", DetailQty: 48, DetailUnitRate: decimal.RequireFromString("23.79"), BatchNumber: "A2204", ExpiryDate: &expiry},
			{LineNumber: 2, Identifier: "00093-7146-56", Description: "Metformin 500mg Tablets", DetailQty: 24, DetailUnitRate: decimal.RequireFromString("8.50")},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseOrder: %v", err)
	}
	if !po1.OrderTotalAmount.Equal(decimal.RequireFromString("1345.92")) {
		t.Fatalf("OrderTotalAmount = %s, want 1345.92", po1.OrderTotalAmount)
	}
	if len(po1.Details) != 2 {
		t.Fatalf("len(Details) = %d, want 2", len(po1.Details))
	}
	if po1.VendorName != "McKesson Pharmaceutical" {
		t.Fatalf("VendorName not denormalized: %q", po1.VendorName)
	}
	if po1.CurrentStatus != models.PurchaseOrderStatusConfirmed {
		t.Fatalf("CurrentStatus = %s, want Confirmed", po1.CurrentStatus)
	}

	if _, err := models.CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		PoNumber: "PO-7781",
		VendorId: vendor.ID,
		Details:  []models.NewPurchaseOrderDetail{{LineNumber: 1, Description: "x", DetailQty: 1}},
	}); err == nil || !strings.Contains(err.Error(), "duplicate po_number") {
		t.Fatalf("duplicate po number error = %v", err)
	}

	po2, err := models.CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		PoNumber: "PO-0042",
		VendorId: vendor.ID,
		Details: []models.NewPurchaseOrderDetail{
			{LineNumber: 1, Identifier: "68180-0513-01", Description: "Lisinopril 10mg Tablets", DetailQty: 500, DetailUnitRate: decimal.RequireFromString("99.99")},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseOrder: %v", err)
	}

	// by-ids keeps caller order and skips unknowns
	byIds, err := models.GetPurchaseOrdersByIds(ctx, []string{
		fmt.Sprint(po2.ID), "999999", fmt.Sprint(po1.ID), "not-an-id",
	})
	if err != nil {
		t.Fatalf("GetPurchaseOrdersByIds: %v", err)
	}
	if len(byIds) != 2 || byIds[0].ID != po2.ID || byIds[1].ID != po1.ID {
		t.Fatalf("GetPurchaseOrdersByIds order wrong: %+v", byIds)
	}

	// search: exact po number and first-token vendor sweep
	found, err := models.SearchPurchaseOrders(ctx, "PO-7781", "", 5)
	if err != nil {
		t.Fatalf("SearchPurchaseOrders: %v", err)
	}
	if len(found) != 1 || found[0].PoNumber != "PO-7781" {
		t.Fatalf("search by po number = %+v", found)
	}
	found, err = models.SearchPurchaseOrders(ctx, "", "McKesson Pharma", 5)
	if err != nil {
		t.Fatalf("SearchPurchaseOrders: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("vendor sweep found %d purchase orders, want 2", len(found))
	}

	// candidate source with read-through cache
	source := models.NewPurchaseOrderSource()
	candidates, err := source.FindPurchaseOrdersByNumberOrVendor(ctx, "PO-7781", "")
	if err != nil {
		t.Fatalf("FindPurchaseOrdersByNumberOrVendor: %v", err)
	}
	if len(candidates) != 1 || candidates[0].PoNumber != "PO-7781" {
		t.Fatalf("candidates = %+v", candidates)
	}
	var cached models.PurchaseOrder
	if ok, err := config.GetRedisObject(models.PoLookupCacheKey("PO-7781"), &cached); err != nil || !ok {
		t.Fatalf("po lookup not cached after source read (ok=%v err=%v)", ok, err)
	}
	again, err := source.FindPurchaseOrdersByNumberOrVendor(ctx, "PO-7781", "")
	if err != nil {
		t.Fatalf("cached lookup: %v", err)
	}
	if len(again) != 1 || again[0].Id != candidates[0].Id {
		t.Fatalf("cached candidates drifted: %+v", again)
	}

	loaded, err := source.LoadPurchaseOrders(ctx, []string{fmt.Sprint(po1.ID)})
	if err != nil {
		t.Fatalf("LoadPurchaseOrders: %v", err)
	}
	if len(loaded) != 1 || len(loaded[0].Items) != 2 || loaded[0].Items[0].LineNumber != 1 {
		t.Fatalf("loaded = %+v", loaded)
	}

	// run + outbox in one transaction
	matchedId := fmt.Sprint(po1.ID)
	result := recon.MatchResult{
		MatchedPurchaseOrderId: &matchedId,
		MatchScore:             0.97,
		LineItemMatches: []recon.LineItemMatch{
			{InvoiceLineRef: lineNumber(1), PoLineRef: lineNumber(1), Similarity: 1.0, Issues: []recon.DiscrepancyKind{}},
		},
		Issues: []recon.Discrepancy{},
	}
	invoice := recon.Invoice{
		InvoiceNumber: "INV-1001",
		InvoiceDate:   "2026-08-10",
		PoNumber:      "PO-7781",
		Vendor:        recon.Party{Name: "McKesson Pharmaceutical"},
	}
	runId := uuid.NewString()
	run, err := models.BuildReconciliationRun(runId, invoice, result, "corr-int-1")
	if err != nil {
		t.Fatalf("BuildReconciliationRun: %v", err)
	}
	outbox := &models.OutboxMessageRecord{Payload: recon.EncodeMatchResult(result)}
	if err := models.CreateReconciliationRun(ctx, run, outbox); err != nil {
		t.Fatalf("CreateReconciliationRun: %v", err)
	}

	stored, err := models.GetReconciliationRun(ctx, runId)
	if err != nil {
		t.Fatalf("GetReconciliationRun: %v", err)
	}
	if stored.Status != models.ReconciliationRunStatusMatched || stored.MatchedPurchaseOrderId == nil || *stored.MatchedPurchaseOrderId != po1.ID {
		t.Fatalf("stored run = %+v", stored)
	}
	decoded, err := stored.DecodeResult()
	if err != nil {
		t.Fatalf("DecodeResult: %v", err)
	}
	if decoded.MatchScore != 0.97 || len(decoded.LineItemMatches) != 1 {
		t.Fatalf("decoded = %+v", decoded)
	}

	status, err := models.GetOutboxStatus(ctx, runId)
	if err != nil {
		t.Fatalf("GetOutboxStatus: %v", err)
	}
	if status.PublishStatus != models.OutboxPublishStatusPending || status.EventType != models.EventTypeReconciliationCompleted {
		t.Fatalf("outbox status = %+v", status)
	}

	// dead rows come back via internal requeue
	db := config.GetDB()
	deadMsg := "boom"
	if err := db.Model(&models.OutboxMessageRecord{}).
		Where("run_id = ?", runId).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusDead,
			"last_publish_error": &deadMsg,
		}).Error; err != nil {
		t.Fatalf("mark dead: %v", err)
	}
	revived, err := models.RequeueDeadOutboxRows(ctx)
	if err != nil {
		t.Fatalf("RequeueDeadOutboxRows: %v", err)
	}
	if revived != 1 {
		t.Fatalf("revived = %d, want 1", revived)
	}
	status, err = models.GetOutboxStatus(ctx, runId)
	if err != nil {
		t.Fatalf("GetOutboxStatus: %v", err)
	}
	if status.PublishStatus != models.OutboxPublishStatusPending || status.PublishAttempts != 0 || status.LastPublishError != nil {
		t.Fatalf("requeued status = %+v", status)
	}

	// pagination
	limit := 10
	runsPage, err := models.PaginateReconciliationRuns(ctx, &limit, nil, nil, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("PaginateReconciliationRuns: %v", err)
	}
	if len(runsPage.Edges) != 1 || (*runsPage.Edges[0].Node).RunId != runId {
		t.Fatalf("runs page = %+v", runsPage)
	}

	// status transition invalidates the cached lookup
	if _, err := models.UpdateStatusPurchaseOrder(ctx, po1.ID, models.PurchaseOrderStatusPartiallyBilled); err != nil {
		t.Fatalf("UpdateStatusPurchaseOrder: %v", err)
	}
	if ok, _ := config.GetRedisObject(models.PoLookupCacheKey("PO-7781"), &cached); ok {
		t.Fatalf("po lookup cache should be invalidated after status change")
	}
}

func lineNumber(v int) *int { return &v }

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("recon-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("recon-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=recon_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
