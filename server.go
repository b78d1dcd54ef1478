package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/models"
	"bitbucket.org/mmdatafocus/recon_backend/models/reports"
	"bitbucket.org/mmdatafocus/recon_backend/recon"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"bitbucket.org/mmdatafocus/recon_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultPort = "8080"

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

func reconcileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		var req workflow.ReconcileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			var vErrs validator.ValidationErrors
			if errors.As(err, &vErrs) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		run, result, err := workflow.ProcessReconcileWorkflow(c.Request.Context(), logger, req)
		if err != nil {
			var inputErr *recon.InputError
			switch {
			case errors.As(err, &inputErr):
				// The rejected run is persisted for audit; hand its id back so the
				// caller can look the rejection up later.
				resp := gin.H{"error": inputErr.Error(), "violations": inputErr.Violations}
				if run != nil {
					resp["run_id"] = run.RunId
				}
				c.JSON(http.StatusBadRequest, resp)
			case errors.Is(err, utils.ErrorReconcileInProgress):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			default:
				config.LogError(logger, "server.go", "reconcileHandler", "ProcessReconcileWorkflow", req.Invoice.InvoiceNumber, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed"})
			}
			return
		}

		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"run_id":         run.RunId,
			"result":         result,
			"correlation_id": cid,
		})
	}
}

type datamatrixParseRequest struct {
	Barcode string `json:"barcode"`
}

func datamatrixParseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datamatrixParseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if strings.TrimSpace(req.Barcode) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "barcode is required"})
			return
		}
		c.JSON(http.StatusOK, recon.ParseDataMatrix(req.Barcode))
	}
}

func getReconciliationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		run, err := models.GetReconciliationRun(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "reconciliation run not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, run)
	}
}

func listReconciliationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}

		var after *string
		if v := c.Query("after"); v != "" {
			after = &v
		}
		var invoiceNumber *string
		if v := strings.TrimSpace(c.Query("invoice_number")); v != "" {
			invoiceNumber = &v
		}
		var vendorName *string
		if v := strings.TrimSpace(c.Query("vendor_name")); v != "" {
			vendorName = &v
		}

		var status *models.ReconciliationRunStatus
		if v := strings.TrimSpace(c.Query("status")); v != "" {
			s := models.ReconciliationRunStatus(strings.ToUpper(v))
			switch s {
			case models.ReconciliationRunStatusMatched,
				models.ReconciliationRunStatusUnmatched,
				models.ReconciliationRunStatusRejected:
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": "status must be MATCHED, UNMATCHED or REJECTED"})
				return
			}
			status = &s
		}

		startDate, err := dateParam(c, "start_date")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		endDate, err := dateParam(c, "end_date")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		conn, err := models.PaginateReconciliationRuns(c.Request.Context(), &limit, after,
			invoiceNumber, vendorName, status, startDate, endDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, conn)
	}
}

// dateParam reads an optional YYYY-MM-DD query parameter.
func dateParam(c *gin.Context, name string) (*models.MyDateString, error) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, fmt.Errorf("%s must be YYYY-MM-DD", name)
	}
	d := models.MyDateString(t)
	return &d, nil
}

func exportReconciliationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		run, err := models.GetReconciliationRun(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "reconciliation run not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		f, err := reports.BuildReconciliationRunWorkbook(run)
		if err != nil {
			config.LogError(logger, "server.go", "exportReconciliationHandler", "BuildReconciliationRunWorkbook", run.RunId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
			return
		}

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", `attachment; filename="reconciliation-`+run.RunId+`.xlsx"`)
		if err := f.Write(c.Writer); err != nil {
			// Headers are already out; all we can do is log.
			config.LogError(logger, "server.go", "exportReconciliationHandler", "excelize.Write", run.RunId, err)
		}
	}
}

func discrepancySummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		startDate, err := dateParam(c, "start_date")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		endDate, err := dateParam(c, "end_date")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		rows, err := reports.GetReconciliationSummaryReport(c.Request.Context(), startDate, endDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": rows})
	}
}

func listPurchaseOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}

		var after *string
		if v := c.Query("after"); v != "" {
			after = &v
		}
		var poNumber *string
		if v := strings.TrimSpace(c.Query("po_number")); v != "" {
			poNumber = &v
		}
		var vendorName *string
		if v := strings.TrimSpace(c.Query("vendor_name")); v != "" {
			vendorName = &v
		}

		var status *models.PurchaseOrderStatus
		if v := strings.TrimSpace(c.Query("status")); v != "" {
			s := models.PurchaseOrderStatus(v)
			switch s {
			case models.PurchaseOrderStatusDraft,
				models.PurchaseOrderStatusConfirmed,
				models.PurchaseOrderStatusPartiallyBilled,
				models.PurchaseOrderStatusClosed,
				models.PurchaseOrderStatusCancelled:
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown purchase order status"})
				return
			}
			status = &s
		}

		startOrderDate, err := dateParam(c, "start_order_date")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		endOrderDate, err := dateParam(c, "end_order_date")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		conn, err := models.PaginatePurchaseOrder(c.Request.Context(), &limit, after,
			poNumber, vendorName, status, startOrderDate, endOrderDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, conn)
	}
}

func getPurchaseOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
			return
		}
		po, err := models.GetPurchaseOrder(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "purchase order not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, po)
	}
}

func listVendorsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}

		var after *string
		if v := c.Query("after"); v != "" {
			after = &v
		}
		var name *string
		if v := strings.TrimSpace(c.Query("name")); v != "" {
			name = &v
		}
		var isActive *bool
		if v := strings.TrimSpace(c.Query("is_active")); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "is_active must be a boolean"})
				return
			}
			isActive = &b
		}

		conn, err := models.PaginateVendor(c.Request.Context(), &limit, after, name, isActive)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, conn)
	}
}

func getVendorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
			return
		}
		vendor, err := models.GetVendor(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "vendor not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, vendor)
	}
}

func createVendorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewVendor
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		vendor, err := models.CreateVendor(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, vendor)
	}
}

func updateVendorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
			return
		}
		var input models.NewVendor
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		vendor, err := models.UpdateVendor(c.Request.Context(), id, &input)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "vendor not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, vendor)
	}
}

func readyzHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		db := config.GetDB()
		rdb := config.GetRedisDB()
		if db == nil || rdb == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dependencies not ready"})
			return
		}
		sqlDB, err := db.DB()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database unreachable"})
			return
		}
		if err := sqlDB.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database unreachable"})
			return
		}
		if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "redis unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// requireInternalOpsToken guards the ops routes with a static shared secret.
// With INTERNAL_OPS_TOKEN unset the routes stay closed.
func requireInternalOpsToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(os.Getenv("INTERNAL_OPS_TOKEN"))
		if token == "" || c.GetHeader("x-internal-token") != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func outboxRequeueDeadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := models.RequeueDeadOutboxRows(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"requeued": n})
	}
}

type outboxRequeueRequest struct {
	RunId string `json:"run_id"`
}

func outboxRequeueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req outboxRequeueRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.RunId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "run_id is required"})
			return
		}

		status, err := models.RequeueOutboxForRun(c.Request.Context(), req.RunId)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no outbox row for run " + req.RunId})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func outboxStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := models.GetOutboxStatus(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no outbox row for run " + c.Param("id")})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

type rerunReconciliationRequest struct {
	RunId string `json:"run_id"`
}

func rerunReconciliationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		var req rerunReconciliationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.RunId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "run_id is required"})
			return
		}

		run, result, err := workflow.RerunReconciliation(c.Request.Context(), logger, req.RunId)
		if err != nil {
			var inputErr *recon.InputError
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "reconciliation run not found"})
			case errors.As(err, &inputErr):
				resp := gin.H{"error": inputErr.Error(), "violations": inputErr.Violations}
				if run != nil {
					resp["run_id"] = run.RunId
				}
				c.JSON(http.StatusBadRequest, resp)
			case errors.Is(err, utils.ErrorReconcileInProgress):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			default:
				config.LogError(logger, "server.go", "rerunReconciliationHandler", "RerunReconciliation", req.RunId, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "rerun failed"})
			}
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"run_id":        run.RunId,
			"source_run_id": req.RunId,
			"result":        result,
		})
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	// Cloud Run standard env var.
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/readyz", readyzHandler())

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/api/v1/reconcile", reconcileHandler())
	r.POST("/api/v1/datamatrix/parse", datamatrixParseHandler())
	r.GET("/api/v1/reconciliations", listReconciliationsHandler())
	r.GET("/api/v1/reconciliations/:id", getReconciliationHandler())
	r.GET("/api/v1/reconciliations/:id/export", exportReconciliationHandler())
	r.GET("/api/v1/reports/discrepancy-summary", discrepancySummaryHandler())
	r.GET("/api/v1/purchase-orders", listPurchaseOrdersHandler())
	r.GET("/api/v1/purchase-orders/:id", getPurchaseOrderHandler())
	r.GET("/api/v1/vendors", listVendorsHandler())
	r.GET("/api/v1/vendors/:id", getVendorHandler())
	r.POST("/api/v1/vendors", createVendorHandler())
	r.PUT("/api/v1/vendors/:id", updateVendorHandler())

	// Ops tooling (shared-secret header): outbox redrive and stored-run reruns.
	ops := requireInternalOpsToken()
	r.POST("/internal/ops/outbox/requeue-dead", ops, outboxRequeueDeadHandler())
	r.POST("/internal/ops/outbox/requeue", ops, outboxRequeueHandler())
	r.GET("/internal/ops/outbox/:id", ops, outboxStatusHandler())
	r.POST("/internal/ops/reconciliations/rerun", ops, rerunReconciliationHandler())

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Start outbox processing (publishes AFTER commit).
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	switch {
	case shouldRunDirectOutboxProcessor():
		// Local development: mark rows processed without publishing to Pub/Sub.
		go NewOutboxDirectProcessor(db, logger).Run(dispatcherCtx)
	case config.OutboxDispatcherDisabled():
		logger.WithFields(logrus.Fields{"field": "outbox"}).Warn("outbox dispatcher disabled; rows will stay PENDING")
	default:
		go func() {
			// Make sure the topic exists before the first publish; a fresh
			// environment has none and publishes would fail until created.
			if topicName := os.Getenv("PUBSUB_TOPIC"); topicName != "" {
				client, err := config.GetClient(dispatcherCtx)
				if err != nil {
					config.LogError(logger, "server.go", "main", "Pub/Sub client for topic check", topicName, err)
				} else if _, err := config.CreateTopicIfNotExists(client, topicName); err != nil {
					config.LogError(logger, "server.go", "main", "Ensuring Pub/Sub topic", topicName, err)
				}
			}
			workflow.NewOutboxDispatcher(db, logger).Run(dispatcherCtx)
		}()
	}
	go NewOutboxDeadWatcher(db, logger).Run(dispatcherCtx)

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("reconciliation service listening on port ", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelDispatcher()

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP() // Assuming IP-based rate limiting

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
