// seed-demo loads a small set of pharma vendors and purchase orders for local
// development, so /api/v1/reconcile has something to match against.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-demo
//
// Reruns are safe: vendors and purchase orders that already exist are skipped.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/models"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type demoOrder struct {
	poNumber string
	vendor   string
	details  []models.NewPurchaseOrderDetail
}

func mustDate(value string) *models.MyDateString {
	t, err := time.Parse("2006-01-02", value)
	utils.ErrorPanic(err)
	d := models.MyDateString(t)
	return &d
}

var demoVendors = []models.NewVendor{
	{Name: "Cardinal Health", Email: "orders@cardinalhealth.example", Address: "7000 Cardinal Place, Dublin, OH"},
	{Name: "McKesson Pharmaceutical", Email: "orders@mckesson.example", Address: "6555 State Hwy 161, Irving, TX"},
	{Name: "AmerisourceBergen Drug Corp", Email: "orders@amerisource.example", Address: "1 West First Avenue, Conshohocken, PA"},
}

var demoOrders = []demoOrder{
	{
		poNumber: "PO-7781",
		vendor:   "Cardinal Health",
		details: []models.NewPurchaseOrderDetail{
			{
				LineNumber:     1,
				Identifier:     "00071-0155-23",
				Description:    "Lipitor 20mg tablets, 30 count",
				DetailQty:      120,
				DetailUnitRate: decimal.NewFromFloat(14.25),
				BatchNumber:    "L2306",
				ExpiryDate:     mustDate("2027-06-30"),
			},
			{
				LineNumber:     2,
				Identifier:     "00093-7146-56",
				Description:    "Metformin HCl 500mg tablets, 60 count",
				DetailQty:      80,
				DetailUnitRate: decimal.NewFromFloat(8.50),
				BatchNumber:    "M0117",
				ExpiryDate:     mustDate("2027-11-30"),
			},
		},
	},
	{
		poNumber: "PO-5519",
		vendor:   "Cardinal Health",
		details: []models.NewPurchaseOrderDetail{
			{
				LineNumber:     1,
				Identifier:     "55150-0188-10",
				Description:    "Atorvastatin calcium 40mg tablets, 90 count",
				DetailQty:      48,
				DetailUnitRate: decimal.NewFromFloat(23.79),
				BatchNumber:    "A2204",
				ExpiryDate:     mustDate("2027-09-30"),
			},
		},
	},
	{
		poNumber: "PO-9034",
		vendor:   "McKesson Pharmaceutical",
		details: []models.NewPurchaseOrderDetail{
			{
				LineNumber:     1,
				Identifier:     "00781-1506-10",
				Description:    "Amoxicillin 500mg capsules, 100 count",
				DetailQty:      60,
				DetailUnitRate: decimal.NewFromFloat(11.40),
				BatchNumber:    "AX8841",
				ExpiryDate:     mustDate("2026-12-31"),
			},
			{
				LineNumber:     2,
				Identifier:     "68180-0513-01",
				Description:    "Lisinopril 10mg tablets, 100 count",
				DetailQty:      40,
				DetailUnitRate: decimal.NewFromFloat(6.95),
				BatchNumber:    "LS2219",
				ExpiryDate:     mustDate("2027-03-31"),
			},
		},
	},
	{
		poNumber: "PO-8220",
		vendor:   "AmerisourceBergen Drug Corp",
		details: []models.NewPurchaseOrderDetail{
			{
				LineNumber:     1,
				Identifier:     "00088-2220-33",
				Description:    "Insulin glargine 100 units/mL, 10mL vial",
				DetailQty:      24,
				DetailUnitRate: decimal.NewFromFloat(98.60),
				BatchNumber:    "IG5530",
				ExpiryDate:     mustDate("2026-10-31"),
			},
		},
	},
}

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	vendorIds := make(map[string]int, len(demoVendors))
	for i := range demoVendors {
		input := demoVendors[i]
		id, created, err := ensureVendor(ctx, db, &input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to seed vendor %q: %v\n", input.Name, err)
			os.Exit(1)
		}
		vendorIds[input.Name] = id
		if created {
			fmt.Printf("created vendor %q (id %d)\n", input.Name, id)
		} else {
			fmt.Printf("vendor %q already exists (id %d)\n", input.Name, id)
		}
	}

	for _, order := range demoOrders {
		created, err := ensurePurchaseOrder(ctx, db, order, vendorIds[order.vendor])
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to seed purchase order %s: %v\n", order.poNumber, err)
			os.Exit(1)
		}
		if created {
			fmt.Printf("created purchase order %s (%s, %d lines)\n", order.poNumber, order.vendor, len(order.details))
		} else {
			fmt.Printf("purchase order %s already exists\n", order.poNumber)
		}
	}

	fmt.Println("seed-demo done")
}

func ensureVendor(ctx context.Context, db *gorm.DB, input *models.NewVendor) (int, bool, error) {
	var existing models.Vendor
	err := db.WithContext(ctx).Where("name = ?", input.Name).First(&existing).Error
	if err == nil {
		return existing.ID, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, err
	}

	vendor, err := models.CreateVendor(ctx, input)
	if err != nil {
		return 0, false, err
	}
	return vendor.ID, true, nil
}

func ensurePurchaseOrder(ctx context.Context, db *gorm.DB, order demoOrder, vendorId int) (bool, error) {
	var existing models.PurchaseOrder
	err := db.WithContext(ctx).Where("po_number = ?", order.poNumber).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	_, err = models.CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		PoNumber: order.poNumber,
		VendorId: vendorId,
		Details:  order.details,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
