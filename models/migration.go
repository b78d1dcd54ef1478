package models

import (
	"log"

	"bitbucket.org/mmdatafocus/recon_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Vendor{},
		&PurchaseOrder{}, &PurchaseOrderDetail{},
		&ReconciliationRun{},
		&OutboxMessageRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
