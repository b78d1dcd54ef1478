// outbox-redrive requeues DEAD outbox rows so the dispatcher retries them.
// Rows go DEAD after exhausting publish attempts; nothing touches them again
// until an operator redrives them here or through the internal ops endpoint.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/outbox-redrive
//
// The default is a dry run that lists DEAD rows. Pass -dry-run=false
// -confirm=REDRIVE to actually requeue them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/models"
	"bitbucket.org/mmdatafocus/recon_backend/recon"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
)

func main() {
	dryRun := flag.Bool("dry-run", true, "List DEAD rows only (no writes)")
	confirm := flag.String("confirm", "", "Type REDRIVE to proceed when dry-run=false")
	flag.Parse()

	if !*dryRun && strings.TrimSpace(*confirm) != "REDRIVE" {
		fmt.Fprintln(os.Stderr, "set -confirm=REDRIVE to proceed")
		os.Exit(1)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	var dead []models.OutboxMessageRecord
	if err := db.WithContext(ctx).
		Where("publish_status = ?", models.OutboxPublishStatusDead).
		Order("id ASC").
		Find(&dead).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to list DEAD rows: %v\n", err)
		os.Exit(1)
	}
	if len(dead) == 0 {
		fmt.Println("no DEAD outbox rows")
		return
	}

	for _, rec := range dead {
		verdict := "payload unreadable"
		if result, err := recon.DecodeMatchResult(rec.Payload); err == nil {
			verdict = fmt.Sprintf("score %.3f, po %s", result.MatchScore,
				utils.DereferencePtr(result.MatchedPurchaseOrderId, "none"))
		}
		fmt.Printf("record %d  run %s  attempts %d  %s  last error: %s\n",
			rec.ID, rec.RunId, rec.PublishAttempts, verdict, utils.DereferencePtr(rec.LastPublishError))
	}

	if *dryRun {
		fmt.Printf("%d DEAD rows (dry run, nothing changed)\n", len(dead))
		return
	}

	n, err := models.RequeueDeadOutboxRows(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "requeue failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("requeued %d rows as PENDING\n", n)
}
