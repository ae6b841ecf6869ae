// Package main is a diagnostic tool for testing database connectivity and inspecting live
// console data. It loads the same configuration as the server, prints the account summary
// and the most recent activity entries, and exits non-zero on any failure so it can gate
// deployment steps on a reachable, migrated database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/opsconsole/opsconsole/internal/config"
	"github.com/opsconsole/opsconsole/internal/db"
	"github.com/opsconsole/opsconsole/internal/db/repositories"
)

func main() {
	limit := flag.Int("activity", 10, "number of recent activity entries to print")
	module := flag.String("module", "", "only print activity for this module")
	flag.Parse()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), 2, 1)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	v, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		log.Fatalf("Failed to read migration version: %v", err)
	}
	fmt.Printf("Schema version: %d (dirty: %v)\n", v, dirty)

	users := repositories.NewUserRepository(database)
	stats, err := users.Stats(ctx)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	fmt.Println("\n=== USERS ===")
	fmt.Printf("Total: %d  Active: %d  Inactive: %d  Employees: %d\n",
		stats.Total, stats.Active, stats.Inactive, stats.Employees)

	counts, err := users.CountByRole(ctx)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	for _, rc := range counts {
		fmt.Printf("  %-22s %d\n", rc.Label, rc.Count)
	}

	var filter *string
	if *module != "" {
		filter = module
	}
	entries, err := repositories.NewActivityRepository(database).ListRecentActivity(ctx, *limit, filter)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	fmt.Println("\n=== RECENT ACTIVITY ===")
	for _, e := range entries {
		fmt.Printf("%s  %-20s %-10s %s/%s  %s\n",
			e.CreatedAt.Format(time.RFC3339), e.User, e.Action, e.Module, e.EntityType, e.Description)
	}
	fmt.Printf("\nTotal entries shown: %d\n", len(entries))
}
