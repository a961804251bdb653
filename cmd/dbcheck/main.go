// Command dbcheck migrates the billing schema and prints the billing plans
// and subscription counts, for checking a database before deploying.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/reviewdesk/backend/internal/domain"
	"github.com/reviewdesk/backend/internal/repository"
	"github.com/reviewdesk/backend/pkg/payment"
	"github.com/sirupsen/logrus"
)

func main() {
	_ = godotenv.Load()
	log := logrus.NewEntry(logrus.StandardLogger())

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := repository.NewDB(ctx, dbURL, log)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		log.Fatal(err)
	}
	store := repository.NewPostgresStore(pool)

	plans, err := store.ListBillingPlans(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("--- BILLING PLANS ---")
	for _, p := range plans {
		fmt.Printf("%-14s %-10s %8s %s/%s\n", p.PlanType, p.Provider, payment.FormatAmount(p.PriceCents), p.Currency, p.Interval)
	}

	counts, err := store.CountSubscriptionsByStatus(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("--- SUBSCRIPTIONS ---")
	for _, s := range domain.AllStatuses {
		fmt.Printf("%-10s %d\n", s, counts[s])
	}
}
