// cmd/migrate/main.go
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	"github.com/unclebandit/drip-campaign-backend/internal/config"
	"github.com/unclebandit/drip-campaign-backend/internal/db"
	"github.com/unclebandit/drip-campaign-backend/internal/dbctx"
	"github.com/unclebandit/drip-campaign-backend/internal/logger"
	"github.com/unclebandit/drip-campaign-backend/internal/model"
	"github.com/unclebandit/drip-campaign-backend/internal/repository"
	"github.com/unclebandit/drip-campaign-backend/internal/service"
)

func main() {
	var seed bool
	var seedUser int64
	flag.BoolVar(&seed, "seed", false, "insert a demo campaign with two steps after migrating")
	flag.Int64Var(&seedUser, "seed-user", 1, "owner user id for the demo campaign")
	flag.Parse()

	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("Database unavailable", "error", err)
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn, log); err != nil {
		log.Fatal("Migration failed", "error", err)
	}
	log.Info("Database migrations completed successfully!")

	if !seed {
		return
	}
	campaignID, err := seedDemo(ctx, conn, seedUser, log)
	if err != nil {
		log.Fatal("Seeding failed", "error", err)
	}
	log.Info("Seeded demo campaign", "campaign_id", campaignID, "user_id", seedUser)
}

// seedDemo goes through the step service so the seeded rows obey the same
// ordering rules as API writes.
func seedDemo(ctx context.Context, conn *sql.DB, userID int64, log *logger.Logger) (int64, error) {
	campaigns := repository.NewCampaignRepository(conn, log)
	campaign := &model.Campaign{UserID: userID, Name: "Welcome sequence", Status: model.CampaignDraft}
	if err := campaigns.Create(dbctx.Context{Ctx: ctx}, campaign); err != nil {
		return 0, fmt.Errorf("create campaign: %w", err)
	}

	tx := db.NewTransactor(conn)
	steps := service.NewSequenceStepService(tx, campaigns, repository.NewSequenceStepRepository(conn, log), log)
	_, err := steps.CreateSteps(ctx, userID, campaign.ID, []model.StepInput{
		{
			SubjectTemplate: "Welcome, {{first_name}}",
			BodyTemplate:    "Hi {{first_name}}, thanks for signing up.",
		},
		{
			DelayHours:      72,
			SubjectTemplate: "Getting the most out of your account",
			BodyTemplate:    "Hi {{first_name}}, here are three things to try next.",
		},
	})
	if err != nil {
		return 0, fmt.Errorf("create steps: %w", err)
	}
	return campaign.ID, nil
}
