//go:build ignore

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/hugh/go-referral/internal/auth"
	"github.com/hugh/go-referral/internal/database"
	"github.com/hugh/go-referral/internal/database/models"
	"github.com/hugh/go-referral/internal/magiclink"
	"github.com/hugh/go-referral/internal/referral"
	"github.com/hugh/go-referral/internal/token"
	"github.com/hugh/go-referral/pkg/config"
	"github.com/hugh/go-referral/pkg/crypto"
	"github.com/hugh/go-referral/pkg/util"
	"github.com/joho/godotenv"
)

type seedClinic struct {
	email, name, clinic, slug, city string
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Server.Env, cfg.Server.LogLevel)

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	if cfg.Encryption.Key == "" {
		log.Fatalf("ENCRYPTION_KEY must be set so the server can open seeded notes")
	}
	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		log.Fatalf("failed to create encryptor: %v", err)
	}

	ctx := context.Background()
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry())
	authService := auth.NewService(db, jwtService)

	password := os.Getenv("SEED_PASSWORD")
	if password == "" {
		password = "referrals123"
	}

	clinics := []seedClinic{
		{"gp@example.com", "Dr. Ana Silva", "Silva Family Dental", "silva-family-dental", "Lisbon"},
		{"surgeon@example.com", "Dr. Marco Rossi", "Rossi Oral Surgery", "rossi-oral-surgery", "Porto"},
	}

	var users []*models.User
	for _, c := range clinics {
		resp, err := authService.Register(ctx, auth.RegisterInput{
			Email:      c.email,
			Password:   password,
			Name:       c.name,
			ClinicName: c.clinic,
			ClinicSlug: c.slug,
			City:       c.city,
		})
		if errors.Is(err, auth.ErrUserExists) || errors.Is(err, auth.ErrSlugTaken) {
			fmt.Printf("Clinic already seeded: %s\n", c.clinic)
			return
		}
		if err != nil {
			log.Fatalf("failed to register %s: %v", c.email, err)
		}
		users = append(users, resp.User)
		fmt.Printf("Registered %s (%s) / %s\n", c.email, c.clinic, password)
	}
	gp, surgeon := users[0], users[1]

	issuer := token.NewIssuer()
	digester := token.NewDigester(cfg.Public.AccessCodeSecret)
	referrals := referral.NewService(db, issuer, digester, encryptor, logger)
	links := magiclink.NewRegistry(db, issuer, digester, referrals, logger,
		magiclink.WithCodeDigits(cfg.Public.AccessCodeDigits),
	)

	issued, err := links.Create(ctx, magiclink.CreateInput{
		OwnerID:   surgeon.ID,
		ClinicID:  surgeon.ClinicID,
		Label:     "Website intake",
		Specialty: "Oral Surgery",
	})
	if err != nil {
		log.Fatalf("failed to create referral link: %v", err)
	}
	fmt.Printf("Magic link: %s/refer/%s (access code %s)\n", cfg.Public.BaseURL, issued.Link.Token, issued.AccessCode)

	gpActor := referral.Actor{UserID: gp.ID, ClinicID: gp.ClinicID}
	surgeonActor := referral.Actor{UserID: surgeon.ID, ClinicID: surgeon.ClinicID}
	to := surgeon.ClinicID

	ref, err := referrals.Create(ctx, gpActor, referral.CreateInput{
		ToClinicID: &to,
		Patient:    referral.Patient{FirstName: "Maya", LastName: "Lopez"},
		Reason:     "Impacted lower third molar",
		Urgency:    models.UrgencyUrgent,
		Teeth:      []int{38},
		Notes:      "Penicillin allergy.",
		Send:       true,
	})
	if err != nil {
		log.Fatalf("failed to create referral: %v", err)
	}
	if _, err := referrals.Transition(ctx, surgeonActor, ref.ID, models.StatusAccepted); err != nil {
		log.Fatalf("failed to accept referral: %v", err)
	}
	if _, err := referrals.Schedule(ctx, surgeonActor, ref.ID); err != nil {
		log.Fatalf("failed to schedule referral: %v", err)
	}

	statusTok, err := referrals.IssueStatusToken(ctx, gpActor, ref.ID)
	if err != nil {
		log.Fatalf("failed to issue status token: %v", err)
	}

	fmt.Printf("Referral %s is ACCEPTED and scheduled\n", ref.ID)
	fmt.Printf("Patient status page: %s/status/%s\n", cfg.Public.BaseURL, statusTok)
}
