// Command seed provisions the initial SUPER_ADMIN account. It is idempotent
// and writes the usual audit entries.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"estatly.org/internal/app"
	"estatly.org/internal/config"
	"estatly.org/internal/property"
	"estatly.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		email    = flag.String("email", os.Getenv("ESTATLY_ADMIN_EMAIL"), "super admin email")
		password = flag.String("password", os.Getenv("ESTATLY_ADMIN_PASSWORD"), "super admin password")
		building = flag.String("building", "", "optional demo building name to create")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.PostgresDSN == "" {
		log.Fatal("missing ESTATLY_PG_DSN")
	}
	if *email == "" || *password == "" {
		log.Fatal("usage: seed -email <addr> -password <secret> [-building <name>]")
	}
	cfg.AdminEmail, cfg.AdminPassword = *email, *password

	store, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	a, err := app.New(app.Options{Config: cfg, Backend: store})
	if err != nil {
		log.Fatalf("app: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	user, binding, err := a.Auth.ProvisionSuperAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword)
	if err != nil {
		log.Fatalf("provision: %v", err)
	}
	fmt.Printf("super admin %s (%s) binding %s\n", user.Email, user.ID, binding.ID)

	if *building != "" {
		session, err := a.Auth.Login(ctx, cfg.AdminEmail, cfg.AdminPassword)
		if err != nil {
			log.Fatalf("login: %v", err)
		}
		actor, err := a.Auth.Authenticate(ctx, session.Token)
		if err != nil {
			log.Fatalf("authenticate: %v", err)
		}
		b, err := a.Property.CreateBuilding(ctx, actor, property.BuildingInput{Name: *building})
		if err != nil {
			log.Fatalf("create building: %v", err)
		}
		fmt.Printf("building %s (%s)\n", b.Name, b.ID)
	}
	if err := a.Close(ctx); err != nil {
		log.Fatalf("drain audit: %v", err)
	}
}
