package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"slotdesk/internal/database"
	"slotdesk/internal/database/postgres"
	"slotdesk/internal/domain"
	"slotdesk/internal/models"
	"slotdesk/internal/service"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type resourcesFile struct {
	Resources []models.Resource `yaml:"resources"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		resourcesPath = flag.String("resources", "configs/resources.yaml", "path to resources yaml")
		dbPath        = flag.String("db", "./data/slotdesk.db", "path to sqlite db")
		dsn           = flag.String("postgres", "", "postgres DSN; overrides -db")
	)
	flag.Parse()

	data, err := os.ReadFile(*resourcesPath)
	if err != nil {
		return fmt.Errorf("read resources: %w", err)
	}
	var file resourcesFile
	if err = yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse resources: %w", err)
	}
	if len(file.Resources) == 0 {
		return fmt.Errorf("no resources in yaml")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var repo domain.ResourceRepository
	if *dsn != "" {
		pool, store, err := postgres.Connect(ctx, *dsn, &logger)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer pool.Close()
		repo = store
	} else {
		db, err := database.NewDB(*dbPath, &logger)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()
		repo = db
	}

	resources := service.NewResourceService(repo, &logger)

	created := 0
	updated := 0
	for i := range file.Resources {
		r := file.Resources[i]
		_, err = repo.GetResource(ctx, r.Ref)
		switch {
		case err == nil:
			updated++
		case errors.Is(err, domain.ErrNotFound):
			created++
		default:
			return fmt.Errorf("get %s: %w", r.Ref, err)
		}
		if err = resources.Upsert(ctx, &r); err != nil {
			return fmt.Errorf("upsert %s: %w", r.Ref, err)
		}
	}

	fmt.Printf("done: created=%d updated=%d\n", created, updated)
	return nil
}
