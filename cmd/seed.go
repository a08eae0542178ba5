package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jmehdipour/order-saga/internal/config"
	"github.com/jmehdipour/order-saga/internal/db"
	"github.com/jmehdipour/order-saga/internal/model"
	"github.com/jmehdipour/order-saga/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// demo data shared by all three service databases
var (
	demoCustomers = []model.Customer{
		{ID: uuid.MustParse("d215b5f8-0249-4dc5-89a3-51fd148cfb41"), Username: "user_1", FirstName: "First", LastName: "User"},
		{ID: uuid.MustParse("d215b5f8-0249-4dc5-89a3-51fd148cfb42"), Username: "user_2", FirstName: "Second", LastName: "User"},
		{ID: uuid.MustParse("d215b5f8-0249-4dc5-89a3-51fd148cfb43"), Username: "user_3", FirstName: "Broke", LastName: "User"},
	}
	demoCredit = map[uuid.UUID]decimal.Decimal{
		demoCustomers[0].ID: decimal.NewFromInt(500),
		demoCustomers[1].ID: decimal.NewFromInt(100),
		demoCustomers[2].ID: decimal.Zero,
	}
	demoRestaurants = []model.Restaurant{
		{ID: uuid.MustParse("d215b5f8-0249-4dc5-89a3-51fd148cfb45"), Name: "restaurant_1", Active: true},
		{ID: uuid.MustParse("d215b5f8-0249-4dc5-89a3-51fd148cfb46"), Name: "restaurant_2", Active: false},
	}
)

var seedCmd = &cobra.Command{
	Use:       "seed [order|payment|restaurant]",
	Short:     "Seed one service database with demo data (idempotent)",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"order", "payment", "restaurant"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.Open(sqlOpts(cfg.Database))
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer sqlDB.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		log.Printf(">> Seeding %s database...", args[0])
		switch args[0] {
		case "order":
			err = seedCustomers(ctx, sqlDB)
		case "payment":
			err = seedCredit(ctx, sqlDB)
		case "restaurant":
			err = seedRestaurants(ctx, sqlDB)
		}
		if err != nil {
			return err
		}

		log.Println(">> Seed completed")
		return nil
	},
}

func seedCustomers(ctx context.Context, dbx *sqlx.DB) error {
	repo := repository.NewCustomersRepository(dbx)
	for _, c := range demoCustomers {
		if _, err := repo.Save(ctx, c); err != nil {
			return fmt.Errorf("seed customer %q: %w", c.Username, err)
		}
	}
	return nil
}

// seedCredit tops the demo customers up to their demo credit.
func seedCredit(ctx context.Context, dbx *sqlx.DB) error {
	credit := repository.NewCreditRepository()
	return repository.NewTransactor(dbx).Do(ctx, func(tx *sqlx.Tx) error {
		for id, want := range demoCredit {
			entry, err := credit.Get(ctx, tx, id)
			switch {
			case errors.Is(err, model.ErrNotFound):
				err = credit.Topup(ctx, tx, id, want)
			case err != nil:
				return err
			case want.GreaterThan(entry.TotalCredit):
				err = credit.Topup(ctx, tx, id, want.Sub(entry.TotalCredit))
			}
			if err != nil {
				return fmt.Errorf("seed credit of %s: %w", id, err)
			}
		}
		return nil
	})
}

func seedRestaurants(ctx context.Context, dbx *sqlx.DB) error {
	restaurants := repository.NewRestaurantsRepository()
	return repository.NewTransactor(dbx).Do(ctx, func(tx *sqlx.Tx) error {
		for _, r := range demoRestaurants {
			if err := restaurants.Save(ctx, tx, r); err != nil {
				return fmt.Errorf("seed restaurant %q: %w", r.Name, err)
			}
		}
		return nil
	})
}
