package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/sarfarazstark/audiophile/internal/store"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil {
		logger.Info().Msg("no .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	st := store.New(pool)

	// Prices are minor units (paise).
	products := []store.Product{
		{Slug: "yx1-earphones", Name: "YX1 Wireless Earphones", Category: "earphones", Price: 59_900, IsNew: true},
		{Slug: "xx59-headphones", Name: "XX59 Headphones", Category: "headphones", Price: 89_900},
		{Slug: "xx99-mark-one-headphones", Name: "XX99 Mark I Headphones", Category: "headphones", Price: 175_000},
		{Slug: "xx99-mark-two-headphones", Name: "XX99 Mark II Headphones", Category: "headphones", Price: 299_900, IsNew: true},
		{Slug: "zx7-speaker", Name: "ZX7 Speaker", Category: "speakers", Price: 350_000},
		{Slug: "zx9-speaker", Name: "ZX9 Speaker", Category: "speakers", Price: 450_000, IsNew: true},
	}

	for _, p := range products {
		p.ID = uuid.New()
		if err := st.UpsertProduct(ctx, p); err != nil {
			logger.Error().Err(err).Str("slug", p.Slug).Msg("seed product")
			continue
		}
		logger.Info().Str("slug", p.Slug).Int64("price_minor", p.Price).Msg("seeded product")
	}

	logger.Info().Msg("seeding completed")
}
