// Command seed-db applies the schema and loads seed data: catalog products
// from a JSON file plus an initial admin account.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/chocomarket/backend/internal/storage/postgres"
)

type productJSON struct {
	ID               uuid.UUID        `json:"id"`
	Name             string           `json:"name"`
	Slug             string           `json:"slug"`
	Description      string           `json:"description"`
	Price            decimal.Decimal  `json:"price"`
	DiscountedPrice  *decimal.Decimal `json:"discountedPrice"`
	ImageURL         string           `json:"imageUrl"`
	Stock            int              `json:"stock"`
	Featured         bool             `json:"featured"`
	Artisan          string           `json:"artisan"`
	Origin           string           `json:"origin"`
	Category         string           `json:"category"`
	Producer         string           `json:"producer"`
	ProducerLocation string           `json:"producerLocation"`
}

func main() {
	var (
		databaseURL   string
		productsFile  string
		adminEmail    string
		adminPassword string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&adminEmail, "admin-email", "", "admin account email (or CHOCO_SEED_ADMIN_EMAIL env)")
	flag.StringVar(&adminPassword, "admin-password", "", "admin account password (or CHOCO_SEED_ADMIN_PASSWORD env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if adminEmail == "" {
		adminEmail = os.Getenv("CHOCO_SEED_ADMIN_EMAIL")
	}
	if adminPassword == "" {
		adminPassword = os.Getenv("CHOCO_SEED_ADMIN_PASSWORD")
	}
	if adminEmail == "" || adminPassword == "" {
		slog.Error("admin credentials are required: set --admin-email/--admin-password or the CHOCO_SEED_ADMIN_* env vars")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, adminEmail, adminPassword); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, adminEmail, adminPassword string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedAdmin(ctx, pool, adminEmail, adminPassword); err != nil {
		return errors.Wrap(err, "seed admin user")
	}

	return nil
}

const (
	upsertCategorySQL = `INSERT INTO categories (id, name, slug)
		VALUES ($1, $2, $3)
		ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`

	upsertProducerSQL = `INSERT INTO producers (id, name, location)
		SELECT $1, $2, $3
		WHERE NOT EXISTS (SELECT 1 FROM producers WHERE name = $2)`

	producerIDSQL = `SELECT id FROM producers WHERE name = $1`

	upsertProductSQL = `INSERT INTO products
			(id, name, slug, description, price, discounted_price, image_url,
			stock, featured, artisan, origin, category_id, producer_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			price = EXCLUDED.price,
			discounted_price = EXCLUDED.discounted_price,
			image_url = EXCLUDED.image_url,
			stock = EXCLUDED.stock,
			featured = EXCLUDED.featured,
			artisan = EXCLUDED.artisan,
			origin = EXCLUDED.origin,
			updated_at = now()`

	upsertAdminSQL = `INSERT INTO users (id, first_name, last_name, email, password_hash, role)
		VALUES ($1, 'Admin', 'Chocomarket', $2, $3, 'Admin')
		ON CONFLICT (email) DO UPDATE SET password_hash = EXCLUDED.password_hash, role = 'Admin'`
)

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		categoryID, err := upsertCategory(ctx, pool, p.Category)
		if err != nil {
			return errors.Wrapf(err, "upsert category %s", p.Category)
		}

		producerID, err := upsertProducer(ctx, pool, p.Producer, p.ProducerLocation)
		if err != nil {
			return errors.Wrapf(err, "upsert producer %s", p.Producer)
		}

		id := p.ID
		if id == uuid.Nil {
			id = uuid.New()
		}

		_, err = pool.Exec(ctx, upsertProductSQL,
			id, p.Name, p.Slug, p.Description, p.Price, p.DiscountedPrice,
			p.ImageURL, p.Stock, p.Featured, p.Artisan, p.Origin, categoryID, producerID,
		)
		if err != nil {
			return errors.Wrapf(err, "upsert product %s", p.Slug)
		}

		slog.Info("upserted product", slog.String("slug", p.Slug), slog.String("name", p.Name))
	}

	return nil
}

func upsertCategory(ctx context.Context, pool *pgxpool.Pool, name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := pool.QueryRow(ctx, upsertCategorySQL, uuid.New(), name, slugify(name)).Scan(&id)
	return id, err
}

func upsertProducer(ctx context.Context, pool *pgxpool.Pool, name, location string) (uuid.UUID, error) {
	if _, err := pool.Exec(ctx, upsertProducerSQL, uuid.New(), name, location); err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	err := pool.QueryRow(ctx, producerIDSQL, name).Scan(&id)
	return id, err
}

func seedAdmin(ctx context.Context, pool *pgxpool.Pool, email, password string) error {
	slog.Info("seeding admin user", slog.String("email", email))

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "hash admin password")
	}

	if _, err := pool.Exec(ctx, upsertAdminSQL, uuid.New(), email, string(hash)); err != nil {
		return errors.Wrap(err, "upsert admin user")
	}

	return nil
}

// slugify lowercases and dashes a category name for its slug. Seed categories
// use plain ASCII names apart from accented vowels, which are mapped.
func slugify(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r == ' ' || r == '-':
			out = append(out, '-')
		default:
			if mapped, ok := accentMap[r]; ok {
				out = append(out, mapped)
			}
		}
	}
	return string(out)
}

var accentMap = map[rune]rune{
	'á': 'a', 'é': 'e', 'í': 'i', 'ó': 'o', 'ú': 'u', 'ñ': 'n',
	'Á': 'a', 'É': 'e', 'Í': 'i', 'Ó': 'o', 'Ú': 'u', 'Ñ': 'n',
}
