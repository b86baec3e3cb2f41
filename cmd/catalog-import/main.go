// Command catalog-import loads supplier product feeds (gzip-compressed JSON
// lines) into the catalog. Feeds may overlap: the same product slug can appear
// in several feeds, and only the first occurrence wins. Cross-feed overlap is
// detected with per-feed bloom filters so feeds can be arbitrarily large.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/chocomarket/backend/internal/storage/postgres"
)

const (
	bloomCapacity = 5_000_000
	bloomFPR      = 0.001
	progressEvery = 100_000
)

type feedProduct struct {
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
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing feed*.jsonl.gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("catalog import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog import completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "feed*.jsonl.gz"))
	if err != nil {
		return errors.Wrap(err, "glob feed files")
	}
	if len(files) == 0 {
		return errors.Errorf("no feed*.jsonl.gz files in %s", dataDir)
	}
	sort.Strings(files)

	// Pass 1: build one bloom filter of slugs per feed, concurrently.
	slog.Info("pass 1: indexing feed slugs", slog.Int("feeds", len(files)))

	filters, err := buildSlugFilters(ctx, files)
	if err != nil {
		return errors.Wrap(err, "index feed slugs")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	// Pass 2: import feeds in order. A slug probably present in an earlier
	// feed is skipped, so the first feed wins. The check is bloom-based
	// rather than an exact slug set: feeds are too large to index in memory,
	// and a rare false positive only drops a lower-priority duplicate.
	slog.Info("pass 2: importing feeds")

	total := 0
	for i, f := range files {
		n, skipped, err := importFeed(ctx, pool, f, filters[:i])
		if err != nil {
			return errors.Wrapf(err, "import feed %d", i+1)
		}
		total += n
		slog.Info("feed imported",
			slog.String("file", filepath.Base(f)),
			slog.Int("products", n),
			slog.Int("skipped", skipped),
		)
	}

	slog.Info("import complete", slog.Int("products", total))
	return nil
}

// buildSlugFilters creates one bloom filter per feed, concurrently.
func buildSlugFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(buildFilterForFeed(ctx, i, f, filters))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

func buildFilterForFeed(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter) func() error {
	return func() error {
		filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		var count uint64

		err := streamFeed(ctx, path, func(p *feedProduct) error {
			filter.AddString(p.Slug)
			count++
			if count%progressEvery == 0 {
				slog.Info("pass 1 progress",
					slog.Int("feed", idx+1),
					slog.Uint64("products", count),
				)
			}
			return nil
		})
		if err != nil {
			return errors.Wrapf(err, "index feed %d", idx+1)
		}

		slog.Info("pass 1 complete",
			slog.Int("feed", idx+1),
			slog.Uint64("products", count),
		)

		filters[idx] = filter
		return nil
	}
}

func importFeed(ctx context.Context, pool *pgxpool.Pool, path string, earlier []*bloom.BloomFilter) (imported, skipped int, err error) {
	err = streamFeed(ctx, path, func(p *feedProduct) error {
		for _, f := range earlier {
			if f.TestString(p.Slug) {
				skipped++
				return nil
			}
		}
		if err := upsertProduct(ctx, pool, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.Slug)
		}
		imported++
		return nil
	})
	return imported, skipped, err
}

// streamFeed opens a gzip-compressed JSON-lines file and calls fn for each
// decoded product.
func streamFeed(ctx context.Context, path string, fn func(*feedProduct) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var p feedProduct
		if err := json.Unmarshal(line, &p); err != nil {
			return errors.Wrapf(err, "parse product line in %s", path)
		}
		if p.Slug == "" || p.Name == "" {
			return errors.Errorf("product without slug or name in %s", path)
		}
		if err := fn(&p); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

const (
	upsertFeedCategorySQL = `INSERT INTO categories (id, name, slug)
		VALUES ($1, $2, $3)
		ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`

	upsertFeedProducerSQL = `INSERT INTO producers (id, name, location)
		SELECT $1, $2, $3
		WHERE NOT EXISTS (SELECT 1 FROM producers WHERE name = $2)`

	feedProducerIDSQL = `SELECT id FROM producers WHERE name = $1`

	upsertFeedProductSQL = `INSERT INTO products
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
)

func upsertProduct(ctx context.Context, pool *pgxpool.Pool, p *feedProduct) error {
	var categoryID uuid.UUID
	err := pool.QueryRow(ctx, upsertFeedCategorySQL, uuid.New(), p.Category, slugify(p.Category)).Scan(&categoryID)
	if err != nil {
		return errors.Wrapf(err, "upsert category %s", p.Category)
	}

	if _, err := pool.Exec(ctx, upsertFeedProducerSQL, uuid.New(), p.Producer, p.ProducerLocation); err != nil {
		return errors.Wrapf(err, "upsert producer %s", p.Producer)
	}
	var producerID uuid.UUID
	if err := pool.QueryRow(ctx, feedProducerIDSQL, p.Producer).Scan(&producerID); err != nil {
		return errors.Wrapf(err, "resolve producer %s", p.Producer)
	}

	_, err = pool.Exec(ctx, upsertFeedProductSQL,
		uuid.New(), p.Name, p.Slug, p.Description, p.Price, p.DiscountedPrice,
		p.ImageURL, p.Stock, p.Featured, p.Artisan, p.Origin, categoryID, producerID,
	)
	return err
}

// slugify lowercases and dashes a name, mapping the accented vowels seed data
// actually contains.
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
