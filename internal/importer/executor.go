package importer

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"karavan/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultBatchSize bounds how many rows run concurrently.
	DefaultBatchSize = 10
	// DefaultProgressInterval is how often (in rows) progress is logged.
	DefaultProgressInterval = 50
)

// ProductStore persists row imports; the upsert is keyed by (owner_id, sku).
type ProductStore interface {
	UpsertProduct(ctx context.Context, p *models.Product) error
}

// EntityResolver maps referenced names to catalog entity ids.
type EntityResolver interface {
	Category(ctx context.Context, name string) (string, error)
	Family(ctx context.Context, name string) (string, error)
	Attribute(ctx context.Context, name, value string) (string, error)
}

// RowSource yields normalized rows; io.EOF terminates the sequence.
type RowSource interface {
	Next() (models.NormalizedRow, error)
}

// Executor drives one run's rows through per-row product upsert in
// fixed-size concurrent batches. A row failure never aborts its batch
// siblings or later batches.
type Executor struct {
	store            ProductStore
	batchSize        int
	progressInterval int
	errorLimit       int
	logger           *zerolog.Logger
}

func NewExecutor(store ProductStore, batchSize, progressInterval, errorLimit int, logger *zerolog.Logger) *Executor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if progressInterval <= 0 {
		progressInterval = DefaultProgressInterval
	}
	if errorLimit <= 0 {
		errorLimit = models.MaxStoredRowErrors
	}
	return &Executor{
		store:            store,
		batchSize:        batchSize,
		progressInterval: progressInterval,
		errorLimit:       errorLimit,
		logger:           logger,
	}
}

// Run consumes the row source to exhaustion. A non-EOF error from the source
// (malformed CSV) aborts the run and is returned alongside the partial
// summary; individual row failures are only recorded.
func (e *Executor) Run(ctx context.Context, ownerID string, resolver EntityResolver, rows RowSource) (models.ImportSummary, error) {
	start := time.Now()
	summary := models.ImportSummary{}

	var mu sync.Mutex
	recordFailure := func(row models.NormalizedRow, err error) {
		mu.Lock()
		defer mu.Unlock()
		summary.Failed++
		if len(summary.Errors) < e.errorLimit {
			summary.Errors = append(summary.Errors, models.RowError{Row: row.Label(), Message: err.Error()})
		}
	}
	recordSuccess := func() {
		mu.Lock()
		summary.Imported++
		mu.Unlock()
	}

	lastProgress := 0
	batch := make([]models.NormalizedRow, 0, e.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}

		var wg sync.WaitGroup
		for _, row := range batch {
			wg.Add(1)
			go func(row models.NormalizedRow) {
				defer wg.Done()
				if err := e.importRow(ctx, ownerID, resolver, row); err != nil {
					recordFailure(row, err)
					return
				}
				recordSuccess()
			}(row)
		}
		wg.Wait()

		summary.TotalProcessed += len(batch)
		batch = batch[:0]

		if summary.TotalProcessed-lastProgress >= e.progressInterval {
			lastProgress = summary.TotalProcessed
			e.logger.Info().
				Int("processed", summary.TotalProcessed).
				Int("imported", summary.Imported).
				Int("failed", summary.Failed).
				Msg("import progress")
		}
	}

	for {
		row, err := rows.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			flush()
			summary.Duration = time.Since(start)
			return summary, err
		}

		batch = append(batch, row)
		if len(batch) >= e.batchSize {
			flush()
		}
	}
	flush()

	summary.Duration = time.Since(start)
	e.logger.Info().
		Int("processed", summary.TotalProcessed).
		Int("imported", summary.Imported).
		Int("failed", summary.Failed).
		Dur("duration", summary.Duration).
		Msg("import finished")
	return summary, nil
}

func (e *Executor) importRow(ctx context.Context, ownerID string, resolver EntityResolver, row models.NormalizedRow) error {
	name := row.Get(models.FieldName)
	sku := row.Get(models.FieldSKU)
	if name == "" {
		return errors.New("missing required field: name")
	}
	if sku == "" {
		return errors.New("missing required field: sku")
	}

	product := &models.Product{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		SKU:         sku,
		Name:        name,
		ProductLink: row.Get(models.FieldProductLink),
		ImageURL:    row.Get(models.FieldImageURL),
	}

	if raw := row.Get(models.FieldSubImages); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if img := strings.TrimSpace(part); img != "" {
				product.SubImages = append(product.SubImages, img)
			}
		}
	}

	if category := row.Get(models.FieldCategory); category != "" {
		id, err := resolver.Category(ctx, category)
		if err != nil {
			return err
		}
		product.CategoryID = &id
	}

	if family := row.Get(models.FieldFamily); family != "" {
		id, err := resolver.Family(ctx, family)
		if err != nil {
			return err
		}
		product.FamilyID = &id
	}

	// Column order follows the header so attribute values are deterministic.
	for _, column := range row.Columns {
		if models.ReservedColumns[column] {
			continue
		}
		value := row.Get(column)
		if value == "" {
			continue
		}
		attrID, err := resolver.Attribute(ctx, column, value)
		if err != nil {
			return err
		}
		product.Attributes = append(product.Attributes, models.AttributeValue{
			AttributeID: attrID,
			Value:       value,
		})
	}

	return e.store.UpsertProduct(ctx, product)
}
