package postgres

import (
	"context"
	"fmt"
	"time"

	"spi-exam-service/internal/app"
	"spi-exam-service/internal/domain"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

type questionSetRow struct {
	bun.BaseModel `bun:"table:question_sets"`

	Slug      string    `bun:"slug,pk"`
	Mode      string    `bun:"mode,notnull"`
	Category  string    `bun:"category,notnull"`
	Data      string    `bun:"data,type:jsonb,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// ImportReport summarizes one import run.
type ImportReport struct {
	Imported []string
	Skipped  []app.SkippedSet
	Pruned   int
}

// Importer publishes validated question-set documents into question_sets.
type Importer struct {
	db     *bun.DB
	logger *zap.Logger
}

func NewImporter(db *bun.DB, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{db: db, logger: logger}
}

// Import copies every valid document from source. Rows keep the document's
// modification time so unchanged sets stay cached by readers. With prune,
// rows whose slug is not in source are deleted.
func (i *Importer) Import(ctx context.Context, source app.SetSource, prune bool) (ImportReport, error) {
	refs, err := source.Scan(ctx)
	if err != nil {
		return ImportReport{}, fmt.Errorf("scan source: %w", err)
	}

	rows := make(map[string]*questionSetRow, len(refs))
	var order []string
	var report ImportReport
	for _, ref := range refs {
		row, err := i.rowFor(ctx, source, ref)
		if err != nil {
			report.Skipped = append(report.Skipped, app.SkippedSet{Location: ref.Location, Reason: err.Error()})
			i.logger.Warn("skipping question set", zap.String("location", ref.Location), zap.Error(err))
			continue
		}
		if _, seen := rows[row.Slug]; !seen {
			order = append(order, row.Slug)
		}
		rows[row.Slug] = row
	}

	err = i.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, slug := range order {
			_, err := tx.NewInsert().
				Model(rows[slug]).
				On("CONFLICT (slug) DO UPDATE").
				Set("mode = EXCLUDED.mode").
				Set("category = EXCLUDED.category").
				Set("data = EXCLUDED.data").
				Set("updated_at = EXCLUDED.updated_at").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("upsert %s: %w", slug, err)
			}
		}
		if !prune {
			return nil
		}
		q := tx.NewDelete().Model((*questionSetRow)(nil))
		if len(order) > 0 {
			q = q.Where("slug NOT IN (?)", bun.In(order))
		} else {
			q = q.Where("TRUE")
		}
		res, err := q.Exec(ctx)
		if err != nil {
			return fmt.Errorf("prune: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			report.Pruned = int(n)
		}
		return nil
	})
	if err != nil {
		return ImportReport{}, err
	}
	report.Imported = order
	return report, nil
}

func (i *Importer) rowFor(ctx context.Context, source app.SetSource, ref app.SetRef) (*questionSetRow, error) {
	if !domain.ValidSlug(ref.Placement.Slug) {
		return nil, domain.ErrInvalidSlug
	}
	data, err := source.Read(ctx, ref.Location)
	if err != nil {
		return nil, err
	}
	if _, err := domain.ParseQuestionSet(data, ref.Placement); err != nil {
		return nil, err
	}
	return &questionSetRow{
		Slug:      ref.Placement.Slug,
		Mode:      ref.Placement.Mode,
		Category:  ref.Placement.Category,
		Data:      string(data),
		UpdatedAt: ref.ModTime,
	}, nil
}
