package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"itinerary_pipeline/internal/domain"
)

type ExportStore struct {
	db *sqlx.DB
}

func NewExportStore(db *sqlx.DB) *ExportStore {
	return &ExportStore{db: db}
}

// Create persists the export manifest together with the generated file
// content. Exports are immutable once written.
func (s *ExportStore) Create(ctx context.Context, export *domain.TrainingExport) (int64, error) {
	query := `
		INSERT INTO training_exports (exported_by, file_name, record_count, export_format, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	var id int64
	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		export.ExportedBy,
		export.FileName,
		export.RecordCount,
		export.Format,
		export.Content,
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	return id, nil
}
