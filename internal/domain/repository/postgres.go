package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"forest_service/internal/domain/model"
)

// ErrRegionNotFound is returned when no region row exists for the id.
var ErrRegionNotFound = errors.New("region not found")

// PostgresRepository loads regions and persists extraction results.
// Each save is transactional: a failed extraction stores nothing, but
// already-stored earlier extractions are never rolled back.
type PostgresRepository struct {
	DB *sqlx.DB
}

func NewPostgresRepository(connStr string) *PostgresRepository {
	db := sqlx.MustConnect("postgres", connStr)
	return &PostgresRepository{DB: db}
}

// GetRegion loads a region's metadata and geometry.
func (r *PostgresRepository) GetRegion(ctx context.Context, id uuid.UUID) (model.RegionInfo, error) {
	const query = `
		SELECT region_name, region_type, ST_AsGeoJSON(geometry) AS geometry
		FROM forest.forest_regions
		WHERE region_id = $1`

	var row struct {
		RegionName string `db:"region_name"`
		RegionType string `db:"region_type"`
		Geometry   string `db:"geometry"`
	}
	if err := r.DB.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RegionInfo{}, fmt.Errorf("%w: %s", ErrRegionNotFound, id)
		}
		return model.RegionInfo{}, fmt.Errorf("failed to query region %s: %w", id, err)
	}

	var geom model.Geometry
	if err := json.Unmarshal([]byte(row.Geometry), &geom); err != nil {
		return model.RegionInfo{}, fmt.Errorf("failed to decode geometry for region %s: %w", id, err)
	}

	return model.RegionInfo{
		ID:       id,
		Name:     row.RegionName,
		Type:     row.RegionType,
		Geometry: &geom,
	}, nil
}

// SaveAnnualLoss stores one extraction's records in a single transaction.
func (r *PostgresRepository) SaveAnnualLoss(ctx context.Context, records []model.AnnualLossRecord) error {
	const query = `
		INSERT INTO forest.forest_annual_loss (
			region_id, year, loss_km2, baseline_cover_km2,
			tree_cover_threshold, dataset_version
		) VALUES ($1, $2, $3, $4, $5, $6)`

	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		if _, err := tx.ExecContext(ctx, query,
			rec.RegionID, rec.Year, rec.LossKm2, rec.BaselineKm2,
			rec.Threshold, rec.DatasetVersion,
		); err != nil {
			return fmt.Errorf("failed to insert loss record for year %d: %w", rec.Year, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit loss records: %w", err)
	}
	return nil
}
