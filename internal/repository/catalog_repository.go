package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/speaklab/booking-api/internal/models"
)

// CatalogRepository manages service types and rooms.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs a CatalogRepository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// ListServiceTypes returns all service types, optionally only active ones.
func (r *CatalogRepository) ListServiceTypes(ctx context.Context, activeOnly bool) ([]models.ServiceType, error) {
	query := `SELECT id, name, description, duration_minutes, active, created_at, updated_at FROM service_types`
	if activeOnly {
		query += ` WHERE active = true`
	}
	query += ` ORDER BY name ASC`
	var types []models.ServiceType
	if err := r.db.SelectContext(ctx, &types, query); err != nil {
		return nil, fmt.Errorf("list service types: %w", err)
	}
	return types, nil
}

// FindServiceType fetches a service type by ID.
func (r *CatalogRepository) FindServiceType(ctx context.Context, id string) (*models.ServiceType, error) {
	const query = `SELECT id, name, description, duration_minutes, active, created_at, updated_at FROM service_types WHERE id = $1`
	var st models.ServiceType
	if err := r.db.GetContext(ctx, &st, query, id); err != nil {
		return nil, err
	}
	return &st, nil
}

// CreateServiceType inserts a new service type.
func (r *CatalogRepository) CreateServiceType(ctx context.Context, st *models.ServiceType) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	const query = `INSERT INTO service_types (id, name, description, duration_minutes, active, created_at, updated_at)
        VALUES (:id, :name, :description, :duration_minutes, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, st); err != nil {
		return fmt.Errorf("create service type: %w", err)
	}
	return nil
}

// UpdateServiceType modifies an existing service type.
func (r *CatalogRepository) UpdateServiceType(ctx context.Context, st *models.ServiceType) error {
	st.UpdatedAt = time.Now().UTC()
	const query = `UPDATE service_types SET name = :name, description = :description, duration_minutes = :duration_minutes, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, st); err != nil {
		return fmt.Errorf("update service type: %w", err)
	}
	return nil
}

// ListRooms returns rooms for a branch.
func (r *CatalogRepository) ListRooms(ctx context.Context, branchID string, activeOnly bool) ([]models.Room, error) {
	query := `SELECT id, branch_id, name, capacity, active, created_at, updated_at FROM rooms WHERE branch_id = $1`
	if activeOnly {
		query += ` AND active = true`
	}
	query += ` ORDER BY name ASC`
	var rooms []models.Room
	if err := r.db.SelectContext(ctx, &rooms, query, branchID); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// FindRoom fetches a room by ID.
func (r *CatalogRepository) FindRoom(ctx context.Context, id string) (*models.Room, error) {
	const query = `SELECT id, branch_id, name, capacity, active, created_at, updated_at FROM rooms WHERE id = $1`
	var room models.Room
	if err := r.db.GetContext(ctx, &room, query, id); err != nil {
		return nil, err
	}
	return &room, nil
}

// CreateRoom inserts a new room.
func (r *CatalogRepository) CreateRoom(ctx context.Context, room *models.Room) error {
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	room.UpdatedAt = now
	const query = `INSERT INTO rooms (id, branch_id, name, capacity, active, created_at, updated_at)
        VALUES (:id, :branch_id, :name, :capacity, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, room); err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	return nil
}

// UpdateRoom modifies an existing room.
func (r *CatalogRepository) UpdateRoom(ctx context.Context, room *models.Room) error {
	room.UpdatedAt = time.Now().UTC()
	const query = `UPDATE rooms SET name = :name, capacity = :capacity, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, room); err != nil {
		return fmt.Errorf("update room: %w", err)
	}
	return nil
}
