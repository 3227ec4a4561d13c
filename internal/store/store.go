package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"copier-fleet-backend/internal/errs"
	"copier-fleet-backend/internal/model"
	"copier-fleet-backend/internal/parse"
)

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB

	GetMachine(ctx context.Context, actor model.Actor, id int64) (*model.Machine, error)
	FindMachineBySerial(ctx context.Context, actor model.Actor, serial string) (*model.Machine, error)
	ListMachines(ctx context.Context, branch string) ([]model.Machine, error)
	GetModel(ctx context.Context, id int64) (*model.MachineModel, error)
	GetModelPart(ctx context.Context, id int64) (*model.ModelPart, error)
	ListModelParts(ctx context.Context, modelID int64) ([]model.ModelPart, error)
	FindModelPart(ctx context.Context, modelID int64, code string) (*model.ModelPart, error)
	CreateModelPart(ctx context.Context, part *model.ModelPart) error

	UpsertReading(ctx context.Context, actor model.Actor, in ReadingInput, now time.Time) (*UpsertResult, error)
	DeleteReading(ctx context.Context, actor model.Actor, machineID int64, period model.Period) (*model.Reading, error)
	ReadingHistory(ctx context.Context, machineID int64) ([]model.Reading, error)
	MonthReadings(ctx context.Context, period model.Period, branch string) ([]model.Reading, error)

	Windows(ctx context.Context, period model.Period, branch string) ([]model.Submission, error)
	Transition(ctx context.Context, period model.Period, branch string, decide Decision) (*model.Submission, error)

	RecordOrder(ctx context.Context, actor model.Actor, in OrderInput) (*model.PartOrder, error)
	GetOrder(ctx context.Context, actor model.Actor, id int64) (*model.PartOrder, error)
	DeleteOrder(ctx context.Context, actor model.Actor, id int64) (*model.PartOrder, error)
	OrderTimeline(ctx context.Context, machineID int64) ([]OrderEntry, error)

	PutSubscription(ctx context.Context, sub model.PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// GetMachine loads a machine visible to actor.
func (s *gormStore) GetMachine(ctx context.Context, actor model.Actor, id int64) (*model.Machine, error) {
	return loadMachine(s.db.WithContext(ctx), actor, id)
}

func loadMachine(tx *gorm.DB, actor model.Actor, id int64) (*model.Machine, error) {
	var m model.Machine
	if err := tx.First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("machine", id)
		}
		return nil, fmt.Errorf("failed to load machine %d: %w", id, err)
	}
	if !actor.CanSee(m.Branch) {
		return nil, errs.NotFound("machine", id)
	}
	return &m, nil
}

// FindMachineBySerial looks a machine up by its normalised serial number.
func (s *gormStore) FindMachineBySerial(ctx context.Context, actor model.Actor, serial string) (*model.Machine, error) {
	key := parse.NormalizeSerial(serial)
	var m model.Machine
	err := s.db.WithContext(ctx).
		Where("UPPER(REPLACE(serial_number, ' ', '')) = ?", key).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("machine serial", key)
		}
		return nil, fmt.Errorf("failed to look up serial %q: %w", key, err)
	}
	if !actor.CanSee(m.Branch) {
		return nil, errs.NotFound("machine serial", key)
	}
	return &m, nil
}

// ListMachines returns every machine in branch, or in all branches when branch is empty.
func (s *gormStore) ListMachines(ctx context.Context, branch string) ([]model.Machine, error) {
	var machines []model.Machine
	q := s.db.WithContext(ctx).Order("serial_number")
	if branch != "" {
		q = q.Where("branch = ?", branch)
	}
	if err := q.Find(&machines).Error; err != nil {
		return nil, fmt.Errorf("failed to list machines: %w", err)
	}
	return machines, nil
}

func (s *gormStore) GetModel(ctx context.Context, id int64) (*model.MachineModel, error) {
	var m model.MachineModel
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("model", id)
		}
		return nil, fmt.Errorf("failed to load model %d: %w", id, err)
	}
	return &m, nil
}

func (s *gormStore) GetModelPart(ctx context.Context, id int64) (*model.ModelPart, error) {
	var p model.ModelPart
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("model part", id)
		}
		return nil, fmt.Errorf("failed to load model part %d: %w", id, err)
	}
	return &p, nil
}

func (s *gormStore) ListModelParts(ctx context.Context, modelID int64) ([]model.ModelPart, error) {
	var parts []model.ModelPart
	if err := s.db.WithContext(ctx).Where("model_id = ?", modelID).Order("id").Find(&parts).Error; err != nil {
		return nil, fmt.Errorf("failed to list parts for model %d: %w", modelID, err)
	}
	return parts, nil
}

// FindModelPart resolves code against item codes first, then part names, within a model.
func (s *gormStore) FindModelPart(ctx context.Context, modelID int64, code string) (*model.ModelPart, error) {
	parts, err := s.ListModelParts(ctx, modelID)
	if err != nil {
		return nil, err
	}
	key := parse.NormalizeCode(code)
	for i := range parts {
		if parse.NormalizeCode(parts[i].ItemCode) == key {
			return &parts[i], nil
		}
	}
	for i := range parts {
		if parse.NormalizeCode(parts[i].PartName) == key {
			return &parts[i], nil
		}
	}
	return nil, errs.NotFound("model part", code)
}

// CreateModelPart stores a validated consumable definition.
func (s *gormStore) CreateModelPart(ctx context.Context, part *model.ModelPart) error {
	if err := s.db.WithContext(ctx).Create(part).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: item code %q already defined for model %d", errs.ErrConflict, part.ItemCode, part.ModelID)
		}
		return fmt.Errorf("failed to create model part: %w", err)
	}
	return nil
}

// isUniqueViolation recognises uniqueness failures from Postgres, from GORM's translated
// errors, and from SQLite.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- Subscriptions ---

func (s *gormStore) PutSubscription(ctx context.Context, sub model.PushSubscription) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth", "branch"}),
	}).Create(&sub).Error
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error
}

func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := s.db.WithContext(ctx).First(&sub, "endpoint = ?", endpoint).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("subscription", endpoint)
		}
		return nil, err
	}
	return &sub, nil
}
