package store

import (
	"fmt"

	"kanban-live/internal/config"
	"kanban-live/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// TaskStore is the durable keyed store for task rows. All operations are
// atomic per call; gorm serializes access to the underlying sqlite file.
type TaskStore struct {
	db *gorm.DB
}

// Open connects per the configured driver and migrates the tasks table.
func Open(cfg *config.Config) (*TaskStore, error) {
	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.Database.Path)
	case "postgres":
		dialector = postgres.Open(cfg.GetPostgresDSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return New(db)
}

// New wraps an existing gorm connection. Used directly by tests with an
// in-memory sqlite database.
func New(db *gorm.DB) (*TaskStore, error) {
	if err := db.AutoMigrate(&models.Task{}); err != nil {
		return nil, fmt.Errorf("failed to migrate tasks table: %w", err)
	}
	return &TaskStore{db: db}, nil
}

// List returns every task, newest-created first.
func (s *TaskStore) List() ([]models.Task, error) {
	var tasks []models.Task
	result := s.db.Order("created_at DESC, id DESC").Find(&tasks)
	if result.Error != nil {
		return nil, result.Error
	}
	return tasks, nil
}

func (s *TaskStore) Get(id string) (models.Task, error) {
	var task models.Task
	result := s.db.First(&task, "id = ?", id)
	if result.Error != nil {
		return models.Task{}, result.Error
	}
	return task, nil
}

func (s *TaskStore) Insert(task models.Task) (models.Task, error) {
	if err := s.db.Create(&task).Error; err != nil {
		return models.Task{}, err
	}
	return task, nil
}

// Update applies the given column values to one row and returns the row as
// stored. Returns gorm.ErrRecordNotFound when the id is absent.
func (s *TaskStore) Update(id string, fields map[string]interface{}) (models.Task, error) {
	result := s.db.Model(&models.Task{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return models.Task{}, result.Error
	}
	if result.RowsAffected == 0 {
		return models.Task{}, gorm.ErrRecordNotFound
	}
	return s.Get(id)
}

// Delete removes the row if present. Deleting a missing id is not an error.
func (s *TaskStore) Delete(id string) error {
	return s.db.Delete(&models.Task{}, "id = ?", id).Error
}
