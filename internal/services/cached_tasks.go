package services

import (
	"time"

	"kanban-live/internal/cache"
	"kanban-live/internal/models"
)

const (
	snapshotKey = "tasks:snapshot"
	snapshotTTL = 30 * time.Second
)

// CachedTaskService layers a Redis snapshot cache over a TaskService.
// Every newly connected viewer asks for the full list, so the snapshot is
// the one read worth caching; any mutation invalidates it.
type CachedTaskService struct {
	taskService TaskService
	cache       *cache.RedisCache
}

func NewCachedTaskService(taskService TaskService, cacheInstance *cache.RedisCache) *CachedTaskService {
	return &CachedTaskService{
		taskService: taskService,
		cache:       cacheInstance,
	}
}

func (s *CachedTaskService) Create(input CreateTaskInput) (models.Task, error) {
	task, err := s.taskService.Create(input)
	if err != nil {
		return task, err
	}
	s.cache.Delete(snapshotKey)
	return task, nil
}

func (s *CachedTaskService) Update(id string, patch models.TaskPatch) (models.Task, error) {
	task, err := s.taskService.Update(id, patch)
	if err != nil {
		return task, err
	}
	s.cache.Delete(snapshotKey)
	return task, nil
}

func (s *CachedTaskService) Delete(id string) error {
	if err := s.taskService.Delete(id); err != nil {
		return err
	}
	s.cache.Delete(snapshotKey)
	return nil
}

func (s *CachedTaskService) ListAll() ([]models.Task, error) {
	var cached []models.Task
	if err := s.cache.Get(snapshotKey, &cached); err == nil {
		return cached, nil
	}

	tasks, err := s.taskService.ListAll()
	if err != nil {
		return tasks, err
	}

	s.cache.Set(snapshotKey, tasks, snapshotTTL)
	return tasks, nil
}
