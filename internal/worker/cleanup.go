package worker

import (
	"context"
	"time"

	"kanban-live/internal/models"
	"kanban-live/internal/realtime"
	"kanban-live/internal/services"
)

// DoneCleanupHandler prunes tasks that have sat in the done lane longer
// than the retention window, broadcasting each deletion so open boards
// drop the cards too.
func DoneCleanupHandler(svc services.TaskService, hub *realtime.Hub, retention time.Duration) JobHandler {
	return func(ctx context.Context, job *Job) error {
		tasks, err := svc.ListAll()
		if err != nil {
			return err
		}

		cutoff := time.Now().Add(-retention)
		for _, task := range tasks {
			if task.Status != models.StatusDone || !task.UpdatedAt.Before(cutoff) {
				continue
			}
			if err := svc.Delete(task.ID); err != nil {
				return err
			}
			hub.Broadcast(realtime.EventTaskDeleted, task.ID)
		}
		return nil
	}
}
