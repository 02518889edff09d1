package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/khuddam/sitecache/internal/cache"
)

// handleActivate 删除归属当前作用域但不在认可列表中的分区。尚未创建的认可分区
// 不会在这里被创建。
func (w *Worker) handleActivate(ctx context.Context, _ Event, registry *cache.Registry) Outcome {
	stale, err := registry.Stale(ctx)
	if err != nil {
		return Outcome{Err: fmt.Errorf("list partitions: %w", err)}
	}

	var (
		deleted []string
		errs    []error
	)
	for _, name := range stale {
		w.logger.WithFields(logrus.Fields{
			"scope":     w.scope,
			"partition": name,
			"action":    "activate",
		}).Info("partition_removed")
		if _, err := registry.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
			continue
		}
		deleted = append(deleted, name)
	}
	return Outcome{Deleted: deleted, Err: errors.Join(errs...)}
}
