package corpus

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/topic-analysis/internal/model"
)

// Load reads the records for ids (corpus-relative paths under root) with at
// most concurrency parallel reads. Files that cannot be read or are not
// conversation records are skipped with a warning. The result keeps the
// order of ids.
func Load(ctx context.Context, root string, ids []string, concurrency int) ([]model.Item, error) {
	if concurrency <= 0 {
		concurrency = 1
	}

	slots := make([]*model.Item, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			path := filepath.Join(root, filepath.FromSlash(id))
			conv, err := ReadRecord(path)
			if err != nil {
				zap.L().Warn("corpus: skipping file",
					zap.String("file", id),
					zap.Error(err),
				)
				return nil
			}
			slots[i] = &model.Item{ID: id, Path: path, Conversation: conv}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items := make([]model.Item, 0, len(ids))
	for _, it := range slots {
		if it != nil {
			items = append(items, *it)
		}
	}

	if skipped := len(ids) - len(items); skipped > 0 {
		zap.L().Info("corpus: skipped unreadable files",
			zap.Int("skipped", skipped),
			zap.Int("loaded", len(items)),
		)
	}
	return items, nil
}
