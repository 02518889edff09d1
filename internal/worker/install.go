package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/khuddam/sitecache/internal/cache"
)

// precacheConcurrency 限制单个清单同时进行的抓取数。
const precacheConcurrency = 6

// handleInstall 并行填充 static 与 external 分区。任一 URL 抓取失败或返回非
// 2xx 都会使整个安装失败。
func (w *Worker) handleInstall(ctx context.Context, _ Event, registry *cache.Registry) Outcome {
	staticURLs, err := w.manifest.StaticURLs(w.origin)
	if err != nil {
		return Outcome{Err: fmt.Errorf("%w: %v", ErrInstallFailed, err)}
	}
	names := registry.Names()

	var staticKeys, externalKeys []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		keys, err := w.addAll(gctx, registry, names.Static, staticURLs)
		staticKeys = keys
		return err
	})
	g.Go(func() error {
		keys, err := w.addAll(gctx, registry, names.External, w.manifest.External)
		externalKeys = keys
		return err
	})
	if err := g.Wait(); err != nil {
		return Outcome{Err: err}
	}
	return Outcome{Stored: append(staticKeys, externalKeys...)}
}

type fetched struct {
	key  cache.Key
	resp *cache.Response
}

// addAll 先抓取全部 URL，全部成功后才按清单顺序写入分区。
func (w *Worker) addAll(ctx context.Context, registry *cache.Registry, partition string, urls []string) ([]string, error) {
	p, err := registry.Open(ctx, partition)
	if err != nil {
		return nil, fmt.Errorf("open partition %s: %w", partition, err)
	}
	w.logger.WithFields(logrus.Fields{
		"scope":     w.scope,
		"partition": partition,
		"count":     len(urls),
	}).Info("precache_start")

	results := make([]fetched, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(precacheConcurrency)
	for i, raw := range urls {
		g.Go(func() error {
			u, err := url.Parse(raw)
			if err != nil {
				return fmt.Errorf("%w: parse %s: %v", ErrInstallFailed, raw, err)
			}
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, u.String(), nil)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInstallFailed, raw, err)
			}
			resp, err := w.fetcher.Fetch(gctx, req)
			if err != nil {
				return fmt.Errorf("%w: fetch %s: %v", ErrInstallFailed, raw, err)
			}
			if resp.Status < 200 || resp.Status > 299 {
				return fmt.Errorf("%w: fetch %s: status %d", ErrInstallFailed, raw, resp.Status)
			}
			results[i] = fetched{key: cache.KeyFor(http.MethodGet, u), resp: resp}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stored := make([]string, 0, len(results))
	for _, item := range results {
		if err := p.Put(ctx, item.key, item.resp); err != nil {
			return stored, fmt.Errorf("%w: put %s: %v", ErrInstallFailed, item.key, err)
		}
		stored = append(stored, string(item.key))
	}
	return stored, nil
}
