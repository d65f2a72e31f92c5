package runtime

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/MartinPl0/art-tools/internal/ctxlog"
	"github.com/MartinPl0/art-tools/internal/meta"
)

// defaultWorkerCount bounds parallel source resolution when the caller does
// not specify one.
const defaultWorkerCount = 10

// ResolveSource resolves a single component's upstream source, cloning if
// needed. Returns "" for components with no declared source.
func (rt *Runtime) ResolveSource(ctx context.Context, m *meta.Metadata) (string, error) {
	return rt.Resolver.Resolve(ctx, m)
}

// CloneSources resolves upstream source for every loaded component in
// parallel. Per-alias serialization is handled by the resolver; this just
// bounds the worker count.
func (rt *Runtime) CloneSources(ctx context.Context) error {
	workers := rt.opts.WorkerCount
	if workers <= 0 {
		workers = defaultWorkerCount
	}
	logger := ctxlog.FromContext(ctx)
	logger.Info("resolving sources", "components", len(rt.Graph.AllMetas()), "workers", workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, m := range rt.Graph.AllMetas() {
		m := m
		g.Go(func() error {
			_, err := rt.Resolver.Resolve(gctx, m)
			return err
		})
	}
	return g.Wait()
}

// FilterFailedImageTrees removes failed images and all their descendants
// from the graph, recomputing the build order. Returns the expanded failed
// list.
func (rt *Runtime) FilterFailedImageTrees(failed []string) []string {
	return rt.Graph.FilterFailedTrees(failed)
}
