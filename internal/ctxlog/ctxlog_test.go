package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithLoggerRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
}

func TestFromContext_FallsBackToDefault(t *testing.T) {
	t.Parallel()
	assert.NotNil(t, FromContext(context.Background()))
}

func TestTee_RoutesByHandlerLevel(t *testing.T) {
	t.Parallel()
	var infoOut, debugOut bytes.Buffer
	logger := slog.New(Tee(
		slog.NewTextHandler(&infoOut, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&debugOut, &slog.HandlerOptions{Level: slog.LevelDebug}),
	))

	logger.Debug("resolving branch", "branch", "release-4.14")
	logger.Info("cloning source", "alias", "containers_etcd_etcd")

	assert.NotContains(t, infoOut.String(), "resolving branch",
		"debug records must not reach the info-level handler")
	assert.Contains(t, infoOut.String(), "cloning source")
	assert.Contains(t, debugOut.String(), "resolving branch")
	assert.Contains(t, debugOut.String(), "cloning source")
}

func TestTee_WithAttrsAppliesToAllHandlers(t *testing.T) {
	t.Parallel()
	var a, b bytes.Buffer
	logger := slog.New(Tee(
		slog.NewTextHandler(&a, nil),
		slog.NewTextHandler(&b, nil),
	)).With("group", "openshift-4.14")

	logger.Info("initialized")

	require.Contains(t, a.String(), "group=openshift-4.14")
	require.Contains(t, b.String(), "group=openshift-4.14")
}
