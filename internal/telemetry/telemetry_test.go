package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "seekd", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.ServiceVersion)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Enabled = false

	shutdown, err := Init(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	// Should be able to call shutdown without error
	err = shutdown(ctx)
	assert.NoError(t, err)

	// Should not be enabled
	assert.False(t, IsEnabled())
}

func TestTracerReturnsNoOp(t *testing.T) {
	// Reset state
	tracer = nil
	enabled = false

	// Without initialization, should return no-op tracer
	tr := Tracer()
	require.NotNil(t, tr)
}

func TestStartSpan(t *testing.T) {
	ctx := context.Background()

	// Even without initialization, StartSpan should work (no-op)
	newCtx, span := StartSpan(ctx, "test.operation")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)

	// Should be able to end the span
	span.End()
}

func TestSpanFromContext(t *testing.T) {
	ctx := context.Background()

	// Should return a span even without active span
	span := SpanFromContext(ctx)
	require.NotNil(t, span)
}

func TestAddEvent(t *testing.T) {
	ctx := context.Background()

	// Should not panic with no active span
	require.NotPanics(t, func() {
		AddEvent(ctx, "test.event")
	})
}

func TestRecordError(t *testing.T) {
	ctx := context.Background()

	// Should not panic with nil error
	require.NotPanics(t, func() {
		RecordError(ctx, nil)
	})

	// Should not panic with error
	require.NotPanics(t, func() {
		RecordError(ctx, errors.New("test error"))
	})
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()

	// Should not panic
	require.NotPanics(t, func() {
		SetStatus(ctx, codes.Ok, "success")
	})

	require.NotPanics(t, func() {
		SetStatus(ctx, codes.Error, "failed")
	})
}

func TestSetAttributes(t *testing.T) {
	ctx := context.Background()

	// Should not panic
	require.NotPanics(t, func() {
		SetAttributes(ctx, PeerUsername("alice"))
	})
}

func TestTraceID(t *testing.T) {
	ctx := context.Background()

	// Without active span, should return empty string
	traceID := TraceID(ctx)
	assert.Equal(t, "", traceID)
}

func TestSpanID(t *testing.T) {
	ctx := context.Background()

	// Without active span, should return empty string
	spanID := SpanID(ctx)
	assert.Equal(t, "", spanID)
}

func TestAttributeHelpers(t *testing.T) {
	t.Run("PeerUsername", func(t *testing.T) {
		attr := PeerUsername("alice")
		assert.Equal(t, AttrPeerUsername, string(attr.Key))
		assert.Equal(t, "alice", attr.Value.AsString())
	})

	t.Run("PeerAddress", func(t *testing.T) {
		attr := PeerAddress("192.168.1.100:2234")
		assert.Equal(t, AttrPeerAddress, string(attr.Key))
		assert.Equal(t, "192.168.1.100:2234", attr.Value.AsString())
	})

	t.Run("TransferID", func(t *testing.T) {
		attr := TransferID("b2c3d4")
		assert.Equal(t, AttrTransferID, string(attr.Key))
		assert.Equal(t, "b2c3d4", attr.Value.AsString())
	})

	t.Run("TransferFilename", func(t *testing.T) {
		attr := TransferFilename("Music\\track.mp3")
		assert.Equal(t, AttrTransferFilename, string(attr.Key))
		assert.Equal(t, "Music\\track.mp3", attr.Value.AsString())
	})

	t.Run("TransferOffset", func(t *testing.T) {
		attr := TransferOffset(1024)
		assert.Equal(t, AttrTransferOffset, string(attr.Key))
		assert.Equal(t, int64(1024), attr.Value.AsInt64())
	})

	t.Run("TransferSize", func(t *testing.T) {
		attr := TransferSize(1048576)
		assert.Equal(t, AttrTransferSize, string(attr.Key))
		assert.Equal(t, int64(1048576), attr.Value.AsInt64())
	})

	t.Run("QueuePosition", func(t *testing.T) {
		attr := QueuePosition(3)
		assert.Equal(t, AttrQueuePosition, string(attr.Key))
		assert.Equal(t, int64(3), attr.Value.AsInt64())
	})

	t.Run("ShareAlias", func(t *testing.T) {
		attr := ShareAlias("Music")
		assert.Equal(t, AttrShareAlias, string(attr.Key))
		assert.Equal(t, "Music", attr.Value.AsString())
	})

	t.Run("SearchQuery", func(t *testing.T) {
		attr := SearchQuery("artist album")
		assert.Equal(t, AttrSearchQuery, string(attr.Key))
		assert.Equal(t, "artist album", attr.Value.AsString())
	})

	t.Run("SearchResults", func(t *testing.T) {
		attr := SearchResults(17)
		assert.Equal(t, AttrSearchResults, string(attr.Key))
		assert.Equal(t, int64(17), attr.Value.AsInt64())
	})

	t.Run("DBBackend", func(t *testing.T) {
		attr := DBBackend("sqlite")
		assert.Equal(t, AttrDBBackend, string(attr.Key))
		assert.Equal(t, "sqlite", attr.Value.AsString())
	})
}

func TestStartUploadSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartUploadSpan(ctx, "enqueue", "alice", "Music\\track.mp3")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()

	// With additional attributes
	newCtx2, span2 := StartUploadSpan(ctx, "stream", "bob", "a.flac", TransferOffset(0), TransferSize(4096))
	require.NotNil(t, newCtx2)
	require.NotNil(t, span2)
	span2.End()
}

func TestStartSharesSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartSharesSpan(ctx, "search", SearchQuery("some query"))
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}

func TestStartLedgerSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartLedgerSpan(ctx, "add", TransferID("abc"))
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}
