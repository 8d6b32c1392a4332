package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for peer and transfer operations.
// These follow OpenTelemetry semantic conventions where applicable.
const (
	// ========================================================================
	// Peer attributes
	// ========================================================================
	AttrPeerUsername = "peer.username"
	AttrPeerAddress  = "peer.address"
	AttrPeerGroup    = "peer.group"

	// ========================================================================
	// Transfer attributes
	// ========================================================================
	AttrTransferID        = "transfer.id"
	AttrTransferDirection = "transfer.direction"
	AttrTransferFilename  = "transfer.filename"
	AttrTransferState     = "transfer.state"
	AttrTransferOffset    = "transfer.offset"
	AttrTransferBytes     = "transfer.bytes_sent"
	AttrTransferSize      = "transfer.size"

	// ========================================================================
	// Queue attributes
	// ========================================================================
	AttrQueuePosition = "queue.position"
	AttrQueueSlots    = "queue.slots"

	// ========================================================================
	// Share attributes
	// ========================================================================
	AttrShareAlias = "share.alias"
	AttrSharePath  = "share.path"
	AttrLocalPath  = "fs.path"

	// ========================================================================
	// Search attributes
	// ========================================================================
	AttrSearchQuery   = "search.query"
	AttrSearchResults = "search.results"

	// ========================================================================
	// Storage attributes
	// ========================================================================
	AttrDBBackend = "db.system"
)

// Span names for operations.
// Format: <component>.<operation>
const (
	SpanUploadEnqueue = "upload.enqueue"
	SpanUploadAwait   = "upload.await_slot"
	SpanUploadStream  = "upload.stream"

	SpanSharesScan    = "shares.scan"
	SpanSharesSearch  = "shares.search"
	SpanSharesBrowse  = "shares.browse"
	SpanSharesResolve = "shares.resolve"

	SpanLedgerAdd    = "ledger.add"
	SpanLedgerUpdate = "ledger.update"
	SpanLedgerList   = "ledger.list"
)

// PeerUsername returns an attribute for a remote peer username
func PeerUsername(name string) attribute.KeyValue {
	return attribute.String(AttrPeerUsername, name)
}

// PeerAddress returns an attribute for a remote peer address
func PeerAddress(addr string) attribute.KeyValue {
	return attribute.String(AttrPeerAddress, addr)
}

// PeerGroup returns an attribute for a configured peer group
func PeerGroup(name string) attribute.KeyValue {
	return attribute.String(AttrPeerGroup, name)
}

// TransferID returns an attribute for a transfer identifier
func TransferID(id string) attribute.KeyValue {
	return attribute.String(AttrTransferID, id)
}

// TransferDirection returns an attribute for a transfer direction
func TransferDirection(d string) attribute.KeyValue {
	return attribute.String(AttrTransferDirection, d)
}

// TransferFilename returns an attribute for a remote filename
func TransferFilename(name string) attribute.KeyValue {
	return attribute.String(AttrTransferFilename, name)
}

// TransferState returns an attribute for transfer state flags
func TransferState(state string) attribute.KeyValue {
	return attribute.String(AttrTransferState, state)
}

// TransferOffset returns an attribute for the requested start offset
func TransferOffset(offset int64) attribute.KeyValue {
	return attribute.Int64(AttrTransferOffset, offset)
}

// TransferBytes returns an attribute for bytes transferred
func TransferBytes(n int64) attribute.KeyValue {
	return attribute.Int64(AttrTransferBytes, n)
}

// TransferSize returns an attribute for a file size
func TransferSize(size int64) attribute.KeyValue {
	return attribute.Int64(AttrTransferSize, size)
}

// QueuePosition returns an attribute for a queue position
func QueuePosition(p int) attribute.KeyValue {
	return attribute.Int(AttrQueuePosition, p)
}

// QueueSlots returns an attribute for a slot count
func QueueSlots(n int) attribute.KeyValue {
	return attribute.Int(AttrQueueSlots, n)
}

// ShareAlias returns an attribute for a share alias
func ShareAlias(alias string) attribute.KeyValue {
	return attribute.String(AttrShareAlias, alias)
}

// SharePath returns an attribute for a share root path
func SharePath(path string) attribute.KeyValue {
	return attribute.String(AttrSharePath, path)
}

// LocalPath returns an attribute for a local filesystem path
func LocalPath(path string) attribute.KeyValue {
	return attribute.String(AttrLocalPath, path)
}

// SearchQuery returns an attribute for a search query string
func SearchQuery(q string) attribute.KeyValue {
	return attribute.String(AttrSearchQuery, q)
}

// SearchResults returns an attribute for a search result count
func SearchResults(n int) attribute.KeyValue {
	return attribute.Int(AttrSearchResults, n)
}

// DBBackend returns an attribute for the ledger database backend
func DBBackend(name string) attribute.KeyValue {
	return attribute.String(AttrDBBackend, name)
}

// StartUploadSpan starts a span for an upload operation.
// This is a convenience function that sets common attributes.
func StartUploadSpan(ctx context.Context, operation, username, filename string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		PeerUsername(username),
		TransferFilename(filename),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, operation, trace.WithAttributes(allAttrs...))
}

// StartSharesSpan starts a span for a shared-file cache operation.
func StartSharesSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, operation, trace.WithAttributes(attrs...))
}

// StartLedgerSpan starts a span for a transfer ledger operation.
func StartLedgerSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, operation, trace.WithAttributes(attrs...))
}
