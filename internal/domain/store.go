package domain

import (
	"context"
	"io"
	"time"
)

// ReportStore archives settlement reports. The core never writes here; serve
// mode persists each produced report for later inspection.
type ReportStore interface {
	Insert(ctx context.Context, report *SettlementReport) error
	GetByRunID(ctx context.Context, runID string) (*SettlementReport, error)
	ListRecent(ctx context.Context, limit int) ([]*SettlementReport, error)
}

// RegistryCache is a read-through cache placed in front of a StateReader's
// registry lookups. Registry contents change rarely compared to balances, so
// they are safe to reuse across runs for a short TTL.
type RegistryCache interface {
	GetTokenRegistered(ctx context.Context, token string) (bool, bool, error) // value, hit
	SetTokenRegistered(ctx context.Context, token string, registered bool, ttl time.Duration) error
	GetBrokerRegistration(ctx context.Context, key string) (string, bool, error) // interceptor hex, hit
	SetBrokerRegistration(ctx context.Context, key, interceptor string, ttl time.Duration) error
}

// BlobWriter stores a serialized report blob under a path.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobInfo describes one stored blob.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// BlobReader retrieves and enumerates stored report blobs.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// Archiver persists settlement reports out of band, returning the blob path.
type Archiver interface {
	ArchiveReport(ctx context.Context, report *SettlementReport) (string, error)
}
