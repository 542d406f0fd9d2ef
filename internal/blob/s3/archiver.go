package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/ringsim/internal/domain"
)

// multipartThreshold is the payload size above which uploads switch to the
// multipart manager. Reports for large batches can cross it.
const multipartThreshold = 8 * 1024 * 1024

// ReportArchiver implements domain.Archiver by serializing settlement reports
// to JSON and uploading them to the configured bucket. The primary store keeps
// the queryable copy; the archive is the durable one.
type ReportArchiver struct {
	writer *Writer
}

// NewReportArchiver creates a ReportArchiver uploading through writer.
func NewReportArchiver(writer *Writer) *ReportArchiver {
	return &ReportArchiver{writer: writer}
}

// ArchiveReport uploads one report and returns its blob path, partitioned by
// the report's run date:
//
//	reports/2026/09/<run-id>.json
func (a *ReportArchiver) ArchiveReport(ctx context.Context, report *domain.SettlementReport) (string, error) {
	body, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal report %s: %w", report.RunID, err)
	}

	path := fmt.Sprintf("reports/%s/%s.json", report.Timestamp.Format("2006/01"), report.RunID)

	if len(body) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(body), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(body), "application/json")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive report %s: %w", report.RunID, err)
	}
	return path, nil
}
