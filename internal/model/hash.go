package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed keys.
// Version suffix enables future algorithm migration.
const (
	DomainUploadRow = "timebridge/upload-row/v1"
)

// ContentKeyPrefix marks external ids derived from row content rather than a
// source-native id.
const ContentKeyPrefix = "file-"

// contentKeyHexLen is how many hex characters of the digest are kept.
const contentKeyHexLen = 24

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// RowContent is the set of fields that identify an uploaded row.
type RowContent struct {
	SourceID        int64
	WorkDate        Date
	UserIdentifier  string
	DurationSeconds int
	Description     string
	ProjectKey      string
	IssueKey        string
}

// ContentKey derives the dedup key for an uploaded row. Re-uploading an
// unchanged row yields the same key; any edit to a hashed field yields a new
// one, so an edited row imports as a new entry.
func ContentKey(row RowContent) (string, error) {
	obj := map[string]any{
		"source_id":        row.SourceID,
		"work_date":        row.WorkDate.String(),
		"user_identifier":  row.UserIdentifier,
		"duration_seconds": row.DurationSeconds,
		"description":      row.Description,
		"project_key":      row.ProjectKey,
		"issue_key":        row.IssueKey,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ContentKey: failed to marshal: %w", err)
	}

	return ContentKeyPrefix + hashWithDomain(DomainUploadRow, canonical)[:contentKeyHexLen], nil
}
