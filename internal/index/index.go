// Package index reads, writes and compares bundle index files.
//
// An index is one line per bundle: name, version, content hash and
// size separated by tabs and terminated by CRLF. There is no header.
package index

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/mmcdole/bundlesync/internal/domain"
)

const fieldCount = 4

// ParseError reports a malformed index line.
type ParseError struct {
	Line  int    // 1-based line number
	Field string // "name", "version", "hash", "size" or "line"
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("index line %d: bad %s %q: %v", e.Line, e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Serialize renders records in index file form.
func Serialize(records []domain.BundleRecord) []byte {
	var buf bytes.Buffer
	for _, r := range records {
		buf.WriteString(r.Name)
		buf.WriteByte('\t')
		buf.WriteString(strconv.Itoa(r.Version))
		buf.WriteByte('\t')
		buf.WriteString(r.ContentHash)
		buf.WriteByte('\t')
		buf.WriteString(strconv.FormatInt(r.SizeBytes, 10))
		buf.WriteString("\r\n")
	}
	return buf.Bytes()
}

// Parse decodes index file content. Blank lines are skipped. Both CRLF
// and bare LF line endings are accepted.
func Parse(data []byte) ([]domain.BundleRecord, error) {
	var records []domain.BundleRecord
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != fieldCount {
			return nil, &ParseError{
				Line:  lineNo,
				Field: "line",
				Value: line,
				Err:   fmt.Errorf("want %d tab-separated fields, got %d", fieldCount, len(fields)),
			}
		}

		name := fields[0]
		if name == "" {
			return nil, &ParseError{Line: lineNo, Field: "name", Value: name, Err: fmt.Errorf("empty")}
		}
		if seen[name] {
			return nil, &ParseError{Line: lineNo, Field: "name", Value: name, Err: fmt.Errorf("duplicate")}
		}
		seen[name] = true

		version, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			return nil, &ParseError{Line: lineNo, Field: "version", Value: fields[1], Err: err}
		}
		size, err := strconv.ParseInt(strings.TrimSpace(fields[3]), 10, 64)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Field: "size", Value: fields[3], Err: err}
		}

		records = append(records, domain.BundleRecord{
			Name:        name,
			Version:     version,
			ContentHash: fields[2],
			SizeBytes:   size,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	return records, nil
}

// Diff returns the records of remote that are missing from local or
// whose content hash differs, in remote order. Records only present in
// local are not reported.
func Diff(local, remote []domain.BundleRecord) []domain.BundleRecord {
	byName := ByName(local)
	var out []domain.BundleRecord
	for _, r := range remote {
		l, ok := byName[r.Name]
		if !ok || l.ContentHash != r.ContentHash {
			out = append(out, r)
		}
	}
	return out
}

// ByName indexes records by name.
func ByName(records []domain.BundleRecord) map[string]domain.BundleRecord {
	m := make(map[string]domain.BundleRecord, len(records))
	for _, r := range records {
		m[r.Name] = r
	}
	return m
}

// TotalSize sums SizeBytes over records.
func TotalSize(records []domain.BundleRecord) int64 {
	var total int64
	for _, r := range records {
		total += r.SizeBytes
	}
	return total
}
