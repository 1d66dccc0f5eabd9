package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Priya8975/tenant-event-bus/internal/domain"
)

// DayLayout names the per-day log files.
const DayLayout = "2006-01-02"

const (
	dlqDirName   = "dlq"
	dlqSuffix    = "_dlq.jsonl"
	logExt       = ".jsonl"
	maxLineBytes = 16 << 20
)

// DefaultMaxOpenFiles caps the append handles a Journal keeps open.
const DefaultMaxOpenFiles = 128

var (
	// ErrInvalidTenant is returned for tenant IDs that cannot name a directory.
	ErrInvalidTenant = errors.New("invalid tenant id")
	// ErrDeadLettersChanged is returned when a DLQ file was rewritten or
	// removed after the batch being replaced was read.
	ErrDeadLettersChanged = errors.New("dlq file changed since it was read")
)

// ValidateTenant rejects tenant IDs that are empty or would escape the storage directory.
func ValidateTenant(tenantID string) error {
	if tenantID == "" || tenantID == "." || strings.Contains(tenantID, "..") ||
		strings.ContainsAny(tenantID, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidTenant, tenantID)
	}
	return nil
}

// Journal is the append-only JSONL store for tenant event logs and dead letters.
//
// Layout under the root directory:
//
//	{tenant}/{YYYY-MM-DD}.jsonl   accepted events
//	dlq/{tenant}_dlq.jsonl       dead letters
//
// One Journal must be the only writer of its directory.
type Journal struct {
	dir    string
	sync   bool
	logger *slog.Logger

	mu      sync.Mutex
	files   map[string]*appendFile
	maxOpen int
	tick    uint64
}

type appendFile struct {
	path    string
	f       *os.File
	w       *bufio.Writer
	lastUse uint64
}

// NewJournal creates a journal rooted at dir. When syncWrites is set every
// append is fsynced before it returns.
func NewJournal(dir string, syncWrites bool, logger *slog.Logger) *Journal {
	return &Journal{
		dir:    dir,
		sync:   syncWrites,
		logger:  logger,
		files:   make(map[string]*appendFile),
		maxOpen: DefaultMaxOpenFiles,
	}
}

// Dir returns the root storage directory.
func (j *Journal) Dir() string {
	return j.dir
}

// TenantDir returns the directory holding a tenant's daily logs.
func (j *Journal) TenantDir(tenantID string) string {
	return filepath.Join(j.dir, tenantID)
}

// DayPath returns the log file for a tenant on the UTC date of at.
func (j *Journal) DayPath(tenantID string, at time.Time) string {
	return filepath.Join(j.dir, tenantID, at.UTC().Format(DayLayout)+logExt)
}

// DeadLetterPath returns a tenant's DLQ file.
func (j *Journal) DeadLetterPath(tenantID string) string {
	return filepath.Join(j.dir, dlqDirName, tenantID+dlqSuffix)
}

// Append writes evt as one line to the tenant's log for the day of at.
// The line is flushed to the file before Append returns.
func (j *Journal) Append(tenantID string, at time.Time, evt domain.Event) error {
	if err := ValidateTenant(tenantID); err != nil {
		return err
	}
	return j.appendLine("events:"+tenantID, j.DayPath(tenantID, at), evt)
}

// AppendDeadLetter writes one dead-letter record to the tenant's DLQ file.
func (j *Journal) AppendDeadLetter(tenantID string, dl domain.DeadLetter) error {
	if err := ValidateTenant(tenantID); err != nil {
		return err
	}
	return j.appendLine("dlq:"+tenantID, j.DeadLetterPath(tenantID), dl)
}

func (j *Journal) appendLine(key, path string, v any) error {
	line, err := encodeLine(v)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	af, err := j.handle(key, path)
	if err != nil {
		return err
	}
	if _, err := af.w.Write(line); err != nil {
		j.drop(key)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := af.w.Flush(); err != nil {
		j.drop(key)
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	if j.sync {
		if err := af.f.Sync(); err != nil {
			j.drop(key)
			return fmt.Errorf("syncing %s: %w", path, err)
		}
	}
	return nil
}

// handle returns the cached append handle for key, reopening it when the
// target path has changed (day rollover). When maxOpen handles are cached the
// least recently used one is closed first. Caller holds j.mu.
func (j *Journal) handle(key, path string) (*appendFile, error) {
	j.tick++
	if af, ok := j.files[key]; ok {
		if af.path == path {
			af.lastUse = j.tick
			return af, nil
		}
		j.drop(key)
	}
	for j.maxOpen > 0 && len(j.files) >= j.maxOpen {
		j.dropOldest()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	af := &appendFile{path: path, f: f, w: bufio.NewWriter(f), lastUse: j.tick}
	j.files[key] = af
	return af, nil
}

// dropOldest closes the least recently used handle. Caller holds j.mu.
func (j *Journal) dropOldest() {
	var oldest string
	var oldestUse uint64
	for key, af := range j.files {
		if oldest == "" || af.lastUse < oldestUse {
			oldest, oldestUse = key, af.lastUse
		}
	}
	j.drop(oldest)
}

// OpenFiles returns the number of cached append handles.
func (j *Journal) OpenFiles() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.files)
}

// drop closes and forgets a cached handle. Caller holds j.mu.
func (j *Journal) drop(key string) {
	af, ok := j.files[key]
	if !ok {
		return
	}
	delete(j.files, key)
	if err := af.w.Flush(); err != nil {
		j.logger.Warn("flushing journal file on close", "path", af.path, "error", err)
	}
	if err := af.f.Close(); err != nil {
		j.logger.Warn("closing journal file", "path", af.path, "error", err)
	}
}

// DayFiles lists a tenant's log files in date order. since and until are
// optional inclusive YYYY-MM-DD bounds. A missing tenant directory yields no files.
func (j *Journal) DayFiles(tenantID, since, until string) ([]string, error) {
	if err := ValidateTenant(tenantID); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(j.TenantDir(tenantID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing tenant directory: %w", err)
	}

	var days []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), logExt) {
			continue
		}
		day := strings.TrimSuffix(e.Name(), logExt)
		if _, err := time.Parse(DayLayout, day); err != nil {
			continue
		}
		if since != "" && day < since {
			continue
		}
		if until != "" && day > until {
			continue
		}
		days = append(days, day)
	}
	sort.Strings(days)

	paths := make([]string, len(days))
	for i, day := range days {
		paths[i] = filepath.Join(j.TenantDir(tenantID), day+logExt)
	}
	return paths, nil
}

// ReadEvents streams the events stored in one log file to fn in file order.
// Lines that do not decode are skipped and counted. An error from fn stops the scan.
func (j *Journal) ReadEvents(path string, fn func(domain.Event) error) (int, error) {
	j.mu.Lock()
	for _, af := range j.files {
		if af.path != path {
			continue
		}
		if err := af.w.Flush(); err != nil {
			j.mu.Unlock()
			return 0, fmt.Errorf("flushing %s: %w", path, err)
		}
	}
	j.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	skipped := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var evt domain.Event
		if err := json.Unmarshal(line, &evt); err != nil || evt.Type == "" {
			skipped++
			j.logger.Warn("skipping malformed log line", "path", path, "line", lineNo, "error", err)
			continue
		}
		if err := fn(evt); err != nil {
			return skipped, err
		}
	}
	if err := scanner.Err(); err != nil {
		return skipped, fmt.Errorf("reading %s: %w", path, err)
	}
	return skipped, nil
}

// DeadLetterBatch is a snapshot of a tenant's DLQ file.
type DeadLetterBatch struct {
	Entries []domain.DeadLetter
	Skipped int

	tenantID  string
	offset    int64
	info      os.FileInfo
	malformed [][]byte
}

// ReadDeadLetters loads every entry in the tenant's DLQ file. A missing file
// yields an empty batch. Undecodable lines are counted and carried along so a
// later rewrite keeps them.
func (j *Journal) ReadDeadLetters(tenantID string) (DeadLetterBatch, error) {
	batch := DeadLetterBatch{tenantID: tenantID}
	if err := ValidateTenant(tenantID); err != nil {
		return batch, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if af, ok := j.files["dlq:"+tenantID]; ok {
		if err := af.w.Flush(); err != nil {
			return batch, fmt.Errorf("flushing dlq: %w", err)
		}
	}

	f, err := os.Open(j.DeadLetterPath(tenantID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return batch, nil
		}
		return batch, fmt.Errorf("opening dlq: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return batch, fmt.Errorf("stat dlq: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return batch, fmt.Errorf("reading dlq: %w", err)
	}
	batch.info = info
	batch.offset = int64(len(data))

	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var dl domain.DeadLetter
		if err := json.Unmarshal(line, &dl); err != nil || dl.Type == "" {
			batch.Skipped++
			batch.malformed = append(batch.malformed, append([]byte(nil), line...))
			j.logger.Warn("skipping malformed dead letter", "tenant_id", tenantID, "error", err)
			continue
		}
		batch.Entries = append(batch.Entries, dl)
	}
	return batch, nil
}

// ReplaceDeadLetters rewrites the DLQ file read into batch so that it holds
// keep followed by anything appended since the batch was read. The file is
// removed when nothing remains. It fails with ErrDeadLettersChanged, leaving
// the file untouched, when the file was replaced or removed after the read.
func (j *Journal) ReplaceDeadLetters(batch DeadLetterBatch, keep []domain.DeadLetter) error {
	tenantID := batch.tenantID
	if err := ValidateTenant(tenantID); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.drop("dlq:" + tenantID)
	path := j.DeadLetterPath(tenantID)

	if err := sameDeadLetterFile(path, batch); err != nil {
		return err
	}

	tail, err := readFrom(path, batch.offset)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	for _, raw := range batch.malformed {
		buf.Write(raw)
		buf.WriteByte('\n')
	}
	for _, dl := range keep {
		line, err := encodeLine(dl)
		if err != nil {
			return err
		}
		buf.Write(line)
	}
	buf.Write(tail)

	if buf.Len() == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing dlq: %w", err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating dlq directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), tenantID+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating dlq temp file: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing dlq temp file: %w", err)
	}
	if j.sync {
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("syncing dlq temp file: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing dlq temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing dlq: %w", err)
	}
	return nil
}

// Close flushes and closes every open file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var errs []error
	for key, af := range j.files {
		delete(j.files, key)
		if err := af.w.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flushing %s: %w", af.path, err))
		}
		if err := af.f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", af.path, err))
		}
	}
	return errors.Join(errs...)
}

// sameDeadLetterFile checks that path is still the file batch was read from
// and has only grown since.
func sameDeadLetterFile(path string, batch DeadLetterBatch) error {
	current, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if batch.info == nil {
				return nil
			}
			return ErrDeadLettersChanged
		}
		return fmt.Errorf("stat dlq: %w", err)
	}
	if batch.info == nil {
		return nil
	}
	if !os.SameFile(batch.info, current) || current.Size() < batch.offset {
		return ErrDeadLettersChanged
	}
	return nil
}

func readFrom(path string, offset int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening dlq: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking dlq: %w", err)
	}
	tail, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading dlq tail: %w", err)
	}
	return tail, nil
}

// encodeLine marshals v as a single JSON line without HTML escaping.
func encodeLine(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return buf.Bytes(), nil
}
