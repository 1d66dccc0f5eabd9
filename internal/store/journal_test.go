package store

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Priya8975/tenant-event-bus/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestJournal(t *testing.T) *Journal {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	j := NewJournal(t.TempDir(), false, logger)
	t.Cleanup(func() { j.Close() })
	return j
}

func testEvent(eventType, id string) domain.Event {
	return domain.Event{
		Type:    eventType,
		Payload: map[string]any{"bookingId": id, "note": "<b>&"},
		Metadata: domain.Metadata{
			TenantID:  "acme",
			EventID:   id,
			Timestamp: "2026-03-01T10:00:00.000Z",
		},
	}
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	n := 0
	s := bufio.NewScanner(f)
	for s.Scan() {
		n++
	}
	return n
}

func TestValidateTenant(t *testing.T) {
	for _, ok := range []string{"acme", "agency_internal", "tenant-1"} {
		assert.NoError(t, ValidateTenant(ok), ok)
	}
	for _, bad := range []string{"", ".", "..", "a/b", `a\b`, "x..y"} {
		assert.ErrorIs(t, ValidateTenant(bad), ErrInvalidTenant, bad)
	}
}

func TestAppend_WritesDayFile(t *testing.T) {
	j := setupTestJournal(t)
	at := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)

	require.NoError(t, j.Append("acme", at, testEvent("booking.confirmed", "evt_1")))
	require.NoError(t, j.Append("acme", at, testEvent("booking.confirmed", "evt_2")))

	path := filepath.Join(j.Dir(), "acme", "2026-03-01.jsonl")
	assert.Equal(t, path, j.DayPath("acme", at))
	assert.Equal(t, 2, countLines(t, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"note":"<b>&"`)
	assert.Contains(t, string(data), `"metadata":{"tenantId":"acme","eventId":"evt_1"`)
}

func TestAppend_RollsOverByDay(t *testing.T) {
	j := setupTestJournal(t)
	day1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	require.NoError(t, j.Append("acme", day1, testEvent("x", "evt_1")))
	require.NoError(t, j.Append("acme", day2, testEvent("x", "evt_2")))

	files, err := j.DayFiles("acme", "", "")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, 1, countLines(t, files[0]))
	assert.Equal(t, 1, countLines(t, files[1]))
}

func TestAppend_InvalidTenant(t *testing.T) {
	j := setupTestJournal(t)
	err := j.Append("../etc", time.Now(), testEvent("x", "evt_1"))
	assert.ErrorIs(t, err, ErrInvalidTenant)
}

func TestAppend_UnwritableDirectory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "acme")
	require.NoError(t, os.WriteFile(blocker, []byte("not a dir"), 0o644))

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	j := NewJournal(dir, true, logger)
	defer j.Close()

	assert.Error(t, j.Append("acme", time.Now(), testEvent("x", "evt_1")))
}

func TestDayFiles_FiltersAndSorts(t *testing.T) {
	j := setupTestJournal(t)
	dir := j.TenantDir("acme")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range []string{"2026-03-03.jsonl", "2026-03-01.jsonl", "2026-03-02.jsonl", "notes.txt", "bogus.jsonl"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	all, err := j.DayFiles("acme", "", "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "2026-03-01.jsonl", filepath.Base(all[0]))
	assert.Equal(t, "2026-03-03.jsonl", filepath.Base(all[2]))

	window, err := j.DayFiles("acme", "2026-03-02", "2026-03-02")
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "2026-03-02.jsonl", filepath.Base(window[0]))
}

func TestDayFiles_MissingTenant(t *testing.T) {
	j := setupTestJournal(t)
	files, err := j.DayFiles("nobody", "", "")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestReadEvents_SkipsMalformed(t *testing.T) {
	j := setupTestJournal(t)
	at := time.Now()
	require.NoError(t, j.Append("acme", at, testEvent("x", "evt_1")))

	path := j.DayPath("acme", at)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, j.Append("acme", at, testEvent("y", "evt_2")))

	var types []string
	skipped, err := j.ReadEvents(path, func(evt domain.Event) error {
		types = append(types, evt.Type)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, []string{"x", "y"}, types)
}

func TestDeadLetters_ReadAndReplace(t *testing.T) {
	j := setupTestJournal(t)
	for _, id := range []string{"evt_1", "evt_2"} {
		dl := domain.DeadLetter{Event: testEvent("booking.confirmed", id), DLQ: domain.DeadLetterInfo{Error: "boom", AttemptCount: 4}}
		require.NoError(t, j.AppendDeadLetter("acme", dl))
	}

	batch, err := j.ReadDeadLetters("acme")
	require.NoError(t, err)
	require.Len(t, batch.Entries, 2)
	assert.Equal(t, "boom", batch.Entries[0].DLQ.Error)
	assert.Equal(t, "evt_1", batch.Entries[0].Metadata.EventID)

	// An entry appended after the read survives the rewrite.
	late := domain.DeadLetter{Event: testEvent("booking.confirmed", "evt_3"), DLQ: domain.DeadLetterInfo{Error: "late"}}
	require.NoError(t, j.AppendDeadLetter("acme", late))

	require.NoError(t, j.ReplaceDeadLetters(batch, batch.Entries[1:]))

	after, err := j.ReadDeadLetters("acme")
	require.NoError(t, err)
	require.Len(t, after.Entries, 2)
	assert.Equal(t, "evt_2", after.Entries[0].Metadata.EventID)
	assert.Equal(t, "evt_3", after.Entries[1].Metadata.EventID)

	// Appending after a rewrite reopens the new file.
	require.NoError(t, j.AppendDeadLetter("acme", late))
	assert.Equal(t, 3, countLines(t, j.DeadLetterPath("acme")))
}

func TestDeadLetters_EmptyRewriteRemovesFile(t *testing.T) {
	j := setupTestJournal(t)
	require.NoError(t, j.AppendDeadLetter("acme", domain.DeadLetter{Event: testEvent("x", "evt_1")}))

	batch, err := j.ReadDeadLetters("acme")
	require.NoError(t, err)
	require.NoError(t, j.ReplaceDeadLetters(batch, nil))

	_, err = os.Stat(j.DeadLetterPath("acme"))
	assert.True(t, os.IsNotExist(err))
}

func TestDeadLetters_MissingFile(t *testing.T) {
	j := setupTestJournal(t)
	batch, err := j.ReadDeadLetters("acme")
	require.NoError(t, err)
	assert.Empty(t, batch.Entries)
	assert.Zero(t, batch.Skipped)
}

func TestDeadLetters_KeepsMalformedLines(t *testing.T) {
	j := setupTestJournal(t)
	path := j.DeadLetterPath("acme")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("garbage\n"), 0o644))
	require.NoError(t, j.AppendDeadLetter("acme", domain.DeadLetter{Event: testEvent("x", "evt_1")}))

	batch, err := j.ReadDeadLetters("acme")
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Skipped)
	require.Len(t, batch.Entries, 1)

	require.NoError(t, j.ReplaceDeadLetters(batch, nil))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "garbage\n", string(data))
}

func TestDeadLetters_StaleBatchIsRejected(t *testing.T) {
	j := setupTestJournal(t)
	for _, id := range []string{"evt_1", "evt_2"} {
		require.NoError(t, j.AppendDeadLetter("acme", domain.DeadLetter{Event: testEvent("booking.confirmed", id)}))
	}

	first, err := j.ReadDeadLetters("acme")
	require.NoError(t, err)
	second, err := j.ReadDeadLetters("acme")
	require.NoError(t, err)

	updated := first.Entries
	updated[0].DLQ.RetriedAt = "2026-03-02T10:00:00.000Z"
	updated[0].DLQ.Error = "a much longer error message than before"
	require.NoError(t, j.ReplaceDeadLetters(first, updated))
	before, err := os.ReadFile(j.DeadLetterPath("acme"))
	require.NoError(t, err)

	assert.ErrorIs(t, j.ReplaceDeadLetters(second, second.Entries[:1]), ErrDeadLettersChanged)

	after, err := os.ReadFile(j.DeadLetterPath("acme"))
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	batch, err := j.ReadDeadLetters("acme")
	require.NoError(t, err)
	assert.Zero(t, batch.Skipped)
	assert.Len(t, batch.Entries, 2)
}

func TestDeadLetters_RemovedFileIsRejected(t *testing.T) {
	j := setupTestJournal(t)
	require.NoError(t, j.AppendDeadLetter("acme", domain.DeadLetter{Event: testEvent("booking.confirmed", "evt_1")}))

	first, err := j.ReadDeadLetters("acme")
	require.NoError(t, err)
	second, err := j.ReadDeadLetters("acme")
	require.NoError(t, err)

	require.NoError(t, j.ReplaceDeadLetters(first, nil))
	assert.ErrorIs(t, j.ReplaceDeadLetters(second, second.Entries), ErrDeadLettersChanged)

	_, err = os.Stat(j.DeadLetterPath("acme"))
	assert.True(t, os.IsNotExist(err))
}

func TestAppend_CapsOpenFiles(t *testing.T) {
	j := setupTestJournal(t)
	j.maxOpen = 2
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, tenant := range []string{"a", "b", "c", "d"} {
		require.NoError(t, j.Append(tenant, at, testEvent("booking.confirmed", "evt_"+tenant)))
		assert.LessOrEqual(t, j.OpenFiles(), 2)
	}

	// Evicted handles reopen on the next append.
	require.NoError(t, j.Append("a", at, testEvent("booking.confirmed", "evt_a2")))
	assert.Equal(t, 2, countLines(t, j.DayPath("a", at)))
	assert.Equal(t, 2, j.OpenFiles())
}
