package outbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/websocket"
)

// fakeConn records the statements run against it. The dispatcher must issue
// every drain statement on its one held connection, never on the pool.
type fakeConn struct {
	execs []string
}

func (f *fakeConn) Exec(_ context.Context, sql string, _ ...interface{}) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *fakeConn) Query(_ context.Context, sql string, _ ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeConn) QueryRow(_ context.Context, sql string, _ ...interface{}) pgx.Row {
	return nil
}

type stubPublisher struct {
	err error
}

func (p *stubPublisher) Publish(_ context.Context, _ websocket.Event) error {
	return p.err
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestEntryEvent(t *testing.T) {
	visitID := uuid.New()
	patientID := uuid.New()
	created := time.Now()

	entry := &Entry{
		ID:           42,
		VisitID:      visitID,
		PatientID:    patientID,
		Channel:      "lab-queue",
		Action:       "entered",
		CurrentStage: "lab",
		CreatedAt:    created,
	}

	event := entry.Event()
	if event.Channel != "lab-queue" {
		t.Errorf("expected channel lab-queue, got %s", event.Channel)
	}
	if event.VisitID != visitID.String() {
		t.Errorf("expected visit id %s, got %s", visitID, event.VisitID)
	}
	if event.PatientID != patientID.String() {
		t.Errorf("expected patient id %s, got %s", patientID, event.PatientID)
	}
	if event.Seq != 42 {
		t.Errorf("expected seq 42, got %d", event.Seq)
	}
	if !event.Timestamp.Equal(created) {
		t.Errorf("expected timestamp %v, got %v", created, event.Timestamp)
	}
}

func TestProcessMarksEntryOnDrainConnection(t *testing.T) {
	conn := &fakeConn{}
	d := NewDispatcher(nil, &stubPublisher{}, Config{}, testLogger())

	entry := &Entry{ID: 7, VisitID: uuid.New(), PatientID: uuid.New(), Channel: "lab-queue"}
	if err := d.process(context.Background(), conn, entry); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(conn.execs) != 1 || !strings.Contains(conn.execs[0], "processed_at = NOW()") {
		t.Fatalf("expected processed_at update on the drain connection, got %v", conn.execs)
	}
}

func TestProcessRecordsRetryOnDrainConnection(t *testing.T) {
	conn := &fakeConn{}
	d := NewDispatcher(nil, &stubPublisher{err: errors.New("subscriber gone")}, Config{}, testLogger())

	entry := &Entry{ID: 7, VisitID: uuid.New(), PatientID: uuid.New(), Channel: "lab-queue"}
	if err := d.process(context.Background(), conn, entry); err == nil {
		t.Fatal("expected publish failure to surface")
	}
	if len(conn.execs) != 1 || !strings.Contains(conn.execs[0], "retry_count = retry_count + 1") {
		t.Fatalf("expected retry update on the drain connection, got %v", conn.execs)
	}
}

func TestNewDispatcherDefaults(t *testing.T) {
	d := NewDispatcher(nil, nil, Config{}, testLogger())
	if d.config.BatchSize != 100 {
		t.Errorf("expected default batch size 100, got %d", d.config.BatchSize)
	}
	if d.config.PollInterval != 250*time.Millisecond {
		t.Errorf("expected default poll interval 250ms, got %v", d.config.PollInterval)
	}
	if d.config.MaxRetries != 5 {
		t.Errorf("expected default max retries 5, got %d", d.config.MaxRetries)
	}
}
