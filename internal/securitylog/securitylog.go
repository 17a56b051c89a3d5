package securitylog

import (
	"log"
	"sync"
	"time"

	"github.com/voyago/tripgate/internal/database"
)

// Event is a single recorded security decision.
type Event struct {
	ID        int64     `json:"id"`
	Source    string    `json:"source"`   // path_guard, agent_classifier, injection_detector, quota, rate_limit
	Action    string    `json:"action"`   // blocked, flagged, limited
	Path      string    `json:"path"`
	ClientIP  string    `json:"clientIp"`
	Severity  string    `json:"severity"` // low, medium, high
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"createdAt"`
}

// Recorder persists security events to the security_events table.
// Writes go through a buffered channel so request handling never blocks
// on the database.
type Recorder struct {
	db      database.DB
	events  chan Event
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewRecorder creates a recorder and starts its background writer.
func NewRecorder(db database.DB) *Recorder {
	r := &Recorder{
		db:      db,
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go r.writeLoop()
	log.Printf("📊 Security event recorder initialized")
	return r
}

// Record queues an event for persistence. Events are dropped with a log
// warning when the buffer is full.
func (r *Recorder) Record(ev Event) {
	select {
	case r.events <- ev:
	default:
		log.Printf("⚠️ Security event buffer full, dropping event from %s", ev.Source)
	}
}

func (r *Recorder) writeLoop() {
	defer close(r.stopped)
	for {
		select {
		case ev := <-r.events:
			r.persist(ev)
		case <-r.done:
			// Drain remaining events before exiting
			for {
				select {
				case ev := <-r.events:
					r.persist(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) persist(ev Event) {
	_, err := r.db.Exec(`
		INSERT INTO security_events (source, action, path, client_ip, severity, detail)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.Source, ev.Action, ev.Path, ev.ClientIP, ev.Severity, ev.Detail)
	if err != nil {
		log.Printf("⚠️ Failed to persist security event: %v", err)
	}
}

// Recent returns the most recent events, newest first.
func (r *Recorder) Recent(limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.db.Query(`
		SELECT id, source, action, path, client_ip, severity, detail, created_at
		FROM security_events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.Source, &ev.Action, &ev.Path, &ev.ClientIP, &ev.Severity, &ev.Detail, &createdAt); err != nil {
			continue
		}
		if t, err := time.Parse("2006-01-02 15:04:05", createdAt); err == nil {
			ev.CreatedAt = t
		} else if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			ev.CreatedAt = t
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountBySeverity returns event counts grouped by severity for the admin view.
func (r *Recorder) CountBySeverity() (map[string]int, error) {
	rows, err := r.db.Query(`SELECT severity, COUNT(*) FROM security_events GROUP BY severity`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var severity string
		var n int
		if err := rows.Scan(&severity, &n); err != nil {
			continue
		}
		counts[severity] = n
	}
	return counts, rows.Err()
}

// Close stops the background writer after draining queued events and
// waits for it to finish.
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.done)
	})
	<-r.stopped
}
