package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"homerobot/log"
	"homerobot/models"
)

// LogStats - aggregate counts over a time window
type LogStats struct {
	Total       int64            `json:"total_logs"`
	EventCounts map[string]int64 `json:"event_counts"`
	Since       time.Time        `json:"since"`
}

// JournalStore persists and queries drive journal rows.
type JournalStore interface {
	SaveLogs(logs []models.DriveLog) error
	RecentLogs(room string, limit int) ([]models.DriveLog, error)
	LogsByTimeRange(room string, start, end time.Time, limit int) ([]models.DriveLog, error)
	LogsByEventType(room, eventType string, limit int) ([]models.DriveLog, error)
	LogStats(room string, since time.Time) (LogStats, error)
}

// Journal - buffers journal rows and writes them in batches, either when
// the buffer reaches flushSize or every flushInterval.
type Journal struct {
	JournalStore

	mu            sync.Mutex
	logs          []models.DriveLog
	flushSize     int
	flushInterval time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

func NewJournal(store JournalStore, flushSize int, flushInterval time.Duration) *Journal {
	if flushSize <= 0 {
		flushSize = 50
	}
	if flushInterval <= 0 {
		flushInterval = 10 * time.Second
	}
	return &Journal{
		JournalStore:  store,
		logs:          make([]models.DriveLog, 0, flushSize*2),
		flushSize:     flushSize,
		flushInterval: flushInterval,
		logger:        log.Named("journal"),
		now:           time.Now,
	}
}

// Run flushes periodically until ctx is done, then writes what is left.
func (j *Journal) Run(ctx context.Context) {
	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()

	j.logger.Info("journal started",
		zap.Int("flush_size", j.flushSize), zap.Duration("flush_interval", j.flushInterval))
	for {
		select {
		case <-ticker.C:
			j.Flush()
		case <-ctx.Done():
			j.Flush()
			j.logger.Info("journal stopped")
			return
		}
	}
}

// Add buffers entry; a full buffer is flushed in the background.
func (j *Journal) Add(entry models.DriveLog) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = j.now()
	}

	j.mu.Lock()
	j.logs = append(j.logs, entry)
	size := len(j.logs)
	j.mu.Unlock()

	if size >= j.flushSize {
		go j.Flush()
	}
}

// Flush writes every buffered row. Rows that fail to save are dropped.
func (j *Journal) Flush() int {
	j.mu.Lock()
	if len(j.logs) == 0 {
		j.mu.Unlock()
		return 0
	}
	toSave := make([]models.DriveLog, len(j.logs))
	copy(toSave, j.logs)
	j.logs = j.logs[:0]
	j.mu.Unlock()

	if err := j.SaveLogs(toSave); err != nil {
		j.logger.Error("saving journal rows failed", zap.Int("count", len(toSave)), zap.Error(err))
		return 0
	}
	j.logger.Debug("journal rows saved", zap.Int("count", len(toSave)))
	return len(toSave)
}

// Buffered returns the number of rows waiting for a flush.
func (j *Journal) Buffered() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.logs)
}

// RecordFrame journals a relayed frame when it carries a non-periodic
// message. It reports whether a row was added.
func (j *Journal) RecordFrame(room, peerID string, data []byte) bool {
	entry, ok := EntryFromFrame(data)
	if !ok {
		return false
	}
	entry.Room = room
	entry.PeerID = peerID
	j.Add(entry)
	return true
}

// EntryFromFrame builds a journal row for waypoint, status and map frames.
// Pose updates, motor commands and undecodable frames yield false.
func EntryFromFrame(data []byte) (models.DriveLog, bool) {
	if blob, ok := models.DecodeMapBlob(data); ok {
		return models.DriveLog{
			EventType:   models.EventMapTransfer,
			MessageType: models.MessageTypeMapSync.String(),
			MapBytes:    len(blob),
		}, true
	}

	msg, err := models.Decode(data)
	if err != nil {
		return models.DriveLog{}, false
	}

	entry := models.DriveLog{
		MessageType: msg.Type().String(),
		DataJSON:    string(data),
	}
	switch m := msg.(type) {
	case models.WaypointAdd:
		id := m.MarkerID
		entry.EventType = models.EventWaypointAdded
		entry.MarkerID = &id
		entry.PositionX, entry.PositionY, entry.PositionZ = m.Position.X, m.Position.Y, m.Position.Z
	case models.WaypointAchieved:
		id := m.MarkerID
		entry.EventType = models.EventWaypointAchieved
		entry.MarkerID = &id
	case models.StatusMessage:
		entry.EventType = models.EventStatus
		entry.Status = m.Kind.String()
	default:
		return models.DriveLog{}, false
	}
	return entry, true
}
