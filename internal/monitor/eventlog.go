package monitor

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/itskum47/FluxForge/internal/edf"
)

// EventRecord is the logged shape of an edf.Event: topic, task, tick,
// timestamp, and a fixed source tag.
type EventRecord struct {
	Topic     string    `json:"topic"`
	TaskID    int64     `json:"task_id"`
	Tick      uint32    `json:"tick"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// EventPublisher is the narrow interface internal/monitor needs from an
// event sink. No Close: the log sink here never owns a connection to
// close.
type EventPublisher interface {
	Publish(ctx context.Context, ev edf.Event) error
}

// LogEventPublisher writes every Core lifecycle event as one structured
// JSON line.
type LogEventPublisher struct {
	logger *log.Logger
}

// NewLogEventPublisher returns a publisher writing through log.Default().
func NewLogEventPublisher() *LogEventPublisher {
	return &LogEventPublisher{logger: log.Default()}
}

func (p *LogEventPublisher) Publish(ctx context.Context, ev edf.Event) error {
	rec := EventRecord{
		Topic:     string(ev.Kind),
		TaskID:    int64(ev.TaskID),
		Tick:      uint32(ev.Tick),
		Timestamp: time.Now(),
		Source:    "edf_core",
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	p.logger.Printf("[EVENT] %s", string(data))
	return nil
}

// Subscribe registers fn against the EventPublisher, so fn and an
// EventPublisher can share one Core.OnEvent callback without the Core
// knowing about either. A single in-process fan-out, with no topic
// matching, since the Core only ever emits one kind of event stream.
func Subscribe(pub EventPublisher, fn func(edf.Event)) func(edf.Event) {
	return func(ev edf.Event) {
		if pub != nil {
			_ = pub.Publish(context.Background(), ev)
		}
		if fn != nil {
			fn(ev)
		}
	}
}
