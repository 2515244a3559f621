package telemetry

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/pavelkim/nat_engine/internal/nat"
)

// EventLog writes flow lifecycle events to a file through a dedicated logrus
// instance, one line per event.
type EventLog struct {
	logger *logrus.Logger
	file   *os.File
}

// NewEventLog opens the event file. Format is "json" or "text".
func NewEventLog(path, format string) (*EventLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	log := logrus.New()
	log.SetOutput(f)
	log.SetLevel(logrus.InfoLevel)

	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			DisableColors:   true,
		})
	}

	return &EventLog{logger: log, file: f}, nil
}

// FlowCreated records a new translation.
func (l *EventLog) FlowCreated(ev nat.FlowEvent) {
	l.logger.WithFields(l.fields(ev)).Info("flow created")
}

// FlowExpired records a reclaimed translation.
func (l *EventLog) FlowExpired(ev nat.FlowEvent) {
	l.logger.WithFields(l.fields(ev)).Info("flow expired")
}

// Close closes the event file.
func (l *EventLog) Close() error {
	return l.file.Close()
}

func (l *EventLog) fields(ev nat.FlowEvent) logrus.Fields {
	return logrus.Fields{
		"flow":          ev.ID.String(),
		"external_port": ev.ExternalPort,
		"device":        ev.InternalDevice,
		"first_seen":    ev.FirstSeen,
		"last_seen":     ev.LastSeen,
		"packets":       ev.Packets,
		"bytes":         ev.Bytes,
	}
}

// MultiObserver fans flow events out to several observers.
type MultiObserver []nat.Observer

// FlowCreated forwards the event to every observer.
func (m MultiObserver) FlowCreated(ev nat.FlowEvent) {
	for _, o := range m {
		o.FlowCreated(ev)
	}
}

// FlowExpired forwards the event to every observer.
func (m MultiObserver) FlowExpired(ev nat.FlowEvent) {
	for _, o := range m {
		o.FlowExpired(ev)
	}
}
