package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/optiinfra/optiinfra/internal/logger"
	"github.com/optiinfra/optiinfra/internal/storage/relational"
)

// Recorder publishes events on the bus, mirrors them to NATS when
// connected, and appends notable transitions to the durable events table.
type Recorder struct {
	bus   *Bus
	store *relational.Store
	nc    *nats.Conn
	log   logger.Logger
}

// NewRecorder wires the bus and durable log; nc may be nil.
func NewRecorder(bus *Bus, store *relational.Store, nc *nats.Conn) *Recorder {
	return &Recorder{
		bus:   bus,
		store: store,
		nc:    nc,
		log:   logger.New("events"),
	}
}

// Bus exposes the underlying bus for subscribers.
func (r *Recorder) Bus() *Bus { return r.bus }

// Publish fans the event out to subscribers and the NATS mirror without
// touching the durable log.
func (r *Recorder) Publish(e Event) {
	r.bus.Publish(e)
	r.mirror(e)
}

// Record publishes the event and appends it to the durable events table.
// Used for transitions that must survive a restart.
func (r *Recorder) Record(ctx context.Context, e Event) {
	r.Publish(e)
	if r.store == nil {
		return
	}

	payload := relational.JSONMap{}
	for k, v := range e.Data {
		payload[k] = v
	}
	rec := &relational.EventRecord{
		ID:         uuid.MustParse(e.ID),
		EventType:  string(e.Type),
		Source:     e.Source,
		CustomerID: e.CustomerID,
		Payload:    payload,
	}
	if err := r.store.InsertEvent(ctx, rec); err != nil {
		r.log.Error("durable event write failed",
			logger.String("event_type", string(e.Type)),
			logger.Error(err))
	}
}

func (r *Recorder) mirror(e Event) {
	if r.nc == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	subject := fmt.Sprintf("optiinfra.events.%s", e.Type)
	if err := r.nc.Publish(subject, data); err != nil {
		r.log.Warn("nats mirror publish failed",
			logger.String("subject", subject),
			logger.Error(err))
	}
}
