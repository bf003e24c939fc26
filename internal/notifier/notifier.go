// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package notifier implements the Controller Notifier (§4.8): best-effort,
// fire-and-forget event push to clients that registered a contact, and to
// per-step listeners for running steps.
package notifier

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jontk/slurm-controller/pkg/logging"
	"github.com/jontk/slurm-controller/internal/types"
)

// EventType names the kind of event being pushed.
type EventType string

const (
	EventAllocated        EventType = "ALLOCATED"
	EventPredictedTimeout EventType = "PREDICTED_TIMEOUT"
	EventImminentTimeout  EventType = "IMMINENT_TIMEOUT"
	EventCompleted        EventType = "COMPLETED"
	EventNodeFailure      EventType = "NODE_FAILURE"
)

// Event is the payload pushed to a registered contact.
type Event struct {
	Type      EventType `json:"type"`
	JobID     int32     `json:"job_id"`
	StepID    int32     `json:"step_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// Notifier pushes events over a short-lived websocket connection to each
// registered contact. Every send is a single attempt: no retry, no
// backpressure, failures are logged and otherwise ignored.
type Notifier struct {
	dialer *websocket.Dialer
	logger logging.Logger
}

// New creates a notifier with the default dial timeout.
func New(logger logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Notifier{
		dialer: &websocket.Dialer{HandshakeTimeout: 3 * time.Second},
		logger: logger,
	}
}

// NotifyJob sends an event to a job's registered contact, if any. The send
// runs on its own goroutine; NotifyJob returns without waiting for it.
func (n *Notifier) NotifyJob(job *types.Job, evt Event) {
	if job.Contact == nil {
		return
	}
	go n.send(job.Contact, evt)
}

// NotifyStepListeners walks a job's step list and sends evt to every
// step's registered listener. When evt is a node-failure event, only
// steps whose node set includes failedNodeIdx are notified.
func (n *Notifier) NotifyStepListeners(job *types.Job, steps []*types.Step, evt Event, failedNodeIdx int) {
	for _, s := range steps {
		if s.Listener == nil {
			continue
		}
		if evt.Type == EventNodeFailure {
			if s.NodeBitmap == nil || !s.NodeBitmap.IsSet(failedNodeIdx) {
				continue
			}
		}
		stepEvt := evt
		stepEvt.StepID = s.ID
		n.send(s.Listener, stepEvt)
	}
}

func (n *Notifier) send(contact *types.Contact, evt Event) {
	addr := fmt.Sprintf("ws://%s:%d/notify", contact.Host, contact.Port)
	conn, _, err := n.dialer.Dial(addr, nil)
	if err != nil {
		n.logger.Warn("notifier: dial failed, dropping event", "address", addr, "event", evt.Type, "error", err)
		return
	}
	defer conn.Close()

	payload, err := json.Marshal(evt)
	if err != nil {
		n.logger.Error("notifier: marshal failed, dropping event", "event", evt.Type, "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		n.logger.Warn("notifier: write failed, dropping event", "address", addr, "event", evt.Type, "error", err)
	}
}
