// Package notifications fans reconciliation events out to the staff live feed
// and, for completed registrations, to the staff LINE group.
package notifications

import (
	"context"
	"fmt"

	"schoolreg/services/reconciliation"
	"schoolreg/services/websocket"

	"github.com/sirupsen/logrus"
)

// WSHub is the part of the websocket hub the service needs.
type WSHub interface {
	Broadcast(message interface{})
}

// LinePusher sends a text message to a LINE group.
type LinePusher interface {
	PushText(groupID, text string) error
}

// Service implements reconciliation.EventSink.
type Service struct {
	wsHub       WSHub
	line        LinePusher
	lineGroupID string
	groups      GroupSource
	// async runs LINE pushes off the request goroutine; tests turn it off.
	async bool
}

var _ reconciliation.EventSink = (*Service)(nil)

func NewService(hub WSHub, line LinePusher, lineGroupID string) *Service {
	return &Service{wsHub: hub, line: line, lineGroupID: lineGroupID, async: true}
}

// WithGroups adds the groups the bot has joined to the LINE recipients.
func (s *Service) WithGroups(src GroupSource) *Service {
	s.groups = src
	return s
}

// recipients is the configured staff group plus every active joined group, without duplicates.
func (s *Service) recipients() []string {
	var ids []string
	seen := map[string]bool{}
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	add(s.lineGroupID)
	if s.groups != nil {
		joined, err := s.groups.ActiveGroupIDs()
		if err != nil {
			logrus.WithError(err).Warn("Failed to list LINE groups")
		}
		for _, id := range joined {
			add(id)
		}
	}
	return ids
}

// Publish broadcasts the event and notifies LINE when a registration fee is fully paid.
func (s *Service) Publish(ctx context.Context, ev reconciliation.Event) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(websocket.Message{Type: ev.Type, Data: ev})
	}

	if !shouldNotifyLine(ev) || s.line == nil {
		return
	}
	text := LineText(ev)
	push := func() {
		defer func() {
			if r := recover(); r != nil {
				logrus.WithField("panic", r).Error("panic recovered in LINE push")
			}
		}()
		for _, groupID := range s.recipients() {
			if err := s.line.PushText(groupID, text); err != nil {
				logrus.WithError(err).WithFields(logrus.Fields{
					"student_id": ev.StudentID,
					"group_id":   groupID,
				}).Warn("Failed to notify LINE group")
			}
		}
	}
	if s.async {
		go push()
		return
	}
	push()
}

func shouldNotifyLine(ev reconciliation.Event) bool {
	return ev.Type == reconciliation.EventPaymentReconciled &&
		ev.State != nil &&
		ev.State.PaymentStatus == reconciliation.StatusCompleted
}

// LineText renders the staff group notice for a completed registration.
func LineText(ev reconciliation.Event) string {
	st := ev.State
	admission := st.AdmissionNumber
	if admission == "" {
		admission = "-"
	}
	return fmt.Sprintf("Registration completed\nStudent: %s\nAdmission No: %s\nCourse: %s\nTotal paid: %.2f\nReference: %s",
		st.Name, admission, st.Course, st.TotalPaid, ev.Reference)
}
