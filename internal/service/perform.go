package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fentz26/rwclient/internal/actions"
	"github.com/fentz26/rwclient/internal/audit"
	"github.com/fentz26/rwclient/internal/events"
	"github.com/fentz26/rwclient/internal/models"
	"github.com/fentz26/rwclient/internal/session"
	"github.com/fentz26/rwclient/internal/transport"
	"github.com/sirupsen/logrus"
)

// FileField is the multipart field of uploaded files.
const FileField = "file"

// Event types logged by the coordinator itself.
const (
	EventStopUpload = "stop_upload"
)

// Callback receives the result of a performed action.
type Callback func(body string, ok bool)

// Perform sends a to the server now, or persists it to the queue.
//
// With now set and called off the main loop, Perform blocks and returns the
// response body and whether the call succeeded. Called on the main loop, the
// call is handed to the worker pool and Perform returns "", true at once; the
// result goes to cb and to the OperationSucceeded or OperationFailed event.
// Without now, Perform queues a and reports whether that worked.
func (s *Service) Perform(ctx context.Context, a *models.Action, now bool, cb Callback) (string, bool) {
	if now {
		if s.loop.InLoop() {
			s.pool.Go(func(ctx context.Context) (interface{}, error) {
				body, ok := s.performNow(ctx, a)
				if cb != nil {
					cb(body, ok)
				}
				return nil, nil
			})
			return "", true
		}
		body, ok := s.performNow(ctx, a)
		if cb != nil {
			cb(body, ok)
		}
		return body, ok
	}

	ok := s.enqueue(a)
	if cb != nil {
		cb("", ok)
	}
	return "", ok
}

func (s *Service) enqueue(a *models.Action) bool {
	log := s.logger.WithField("operation", a.Operation())
	if err := s.queue.Add(a); err != nil {
		log.WithError(err).Error("could not queue action")
		s.bus.Publish(events.OperationFailed{
			Operation:  a.Operation(),
			Properties: a.ServerProperties(),
			Reason:     "could not queue action",
			Class:      string(transport.ClassLocalIO),
			Message:    err.Error(),
		})
		return false
	}

	s.setNotificationText(a.Caption())
	log.WithField("queue_id", a.ID).Info("action placed in queue")
	s.bus.Publish(events.OperationQueued{
		Operation:  a.Operation(),
		Properties: a.ServerProperties(),
		QueueID:    a.ID,
	})
	s.record(a, audit.OutcomeQueued, "")
	s.publishQueueSize()
	return true
}

// performNow sends a on the calling goroutine.
func (s *Service) performNow(ctx context.Context, a *models.Action) (string, bool) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	return s.performLocked(ctx, a)
}

// performLocked must be called with reqMu held.
func (s *Service) performLocked(ctx context.Context, a *models.Action) (string, bool) {
	s.mu.Lock()
	s.lastRequest = s.now()
	s.mu.Unlock()
	s.setNotificationText(a.Caption())

	log := s.logger.WithField("operation", a.Operation())

	body, err := s.send(ctx, a)
	if err != nil {
		class := transport.Classify(err)
		log.WithError(err).WithField("class", class).Warn("operation failed")

		if a.IsUpload() && class != transport.ClassConnectivity && class != transport.ClassProtocol {
			s.logEventLocked(ctx, EventStopUpload, "false")
		}
		s.setNotificationText(actions.LabelRequestFailed)
		s.bus.Publish(events.OperationFailed{
			Operation:  a.Operation(),
			Properties: a.ServerProperties(),
			Reason:     failureReason(class, err),
			Class:      string(class),
			Message:    err.Error(),
		})
		s.record(a, audit.OutcomeFailure, err.Error())
		return "", false
	}

	if a.IsUpload() {
		s.logEventLocked(ctx, EventStopUpload, "true")
		if err := s.queue.Delete(a); err != nil {
			log.WithError(err).Warn("could not remove uploaded file")
		}
	}

	s.setNotificationText(s.opts.NotificationDefaultText)
	log.Debug("operation succeeded")
	s.bus.Publish(events.OperationSucceeded{
		Operation:  a.Operation(),
		Properties: a.ServerProperties(),
		Response:   string(body),
	})
	s.record(a, audit.OutcomeSuccess, "")

	return s.dispatchServerMessages(string(body))
}

func (s *Service) send(ctx context.Context, a *models.Action) ([]byte, error) {
	if !s.isConnected() {
		return nil, &transport.ConnectivityError{Op: "No connectivity"}
	}

	cfg := s.Configuration()
	a.Replace(models.KeySessionID, cfg.SessionID)
	timeout := httpTimeout(cfg)

	if a.IsUpload() && a.EnvelopeID() == models.NoEnvelope {
		id, err := s.createEnvelopeLocked(ctx, a.SelectedTags(), cfg)
		if err != nil {
			return nil, &transport.ConnectivityError{Op: "just in time creation of envelope id for file upload failed", Err: err}
		}
		a.Set(models.KeyEnvelopeID, id)
	}

	if a.IsUpload() {
		return s.transport.Upload(ctx, a.URL(), a.ServerProperties(), FileField, a.Filename(), timeout)
	}
	return s.transport.Get(ctx, a.URL(), a.ServerProperties(), timeout)
}

func (s *Service) createEnvelopeLocked(ctx context.Context, tagIDs string, cfg *session.Configuration) (string, error) {
	env := s.factory.CreateEnvelopeForTags(tagIDs)
	body, err := s.transport.Get(ctx, env.URL(), env.ServerProperties(), httpTimeout(cfg))
	if err != nil {
		return "", err
	}
	id := envelopeID(body)
	if id == models.NoEnvelope {
		return "", fmt.Errorf("no envelope id in response: %w", transport.ErrParse)
	}
	return id, nil
}

// logEventLocked sends a log event while reqMu is already held.
func (s *Service) logEventLocked(ctx context.Context, eventType, data string) {
	s.performLocked(ctx, s.factory.LogEvent(eventType, nil, data))
}

func (s *Service) record(a *models.Action, outcome, details string) {
	if _, err := s.recorder.Record(a, outcome, details); err != nil {
		s.logger.WithError(err).WithField("operation", a.Operation()).Warn("could not write request log")
	}
}

func (s *Service) publishQueueSize() {
	n, err := s.queue.Count()
	if err != nil {
		s.logger.WithError(err).Warn("could not count queue")
		return
	}
	s.bus.Publish(events.QueueChanged{Size: n})
}

func failureReason(class transport.Class, err error) string {
	switch class {
	case transport.ClassConnectivity:
		return "Unknown host error: " + err.Error()
	case transport.ClassProtocol:
		return "HTTP error: " + err.Error()
	}
	return "Error: " + err.Error()
}

// envelopeID reads envelope_id from a create_envelope response, or returns
// NoEnvelope.
func envelopeID(body []byte) string {
	var resp struct {
		EnvelopeID json.Number `json:"envelope_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.NoEnvelope
	}
	id, err := resp.EnvelopeID.Int64()
	if err != nil || id < 0 {
		return models.NoEnvelope
	}
	return strconv.FormatInt(id, 10)
}

// --- Queue Drain ---

// drainQueue is the queue ticker callback. It performs the oldest queued
// action, or sends a heartbeat when the session has been idle.
func (s *Service) drainQueue(ctx context.Context) {
	count, err := s.queue.Count()
	if err != nil {
		s.logger.WithError(err).Warn("could not count queue")
		return
	}

	if count == 0 {
		cfg := s.Configuration()
		s.mu.RLock()
		idle := s.now().Sub(s.lastRequest)
		s.mu.RUnlock()

		heartbeat := time.Duration(cfg.HeartbeatTimerSec) * time.Second
		if idle > heartbeat {
			switch s.State() {
			case models.StateOffLine:
				s.heartbeat(ctx)
			case models.StateOnLine:
				if s.IsPlaying() {
					s.heartbeat(ctx)
				}
			}
		}
		return
	}

	a, err := s.queue.Oldest()
	if err != nil {
		s.logger.WithError(err).Warn("could not read queue")
		return
	}
	if a == nil {
		return
	}

	log := s.logger.WithFields(logrus.Fields{"operation": a.Operation(), "queue_id": a.ID})
	if _, ok := s.performNow(ctx, a); ok {
		if err := s.queue.Delete(a); err != nil {
			log.WithError(err).Warn("could not delete performed action")
		}
	} else if !a.IsUpload() {
		log.Info("dropping failed action")
		if err := s.queue.Delete(a); err != nil {
			log.WithError(err).Warn("could not delete failed action")
		}
	} else {
		log.Info("keeping failed upload for retry")
	}
	s.publishQueueSize()
}

func (s *Service) heartbeat(ctx context.Context) {
	if err := s.SendHeartbeat(ctx); err != nil && !errors.Is(err, ErrRequestFailed) {
		s.logger.WithError(err).Debug("heartbeat skipped")
	}
}

// PurgeQueue discards every pending action and staged file.
func (s *Service) PurgeQueue() error {
	if err := s.queue.Purge(); err != nil {
		return fmt.Errorf("purge queue: %w", err)
	}
	s.publishQueueSize()
	return nil
}

// QueueSize returns the number of pending actions, or -1 when the queue
// cannot be read.
func (s *Service) QueueSize() int {
	n, err := s.queue.Count()
	if err != nil {
		s.logger.WithError(err).Warn("could not count queue")
		return -1
	}
	return n
}

func httpTimeout(cfg *session.Configuration) time.Duration {
	return time.Duration(cfg.HTTPTimeoutSec) * time.Second
}
