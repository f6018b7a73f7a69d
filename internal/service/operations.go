package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fentz26/rwclient/internal/events"
	"github.com/fentz26/rwclient/internal/models"
	"github.com/fentz26/rwclient/internal/tags"
)

var (
	// ErrRequestFailed is returned when a server call failed or the server
	// reported an error. Details are published as events.
	ErrRequestFailed = errors.New("request failed")
	// ErrUnknownMode is returned for a selection mode other than listen or speak.
	ErrUnknownMode = errors.New("unknown tag mode")
	// ErrUnknownTag is returned for a tag id not in the selection list.
	ErrUnknownTag = errors.New("unknown tag")
)

func (s *Service) do(ctx context.Context, a *models.Action, now bool) (string, error) {
	body, ok := s.Perform(ctx, a, now, nil)
	if !ok {
		return "", fmt.Errorf("%s: %w", a.Operation(), ErrRequestFailed)
	}
	return body, nil
}

// SendHeartbeat tells the server the session is alive.
func (s *Service) SendHeartbeat(ctx context.Context) error {
	if s.Configuration().SessionID == "" {
		return ErrNoSession
	}
	if _, err := s.do(ctx, s.factory.Heartbeat(), true); err != nil {
		return err
	}
	s.bus.Publish(events.HeartbeatSent{})
	return nil
}

// SendMoveListener reports the current location for the playing stream.
func (s *Service) SendMoveListener(ctx context.Context, now bool) error {
	if s.Configuration().SessionID == "" {
		return ErrNoSession
	}
	if !s.player.IsPlaying() {
		return nil
	}
	_, err := s.do(ctx, s.factory.ModifyStream(nil), now)
	return err
}

// SendLogEvent records a client event on the server.
func (s *Service) SendLogEvent(ctx context.Context, eventType, data string, now bool) error {
	_, err := s.do(ctx, s.factory.LogEvent(eventType, nil, data), now)
	return err
}

// VoteAsset votes on an asset. An empty value is left out.
func (s *Service) VoteAsset(ctx context.Context, assetID int, voteType, voteValue string, now bool) error {
	_, err := s.do(ctx, s.factory.VoteAsset(assetID, voteType, voteValue), now)
	return err
}

// RequestStream asks the server for a stream matching the listen selection.
func (s *Service) RequestStream(ctx context.Context, now bool) (string, error) {
	return s.do(ctx, s.factory.RequestStream(s.Selection(tags.ModeListen)), now)
}

// ModifyStream applies the listen selection to the playing stream.
func (s *Service) ModifyStream(ctx context.Context, now bool) error {
	sel := s.Selection(tags.ModeListen)
	if !sel.HasValidSelections() {
		return ErrInvalidSelection
	}
	_, err := s.do(ctx, s.factory.ModifyStream(sel), now)
	return err
}

// SkipAhead skips the asset currently streamed.
func (s *Service) SkipAhead(ctx context.Context, now bool) error {
	_, err := s.do(ctx, s.factory.SkipAhead(), now)
	return err
}

// PlayAssetInStream inserts an asset into the stream.
func (s *Service) PlayAssetInStream(ctx context.Context, assetID int, now bool) error {
	_, err := s.do(ctx, s.factory.PlayAssetInStream(assetID), now)
	return err
}

// --- Submit ---

// Submit uploads a recording tagged with the speak selection. The file is
// moved into the queue directory first. When no envelope can be opened on the
// server the upload is queued; otherwise it is performed now or queued as
// requested. With now and share set, a SharingMessage event is published
// before the upload starts. Submit must not be called on the main loop.
func (s *Service) Submit(ctx context.Context, file, submitted string, now, share bool) (string, error) {
	if s.loop.InLoop() {
		return "", ErrOnMainLoop
	}
	sel := s.Selection(tags.ModeSpeak)
	if !sel.HasValidSelections() {
		return "", ErrInvalidSelection
	}

	staged, err := s.queue.StageFile(file)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}

	envelope := models.NoEnvelope
	body, ok := s.Perform(ctx, s.factory.CreateEnvelope(sel), true, nil)
	if ok && body != "" {
		envelope = envelopeID([]byte(body))
	}

	upload := s.factory.AddAssetToEnvelope(sel, envelope, staged, submitted)
	if envelope == models.NoEnvelope {
		s.logger.WithField("file", staged).Info("no envelope, queueing upload")
		return s.do(ctx, upload, false)
	}

	if now && share {
		s.publishSharingMessage(body, envelope, upload)
	}
	return s.do(ctx, upload, now)
}

func (s *Service) publishSharingMessage(envelopeBody, envelope string, upload *models.Action) {
	cfg := s.Configuration()
	msg := cfg.SharingMessage
	if m, ok := serverMessage(envelopeBody, keySharingMessage); ok && m != "" {
		msg = m
	}
	if msg == "" {
		return
	}

	msg, url := splitSharingMessage(msg, cfg.SharingURL)
	url = strings.ReplaceAll(url, "[id]", envelope)

	e := events.SharingMessage{Message: msg, URL: url, EnvelopeID: envelope}
	lat, latOK := upload.Latitude()
	lon, lonOK := upload.Longitude()
	if latOK && lonOK {
		e.Latitude = &lat
		e.Longitude = &lon
		if acc, ok := upload.Accuracy(); ok {
			e.Accuracy = &acc
		}
	}
	s.bus.Publish(e)
}

// splitSharingMessage returns the message and the url embedded after its
// last "|", or fallbackURL when there is none.
func splitSharingMessage(msg, fallbackURL string) (string, string) {
	if !strings.Contains(msg, "|") {
		return msg, fallbackURL
	}
	parts := strings.Split(msg, "|")
	return parts[0], parts[len(parts)-1]
}

// --- Selection ---

// Selection returns a copy of the listen or speak selection list.
func (s *Service) Selection(mode tags.Mode) *tags.List {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, err := s.listLocked(mode)
	if err != nil {
		return tags.NewList(nil)
	}
	return l.Clone()
}

// SelectionJSON renders the selection of mode in catalog format with each
// tag's defaults replaced by the selected option ids.
func (s *Service) SelectionJSON(mode tags.Mode) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, err := s.listLocked(mode)
	if err != nil {
		return nil, err
	}
	return l.WebJSON()
}

// ValidSelection reports whether every tag of mode has an acceptable number
// of selected options.
func (s *Service) ValidSelection(mode tags.Mode) bool {
	return s.Selection(mode).HasValidSelections()
}

// SelectTag turns an option on and reports whether the selection changed.
func (s *Service) SelectTag(mode tags.Mode, tagID int) (bool, error) {
	return s.changeSelection(mode, tagID, (*tags.List).Select)
}

// DeselectTag turns an option off and reports whether the selection changed.
func (s *Service) DeselectTag(mode tags.Mode, tagID int) (bool, error) {
	return s.changeSelection(mode, tagID, (*tags.List).Deselect)
}

// ToggleTag flips an option and reports whether the selection changed.
func (s *Service) ToggleTag(mode tags.Mode, tagID int) (bool, error) {
	return s.changeSelection(mode, tagID, (*tags.List).Toggle)
}

// SetSelection applies a query of the form "code=1,2&other=3".
func (s *Service) SetSelection(mode tags.Mode, query string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.listLocked(mode)
	if err != nil {
		return err
	}
	if err := l.SetSelectionFromQuery(query); err != nil {
		return fmt.Errorf("set selection: %w", err)
	}
	return l.SaveSelectionState(s.prefs)
}

func (s *Service) changeSelection(mode tags.Mode, tagID int, fn func(*tags.List, *tags.Item) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.listLocked(mode)
	if err != nil {
		return false, err
	}
	item := l.Item(tagID)
	if item == nil {
		return false, fmt.Errorf("%w: %d", ErrUnknownTag, tagID)
	}
	if !fn(l, item) {
		return false, nil
	}
	if err := l.SaveSelectionState(s.prefs); err != nil {
		return true, fmt.Errorf("save selection: %w", err)
	}
	return true, nil
}

// listLocked must be called with s.mu held.
func (s *Service) listLocked(mode tags.Mode) (*tags.List, error) {
	switch mode {
	case tags.ModeListen:
		return s.listen, nil
	case tags.ModeSpeak:
		return s.speak, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
}
