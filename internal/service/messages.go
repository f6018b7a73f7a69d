package service

import (
	"encoding/json"
	"strings"

	"github.com/fentz26/rwclient/internal/events"
)

// Reserved response keys.
const (
	keyUserMessage    = "user_message"
	keyErrorMessage   = "error_message"
	keyTraceback      = "traceback"
	keySharingMessage = "sharing_message"
	keyStreamURL      = "stream_url"
)

// dispatchServerMessages publishes the user and error messages embedded in a
// response body. A body carrying an error message counts as failed and is
// not handed to the caller.
func (s *Service) dispatchServerMessages(body string) (string, bool) {
	if !looksLikeJSON(body) {
		return body, true
	}

	if msg, ok := serverMessage(body, keyUserMessage); ok {
		s.bus.Publish(events.UserMessage{Message: msg})
	}

	if msg, ok := serverMessage(body, keyErrorMessage); ok {
		if tb, ok := serverMessage(body, keyTraceback); ok {
			msg = msg + "\n\nTraceback: " + tb
		}
		s.logger.WithField("message", msg).Warn("server reported an error")
		s.bus.Publish(events.ErrorMessage{Message: msg})
		return "", false
	}
	return body, true
}

func looksLikeJSON(body string) bool {
	body = strings.TrimSpace(body)
	if body == "" {
		return false
	}
	if !strings.HasPrefix(body, "{") && !strings.HasPrefix(body, "[") {
		return false
	}
	return strings.HasSuffix(body, "}") || strings.HasSuffix(body, "]")
}

// serverMessage returns the value of key in a JSON object, or in the first
// object of a JSON array that has it.
func serverMessage(body, key string) (string, bool) {
	var root interface{}
	if err := json.Unmarshal([]byte(body), &root); err != nil {
		return "", false
	}

	switch v := root.(type) {
	case map[string]interface{}:
		return lookup(v, key)
	case []interface{}:
		for _, entry := range v {
			if obj, ok := entry.(map[string]interface{}); ok {
				if msg, ok := lookup(obj, key); ok {
					return msg, true
				}
			}
		}
	}
	return "", false
}

func lookup(obj map[string]interface{}, key string) (string, bool) {
	raw, ok := obj[key]
	if !ok || raw == nil {
		return "", false
	}
	if str, ok := raw.(string); ok {
		return str, true
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return "", false
	}
	return string(data), true
}
