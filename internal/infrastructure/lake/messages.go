package lake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"TelegramPipeline/internal/domain"
)

var messageKeys = []string{
	"message_id",
	"channel_name",
	"message_date",
	"message_text",
	"views",
	"forwards",
	"has_media",
	"image_path",
}

var nonNullKeys = map[string]bool{
	"message_id":   true,
	"channel_name": true,
	"has_media":    true,
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// WriteMessages replaces the channel's file for day with msgs as a JSON array.
// An empty window is written as [].
func (l *Lake) WriteMessages(day time.Time, channel string, msgs []domain.RawMessage) (string, error) {
	if msgs == nil {
		msgs = []domain.RawMessage{}
	}
	path := l.MessageFile(day, channel)

	err := writeAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(msgs); err != nil {
			return fmt.Errorf("encode messages: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// ReadMessageFile decodes one raw message file.
func ReadMessageFile(path string) ([]domain.RawMessage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	msgs, err := DecodeMessages(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return msgs, nil
}

type rawRecord struct {
	MessageID   int64   `json:"message_id"`
	ChannelName string  `json:"channel_name"`
	MessageDate *string `json:"message_date"`
	MessageText *string `json:"message_text"`
	Views       *int64  `json:"views"`
	Forwards    *int64  `json:"forwards"`
	HasMedia    bool    `json:"has_media"`
	ImagePath   *string `json:"image_path"`
}

// DecodeMessages strictly decodes a JSON array of raw message objects.
// Every key must be present; message_id, channel_name and has_media must not be null.
func DecodeMessages(r io.Reader) ([]domain.RawMessage, error) {
	var items *[]json.RawMessage
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedRecord, err)
	}
	if items == nil {
		return nil, fmt.Errorf("%w: expected a JSON array", domain.ErrMalformedRecord)
	}

	msgs := make([]domain.RawMessage, 0, len(*items))
	for i, item := range *items {
		msg, err := decodeMessage(item)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func decodeMessage(item json.RawMessage) (domain.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil {
		return domain.RawMessage{}, fmt.Errorf("%w: %v", domain.ErrMalformedRecord, err)
	}
	if fields == nil {
		return domain.RawMessage{}, fmt.Errorf("%w: null record", domain.ErrMalformedRecord)
	}
	for _, key := range messageKeys {
		value, ok := fields[key]
		if !ok {
			return domain.RawMessage{}, fmt.Errorf("%w: %s", domain.ErrMissingField, key)
		}
		if nonNullKeys[key] && bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			return domain.RawMessage{}, fmt.Errorf("%w: %s is null", domain.ErrMalformedRecord, key)
		}
	}

	var rec rawRecord
	if err := json.Unmarshal(item, &rec); err != nil {
		return domain.RawMessage{}, fmt.Errorf("%w: %v", domain.ErrMalformedRecord, err)
	}

	msg := domain.RawMessage{
		MessageID:   rec.MessageID,
		ChannelName: rec.ChannelName,
		MessageText: rec.MessageText,
		Views:       rec.Views,
		Forwards:    rec.Forwards,
		HasMedia:    rec.HasMedia,
		ImagePath:   rec.ImagePath,
	}
	if rec.MessageDate != nil {
		ts, err := parseDate(*rec.MessageDate)
		if err != nil {
			return domain.RawMessage{}, fmt.Errorf("%w: message_date: %v", domain.ErrMalformedRecord, err)
		}
		msg.MessageDate = &ts
	}
	return msg, nil
}

func parseDate(value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}
