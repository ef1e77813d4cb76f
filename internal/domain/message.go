package domain

import "time"

// Channel is a configured source feed; Name keys files and directories, Address is the
// platform handle or URL.
type Channel struct {
	Name    string
	Address string
	Scanner string
}

// RawMessage is one captured post exactly as persisted in the raw zone.
// Identity is the (ChannelName, MessageID) pair.
type RawMessage struct {
	MessageID   int64      `json:"message_id"`
	ChannelName string     `json:"channel_name"`
	MessageDate *time.Time `json:"message_date"`
	MessageText *string    `json:"message_text"`
	Views       *int64     `json:"views"`
	Forwards    *int64     `json:"forwards"`
	HasMedia    bool       `json:"has_media"`
	ImagePath   *string    `json:"image_path"`
}

// MediaKind classifies the media payload attached to a post.
type MediaKind string

const (
	MediaNone  MediaKind = ""
	MediaPhoto MediaKind = "photo"
	MediaOther MediaKind = "other"
)

// ChannelResult summarises one channel of a fetch pass.
type ChannelResult struct {
	Channel  string
	Messages int
	Images   int
	File     string
	Err      error
}

// FetchReport is returned by a fetch pass over all configured channels.
type FetchReport struct {
	Day      time.Time
	Channels []ChannelResult
}

// Failed counts channels that did not produce a file.
func (r FetchReport) Failed() int {
	n := 0
	for _, c := range r.Channels {
		if c.Err != nil {
			n++
		}
	}
	return n
}

// TotalMessages sums captured messages across successful channels.
func (r FetchReport) TotalMessages() int {
	n := 0
	for _, c := range r.Channels {
		if c.Err == nil {
			n += c.Messages
		}
	}
	return n
}
