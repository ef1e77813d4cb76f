package mtproto

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"TelegramPipeline/internal/config"
	"TelegramPipeline/internal/domain"
	"TelegramPipeline/internal/scanner"
)

const (
	historyPageSize = 100
	maxBackoff      = 30 * time.Second
)

var errClientStopped = errors.New("telegram client stopped")

// Client is a user-account MTProto scanner. Start must be running for Scan
// and photo downloads to make progress.
type Client struct {
	client     *telegram.Client
	flow       auth.Flow
	downloader *downloader.Downloader
	retries    int
	logger     *slog.Logger

	ready chan struct{}
	done  chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
	err    error
}

var _ scanner.Scanner = (*Client)(nil)

// NewClient validates credentials and prepares a client with a file-backed session.
func NewClient(cfg config.TelegramConfig, logger *slog.Logger) (*Client, error) {
	if cfg.APIID == 0 || cfg.APIHash == "" {
		return nil, fmt.Errorf("telegram api id and api hash are required for the mtproto scanner")
	}

	opts := telegram.Options{}
	if cfg.SessionFile != "" {
		opts.SessionStorage = &session.FileStorage{Path: cfg.SessionFile}
	}

	return &Client{
		client:     telegram.NewClient(cfg.APIID, cfg.APIHash, opts),
		flow:       auth.NewFlow(newTermAuth(cfg.Phone), auth.SendCodeOptions{}),
		downloader: downloader.NewDownloader(),
		retries:    cfg.Retries,
		logger:     logger,
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// Name identifies the strategy inside the registry.
func (c *Client) Name() string {
	return config.ScannerMTProto
}

// Start connects, authenticates if the session is missing and blocks until
// ctx is cancelled or Close is called. After Close it returns without connecting.
func (c *Client) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(c.done)
		return nil
	}
	c.cancel = cancel
	c.mu.Unlock()

	err := c.client.Run(runCtx, func(ctx context.Context) error {
		if err := c.client.Auth().IfNecessary(ctx, c.flow); err != nil {
			return fmt.Errorf("auth flow failed: %w", err)
		}
		c.debug("telegram client authorised")
		close(c.ready)
		<-ctx.Done()
		return nil
	})
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	close(c.done)

	if err != nil {
		return fmt.Errorf("telegram client: %w", err)
	}
	return nil
}

// Ready is closed once the client is authorised.
func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

// Close stops the background connection. It may be called before Start.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *Client) api(ctx context.Context) (*tg.Client, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ready:
		return c.client.API(), nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.err != nil {
			return nil, fmt.Errorf("%w: %v", errClientStopped, c.err)
		}
		return nil, errClientStopped
	}
}

// Scan resolves the channel and pages its history newest first up to req.Limit.
func (c *Client) Scan(ctx context.Context, req scanner.Request) ([]scanner.Post, error) {
	api, err := c.api(ctx)
	if err != nil {
		return nil, err
	}

	handle, err := scanner.Handle(req.Channel.Address)
	if err != nil {
		return nil, err
	}

	peer, err := c.resolve(ctx, api, handle)
	if err != nil {
		return nil, err
	}

	var (
		posts  []scanner.Post
		offset int
	)
	for req.Limit <= 0 || len(posts) < req.Limit {
		batch := historyPageSize
		if req.Limit > 0 {
			batch = min(batch, req.Limit-len(posts))
		}

		var res tg.MessagesMessagesClass
		err := c.invoke(ctx, "get history", func(ctx context.Context) error {
			var err error
			res, err = api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
				Peer:     peer,
				OffsetID: offset,
				Limit:    batch,
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", handle, err)
		}

		msgs, err := historyMessages(res)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", handle, err)
		}
		if len(msgs) == 0 {
			break
		}

		for _, msg := range msgs {
			offset = msg.GetID()
			if post, ok := toPost(msg, c.photo); ok {
				posts = append(posts, post)
			}
		}
		c.debug("history page fetched", "channel", handle, "offset", offset, "messages", len(msgs))

		if len(msgs) < batch {
			break
		}
	}

	if req.Limit > 0 && len(posts) > req.Limit {
		posts = posts[:req.Limit]
	}
	return posts, nil
}

func (c *Client) resolve(ctx context.Context, api *tg.Client, handle string) (tg.InputPeerClass, error) {
	var resolved *tg.ContactsResolvedPeer
	err := c.invoke(ctx, "resolve username", func(ctx context.Context) error {
		var err error
		resolved, err = api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: handle})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", handle, err)
	}
	return inputPeer(resolved)
}

func inputPeer(resolved *tg.ContactsResolvedPeer) (tg.InputPeerClass, error) {
	peer, ok := resolved.Peer.(*tg.PeerChannel)
	if !ok {
		return nil, fmt.Errorf("peer %T is not a channel", resolved.Peer)
	}
	for _, chat := range resolved.Chats {
		if ch, ok := chat.(*tg.Channel); ok && ch.ID == peer.ChannelID {
			return &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}, nil
		}
	}
	return nil, fmt.Errorf("channel %d missing from resolve result", peer.ChannelID)
}

func historyMessages(res tg.MessagesMessagesClass) ([]tg.MessageClass, error) {
	switch r := res.(type) {
	case *tg.MessagesMessages:
		return r.Messages, nil
	case *tg.MessagesMessagesSlice:
		return r.Messages, nil
	case *tg.MessagesChannelMessages:
		return r.Messages, nil
	case *tg.MessagesMessagesNotModified:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected history result %T", res)
	}
}

type photoSource func(loc tg.InputFileLocationClass) scanner.Photo

// toPost converts one history entry. Empty (deleted) messages are dropped;
// service messages are kept without text or media. A caption-less post keeps "".
func toPost(msg tg.MessageClass, photo photoSource) (scanner.Post, bool) {
	switch m := msg.(type) {
	case *tg.Message:
		post := scanner.Post{ID: int64(m.ID), Date: unixDate(m.Date)}
		text := m.Message
		post.Text = &text
		if views, ok := m.GetViews(); ok {
			v := int64(views)
			post.Views = &v
		}
		if forwards, ok := m.GetForwards(); ok {
			f := int64(forwards)
			post.Forwards = &f
		}

		media, ok := m.GetMedia()
		if !ok {
			return post, true
		}
		switch md := media.(type) {
		case *tg.MessageMediaEmpty:
		case *tg.MessageMediaPhoto:
			post.Media = domain.MediaOther
			if loc, ok := photoLocation(md); ok && photo != nil {
				post.Media = domain.MediaPhoto
				post.Photo = photo(loc)
			}
		default:
			post.Media = domain.MediaOther
		}
		return post, true
	case *tg.MessageService:
		return scanner.Post{ID: int64(m.ID), Date: unixDate(m.Date)}, true
	default:
		return scanner.Post{}, false
	}
}

func unixDate(ts int) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(int64(ts), 0).UTC()
	return &t
}

// photoLocation points at the largest stored size of the photo.
func photoLocation(media *tg.MessageMediaPhoto) (*tg.InputPhotoFileLocation, bool) {
	raw, ok := media.GetPhoto()
	if !ok {
		return nil, false
	}
	p, ok := raw.(*tg.Photo)
	if !ok {
		return nil, false
	}
	thumb, ok := largestSize(p.Sizes)
	if !ok {
		return nil, false
	}
	return &tg.InputPhotoFileLocation{
		ID:            p.ID,
		AccessHash:    p.AccessHash,
		FileReference: p.FileReference,
		ThumbSize:     thumb,
	}, true
}

func largestSize(sizes []tg.PhotoSizeClass) (string, bool) {
	var (
		best string
		area int
	)
	for _, size := range sizes {
		var t string
		var w, h int
		switch s := size.(type) {
		case *tg.PhotoSize:
			t, w, h = s.Type, s.W, s.H
		case *tg.PhotoSizeProgressive:
			t, w, h = s.Type, s.W, s.H
		default:
			continue
		}
		if w*h > area {
			best, area = t, w*h
		}
	}
	return best, best != ""
}

func (c *Client) photo(loc tg.InputFileLocationClass) scanner.Photo {
	return scanner.PhotoFunc(func(ctx context.Context, w io.Writer) error {
		api, err := c.api(ctx)
		if err != nil {
			return err
		}
		if _, err := c.downloader.Download(api, loc).Stream(ctx, w); err != nil {
			return fmt.Errorf("download photo: %w", err)
		}
		return nil
	})
}

// invoke retries fn on flood waits and transient failures, at most c.retries times.
func (c *Client) invoke(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= c.retries {
			break
		}
		wait, ok := retryDelay(err, attempt)
		if !ok {
			break
		}
		c.warn("telegram call failed, retrying", "op", op, "attempt", attempt+1, "wait", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func retryDelay(err error, attempt int) (time.Duration, bool) {
	if d, ok := tgerr.AsFloodWait(err); ok {
		return d + time.Second, true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}
	if rpcErr, ok := tgerr.As(err); ok && rpcErr.Code < 500 {
		return 0, false
	}
	return min(time.Second<<attempt, maxBackoff), true
}

func (c *Client) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

func (c *Client) warn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}
