package slackbot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"blockerbot/internal/domain"

	"github.com/slack-go/slack"
)

const (
	defaultCallTimeout     = 15 * time.Second
	defaultConversationTTL = 10 * time.Minute
	defaultMaxSearchPages  = 5
	searchPageSize         = 100
	repliesPageSize        = 200
)

type ClientOptions struct {
	// Timeout bounds every Slack Web API call.
	Timeout         time.Duration
	ConversationTTL time.Duration
	MaxSearchPages  int
}

// Client adapts slack-go to the message service the pipeline consumes. It
// normalizes every Slack message shape into domain.RawMessage so nothing past
// this boundary branches on Slack types.
type Client struct {
	api    *slack.Client
	search *slack.Client
	opts   ClientOptions

	conversations struct {
		sync.Mutex
		byName    map[string]string
		fetchedAt time.Time
	}
}

// NewClient wraps api for history, replies and permalinks. search.messages
// only accepts user tokens, so search may be a separate client; nil reuses
// api.
func NewClient(api, search *slack.Client, opts ClientOptions) *Client {
	if search == nil {
		search = api
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultCallTimeout
	}
	if opts.ConversationTTL <= 0 {
		opts.ConversationTTL = defaultConversationTTL
	}
	if opts.MaxSearchPages <= 0 {
		opts.MaxSearchPages = defaultMaxSearchPages
	}
	return &Client{api: api, search: search, opts: opts}
}

func (c *Client) API() *slack.Client {
	return c.api
}

// SearchMessages runs query restricted to channelID and returns every match
// across at most MaxSearchPages pages, oldest first.
func (c *Client) SearchMessages(ctx context.Context, query, channelID string) ([]domain.RawMessage, error) {
	full := strings.TrimSpace(query)
	if channelID != "" {
		full = fmt.Sprintf("%s in:<#%s>", full, channelID)
	}

	params := slack.NewSearchParameters()
	params.Count = searchPageSize
	params.Sort = "timestamp"
	params.SortDirection = "asc"

	var out []domain.RawMessage
	for page := 1; page <= c.opts.MaxSearchPages; page++ {
		params.Page = page
		var res *slack.SearchMessages
		err := c.call(ctx, "search.messages", func(ctx context.Context) error {
			var err error
			res, err = c.search.SearchMessagesContext(ctx, full, params)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("search %q: %w", query, err)
		}
		for _, m := range res.Matches {
			if channelID != "" && m.Channel.ID != "" && m.Channel.ID != channelID {
				continue
			}
			out = append(out, fromSearchMatch(m))
		}
		if len(res.Matches) == 0 || res.Paging.Page >= res.Paging.Pages {
			break
		}
	}
	log.Printf("slack search channel=%s query=%q matches=%d", channelID, query, len(out))
	return out, nil
}

// GetMessageDetails loads one message by timestamp. Thread replies are not
// visible in channel history, so the thread endpoint is tried second.
func (c *Client) GetMessageDetails(ctx context.Context, channelID, messageID string) (domain.RawMessage, error) {
	var history *slack.GetConversationHistoryResponse
	err := c.call(ctx, "conversations.history", func(ctx context.Context) error {
		var err error
		history, err = c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID: channelID,
			Latest:    messageID,
			Oldest:    messageID,
			Inclusive: true,
			Limit:     1,
		})
		return err
	})
	if err != nil {
		return domain.RawMessage{}, fmt.Errorf("history %s/%s: %w", channelID, messageID, err)
	}
	for _, m := range history.Messages {
		if m.Timestamp == messageID {
			return fromMessage(m), nil
		}
	}

	var msgs []slack.Message
	err = c.call(ctx, "conversations.replies", func(ctx context.Context) error {
		var err error
		msgs, _, _, err = c.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
			ChannelID: channelID,
			Timestamp: messageID,
			Inclusive: true,
			Limit:     1,
		})
		return err
	})
	if err != nil {
		return domain.RawMessage{}, fmt.Errorf("replies %s/%s: %w", channelID, messageID, err)
	}
	for _, m := range msgs {
		if m.Timestamp == messageID {
			return fromMessage(m), nil
		}
	}
	return domain.RawMessage{}, fmt.Errorf("message %s not found in %s", messageID, channelID)
}

// GetThreadReplies returns the whole thread rooted at rootID, root included.
func (c *Client) GetThreadReplies(ctx context.Context, channelID, rootID string) ([]domain.RawMessage, error) {
	var out []domain.RawMessage
	cursor := ""
	for {
		var (
			msgs    []slack.Message
			hasMore bool
			next    string
		)
		err := c.call(ctx, "conversations.replies", func(ctx context.Context) error {
			var err error
			msgs, hasMore, next, err = c.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
				ChannelID: channelID,
				Timestamp: rootID,
				Cursor:    cursor,
				Limit:     repliesPageSize,
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("replies %s/%s: %w", channelID, rootID, err)
		}
		for _, m := range msgs {
			out = append(out, fromMessage(m))
		}
		if !hasMore || next == "" {
			break
		}
		cursor = next
	}
	return out, nil
}

func (c *Client) GetPermalink(ctx context.Context, channelID, messageID string) (string, error) {
	var link string
	err := c.call(ctx, "chat.getPermalink", func(ctx context.Context) error {
		var err error
		link, err = c.api.GetPermalinkContext(ctx, &slack.PermalinkParameters{Channel: channelID, Ts: messageID})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("permalink %s/%s: %w", channelID, messageID, err)
	}
	return link, nil
}

// ResolveConversation accepts a channel id, a "#name", a bare name or a
// Slack channel mention and returns the channel id.
func (c *Client) ResolveConversation(ctx context.Context, nameOrID string) (string, error) {
	name := normalizeChannelRef(nameOrID)
	if name == "" {
		return "", errors.New("empty channel")
	}
	if isLikelyChannelID(name) {
		return name, nil
	}
	key := strings.ToLower(name)

	c.conversations.Lock()
	defer c.conversations.Unlock()

	fresh := c.conversations.byName != nil && time.Since(c.conversations.fetchedAt) < c.opts.ConversationTTL
	if fresh {
		if id, ok := c.conversations.byName[key]; ok {
			return id, nil
		}
	}
	byName, err := c.listConversations(ctx)
	if err != nil {
		return "", fmt.Errorf("list conversations: %w", err)
	}
	c.conversations.byName = byName
	c.conversations.fetchedAt = time.Now()
	if id, ok := byName[key]; ok {
		return id, nil
	}
	return "", fmt.Errorf("channel %q not found", nameOrID)
}

func (c *Client) listConversations(ctx context.Context) (map[string]string, error) {
	byName := make(map[string]string)
	cursor := ""
	for {
		var (
			channels []slack.Channel
			next     string
		)
		err := c.call(ctx, "conversations.list", func(ctx context.Context) error {
			var err error
			channels, next, err = c.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
				Cursor:          cursor,
				ExcludeArchived: true,
				Limit:           1000,
				Types:           []string{"public_channel", "private_channel"},
			})
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, ch := range channels {
			byName[strings.ToLower(ch.Name)] = ch.ID
		}
		if next == "" {
			break
		}
		cursor = next
	}
	log.Printf("slack conversations cached count=%d", len(byName))
	return byName, nil
}

// call runs fn under the per-call timeout and retries once when Slack
// answers with a rate limit.
func (c *Client) call(ctx context.Context, method string, fn func(context.Context) error) error {
	err := c.attempt(ctx, fn)
	var rl *slack.RateLimitedError
	if !errors.As(err, &rl) {
		return err
	}
	log.Printf("slack %s rate limited, retrying after %s", method, rl.RetryAfter)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(rl.RetryAfter):
	}
	return c.attempt(ctx, fn)
}

func (c *Client) attempt(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	return fn(callCtx)
}

func fromMessage(m slack.Message) domain.RawMessage {
	raw := domain.RawMessage{
		ID:             m.Timestamp,
		Text:           messageText(m.Text, m.Attachments),
		ThreadID:       m.ThreadTimestamp,
		ReplyCountHint: m.ReplyCount,
		User:           m.User,
	}
	for _, r := range m.Reactions {
		raw.Reactions = append(raw.Reactions, r.Name)
	}
	return raw
}

func fromSearchMatch(m slack.SearchMessage) domain.RawMessage {
	return domain.RawMessage{
		ID:        m.Timestamp,
		Text:      messageText(m.Text, m.Attachments),
		ThreadID:  threadTSFromPermalink(m.Permalink),
		User:      m.User,
		Permalink: m.Permalink,
	}
}

func messageText(text string, attachments []slack.Attachment) string {
	parts := []string{strings.TrimSpace(text)}
	for _, a := range attachments {
		if t := strings.TrimSpace(a.Text); t != "" {
			parts = append(parts, t)
		} else if t := strings.TrimSpace(a.Fallback); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// threadTSFromPermalink recovers the thread root of a search hit; search
// results carry no thread_ts field but reply permalinks do.
func threadTSFromPermalink(permalink string) string {
	if permalink == "" {
		return ""
	}
	u, err := url.Parse(permalink)
	if err != nil {
		return ""
	}
	return u.Query().Get("thread_ts")
}

func normalizeChannelRef(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<#") && strings.HasSuffix(s, ">") {
		s = strings.TrimSuffix(strings.TrimPrefix(s, "<#"), ">")
		if id, _, found := strings.Cut(s, "|"); found {
			s = id
		}
	}
	return strings.TrimPrefix(s, "#")
}

func isLikelyChannelID(val string) bool {
	if len(val) < 9 {
		return false
	}
	for i, r := range val {
		if i == 0 {
			if r != 'C' && r != 'G' && r != 'D' {
				return false
			}
			continue
		}
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
