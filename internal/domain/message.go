package domain

import (
	"sort"
	"strconv"
	"strings"
)

// RawMessage is a chat message normalized at the chat-client boundary.
// ID doubles as the Slack timestamp and is the ordering key.
type RawMessage struct {
	ID             string
	Text           string
	ThreadID       string
	ReplyCountHint int
	User           string
	Reactions      []string
	Permalink      string
}

func (m RawMessage) IsLeaf() bool {
	return m.ThreadID == "" && m.ReplyCountHint == 0
}

// RootID returns the id of the thread this message anchors or belongs to.
func (m RawMessage) RootID() string {
	if m.ThreadID != "" {
		return m.ThreadID
	}
	return m.ID
}

func (m RawMessage) IsReply() bool {
	return m.ThreadID != "" && m.ThreadID != m.ID
}

// CompareTimestamps orders Slack-style "seconds.micros" timestamps
// numerically. Empty timestamps sort first; non-numeric ones fall back to
// string comparison.
func CompareTimestamps(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return -1
	}
	if b == "" {
		return 1
	}
	as, af, aok := splitTimestamp(a)
	bs, bf, bok := splitTimestamp(b)
	if !aok || !bok {
		return strings.Compare(a, b)
	}
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	case af < bf:
		return -1
	case af > bf:
		return 1
	}
	return 0
}

func splitTimestamp(ts string) (int64, int64, bool) {
	secPart, fracPart, _ := strings.Cut(strings.TrimSpace(ts), ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if fracPart == "" {
		return sec, 0, true
	}
	// Right-pad so ".5" and ".500000" compare equal.
	for len(fracPart) < 9 {
		fracPart += "0"
	}
	frac, err := strconv.ParseInt(fracPart[:9], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return sec, frac, true
}

// SortChronologically sorts messages by timestamp ascending, keeping the
// input order for equal timestamps.
func SortChronologically(msgs []RawMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return CompareTimestamps(msgs[i].ID, msgs[j].ID) < 0
	})
}
