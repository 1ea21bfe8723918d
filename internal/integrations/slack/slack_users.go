package slackbot

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
)

const defaultUserDirectoryTTL = 5 * time.Minute

// UserDirectory maps people named in config (ids, "@handles", display or
// real names) to Slack user ids. The users.list index is cached for ttl.
type UserDirectory struct {
	api *slack.Client
	ttl time.Duration

	mu        sync.Mutex
	byName    map[string]string
	fetchedAt time.Time
}

func NewUserDirectory(api *slack.Client, ttl time.Duration) *UserDirectory {
	if ttl <= 0 {
		ttl = defaultUserDirectoryTTL
	}
	return &UserDirectory{api: api, ttl: ttl}
}

// Resolve returns the user ids for refs in input order without duplicates.
// Names that match no active human user come back as unresolved.
func (d *UserDirectory) Resolve(ctx context.Context, refs []string) (ids, unresolved []string, err error) {
	var names []string
	for _, raw := range refs {
		ref, isID := parseUserRef(raw)
		switch {
		case ref == "":
		case isID:
			ids = append(ids, ref)
		default:
			names = append(names, ref)
		}
	}
	if len(names) == 0 {
		return uniqueStrings(ids), nil, nil
	}

	byName, err := d.index(ctx)
	if err != nil {
		log.Printf("user directory: users.list error: %v", err)
		return uniqueStrings(ids), names, err
	}
	for _, name := range names {
		if id, ok := byName[strings.ToLower(name)]; ok {
			ids = append(ids, id)
		} else {
			unresolved = append(unresolved, name)
		}
	}
	log.Printf("user directory: resolved=%d unresolved=%d", len(ids), len(unresolved))
	return uniqueStrings(ids), unresolved, nil
}

func (d *UserDirectory) index(ctx context.Context) (map[string]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.byName != nil && time.Since(d.fetchedAt) < d.ttl {
		return d.byName, nil
	}
	users, err := d.api.GetUsersContext(ctx)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]string, len(users)*2)
	for _, u := range users {
		if u.Deleted || u.IsBot {
			continue
		}
		for _, n := range []string{u.Name, u.RealName, u.Profile.DisplayName} {
			n = strings.ToLower(strings.TrimSpace(n))
			if _, taken := byName[n]; n != "" && !taken {
				byName[n] = u.ID
			}
		}
	}
	d.byName = byName
	d.fetchedAt = time.Now()
	return byName, nil
}

// parseUserRef strips mention syntax ("<@U123|alice>") and a leading "@".
func parseUserRef(raw string) (string, bool) {
	ref := strings.TrimSpace(raw)
	if strings.HasPrefix(ref, "<@") && strings.HasSuffix(ref, ">") {
		ref, _, _ = strings.Cut(ref[2:len(ref)-1], "|")
	}
	ref = strings.TrimPrefix(ref, "@")
	return ref, isLikelyUserID(ref)
}

func isLikelyUserID(val string) bool {
	if len(val) < 9 || (val[0] != 'U' && val[0] != 'W') {
		return false
	}
	for _, r := range val[1:] {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func uniqueStrings(vals []string) []string {
	seen := make(map[string]bool, len(vals))
	var out []string
	for _, v := range vals {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
