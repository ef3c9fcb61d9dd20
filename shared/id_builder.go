package shared

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	ActivityPublic    = "https://www.w3.org/ns/activitystreams#Public"
	ActivityStreamsNs = "https://www.w3.org/ns/activitystreams"
	SecurityNs        = "https://w3id.org/security/v1"
)

// IdBuilder produces the URLs of everything this server exposes over ActivityPub.
type IdBuilder struct {
	Host string
}

func (idb *IdBuilder) SiteUrl() string {
	return fmt.Sprintf("https://%s", idb.Host)
}

func (idb *IdBuilder) ActivityUrl(id string) string {
	return fmt.Sprintf("https://%s/activity/%s", idb.Host, id)
}

func (idb *IdBuilder) SharedInbox() string {
	return fmt.Sprintf("https://%s/shared-inbox", idb.Host)
}

// ActorProfile is the human-facing profile page, served by the web application.
func (idb *IdBuilder) ActorProfile(user string) string {
	return fmt.Sprintf("https://%s/profile/%s", idb.Host, user)
}

func (idb *IdBuilder) ActorUrl(user string) string {
	return fmt.Sprintf("https://%s/actor/%s", idb.Host, user)
}

func (idb *IdBuilder) ActorKeyId(user string) string {
	return fmt.Sprintf("https://%s/actor/%s#main-key", idb.Host, user)
}

func (idb *IdBuilder) ActorInbox(user string) string {
	return fmt.Sprintf("https://%s/actor-inbox/%s", idb.Host, user)
}

func (idb *IdBuilder) ActorOutbox(user string) string {
	return fmt.Sprintf("https://%s/actor/%s/outbox", idb.Host, user)
}

func (idb *IdBuilder) ActorFollowing(user string) string {
	return fmt.Sprintf("https://%s/actor/%s/following", idb.Host, user)
}

func (idb *IdBuilder) ActorFollowers(user string) string {
	return fmt.Sprintf("https://%s/actor/%s/followers", idb.Host, user)
}

func (idb *IdBuilder) ActorStatus(user, id string) string {
	return fmt.Sprintf("https://%s/actor/%s/status/%s", idb.Host, user, id)
}

func (idb *IdBuilder) ActorStatusActivity(user, id string) string {
	return fmt.Sprintf("https://%s/actor/%s/status/%s/activity", idb.Host, user, id)
}

// IsLocal tells whether the URI points at this server.
func (idb *IdBuilder) IsLocal(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, idb.Host)
}

// ParseActorUrl returns the username from a local actor URL (fragment ignored).
func (idb *IdBuilder) ParseActorUrl(uri string) (user string, ok bool) {
	u, err := url.Parse(uri)
	if err != nil || !strings.EqualFold(u.Host, idb.Host) {
		return "", false
	}
	rest, found := strings.CutPrefix(u.Path, "/actor/")
	if !found || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
