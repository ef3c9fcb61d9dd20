package logic

import (
	"community_fed/dal"
	"community_fed/dto"
	"community_fed/shared"
	"strings"
	"time"
)

func isPublicCollection(addr string) bool {
	return addr == shared.ActivityPublic || addr == "as:Public" || addr == "Public"
}

func isFollowersCollection(addr, followersUrl string) bool {
	if followersUrl != "" && addr == followersUrl {
		return true
	}
	return strings.HasSuffix(addr, "/followers")
}

// ClassifyVisibility derives a status's audience from its addressing.
// Public in "to" is public, public only in "cc" is unlisted, a followers
// collection without public is private, and anything else is direct.
func ClassifyVisibility(to, cc []string, followersUrl string) dal.Visibility {
	toFollowers := false
	for _, addr := range to {
		if isPublicCollection(addr) {
			return dal.VisibilityPublic
		}
		if isFollowersCollection(addr, followersUrl) {
			toFollowers = true
		}
	}
	for _, addr := range cc {
		if isPublicCollection(addr) {
			return dal.VisibilityUnlisted
		}
		if isFollowersCollection(addr, followersUrl) {
			toFollowers = true
		}
	}
	if toFollowers {
		return dal.VisibilityPrivate
	}
	return dal.VisibilityDirect
}

// Recipients lists the distinct addressees of a status, without the public collection.
func Recipients(to, cc []string) []string {
	seen := make(map[string]bool)
	res := make([]string, 0, len(to)+len(cc))
	for _, list := range [][]string{to, cc} {
		for _, addr := range list {
			if addr == "" || isPublicCollection(addr) || seen[addr] {
				continue
			}
			seen[addr] = true
			res = append(res, addr)
		}
	}
	return res
}

// Addressing is the inverse of ClassifyVisibility for statuses written here.
func Addressing(vis dal.Visibility, followersUrl string, recipients []string) (to, cc []string) {
	switch vis {
	case dal.VisibilityPublic:
		to = []string{shared.ActivityPublic}
		cc = append([]string{followersUrl}, recipients...)
	case dal.VisibilityUnlisted:
		to = append([]string{followersUrl}, recipients...)
		cc = []string{shared.ActivityPublic}
	case dal.VisibilityPrivate:
		to = append([]string{followersUrl}, recipients...)
		cc = []string{}
	default:
		to = append([]string{}, recipients...)
		cc = []string{}
	}
	return
}

func NoteFromStatus(status *dal.Status, author *dal.Actor) *dto.Note {
	recipients := make([]string, 0, len(status.Recipients))
	for _, r := range status.Recipients {
		if r != author.FollowersUrl {
			recipients = append(recipients, r)
		}
	}
	to, cc := Addressing(status.Visibility, author.FollowersUrl, recipients)
	note := &dto.Note{
		Id:           status.Uri,
		Type:         "Note",
		Published:    status.Published.UTC().Format(time.RFC3339),
		AttributedTo: status.AuthorUri,
		To:           to,
		Cc:           cc,
		Content:      status.Content,
	}
	if status.Summary != "" {
		note.Summary = &status.Summary
	}
	if status.InReplyTo != "" {
		note.InReplyTo = &status.InReplyTo
	}
	if len(recipients) != 0 {
		tags := make([]dto.Tag, 0, len(recipients))
		for _, r := range recipients {
			tags = append(tags, dto.Tag{Type: "Mention", Href: r, Name: r})
		}
		note.Tag = &tags
	}
	return note
}
