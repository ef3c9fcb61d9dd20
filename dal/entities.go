package dal

import (
	"time"
)

type FollowStatus string

const (
	FollowPending  FollowStatus = "pending"
	FollowAccepted FollowStatus = "accepted"
	FollowRejected FollowStatus = "rejected"
)

type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
	VisibilityDirect   Visibility = "direct"
)

type Actor struct {
	Id               int
	Uri              string // https://social.example/users/alice
	Username         string // alice
	Domain           string // social.example
	IsLocal          bool
	DisplayName      string
	Summary          string
	KeyId            string // https://social.example/users/alice#main-key
	PubKey           string
	Inbox            string
	SharedInbox      string
	Outbox           string
	FollowersUrl     string
	FollowingUrl     string
	ManuallyApproves bool
	FollowersCount   uint
	FollowingCount   uint
	StatusesCount    uint
	Disabled         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
	LastFetchedAt    time.Time
}

// PreferredInbox is the shared inbox if the actor's server has one.
func (a *Actor) PreferredInbox() string {
	if a.SharedInbox != "" {
		return a.SharedInbox
	}
	return a.Inbox
}

type Follow struct {
	FollowerUri string
	FolloweeUri string
	Status      FollowStatus
	ActivityId  string
	CreatedAt   time.Time
}

type Status struct {
	Id         int
	Uri        string
	AuthorUri  string
	Content    string
	Summary    string
	Visibility Visibility
	InReplyTo  string
	Recipients []string
	Published  time.Time
	IsLocal    bool
	Deleted    bool
	DeletedAt  *time.Time
	LikesCount uint
}

type Like struct {
	ActorUri   string
	StatusUri  string
	ActivityId string
	CreatedAt  time.Time
}
