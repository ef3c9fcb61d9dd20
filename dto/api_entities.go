package dto

import "time"

// Requests and responses of the admin API that drives local actors.

type CreateActorReq struct {
	Username         string `json:"username"`
	Name             string `json:"name"`
	Summary          string `json:"summary"`
	ManuallyApproves bool   `json:"manually_approves"`
}

type LocalActor struct {
	CreatedAt      time.Time `json:"created_at"`
	Username       string    `json:"username"`
	Uri            string    `json:"uri"`
	Name           string    `json:"name"`
	Summary        string    `json:"summary"`
	FollowersCount uint      `json:"followers_count"`
	FollowingCount uint      `json:"following_count"`
	StatusesCount  uint      `json:"statuses_count"`
}

// TargetReq names a remote object: an actor to follow, or a status to like.
type TargetReq struct {
	Target string `json:"target"`
}

type PostStatusReq struct {
	Content    string   `json:"content"`
	Visibility string   `json:"visibility"`
	InReplyTo  string   `json:"in_reply_to"`
	Mentions   []string `json:"mentions"`
}

type OutboxResult struct {
	ActivityId string `json:"activity_id"`
	ObjectId   string `json:"object_id,omitempty"`
	Recipients int    `json:"recipients"`
}
