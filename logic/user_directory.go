package logic

import (
	"community_fed/dal"
	"community_fed/dto"
	"community_fed/shared"
	"fmt"
	"strings"
	"time"
)

// IUserDirectory serves the public ActivityPub view of local actors and their statuses.
// All methods return ErrNotFound for unknown or disabled actors.
type IUserDirectory interface {
	GetActor(user string) (*dal.Actor, error)
	GetWebfinger(user string) (*dto.WebfingerResp, error)
	GetActorDoc(user string) (*dto.ActorDoc, error)
	GetOutboxSummary(user string) (*dto.OrderedListSummary, error)
	GetFollowersSummary(user string) (*dto.OrderedListSummary, error)
	GetFollowingSummary(user string) (*dto.OrderedListSummary, error)
	// GetStatusObject returns a *dto.Note, or a *dto.Tombstone once the status is deleted.
	GetStatusObject(user, statusId string) (any, error)
}

type userDirectory struct {
	cfg    *shared.Config
	logger shared.ILogger
	repo   dal.IRepo
	idb    shared.IdBuilder
}

func NewUserDirectory(
	cfg *shared.Config,
	logger shared.ILogger,
	repo dal.IRepo,
) IUserDirectory {
	return &userDirectory{
		cfg:    cfg,
		logger: logger,
		repo:   repo,
		idb:    shared.IdBuilder{Host: cfg.Host},
	}
}

func (udir *userDirectory) getActor(user string) (*dal.Actor, error) {
	user = strings.ToLower(user)
	actor, err := udir.repo.GetLocalActor(user)
	if err != nil {
		return nil, err
	}
	if actor == nil || actor.Disabled {
		return nil, fmt.Errorf("user %s: %w", user, ErrNotFound)
	}
	return actor, nil
}

func (udir *userDirectory) GetActor(user string) (*dal.Actor, error) {
	return udir.getActor(user)
}

func (udir *userDirectory) GetWebfinger(user string) (*dto.WebfingerResp, error) {

	actor, err := udir.getActor(user)
	if err != nil {
		return nil, err
	}
	user = actor.Username

	resp := dto.WebfingerResp{
		Subject: fmt.Sprintf("acct:%s@%s", user, udir.cfg.Host),
		Aliases: []string{
			udir.idb.ActorProfile(user),
			udir.idb.ActorUrl(user),
		},
		Links: []dto.WebfingerLink{
			{
				Rel:  "http://webfinger.net/rel/profile-page",
				Type: "text/html",
				Href: udir.idb.ActorProfile(user),
			},
			{
				Rel:  "self",
				Type: "application/activity+json",
				Href: udir.idb.ActorUrl(user),
			},
		},
	}
	return &resp, nil
}

func (udir *userDirectory) GetActorDoc(user string) (*dto.ActorDoc, error) {

	actor, err := udir.getActor(user)
	if err != nil {
		return nil, err
	}
	user = actor.Username

	resp := dto.ActorDoc{
		Context:           []string{shared.ActivityStreamsNs, shared.SecurityNs},
		Id:                actor.Uri,
		Type:              "Person",
		PreferredUserName: user,
		Name:              actor.DisplayName,
		Summary:           actor.Summary,
		ManuallyApproves:  actor.ManuallyApproves || !udir.cfg.Federation.AutoAccept(),
		Published:         actor.CreatedAt.UTC().Format(time.RFC3339),
		Url:               udir.idb.ActorProfile(user),
		Inbox:             actor.Inbox,
		Outbox:            actor.Outbox,
		Followers:         actor.FollowersUrl,
		Following:         actor.FollowingUrl,
		Endpoints:         &dto.ActorEndpoints{SharedInbox: udir.idb.SharedInbox()},
		PublicKey: dto.PublicKey{
			Id:           actor.KeyId,
			Owner:        actor.Uri,
			PublicKeyPem: actor.PubKey,
		},
	}
	return &resp, nil
}

func collectionSummary(id string, total uint) *dto.OrderedListSummary {
	return &dto.OrderedListSummary{
		Context:    shared.ActivityStreamsNs,
		Id:         id,
		Type:       "OrderedCollection",
		TotalItems: total,
	}
}

func (udir *userDirectory) GetOutboxSummary(user string) (*dto.OrderedListSummary, error) {
	actor, err := udir.getActor(user)
	if err != nil {
		return nil, err
	}
	return collectionSummary(actor.Outbox, actor.StatusesCount), nil
}

func (udir *userDirectory) GetFollowersSummary(user string) (*dto.OrderedListSummary, error) {
	actor, err := udir.getActor(user)
	if err != nil {
		return nil, err
	}
	return collectionSummary(actor.FollowersUrl, actor.FollowersCount), nil
}

func (udir *userDirectory) GetFollowingSummary(user string) (*dto.OrderedListSummary, error) {
	actor, err := udir.getActor(user)
	if err != nil {
		return nil, err
	}
	return collectionSummary(actor.FollowingUrl, actor.FollowingCount), nil
}

func (udir *userDirectory) GetStatusObject(user, statusId string) (any, error) {

	actor, err := udir.getActor(user)
	if err != nil {
		return nil, err
	}
	status, err := udir.repo.GetStatus(udir.idb.ActorStatus(actor.Username, statusId))
	if err != nil {
		return nil, err
	}
	// Followers-only and direct statuses are not served to anonymous fetches
	if status == nil || !status.IsLocal || status.AuthorUri != actor.Uri ||
		status.Visibility == dal.VisibilityPrivate || status.Visibility == dal.VisibilityDirect {
		return nil, fmt.Errorf("status %s: %w", statusId, ErrNotFound)
	}

	if status.Deleted {
		tomb := &dto.Tombstone{
			Context:    shared.ActivityStreamsNs,
			Id:         status.Uri,
			Type:       "Tombstone",
			FormerType: "Note",
		}
		if status.DeletedAt != nil {
			tomb.Deleted = status.DeletedAt.UTC().Format(time.RFC3339)
		}
		return tomb, nil
	}

	note := NoteFromStatus(status, actor)
	note.Context = shared.ActivityStreamsNs
	return note, nil
}
