package logic

import (
	"community_fed/dal"
	"community_fed/dto"
	"community_fed/shared"
	"context"
	"fmt"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"strings"
	"time"
)

// IOutbox performs activities on behalf of local actors. Each operation changes
// local state first and then enqueues the delivery; a failed delivery is not rolled back.
type IOutbox interface {
	CreateLocalActor(req *dto.CreateActorReq) (*dto.LocalActor, error)
	GetLocalActor(user string) (*dto.LocalActor, error)
	ListLocalActors() ([]*dto.LocalActor, error)
	Follow(ctx context.Context, user, target string) (*dto.OutboxResult, error)
	Unfollow(ctx context.Context, user, target string) (*dto.OutboxResult, error)
	ApproveFollower(ctx context.Context, user, followerUri string) (*dto.OutboxResult, error)
	RejectFollower(ctx context.Context, user, followerUri string) (*dto.OutboxResult, error)
	Like(ctx context.Context, user, statusUri string) (*dto.OutboxResult, error)
	Unlike(ctx context.Context, user, statusUri string) (*dto.OutboxResult, error)
	PostStatus(ctx context.Context, user string, req *dto.PostStatusReq) (*dto.OutboxResult, error)
	DeleteStatus(ctx context.Context, user, statusUri string) (*dto.OutboxResult, error)
}

const maxStatusLen = 5000

type outbox struct {
	cfg      *shared.Config
	logger   shared.ILogger
	idb      shared.IdBuilder
	repo     dal.IRepo
	keyStore IKeyStore
	resolver IActorResolver
	delivery IDelivery
	policy   *bluemonday.Policy
}

func NewOutbox(
	cfg *shared.Config,
	logger shared.ILogger,
	repo dal.IRepo,
	keyStore IKeyStore,
	resolver IActorResolver,
	delivery IDelivery,
) IOutbox {
	return &outbox{
		cfg:      cfg,
		logger:   logger,
		idb:      shared.IdBuilder{Host: cfg.Host},
		repo:     repo,
		keyStore: keyStore,
		resolver: resolver,
		delivery: delivery,
		policy:   bluemonday.UGCPolicy(),
	}
}

func toLocalActor(actor *dal.Actor) *dto.LocalActor {
	return &dto.LocalActor{
		CreatedAt:      actor.CreatedAt,
		Username:       actor.Username,
		Uri:            actor.Uri,
		Name:           actor.DisplayName,
		Summary:        actor.Summary,
		FollowersCount: actor.FollowersCount,
		FollowingCount: actor.FollowingCount,
		StatusesCount:  actor.StatusesCount,
	}
}

func (ob *outbox) CreateLocalActor(req *dto.CreateActorReq) (*dto.LocalActor, error) {

	user := req.Username
	if err := shared.ValidateUsername(user); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	pubKey, privKey, err := ob.keyStore.MakeKeyPair()
	if err != nil {
		return nil, err
	}
	actor := &dal.Actor{
		Uri:              ob.idb.ActorUrl(user),
		Username:         user,
		Domain:           ob.cfg.Host,
		IsLocal:          true,
		DisplayName:      req.Name,
		Summary:          ob.policy.Sanitize(req.Summary),
		KeyId:            ob.idb.ActorKeyId(user),
		PubKey:           pubKey,
		Inbox:            ob.idb.ActorInbox(user),
		SharedInbox:      ob.idb.SharedInbox(),
		Outbox:           ob.idb.ActorOutbox(user),
		FollowersUrl:     ob.idb.ActorFollowers(user),
		FollowingUrl:     ob.idb.ActorFollowing(user),
		ManuallyApproves: req.ManuallyApproves,
	}
	isNew, err := ob.repo.AddLocalActor(actor, privKey)
	if err != nil {
		return nil, err
	}
	if !isNew {
		return nil, fmt.Errorf("user %s: %w", user, ErrAlreadyExists)
	}
	ob.logger.Infof("Created local actor %s", actor.Uri)
	return ob.GetLocalActor(user)
}

func (ob *outbox) getActor(user string) (*dal.Actor, error) {
	actor, err := ob.repo.GetLocalActor(strings.ToLower(user))
	if err != nil {
		return nil, err
	}
	if actor == nil || actor.Disabled {
		return nil, fmt.Errorf("user %s: %w", user, ErrNotFound)
	}
	return actor, nil
}

func (ob *outbox) GetLocalActor(user string) (*dto.LocalActor, error) {
	actor, err := ob.getActor(user)
	if err != nil {
		return nil, err
	}
	return toLocalActor(actor), nil
}

func (ob *outbox) ListLocalActors() ([]*dto.LocalActor, error) {
	actors, err := ob.repo.ListLocalActors()
	if err != nil {
		return nil, err
	}
	res := make([]*dto.LocalActor, 0, len(actors))
	for _, actor := range actors {
		res = append(res, toLocalActor(actor))
	}
	return res, nil
}

// send enqueues the activity to the inboxes of remote actors only.
func (ob *outbox) send(from *dal.Actor, act *dto.ActivityOut, inboxes []string) *dto.OutboxResult {
	var remote []string
	for _, inbox := range distinct(inboxes) {
		if !ob.idb.IsLocal(inbox) {
			remote = append(remote, inbox)
		}
	}
	ob.delivery.Enqueue(&Delivery{FromUser: from.Username, Inboxes: remote, Activity: act})
	return &dto.OutboxResult{ActivityId: act.Id, Recipients: len(remote)}
}

func (ob *outbox) newActivity(actor *dal.Actor, typ string, object any) *dto.ActivityOut {
	return &dto.ActivityOut{
		Context: shared.ActivityStreamsNs,
		Id:      ob.idb.ActivityUrl(uuid.NewString()),
		Type:    typ,
		Actor:   actor.Uri,
		Object:  object,
	}
}

func (ob *outbox) Follow(ctx context.Context, user, target string) (*dto.OutboxResult, error) {

	actor, err := ob.getActor(user)
	if err != nil {
		return nil, err
	}
	followee, err := ob.resolver.Resolve(ctx, target)
	if err != nil {
		return nil, err
	}
	if followee.Uri == actor.Uri {
		return nil, fmt.Errorf("%w: cannot follow oneself", ErrInvalidInput)
	}

	existing, err := ob.repo.GetFollow(actor.Uri, followee.Uri)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == dal.FollowAccepted {
		return nil, fmt.Errorf("%s already follows %s: %w", actor.Uri, followee.Uri, ErrAlreadyExists)
	}

	act := ob.newActivity(actor, "Follow", followee.Uri)
	status := dal.FollowPending
	if followee.IsLocal && !followee.ManuallyApproves {
		status = dal.FollowAccepted
	}
	if _, err = ob.repo.AddFollow(&dal.Follow{
		FollowerUri: actor.Uri,
		FolloweeUri: followee.Uri,
		Status:      status,
		ActivityId:  act.Id,
	}); err != nil {
		return nil, err
	}
	res := ob.send(actor, act, []string{followee.Inbox})
	res.ObjectId = followee.Uri
	return res, nil
}

func (ob *outbox) Unfollow(ctx context.Context, user, target string) (*dto.OutboxResult, error) {

	actor, err := ob.getActor(user)
	if err != nil {
		return nil, err
	}
	target = shared.StripFragment(target)
	follow, err := ob.repo.GetFollow(actor.Uri, target)
	if err != nil {
		return nil, err
	}
	if follow == nil {
		return nil, fmt.Errorf("%s does not follow %s: %w", actor.Uri, target, ErrNotFound)
	}
	if _, err = ob.repo.RemoveFollow(actor.Uri, target, follow.ActivityId); err != nil {
		return nil, err
	}

	act := ob.newActivity(actor, "Undo", dto.ActivityOut{
		Id:     follow.ActivityId,
		Type:   "Follow",
		Actor:  actor.Uri,
		Object: target,
	})
	var inboxes []string
	if followee, err := ob.resolver.ResolveForKey(ctx, target); err == nil {
		inboxes = append(inboxes, followee.Inbox)
	} else {
		ob.logger.Warnf("Cannot tell %s about unfollow: %v", target, err)
	}
	res := ob.send(actor, act, inboxes)
	res.ObjectId = target
	return res, nil
}

func (ob *outbox) ApproveFollower(ctx context.Context, user, followerUri string) (*dto.OutboxResult, error) {
	return ob.answerFollow(ctx, user, followerUri, dal.FollowAccepted, "Accept")
}

func (ob *outbox) RejectFollower(ctx context.Context, user, followerUri string) (*dto.OutboxResult, error) {
	return ob.answerFollow(ctx, user, followerUri, dal.FollowRejected, "Reject")
}

func (ob *outbox) answerFollow(
	ctx context.Context,
	user, followerUri string,
	status dal.FollowStatus,
	actType string,
) (*dto.OutboxResult, error) {

	actor, err := ob.getActor(user)
	if err != nil {
		return nil, err
	}
	follow, err := ob.repo.GetFollow(followerUri, actor.Uri)
	if err != nil {
		return nil, err
	}
	if follow == nil {
		return nil, fmt.Errorf("no Follow from %s: %w", followerUri, ErrNotFound)
	}
	if _, err = ob.repo.SetFollowStatus(followerUri, actor.Uri, status); err != nil {
		return nil, err
	}

	ob.logger.Infof("%s: %s follow from %s", user, status, followerUri)
	act := ob.newActivity(actor, actType, dto.ActivityOut{
		Id:     follow.ActivityId,
		Type:   "Follow",
		Actor:  followerUri,
		Object: actor.Uri,
	})
	follower, err := ob.resolver.ResolveForKey(ctx, followerUri)
	if err != nil {
		return nil, err
	}
	res := ob.send(actor, act, []string{follower.Inbox})
	res.ObjectId = followerUri
	return res, nil
}

func (ob *outbox) actorInboxes(ctx context.Context, actorUri string) []string {
	if ob.idb.IsLocal(actorUri) {
		return nil
	}
	actor, err := ob.resolver.ResolveForKey(ctx, actorUri)
	if err != nil {
		ob.logger.Warnf("Cannot resolve %s for delivery: %v", actorUri, err)
		return nil
	}
	return []string{actor.Inbox}
}

func (ob *outbox) Like(ctx context.Context, user, statusUri string) (*dto.OutboxResult, error) {

	actor, err := ob.getActor(user)
	if err != nil {
		return nil, err
	}
	status, err := ob.repo.GetStatus(statusUri)
	if err != nil {
		return nil, err
	}
	if status == nil || status.Deleted {
		return nil, fmt.Errorf("status %s: %w", statusUri, ErrNotFound)
	}

	act := ob.newActivity(actor, "Like", status.Uri)
	written, err := ob.repo.AddLike(&dal.Like{ActorUri: actor.Uri, StatusUri: status.Uri, ActivityId: act.Id})
	if err != nil {
		return nil, err
	}
	if written != dal.WriteInserted {
		return nil, fmt.Errorf("%s already likes %s: %w", actor.Uri, status.Uri, ErrAlreadyExists)
	}
	res := ob.send(actor, act, ob.actorInboxes(ctx, status.AuthorUri))
	res.ObjectId = status.Uri
	return res, nil
}

func (ob *outbox) Unlike(ctx context.Context, user, statusUri string) (*dto.OutboxResult, error) {

	actor, err := ob.getActor(user)
	if err != nil {
		return nil, err
	}
	like, err := ob.repo.GetLike(actor.Uri, statusUri)
	if err != nil {
		return nil, err
	}
	if like == nil {
		return nil, fmt.Errorf("%s does not like %s: %w", actor.Uri, statusUri, ErrNotFound)
	}
	if _, err = ob.repo.RemoveLike(actor.Uri, statusUri, like.ActivityId); err != nil {
		return nil, err
	}

	act := ob.newActivity(actor, "Undo", dto.ActivityOut{
		Id:     like.ActivityId,
		Type:   "Like",
		Actor:  actor.Uri,
		Object: statusUri,
	})
	var inboxes []string
	if status, err := ob.repo.GetStatus(statusUri); err == nil && status != nil {
		inboxes = ob.actorInboxes(ctx, status.AuthorUri)
	}
	res := ob.send(actor, act, inboxes)
	res.ObjectId = statusUri
	return res, nil
}

func parseVisibility(str string) (dal.Visibility, error) {
	switch vis := dal.Visibility(str); vis {
	case "":
		return dal.VisibilityPublic, nil
	case dal.VisibilityPublic, dal.VisibilityUnlisted, dal.VisibilityPrivate, dal.VisibilityDirect:
		return vis, nil
	}
	return "", fmt.Errorf("%w: unknown visibility '%s'", ErrInvalidInput, str)
}

func (ob *outbox) PostStatus(ctx context.Context, user string, req *dto.PostStatusReq) (*dto.OutboxResult, error) {

	actor, err := ob.getActor(user)
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(ob.policy.Sanitize(req.Content))
	if content == "" {
		return nil, fmt.Errorf("%w: status has no content", ErrInvalidInput)
	}
	if len(content) > maxStatusLen {
		return nil, fmt.Errorf("%w: status is longer than %d", ErrInvalidInput, maxStatusLen)
	}
	vis, err := parseVisibility(req.Visibility)
	if err != nil {
		return nil, err
	}

	var inboxes []string
	var mentioned []string
	for _, mention := range req.Mentions {
		mentionedActor, err := ob.resolver.Resolve(ctx, mention)
		if err != nil {
			return nil, fmt.Errorf("%w: cannot resolve mention %s: %v", ErrInvalidInput, mention, err)
		}
		mentioned = append(mentioned, mentionedActor.Uri)
		inboxes = append(inboxes, mentionedActor.PreferredInbox())
	}
	if vis == dal.VisibilityDirect && len(mentioned) == 0 {
		return nil, fmt.Errorf("%w: direct status without mentions", ErrInvalidInput)
	}

	if req.InReplyTo != "" {
		parent, err := ob.repo.GetStatus(req.InReplyTo)
		if err != nil {
			return nil, err
		}
		if parent != nil {
			inboxes = append(inboxes, ob.actorInboxes(ctx, parent.AuthorUri)...)
		}
	}

	statusId := uuid.NewString()
	status := &dal.Status{
		Uri:        ob.idb.ActorStatus(actor.Username, statusId),
		AuthorUri:  actor.Uri,
		Content:    content,
		Visibility: vis,
		InReplyTo:  req.InReplyTo,
		Recipients: mentioned,
		Published:  time.Now().UTC(),
		IsLocal:    true,
	}
	if _, err = ob.repo.AddStatusIfNew(status); err != nil {
		return nil, err
	}

	if vis != dal.VisibilityDirect {
		followerInboxes, err := ob.delivery.FollowerInboxes(actor.Uri)
		if err != nil {
			return nil, err
		}
		inboxes = append(inboxes, followerInboxes...)
	}

	note := NoteFromStatus(status, actor)
	act := &dto.ActivityOut{
		Context:   shared.ActivityStreamsNs,
		Id:        ob.idb.ActorStatusActivity(actor.Username, statusId),
		Type:      "Create",
		Actor:     actor.Uri,
		Published: note.Published,
		To:        &note.To,
		Cc:        &note.Cc,
		Object:    note,
	}
	res := ob.send(actor, act, inboxes)
	res.ObjectId = status.Uri
	return res, nil
}

func (ob *outbox) DeleteStatus(ctx context.Context, user, statusUri string) (*dto.OutboxResult, error) {

	actor, err := ob.getActor(user)
	if err != nil {
		return nil, err
	}
	status, err := ob.repo.GetStatus(statusUri)
	if err != nil {
		return nil, err
	}
	if status == nil || status.Deleted || status.AuthorUri != actor.Uri {
		return nil, fmt.Errorf("status %s: %w", statusUri, ErrNotFound)
	}
	now := time.Now().UTC()
	if _, err = ob.repo.TombstoneStatus(status.Uri, now); err != nil {
		return nil, err
	}

	inboxes, err := ob.delivery.FollowerInboxes(actor.Uri)
	if err != nil {
		return nil, err
	}
	for _, recipient := range status.Recipients {
		if recipient == actor.FollowersUrl {
			continue
		}
		inboxes = append(inboxes, ob.actorInboxes(ctx, recipient)...)
	}

	act := ob.newActivity(actor, "Delete", dto.Tombstone{
		Id:         status.Uri,
		Type:       "Tombstone",
		FormerType: "Note",
		Deleted:    now.Format(time.RFC3339),
	})
	to := []string{shared.ActivityPublic}
	act.To = &to
	res := ob.send(actor, act, inboxes)
	res.ObjectId = status.Uri
	return res, nil
}
