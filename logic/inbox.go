package logic

import (
	"community_fed/dal"
	"community_fed/dto"
	"community_fed/shared"
	"context"
	"encoding/json"
	"fmt"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"time"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../test/mocks/mock_inbox.go -package mocks community_fed/logic IInbox

type Outcome int

const (
	Applied          Outcome = iota // State changed
	AlreadySatisfied                // Nothing to do: replay, duplicate, or already undone
	Ignored                         // Not for us, or refers to something we don't know
	Rejected                        // Sender is not allowed to do this
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case AlreadySatisfied:
		return "already-satisfied"
	case Ignored:
		return "ignored"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

type Result struct {
	Outcome    Outcome
	Reason     string
	Deliveries []*Delivery
}

type IInbox interface {
	// Handle applies a validated activity from an authenticated sender.
	// target is the local actor whose inbox received it, or nil for the shared inbox.
	// Follow-up deliveries in the result have already been enqueued.
	Handle(ctx context.Context, target *dal.Actor, sender *dal.Actor, act Activity) (*Result, error)
}

const replyParentFetchTimeout = 30 * time.Second

type inbox struct {
	cfg      *shared.Config
	logger   shared.ILogger
	idb      shared.IdBuilder
	repo     dal.IRepo
	resolver IActorResolver
	delivery IDelivery
	metrics  IMetrics
	policy   *bluemonday.Policy
}

func NewInbox(
	cfg *shared.Config,
	logger shared.ILogger,
	repo dal.IRepo,
	resolver IActorResolver,
	delivery IDelivery,
	metrics IMetrics,
) IInbox {
	return &inbox{
		cfg:      cfg,
		logger:   logger,
		idb:      shared.IdBuilder{Host: cfg.Host},
		repo:     repo,
		resolver: resolver,
		delivery: delivery,
		metrics:  metrics,
		policy:   bluemonday.UGCPolicy(),
	}
}

func result(outcome Outcome, format string, args ...any) *Result {
	return &Result{Outcome: outcome, Reason: fmt.Sprintf(format, args...)}
}

func (ib *inbox) Handle(ctx context.Context, target *dal.Actor, sender *dal.Actor, act Activity) (res *Result, err error) {

	if unsup, ok := act.(*UnsupportedActivity); ok {
		res = result(Ignored, "unsupported %s: %s", unsup.Type, unsup.Reason)
		ib.metrics.ActivityHandled(unsup.Type, res.Outcome.String())
		return
	}

	ib.logger.Infof("Handling %s activity %s from %s", act.Kind(), act.ActivityId(), sender.Uri)

	// This activity already handled?
	var alreadyHandled bool
	alreadyHandled, err = ib.repo.MarkActivityHandled(act.ActivityId(), time.Now())
	if err != nil {
		return nil, err
	}
	if alreadyHandled {
		ib.logger.Infof("Activity has already been handled: %s", act.ActivityId())
		res = result(AlreadySatisfied, "replayed activity")
		ib.metrics.ActivityHandled(act.Kind(), res.Outcome.String())
		return
	}

	switch a := act.(type) {
	case *FollowActivity:
		res, err = ib.handleFollow(target, sender, a)
	case *UndoActivity:
		res, err = ib.handleUndo(sender, a)
	case *CreateNoteActivity:
		res, err = ib.handleCreateNote(ctx, sender, a)
	case *DeleteActivity:
		res, err = ib.handleDelete(sender, a)
	case *LikeActivity:
		res, err = ib.handleLike(sender, a)
	case *AcceptActivity:
		res, err = ib.handleFollowAnswer(sender, a.FollowId, a.Follow, dal.FollowAccepted)
	case *RejectActivity:
		res, err = ib.handleFollowAnswer(sender, a.FollowId, a.Follow, dal.FollowRejected)
	default:
		res = result(Ignored, "no handler for %s", act.Kind())
	}

	if err != nil {
		// Let a redelivery try again
		if unmarkErr := ib.repo.UnmarkActivityHandled(act.ActivityId()); unmarkErr != nil {
			ib.logger.Errorf("Failed to unmark activity %s: %v", act.ActivityId(), unmarkErr)
		}
		ib.metrics.ActivityHandled(act.Kind(), "error")
		return nil, err
	}

	if res.Outcome != Applied {
		ib.logger.Infof("%s %s: %s (%s)", act.Kind(), act.ActivityId(), res.Outcome, res.Reason)
	}
	for _, d := range res.Deliveries {
		ib.delivery.Enqueue(d)
	}
	ib.metrics.ActivityHandled(act.Kind(), res.Outcome.String())
	return res, nil
}

func (ib *inbox) handleFollow(target *dal.Actor, sender *dal.Actor, act *FollowActivity) (*Result, error) {

	followeeUser, ok := ib.idb.ParseActorUrl(act.Object)
	if !ok {
		return result(Ignored, "object is not a local actor: %s", act.Object), nil
	}
	if target != nil && target.Username != followeeUser {
		return result(Ignored, "Follow sent to inbox of %s, but object is %s", target.Username, act.Object), nil
	}
	followee, err := ib.repo.GetLocalActor(followeeUser)
	if err != nil {
		return nil, err
	}
	if followee == nil || followee.Disabled {
		return result(Ignored, "no such user: %s", followeeUser), nil
	}

	existing, err := ib.repo.GetFollow(sender.Uri, followee.Uri)
	if err != nil {
		return nil, err
	}

	status := dal.FollowPending
	if ib.cfg.Federation.AutoAccept() && !followee.ManuallyApproves {
		status = dal.FollowAccepted
	}
	// A repeated Follow never demotes an accepted edge
	if existing != nil && existing.Status == dal.FollowAccepted {
		status = dal.FollowAccepted
	}

	written, err := ib.repo.AddFollow(&dal.Follow{
		FollowerUri: sender.Uri,
		FolloweeUri: followee.Uri,
		Status:      status,
		ActivityId:  act.Id,
	})
	if err != nil {
		return nil, err
	}

	var res *Result
	switch written {
	case dal.WriteCancelled:
		return result(AlreadySatisfied, "Follow was undone before it arrived"), nil
	case dal.WriteExisted:
		res = result(AlreadySatisfied, "%s already follows %s", sender.Uri, followee.Uri)
	default:
		res = result(Applied, "%s follows %s (%s)", sender.Uri, followee.Uri, status)
	}

	// Accepted edges are acknowledged on every new Follow activity, repeats included
	if status == dal.FollowAccepted {
		res.Deliveries = append(res.Deliveries, ib.makeAccept(followee, sender, act))
	}
	return res, nil
}

func (ib *inbox) makeAccept(followee *dal.Actor, sender *dal.Actor, act *FollowActivity) *Delivery {
	return &Delivery{
		FromUser: followee.Username,
		Inboxes:  []string{sender.Inbox},
		Activity: &dto.ActivityOut{
			Context: shared.ActivityStreamsNs,
			Id:      ib.idb.ActivityUrl(uuid.NewString()),
			Type:    "Accept",
			Actor:   followee.Uri,
			Object: dto.ActivityOut{
				Id:     act.Id,
				Type:   "Follow",
				Actor:  sender.Uri,
				Object: followee.Uri,
			},
		},
	}
}

func (ib *inbox) handleUndo(sender *dal.Actor, act *UndoActivity) (*Result, error) {

	var removed bool
	var err error
	var what string

	switch {
	case act.Follow != nil:
		what = "Follow of " + act.Follow.Object
		removed, err = ib.repo.RemoveFollow(sender.Uri, act.Follow.Object, act.Follow.Id)
	case act.Like != nil:
		what = "Like of " + act.Like.Object
		removed, err = ib.repo.RemoveLike(sender.Uri, act.Like.Object, act.Like.Id)
	default:
		what = act.ObjectId
		removed, err = ib.repo.UndoByActivityId(sender.Uri, act.ObjectId)
	}
	if err != nil {
		return nil, err
	}
	if !removed {
		return result(AlreadySatisfied, "nothing to undo for %s", what), nil
	}
	return result(Applied, "undone %s", what), nil
}

func (ib *inbox) fetchNote(ctx context.Context, uri string) (*dto.Note, error) {
	body, err := ib.resolver.FetchObject(ctx, uri)
	if err != nil {
		return nil, err
	}
	var note dto.Note
	if err = json.Unmarshal(body, &note); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if note.Type != "Note" || note.Id == "" {
		return nil, fmt.Errorf("%s is not a Note", uri)
	}
	return &note, nil
}

func (ib *inbox) handleCreateNote(ctx context.Context, sender *dal.Actor, act *CreateNoteActivity) (*Result, error) {

	note := act.Note
	if note == nil {
		var err error
		if note, err = ib.fetchNote(ctx, act.NoteUri); err != nil {
			return result(Ignored, "cannot fetch note: %v", err), nil
		}
	}

	if note.AttributedTo != sender.Uri {
		return result(Rejected, "note is attributed to %s, not %s", note.AttributedTo, sender.Uri), nil
	}
	if !sameHost(note.Id, sender.Uri) {
		return result(Rejected, "note %s is not on the host of %s", note.Id, sender.Uri), nil
	}

	to, cc := note.To, note.Cc
	if len(to) == 0 && len(cc) == 0 {
		to, cc = act.To, act.Cc
	}
	status := ib.statusFromNote(note, sender, to, cc)

	isNew, err := ib.repo.AddStatusIfNew(status)
	if err != nil {
		return nil, err
	}
	if !isNew {
		return result(AlreadySatisfied, "status %s already stored", status.Uri), nil
	}

	if status.InReplyTo != "" && !ib.idb.IsLocal(status.InReplyTo) {
		ib.fetchReplyParentAsync(status.InReplyTo)
	}
	return result(Applied, "stored %s status %s", status.Visibility, status.Uri), nil
}

func (ib *inbox) statusFromNote(note *dto.Note, author *dal.Actor, to, cc []string) *dal.Status {
	published, err := time.Parse(time.RFC3339, note.Published)
	if err != nil {
		published = time.Now().UTC()
	}
	status := &dal.Status{
		Uri:        note.Id,
		AuthorUri:  author.Uri,
		Content:    ib.policy.Sanitize(note.Content),
		Visibility: ClassifyVisibility(to, cc, author.FollowersUrl),
		Recipients: Recipients(to, cc),
		Published:  published.UTC(),
	}
	if note.Summary != nil {
		status.Summary = ib.policy.Sanitize(*note.Summary)
	}
	if note.InReplyTo != nil {
		status.InReplyTo = *note.InReplyTo
	}
	return status
}

// fetchReplyParentAsync stores an unknown remote parent of a reply without holding up the inbox.
func (ib *inbox) fetchReplyParentAsync(parentUri string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), replyParentFetchTimeout)
		defer cancel()

		known, err := ib.repo.GetStatus(parentUri)
		if err != nil || known != nil {
			return
		}
		note, err := ib.fetchNote(ctx, parentUri)
		if err != nil {
			ib.logger.Infof("Could not fetch reply parent %s: %v", parentUri, err)
			return
		}
		author, err := ib.resolver.Resolve(ctx, note.AttributedTo)
		if err != nil || !sameHost(note.Id, author.Uri) {
			ib.logger.Infof("Reply parent %s has no acceptable author", parentUri)
			return
		}
		if _, err = ib.repo.AddStatusIfNew(ib.statusFromNote(note, author, note.To, note.Cc)); err != nil {
			ib.logger.Errorf("Failed to store reply parent %s: %v", parentUri, err)
		}
	}()
}

func (ib *inbox) handleDelete(sender *dal.Actor, act *DeleteActivity) (*Result, error) {

	// Account deletion
	if act.Object == sender.Uri {
		changed, err := ib.repo.DisableActor(sender.Uri)
		if err != nil {
			return nil, err
		}
		ib.resolver.Forget(sender.Uri)
		if !changed {
			return result(AlreadySatisfied, "actor already deleted"), nil
		}
		return result(Applied, "actor %s deleted", sender.Uri), nil
	}

	status, err := ib.repo.GetStatus(act.Object)
	if err != nil {
		return nil, err
	}
	if status == nil || status.Deleted {
		return result(AlreadySatisfied, "no status to delete: %s", act.Object), nil
	}
	if status.AuthorUri != sender.Uri {
		return result(Rejected, "%s is not the author of %s", sender.Uri, act.Object), nil
	}
	changed, err := ib.repo.TombstoneStatus(status.Uri, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !changed {
		return result(AlreadySatisfied, "status already deleted"), nil
	}
	return result(Applied, "status %s deleted", status.Uri), nil
}

func (ib *inbox) handleLike(sender *dal.Actor, act *LikeActivity) (*Result, error) {

	status, err := ib.repo.GetStatus(act.Object)
	if err != nil {
		return nil, err
	}
	if status == nil || status.Deleted {
		return result(Ignored, "unknown status %s", act.Object), nil
	}

	written, err := ib.repo.AddLike(&dal.Like{ActorUri: sender.Uri, StatusUri: status.Uri, ActivityId: act.Id})
	if err != nil {
		return nil, err
	}
	switch written {
	case dal.WriteCancelled:
		return result(AlreadySatisfied, "Like was undone before it arrived"), nil
	case dal.WriteExisted:
		return result(AlreadySatisfied, "already liked"), nil
	}
	return result(Applied, "%s likes %s", sender.Uri, status.Uri), nil
}

// handleFollowAnswer applies a remote Accept or Reject of one of our local actors' Follows.
func (ib *inbox) handleFollowAnswer(
	sender *dal.Actor,
	followId string,
	embedded *FollowActivity,
	status dal.FollowStatus,
) (*Result, error) {

	var follow *dal.Follow
	var err error
	if embedded != nil && embedded.Actor != "" && embedded.Object != "" {
		follow, err = ib.repo.GetFollow(embedded.Actor, embedded.Object)
	}
	if err == nil && follow == nil {
		follow, err = ib.repo.GetFollowByActivityId(followId)
	}
	if err != nil {
		return nil, err
	}
	if follow == nil || !ib.idb.IsLocal(follow.FollowerUri) {
		return result(Ignored, "no Follow of ours matches %s", followId), nil
	}
	if follow.FolloweeUri != sender.Uri {
		return result(Rejected, "Follow %s is addressed to %s, not %s", followId, follow.FolloweeUri, sender.Uri), nil
	}

	changed, err := ib.repo.SetFollowStatus(follow.FollowerUri, follow.FolloweeUri, status)
	if err != nil {
		return nil, err
	}
	if !changed {
		return result(AlreadySatisfied, "Follow is already %s", status), nil
	}
	return result(Applied, "Follow of %s is %s", sender.Uri, status), nil
}
