package logic_test

import (
	"community_fed/dal"
	"community_fed/logic"
	"community_fed/shared"
	"community_fed/test"
	"community_fed/test/mocks"
	"context"
	"fmt"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
	"testing"
	"time"
)

type inboxHarness struct {
	cfg          *shared.Config
	repo         dal.IRepo
	mockResolver *mocks.MockIActorResolver
	mockDelivery *mocks.MockIDelivery
	local        *dal.Actor
	sender       *dal.Actor
	inbox        logic.IInbox
}

func setupInboxTest(t *testing.T) *inboxHarness {
	ctrl := gomock.NewController(t)
	h := &inboxHarness{
		cfg:          test.NewConfig(t),
		mockResolver: mocks.NewMockIActorResolver(ctrl),
		mockDelivery: mocks.NewMockIDelivery(ctrl),
	}
	h.repo = test.NewRepo(h.cfg)
	h.local = test.AddLocalActor(h.repo, test.LocalName)
	h.sender = test.MakeRemoteActor(test.CallerHost, test.CallerName, test.CallerKey().PubPem)
	if err := h.repo.UpsertRemoteActor(h.sender); err != nil {
		t.Fatal(err)
	}
	h.inbox = logic.NewInbox(h.cfg, test.NewLogger(), h.repo, h.mockResolver, h.mockDelivery, logic.NewMetrics(h.cfg))
	return h
}

func mustActivity(t *testing.T, format string, args ...any) logic.Activity {
	act, err := logic.NewActivityValidator().Validate([]byte(fmt.Sprintf(format, args...)))
	if err != nil {
		t.Fatal(err)
	}
	return act
}

func (h *inboxHarness) handle(t *testing.T, target *dal.Actor, act logic.Activity) *logic.Result {
	res, err := h.inbox.Handle(context.Background(), target, h.sender, act)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func (h *inboxHarness) follow(t *testing.T, id string) logic.Activity {
	return mustActivity(t, `{"id":"%s","type":"Follow","actor":"%s","object":"%s"}`, id, h.sender.Uri, h.local.Uri)
}

func (h *inboxHarness) addLocalStatus(t *testing.T, id string) *dal.Status {
	status := &dal.Status{
		Uri:        h.local.Uri + "/status/" + id,
		AuthorUri:  h.local.Uri,
		Content:    "<p>Chirp</p>",
		Visibility: dal.VisibilityPublic,
		Published:  time.Now().UTC(),
		IsLocal:    true,
	}
	_, err := h.repo.AddStatusIfNew(status)
	assert.Nil(t, err)
	return status
}

func TestInbox_Follow(t *testing.T) {
	h := setupInboxTest(t)
	followId := "https://stardust.community/activities/f1"

	var sent *logic.Delivery
	h.mockDelivery.EXPECT().Enqueue(gomock.Any()).Do(func(d *logic.Delivery) { sent = d }).Times(1)
	res := h.handle(t, nil, h.follow(t, followId))

	assert.Equal(t, logic.Applied, res.Outcome)
	if assert.NotNil(t, sent) {
		assert.Equal(t, test.LocalName, sent.FromUser)
		assert.Equal(t, []string{h.sender.Inbox}, sent.Inboxes)
		assert.Equal(t, "Accept", sent.Activity.Type)
		assert.Equal(t, h.local.Uri, sent.Activity.Actor)
	}
	follow, err := h.repo.GetFollow(h.sender.Uri, h.local.Uri)
	assert.Nil(t, err)
	if assert.NotNil(t, follow) {
		assert.Equal(t, dal.FollowAccepted, follow.Status)
		assert.Equal(t, followId, follow.ActivityId)
	}
	local, _ := h.repo.GetLocalActor(test.LocalName)
	assert.Equal(t, uint(1), local.FollowersCount)

	// Same activity again: replay, nothing sent
	res = h.handle(t, nil, h.follow(t, followId))
	assert.Equal(t, logic.AlreadySatisfied, res.Outcome)
}

func TestInbox_ForeignUndoCannotCancelFollow(t *testing.T) {
	h := setupInboxTest(t)
	followId := "https://stardust.community/activities/f1"
	mallory := test.MakeRemoteActor("evil.example", "mallory", test.OtherKey().PubPem)
	assert.Nil(t, h.repo.UpsertRemoteActor(mallory))

	for i, undo := range []string{
		`{"id":"https://evil.example/activities/u1","type":"Undo","actor":"%[1]s","object":"%[2]s"}`,
		`{"id":"https://evil.example/activities/u2","type":"Undo","actor":"%[1]s",
			"object":{"id":"%[2]s","type":"Follow","actor":"%[1]s","object":"%[3]s"}}`,
	} {
		act := mustActivity(t, undo, mallory.Uri, followId, h.local.Uri)
		res, err := h.inbox.Handle(context.Background(), nil, mallory, act)
		assert.Nil(t, err)
		assert.Equal(t, logic.Ignored, res.Outcome, i)
	}
	handled, _ := h.repo.IsActivityHandled(followId)
	assert.False(t, handled)

	h.mockDelivery.EXPECT().Enqueue(gomock.Any()).Times(1)
	res := h.handle(t, nil, h.follow(t, followId))
	assert.Equal(t, logic.Applied, res.Outcome)
	follow, _ := h.repo.GetFollow(h.sender.Uri, h.local.Uri)
	if assert.NotNil(t, follow) {
		assert.Equal(t, dal.FollowAccepted, follow.Status)
	}
}

func TestInbox_Follow_RepeatResendsAccept(t *testing.T) {
	h := setupInboxTest(t)
	h.mockDelivery.EXPECT().Enqueue(gomock.Any()).Times(2)

	res := h.handle(t, nil, h.follow(t, "https://stardust.community/activities/f1"))
	assert.Equal(t, logic.Applied, res.Outcome)
	res = h.handle(t, nil, h.follow(t, "https://stardust.community/activities/f2"))
	assert.Equal(t, logic.AlreadySatisfied, res.Outcome)
	assert.Len(t, res.Deliveries, 1)

	local, _ := h.repo.GetLocalActor(test.LocalName)
	assert.Equal(t, uint(1), local.FollowersCount)
}

func TestInbox_Follow_ManualApproval(t *testing.T) {
	h := setupInboxTest(t)
	autoAccept := false
	h.cfg.Federation.AutoAcceptFollows = &autoAccept

	res := h.handle(t, nil, h.follow(t, "https://stardust.community/activities/f1"))
	assert.Equal(t, logic.Applied, res.Outcome)
	assert.Empty(t, res.Deliveries)
	follow, _ := h.repo.GetFollow(h.sender.Uri, h.local.Uri)
	assert.Equal(t, dal.FollowPending, follow.Status)
	local, _ := h.repo.GetLocalActor(test.LocalName)
	assert.Equal(t, uint(0), local.FollowersCount)
}

func TestInbox_Follow_NotForUs(t *testing.T) {
	h := setupInboxTest(t)
	other := test.AddLocalActor(h.repo, "other")

	// Personal inbox of someone else
	res := h.handle(t, other, h.follow(t, "https://stardust.community/activities/f1"))
	assert.Equal(t, logic.Ignored, res.Outcome)

	res = h.handle(t, nil, mustActivity(t, `{"id":"https://stardust.community/activities/f2","type":"Follow",
		"actor":"%s","object":"https://test-fed.net/actor/nobody"}`, h.sender.Uri))
	assert.Equal(t, logic.Ignored, res.Outcome)

	res = h.handle(t, nil, mustActivity(t, `{"id":"https://stardust.community/activities/f3","type":"Follow",
		"actor":"%s","object":"https://elsewhere.example/users/x"}`, h.sender.Uri))
	assert.Equal(t, logic.Ignored, res.Outcome)
}

func TestInbox_UndoFollow(t *testing.T) {
	h := setupInboxTest(t)
	followId := "https://stardust.community/activities/f1"
	h.mockDelivery.EXPECT().Enqueue(gomock.Any()).Times(1)
	h.handle(t, nil, h.follow(t, followId))

	undo := `{"id":"%s","type":"Undo","actor":"%s",
		"object":{"id":"%s","type":"Follow","actor":"%s","object":"%s"}}`
	res := h.handle(t, nil, mustActivity(t, undo,
		"https://stardust.community/activities/u1", h.sender.Uri, followId, h.sender.Uri, h.local.Uri))
	assert.Equal(t, logic.Applied, res.Outcome)
	follow, _ := h.repo.GetFollow(h.sender.Uri, h.local.Uri)
	assert.Nil(t, follow)

	res = h.handle(t, nil, mustActivity(t, undo,
		"https://stardust.community/activities/u2", h.sender.Uri, followId, h.sender.Uri, h.local.Uri))
	assert.Equal(t, logic.AlreadySatisfied, res.Outcome)
}

func TestInbox_UndoBeforeFollow(t *testing.T) {
	h := setupInboxTest(t)
	followId := "https://stardust.community/activities/f1"

	res := h.handle(t, nil, mustActivity(t, `{"id":"https://stardust.community/activities/u1","type":"Undo",
		"actor":"%s","object":"%s"}`, h.sender.Uri, followId))
	assert.Equal(t, logic.AlreadySatisfied, res.Outcome)

	// Late Follow stays cancelled, and nothing is accepted
	res = h.handle(t, nil, h.follow(t, followId))
	assert.Equal(t, logic.AlreadySatisfied, res.Outcome)
	follow, _ := h.repo.GetFollow(h.sender.Uri, h.local.Uri)
	assert.Nil(t, follow)
}

func createNote(h *inboxHarness, actId, noteId, attributedTo, content, to, cc string) string {
	return fmt.Sprintf(`{"id":"%s","type":"Create","actor":"%s",
		"object":{"id":"%s","type":"Note","attributedTo":"%s","content":"%s",
		"published":"2024-05-01T10:00:00Z","to":%s,"cc":%s}}`,
		actId, h.sender.Uri, noteId, attributedTo, content, to, cc)
}

func TestInbox_CreateNote(t *testing.T) {
	h := setupInboxTest(t)
	noteId := "https://stardust.community/notes/1"
	to := `["https://www.w3.org/ns/activitystreams#Public"]`
	cc := fmt.Sprintf(`["%s", "%s"]`, h.sender.FollowersUrl, h.local.Uri)
	body := createNote(h, "https://stardust.community/activities/c1", noteId, h.sender.Uri,
		`<p>Henlo <script>alert(1)</script>birb</p>`, to, cc)

	res := h.handle(t, nil, mustActivity(t, "%s", body))
	assert.Equal(t, logic.Applied, res.Outcome)

	status, err := h.repo.GetStatus(noteId)
	assert.Nil(t, err)
	if assert.NotNil(t, status) {
		assert.Equal(t, dal.VisibilityPublic, status.Visibility)
		assert.Equal(t, "<p>Henlo birb</p>", status.Content)
		assert.Equal(t, []string{h.sender.FollowersUrl, h.local.Uri}, status.Recipients)
		assert.False(t, status.IsLocal)
	}

	// Same note in a new Create does not rewrite it
	body = createNote(h, "https://stardust.community/activities/c2", noteId, h.sender.Uri,
		"changed", `[]`, `[]`)
	res = h.handle(t, nil, mustActivity(t, "%s", body))
	assert.Equal(t, logic.AlreadySatisfied, res.Outcome)
	status, _ = h.repo.GetStatus(noteId)
	assert.Equal(t, dal.VisibilityPublic, status.Visibility)
}

func TestInbox_CreateNote_Forged(t *testing.T) {
	h := setupInboxTest(t)
	to := `["https://www.w3.org/ns/activitystreams#Public"]`

	body := createNote(h, "https://stardust.community/activities/c1", "https://stardust.community/notes/1",
		test.ActorUri(test.CallerHost, test.OtherName), "hi", to, `[]`)
	res := h.handle(t, nil, mustActivity(t, "%s", body))
	assert.Equal(t, logic.Rejected, res.Outcome)

	body = createNote(h, "https://stardust.community/activities/c2", "https://elsewhere.example/notes/1",
		h.sender.Uri, "hi", to, `[]`)
	res = h.handle(t, nil, mustActivity(t, "%s", body))
	assert.Equal(t, logic.Rejected, res.Outcome)

	status, _ := h.repo.GetStatus("https://elsewhere.example/notes/1")
	assert.Nil(t, status)
}

func TestInbox_CreateNote_ByReference(t *testing.T) {
	h := setupInboxTest(t)
	noteId := "https://stardust.community/notes/7"
	note := fmt.Sprintf(`{"id":"%s","type":"Note","attributedTo":"%s","content":"hi",
		"to":["%s"],"cc":[]}`, noteId, h.sender.Uri, h.local.Uri)
	h.mockResolver.EXPECT().FetchObject(gomock.Any(), noteId).Return([]byte(note), nil)

	res := h.handle(t, nil, mustActivity(t, `{"id":"https://stardust.community/activities/c1","type":"Create",
		"actor":"%s","object":"%s"}`, h.sender.Uri, noteId))
	assert.Equal(t, logic.Applied, res.Outcome)
	status, _ := h.repo.GetStatus(noteId)
	if assert.NotNil(t, status) {
		assert.Equal(t, dal.VisibilityDirect, status.Visibility)
	}
}

func TestInbox_CreateNote_FetchesReplyParent(t *testing.T) {
	h := setupInboxTest(t)
	other := test.MakeRemoteActor(test.CallerHost, test.OtherName, test.OtherKey().PubPem)
	parentId := "https://stardust.community/notes/parent"
	parent := fmt.Sprintf(`{"id":"%s","type":"Note","attributedTo":"%s","content":"first",
		"to":["https://www.w3.org/ns/activitystreams#Public"]}`, parentId, other.Uri)
	h.mockResolver.EXPECT().FetchObject(gomock.Any(), parentId).Return([]byte(parent), nil)
	h.mockResolver.EXPECT().Resolve(gomock.Any(), other.Uri).Return(other, nil)

	body := fmt.Sprintf(`{"id":"https://stardust.community/activities/c1","type":"Create","actor":"%s",
		"object":{"id":"https://stardust.community/notes/reply","type":"Note","attributedTo":"%s",
		"content":"second","inReplyTo":"%s","to":["https://www.w3.org/ns/activitystreams#Public"]}}`,
		h.sender.Uri, h.sender.Uri, parentId)
	res := h.handle(t, nil, mustActivity(t, "%s", body))
	assert.Equal(t, logic.Applied, res.Outcome)

	assert.Eventually(t, func() bool {
		status, _ := h.repo.GetStatus(parentId)
		return status != nil && status.AuthorUri == other.Uri
	}, 5*time.Second, 10*time.Millisecond)
}

func TestInbox_DeleteStatus(t *testing.T) {
	h := setupInboxTest(t)
	noteId := "https://stardust.community/notes/1"
	body := createNote(h, "https://stardust.community/activities/c1", noteId, h.sender.Uri, "hi",
		`["https://www.w3.org/ns/activitystreams#Public"]`, `[]`)
	h.handle(t, nil, mustActivity(t, "%s", body))

	res := h.handle(t, nil, mustActivity(t, `{"id":"https://stardust.community/activities/d1","type":"Delete",
		"actor":"%s","object":{"id":"%s","type":"Tombstone"}}`, h.sender.Uri, noteId))
	assert.Equal(t, logic.Applied, res.Outcome)
	status, _ := h.repo.GetStatus(noteId)
	if assert.NotNil(t, status) {
		assert.True(t, status.Deleted)
		assert.Empty(t, status.Content)
	}

	res = h.handle(t, nil, mustActivity(t, `{"id":"https://stardust.community/activities/d2","type":"Delete",
		"actor":"%s","object":"%s"}`, h.sender.Uri, noteId))
	assert.Equal(t, logic.AlreadySatisfied, res.Outcome)
}

func TestInbox_DeleteSomeoneElsesStatus(t *testing.T) {
	h := setupInboxTest(t)
	status := h.addLocalStatus(t, "1")

	res := h.handle(t, nil, mustActivity(t, `{"id":"https://stardust.community/activities/d1","type":"Delete",
		"actor":"%s","object":"%s"}`, h.sender.Uri, status.Uri))
	assert.Equal(t, logic.Rejected, res.Outcome)
	stored, _ := h.repo.GetStatus(status.Uri)
	assert.False(t, stored.Deleted)
}

func TestInbox_DeleteActor(t *testing.T) {
	h := setupInboxTest(t)
	h.mockResolver.EXPECT().Forget(h.sender.Uri).Times(2)

	del := `{"id":"%s","type":"Delete","actor":"%s","object":"%s"}`
	res := h.handle(t, nil, mustActivity(t, del, "https://stardust.community/activities/d1", h.sender.Uri, h.sender.Uri))
	assert.Equal(t, logic.Applied, res.Outcome)
	stored, _ := h.repo.GetActor(h.sender.Uri)
	assert.True(t, stored.Disabled)

	res = h.handle(t, nil, mustActivity(t, del, "https://stardust.community/activities/d2", h.sender.Uri, h.sender.Uri))
	assert.Equal(t, logic.AlreadySatisfied, res.Outcome)
}

func TestInbox_Like(t *testing.T) {
	h := setupInboxTest(t)
	status := h.addLocalStatus(t, "1")
	like := `{"id":"%s","type":"Like","actor":"%s","object":"%s"}`

	res := h.handle(t, nil, mustActivity(t, like, "https://stardust.community/activities/l1", h.sender.Uri, status.Uri))
	assert.Equal(t, logic.Applied, res.Outcome)
	// Same activity redelivered
	for i := 0; i < 5; i++ {
		res = h.handle(t, nil, mustActivity(t, like, "https://stardust.community/activities/l1", h.sender.Uri, status.Uri))
		assert.Equal(t, logic.AlreadySatisfied, res.Outcome)
	}
	stored, _ := h.repo.GetStatus(status.Uri)
	assert.Equal(t, uint(1), stored.LikesCount)
	edge, _ := h.repo.GetLike(h.sender.Uri, status.Uri)
	if assert.NotNil(t, edge) {
		assert.Equal(t, "https://stardust.community/activities/l1", edge.ActivityId)
	}

	res = h.handle(t, nil, mustActivity(t, like, "https://stardust.community/activities/l2", h.sender.Uri, status.Uri))
	assert.Equal(t, logic.AlreadySatisfied, res.Outcome)
	stored, _ = h.repo.GetStatus(status.Uri)
	assert.Equal(t, uint(1), stored.LikesCount)

	res = h.handle(t, nil, mustActivity(t, like, "https://stardust.community/activities/l3", h.sender.Uri,
		h.local.Uri+"/status/unknown"))
	assert.Equal(t, logic.Ignored, res.Outcome)

	// Undo by ID only
	res = h.handle(t, nil, mustActivity(t, `{"id":"https://stardust.community/activities/u1","type":"Undo",
		"actor":"%s","object":"https://stardust.community/activities/l1"}`, h.sender.Uri))
	assert.Equal(t, logic.Applied, res.Outcome)
	stored, _ = h.repo.GetStatus(status.Uri)
	assert.Equal(t, uint(0), stored.LikesCount)
}

func TestInbox_AcceptOurFollow(t *testing.T) {
	h := setupInboxTest(t)
	followId := "https://test-fed.net/activity/f1"
	_, err := h.repo.AddFollow(&dal.Follow{
		FollowerUri: h.local.Uri, FolloweeUri: h.sender.Uri, Status: dal.FollowPending, ActivityId: followId,
	})
	assert.Nil(t, err)

	accept := `{"id":"%s","type":"Accept","actor":"%s",
		"object":{"id":"%s","type":"Follow","actor":"%s","object":"%s"}}`
	res := h.handle(t, nil, mustActivity(t, accept,
		"https://stardust.community/activities/a1", h.sender.Uri, followId, h.local.Uri, h.sender.Uri))
	assert.Equal(t, logic.Applied, res.Outcome)
	follow, _ := h.repo.GetFollow(h.local.Uri, h.sender.Uri)
	assert.Equal(t, dal.FollowAccepted, follow.Status)
	local, _ := h.repo.GetLocalActor(test.LocalName)
	assert.Equal(t, uint(1), local.FollowingCount)

	res = h.handle(t, nil, mustActivity(t, `{"id":"https://stardust.community/activities/a2","type":"Accept",
		"actor":"%s","object":"%s"}`, h.sender.Uri, followId))
	assert.Equal(t, logic.AlreadySatisfied, res.Outcome)
}

func TestInbox_AnswerFromWrongActor(t *testing.T) {
	h := setupInboxTest(t)
	followId := "https://test-fed.net/activity/f1"
	target := test.ActorUri(test.CallerHost, test.OtherName)
	_, err := h.repo.AddFollow(&dal.Follow{
		FollowerUri: h.local.Uri, FolloweeUri: target, Status: dal.FollowPending, ActivityId: followId,
	})
	assert.Nil(t, err)

	res := h.handle(t, nil, mustActivity(t, `{"id":"https://stardust.community/activities/r1","type":"Reject",
		"actor":"%s","object":"%s"}`, h.sender.Uri, followId))
	assert.Equal(t, logic.Rejected, res.Outcome)
	follow, _ := h.repo.GetFollow(h.local.Uri, target)
	assert.Equal(t, dal.FollowPending, follow.Status)

	res = h.handle(t, nil, mustActivity(t, `{"id":"https://stardust.community/activities/r2","type":"Reject",
		"actor":"%s","object":"https://test-fed.net/activity/unknown"}`, h.sender.Uri))
	assert.Equal(t, logic.Ignored, res.Outcome)
}

func TestInbox_Unsupported(t *testing.T) {
	h := setupInboxTest(t)
	act := mustActivity(t, `{"id":"https://stardust.community/activities/x1","type":"Announce",
		"actor":"%s","object":"https://elsewhere.example/notes/1"}`, h.sender.Uri)

	res := h.handle(t, nil, act)
	assert.Equal(t, logic.Ignored, res.Outcome)
	handled, err := h.repo.IsActivityHandled("https://stardust.community/activities/x1")
	assert.Nil(t, err)
	assert.False(t, handled)
}
