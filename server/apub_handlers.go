package server

import (
	"community_fed/dal"
	"community_fed/logic"
	"community_fed/shared"
	"errors"
	"github.com/gorilla/mux"
	"io"
	"net/http"
	"regexp"
	"strings"
)

const maxInboxBodyLen = 1024 * 1024

// Groups together the handlers needed to implement an ActivityPub server.
type apubHandlerGroup struct {
	cfg        *shared.Config
	logger     shared.ILogger
	metrics    logic.IMetrics
	sigChecker logic.IHttpSigChecker
	resolver   logic.IActorResolver
	validator  logic.IActivityValidator
	udir       logic.IUserDirectory
	inbox      logic.IInbox
	idb        shared.IdBuilder
	reResource *regexp.Regexp
}

func NewApubHandlerGroup(
	cfg *shared.Config,
	logger shared.ILogger,
	metrics logic.IMetrics,
	sigChecker logic.IHttpSigChecker,
	resolver logic.IActorResolver,
	validator logic.IActivityValidator,
	udir logic.IUserDirectory,
	ibox logic.IInbox,
) IHandlerGroup {
	res := apubHandlerGroup{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		sigChecker: sigChecker,
		resolver:   resolver,
		validator:  validator,
		udir:       udir,
		inbox:      ibox,
		idb:        shared.IdBuilder{Host: cfg.Host},
	}
	res.reResource = regexp.MustCompile("^acct:@?([^@]+)@([^@]+)$")
	return &res
}

func (hg *apubHandlerGroup) Prefix() string {
	return ""
}

func (hg *apubHandlerGroup) GroupDefs() []handlerDef {
	return []handlerDef{
		{"GET", "/.well-known/webfinger", func(w http.ResponseWriter, r *http.Request) { hg.getWebfinger(w, r) }},
		{"GET", "/actor/{user}", func(w http.ResponseWriter, r *http.Request) { hg.getActor(w, r) }},
		{"GET", "/actor/{user}/outbox", func(w http.ResponseWriter, r *http.Request) { hg.getActorOutbox(w, r) }},
		{"GET", "/actor/{user}/followers", func(w http.ResponseWriter, r *http.Request) { hg.getActorFollowers(w, r) }},
		{"GET", "/actor/{user}/following", func(w http.ResponseWriter, r *http.Request) { hg.getActorFollowing(w, r) }},
		{"GET", "/actor/{user}/status/{id}", func(w http.ResponseWriter, r *http.Request) { hg.getActorStatus(w, r) }},
		{"POST", "/actor-inbox/{user}", func(w http.ResponseWriter, r *http.Request) { hg.postInbox(w, r) }},
		{"POST", "/shared-inbox", func(w http.ResponseWriter, r *http.Request) { hg.postInbox(w, r) }},
	}
}

func (hg *apubHandlerGroup) AuthMW() func(next http.Handler) http.Handler {
	return emptyMW
}

func (hg *apubHandlerGroup) getWebfinger(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling webfinger GET: %s", r.URL.Path)
	obs := hg.metrics.StartApubRequestIn("webfinger")
	defer obs.Finish()

	resourceParam := r.URL.Query().Get("resource")
	groups := hg.reResource.FindStringSubmatch(resourceParam)
	if groups == nil {
		hg.logger.Infof("Webfinger: Invalid request; 'resource' param is '%s'", resourceParam)
		writeErrorResponse(w, "Missing or invalid 'resource' param", http.StatusBadRequest)
		return
	}
	user, host := groups[1], groups[2]
	if !strings.EqualFold(host, hg.cfg.Host) {
		hg.logger.Infof("Webfinger: Resource on other host: '%s'", resourceParam)
		writeErrorResponse(w, "No such resource", http.StatusNotFound)
		return
	}

	resp, err := hg.udir.GetWebfinger(user)
	if err != nil {
		writeLogicError(hg.logger, w, "Webfinger", err)
		return
	}
	writeJsonResponse(hg.logger, w, false, resp)
}

func (hg *apubHandlerGroup) getActor(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling actor GET: %s", r.URL.Path)
	obs := hg.metrics.StartApubRequestIn("actor")
	defer obs.Finish()
	userName := mux.Vars(r)["user"]

	if !acceptsJson(r) {
		profileUrl := hg.idb.ActorProfile(userName)
		hg.logger.Infof("No application/json in accept header; redirecting to: '%s'", profileUrl)
		http.Redirect(w, r, profileUrl, http.StatusSeeOther)
		return
	}

	doc, err := hg.udir.GetActorDoc(userName)
	if err != nil {
		writeLogicError(hg.logger, w, "Actor document", err)
		return
	}
	writeJsonResponse(hg.logger, w, true, doc)
}

func (hg *apubHandlerGroup) getActorStatus(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling actor status GET: %s", r.URL.Path)
	obs := hg.metrics.StartApubRequestIn("actor/status")
	defer obs.Finish()

	userName := mux.Vars(r)["user"]
	statusId := mux.Vars(r)["id"]

	if !acceptsJson(r) {
		profileUrl := hg.idb.ActorProfile(userName)
		hg.logger.Infof("No application/json in accept header; redirecting to: '%s'", profileUrl)
		http.Redirect(w, r, profileUrl, http.StatusSeeOther)
		return
	}

	obj, err := hg.udir.GetStatusObject(userName, statusId)
	if err != nil {
		writeLogicError(hg.logger, w, "Status object", err)
		return
	}
	writeJsonResponse(hg.logger, w, true, obj)
}

func (hg *apubHandlerGroup) getActorOutbox(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling actor outbox GET: %s", r.URL.Path)
	obs := hg.metrics.StartApubRequestIn("actor/outbox")
	defer obs.Finish()

	summary, err := hg.udir.GetOutboxSummary(mux.Vars(r)["user"])
	if err != nil {
		writeLogicError(hg.logger, w, "Outbox", err)
		return
	}
	writeJsonResponse(hg.logger, w, true, summary)
}

func (hg *apubHandlerGroup) getActorFollowers(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling actor followers GET: %s", r.URL.Path)
	obs := hg.metrics.StartApubRequestIn("actor/followers")
	defer obs.Finish()

	summary, err := hg.udir.GetFollowersSummary(mux.Vars(r)["user"])
	if err != nil {
		writeLogicError(hg.logger, w, "Followers", err)
		return
	}
	writeJsonResponse(hg.logger, w, true, summary)
}

func (hg *apubHandlerGroup) getActorFollowing(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling actor following GET: %s", r.URL.Path)
	obs := hg.metrics.StartApubRequestIn("actor/following")
	defer obs.Finish()

	summary, err := hg.udir.GetFollowingSummary(mux.Vars(r)["user"])
	if err != nil {
		writeLogicError(hg.logger, w, "Following", err)
		return
	}
	writeJsonResponse(hg.logger, w, true, summary)
}

func (hg *apubHandlerGroup) accepted(w http.ResponseWriter, format string, args ...any) {
	hg.logger.Infof(format, args...)
	writeJsonResponseStatus(hg.logger, w, false, http.StatusAccepted, "Accepted")
}

// postInbox takes an activity through signature check, sender resolution,
// validation and dispatch. Every stage fails closed.
func (hg *apubHandlerGroup) postInbox(w http.ResponseWriter, r *http.Request) {

	hg.logger.Infof("Handling inbox POST: %s", r.URL.Path)
	userName := mux.Vars(r)["user"]
	label := "inbox"
	if userName != "" {
		label = "actor/inbox"
	}
	obs := hg.metrics.StartApubRequestIn(label)
	defer obs.Finish()
	ctx := r.Context()

	// Personal inbox must belong to an active local actor
	var target *dal.Actor
	if userName != "" {
		var err error
		if target, err = hg.udir.GetActor(userName); err != nil {
			writeLogicError(hg.logger, w, "Inbox owner", err)
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxInboxBodyLen))
	if err != nil {
		hg.logger.Infof("Failed to read request body: %v", err)
		writeErrorResponse(w, badRequestStr, http.StatusBadRequest)
		return
	}

	keyOwner, err := hg.sigChecker.Check(ctx, r, body)
	if err != nil {
		// Servers announce deleted accounts signed with keys that no longer resolve
		if errors.Is(err, logic.ErrKeyUnavailable) {
			if del := hg.selfDelete(body); del != nil {
				hg.accepted(w, "Dropping self-Delete of %s with unavailable key", del.Actor)
				return
			}
		}
		hg.logger.Warnf("Incorrectly signed inbox POST request: %v", err)
		writeErrorResponse(w, "Invalid HTTP signature", http.StatusUnauthorized)
		return
	}

	if len(body) == 0 {
		hg.logger.Info("Empty request body")
		writeErrorResponse(w, "Request body must not be empty", http.StatusBadRequest)
		return
	}
	hg.logger.Debug(shared.TruncateWithEllipsis(string(body), shared.MaxLoggedBodyLen))

	act, err := hg.validator.Validate(body)
	if err != nil {
		hg.logger.Infof("Invalid activity in request body: %v", err)
		writeErrorResponse(w, "Request body is not valid JSON", http.StatusBadRequest)
		return
	}

	// Does signer match actor?
	if keyOwner != act.ActorUri() {
		hg.logger.Warnf("Activity signed by %s, but actor is %s", keyOwner, act.ActorUri())
		writeErrorResponse(w, "Signer does not match actor", http.StatusUnauthorized)
		return
	}

	if unsup, ok := act.(*logic.UnsupportedActivity); ok {
		hg.metrics.ActivityHandled(unsup.Type, logic.Ignored.String())
		hg.accepted(w, "Ignoring activity %s of type '%s': %s", unsup.Id, unsup.Type, unsup.Reason)
		return
	}

	sender, err := hg.resolver.Resolve(ctx, keyOwner)
	if err != nil {
		hg.accepted(w, "Dropping activity %s; sender not resolvable: %v", act.ActivityId(), err)
		return
	}

	res, err := hg.inbox.Handle(ctx, target, sender, act)
	if err != nil {
		hg.logger.Errorf("Error handling inbox activity %s: %v", act.ActivityId(), err)
		writeErrorResponse(w, internalErrorStr, http.StatusInternalServerError)
		return
	}

	switch res.Outcome {
	case logic.Applied:
		writeJsonResponse(hg.logger, w, false, "OK")
	case logic.Rejected:
		hg.logger.Warnf("Rejected %s %s from %s: %s", act.Kind(), act.ActivityId(), sender.Uri, res.Reason)
		writeErrorResponse(w, res.Reason, http.StatusForbidden)
	default:
		writeJsonResponseStatus(hg.logger, w, false, http.StatusAccepted, res.Outcome.String())
	}
}

// selfDelete returns the activity if body is an actor deleting itself.
func (hg *apubHandlerGroup) selfDelete(body []byte) *logic.DeleteActivity {
	act, err := hg.validator.Validate(body)
	if err != nil {
		return nil
	}
	if del, ok := act.(*logic.DeleteActivity); ok && del.Object == del.Actor {
		return del
	}
	return nil
}
