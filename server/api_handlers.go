package server

import (
	"community_fed/dto"
	"community_fed/logic"
	"community_fed/shared"
	"context"
	"crypto/subtle"
	"encoding/json"
	"github.com/gorilla/mux"
	"io"
	"net/http"
)

const maxApiBodyLen = 64 * 1024

// Admin API that lets the community application act through local actors.
type apiHandlerGroup struct {
	cfg    *shared.Config
	logger shared.ILogger
	outbox logic.IOutbox
}

func NewApiHandlerGroup(
	cfg *shared.Config,
	logger shared.ILogger,
	outbox logic.IOutbox,
) IHandlerGroup {
	res := apiHandlerGroup{
		cfg:    cfg,
		logger: logger,
		outbox: outbox,
	}
	return &res
}

func (hg *apiHandlerGroup) Prefix() string {
	return "/api"
}

func (hg *apiHandlerGroup) GroupDefs() []handlerDef {
	return []handlerDef{
		{"GET", "/actors", func(w http.ResponseWriter, r *http.Request) { hg.getActors(w, r) }},
		{"POST", "/actors", func(w http.ResponseWriter, r *http.Request) { hg.postActors(w, r) }},
		{"GET", "/actors/{user}", func(w http.ResponseWriter, r *http.Request) { hg.getActor(w, r) }},
		{"POST", "/actors/{user}/follow", func(w http.ResponseWriter, r *http.Request) { hg.postFollow(w, r) }},
		{"POST", "/actors/{user}/unfollow", func(w http.ResponseWriter, r *http.Request) { hg.postUnfollow(w, r) }},
		{"POST", "/actors/{user}/followers/approve", func(w http.ResponseWriter, r *http.Request) { hg.postApprove(w, r) }},
		{"POST", "/actors/{user}/followers/reject", func(w http.ResponseWriter, r *http.Request) { hg.postReject(w, r) }},
		{"POST", "/actors/{user}/like", func(w http.ResponseWriter, r *http.Request) { hg.postLike(w, r) }},
		{"POST", "/actors/{user}/unlike", func(w http.ResponseWriter, r *http.Request) { hg.postUnlike(w, r) }},
		{"POST", "/actors/{user}/statuses", func(w http.ResponseWriter, r *http.Request) { hg.postStatus(w, r) }},
		{"POST", "/actors/{user}/statuses/delete", func(w http.ResponseWriter, r *http.Request) { hg.postDeleteStatus(w, r) }},
	}
}

func (hg *apiHandlerGroup) AuthMW() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return hg.authMW(next)
	}
}

func (hg *apiHandlerGroup) authMW(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var apiKey = r.Header.Get(apiKeyHeader)
		found := false
		for _, key := range hg.cfg.Secrets.ApiKeys {
			if apiKey != "" && subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				found = true
			}
		}
		if !found {
			keyPart := apiKey
			if len(apiKey) > 4 {
				keyPart = apiKey[:4] + "..."
			}
			hg.logger.Warnf("API request with missing or invalid key '%s': %s", keyPart, r.URL.Path)
			writeErrorResponse(w, badApiKeyStr, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// readJson parses the request body into req; on failure it writes a 400 and returns false.
func readJson[T any](hg *apiHandlerGroup, w http.ResponseWriter, r *http.Request, req *T) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxApiBodyLen))
	if err != nil {
		hg.logger.Infof("Failed to read request body: %v", err)
		writeErrorResponse(w, badRequestStr, http.StatusBadRequest)
		return false
	}
	if err = json.Unmarshal(body, req); err != nil {
		hg.logger.Infof("Invalid JSON in request body: %v", err)
		writeErrorResponse(w, "Request body is not valid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func (hg *apiHandlerGroup) getActors(w http.ResponseWriter, r *http.Request) {
	actors, err := hg.outbox.ListLocalActors()
	if err != nil {
		writeLogicError(hg.logger, w, "List actors", err)
		return
	}
	writeJsonResponse(hg.logger, w, false, actors)
}

func (hg *apiHandlerGroup) postActors(w http.ResponseWriter, r *http.Request) {

	hg.logger.Info("POST /api/actors: Request received")
	var req dto.CreateActorReq
	if !readJson(hg, w, r, &req) {
		return
	}
	actor, err := hg.outbox.CreateLocalActor(&req)
	if err != nil {
		writeLogicError(hg.logger, w, "Create actor", err)
		return
	}
	writeJsonResponseStatus(hg.logger, w, false, http.StatusCreated, actor)
}

func (hg *apiHandlerGroup) getActor(w http.ResponseWriter, r *http.Request) {
	actor, err := hg.outbox.GetLocalActor(mux.Vars(r)["user"])
	if err != nil {
		writeLogicError(hg.logger, w, "Get actor", err)
		return
	}
	writeJsonResponse(hg.logger, w, false, actor)
}

type targetOp func(ctx context.Context, user, target string) (*dto.OutboxResult, error)

// handleTargetOp runs an outbox operation that takes a {"target": ...} body.
func (hg *apiHandlerGroup) handleTargetOp(w http.ResponseWriter, r *http.Request, what string, op targetOp) {

	user := mux.Vars(r)["user"]
	hg.logger.Infof("API %s by %s", what, user)
	var req dto.TargetReq
	if !readJson(hg, w, r, &req) {
		return
	}
	if req.Target == "" {
		writeErrorResponse(w, "Missing 'target'", http.StatusBadRequest)
		return
	}
	res, err := op(r.Context(), user, req.Target)
	if err != nil {
		writeLogicError(hg.logger, w, what, err)
		return
	}
	writeJsonResponseStatus(hg.logger, w, false, http.StatusAccepted, res)
}

func (hg *apiHandlerGroup) postFollow(w http.ResponseWriter, r *http.Request) {
	hg.handleTargetOp(w, r, "follow", hg.outbox.Follow)
}

func (hg *apiHandlerGroup) postUnfollow(w http.ResponseWriter, r *http.Request) {
	hg.handleTargetOp(w, r, "unfollow", hg.outbox.Unfollow)
}

func (hg *apiHandlerGroup) postApprove(w http.ResponseWriter, r *http.Request) {
	hg.handleTargetOp(w, r, "approve follower", hg.outbox.ApproveFollower)
}

func (hg *apiHandlerGroup) postReject(w http.ResponseWriter, r *http.Request) {
	hg.handleTargetOp(w, r, "reject follower", hg.outbox.RejectFollower)
}

func (hg *apiHandlerGroup) postLike(w http.ResponseWriter, r *http.Request) {
	hg.handleTargetOp(w, r, "like", hg.outbox.Like)
}

func (hg *apiHandlerGroup) postUnlike(w http.ResponseWriter, r *http.Request) {
	hg.handleTargetOp(w, r, "unlike", hg.outbox.Unlike)
}

func (hg *apiHandlerGroup) postDeleteStatus(w http.ResponseWriter, r *http.Request) {
	hg.handleTargetOp(w, r, "delete status", hg.outbox.DeleteStatus)
}

func (hg *apiHandlerGroup) postStatus(w http.ResponseWriter, r *http.Request) {

	user := mux.Vars(r)["user"]
	hg.logger.Infof("API post status by %s", user)
	var req dto.PostStatusReq
	if !readJson(hg, w, r, &req) {
		return
	}
	res, err := hg.outbox.PostStatus(r.Context(), user, &req)
	if err != nil {
		writeLogicError(hg.logger, w, "Post status", err)
		return
	}
	writeJsonResponseStatus(hg.logger, w, false, http.StatusCreated, res)
}
