package logic

import (
	"community_fed/dto"
	"encoding/json"
	"fmt"
)

// Activity is the closed set of inbound activities the inbox understands.
// Only the types in this file implement it.
type Activity interface {
	ActivityId() string
	ActorUri() string
	Kind() string
	isActivity()
}

type activityBase struct {
	Id    string
	Actor string
	To    []string
	Cc    []string
}

func (a *activityBase) ActivityId() string { return a.Id }
func (a *activityBase) ActorUri() string   { return a.Actor }
func (a *activityBase) isActivity()        {}

type FollowActivity struct {
	activityBase
	Object string
}

func (*FollowActivity) Kind() string { return "Follow" }

type LikeActivity struct {
	activityBase
	Object string
}

func (*LikeActivity) Kind() string { return "Like" }

// UndoActivity carries either the embedded Follow or Like, or only the ID of the undone activity.
type UndoActivity struct {
	activityBase
	ObjectId string
	Follow   *FollowActivity
	Like     *LikeActivity
}

func (*UndoActivity) Kind() string { return "Undo" }

// CreateNoteActivity has the Note embedded, or only its URI in NoteUri.
type CreateNoteActivity struct {
	activityBase
	Note    *dto.Note
	NoteUri string
}

func (*CreateNoteActivity) Kind() string { return "Create" }

type DeleteActivity struct {
	activityBase
	Object string
}

func (*DeleteActivity) Kind() string { return "Delete" }

// AcceptActivity answers one of our Follows: FollowId names it, Follow is set if it was embedded.
type AcceptActivity struct {
	activityBase
	FollowId string
	Follow   *FollowActivity
}

func (*AcceptActivity) Kind() string { return "Accept" }

type RejectActivity struct {
	activityBase
	FollowId string
	Follow   *FollowActivity
}

func (*RejectActivity) Kind() string { return "Reject" }

// UnsupportedActivity is anything else, or a known type missing required parts.
type UnsupportedActivity struct {
	activityBase
	Type   string
	Reason string
}

func (u *UnsupportedActivity) Kind() string { return u.Type }

type IActivityValidator interface {
	Validate(body []byte) (Activity, error)
}

type activityValidator struct{}

func NewActivityValidator() IActivityValidator {
	return &activityValidator{}
}

// objectRef returns the ID of an object given inline as a string, or as an object with an id.
func objectRef(obj any) (id string, typ string) {
	switch v := obj.(type) {
	case string:
		return v, ""
	case map[string]interface{}:
		id, _ = v["id"].(string)
		typ, _ = v["type"].(string)
		return
	}
	return "", ""
}

func unsupported(base activityBase, typ, format string, args ...any) *UnsupportedActivity {
	return &UnsupportedActivity{activityBase: base, Type: typ, Reason: fmt.Sprintf(format, args...)}
}

// Validate returns an error only if body is not a JSON object. Everything that parses
// but cannot be handled comes back as *UnsupportedActivity.
func (v *activityValidator) Validate(body []byte) (Activity, error) {

	var act dto.ActivityInBase
	if err := json.Unmarshal(body, &act); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	base := activityBase{Id: act.Id, Actor: act.Actor, To: act.To, Cc: act.Cc}

	if act.Type == "" {
		return unsupported(base, "", "no type"), nil
	}
	if act.Id == "" || act.Actor == "" || act.Object == nil {
		return unsupported(base, act.Type, "id, actor and object are required"), nil
	}
	// An actor can only mint activity IDs on its own server
	if !sameHost(act.Id, act.Actor) {
		return unsupported(base, act.Type, "id %s is not on the host of %s", act.Id, act.Actor), nil
	}
	objId, objType := objectRef(act.Object)

	switch act.Type {
	case "Follow":
		if objId == "" {
			return unsupported(base, act.Type, "object has no id"), nil
		}
		return &FollowActivity{activityBase: base, Object: objId}, nil

	case "Like":
		if objId == "" {
			return unsupported(base, act.Type, "object has no id"), nil
		}
		return &LikeActivity{activityBase: base, Object: objId}, nil

	case "Delete":
		if objId == "" {
			return unsupported(base, act.Type, "object has no id"), nil
		}
		return &DeleteActivity{activityBase: base, Object: objId}, nil

	case "Undo":
		return v.validateUndo(base, body, objId, objType)

	case "Create":
		return v.validateCreate(base, body, objId, objType)

	case "Accept", "Reject":
		if objId == "" {
			return unsupported(base, act.Type, "object has no id"), nil
		}
		var follow *FollowActivity
		if objType == "Follow" {
			inner, err := parseInner(body)
			if err != nil {
				return unsupported(base, act.Type, "malformed object: %v", err), nil
			}
			follow = &FollowActivity{activityBase: activityBase{Id: inner.Id, Actor: inner.Actor}}
			follow.Object, _ = objectRef(inner.Object)
		} else if objType != "" {
			return unsupported(base, act.Type, "cannot %s a %s", act.Type, objType), nil
		}
		if act.Type == "Accept" {
			return &AcceptActivity{activityBase: base, FollowId: objId, Follow: follow}, nil
		}
		return &RejectActivity{activityBase: base, FollowId: objId, Follow: follow}, nil
	}

	return unsupported(base, act.Type, "unsupported activity type"), nil
}

func parseInner(body []byte) (*dto.ActivityInBase, error) {
	var act dto.ActivityIn[dto.ActivityInBase]
	if err := json.Unmarshal(body, &act); err != nil {
		return nil, err
	}
	return &act.Object, nil
}

func (v *activityValidator) validateUndo(base activityBase, body []byte, objId, objType string) (Activity, error) {

	res := &UndoActivity{activityBase: base, ObjectId: objId}
	if objType == "" {
		if objId == "" {
			return unsupported(base, "Undo", "object has no id"), nil
		}
		if !sameHost(objId, base.Actor) {
			return unsupported(base, "Undo", "undone activity %s is not on the host of %s", objId, base.Actor), nil
		}
		return res, nil
	}

	inner, err := parseInner(body)
	if err != nil {
		return unsupported(base, "Undo", "malformed object: %v", err), nil
	}
	// Only one's own activities can be undone
	if inner.Actor != base.Actor {
		return unsupported(base, "Undo", "undone activity is by %s, not %s", inner.Actor, base.Actor), nil
	}
	if inner.Id != "" && !sameHost(inner.Id, base.Actor) {
		return unsupported(base, "Undo", "undone activity %s is not on the host of %s", inner.Id, base.Actor), nil
	}
	innerObj, _ := objectRef(inner.Object)
	if innerObj == "" {
		return unsupported(base, "Undo", "undone %s has no object", objType), nil
	}
	innerBase := activityBase{Id: inner.Id, Actor: inner.Actor}
	switch objType {
	case "Follow":
		res.Follow = &FollowActivity{activityBase: innerBase, Object: innerObj}
	case "Like":
		res.Like = &LikeActivity{activityBase: innerBase, Object: innerObj}
	default:
		return unsupported(base, "Undo", "cannot undo a %s", objType), nil
	}
	return res, nil
}

func (v *activityValidator) validateCreate(base activityBase, body []byte, objId, objType string) (Activity, error) {

	if objType == "" {
		if objId == "" {
			return unsupported(base, "Create", "object has no id"), nil
		}
		return &CreateNoteActivity{activityBase: base, NoteUri: objId}, nil
	}
	if objType != "Note" {
		return unsupported(base, "Create", "cannot create a %s", objType), nil
	}
	var act dto.ActivityIn[dto.Note]
	if err := json.Unmarshal(body, &act); err != nil {
		return unsupported(base, "Create", "malformed note: %v", err), nil
	}
	if act.Object.Id == "" {
		return unsupported(base, "Create", "note has no id"), nil
	}
	return &CreateNoteActivity{activityBase: base, Note: &act.Object, NoteUri: act.Object.Id}, nil
}
