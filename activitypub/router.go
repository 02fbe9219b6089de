package activitypub

import (
	"context"
)

// Route is the closed set of inbound actions.
type Route int

const (
	RouteUnhandled Route = iota
	RouteCreateNote
	RouteCreatePoll
	RouteUpdateNote
	RouteUpdatePoll
	RouteUpdateActor
	RouteAnnounce
	RouteUndoAnnounce
	RouteUndoFollow
	RouteUndoLike
	RouteDelete
	RouteFollow
	RouteAccept
	RouteReject
	RouteLike
)

var routeNames = map[Route]string{
	RouteUnhandled:    "unhandled",
	RouteCreateNote:   "create-note",
	RouteCreatePoll:   "create-poll",
	RouteUpdateNote:   "update-note",
	RouteUpdatePoll:   "update-poll",
	RouteUpdateActor:  "update-actor",
	RouteAnnounce:     "announce",
	RouteUndoAnnounce: "undo-announce",
	RouteUndoFollow:   "undo-follow",
	RouteUndoLike:     "undo-like",
	RouteDelete:       "delete",
	RouteFollow:       "follow",
	RouteAccept:       "accept",
	RouteReject:       "reject",
	RouteLike:         "like",
}

func (r Route) String() string {
	if name, ok := routeNames[r]; ok {
		return name
	}
	return "unknown"
}

func isActorType(t string) bool {
	switch t {
	case "Person", "Service", "Application", "Group", "Organization":
		return true
	}
	return false
}

// Classify matches on the activity type first, then on the embedded object
// type where that decides the action.
func Classify(a *Activity) Route {
	objectType := a.ObjectType()

	switch a.Type {
	case "Create":
		switch objectType {
		case "Note":
			return RouteCreateNote
		case "Question":
			return RouteCreatePoll
		}
	case "Update":
		switch {
		case objectType == "Note":
			return RouteUpdateNote
		case objectType == "Question":
			return RouteUpdatePoll
		case isActorType(objectType):
			return RouteUpdateActor
		}
	case "Announce":
		return RouteAnnounce
	case "Undo":
		switch objectType {
		case "Announce":
			return RouteUndoAnnounce
		case "Follow":
			return RouteUndoFollow
		case "Like":
			return RouteUndoLike
		}
	case "Delete":
		return RouteDelete
	case "Follow":
		return RouteFollow
	case "Accept":
		return RouteAccept
	case "Reject":
		return RouteReject
	case "Like":
		return RouteLike
	}
	return RouteUnhandled
}

// Handlers implements one method per route.
type Handlers interface {
	CreateStatus(ctx context.Context, a *Activity) error
	UpdateStatus(ctx context.Context, a *Activity) error
	UpdateActor(ctx context.Context, a *Activity) error
	Announce(ctx context.Context, a *Activity) error
	UndoAnnounce(ctx context.Context, a *Activity) error
	UndoFollow(ctx context.Context, a *Activity) error
	UndoLike(ctx context.Context, a *Activity) error
	Delete(ctx context.Context, a *Activity) error
	Follow(ctx context.Context, a *Activity) error
	Accept(ctx context.Context, a *Activity) error
	Reject(ctx context.Context, a *Activity) error
	Like(ctx context.Context, a *Activity) error
}

// Router dispatches classified activities to their handler.
type Router struct {
	handlers Handlers
}

func NewRouter(h Handlers) *Router {
	return &Router{handlers: h}
}

// Dispatch runs the handler for a and returns the route taken. An unhandled
// route is not an error.
func (r *Router) Dispatch(ctx context.Context, a *Activity) (Route, error) {
	route := Classify(a)
	var err error
	switch route {
	case RouteCreateNote, RouteCreatePoll:
		err = r.handlers.CreateStatus(ctx, a)
	case RouteUpdateNote, RouteUpdatePoll:
		err = r.handlers.UpdateStatus(ctx, a)
	case RouteUpdateActor:
		err = r.handlers.UpdateActor(ctx, a)
	case RouteAnnounce:
		err = r.handlers.Announce(ctx, a)
	case RouteUndoAnnounce:
		err = r.handlers.UndoAnnounce(ctx, a)
	case RouteUndoFollow:
		err = r.handlers.UndoFollow(ctx, a)
	case RouteUndoLike:
		err = r.handlers.UndoLike(ctx, a)
	case RouteDelete:
		err = r.handlers.Delete(ctx, a)
	case RouteFollow:
		err = r.handlers.Follow(ctx, a)
	case RouteAccept:
		err = r.handlers.Accept(ctx, a)
	case RouteReject:
		err = r.handlers.Reject(ctx, a)
	case RouteLike:
		err = r.handlers.Like(ctx, a)
	case RouteUnhandled:
	}
	return route, err
}
