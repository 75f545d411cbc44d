package qq

// RouteKind selects one of the four send endpoints.
type RouteKind int

const (
	RouteC2C RouteKind = iota
	RouteGroup
	RouteChannel
	RouteDirect
)

func (k RouteKind) String() string {
	switch k {
	case RouteC2C:
		return "c2c"
	case RouteGroup:
		return "group"
	case RouteChannel:
		return "channel"
	case RouteDirect:
		return "direct"
	}
	return "unknown"
}

// Route addresses a send endpoint. ID is the user openid (C2C), group openid,
// channel id, or direct-message guild id.
type Route struct {
	Kind RouteKind
	ID   string
}

func (r Route) messagePath() string {
	switch r.Kind {
	case RouteC2C:
		return "/v2/users/" + r.ID + "/messages"
	case RouteGroup:
		return "/v2/groups/" + r.ID + "/messages"
	case RouteChannel:
		return "/channels/" + r.ID + "/messages"
	default:
		return "/dms/" + r.ID + "/messages"
	}
}

// filesPath returns the rich-media upload path; only v2 routes have one.
func (r Route) filesPath() (string, bool) {
	switch r.Kind {
	case RouteC2C:
		return "/v2/users/" + r.ID + "/files", true
	case RouteGroup:
		return "/v2/groups/" + r.ID + "/files", true
	}
	return "", false
}
