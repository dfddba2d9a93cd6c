package relay

// Room is an exactly-two-member relay channel.
//
// Membership is immutable after formation: a room is created with both
// members present and destroyed when either one leaves. The Manager owns all
// rooms; Room itself carries no locking.
type Room struct {
	ID string

	a *Client
	b *Client
}

func newRoom(id string, a, b *Client) *Room {
	return &Room{ID: id, a: a, b: b}
}

// Other returns the member that is not connID, or nil when connID is not a
// member.
func (r *Room) Other(connID string) *Client {
	if r == nil {
		return nil
	}
	switch connID {
	case r.a.ConnID:
		return r.b
	case r.b.ConnID:
		return r.a
	default:
		return nil
	}
}

// Members returns both member connection ids.
func (r *Room) Members() (string, string) {
	if r == nil {
		return "", ""
	}
	return r.a.ConnID, r.b.ConnID
}
