package chat

// Role identifies who authored a Message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one entry of the conversation history.
type Message struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// History is an ordered, append-only sequence of messages. The position of a
// message is its identity.
type History []Message

// Clone returns a copy that shares no backing array with h.
func (h History) Clone() History {
	if h == nil {
		return nil
	}
	out := make(History, len(h))
	copy(out, h)
	return out
}

// Last returns the last message, if any.
func (h History) Last() (Message, bool) {
	if len(h) == 0 {
		return Message{}, false
	}
	return h[len(h)-1], true
}

// LastOfRole returns the most recent message with the given role.
func (h History) LastOfRole(role Role) (Message, bool) {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Role == role {
			return h[i], true
		}
	}
	return Message{}, false
}
