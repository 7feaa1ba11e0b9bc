package chat

import "errors"

// ErrStale is returned when a result arrived for a conversation that is no
// longer active and was discarded.
var ErrStale = errors.New("conversation changed while request was in flight")

// Precondition failures of user actions.
var (
	ErrNoConversation = errors.New("no conversation selected")
	ErrEmptyMessage   = errors.New("nothing to send")
)

// Notice is a user-facing failure with a short title and a longer detail.
type Notice struct {
	Title  string
	Detail string
	Err    error
}

// NewNotice wraps err into a Notice with the given title.
func NewNotice(title string, err error) *Notice {
	n := &Notice{Title: title, Err: err}
	if err != nil {
		n.Detail = err.Error()
	}
	return n
}

func (n *Notice) Error() string {
	if n.Detail == "" {
		return n.Title
	}
	return n.Title + ": " + n.Detail
}

func (n *Notice) Unwrap() error {
	return n.Err
}
