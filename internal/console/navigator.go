package console

// Navigator turns ToLogin calls into a signal the input loop selects on.
// Calls made while a signal is pending collapse into one.
type Navigator struct {
	ch chan struct{}
}

func NewNavigator() *Navigator {
	return &Navigator{ch: make(chan struct{}, 1)}
}

func (n *Navigator) ToLogin() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// LoginRequests delivers one value per pending redirect to login.
func (n *Navigator) LoginRequests() <-chan struct{} { return n.ch }
