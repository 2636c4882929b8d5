package device

// Notifier is a single-slot mailbox for asynchronous command outcomes. A new
// note replaces one that has not been read yet.
type Notifier struct {
	ch chan string
}

func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan string, 1)}
}

// Post stores msg, replacing any pending note.
func (n *Notifier) Post(msg string) {
	for {
		select {
		case n.ch <- msg:
			return
		default:
		}
		select {
		case <-n.ch:
		default:
		}
	}
}

// Drain returns and clears the pending note without blocking.
func (n *Notifier) Drain() (string, bool) {
	select {
	case msg := <-n.ch:
		return msg, true
	default:
		return "", false
	}
}
