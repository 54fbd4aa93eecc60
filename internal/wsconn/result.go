package wsconn

// Kind tells a receive loop whether to keep going or run its cleanup.
type Kind int

const (
	KindMessage Kind = iota
	// KindClosed is an expected end of the connection: a clean close frame
	// from the peer or a read after the handle was closed locally.
	KindClosed
	// KindFault is any other read failure. Callers treat it like KindClosed.
	KindFault
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindClosed:
		return "closed"
	case KindFault:
		return "fault"
	default:
		return "unknown"
	}
}

type Result struct {
	Kind    Kind
	Payload string
	Err     error
}

func message(payload string) Result { return Result{Kind: KindMessage, Payload: payload} }
func closed() Result                { return Result{Kind: KindClosed} }
func fault(err error) Result        { return Result{Kind: KindFault, Err: err} }
