package behavior

// Status is the tri-state result of a node update.
type Status int

const (
	StatusRunning Status = iota
	StatusSuccess
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailure:
		return "FAILURE"
	case StatusRunning:
		return "RUNNING"
	default:
		return "UNKNOWN"
	}
}

// Done reports whether the status ends an activation.
func (s Status) Done() bool {
	return s == StatusSuccess || s == StatusFailure
}

// Kind classifies a node by how many children it may hold.
type Kind int

const (
	KindLeaf Kind = iota
	KindComposite
	KindDecorator
	KindRoot
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindComposite:
		return "composite"
	case KindDecorator:
		return "decorator"
	case KindRoot:
		return "root"
	default:
		return "unknown"
	}
}

// MaxChildren returns the child limit for the kind, or -1 when unbounded.
func (k Kind) MaxChildren() int {
	switch k {
	case KindLeaf:
		return 0
	case KindDecorator, KindRoot:
		return 1
	default:
		return -1
	}
}
