package humanoid

import (
	"fmt"

	"github.com/chromedp/chromedp"
)

// InteractionKind names the atomic actions the queue dispatches.
type InteractionKind int

const (
	InteractionClick InteractionKind = iota
	InteractionType
	InteractionNavigate
	InteractionGoBack
	InteractionGoForward
	InteractionRefresh
)

func (k InteractionKind) String() string {
	switch k {
	case InteractionClick:
		return "click"
	case InteractionType:
		return "type"
	case InteractionNavigate:
		return "navigate"
	case InteractionGoBack:
		return "go_back"
	case InteractionGoForward:
		return "go_forward"
	case InteractionRefresh:
		return "refresh"
	default:
		return fmt.Sprintf("interaction(%d)", int(k))
	}
}

// Interaction is one atomic request. Target is descriptive only (a selector
// or URL) and is used for logging.
type Interaction struct {
	Kind   InteractionKind
	Target string
	Action chromedp.Action
}
