package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer/internal/browser/handle"
	"github.com/xkilldash9x/wayfarer/internal/humanoid"
)

// The constructors below build queue interactions. Element lookups happen
// when the interaction is dispatched, not when it is built, so the element
// is resolved against the page as it is after the preceding delay.

// Click builds an interaction that clicks the first element matching selector.
func Click(scope handle.Scope, selector string, recovery handle.Config, logger *zap.Logger) humanoid.Interaction {
	return humanoid.Interaction{
		Kind:   humanoid.InteractionClick,
		Target: selector,
		Action: chromedp.ActionFunc(func(ctx context.Context) error {
			h, err := handle.Find(ctx, scope, selector, recovery, logger)
			if err != nil {
				return err
			}
			return h.Click(ctx)
		}),
	}
}

// ClickHandle builds an interaction that clicks an element already located.
func ClickHandle(h *handle.Handle) humanoid.Interaction {
	return humanoid.Interaction{
		Kind:   humanoid.InteractionClick,
		Target: fmt.Sprintf("%s[%d]", h.Query(), h.Index()),
		Action: chromedp.ActionFunc(h.Click),
	}
}

// Type builds an interaction that focuses the element matching selector and
// types text into it.
func Type(scope handle.Scope, selector, text string, recovery handle.Config, logger *zap.Logger) humanoid.Interaction {
	return humanoid.Interaction{
		Kind:   humanoid.InteractionType,
		Target: selector,
		Action: chromedp.ActionFunc(func(ctx context.Context) error {
			h, err := handle.Find(ctx, scope, selector, recovery, logger)
			if err != nil {
				return err
			}
			if err := h.Click(ctx); err != nil {
				return fmt.Errorf("focusing %q: %w", selector, err)
			}
			return h.SendKeys(ctx, text)
		}),
	}
}

// Navigate builds an interaction that loads url in the tab.
func Navigate(url string) humanoid.Interaction {
	return tabInteraction(humanoid.InteractionNavigate, url, chromedp.Navigate(url))
}

// GoBack builds an interaction that moves back in the tab's history.
func GoBack() humanoid.Interaction {
	return tabInteraction(humanoid.InteractionGoBack, "history", chromedp.NavigateBack())
}

// GoForward builds an interaction that moves forward in the tab's history.
func GoForward() humanoid.Interaction {
	return tabInteraction(humanoid.InteractionGoForward, "history", chromedp.NavigateForward())
}

// Refresh builds an interaction that reloads the current page.
func Refresh() humanoid.Interaction {
	return tabInteraction(humanoid.InteractionRefresh, "page", chromedp.Reload())
}

// tabInteraction runs a page-level chromedp action. The queue hands actions
// the bare tab context, so the action has to go through chromedp.Run to get
// an executor.
func tabInteraction(kind humanoid.InteractionKind, target string, action chromedp.Action) humanoid.Interaction {
	return humanoid.Interaction{
		Kind:   kind,
		Target: target,
		Action: chromedp.ActionFunc(func(ctx context.Context) error {
			return chromedp.Run(ctx, action)
		}),
	}
}
