package handle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
)

// defaultNodeTimeout bounds a single CDP call against a node. chromedp waits
// for ByNodeID selectors to resolve, so without a bound a detached node hangs
// the caller instead of failing.
const defaultNodeTimeout = 5 * time.Second

// Document is the page-wide scope of the chromedp tab carried in ctx.
type Document struct {
	NodeTimeout time.Duration
}

var _ Scope = Document{}

// QueryAll returns every node matching the CSS selector. An empty result is
// not an error.
func (d Document) QueryAll(ctx context.Context, query string) ([]Element, error) {
	var nodes []*cdp.Node
	err := runBounded(ctx, d.NodeTimeout, chromedp.Nodes(query, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	if err != nil {
		return nil, err
	}
	return wrapNodes(nodes, d.NodeTimeout), nil
}

// cdpElement is a DOM node reference in a chromedp tab.
type cdpElement struct {
	node    *cdp.Node
	timeout time.Duration
}

var _ Element = (*cdpElement)(nil)

// NewCDPElement wraps a node previously obtained through chromedp.
func NewCDPElement(node *cdp.Node, timeout time.Duration) Element {
	return &cdpElement{node: node, timeout: timeout}
}

func wrapNodes(nodes []*cdp.Node, timeout time.Duration) []Element {
	elems := make([]Element, len(nodes))
	for i, n := range nodes {
		elems[i] = &cdpElement{node: n, timeout: timeout}
	}
	return elems
}

func (e *cdpElement) ids() []cdp.NodeID {
	return []cdp.NodeID{e.node.NodeID}
}

// TagName asks the browser to describe the node. A node that is no longer
// part of the document cannot be described, which makes this the probe.
func (e *cdpElement) TagName(ctx context.Context) (string, error) {
	var name string
	err := runBounded(ctx, e.timeout, chromedp.ActionFunc(func(ctx context.Context) error {
		described, err := dom.DescribeNode().WithNodeID(e.node.NodeID).Do(ctx)
		if err != nil {
			return err
		}
		name = described.NodeName
		return nil
	}))
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "", markStale(err)
	}
	return strings.ToLower(name), nil
}

func (e *cdpElement) Click(ctx context.Context) error {
	return runBounded(ctx, e.timeout, chromedp.MouseClickNode(e.node))
}

func (e *cdpElement) SendKeys(ctx context.Context, text string) error {
	return runBounded(ctx, e.timeout, chromedp.SendKeys(e.ids(), text, chromedp.ByNodeID))
}

func (e *cdpElement) Text(ctx context.Context) (string, error) {
	var text string
	if err := runBounded(ctx, e.timeout, chromedp.Text(e.ids(), &text, chromedp.ByNodeID)); err != nil {
		return "", err
	}
	return text, nil
}

func (e *cdpElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	if err := runBounded(ctx, e.timeout, chromedp.AttributeValue(e.ids(), name, &value, &ok, chromedp.ByNodeID)); err != nil {
		return "", false, err
	}
	return value, ok, nil
}

func (e *cdpElement) QueryAll(ctx context.Context, query string) ([]Element, error) {
	var nodes []*cdp.Node
	err := runBounded(ctx, e.timeout, chromedp.Nodes(query, &nodes, chromedp.ByQueryAll, chromedp.FromNode(e.node), chromedp.AtLeast(0)))
	if err != nil {
		return nil, err
	}
	return wrapNodes(nodes, e.timeout), nil
}

// runBounded runs action in the tab of ctx under a per-call timeout. A
// timeout that is not the caller's own, or a CDP "node not found" style
// failure, is reported as ErrStale.
func runBounded(ctx context.Context, timeout time.Duration, action chromedp.Action) error {
	if timeout <= 0 {
		timeout = defaultNodeTimeout
	}
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := chromedp.Run(opCtx, action)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	if errors.Is(opCtx.Err(), context.DeadlineExceeded) || isDetachedNodeError(err) {
		return markStale(err)
	}
	return err
}

func markStale(err error) error {
	if errors.Is(err, ErrStale) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStale, err)
}

// isDetachedNodeError matches the protocol messages Chrome returns for node
// IDs that no longer exist.
func isDetachedNodeError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"no node with given id",
		"could not find node",
		"node is detached",
		"cannot find context with specified id",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
