// Package popup implements the rules-only interstitial dismisser: zero
// model calls, a close lexicon and an avoid lexicon, walked against the
// current screen tree.
package popup

import (
	"context"
	"strings"
	"time"

	"goagent.dev/mobileagent/observer"
)

// DefaultCloseLexicon are generic close/cancel/skip tokens recognized across
// packages.
var DefaultCloseLexicon = []string{
	"×", "x", "close", "cancel", "skip", "知道了", "我知道了", "残忍拒绝", "稍后", "以后再说", "暂不", "取消", "关闭",
}

// DefaultAvoidLexicon are tokens that must never be clicked even when they
// appear on a detected popup (confirm-claim, force-update, payment words).
var DefaultAvoidLexicon = []string{
	"确认领取", "立即更新", "立即支付", "去支付", "开通会员", "立即开通", "confirm", "pay", "upgrade",
}

// PopupTitleKeywords flag a node as a probable popup title even when no
// recognized close button is found.
var PopupTitleKeywords = []string{"温馨提示", "提示", "notice", "alert"}

const (
	// DefaultN is the default maximum number of dismissal attempts.
	DefaultN = 5
	// DefaultDelay is the default pause between dismissal attempts.
	DefaultDelay = 300 * time.Millisecond
)

// Lexicons bundles the close/avoid/title-keyword token sets, with optional
// per-package extensions keyed by foreground package prefix.
type Lexicons struct {
	Close           []string
	Avoid           []string
	TitleKeywords   []string
	PerPackageClose map[string][]string
}

// DefaultLexicons returns the built-in generic lexicon set.
func DefaultLexicons() Lexicons {
	return Lexicons{
		Close:         DefaultCloseLexicon,
		Avoid:         DefaultAvoidLexicon,
		TitleKeywords: PopupTitleKeywords,
	}
}

func (l Lexicons) closeTokensFor(pkg string) []string {
	tokens := l.Close
	for prefix, extra := range l.PerPackageClose {
		if strings.HasPrefix(pkg, prefix) {
			tokens = append(append([]string{}, tokens...), extra...)
		}
	}
	return tokens
}

// Detection is the outcome of one pass over the tree.
type Detection struct {
	Found          bool
	Node           *observer.UINode
	UnknownPopup   bool
	MatchedToken   string
}

// Detect walks root looking for the first clickable node whose text or
// description matches a close-lexicon token (and not an avoid-lexicon
// token). Single-character tokens are compared exactly;
// multi-character tokens are compared as substrings. If no close button is
// found but a popup-title keyword is present, Detection.UnknownPopup is set.
func Detect(root *observer.UINode, pkg string, lex Lexicons) Detection {
	tokens := lex.closeTokensFor(pkg)

	node := observer.FindNode(root, func(n *observer.UINode) bool {
		if !n.Clickable {
			return false
		}
		if containsAny(n.Text+" "+n.Description, lex.Avoid) {
			return false
		}
		return matchesAnyToken(n, tokens)
	})
	if node != nil {
		return Detection{Found: true, Node: node, MatchedToken: node.Label()}
	}

	if observer.FindNode(root, func(n *observer.UINode) bool {
		return containsAny(n.Text+" "+n.Description, lex.TitleKeywords)
	}) != nil {
		return Detection{UnknownPopup: true}
	}
	return Detection{}
}

func matchesAnyToken(n *observer.UINode, tokens []string) bool {
	for _, tok := range tokens {
		if len([]rune(tok)) == 1 {
			if strings.EqualFold(strings.TrimSpace(n.Text), tok) || strings.EqualFold(strings.TrimSpace(n.Description), tok) {
				return true
			}
			continue
		}
		if strings.Contains(strings.ToLower(n.Text), strings.ToLower(tok)) ||
			strings.Contains(strings.ToLower(n.Description), strings.ToLower(tok)) {
			return true
		}
	}
	return false
}

func containsAny(haystack string, tokens []string) bool {
	h := strings.ToLower(haystack)
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		if strings.Contains(h, strings.ToLower(tok)) {
			return true
		}
	}
	return false
}

// ScreenSource supplies the current screen tree and a tap primitive to the
// dismissal loop.
type ScreenSource interface {
	CurrentTree(ctx context.Context) (root *observer.UINode, pkg string, err error)
	Tap(ctx context.Context, x, y int) error
}

// Detail records one dismissal attempt.
type Detail struct {
	Attempt      int
	MatchedToken string
	UnknownPopup bool
}

// Result is the outcome of a dismissal loop run.
type Result struct {
	Dismissed     bool
	PopupsCleared int
	Details       []Detail
}

// Dismisser runs the close/avoid lexicon detection-and-click loop against a
// ScreenSource.
type Dismisser struct {
	Lexicons Lexicons
	N        int
	Delay    time.Duration
	src      ScreenSource
}

// New constructs a Dismisser with the default lexicons, N, and delay.
func New(src ScreenSource) *Dismisser {
	return &Dismisser{Lexicons: DefaultLexicons(), N: DefaultN, Delay: DefaultDelay, src: src}
}

// Run repeatedly detects and dismisses popups until none are found or the
// attempt budget is exhausted.
func (d *Dismisser) Run(ctx context.Context) (Result, error) {
	var res Result
	n := d.N
	if n <= 0 {
		n = DefaultN
	}
	for i := 0; i < n; i++ {
		root, pkg, err := d.src.CurrentTree(ctx)
		if err != nil {
			return res, err
		}
		det := Detect(root, pkg, d.Lexicons)
		if det.UnknownPopup {
			res.Details = append(res.Details, Detail{Attempt: i, UnknownPopup: true})
			break
		}
		if !det.Found {
			break
		}
		if err := d.src.Tap(ctx, det.Node.Bounds.CenterX(), det.Node.Bounds.CenterY()); err != nil {
			return res, err
		}
		res.Dismissed = true
		res.PopupsCleared++
		res.Details = append(res.Details, Detail{Attempt: i, MatchedToken: det.MatchedToken})

		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(d.Delay):
		}
	}
	return res, nil
}
