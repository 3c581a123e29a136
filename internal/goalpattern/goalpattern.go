// Package goalpattern extracts the verb-token pattern key used to index
// learned patterns and to match them against new goals.
package goalpattern

import (
	"sort"
	"strings"
)

// verbWhitelist are the action verbs recognized when extracting a goal
// pattern. Goal descriptions are in Chinese or English; both vocabularies
// are listed since either may appear in a user-supplied goal.
var verbWhitelist = map[string]struct{}{
	"打开": {}, "关闭": {}, "点击": {}, "滑动": {}, "输入": {}, "搜索": {}, "登录": {}, "注册": {},
	"发送": {}, "删除": {}, "添加": {}, "查看": {}, "切换": {}, "下载": {}, "安装": {}, "卸载": {},
	"开启": {}, "关掉": {}, "打卡": {}, "支付": {}, "购买": {}, "取消": {}, "确认": {}, "退出": {},
	"open": {}, "close": {}, "tap": {}, "click": {}, "swipe": {}, "type": {}, "search": {}, "login": {},
	"register": {}, "send": {}, "delete": {}, "add": {}, "view": {}, "switch": {}, "download": {},
	"install": {}, "uninstall": {}, "enable": {}, "disable": {}, "pay": {}, "buy": {}, "cancel": {},
	"confirm": {}, "exit": {}, "navigate": {}, "find": {}, "set": {}, "turn": {},
}

// Extract tokenizes description and returns the whitelisted verb tokens it
// contains, in the order they appear, lowercased for Latin-script tokens.
// CJK verbs embedded in an unsegmented field are ordered by their position
// in that field so the same description always yields the same key.
func Extract(description string) []string {
	var tokens []string
	for _, field := range strings.Fields(description) {
		f := strings.ToLower(strings.Trim(field, ".,!?;:()[]{}\"'"))
		if _, ok := verbWhitelist[f]; ok {
			tokens = append(tokens, f)
			continue
		}
		type hit struct {
			idx int
			tok string
		}
		var hits []hit
		for tok := range verbWhitelist {
			if len(tok) > 1 && isCJK(tok) {
				if i := strings.Index(field, tok); i >= 0 {
					hits = append(hits, hit{idx: i, tok: tok})
				}
			}
		}
		sort.Slice(hits, func(a, b int) bool {
			if hits[a].idx != hits[b].idx {
				return hits[a].idx < hits[b].idx
			}
			return hits[a].tok < hits[b].tok
		})
		for _, h := range hits {
			tokens = append(tokens, h.tok)
		}
	}
	return dedupe(tokens)
}

// Key joins extracted verb tokens into the pattern key used as a learned
// pattern's lookup identity: "joined by *".
func Key(description string) string {
	return strings.Join(Extract(description), "*")
}

func isCJK(s string) bool {
	for _, r := range s {
		if r >= 0x4E00 && r <= 0x9FFF {
			return true
		}
	}
	return false
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
