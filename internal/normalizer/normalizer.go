// Package normalizer 将临床参数名称的各种写法归一为标准名称并去重
package normalizer

import (
	"log"
	"strings"
	"unicode"

	"github.com/BenedictKing/laudo/internal/types"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer 参数名称归一化器；词表构建后只读，可并发使用
type Normalizer struct {
	lookup map[string]string
}

// New 使用内置词表创建归一化器；extra 中的条目覆盖同键的内置条目
func New(extra map[string][]string) *Normalizer {
	n := &Normalizer{
		lookup: make(map[string]string),
	}
	for canonical, variants := range canonicalNames {
		n.add(canonical, variants)
	}
	for canonical, variants := range extra {
		n.add(canonical, variants)
	}
	return n
}

func (n *Normalizer) add(canonical string, variants []string) {
	n.lookup[Key(canonical)] = canonical
	for _, v := range variants {
		n.lookup[Key(v)] = canonical
	}
}

// Key 生成查表键：去重音、小写、仅保留字母数字
func Key(name string) string {
	folded := foldAccents(name)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Canonical 返回标准名称；词表中不存在时仅将各词首字母大写，其余字母保持原样
func (n *Normalizer) Canonical(name string) string {
	trimmed := strings.Join(strings.Fields(name), " ")
	if trimmed == "" {
		return ""
	}
	for _, candidate := range candidates(trimmed) {
		if canonical, ok := n.lookup[Key(candidate)]; ok {
			return canonical
		}
	}
	// Caser 有内部状态，不能跨 goroutine 共享
	return cases.Title(language.BrazilianPortuguese, cases.NoLower).String(trimmed)
}

// candidates 依次尝试：全名、去掉括号部分、括号内的缩写
func candidates(name string) []string {
	out := []string{name}
	open := strings.IndexByte(name, '(')
	if open < 0 {
		return out
	}
	if head := strings.TrimSpace(name[:open]); head != "" {
		out = append(out, head)
	}
	if end := strings.IndexByte(name[open:], ')'); end > 1 {
		if inner := strings.TrimSpace(name[open+1 : open+end]); inner != "" {
			out = append(out, inner)
		}
	}
	return out
}

// Normalize 归一化名称并去重：同一标准名称只保留最先出现的条目
func (n *Normalizer) Normalize(metrics []types.Metric) []types.Metric {
	seen := make(map[string]bool, len(metrics))
	out := make([]types.Metric, 0, len(metrics))
	dropped := 0
	for _, m := range metrics {
		canonical := n.Canonical(m.Name)
		if canonical == "" {
			dropped++
			continue
		}
		key := Key(canonical)
		if seen[key] {
			dropped++
			continue
		}
		seen[key] = true
		m.Name = canonical
		out = append(out, m)
	}
	if dropped > 0 {
		log.Printf("[Normalizer-Dedup] 丢弃 %d 个重复或空名称参数 (保留 %d)", dropped, len(out))
	}
	return out
}
