package billing

import "unicode/utf8"

// TokenCounter 估算一段文本占用的 token 数。
type TokenCounter interface {
	CountTokens(text string) (int, error)
}

// HeuristicCounter 按「约 4 个字符一个 token」的经验值估算，
// 非空文本至少计 1 个 token。无需外部分词器，适合计费前的快速估算。
type HeuristicCounter struct{}

var _ TokenCounter = HeuristicCounter{}

// CountTokens 返回 text 的估算 token 数。
func (HeuristicCounter) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	n := utf8.RuneCountInString(text) / 4
	if n < 1 {
		n = 1
	}
	return n, nil
}
