// Package textutil 提供检索与问答流程共用的文本与向量工具函数。
package textutil

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// CosineSimilarity 计算两个向量的余弦相似度。
// 维度不一致或任一向量为零向量时返回 0，调用方应先做维度兼容性检查。
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Normalize L2 归一化向量，返回新切片。
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	n := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// NormalizeQuery 去除首尾空白、折叠内部空白并转为小写，用于缓存键。
func NormalizeQuery(s string) string {
	return strings.ToLower(CollapseWhitespace(s))
}

// CollapseWhitespace 将连续空白折叠为单个空格并去除首尾空白。
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ASCIIRatio 返回 ASCII 字符占比，空串返回 1。
func ASCIIRatio(s string) float64 {
	total := utf8.RuneCountInString(s)
	if total == 0 {
		return 1
	}
	ascii := 0
	for _, r := range s {
		if r < utf8.RuneSelf {
			ascii++
		}
	}
	return float64(ascii) / float64(total)
}

// TruncateString 截断字符串到指定的最大 Unicode 字符数。
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen])
}

// WordCount 统计以空白分隔的词数。
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// Tokenize 将文本切分为小写的字母数字词元，CJK 字符逐字成词。
func Tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// ContainsString 判断切片是否包含指定字符串。
func ContainsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// Intersects reports whether a and b share at least one element.
func Intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; ok {
			return true
		}
	}
	return false
}

// stopwords 英文停用词，与 MongoDB 文本索引的行为保持一致。
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a an and are as at be but by can could did do does for from had has have
		how i if in into is it its me my no not of on or our so than that the their them then there these
		they this to was we were what when where which who why will with would you your`) {
		stopwords[w] = struct{}{}
	}
}

// ContentTokens 返回去除停用词后的词元。
func ContentTokens(s string) []string {
	tokens := Tokenize(s)
	out := tokens[:0]
	for _, t := range tokens {
		if _, stop := stopwords[t]; !stop {
			out = append(out, t)
		}
	}
	return out
}

// OverlapScore 返回 query 的不同内容词元在 doc 中出现的比例，范围 [0, 1]。
func OverlapScore(query, doc string) float64 {
	q := ContentTokens(query)
	if len(q) == 0 {
		return 0
	}
	docSet := make(map[string]struct{})
	for _, t := range ContentTokens(doc) {
		docSet[t] = struct{}{}
	}
	seen := make(map[string]struct{}, len(q))
	hit := 0
	for _, t := range q {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := docSet[t]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(seen))
}
