package extract

import (
	"bytes"
	"context"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeText 检测字符集并转换为 UTF-8，返回文本与检测到的编码名。
// 解码失败时按 UTF-8 有损解码。
func decodeText(data []byte, contentType string) (string, string) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), "utf-8"
	}

	enc, name, _ := charset.DetermineEncoding(data, contentType)
	if enc != nil {
		if out, err := enc.NewDecoder().Bytes(data); err == nil {
			return string(out), name
		}
	}
	return strings.ToValidUTF8(string(data), "�"), "utf-8"
}

// extractText 处理纯文本与 Markdown。Markdown 的第一个一级标题作为标题。
func extractText(_ context.Context, in *Input) (*Result, error) {
	text, enc := decodeText(in.Data, in.MIMEType)
	text = strings.ReplaceAll(text, "\r\n", "\n")

	res := &Result{Text: text}
	res.setMeta("encoding", enc)
	for _, line := range strings.SplitN(text, "\n", 50) {
		if strings.HasPrefix(line, "# ") {
			res.Title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
			break
		}
	}
	return res, nil
}
