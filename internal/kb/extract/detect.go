package extract

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/kart-io/sentinel-kb/internal/model"
)

var mimeKinds = map[string]Kind{
	"application/pdf": KindPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   KindDOCX,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": KindPPTX,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         KindXLSX,
	"text/csv":              KindCSV,
	"text/html":             KindHTML,
	"application/xhtml+xml": KindHTML,
	"text/markdown":         KindMarkdown,
	"text/x-markdown":       KindMarkdown,
	"text/plain":            KindText,
	"application/json":      KindText,
	"application/xml":       KindText,
	"text/xml":              KindText,

	"application/msword":            KindLegacyOffice,
	"application/vnd.ms-excel":      KindLegacyOffice,
	"application/vnd.ms-powerpoint": KindLegacyOffice,
	"application/x-ole-storage":     KindLegacyOffice,
}

var extKinds = map[string]Kind{
	".pdf":      KindPDF,
	".docx":     KindDOCX,
	".pptx":     KindPPTX,
	".xlsx":     KindXLSX,
	".csv":      KindCSV,
	".html":     KindHTML,
	".htm":      KindHTML,
	".md":       KindMarkdown,
	".markdown": KindMarkdown,
	".mdx":      KindMarkdown,
	".txt":      KindText,
	".json":     KindText,
	".xml":      KindText,

	".doc": KindLegacyOffice, ".xls": KindLegacyOffice, ".ppt": KindLegacyOffice,

	".jpg": KindImage, ".jpeg": KindImage, ".png": KindImage, ".gif": KindImage,
	".bmp": KindImage, ".tif": KindImage, ".tiff": KindImage, ".webp": KindImage,
	".mp3": KindAudio, ".wav": KindAudio, ".m4a": KindAudio, ".flac": KindAudio,
	".ogg": KindAudio, ".aac": KindAudio, ".wma": KindAudio,
	".mp4": KindVideo, ".mov": KindVideo, ".avi": KindVideo, ".mkv": KindVideo,
	".webm": KindVideo, ".m4v": KindVideo,
}

// 需要嗅探内容才能确定类型的 MIME。
func ambiguousMIME(m string) bool {
	return m == "" || m == "application/octet-stream" || m == "application/zip" || m == "binary/octet-stream"
}

func mediaKindOf(m string) (Kind, bool) {
	switch {
	case strings.HasPrefix(m, "image/"):
		return KindImage, true
	case strings.HasPrefix(m, "audio/"):
		return KindAudio, true
	case strings.HasPrefix(m, "video/"):
		return KindVideo, true
	}
	return "", false
}

func baseMIME(m string) string {
	if parsed, _, err := mime.ParseMediaType(m); err == nil {
		return strings.ToLower(parsed)
	}
	return strings.ToLower(strings.TrimSpace(m))
}

// Resolve 确定条目使用的提取器类别。
//
// 声明的内容类型优先：website 与 youtube 直接映射；媒体按 MIME 前缀或扩展名
// 路由到媒体提取器；文档依次参考声明的 MIME、扩展名与内容嗅探。无法识别时回退到纯文本。
func Resolve(contentType model.ContentType, in *Input) Kind {
	switch contentType {
	case model.ContentTypeWebsite:
		return KindWebsite
	case model.ContentTypeYouTube:
		return KindYouTube
	}

	declared := baseMIME(in.MIMEType)
	ext := strings.ToLower(filepath.Ext(in.Filename))

	if k, ok := mediaKindOf(declared); ok {
		return k
	}
	if k, ok := extKinds[ext]; ok && k.IsMedia() {
		return k
	}

	// 浏览器常把 .csv 声明为 application/vnd.ms-excel，旧格式 MIME 让位于扩展名。
	legacy := false
	if !ambiguousMIME(declared) {
		if k, ok := mimeKinds[declared]; ok {
			if k != KindLegacyOffice {
				return k
			}
			legacy = true
		}
	}
	if k, ok := extKinds[ext]; ok {
		return k
	}
	if legacy {
		return KindLegacyOffice
	}
	if len(in.Data) > 0 {
		return Sniff(in.Data)
	}
	if contentType == model.ContentTypeMedia {
		return KindVideo
	}
	return KindText
}

// Sniff 根据内容头部判断类别。
func Sniff(data []byte) Kind {
	detected := mimetype.Detect(data)
	for m := detected; m != nil; m = m.Parent() {
		name := baseMIME(m.String())
		if k, ok := mediaKindOf(name); ok {
			return k
		}
		if k, ok := mimeKinds[name]; ok {
			return k
		}
	}
	return KindText
}

// DetectMIME 返回内容的 MIME 类型，用于上传时补全缺失的 Content-Type。
func DetectMIME(data []byte, filename string) string {
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		return baseMIME(byExt)
	}
	return baseMIME(mimetype.Detect(data).String())
}
