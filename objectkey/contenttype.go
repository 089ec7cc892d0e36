package objectkey

import (
	"mime"
	"strings"
)

// OctetStream 无法识别时的默认类型。
const OctetStream = "application/octet-stream"

var extTypes = map[string]string{
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"ogg":  "video/ogg",
	"ogv":  "video/ogg",
	"mov":  "video/quicktime",
	"pdf":  "application/pdf",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"svg":  "image/svg+xml",
}

// Resolve 根据文件扩展名与显式声明推断 MIME 类型，总是返回一个值。
//
// explicit 为 "video" 时在视频扩展名中选子类型，默认 video/mp4；为 "pdf" 时返回 application/pdf；
// 已经是完整 MIME 类型时原样返回；其余情况按扩展名推断。
func Resolve(fileName, explicit string) string {
	ext := Ext(fileName)
	switch strings.ToLower(strings.TrimSpace(explicit)) {
	case "video":
		if ct, ok := extTypes[ext]; ok && strings.HasPrefix(ct, "video/") {
			return ct
		}
		return "video/mp4"
	case "pdf":
		return "application/pdf"
	case "":
	default:
		if _, _, err := mime.ParseMediaType(explicit); err == nil && strings.Contains(explicit, "/") {
			return explicit
		}
	}
	if ct, ok := extTypes[ext]; ok {
		return ct
	}
	return OctetStream
}

// Inline 判断该类型是否应在浏览器内直接展示（视频播放、PDF 预览、图片）。
func Inline(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch {
	case strings.HasPrefix(mediaType, "video/"),
		strings.HasPrefix(mediaType, "audio/"),
		strings.HasPrefix(mediaType, "image/"):
		return true
	default:
		return mediaType == "application/pdf"
	}
}

// Disposition 返回响应头 Content-Disposition 的取值。
func Disposition(contentType, fileName string) string {
	kind := "attachment"
	if Inline(contentType) {
		kind = "inline"
	}
	if fileName == "" {
		return kind
	}
	return mime.FormatMediaType(kind, map[string]string{"filename": fileName})
}
