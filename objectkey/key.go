// Package objectkey 规范化对象键、推断内容类型并格式化文件大小。
//
// 对象键是缓存与存储请求的唯一身份：不以 "/" 开头，以 "/" 分隔路径段。
package objectkey

import (
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Normalize 去掉所有前导 "/"，空串表示根目录。幂等。
func Normalize(raw string) string {
	return strings.TrimLeft(raw, "/")
}

// Join 组合目录与文件名。文件名本身含 "/" 时视为完整键，忽略 folder。
func Join(folder, name string) string {
	name = Normalize(name)
	if strings.Contains(name, "/") {
		return name
	}
	folder = CleanFolder(folder)
	if folder == "" {
		return name
	}
	if name == "" {
		return folder
	}
	return folder + "/" + name
}

// CleanFolder 目录路径的规范形式，去掉首尾 "/"，同时也是列表缓存的键。
func CleanFolder(folder string) string {
	return strings.Trim(folder, "/")
}

// Base 返回键的最后一段。
func Base(key string) string {
	key = strings.TrimRight(Normalize(key), "/")
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		return key[i+1:]
	}
	return key
}

// Parent 返回键所在目录，根目录下的对象返回空串。
func Parent(key string) string {
	key = strings.TrimRight(Normalize(key), "/")
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		return key[:i]
	}
	return ""
}

// Ext 返回小写且不带点的扩展名。
func Ext(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

var (
	unsafeChars     = regexp.MustCompile(`[^a-zA-Z0-9.-]`)
	timestampPrefix = regexp.MustCompile(`^\d+-`)
)

// SanitizeName 将文件名中字母、数字、点、横线以外的字符替换为下划线。
func SanitizeName(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

// UploadKey 生成上传用的对象键：<folder>/<毫秒时间戳>-<清洗后的文件名>。
func UploadKey(now time.Time, fileName, folder string) string {
	return Join(folder, strconv.FormatInt(now.UnixMilli(), 10)+"-"+SanitizeName(path.Base(fileName)))
}

// OriginalName 去掉上传时添加的时间戳前缀，得到展示用文件名。
func OriginalName(fileName string) string {
	return timestampPrefix.ReplaceAllString(fileName, "")
}
