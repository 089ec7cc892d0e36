package backend

import (
	"slices"
	"time"
)

// ObjectInfo 对象元数据，对应 GET exists 的响应。
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	ContentType  string    `json:"contentType"`
	ETag         string    `json:"etag"`
}

// Folder 列表中的子目录。
type Folder struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// FileDescriptor 列表中的文件，由存储列举结果派生，每次刷新重建。
type FileDescriptor struct {
	ObjectKey     string    `json:"objectName"`
	FileName      string    `json:"fileName"`
	OriginalName  string    `json:"originalName"`
	Size          int64     `json:"size"`
	SizeFormatted string    `json:"sizeFormatted"`
	MimeType      string    `json:"type"`
	URL           string    `json:"url"`
	LastModified  time.Time `json:"lastModified"`
}

// Listing 一个目录的直接子目录与文件。
type Listing struct {
	Folders []Folder         `json:"folders"`
	Files   []FileDescriptor `json:"files"`
}

// Clone 复制两个切片，调用方修改副本不影响原值。
func (l Listing) Clone() Listing {
	return Listing{Folders: slices.Clone(l.Folders), Files: slices.Clone(l.Files)}
}

// Part 已上传分片的编号与校验标签。
type Part struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

// Completion 分片上传完成后的对象描述。
type Completion struct {
	Key      string `json:"key"`
	ETag     string `json:"etag"`
	Location string `json:"location,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// 请求体。

type presignUploadRequest struct {
	Key         string `json:"key"`
	ContentType string `json:"contentType,omitempty"`
	ExpiresIn   int64  `json:"expiresIn,omitempty"`
}

type initiateRequest struct {
	Key         string `json:"key"`
	ContentType string `json:"contentType,omitempty"`
}

type completeRequest struct {
	UploadID    string `json:"uploadId"`
	Key         string `json:"key"`
	Parts       []Part `json:"parts"`
	ContentType string `json:"contentType,omitempty"`
}

type abortRequest struct {
	UploadID string `json:"uploadId"`
	Key      string `json:"key"`
}

// 响应体。

type urlResponse struct {
	URL string `json:"url"`
}

type existsResponse struct {
	Exists bool `json:"exists"`
	ObjectInfo
}

type initiateResponse struct {
	UploadID string `json:"uploadId"`
}

type deleteResponse struct {
	OK      bool `json:"ok"`
	Deleted bool `json:"deleted"`
}

// errorPayload 兼容 error / message / detail 三种错误字段。
type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

func (p errorPayload) text() string {
	switch {
	case p.Error != "":
		return p.Error
	case p.Message != "":
		return p.Message
	default:
		return p.Detail
	}
}
