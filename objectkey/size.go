package objectkey

import (
	"math"

	"github.com/dustin/go-humanize"
)

var sizeUnits = []string{"Bytes", "KB", "MB", "GB", "TB"}

// FormatSize 以 1024 为底格式化字节数，保留至多两位小数，例如 "1.5 MB"、"0 Bytes"。
func FormatSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	i = min(i, len(sizeUnits)-1)
	v := float64(bytes) / math.Pow(1024, float64(i))
	return humanize.FtoaWithDigits(v, 2) + " " + sizeUnits[i]
}
