package report

import (
	"math"
	"strconv"
)

var sizeUnits = []string{"Bytes", "KB", "MB", "GB"}

// FormatFileSize renders a byte count with 1024-based units and at most two
// decimals, e.g. "0 Bytes", "512 Bytes", "1.5 KB", "97.66 MB".
func FormatFileSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}

	i := 0
	div := int64(1)
	for i < len(sizeUnits)-1 && bytes >= div*1024 {
		div *= 1024
		i++
	}

	value := math.Round(float64(bytes)/float64(div)*100) / 100
	return strconv.FormatFloat(value, 'f', -1, 64) + " " + sizeUnits[i]
}
