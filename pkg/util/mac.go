package util

import (
	"fmt"
	"strings"
)

// NormalizeMAC canonicalizes a MAC address to lowercase, colon-separated
// form (aa:bb:cc:dd:ee:ff). Accepts colon, dash, and dot-grouped input.
func NormalizeMAC(mac string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(mac))
	s = strings.NewReplacer("-", "", ":", "", ".", "").Replace(s)
	if len(s) != 12 {
		return "", InvalidInputf("bad_mac", "invalid MAC address %q", mac)
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", InvalidInputf("bad_mac", "invalid MAC address %q", mac)
		}
	}
	var b strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(s[i : i+2])
	}
	return b.String(), nil
}

// FormatBytes renders a byte count in human units (B, KiB, MiB, GiB).
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
