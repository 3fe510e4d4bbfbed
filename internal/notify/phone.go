package notify

import "strings"

// NormalizePhone builds the international send address from the legacy area
// code and local number. Either part missing means the patient cannot be
// reached and the caller records the attempt as undeliverable.
func NormalizePhone(area, number string) string {
	area = strings.ReplaceAll(strings.TrimSpace(area), " ", "")
	number = strings.ReplaceAll(strings.TrimSpace(number), " ", "")
	if area == "" || number == "" {
		return ""
	}
	return "549" + area + number
}
