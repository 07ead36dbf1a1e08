package ocr

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	qualityLine = regexp.MustCompile(`(?i)^\s*(?:quality|qual|qly|kualitas|article|art)\.?\s*(?:no\.?)?\s*[:#\-]?\s*(.+)$`)
	colorLine   = regexp.MustCompile(`(?i)^\s*(?:colou?r|col|warna|shade)\.?\s*(?:no\.?)?\s*[:#\-]?\s*(.+)$`)
	lotLine     = regexp.MustCompile(`(?i)^\s*(?:lot|batch|dye\s*lot)\.?\s*(?:no\.?|number)?\s*[:#\-]?\s*(.+)$`)
	metersLine  = regexp.MustCompile(`(?i)^\s*(?:meters?|metres?|mtrs?|length|panjang|qty)\.?\s*[:#\-]?\s*([0-9]+(?:[.,][0-9]+)?)\s*(?:m|mtr|mtrs|meters?)?\s*$`)
	metersValue = regexp.MustCompile(`(?i)([0-9]+(?:[.,][0-9]+)?)\s*(?:m|mtr|mtrs|meters?|metres?)\b`)
)

// ParseLabel extracts roll fields from free label text, line by line.
// The first line matching each field wins; unmatched fields stay empty.
func ParseLabel(raw string) Result {
	res := Result{RawText: strings.TrimSpace(raw)}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case res.Meters == nil && metersLine.MatchString(line):
			if v, ok := ParseMeters(metersLine.FindStringSubmatch(line)[1]); ok {
				res.Meters = &v
			}
		case res.Quality == "" && qualityLine.MatchString(line):
			res.Quality = cleanValue(qualityLine.FindStringSubmatch(line)[1])
		case res.Color == "" && colorLine.MatchString(line):
			res.Color = cleanValue(colorLine.FindStringSubmatch(line)[1])
		case res.LotNumber == "" && lotLine.MatchString(line):
			res.LotNumber = cleanValue(lotLine.FindStringSubmatch(line)[1])
		}
	}
	if res.Meters == nil {
		if m := metersValue.FindStringSubmatch(raw); m != nil {
			if v, ok := ParseMeters(m[1]); ok {
				res.Meters = &v
			}
		}
	}
	return res
}

// ParseMeters accepts "120", "120.5" and "120,5".
func ParseMeters(raw string) (float64, bool) {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, ",", "."))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func cleanValue(v string) string {
	return strings.ToUpper(strings.Join(strings.Fields(strings.Trim(v, " :#-")), " "))
}
