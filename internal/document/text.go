package document

import (
	"fmt"
	"strings"
)

// CleanText drops page numbers, running headers/footers and noise lines,
// then rejoins lines broken mid-sentence. pageNum is 1-based.
func CleanText(text string, pageNum int) string {
	lines := strings.Split(text, "\n")
	var kept []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if isPageNumber(trimmed, pageNum) || isHeaderFooter(trimmed) || isNoise(trimmed) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(fixBrokenLines(strings.Join(kept, "\n")))
}

func isPageNumber(line string, pageNum int) bool {
	if line == fmt.Sprintf("%d", pageNum) {
		return true
	}
	patterns := []string{
		fmt.Sprintf("Page %d", pageNum),
		fmt.Sprintf("- %d -", pageNum),
		fmt.Sprintf("[%d]", pageNum),
	}
	for _, p := range patterns {
		if strings.EqualFold(line, p) {
			return true
		}
	}
	return false
}

func isHeaderFooter(line string) bool {
	if len(line) < 3 {
		return true
	}
	if len(line) < 50 && strings.ToUpper(line) == line && len(strings.Fields(line)) <= 2 {
		return true
	}
	upper := strings.ToUpper(line)
	for _, p := range []string{"CONFIDENTIAL", "COPYRIGHT", "ALL RIGHTS RESERVED", "PROPRIETARY"} {
		if strings.Contains(upper, p) && len(line) < 100 {
			return true
		}
	}
	return false
}

// isNoise reports lines made only of punctuation and symbols.
func isNoise(line string) bool {
	for _, r := range line {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// fixBrokenLines joins a line that does not end a sentence with a following
// line that starts in lower case.
func fixBrokenLines(text string) string {
	lines := strings.Split(text, "\n")
	var fixed []string
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if i < len(lines)-1 {
			cur := strings.TrimSpace(line)
			next := strings.TrimSpace(lines[i+1])
			if cur != "" && next != "" && !strings.ContainsAny(cur[len(cur)-1:], ".!?:;") &&
				next[0] >= 'a' && next[0] <= 'z' && !strings.HasSuffix(cur, "-") {
				fixed = append(fixed, cur+" "+next)
				i++
				continue
			}
		}
		fixed = append(fixed, line)
	}
	return strings.Join(fixed, "\n")
}
