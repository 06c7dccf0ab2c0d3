// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package project

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParseChapterRange parses "4-12" or "3,7,9" into a sorted, deduplicated
// list of chapter numbers. A single number is a range of one.
func ParseChapterRange(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty chapter range")
	}

	seen := make(map[int]bool)

	if strings.Contains(s, "-") {
		parts := strings.SplitN(s, "-", 2)
		lo, err := parseChapter(parts[0])
		if err != nil {
			return nil, err
		}
		hi, err := parseChapter(parts[1])
		if err != nil {
			return nil, err
		}
		if hi < lo {
			return nil, fmt.Errorf("invalid chapter range %q: end before start", s)
		}
		for n := lo; n <= hi; n++ {
			seen[n] = true
		}
	} else {
		for _, part := range strings.Split(s, ",") {
			n, err := parseChapter(part)
			if err != nil {
				return nil, err
			}
			seen[n] = true
		}
	}

	chapters := make([]int, 0, len(seen))
	for n := range seen {
		chapters = append(chapters, n)
	}
	sort.Ints(chapters)
	return chapters, nil
}

func parseChapter(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid chapter number %q", strings.TrimSpace(s))
	}
	if n <= 0 {
		return 0, fmt.Errorf("chapter numbers start at 1, got %d", n)
	}
	return n, nil
}
