// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "fmt"

// ChapterInfo is one catalog entry: the planned title and one-line summary
// that seed outline generation.
type ChapterInfo struct {
	Chapter int    `json:"chapter" yaml:"chapter"`
	Title   string `json:"title" yaml:"title"`
	Summary string `json:"summary" yaml:"summary"`
}

// Catalog is the parsed catalog.yaml: the planned chapter list for a volume.
type Catalog struct {
	Volume   int           `json:"volume" yaml:"volume"`
	Chapters []ChapterInfo `json:"chapters" yaml:"chapters"`
}

// Info returns the catalog entry for a chapter number.
func (c Catalog) Info(chapter int) (ChapterInfo, error) {
	for _, info := range c.Chapters {
		if info.Chapter == chapter {
			return info, nil
		}
	}
	return ChapterInfo{}, fmt.Errorf("chapter %d not in catalog", chapter)
}

// Max returns the highest chapter number in the catalog, or 0 when empty.
func (c Catalog) Max() int {
	max := 0
	for _, info := range c.Chapters {
		if info.Chapter > max {
			max = info.Chapter
		}
	}
	return max
}
