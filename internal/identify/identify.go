// package identify extracts artist/title descriptors from raw audio and its
// surrounding metadata.
//
// Strategies run in a fixed order and the first one to produce a title wins:
// embedded tags, carrier metadata, filename heuristics. The pipeline is pure;
// it never touches the store or the network.
package identify

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dhowden/tag"
)

// Info is an identification result.
type Info struct {
	Artist string
	Title  string
	Method string // tags, carrier, filename
}

// Input bundles everything known about an unidentified audio item.
type Input struct {
	Payload   []byte // raw audio bytes, may be nil
	FileName  string
	Performer string // artist hint from the carrier (e.g. Telegram audio metadata)
	Title     string // title hint from the carrier
}

// Identify runs the strategy pipeline and returns nil when no strategy
// produces a usable title.
func Identify(in Input) *Info {
	if info := fromTags(in.Payload); info != nil {
		return info
	}
	if info := fromCarrier(in.Performer, in.Title); info != nil {
		return info
	}
	return fromFileName(in.FileName)
}

// fromTags reads embedded metadata (ID3, MP4 atoms, Vorbis comments).
func fromTags(payload []byte) *Info {
	if len(payload) == 0 {
		return nil
	}

	meta, err := tag.ReadFrom(bytes.NewReader(payload))
	if err != nil {
		return nil
	}

	title := strings.TrimSpace(meta.Title())
	if title == "" {
		return nil
	}

	return &Info{
		Artist: strings.TrimSpace(meta.Artist()),
		Title:  title,
		Method: "tags",
	}
}

// fromCarrier trusts the metadata the hosting service attached to the file.
func fromCarrier(performer, title string) *Info {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil
	}

	return &Info{
		Artist: strings.TrimSpace(performer),
		Title:  title,
		Method: "carrier",
	}
}

var (
	separators    = regexp.MustCompile(`\s*[-–—]\s*`)
	officialSlug  = regexp.MustCompile(`(?i)\(official.*?\)`)
	bracketedSlug = regexp.MustCompile(`\[.*?\]`)
)

// fromFileName splits "Artist - Title.mp3" style names, stripping common
// upload noise like "(Official Video)" and bracketed tags.
func fromFileName(name string) *Info {
	if name == "" {
		return nil
	}

	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	stem = strings.TrimSpace(officialSlug.ReplaceAllString(stem, ""))
	stem = strings.TrimSpace(bracketedSlug.ReplaceAllString(stem, ""))

	if parts := separators.Split(stem, 2); len(parts) == 2 {
		artist := strings.TrimSpace(parts[0])
		title := strings.TrimSpace(parts[1])
		if artist != "" && title != "" {
			return &Info{Artist: artist, Title: title, Method: "filename"}
		}
	}

	if stem != "" {
		return &Info{Title: stem, Method: "filename"}
	}
	return nil
}
