package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// SegmentType names the kind of one part of a multi-part message.
type SegmentType string

// Segment types.
const (
	SegmentText  SegmentType = "text"
	SegmentImage SegmentType = "image"
	SegmentAudio SegmentType = "audio"
	SegmentVideo SegmentType = "video"
	SegmentFile  SegmentType = "file"
)

// Segment is one typed part of a message. Binary parts are referenced by
// URL or carried base64-encoded in Data.
type Segment struct {
	Type     SegmentType `json:"type"`
	Text     string      `json:"text,omitempty"`
	URL      string      `json:"url,omitempty"`
	MimeType string      `json:"mimeType,omitempty"`
	Name     string      `json:"name,omitempty"`
	Data     string      `json:"data,omitempty"`
}

// Content is either plain text or an ordered list of segments. On the wire
// it is a JSON string when Segments is empty and an array otherwise.
type Content struct {
	Text     string
	Segments []Segment
}

// TextContent returns plain-text content.
func TextContent(s string) Content { return Content{Text: s} }

// IsMultipart reports whether the content is a segment list.
func (c Content) IsMultipart() bool { return len(c.Segments) > 0 }

// IsEmpty reports whether the content carries no text and no segments.
func (c Content) IsEmpty() bool {
	return strings.TrimSpace(c.Text) == "" && len(c.Segments) == 0
}

// PlainText flattens the content for display. Non-text segments become a
// bracketed placeholder such as "[image: chart.png]".
func (c Content) PlainText() string {
	if len(c.Segments) == 0 {
		return c.Text
	}
	parts := make([]string, 0, len(c.Segments))
	for _, s := range c.Segments {
		if s.Type == SegmentText || s.Type == "" {
			parts = append(parts, s.Text)
			continue
		}
		label := s.Name
		if label == "" {
			label = s.MimeType
		}
		if label == "" {
			parts = append(parts, fmt.Sprintf("[%s]", s.Type))
		} else {
			parts = append(parts, fmt.Sprintf("[%s: %s]", s.Type, label))
		}
	}
	return strings.Join(parts, "\n")
}

// MarshalJSON implements json.Marshaler.
func (c Content) MarshalJSON() ([]byte, error) {
	if len(c.Segments) == 0 {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Segments)
}

// UnmarshalJSON accepts a string, an array of segments, or null. Any other
// shape is kept verbatim as text rather than rejected.
func (c *Content) UnmarshalJSON(data []byte) error {
	*c = Content{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	switch trimmed[0] {
	case '"':
		return json.Unmarshal(trimmed, &c.Text)
	case '[':
		var segs []Segment
		if err := json.Unmarshal(trimmed, &segs); err != nil {
			c.Text = string(trimmed)
			return nil //nolint:nilerr // tolerate odd shapes, keep raw text
		}
		c.Segments = segs
		return nil
	default:
		c.Text = string(trimmed)
		return nil
	}
}
