package format

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/vod-chat/chat"
)

var errUnavailable = errors.New("value not available")

// Video is the VOD metadata available to output templates.
type Video struct {
	ID           string
	Title        string
	URL          string
	Channel      string // display name
	ChannelLogin string
	CreatedAt    time.Time
	Duration     time.Duration
}

// CommentData is everything a comment template can draw from.
type CommentData struct {
	Message chat.Message
	Time    chat.Timestamp
	Index   int // 1-based position among archived messages
	Video   Video
}

// RenderComment renders one message.
func (s *Spec) RenderComment(d CommentData) (string, error) {
	return s.Comment.execute(func(f Field) (string, error) {
		v, err := s.commentValue(f, d)
		if err != nil {
			return "", &RenderError{Format: s.Name, Field: f.String(), Err: err}
		}
		return v, nil
	})
}

func (s *Spec) commentValue(f Field, d CommentData) (string, error) {
	m := d.Message
	switch f {
	case FieldTimestamp:
		return d.Time.Text, nil
	case FieldOffset:
		return chat.Clock(d.Time.Relative), nil
	case FieldAbsolute:
		if d.Time.Absolute.IsZero() {
			return "", errUnavailable
		}
		return d.Time.Absolute.Format(time.RFC3339), nil
	case FieldAuthor:
		return m.Name(), nil
	case FieldLogin:
		if m.Login == "" {
			return strings.ToLower(m.Author), nil
		}
		return m.Login, nil
	case FieldBody:
		return m.Body, nil
	case FieldColor:
		return m.Color, nil
	case FieldBadges:
		return m.BadgeString(), nil
	case FieldEmotes:
		return strings.Join(m.Emotes(), " "), nil
	case FieldIndex:
		return strconv.Itoa(d.Index), nil
	case FieldSRTStart:
		return srtTime(d.Time.Relative), nil
	case FieldSRTEnd:
		return srtTime(d.Time.Relative + s.Duration), nil
	case FieldSSAStart:
		return ssaTime(d.Time.Relative), nil
	case FieldSSAEnd:
		return ssaTime(d.Time.Relative + s.Duration), nil
	case FieldMessageID:
		return m.ID, nil
	case FieldVideoID:
		return d.Video.ID, nil
	case FieldChannel:
		return d.Video.Channel, nil
	}
	return "", fmt.Errorf("field not valid in comment templates")
}

// RenderHeader renders the part of the output template before {comments}.
func (s *Spec) RenderHeader(v Video) (string, error) {
	return s.renderVideo(s.header, v)
}

// RenderFooter renders the part of the output template after {comments}.
func (s *Spec) RenderFooter(v Video) (string, error) {
	return s.renderVideo(s.footer, v)
}

// RenderWrapper renders a whole file from already rendered comments. Each
// comment is terminated by a newline, exactly as the streaming writer does.
func (s *Spec) RenderWrapper(v Video, comments []string) (string, error) {
	header, err := s.RenderHeader(v)
	if err != nil {
		return "", err
	}
	footer, err := s.RenderFooter(v)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(header)
	for _, c := range comments {
		b.WriteString(c)
		b.WriteByte('\n')
	}
	b.WriteString(footer)
	return b.String(), nil
}

func (s *Spec) renderVideo(t *Template, v Video) (string, error) {
	return t.execute(func(f Field) (string, error) {
		val, err := s.videoValue(f, v)
		if err != nil {
			return "", &RenderError{Format: s.Name, Field: f.String(), Err: err}
		}
		return val, nil
	})
}

func (s *Spec) videoValue(f Field, v Video) (string, error) {
	switch f {
	case FieldVideoID:
		return v.ID, nil
	case FieldVideoTitle:
		return v.Title, nil
	case FieldVideoURL:
		if v.URL == "" && v.ID != "" {
			return "https://www.twitch.tv/videos/" + v.ID, nil
		}
		return v.URL, nil
	case FieldChannel:
		return v.Channel, nil
	case FieldChannelLogin:
		return v.ChannelLogin, nil
	case FieldCreatedAt:
		if v.CreatedAt.IsZero() {
			return "", errUnavailable
		}
		return v.CreatedAt.UTC().Format(time.RFC3339), nil
	case FieldDuration:
		return chat.Clock(v.Duration), nil
	case FieldFormat:
		return s.Name, nil
	}
	return "", fmt.Errorf("field not valid in output templates")
}

// FileName renders the output file name for a video. The result is a single
// path element.
func (s *Spec) FileName(videoID string) (string, error) {
	name, err := s.Filename.execute(func(f Field) (string, error) {
		switch f {
		case FieldVideoID:
			return videoID, nil
		case FieldFormat:
			return s.Name, nil
		}
		return "", &RenderError{Format: s.Name, Field: f.String(), Err: fmt.Errorf("field not valid in file names")}
	})
	if err != nil {
		return "", err
	}
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return "", &RenderError{Format: s.Name, Field: "filename", Err: fmt.Errorf("file name %q is not a single path element", name)}
	}
	return name, nil
}

// srtTime formats d as HH:MM:SS,mmm.
func srtTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := int64(d / time.Millisecond)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", ms/3600000, (ms/60000)%60, (ms/1000)%60, ms%1000)
}

// ssaTime formats d as H:MM:SS.cc.
func ssaTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	cs := int64(d / (10 * time.Millisecond))
	return fmt.Sprintf("%d:%02d:%02d.%02d", cs/360000, (cs/6000)%60, (cs/100)%60, cs%100)
}
