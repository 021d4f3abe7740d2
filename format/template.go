package format

import (
	"fmt"
	"sort"
	"strings"
)

// Kind selects which field set a template may reference.
type Kind int

const (
	// CommentKind templates render one chat message.
	CommentKind Kind = iota
	// OutputKind templates wrap the rendered comments of a whole file.
	OutputKind
	// FilenameKind templates name the output file.
	FilenameKind
)

func (k Kind) String() string {
	switch k {
	case CommentKind:
		return "comment"
	case OutputKind:
		return "output"
	case FilenameKind:
		return "filename"
	default:
		return "unknown"
	}
}

// Field is one renderable value.
type Field int

// Renderable fields. The set is closed; templates are validated against it when loaded.
const (
	FieldTimestamp Field = iota + 1
	FieldOffset
	FieldAbsolute
	FieldAuthor
	FieldLogin
	FieldBody
	FieldColor
	FieldBadges
	FieldEmotes
	FieldIndex
	FieldSRTStart
	FieldSRTEnd
	FieldSSAStart
	FieldSSAEnd
	FieldMessageID
	FieldVideoID
	FieldVideoTitle
	FieldVideoURL
	FieldChannel
	FieldChannelLogin
	FieldCreatedAt
	FieldDuration
	FieldFormat
	FieldComments
)

var fieldNames = map[string]Field{
	"timestamp":     FieldTimestamp,
	"offset":        FieldOffset,
	"absolute":      FieldAbsolute,
	"author":        FieldAuthor,
	"login":         FieldLogin,
	"body":          FieldBody,
	"color":         FieldColor,
	"badges":        FieldBadges,
	"emotes":        FieldEmotes,
	"index":         FieldIndex,
	"srt_start":     FieldSRTStart,
	"srt_end":       FieldSRTEnd,
	"ssa_start":     FieldSSAStart,
	"ssa_end":       FieldSSAEnd,
	"message_id":    FieldMessageID,
	"video_id":      FieldVideoID,
	"video_title":   FieldVideoTitle,
	"video_url":     FieldVideoURL,
	"channel":       FieldChannel,
	"channel_login": FieldChannelLogin,
	"created_at":    FieldCreatedAt,
	"duration":      FieldDuration,
	"format":        FieldFormat,
	"comments":      FieldComments,
}

var allowedFields = map[Kind][]Field{
	CommentKind: {
		FieldTimestamp, FieldOffset, FieldAbsolute, FieldAuthor, FieldLogin, FieldBody,
		FieldColor, FieldBadges, FieldEmotes, FieldIndex, FieldSRTStart, FieldSRTEnd,
		FieldSSAStart, FieldSSAEnd, FieldMessageID, FieldVideoID, FieldChannel,
	},
	OutputKind: {
		FieldComments, FieldVideoID, FieldVideoTitle, FieldVideoURL, FieldChannel,
		FieldChannelLogin, FieldCreatedAt, FieldDuration, FieldFormat,
	},
	FilenameKind: {FieldVideoID, FieldFormat},
}

func (f Field) String() string {
	for name, v := range fieldNames {
		if v == f {
			return name
		}
	}
	return fmt.Sprintf("field(%d)", int(f))
}

// FieldNames lists the placeholders a template of kind k may use, sorted.
func FieldNames(k Kind) []string {
	out := make([]string, 0, len(allowedFields[k]))
	for _, f := range allowedFields[k] {
		out = append(out, f.String())
	}
	sort.Strings(out)
	return out
}

func allowed(k Kind, f Field) bool {
	for _, a := range allowedFields[k] {
		if a == f {
			return true
		}
	}
	return false
}

type segment struct {
	literal string
	field   Field // zero for literal segments
}

// Template is a parsed, validated placeholder template.
type Template struct {
	kind Kind
	src  string
	segs []segment
}

// Parse parses src as a template of the given kind. Placeholders are written
// {name}; {{ and }} produce literal braces. Every placeholder must belong to
// the kind's field set.
func Parse(kind Kind, src string) (*Template, error) {
	t := &Template{kind: kind, src: src}
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			t.segs = append(t.segs, segment{literal: lit.String()})
			lit.Reset()
		}
	}
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '{' && i+1 < len(src) && src[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(src) && src[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(src[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("%s template: unterminated placeholder at byte %d", kind, i)
			}
			name := strings.TrimSpace(src[i+1 : i+1+end])
			f, ok := fieldNames[name]
			if !ok || !allowed(kind, f) {
				return nil, fmt.Errorf("%s template: unknown placeholder {%s} (allowed: %s)", kind, name, strings.Join(FieldNames(kind), ", "))
			}
			flush()
			t.segs = append(t.segs, segment{field: f})
			i += end + 1
		case c == '}':
			return nil, fmt.Errorf("%s template: unmatched '}' at byte %d", kind, i)
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return t, nil
}

// String returns the template source.
func (t *Template) String() string { return t.src }

// Count reports how many times f appears in the template.
func (t *Template) Count(f Field) int {
	n := 0
	for _, s := range t.segs {
		if s.field == f {
			n++
		}
	}
	return n
}

// split cuts the template around its single occurrence of f.
func (t *Template) split(f Field) (before, after *Template) {
	before = &Template{kind: t.kind}
	after = &Template{kind: t.kind}
	cur := before
	for _, s := range t.segs {
		if s.field == f {
			cur = after
			continue
		}
		cur.segs = append(cur.segs, s)
	}
	return before, after
}

// static returns the template text when it has no placeholders.
func (t *Template) static() (string, bool) {
	var b strings.Builder
	for _, s := range t.segs {
		if s.field != 0 {
			return "", false
		}
		b.WriteString(s.literal)
	}
	return b.String(), true
}

func (t *Template) execute(resolve func(Field) (string, error)) (string, error) {
	var b strings.Builder
	for _, s := range t.segs {
		if s.field == 0 {
			b.WriteString(s.literal)
			continue
		}
		v, err := resolve(s.field)
		if err != nil {
			return "", err
		}
		b.WriteString(v)
	}
	return b.String(), nil
}
