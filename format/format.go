// Package format renders archived chat through named template bundles.
//
// A Spec pairs a per-message template with a file wrapper and a file name.
// Templates use {field} placeholders drawn from a closed set per template kind;
// they are validated when a Spec is compiled so a run never starts with a
// template it cannot resolve.
package format

import (
	"fmt"
	"time"
)

// AllFormats is the pseudo-format that selects every configured format.
const AllFormats = "all"

// DefaultCommentDuration is how long a subtitle line stays on screen when a
// format does not say otherwise.
const DefaultCommentDuration = 3 * time.Second

// ConfigError reports a format definition or selection that cannot be used.
type ConfigError struct {
	Format string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Format == "" {
		return fmt.Sprintf("format config: %v", e.Err)
	}
	return fmt.Sprintf("format %q: %v", e.Format, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// RenderError reports a field that could not be produced for a given message or video.
type RenderError struct {
	Format string
	Field  string
	Err    error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("format %q: render {%s}: %v", e.Format, e.Field, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Spec is a compiled, validated format.
type Spec struct {
	Name     string
	Comment  *Template
	Output   *Template
	Filename *Template
	Duration time.Duration

	header *Template
	footer *Template
}

// StaticFooter returns the footer text when it contains no placeholders.
// A finished archive of this format always ends with it.
func (s *Spec) StaticFooter() (string, bool) {
	txt, ok := s.footer.static()
	if !ok || txt == "" {
		return "", false
	}
	return txt, true
}

func newSpec(name string, def Definition) (*Spec, error) {
	wrap := func(err error) error { return &ConfigError{Format: name, Err: err} }

	if def.Comment == "" {
		return nil, wrap(fmt.Errorf("comment template is empty"))
	}
	comment, err := Parse(CommentKind, def.Comment)
	if err != nil {
		return nil, wrap(err)
	}
	outSrc := def.Output
	if outSrc == "" {
		outSrc = "{comments}"
	}
	output, err := Parse(OutputKind, outSrc)
	if err != nil {
		return nil, wrap(err)
	}
	if n := output.Count(FieldComments); n != 1 {
		return nil, wrap(fmt.Errorf("output template must contain {comments} exactly once, found %d", n))
	}
	nameSrc := def.Filename
	if nameSrc == "" {
		nameSrc = "{video_id}.{format}.txt"
	}
	filename, err := Parse(FilenameKind, nameSrc)
	if err != nil {
		return nil, wrap(err)
	}
	if filename.Count(FieldVideoID) == 0 {
		return nil, wrap(fmt.Errorf("filename template must reference {video_id}"))
	}
	dur := DefaultCommentDuration
	if def.Duration != "" {
		dur, err = time.ParseDuration(def.Duration)
		if err != nil || dur <= 0 {
			return nil, wrap(fmt.Errorf("invalid duration %q", def.Duration))
		}
	}
	header, footer := output.split(FieldComments)
	return &Spec{
		Name:     name,
		Comment:  comment,
		Output:   output,
		Filename: filename,
		Duration: dur,
		header:   header,
		footer:   footer,
	}, nil
}
