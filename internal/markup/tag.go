// Package markup models the dial instruction of a call-control document.
package markup

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Verb and noun names.
const (
	TagResponse   = "Response"
	TagDial       = "Dial"
	TagClient     = "Client"
	TagURI        = "Uri"
	TagNumber     = "Number"
	TagConference = "Conference"
)

// Dial attribute names.
const (
	AttrAction       = "action"
	AttrMethod       = "method"
	AttrTimeout      = "timeout"
	AttrTimeLimit    = "timeLimit"
	AttrCallerID     = "callerId"
	AttrRingbackTone = "ringbackTone"
	AttrRecord       = "record"
	AttrHangupOnStar = "hangupOnStar"
)

// Conference attribute names.
const (
	AttrMuted                  = "muted"
	AttrBeep                   = "beep"
	AttrStartConferenceOnEnter = "startConferenceOnEnter"
	AttrEndConferenceOnExit    = "endConferenceOnExit"
	AttrWaitURL                = "waitUrl"
	AttrWaitMethod             = "waitMethod"
	AttrMaxParticipants        = "maxParticipants"
)

// ErrNoDial indicates a document without a Dial verb.
var ErrNoDial = errors.New("document has no Dial verb")

// Tag is one element of a document: a verb or a noun.
type Tag struct {
	Name       string
	Text       string
	Attributes map[string]string
	Children   []*Tag
}

// Attribute returns the named attribute and whether it is present.
func (t *Tag) Attribute(name string) (string, bool) {
	if t == nil || t.Attributes == nil {
		return "", false
	}
	v, ok := t.Attributes[name]
	return v, ok
}

// HasChildren reports whether the tag has nested nouns.
func (t *Tag) HasChildren() bool {
	return t != nil && len(t.Children) > 0
}

// Child returns the first child with the given name, or nil.
func (t *Tag) Child(name string) *Tag {
	if t == nil {
		return nil
	}
	for _, c := range t.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// UnmarshalXML decodes an element and its subtree into t.
func (t *Tag) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	t.Name = start.Name.Local
	if len(start.Attr) > 0 {
		t.Attributes = make(map[string]string, len(start.Attr))
		for _, a := range start.Attr {
			t.Attributes[a.Name.Local] = a.Value
		}
	}

	var text strings.Builder
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			child := &Tag{}
			if err := child.UnmarshalXML(d, el); err != nil {
				return err
			}
			t.Children = append(t.Children, child)
		case xml.CharData:
			text.Write(el)
		case xml.EndElement:
			t.Text = strings.TrimSpace(text.String())
			return nil
		}
	}
}

// Parse decodes a document from r and returns its root element.
func Parse(r io.Reader) (*Tag, error) {
	var root Tag
	if err := xml.NewDecoder(r).Decode(&root); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &root, nil
}

// ParseDial decodes a document and returns its Dial verb. The document may
// be either a bare Dial element or a Response wrapping one.
func ParseDial(r io.Reader) (*Tag, error) {
	root, err := Parse(r)
	if err != nil {
		return nil, err
	}
	if root.Name == TagDial {
		return root, nil
	}
	if root.Name == TagResponse {
		if dial := root.Child(TagDial); dial != nil {
			return dial, nil
		}
	}
	return nil, ErrNoDial
}
