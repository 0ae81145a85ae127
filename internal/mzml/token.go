package mzml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/524D/mzbin/internal/spectra"
)

// TokenKind is the type of a Token
type TokenKind uint8

const (
	StartTag TokenKind = iota
	EndTag
	Text
	SelfClosingTag
)

func (k TokenKind) String() string {
	switch k {
	case StartTag:
		return "start"
	case EndTag:
		return "end"
	case Text:
		return "text"
	case SelfClosingTag:
		return "self-closing"
	default:
		return "unknown"
	}
}

// Token is one lexical element of an XML stream. Start and End are the
// absolute byte offsets of the first byte of the token and of the byte
// following it.
type Token struct {
	Kind   TokenKind
	Name   string // local name, without namespace prefix
	Prefix string
	Attr   []xml.Attr
	Text   []byte // only valid until the next call of Next
	Start  int64
	End    int64
}

// AttrValue returns the value of the attribute with local name name
func (t *Token) AttrValue(name string) (string, bool) {
	for _, a := range t.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// Tokenizer reads XML tokens from a stream, without building a tree.
// Entities in attribute values and text are decoded. Comments, processing
// instructions and directives are skipped.
type Tokenizer struct {
	d     *xml.Decoder
	base  int64
	prev  int64 // InputOffset after the previous raw token
	peek  xml.Token
	stack []string
	err   error
}

// NewTokenizer returns a tokenizer for r. base is added to all offsets,
// it is the position of the first byte of r in the enclosing file.
func NewTokenizer(r io.Reader, base int64) *Tokenizer {
	d := xml.NewDecoder(r)
	d.CharsetReader = charset.NewReaderLabel
	return &Tokenizer{d: d, base: base}
}

// Offset returns the absolute offset of the next unread byte
func (z *Tokenizer) Offset() int64 {
	return z.base + z.prev
}

// Depth returns the number of open elements
func (z *Tokenizer) Depth() int {
	return len(z.stack)
}

func (z *Tokenizer) malformed(off int64, format string, a ...any) error {
	z.err = &spectra.ParseError{
		Err:    spectra.ErrMalformedMarkup,
		Offset: off,
		Cause:  fmt.Errorf(format, a...),
	}
	if len(z.stack) > 0 {
		z.err.(*spectra.ParseError).Element = z.stack[len(z.stack)-1]
	}
	return z.err
}

func (z *Tokenizer) raw() (xml.Token, error) {
	if z.peek != nil {
		t := z.peek
		z.peek = nil
		return t, nil
	}
	return z.d.RawToken()
}

// Next returns the next token, or io.EOF after the last one.
// Unterminated markup, elements left open at the end of the input and
// unknown entities fail with spectra.ErrMalformedMarkup.
func (z *Tokenizer) Next() (Token, error) {
	if z.err != nil {
		return Token{}, z.err
	}
	for {
		start := z.prev
		t, err := z.raw()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(z.stack) > 0 {
					return Token{}, z.malformed(z.Offset(), "unexpected end of input, <%s> not closed", z.stack[len(z.stack)-1])
				}
				z.err = io.EOF
				return Token{}, io.EOF
			}
			var syntax *xml.SyntaxError
			if errors.As(err, &syntax) {
				return Token{}, z.malformed(z.base+z.d.InputOffset(), "%s", syntax.Msg)
			}
			z.err = err
			return Token{}, err
		}
		z.prev = z.d.InputOffset()
		switch t := t.(type) {
		case xml.StartElement:
			tok := Token{
				Kind:   StartTag,
				Name:   t.Name.Local,
				Prefix: t.Name.Space,
				Attr:   t.Copy().Attr,
				Start:  z.base + start,
				End:    z.base + z.prev,
			}
			// A self-closing tag is reported as a start element followed
			// by an end element that consumes no input.
			next, err := z.d.RawToken()
			if err == nil {
				if end, ok := next.(xml.EndElement); ok && z.d.InputOffset() == z.prev && end.Name == t.Name {
					tok.Kind = SelfClosingTag
					return tok, nil
				}
				z.peek = xml.CopyToken(next)
			} else if !errors.Is(err, io.EOF) {
				var syntax *xml.SyntaxError
				if errors.As(err, &syntax) {
					return Token{}, z.malformed(z.base+z.d.InputOffset(), "%s", syntax.Msg)
				}
				z.err = err
				return Token{}, err
			}
			z.stack = append(z.stack, tok.Name)
			return tok, nil

		case xml.EndElement:
			// Matching the name against the open element is left to the
			// consumer, which knows what the element means.
			if len(z.stack) == 0 {
				return Token{}, z.malformed(z.base+start, "unexpected </%s>", t.Name.Local)
			}
			z.stack = z.stack[:len(z.stack)-1]
			return Token{Kind: EndTag, Name: t.Name.Local, Prefix: t.Name.Space, Start: z.base + start, End: z.base + z.prev}, nil

		case xml.CharData:
			return Token{Kind: Text, Text: t, Start: z.base + start, End: z.base + z.prev}, nil
		}
	}
}

// Skip consumes tokens up to and including the end tag of the element
// whose start tag was returned last.
func (z *Tokenizer) Skip() error {
	depth := len(z.stack)
	for len(z.stack) >= depth {
		if _, err := z.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}

// qualified returns the prefixed name of an attribute or element
func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

// writeToken appends tok to buf as XML text
func writeToken(buf *bytes.Buffer, tok *Token) {
	name := qualified(xml.Name{Space: tok.Prefix, Local: tok.Name})
	switch tok.Kind {
	case StartTag, SelfClosingTag:
		buf.WriteByte('<')
		buf.WriteString(name)
		for _, a := range tok.Attr {
			buf.WriteByte(' ')
			buf.WriteString(qualified(a.Name))
			buf.WriteString(`="`)
			xml.EscapeText(buf, []byte(a.Value))
			buf.WriteByte('"')
		}
		if tok.Kind == SelfClosingTag {
			buf.WriteString("/>")
		} else {
			buf.WriteByte('>')
		}
	case EndTag:
		buf.WriteString("</")
		buf.WriteString(name)
		buf.WriteByte('>')
	case Text:
		textEscaper.WriteString(buf, string(tok.Text))
	}
}

// textEscaper escapes character data but keeps line breaks readable
var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
