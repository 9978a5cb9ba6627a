package receipt

import (
	"bytes"
	"fmt"
	"strings"
)

const (
	esc = 0x1B
	gs  = 0x1D
	lf  = 0x0A
)

const (
	alignLeft   = 0
	alignCenter = 1
)

// DefaultWidth fits 58mm thermal paper.
const DefaultWidth = 32

// document accumulates an ESC/POS stream and the plain text preview of the
// same content line by line.
type document struct {
	buf   bytes.Buffer
	lines []string
	width int
}

func newDocument(width int) *document {
	if width <= 0 {
		width = DefaultWidth
	}
	d := &document{width: width}
	d.buf.Write([]byte{esc, '@'})
	return d
}

func (d *document) align(a byte) *document {
	d.buf.Write([]byte{esc, 'a', a})
	return d
}

func (d *document) bold(on bool) *document {
	b := byte(0)
	if on {
		b = 1
	}
	d.buf.Write([]byte{esc, 'E', b})
	return d
}

func (d *document) text(s string) *document {
	d.buf.WriteString(s)
	d.buf.WriteByte(lf)
	d.lines = append(d.lines, s)
	return d
}

func (d *document) separator(char byte) *document {
	return d.text(strings.Repeat(string(char), d.width))
}

// keyValue pads key and value to opposite edges of the paper.
func (d *document) keyValue(key, value string) *document {
	spaces := d.width - len(key) - len(value)
	if spaces < 1 {
		spaces = 1
	}
	return d.text(key + strings.Repeat(" ", spaces) + value)
}

func (d *document) itemLine(qty int, name, total string) *document {
	return d.keyValue(fmt.Sprintf("%dx %s", qty, name), total)
}

func (d *document) cut() *document {
	d.buf.WriteByte(lf)
	d.buf.Write([]byte{gs, 'V', 'A', 0x10})
	return d
}

func (d *document) bytes() []byte {
	return d.buf.Bytes()
}
