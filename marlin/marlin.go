package marlin

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
)

type Position struct {
	X float64
	Y float64
	Z float64
	E float64
}

type StatusUpdate interface {
	IsStatusUpdate()
}

// Processing is the "echo:busy: processing" keepalive.
type Processing struct {
}

func (p *Processing) IsStatusUpdate() {}

type Count struct {
	X int
	Y int
	Z int
}

// Status is an M114 position report.
type Status struct {
	Position *Position
	Count    *Count
}

func (s *Status) IsStatusUpdate() {}

type Ack struct {
}

func (a *Ack) String() string {
	return "ok"
}

func (a *Ack) IsStatusUpdate() {}

type Ping struct {
	Payload string
}

func (p *Ping) IsStatusUpdate() {}

type ActiveID struct {
	ID string
}

func (a *ActiveID) IsStatusUpdate() {}

// Echo is any echo: line other than the busy keepalive.
type Echo struct {
	Message string
}

func (e *Echo) IsStatusUpdate() {}

// Fault is a firmware "Error:" line.
type Fault struct {
	Message string
}

func (f *Fault) IsStatusUpdate() {}

type Reading struct {
	Current float64
	Target  float64
}

// Temperature is an M105 report, optionally prefixed by "ok".
type Temperature struct {
	Ack    bool
	Hotend *Reading
	Bed    *Reading
}

func (t *Temperature) IsStatusUpdate() {}

type Token int

const (
	Return Token = iota
	Space
	Newline
	Colon
	Comma
	Slash
	At
	Identifier
	Float
)

var tokens = []string{
	Return:     "RETURN",
	Space:      "SPACE",
	Newline:    "NEWLINE",
	Colon:      ":",
	Comma:      ",",
	Slash:      "/",
	At:         "@",
	Identifier: "IDENT",
	Float:      "FLOAT",
}

func (t Token) String() string {
	return tokens[t]
}

type Lexer struct {
	pos int
	rdr *bufio.Reader
}

func NewLexer(r io.Reader) *Lexer {
	return &Lexer{
		rdr: bufio.NewReader(r),
		pos: 0,
	}
}

// Lex returns the next token. End of input reads as Newline.
func (l *Lexer) Lex() (int, Token, string) {
	for {
		l.pos++
		r, _, err := l.rdr.ReadRune()
		if err != nil {
			return l.pos, Newline, Newline.String()
		}
		switch r {
		case ' ', '\t':
			return l.pos, Space, Space.String()
		case '\n':
			return l.pos, Newline, Newline.String()
		case '\r':
			return l.pos, Return, Return.String()
		case ':':
			return l.pos, Colon, Colon.String()
		case ',':
			return l.pos, Comma, Comma.String()
		case '/':
			return l.pos, Slash, Slash.String()
		case '@':
			return l.pos, At, At.String()
		default:
			startPos := l.pos
			if isFloatPart(r) {
				l.backup()
				return startPos, Float, l.lexWhile(isFloatPart)
			}
			if isIdentPart(r) {
				l.backup()
				return startPos, Identifier, l.lexWhile(isIdentPart)
			}
		}
	}
}

func isFloatPart(r rune) bool {
	return unicode.IsDigit(r) || r == '.' || r == '-'
}

func isIdentPart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func (l *Lexer) lexWhile(accept func(rune) bool) string {
	var lit strings.Builder
	for {
		r, _, err := l.rdr.ReadRune()
		if err != nil {
			return lit.String()
		}
		if !accept(r) {
			l.backup()
			return lit.String()
		}
		l.pos++
		lit.WriteRune(r)
	}
}

// rest returns the unread remainder of the line.
func (l *Lexer) rest() string {
	b, _ := io.ReadAll(l.rdr)
	return strings.TrimSpace(string(b))
}

func (l *Lexer) backup() {
	l.pos--
	_ = l.rdr.UnreadRune()
}

type lexeme struct {
	pos int
	tok Token
	lit string
}

type Parser struct {
	lexer  *Lexer
	peeked *lexeme
}

func NewParser(r io.Reader) *Parser {
	return &Parser{
		lexer: NewLexer(r),
	}
}

// ParseLine parses a single response line.
func ParseLine(line string) (StatusUpdate, error) {
	return NewParser(strings.NewReader(line)).Parse()
}

func (p *Parser) errorf(pos int, format string, args ...interface{}) error {
	return fmt.Errorf("%d: %s", pos, fmt.Sprintf(format, args...))
}

// next skips blanks and returns the next meaningful token.
func (p *Parser) next() (int, Token, string) {
	if p.peeked != nil {
		l := p.peeked
		p.peeked = nil
		return l.pos, l.tok, l.lit
	}
	for {
		pos, tok, lit := p.lexer.Lex()
		if tok != Space && tok != Return {
			return pos, tok, lit
		}
	}
}

func (p *Parser) unread(pos int, tok Token, lit string) {
	p.peeked = &lexeme{pos: pos, tok: tok, lit: lit}
}

func (p *Parser) expect(want Token) error {
	pos, tok, lit := p.next()
	if tok != want {
		return p.errorf(pos, "expected %s, got %q", want, lit)
	}
	return nil
}

func (p *Parser) parseFloat() (float64, error) {
	pos, tok, lit := p.next()
	if tok != Float {
		return 0, p.errorf(pos, "expected float, got %q", lit)
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return 0, p.errorf(pos, "expected float, got %q", lit)
	}
	return f, nil
}

// parsePosition reads "X:<f> Y:<f> Z:<f> [E:<f>]" after the leading X
// identifier. Axis letters match in either case.
func (p *Parser) parsePosition() (*Position, error) {
	ret := new(Position)
	axes := []struct {
		name string
		dst  *float64
	}{{"X", &ret.X}, {"Y", &ret.Y}, {"Z", &ret.Z}, {"E", &ret.E}}
	for i, ax := range axes {
		if i > 0 {
			pos, tok, lit := p.next()
			named := tok == Identifier && strings.EqualFold(lit, ax.name)
			if i == 3 && !named {
				p.unread(pos, tok, lit)
				return ret, nil
			}
			if !named {
				return nil, p.errorf(pos, "expected %s, got %q", ax.name, lit)
			}
		}
		if err := p.expect(Colon); err != nil {
			return nil, err
		}
		f, err := p.parseFloat()
		if err != nil {
			return nil, err
		}
		*ax.dst = f
	}
	return ret, nil
}

func (p *Parser) parseCount() *Count {
	ret := new(Count)
	vals := make([]int, 0, 3)
scan:
	for len(vals) < 3 {
		_, tok, lit := p.next()
		switch tok {
		case Newline:
			break scan
		case Float:
			if v, err := strconv.Atoi(lit); err == nil {
				vals = append(vals, v)
			}
		}
	}
	for i, v := range vals {
		switch i {
		case 0:
			ret.X = v
		case 1:
			ret.Y = v
		case 2:
			ret.Z = v
		}
	}
	return ret
}

func (p *Parser) parseStatus() (*Status, error) {
	s := new(Status)
	var err error
	s.Position, err = p.parsePosition()
	if err != nil {
		return nil, err
	}
	for {
		_, tok, lit := p.next()
		switch tok {
		case Newline:
			return s, nil
		case Identifier:
			if strings.EqualFold(lit, "Count") {
				s.Count = p.parseCount()
				return s, nil
			}
		}
	}
}

// parseReading reads "<current> [/<target>]" after the colon.
func (p *Parser) parseReading() (*Reading, error) {
	cur, err := p.parseFloat()
	if err != nil {
		return nil, err
	}
	ret := &Reading{Current: cur}
	pos, tok, lit := p.next()
	if tok != Slash {
		p.unread(pos, tok, lit)
		return ret, nil
	}
	ret.Target, err = p.parseFloat()
	return ret, err
}

// parseTemperature handles "T:25.0 /0.0 B:24.9 /60.0 @:0 B@:0" once the
// first identifier has been read.
func (p *Parser) parseTemperature(first string) (*Temperature, error) {
	ret := new(Temperature)
	tok, lit := Identifier, first
	for tok != Newline {
		if tok == Identifier && (lit == "T" || lit == "B") {
			pos, t, l := p.next()
			if t == Colon {
				r, err := p.parseReading()
				if err != nil {
					return nil, err
				}
				if lit == "T" {
					ret.Hotend = r
				} else {
					ret.Bed = r
				}
			} else {
				p.unread(pos, t, l)
			}
		}
		_, tok, lit = p.next()
	}
	if ret.Hotend == nil && ret.Bed == nil {
		return nil, fmt.Errorf("no temperature readings")
	}
	return ret, nil
}

func (p *Parser) Parse() (StatusUpdate, error) {
	pos, tok, lit := p.next()
	if tok != Identifier {
		return nil, p.errorf(pos, "expected identifier, got %q", lit)
	}
	switch lit {
	case "X", "x":
		return p.parseStatus()
	case "T", "B":
		return p.parseTemperature(lit)
	case "ok":
		_, tok, lit := p.next()
		if tok == Identifier && (lit == "T" || lit == "B") {
			t, err := p.parseTemperature(lit)
			if err != nil {
				return &Ack{}, nil
			}
			t.Ack = true
			return t, nil
		}
		return &Ack{}, nil
	case "echo":
		msg := strings.TrimPrefix(p.rest(), ":")
		if strings.HasPrefix(msg, "busy") {
			return &Processing{}, nil
		}
		return &Echo{Message: msg}, nil
	case "PING":
		return &Ping{Payload: strings.TrimPrefix(p.rest(), ":")}, nil
	case "ACTIVE_ID":
		return &ActiveID{ID: strings.TrimSpace(strings.TrimPrefix(p.rest(), ":"))}, nil
	case "Error":
		return &Fault{Message: strings.TrimPrefix(p.rest(), ":")}, nil
	}
	return nil, p.errorf(pos, "unknown identifier %q", lit)
}

// rest returns the remainder of the line, including a peeked token.
func (p *Parser) rest() string {
	var prefix string
	if p.peeked != nil {
		prefix = p.peeked.lit
		p.peeked = nil
	}
	return strings.TrimSpace(prefix + p.lexer.rest())
}
