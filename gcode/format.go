package gcode

import (
	"fmt"
	"github.com/shopspring/decimal"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Params are the named values substituted into a command. Values may be
// numbers, decimal.Decimal, strings or fmt.Stringers. A nil value counts as absent.
type Params map[string]any

// Spec describes one logical command.
type Spec struct {
	Name string
	Desc string
	// Template is a fixed G-code line with {name} placeholders.
	Template string
	// Base is the leading token for parameterised commands; Params lists the
	// accepted letters in the order they are emitted.
	Base      string
	Params    []string
	WaitAfter bool
	// Barrier requests a motion-queue drain before waiting.
	Barrier bool
}

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Format renders the G-code line for the given parameters.
func (s Spec) Format(p Params) (string, error) {
	if s.Template != "" {
		return s.formatTemplate(p)
	}
	var b strings.Builder
	b.WriteString(s.Base)
	for _, letter := range s.Params {
		v, ok := p[letter]
		if !ok || v == nil {
			continue
		}
		lit, err := FormatValue(v)
		if err != nil {
			return "", fmt.Errorf("%s %s: %w", s.Name, letter, err)
		}
		b.WriteByte(' ')
		b.WriteString(letter)
		b.WriteString(lit)
	}
	return b.String(), nil
}

func (s Spec) formatTemplate(p Params) (string, error) {
	var err error
	out := placeholder.ReplaceAllStringFunc(s.Template, func(m string) string {
		if err != nil {
			return m
		}
		name := m[1 : len(m)-1]
		v, ok := p[name]
		if !ok || v == nil {
			err = fmt.Errorf("%w: %s: missing placeholder %q", ErrFormat, s.Name, name)
			return m
		}
		lit, ferr := FormatValue(v)
		if ferr != nil {
			err = fmt.Errorf("%s %s: %w", s.Name, name, ferr)
			return m
		}
		return lit
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// FormatValue renders a parameter value without float artifacts: 12.5 -> "12.5", 1500.0 -> "1500".
func FormatValue(v any) (string, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x.String(), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "", fmt.Errorf("%w: non-finite value %v", ErrFormat, x)
		}
		return decimal.NewFromFloat(x).String(), nil
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return "", fmt.Errorf("%w: non-finite value %v", ErrFormat, x)
		}
		return decimal.NewFromFloat32(x).String(), nil
	case int:
		return strconv.Itoa(x), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint:
		return strconv.FormatUint(uint64(x), 10), nil
	case string:
		return checkLiteral(x)
	case fmt.Stringer:
		return checkLiteral(x.String())
	}
	return "", fmt.Errorf("%w: unsupported value type %T", ErrFormat, v)
}

// checkLiteral rejects text that would split or comment out the G-code line.
func checkLiteral(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty value", ErrFormat)
	}
	if strings.ContainsAny(s, " \t\r\n;") {
		return "", fmt.Errorf("%w: malformed value %q", ErrFormat, s)
	}
	return s, nil
}

// IsMotion reports whether a G-code line starts with a motion or homing token.
func IsMotion(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "G0", "G00", "G1", "G01", "G28":
		return true
	}
	return false
}
