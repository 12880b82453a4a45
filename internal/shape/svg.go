package shape

import (
	"strconv"
	"strings"
	"unicode"

	"backend-shaperun/internal/apperr"
)

// ParseSVGPath reads a polyline path (M, L, H, V, Z and their relative
// forms) drawn on a y-down canvas and returns y-up points. Only the first
// subpath is used.
func ParseSVGPath(d string) ([]Point, bool, error) {
	tokens := tokenizeSVG(d)
	var (
		points  []Point
		cur     Point
		cmd     byte
		closed  bool
		started bool
	)
	next := func(i *int) (float64, error) {
		if *i >= len(tokens) {
			return 0, apperr.New(apperr.InvalidShape, "svg path ends mid-command")
		}
		v, err := strconv.ParseFloat(tokens[*i], 64)
		if err != nil {
			return 0, apperr.Wrap(apperr.InvalidShape, err, "svg path has a malformed number")
		}
		*i++
		return v, nil
	}

	for i := 0; i < len(tokens); {
		tok := tokens[i]
		if isCommand(tok) {
			cmd = tok[0]
			i++
			if cmd == 'Z' || cmd == 'z' {
				closed = true
				break
			}
			if (cmd == 'M' || cmd == 'm') && started {
				break
			}
			continue
		}
		if cmd == 0 {
			return nil, false, apperr.New(apperr.InvalidShape, "svg path must start with a command")
		}

		switch cmd {
		case 'M', 'L', 'm', 'l':
			x, err := next(&i)
			if err != nil {
				return nil, false, err
			}
			y, err := next(&i)
			if err != nil {
				return nil, false, err
			}
			if cmd == 'm' || cmd == 'l' {
				x, y = cur.X+x, cur.Y+y
			}
			cur = Point{X: x, Y: y}
			// implicit lineto after the first moveto pair
			if cmd == 'M' {
				cmd = 'L'
			} else if cmd == 'm' {
				cmd = 'l'
			}
		case 'H', 'h':
			x, err := next(&i)
			if err != nil {
				return nil, false, err
			}
			if cmd == 'h' {
				x += cur.X
			}
			cur.X = x
		case 'V', 'v':
			y, err := next(&i)
			if err != nil {
				return nil, false, err
			}
			if cmd == 'v' {
				y += cur.Y
			}
			cur.Y = y
		default:
			return nil, false, apperr.Newf(apperr.InvalidShape, "unsupported svg command %q", string(cmd))
		}
		points = append(points, cur)
		started = true
	}

	if len(points) == 0 {
		return nil, false, apperr.New(apperr.InvalidShape, "svg path has no points")
	}
	for i := range points {
		points[i].Y = -points[i].Y
	}
	return points, closed, nil
}

func isCommand(tok string) bool {
	return len(tok) == 1 && unicode.IsLetter(rune(tok[0]))
}

func tokenizeSVG(d string) []string {
	var (
		tokens []string
		sb     strings.Builder
	)
	flush := func() {
		if sb.Len() > 0 {
			tokens = append(tokens, sb.String())
			sb.Reset()
		}
	}
	for i, r := range d {
		switch {
		case unicode.IsLetter(r) && r != 'e' && r != 'E':
			flush()
			tokens = append(tokens, string(r))
		case r == ',' || unicode.IsSpace(r):
			flush()
		case r == '-' && sb.Len() > 0 && d[i-1] != 'e' && d[i-1] != 'E':
			flush()
			sb.WriteRune(r)
		default:
			sb.WriteRune(r)
		}
	}
	flush()
	return tokens
}
