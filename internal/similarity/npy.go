package similarity

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sbinet/npyio/npy"
)

// maxElements caps the element count a member header may declare.
const maxElements = math.MaxInt32

// npyArray is one .npy member of a scipy sparse archive. Numeric payloads are
// decoded by npyio; string payloads are read from the tail of raw.
type npyArray struct {
	r        *npy.Reader
	dtype    string
	order    binary.ByteOrder
	kind     byte
	itemSize int
	n        int
	raw      []byte
}

func readNPY(r io.Reader) (*npyArray, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	nr, err := npy.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	descr := nr.Header.Descr
	if descr.Fortran && len(descr.Shape) > 1 {
		return nil, fmt.Errorf("%w: fortran-ordered npy array", ErrUnsupportedFormat)
	}
	n, err := elementCount(descr.Shape)
	if err != nil {
		return nil, err
	}
	arr := &npyArray{r: nr, dtype: descr.Type, n: n, raw: raw}
	if err := arr.parseDtype(); err != nil {
		return nil, err
	}
	if n > len(raw)/arr.itemSize {
		return nil, fmt.Errorf("%w: npy member declares %d %s values in %d bytes", ErrUnsupportedFormat, n, arr.dtype, len(raw))
	}
	return arr, nil
}

// elementCount is the product of shape; a zero-dimensional array holds one element.
func elementCount(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: npy shape %v", ErrUnsupportedFormat, shape)
		}
		if d != 0 && n > maxElements/d {
			return 0, fmt.Errorf("%w: npy shape %v is too large", ErrUnsupportedFormat, shape)
		}
		n *= d
	}
	return n, nil
}

func (a *npyArray) parseDtype() error {
	if len(a.dtype) < 3 {
		return fmt.Errorf("%w: npy dtype %q", ErrUnsupportedFormat, a.dtype)
	}
	switch a.dtype[0] {
	case '<', '|', '=':
		a.order = binary.LittleEndian
	case '>':
		a.order = binary.BigEndian
	default:
		return fmt.Errorf("%w: npy dtype %q", ErrUnsupportedFormat, a.dtype)
	}
	a.kind = a.dtype[1]
	size, err := strconv.Atoi(a.dtype[2:])
	if err != nil || size <= 0 {
		return fmt.Errorf("%w: npy dtype %q", ErrUnsupportedFormat, a.dtype)
	}
	a.itemSize = size
	if a.kind == 'U' {
		a.itemSize = size * 4
	}
	return nil
}

func decode[T any](a *npyArray) ([]T, error) {
	var vals []T
	if err := a.r.Read(&vals); err != nil {
		return nil, fmt.Errorf("%w: npy %s: %v", ErrUnsupportedFormat, a.dtype, err)
	}
	if len(vals) != a.n {
		return nil, fmt.Errorf("%w: npy %s has %d values, want %d", ErrUnsupportedFormat, a.dtype, len(vals), a.n)
	}
	return vals, nil
}

type integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

func decodeInts[T integer](a *npyArray) ([]int, error) {
	vals, err := decode[T](a)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(vals))
	for i, v := range vals {
		out[i] = int(v)
	}
	return out, nil
}

func (a *npyArray) ints() ([]int, error) {
	switch {
	case a.kind == 'i' && a.itemSize == 1:
		return decodeInts[int8](a)
	case a.kind == 'u' && a.itemSize == 1:
		return decodeInts[uint8](a)
	case a.kind == 'i' && a.itemSize == 2:
		return decodeInts[int16](a)
	case a.kind == 'u' && a.itemSize == 2:
		return decodeInts[uint16](a)
	case a.kind == 'i' && a.itemSize == 4:
		return decodeInts[int32](a)
	case a.kind == 'u' && a.itemSize == 4:
		return decodeInts[uint32](a)
	case a.kind == 'i' && a.itemSize == 8:
		return decodeInts[int64](a)
	case a.kind == 'u' && a.itemSize == 8:
		return decodeInts[uint64](a)
	}
	return nil, fmt.Errorf("%w: npy %s is not an integer type", ErrUnsupportedFormat, a.dtype)
}

func (a *npyArray) floats() ([]float64, error) {
	switch {
	case a.kind == 'i' || a.kind == 'u':
		ints, err := a.ints()
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(ints))
		for i, v := range ints {
			out[i] = float64(v)
		}
		return out, nil
	case a.kind == 'b' && a.itemSize == 1:
		bools, err := decode[bool](a)
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(bools))
		for i, v := range bools {
			if v {
				out[i] = 1
			}
		}
		return out, nil
	case a.kind == 'f' && a.itemSize == 4:
		vals, err := decode[float32](a)
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(vals))
		for i, v := range vals {
			out[i] = float64(v)
		}
		return out, nil
	case a.kind == 'f' && a.itemSize == 8:
		return decode[float64](a)
	}
	return nil, fmt.Errorf("%w: npy %s is not a numeric type", ErrUnsupportedFormat, a.dtype)
}

// text decodes the first element of a byte or unicode string array.
func (a *npyArray) text() (string, error) {
	if a.kind != 'S' && a.kind != 'a' && a.kind != 'U' {
		return "", fmt.Errorf("%w: npy %s is not a string type", ErrUnsupportedFormat, a.dtype)
	}
	if a.n == 0 {
		return "", nil
	}
	data := a.raw[len(a.raw)-a.n*a.itemSize:]
	b := data[:a.itemSize]
	if a.kind != 'U' {
		return string(bytes.TrimRight(b, "\x00")), nil
	}
	var sb strings.Builder
	for i := 0; i+4 <= len(b); i += 4 {
		r := rune(a.order.Uint32(b[i:]))
		if r == 0 {
			break
		}
		if !utf8.ValidRune(r) {
			r = utf8.RuneError
		}
		sb.WriteRune(r)
	}
	return sb.String(), nil
}
