package fs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// SizeSuffix is a byte count which reads and prints with binary
// suffixes, eg "8Mi". Negative values print as "off".
type SizeSuffix int64

// Binary multipliers for SizeSuffix
const (
	SizeSuffixBase SizeSuffix = 1 << (iota * 10)
	Kibi
	Mebi
	Gibi
	Tebi
)

// units from largest to smallest
var sizeUnits = []struct {
	letter byte
	size   SizeSuffix
}{
	{'T', Tebi},
	{'G', Gibi},
	{'M', Mebi},
	{'K', Kibi},
}

// format returns the scaled number and its prefix ("Ki", "Mi", ...)
func (x SizeSuffix) format() (number, prefix string) {
	if x < 0 {
		return "off", ""
	}
	value := float64(x)
	for _, u := range sizeUnits {
		if x >= u.size {
			value = float64(x) / float64(u.size)
			prefix = string(u.letter) + "i"
			break
		}
	}
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10), prefix
	}
	return strconv.FormatFloat(value, 'f', 3, 64), prefix
}

// String returns x as "10Mi"
func (x SizeSuffix) String() string {
	number, prefix := x.format()
	return number + prefix
}

// ByteUnit returns x as "10 MiB"
func (x SizeSuffix) ByteUnit() string {
	number, prefix := x.format()
	if x < 0 {
		return number
	}
	return number + " " + prefix + "B"
}

// multiplier returns the size for a unit letter
func multiplier(letter byte) (SizeSuffix, bool) {
	for _, u := range sizeUnits {
		if u.letter == letter || u.letter+('a'-'A') == letter {
			return u.size, true
		}
	}
	return 0, false
}

// Set parses s into x
//
// A bare number counts bytes and a trailing "B" alone means bytes
// too. K, M, G and T are binary multipliers which may be followed by
// "i" or "iB". "off" sets -1.
func (x *SizeSuffix) Set(s string) error {
	if s == "" {
		return errors.New("empty string")
	}
	if strings.EqualFold(s, "off") {
		*x = -1
		return nil
	}
	number, scale := s, SizeSuffixBase
	switch {
	case strings.HasSuffix(number, "iB"), strings.HasSuffix(number, "ib"):
		number = number[:len(number)-2]
	case strings.HasSuffix(number, "i"), strings.HasSuffix(number, "I"):
		number = number[:len(number)-1]
	case strings.HasSuffix(number, "B"), strings.HasSuffix(number, "b"):
		number = number[:len(number)-1]
		// bytes, no unit letter follows
		if number == "" || !strings.ContainsAny(number[len(number)-1:], "0123456789.") {
			return errors.Errorf("bad suffix %q", s)
		}
	}
	if number == "" {
		return errors.Errorf("bad suffix %q", s)
	}
	if last := number[len(number)-1]; last != '.' && (last < '0' || last > '9') {
		m, ok := multiplier(last)
		if !ok {
			return errors.Errorf("bad suffix %q", last)
		}
		scale = m
		number = number[:len(number)-1]
	} else if len(number) != len(s) && !strings.HasSuffix(s, "B") && !strings.HasSuffix(s, "b") {
		// an "i" with no unit letter before it
		return errors.Errorf("bad suffix %q", s)
	}
	value, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return err
	}
	if value < 0 {
		return errors.Errorf("size can't be negative %q", s)
	}
	*x = SizeSuffix(value * float64(scale))
	return nil
}

// Type of the value
func (x *SizeSuffix) Type() string {
	return "SizeSuffix"
}

// Scan implements the fmt.Scanner interface
func (x *SizeSuffix) Scan(s fmt.ScanState, ch rune) error {
	token, err := s.Token(true, nil)
	if err != nil {
		return err
	}
	return x.Set(string(token))
}
