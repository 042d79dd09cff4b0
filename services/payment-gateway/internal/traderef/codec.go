// services/payment-gateway/internal/traderef/codec.go
package traderef

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// MaxLength is the longest merchant order number the gateway accepts from us.
const MaxLength = 20

const (
	separator       = '_'
	legacySeparator = 'T'
	padWidth        = 2
	alphabet        = "0123456789abcdefghijklmnopqrstuvwxyz"
)

var ErrUnsupportedID = errors.New("transaction id cannot be encoded as a trade reference")

// Codec maps transaction ids to short merchant order numbers and back.
//
// Current references look like `<id>_<suffix>`, or `_<base36 id>_<suffix>` for
// long numeric ids. The suffix is a base-36 timestamp plus a random pad and
// only keeps repeated checkout attempts distinct at the gateway; decoding
// ignores it. References issued by the previous generation look like
// `<digits>T<digits>` and are still decoded.
type Codec struct {
	now        func() time.Time
	randIntN   func(n int) int
	onLegacyID func()
}

type Option func(*Codec)

// WithClock sets the time source used for the suffix.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// WithRand sets the source of the random pad.
func WithRand(intN func(n int) int) Option {
	return func(c *Codec) { c.randIntN = intN }
}

// WithLegacyHook is called every time a legacy reference is decoded.
func WithLegacyHook(fn func()) Option {
	return func(c *Codec) { c.onLegacyID = fn }
}

func NewCodec(opts ...Option) *Codec {
	c := &Codec{
		now:        time.Now,
		randIntN:   rand.Intn,
		onLegacyID: func() {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode returns a reference of at most MaxLength characters drawn from
// [0-9A-Za-z_]. Supported ids are alphanumeric strings of 1 to 19
// characters and decimal numbers that fit in a uint64.
func (c *Codec) Encode(transactionID string) (string, error) {
	if transactionID == "" || !isAlnum(transactionID) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedID, transactionID)
	}

	suffix := c.suffix()
	full := len(transactionID) + 1 + len(suffix)

	var head string
	switch {
	case full <= MaxLength:
		head = transactionID
	case isCompactable(transactionID):
		n, _ := strconv.ParseUint(transactionID, 10, 64)
		head = string(separator) + strconv.FormatUint(n, 36)
	case len(transactionID) < MaxLength:
		head = transactionID
	default:
		return "", fmt.Errorf("%w: %q is longer than %d characters", ErrUnsupportedID, transactionID, MaxLength-1)
	}

	// Trim from the front so the random pad and the fastest-moving timestamp
	// digits survive. A 19 character alphanumeric id leaves no room at all.
	room := MaxLength - len(head) - 1
	if room < len(suffix) {
		suffix = suffix[len(suffix)-room:]
	}
	return head + string(separator) + suffix, nil
}

// Decode recovers the transaction id. It reports false for anything that is
// not a reference this codec, or its predecessor, could have produced.
func (c *Codec) Decode(ref string) (string, bool) {
	if ref == "" || len(ref) > MaxLength {
		return "", false
	}
	if id, ok := decodeCurrent(ref); ok {
		return id, true
	}
	if id, ok := decodeLegacy(ref); ok {
		c.onLegacyID()
		return id, true
	}
	return "", false
}

func decodeCurrent(ref string) (string, bool) {
	if strings.IndexByte(ref, separator) < 0 {
		return "", false
	}

	if ref[0] == separator {
		rest := ref[1:]
		i := strings.IndexByte(rest, separator)
		if i <= 0 || !isAlnum(rest[i+1:]) {
			return "", false
		}
		n, err := strconv.ParseUint(rest[:i], 36, 64)
		if err != nil {
			return "", false
		}
		return strconv.FormatUint(n, 10), true
	}

	i := strings.IndexByte(ref, separator)
	id, suffix := ref[:i], ref[i+1:]
	if !isAlnum(id) || !isAlnum(suffix) {
		return "", false
	}
	return id, true
}

func decodeLegacy(ref string) (string, bool) {
	i := strings.IndexByte(ref, legacySeparator)
	if i <= 0 {
		return "", false
	}
	id, stamp := ref[:i], ref[i+1:]
	if !isDigits(id) || !isDigits(stamp) {
		return "", false
	}
	return id, true
}

func (c *Codec) suffix() string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(c.now().Unix(), 36))
	for i := 0; i < padWidth; i++ {
		b.WriteByte(alphabet[c.randIntN(len(alphabet))])
	}
	return b.String()
}

// isCompactable reports whether a numeric id survives a base-36 round trip.
func isCompactable(id string) bool {
	if !isDigits(id) || id[0] == '0' {
		return false
	}
	_, err := strconv.ParseUint(id, 10, 64)
	return err == nil
}

// isAlnum accepts the empty string; callers check length separately.
func isAlnum(s string) bool {
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if !('0' <= ch && ch <= '9' || 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z') {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
