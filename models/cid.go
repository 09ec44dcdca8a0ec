package models

import (
	"math/big"
	"regexp"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/pkg/errors"
)

const PlaceholderImage = "/placeholder.png"

var ErrInvalidPrice = errors.New("price must be a non-negative integer or ether amount")

// NormalizeCID strips gateway prefixes and accidental duplication from a
// user or chain supplied content identifier.
func NormalizeCID(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(s) >= 90 {
		half := len(s) / 2
		if s[:half] == s[half:] {
			s = s[:half]
		}
	}
	s = strings.TrimPrefix(s, "ipfs://")
	s = strings.TrimPrefix(s, "ipfs/")
	if strings.Contains(s, "mypinata.cloud") || strings.Contains(s, "gateway.pinata.cloud") {
		if parts := strings.SplitN(s, "/ipfs/", 2); len(parts) == 2 {
			s = parts[1]
		} else {
			chunks := strings.Split(s, "/")
			s = chunks[len(chunks)-1]
		}
	}
	return s
}

// ValidCID reports whether s parses as a CIDv0 or CIDv1.
func ValidCID(s string) bool {
	root := strings.SplitN(s, "/", 2)[0]
	_, err := cid.Decode(root)
	return err == nil
}

// ImageURL resolves cid against gateway. Unparseable or empty cids map to
// PlaceholderImage.
func ImageURL(gateway, c string) string {
	c = NormalizeCID(c)
	if c == "" || !ValidCID(c) {
		return PlaceholderImage
	}
	if !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}
	return gateway + c
}

var weiPattern = regexp.MustCompile(`^\d+$`)

var weiPerEther = new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// ParsePrice accepts a bare integer amount of wei or a decimal amount of
// ether and returns the wei value as a decimal string.
func ParsePrice(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "0", nil
	}
	if weiPattern.MatchString(s) {
		v, _ := new(big.Int).SetString(s, 10)
		return v.String(), nil
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok || r.Sign() < 0 {
		return "", ErrInvalidPrice
	}
	r.Mul(r, weiPerEther)
	if !r.IsInt() {
		return "", errors.Wrapf(ErrInvalidPrice, "%q has more than 18 decimals", s)
	}
	return r.Num().String(), nil
}
