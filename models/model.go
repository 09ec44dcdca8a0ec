package models

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrMissingModelID = errors.New("model id is required")
	ErrNameTooLong    = errors.New("model name exceeds 31 bytes")
	ErrInvalidModelID = errors.New("model id must be 32 bytes of hex")
)

// ModelID is a bytes32 registry key rendered as 0x-prefixed lowercase hex.
type ModelID string

type Category string

const (
	CategoryYield   Category = "yield"
	CategorySoil    Category = "soil"
	CategoryPest    Category = "pest"
	CategoryWeather Category = "weather"
	CategoryOther   Category = "other"
	CategoryGeneral Category = "general"
)

var categoryLabels = map[Category]string{
	CategoryYield:   "Yield Prediction",
	CategorySoil:    "Soil Health",
	CategoryPest:    "Pest Detection",
	CategoryWeather: "Weather Forecast",
	CategoryOther:   "Other",
	CategoryGeneral: "General",
}

// NormalizeCategory maps empty or unknown values to CategoryGeneral.
func NormalizeCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := categoryLabels[c]; ok {
		return c
	}
	return CategoryGeneral
}

func CategoryLabel(c Category) string {
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	return categoryLabels[CategoryGeneral]
}

type ModelRecord struct {
	ID       ModelID  `json:"id"`                // bytes32 key
	Name     string   `json:"name"`              // decoded from id
	Provider string   `json:"provider"`          // registering address
	CID      string   `json:"cid"`               // off-chain artifact
	Price    string   `json:"price"`             // wei, decimal string
	Active   bool     `json:"active"`            // lifecycle flag
	Category Category `json:"category"`          // see Category
	TxHash   string   `json:"tx_hash,omitempty"` // set by local registrations only
}

// Normalize fills the defaults a record read from the chain may lack.
func (m *ModelRecord) Normalize() {
	m.ID = ModelID(strings.ToLower(string(m.ID)))
	if m.Name == "" {
		if name, err := DecodeModelName(m.ID); err == nil {
			m.Name = name
		}
	}
	if m.Price == "" {
		m.Price = "0"
	}
	m.Category = NormalizeCategory(string(m.Category))
	m.CID = NormalizeCID(m.CID)
}

// Overlay returns m with every non-zero field of patch applied on top.
// Active is always taken from patch.
func (m ModelRecord) Overlay(patch ModelRecord) ModelRecord {
	if patch.ID != "" {
		m.ID = patch.ID
	}
	if patch.Name != "" {
		m.Name = patch.Name
	}
	if patch.Provider != "" {
		m.Provider = patch.Provider
	}
	if patch.CID != "" {
		m.CID = patch.CID
	}
	if patch.Price != "" {
		m.Price = patch.Price
	}
	if patch.Category != "" {
		m.Category = patch.Category
	}
	if patch.TxHash != "" {
		m.TxHash = patch.TxHash
	}
	m.Active = patch.Active
	return m
}

// EncodeModelName packs a UTF-8 name into a zero padded bytes32 id.
// At most 31 bytes are accepted so the value stays null terminated.
func EncodeModelName(name string) (ModelID, error) {
	b := []byte(name)
	if len(b) > 31 {
		return "", ErrNameTooLong
	}
	var buf [32]byte
	copy(buf[:], b)
	return ModelIDFromBytes(buf), nil
}

func ModelIDFromBytes(b [32]byte) ModelID {
	return ModelID("0x" + hex.EncodeToString(b[:]))
}

// Bytes32 parses the id back into its raw form.
func (id ModelID) Bytes32() ([32]byte, error) {
	var out [32]byte
	s := strings.TrimPrefix(strings.TrimPrefix(string(id), "0x"), "0X")
	if len(s) != 64 {
		return out, ErrInvalidModelID
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, errors.Wrap(ErrInvalidModelID, err.Error())
	}
	copy(out[:], raw)
	return out, nil
}

// DecodeModelName returns the bytes of id up to the first zero byte.
func DecodeModelName(id ModelID) (string, error) {
	b, err := id.Bytes32()
	if err != nil {
		return "", err
	}
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n]), nil
}
