package scpi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// ErrEmptyReply is returned when a parser receives no data.
var ErrEmptyReply = errors.New("empty reply")

// DecodeLatin1 decodes an instrument reply as ISO-8859-1.
func DecodeLatin1(b []byte) string {
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

// UnpackResponse splits a comma separated reply into its fields. An empty
// reply yields nil.
func UnpackResponse(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	s := DecodeLatin1(b)
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return strings.Split(s, ", ")
}

// ParseInts converts a reply to int, or []int when it holds several fields.
func ParseInts(b []byte) (interface{}, error) {
	fields := UnpackResponse(b)
	if fields == nil {
		return nil, ErrEmptyReply
	}
	values := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		values[i] = v
	}
	if len(values) == 1 {
		return values[0], nil
	}
	return values, nil
}

// ParseFloats converts a reply to float64, or []float64 when it holds several fields.
func ParseFloats(b []byte) (interface{}, error) {
	fields := UnpackResponse(b)
	if fields == nil {
		return nil, ErrEmptyReply
	}
	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		values[i] = v
	}
	if len(values) == 1 {
		return values[0], nil
	}
	return values, nil
}

// ParseStrings returns a reply as string, or []string when it holds several fields.
func ParseStrings(b []byte) (interface{}, error) {
	fields := UnpackResponse(b)
	if fields == nil {
		return nil, ErrEmptyReply
	}
	if len(fields) == 1 {
		return fields[0], nil
	}
	return fields, nil
}

// AsInt extracts a scalar int from a parsed reply.
func AsInt(v interface{}) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case float64:
		return int(x), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(x))
	default:
		return 0, fmt.Errorf("expected a single integer, got %T", v)
	}
}

// AsFloat extracts a scalar float64 from a parsed reply.
func AsFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	default:
		return 0, fmt.Errorf("expected a single number, got %T", v)
	}
}

// AsString extracts a scalar string from a parsed reply.
func AsString(v interface{}) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case int:
		return strconv.Itoa(x), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	default:
		return "", fmt.Errorf("expected a single string, got %T", v)
	}
}

// Version is a firmware revision rendered in XX.xx form.
type Version float64

func (v Version) String() string {
	return fmt.Sprintf("%05.2f", float64(v))
}

// InstrumentID is the decoded *IDN? reply.
type InstrumentID struct {
	Manufacturer string  `json:"manufacturer"`
	Model        string  `json:"model"`
	Serial       string  `json:"serial"`
	Firmware     Version `json:"firmware"`
	Interface    Version `json:"interface"`
	USBFlash     Version `json:"usb_flash"`
}

// ParseInstrumentID decodes "<manufacturer>, <model>, <serial>, <fw>-<if>-<usb>".
func ParseInstrumentID(b []byte) (interface{}, error) {
	fields := UnpackResponse(b)
	if len(fields) < 4 {
		return nil, fmt.Errorf("identification needs 4 fields, got %d", len(fields))
	}

	parts := strings.Split(fields[3], "-")
	if len(parts) < 3 {
		return nil, fmt.Errorf("identification needs 3 versions, got %q", fields[3])
	}
	var versions [3]Version
	for i := range versions {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return nil, fmt.Errorf("version %d: %w", i, err)
		}
		versions[i] = Version(v)
	}

	return InstrumentID{
		Manufacturer: strings.TrimSpace(fields[0]),
		Model:        strings.TrimSpace(fields[1]),
		Serial:       strings.TrimSpace(fields[2]),
		Firmware:     versions[0],
		Interface:    versions[1],
		USBFlash:     versions[2],
	}, nil
}

// ArbDefinition is the decoded ARB<n>DEF? reply.
type ArbDefinition struct {
	Name          string `json:"name"`
	Interpolation string `json:"interpolation"`
	Length        int    `json:"length"`
}

// ParseArbDef decodes "<name>,<interpolation>,<length>". An empty reply yields
// a nil definition.
func ParseArbDef(b []byte) (interface{}, error) {
	s := strings.NewReplacer(" ", "", "\r", "", "\n", "").Replace(DecodeLatin1(b))
	if s == "" {
		return (*ArbDefinition)(nil), nil
	}
	fields := strings.Split(s, ",")
	if len(fields) < 3 {
		return nil, fmt.Errorf("arb definition needs 3 fields, got %q", s)
	}
	length, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, fmt.Errorf("arb length: %w", err)
	}
	return &ArbDefinition{Name: fields[0], Interpolation: fields[1], Length: length}, nil
}

// ParseBool accepts the 0/1 and ON/OFF forms instruments reply with.
func ParseBool(b []byte) (interface{}, error) {
	fields := UnpackResponse(b)
	if fields == nil {
		return nil, ErrEmptyReply
	}
	switch strings.ToUpper(strings.TrimSpace(fields[0])) {
	case "1", "ON":
		return true, nil
	case "0", "OFF":
		return false, nil
	default:
		return nil, fmt.Errorf("not a boolean: %q", fields[0])
	}
}
