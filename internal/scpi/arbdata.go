package scpi

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ArbData holds the samples of an arbitrary waveform.
type ArbData []int16

// ParseHexString folds groups of 4 hex digits into signed 16-bit samples.
// Blanks are ignored. A trailing partial group is an error.
func ParseHexString(s string) (ArbData, error) {
	s = strings.Join(strings.Fields(s), "")
	if rest := len(s) % 4; rest != 0 {
		return nil, fmt.Errorf("%d hex digits left after sample %d, expected groups of 4", rest, len(s)/4)
	}

	data := make(ArbData, 0, len(s)/4)
	for i := 0; i+4 <= len(s); i += 4 {
		v, err := strconv.ParseUint(s[i:i+4], 16, 16)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i/4, err)
		}
		data = append(data, int16(uint16(v)))
	}
	return data, nil
}

// ParseBlock decodes a definite length block "#<n><length><data>" holding
// big-endian samples.
func ParseBlock(b []byte) (ArbData, error) {
	if len(b) < 2 || b[0] != '#' {
		return nil, fmt.Errorf("not a block: missing '#' header")
	}
	ndigits := int(b[1] - '0')
	if ndigits < 1 || ndigits > 9 {
		return nil, fmt.Errorf("invalid block header digit %q", b[1])
	}
	if len(b) < 2+ndigits {
		return nil, fmt.Errorf("truncated block header")
	}

	payload := b[2+ndigits:]
	if length, err := strconv.Atoi(string(b[2 : 2+ndigits])); err == nil && length <= len(payload) {
		payload = payload[:length]
	}

	data := make(ArbData, len(payload)/2)
	for i := range data {
		data[i] = int16(binary.BigEndian.Uint16(payload[2*i:]))
	}
	return data, nil
}

// ParseArbData is the reply parser for ARB<n>? queries.
func ParseArbData(b []byte) (interface{}, error) {
	return ParseBlock(b)
}

// ReadArbFile reads an ARB data file. The first line carries the format,
// tab separated from optional header fields; only HEX is supported.
func ReadArbFile(r io.Reader) (ArbData, error) {
	br := bufio.NewReader(r)
	header, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read header: %w", err)
	}
	format := strings.Split(strings.TrimSpace(header), "\t")[0]
	if format != "HEX" {
		return nil, fmt.Errorf("the first line in the ARB data file should be: HEX")
	}

	body, err := io.ReadAll(br)
	if err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}
	return ParseHexString(string(body))
}

// Bytes returns the samples as big-endian 16-bit words.
func (a ArbData) Bytes() []byte {
	out := make([]byte, 2*len(a))
	for i, v := range a {
		binary.BigEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

// Block renders the samples as a definite length block.
func (a ArbData) Block() string {
	data := a.Bytes()
	length := strconv.Itoa(len(data))
	return fmt.Sprintf("#%d%s%s", len(length), length, data)
}

// HexString renders the samples as blank separated hex words.
func (a ArbData) HexString() string {
	words := make([]string, len(a))
	for i, v := range a {
		words[i] = fmt.Sprintf("%04X", uint16(v))
	}
	return strings.Join(words, " ")
}
