package ingest

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

func TestReadCSVTrimsHeadersAndRepairsRows(t *testing.T) {
	in := " Host , OS ,Rack\nweb1,linux,r1\nweb2,bsd\nweb3,linux,r3,extra\n"
	sheet, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, []string{"Host", "OS", "Rack"}, sheet.Headers)
	assert.Equal(t, [][]string{
		{"web1", "linux", "r1"},
		{"web2", "bsd", ""},
		{"web3", "linux", "r3"},
	}, sheet.Rows)
	require.Len(t, sheet.Warnings, 2)
	assert.Equal(t, 3, sheet.Warnings[0].Row)
	assert.Contains(t, sheet.Warnings[0].Message, "padded")
	assert.Contains(t, sheet.Warnings[1].Message, "truncated")
}

func TestReadCSVDecodesBOMInputs(t *testing.T) {
	plain := "Host,OS\nwéb1,linux\n"
	utf16, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().String(plain)
	require.NoError(t, err)

	for name, raw := range map[string][]byte{
		"utf8":     []byte(plain),
		"utf8-bom": append([]byte{0xEF, 0xBB, 0xBF}, plain...),
		"utf16le":  []byte(utf16),
	} {
		t.Run(name, func(t *testing.T) {
			sheet, err := ReadCSV(bytes.NewReader(raw))
			require.NoError(t, err)
			assert.Equal(t, []string{"Host", "OS"}, sheet.Headers)
			assert.Equal(t, []map[string]any{{"Host": "wéb1", "OS": "linux"}}, sheet.Records())
		})
	}
}

func TestReadCSVEmptyInput(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""))
	require.Error(t, err)

	sheet, err := ReadCSV(strings.NewReader("a,b\n"))
	require.NoError(t, err)
	assert.Empty(t, sheet.Rows)
}
