package sniffer_test

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmsauth/internal/media/sniffer"
)

func TestDetectHead(t *testing.T) {
	cases := []struct {
		name string
		head []byte
		want sniffer.MediaType
		ext  string
	}{
		{"jpeg", []byte{0xff, 0xd8, 0xff, 0xe0, 0x00}, sniffer.TypeJPEG, "jpg"},
		{"png", []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0x00}, sniffer.TypePNG, "png"},
		{"gif", []byte("GIF89a\x01\x00"), sniffer.TypeGIF, "gif"},
		{"webp", []byte("RIFF\x24\x00\x00\x00WEBPVP8 "), sniffer.TypeWEBP, "webp"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := sniffer.DetectHead(tc.head)
			require.NoError(t, err)
			assert.Equal(t, tc.want, result.Type)
			assert.Equal(t, tc.ext, result.Extension())
		})
	}
}

func TestDetectHeadRejectsOtherContent(t *testing.T) {
	for name, head := range map[string][]byte{
		"empty": nil,
		"svg":   []byte(`<svg xmlns="http://www.w3.org/2000/svg"></svg>`),
		"text":  []byte("hello world"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := sniffer.DetectHead(head)
			assert.ErrorIs(t, err, sniffer.ErrUnknownType)
		})
	}
}

func TestDetectReturnsHead(t *testing.T) {
	payload := append([]byte("GIF87a"), bytes.Repeat([]byte{0x01}, 1024)...)

	result, head, err := sniffer.Detect(bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, sniffer.TypeGIF, result.Type)
	assert.Len(t, head, sniffer.HeadSize)
}

func TestMimeTypeFromHTTP(t *testing.T) {
	header := http.Header{}
	assert.Empty(t, sniffer.MimeTypeFromHTTP(header))

	header.Set("Content-Type", "Image/PNG; charset=binary")
	assert.Equal(t, "image/png", sniffer.MimeTypeFromHTTP(header))
}
