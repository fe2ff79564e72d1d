package codec_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stompd/stompd/codec"
	"github.com/stompd/stompd/frame"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := frame.New("send")
	f.Set("destination", "/queue/work")
	f.Body = []byte("hello")

	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, codec.DefaultMode)
	require.NoError(t, enc.Encode(f))

	dec := codec.NewDecoder(&buf)
	got, err := dec.Decode()
	require.NoError(t, err)

	require.Equal(t, "SEND", got.Command)
	v, ok := got.Get("destination")
	require.True(t, ok)
	require.Equal(t, "/queue/work", v)
	cl, ok := got.Get("content-length")
	require.True(t, ok)
	require.Equal(t, "5", cl)
	require.Equal(t, []byte("hello"), got.Body)
}

func TestDecodeWithoutContentLengthPreservesEmbeddedNewlines(t *testing.T) {
	raw := "SEND\ndestination:/queue/work\n\nline1\nline2\x00\n"
	dec := codec.NewDecoder(bytes.NewReader([]byte(raw)))
	got, err := dec.Decode()
	require.NoError(t, err)
	require.Equal(t, []byte("line1\nline2"), got.Body)
}

func TestDecodeNoTrailingNewlineMode(t *testing.T) {
	raw := "CONNECT\n\nbody\x00"
	dec := codec.NewDecoder(bytes.NewReader([]byte(raw)))
	got, err := dec.Decode()
	require.NoError(t, err)
	require.Equal(t, []byte("body"), got.Body)
}

func TestHeaderKeysLowercasedOnIngress(t *testing.T) {
	raw := "SUBSCRIBE\nDestination: /topic/news\nReceipt: r1\n\n\x00"
	dec := codec.NewDecoder(bytes.NewReader([]byte(raw)))
	got, err := dec.Decode()
	require.NoError(t, err)
	v, ok := got.Get("destination")
	require.True(t, ok)
	require.Equal(t, "/topic/news", v)
}

func TestEncodeUppercasesCommand(t *testing.T) {
	f := frame.New("connected")
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, codec.Mode{TrailingNewline: false})
	require.NoError(t, enc.Encode(f))
	require.Contains(t, buf.String(), "CONNECTED\n")
}
