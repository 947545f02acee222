package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fragment(last bool, body []byte) []byte {
	header := uint32(len(body))
	if last {
		header |= lastFragmentBit
	}
	out := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(out, header)
	return append(out, body...)
}

func TestReadRecord(t *testing.T) {
	t.Run("SingleFragment", func(t *testing.T) {
		r := bytes.NewReader(MakeRecord([]byte("hello")))

		rec, err := ReadRecord(r, 0)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), rec)
	})

	t.Run("ReassemblesFragments", func(t *testing.T) {
		var stream []byte
		stream = append(stream, fragment(false, []byte("net"))...)
		stream = append(stream, fragment(false, []byte("work "))...)
		stream = append(stream, fragment(true, []byte("class"))...)

		rec, err := ReadRecord(bytes.NewReader(stream), 0)
		require.NoError(t, err)
		assert.Equal(t, "network class", string(rec))
	})

	t.Run("BackToBackRecords", func(t *testing.T) {
		var stream []byte
		stream = append(stream, MakeRecord([]byte("a"))...)
		stream = append(stream, MakeRecord([]byte("bb"))...)
		r := bytes.NewReader(stream)

		first, err := ReadRecord(r, 0)
		require.NoError(t, err)
		second, err := ReadRecord(r, 0)
		require.NoError(t, err)

		assert.Equal(t, "a", string(first))
		assert.Equal(t, "bb", string(second))

		_, err = ReadRecord(r, 0)
		assert.Equal(t, io.EOF, err)
	})

	t.Run("RejectsOversizedRecord", func(t *testing.T) {
		r := bytes.NewReader(MakeRecord(make([]byte, 64)))

		_, err := ReadRecord(r, 32)
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("RejectsOversizedAcrossFragments", func(t *testing.T) {
		var stream []byte
		stream = append(stream, fragment(false, make([]byte, 20))...)
		stream = append(stream, fragment(true, make([]byte, 20))...)

		_, err := ReadRecord(bytes.NewReader(stream), 32)
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("TruncatedBody", func(t *testing.T) {
		data := MakeRecord([]byte("truncated"))
		_, err := ReadRecord(bytes.NewReader(data[:7]), 0)
		require.Error(t, err)
		assert.NotEqual(t, io.EOF, err)
	})
}

func TestWriteRecord(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRecord(&buf, []byte{1, 2, 3}))

	header := binary.BigEndian.Uint32(buf.Bytes()[:4])
	assert.Equal(t, uint32(lastFragmentBit|3), header)
	assert.Equal(t, []byte{1, 2, 3}, buf.Bytes()[4:])
}
