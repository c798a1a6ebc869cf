package binlog

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPacket_LessThanMaxPacketSize(t *testing.T) {
	first, firstPayload := newPacket(10, 0)
	var seq uint8
	got, err := readPacket(bytes.NewReader(first[:headerSize+10]), &seq)
	require.NoError(t, err)
	assert.Equal(t, firstPayload, got)
	assert.Equal(t, uint8(1), seq)
}

func TestReadPacket_EqualToMaxPayloadSize(t *testing.T) {
	first, firstPayload := newPacket(maxPacketSize, 0)
	last, _ := newPacket(0, 1)
	var seq uint8
	got, err := readPacket(io.MultiReader(
		bytes.NewReader(first),
		bytes.NewReader(last[:headerSize]),
	), &seq)
	require.NoError(t, err)
	if !bytes.Equal(got, firstPayload) {
		t.Fatal("payload did not match")
	}
	assert.Equal(t, uint8(2), seq)
}

func TestReadPacket_MultipleOfMaxPayloadSize(t *testing.T) {
	first, firstPayload := newPacket(maxPacketSize, 0)
	second, secondPayload := newPacket(maxPacketSize, 1)
	last, _ := newPacket(0, 2)
	var seq uint8
	got, err := readPacket(io.MultiReader(
		bytes.NewReader(first),
		bytes.NewReader(second),
		bytes.NewReader(last[:headerSize]),
	), &seq)
	require.NoError(t, err)
	require.Len(t, got, 2*maxPacketSize)
	if !bytes.Equal(got[:maxPacketSize], firstPayload) {
		t.Fatal("first payload did not match")
	}
	if !bytes.Equal(got[maxPacketSize:], secondPayload) {
		t.Fatal("second payload did not match")
	}
}

func TestReadPacket_NotMultipleOfMaxPayloadSize(t *testing.T) {
	first, firstPayload := newPacket(maxPacketSize, 0)
	second, secondPayload := newPacket(maxPacketSize, 1)
	third, thirdPayload := newPacket(10, 2)
	var seq uint8
	got, err := readPacket(io.MultiReader(
		bytes.NewReader(first),
		bytes.NewReader(second),
		bytes.NewReader(third[:headerSize+10]),
	), &seq)
	require.NoError(t, err)
	if !bytes.Equal(got[:maxPacketSize], firstPayload) {
		t.Fatal("first payload did not match")
	}
	if !bytes.Equal(got[maxPacketSize:2*maxPacketSize], secondPayload) {
		t.Fatal("second payload did not match")
	}
	if !bytes.Equal(got[2*maxPacketSize:], thirdPayload) {
		t.Fatal("third payload did not match")
	}
}

func TestReadPacket_SequenceMismatch(t *testing.T) {
	p, _ := newPacket(10, 3)
	var seq uint8
	_, err := readPacket(bytes.NewReader(p), &seq)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
}

func TestReadPacket_Truncated(t *testing.T) {
	p, _ := newPacket(10, 0)
	var seq uint8
	_, err := readPacket(bytes.NewReader(p[:headerSize+5]), &seq)
	assert.Equal(t, io.ErrUnexpectedEOF, err)

	seq = 0
	_, err = readPacket(bytes.NewReader(nil), &seq)
	assert.Equal(t, io.EOF, err)
}

func TestWriter_RoundTrip(t *testing.T) {
	for _, size := range []int{0, 10, maxPacketSize - 1, maxPacketSize, maxPacketSize + 10} {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i)
		}
		var buf bytes.Buffer
		var wseq, rseq uint8
		w := newWriter(&buf, &wseq)
		_, err := w.Write(payload)
		require.NoError(t, err)
		require.NoError(t, w.Close())

		got, err := readPacket(&buf, &rseq)
		require.NoError(t, err, "size %d", size)
		assert.True(t, bytes.Equal(payload, got), "size %d", size)
		assert.Equal(t, wseq, rseq)
	}
}

func TestRemote_LivenessTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	bl := &Remote{conn: client, livenessWindow: 50 * time.Millisecond, dec: newDecoder(checksumAlgOff, true)}
	defer bl.Close()

	start := time.Now()
	_, err := bl.NextEvent()
	var le *LivenessTimeoutError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 50*time.Millisecond, le.Window)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRemote_NextEventMarkers(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		check   func(t *testing.T, err error)
	}{
		{"eof", []byte{eofMarker, 0, 0, 2, 0}, func(t *testing.T, err error) {
			assert.Equal(t, io.EOF, err)
		}},
		{"err", append([]byte{errMarker, 0xd4, 0x04, '#', 'H', 'Y', '0', '0', '0'}, "Could not find first log file name in binary log index file"...), func(t *testing.T, err error) {
			var se *ServerError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, uint16(1236), se.Code)
			assert.Equal(t, "HY000", se.State)
			assert.Equal(t, "Could not find first log file name in binary log index file", se.Message)
			var pe *ProtocolError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, "binlog: protocol error: server error 1236 (HY000): Could not find first log file name in binary log index file", pe.Error())
		}},
		{"unknown", []byte{0x07, 1, 2}, func(t *testing.T, err error) {
			var pe *ProtocolError
			require.ErrorAs(t, err, &pe)
		}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			client, server := net.Pipe()
			defer server.Close()
			bl := &Remote{conn: client, hs: handshake{capabilityFlags: capProtocol41}, dec: newDecoder(checksumAlgOff, true)}
			defer bl.Close()
			go func() {
				var seq uint8
				w := newWriter(server, &seq)
				_, _ = w.Write(test.payload)
				_ = w.Close()
			}()
			_, err := bl.NextEvent()
			test.check(t, err)
		})
	}
}

// Helpers ---

func newPacket(size int, seq byte) (packet, payload []byte) {
	b := make([]byte, headerSize+maxPacketSize)
	b[0] = byte(size)
	b[1] = byte(size >> 8)
	b[2] = byte(size >> 16)
	b[3] = seq
	// payload markers
	b[4] = 2*seq + 1
	b[len(b)-1] = 2*seq + 2
	return b, b[4 : 4+size]
}
