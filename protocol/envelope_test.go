package protocol

import (
	"bufio"
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	e, err := NewEnvelope(TypeDocumentUpdate, DocumentUpdatePayload{
		FileID: "f1",
		Update: ByteArray{1, 2, 3},
	}, 1000)
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, e); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	got, err := ReadFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if got.Type != TypeDocumentUpdate || got.Timestamp != 1000 {
		t.Errorf("unexpected envelope: %+v", got)
	}

	var payload DocumentUpdatePayload
	if err := got.Decode(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.FileID != "f1" || !bytes.Equal(payload.Update, []byte{1, 2, 3}) {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestReadFrameSkipsEmptyLines(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("\n\n")
	e, _ := NewEnvelope(TypeError, ErrorPayload{Message: "x"}, 1)
	_ = WriteFrame(&buf, e)

	got, err := ReadFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if got.Type != TypeError {
		t.Errorf("expected error frame, got %q", got.Type)
	}
}

func TestReadFrameReturnsMalformedFrameError(t *testing.T) {
	buf := bytes.NewBufferString("not json\n")
	_, err := ReadFrame(bufio.NewReader(buf))
	if err == nil {
		t.Fatal("expected an error for malformed frame")
	}
}

func TestByteArrayMarshalsAsIntegerArray(t *testing.T) {
	data, err := ByteArray{0, 255, 128}.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != "[0,255,128]" {
		t.Errorf("expected integer array encoding, got %s", data)
	}
}

func TestChunkedStreamStillFrames(t *testing.T) {
	e1, _ := NewEnvelope(TypeClientJoined, ClientEventPayload{Name: "a", ID: "1"}, 1)
	e2, _ := NewEnvelope(TypeClientLeft, ClientEventPayload{Name: "a", ID: "1"}, 2)

	var whole bytes.Buffer
	_ = WriteFrame(&whole, e1)
	_ = WriteFrame(&whole, e2)

	// Simulate the stream arriving in small chunks by reading through a
	// bufio.Reader backed by the same bytes either way: bufio.Reader
	// handles partial underlying reads internally, so this exercises the
	// same splitting-on-\n logic regardless of how TCP chunks for real.
	r := bufio.NewReader(bytes.NewReader(whole.Bytes()))

	got1, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	got2, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if got1.Type != TypeClientJoined || got2.Type != TypeClientLeft {
		t.Errorf("unexpected frame order: %s, %s", got1.Type, got2.Type)
	}
}
