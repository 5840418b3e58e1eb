package bus

import "testing"

func TestTryParseMessageFrame(t *testing.T) {
	input := "*3\r\n$7\r\nmessage\r\n$15\r\ntimeline:public\r\n$2\r\n{}\r\n"
	frame := TryParse([]byte(input))

	if frame.Kind != KindMessage {
		t.Fatalf("Kind = %v, want KindMessage", frame.Kind)
	}
	if frame.Channel != "timeline:public" {
		t.Fatalf("Channel = %q, want timeline:public", frame.Channel)
	}
	if frame.Payload != "{}" {
		t.Fatalf("Payload = %q, want {}", frame.Payload)
	}
	if len(frame.Leftover) != 0 {
		t.Fatalf("Leftover = %q, want empty", frame.Leftover)
	}
}

func TestTryParseSubscribeAck(t *testing.T) {
	input := "*3\r\n$9\r\nsubscribe\r\n$15\r\ntimeline:public\r\n$1\r\n1\r\n"
	frame := TryParse([]byte(input))
	if frame.Kind != KindNonMessage {
		t.Fatalf("Kind = %v, want KindNonMessage", frame.Kind)
	}
}

func TestTryParseIncomplete(t *testing.T) {
	first := "*3\r\n$7\r\nmess"
	frame := TryParse([]byte(first))
	if frame.Kind != KindIncomplete {
		t.Fatalf("Kind = %v, want KindIncomplete", frame.Kind)
	}
	if string(frame.Leftover) != first {
		t.Fatalf("Leftover = %q, want unchanged input", frame.Leftover)
	}

	second := string(frame.Leftover) + "age\r\n$15\r\ntimeline:public\r\n$2\r\nab\r\n"
	frame2 := TryParse([]byte(second))
	if frame2.Kind != KindMessage {
		t.Fatalf("Kind = %v, want KindMessage", frame2.Kind)
	}
	if frame2.Channel != "timeline:public" || frame2.Payload != "ab" {
		t.Fatalf("got channel=%q payload=%q", frame2.Channel, frame2.Payload)
	}
}

func TestTryParseMalformed(t *testing.T) {
	cases := []string{
		"not-a-frame\r\n",
		"*2\r\n$3\r\nfoo\r\n%3\r\nbar\r\n",
		"*1\r\n$3\r\nfooXX",
	}
	for _, in := range cases {
		frame := TryParse([]byte(in))
		if frame.Kind != KindMalformed && frame.Kind != KindIncomplete {
			t.Fatalf("TryParse(%q) = %v, want Malformed or Incomplete", in, frame.Kind)
		}
	}
}

func TestTryParseRejectsIncompleteOnShortBulk(t *testing.T) {
	// Declares a 15-byte bulk string but supplies fewer bytes.
	in := "*1\r\n$15\r\ntoo short\r\n"
	frame := TryParse([]byte(in))
	if frame.Kind != KindIncomplete {
		t.Fatalf("Kind = %v, want KindIncomplete", frame.Kind)
	}
}

func TestTryParseRejectsInvalidUTF8BodyAsMalformedNotIncomplete(t *testing.T) {
	// blen=3 and all 3 bytes plus the trailing \r\n are present, so the
	// body is fully known; \xff is never a valid UTF-8 lead byte.
	in := "*1\r\n$3\r\n\xff\xfe\xfd\r\n"
	frame := TryParse([]byte(in))
	if frame.Kind != KindMalformed {
		t.Fatalf("Kind = %v, want KindMalformed", frame.Kind)
	}
	if len(frame.Leftover) != 0 {
		t.Fatalf("Leftover = %q, want the malformed frame fully consumed", frame.Leftover)
	}
}

func TestTryParseMultipleFramesConsumedInSequence(t *testing.T) {
	buf := []byte("*3\r\n$7\r\nmessage\r\n$15\r\ntimeline:public\r\n$1\r\na\r\n*3\r\n$7\r\nmessage\r\n$15\r\ntimeline:public\r\n$1\r\nb\r\n")

	frame1 := TryParse(buf)
	if frame1.Kind != KindMessage || frame1.Payload != "a" {
		t.Fatalf("first frame = %+v", frame1)
	}

	frame2 := TryParse(frame1.Leftover)
	if frame2.Kind != KindMessage || frame2.Payload != "b" {
		t.Fatalf("second frame = %+v", frame2)
	}
	if len(frame2.Leftover) != 0 {
		t.Fatalf("expected no leftover after consuming both frames")
	}
}
