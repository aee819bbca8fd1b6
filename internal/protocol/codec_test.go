package protocol

import (
	"errors"
	"math"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestEncodeDecodeCommand(t *testing.T) {
	level := 12.0
	in := Command{Kind: KindSetTargetLevel, ID: "c-1", Level: &level, Issuer: "console"}

	data, err := Encode("console-1", 101, in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	pkt, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pkt.From != "console-1" || pkt.ReplyTo != 101 {
		t.Fatalf("unexpected envelope: %+v", pkt)
	}
	out, ok := pkt.Message.(Command)
	if !ok {
		t.Fatalf("expected Command, got %T", pkt.Message)
	}
	if out.Kind != KindSetTargetLevel || out.ID != "c-1" || out.Level == nil || *out.Level != 12 {
		t.Fatalf("command mismatch: %+v", out)
	}
}

func TestEncodeRejectsInvalidCommand(t *testing.T) {
	if _, err := Encode("x", 0, Command{Kind: KindSetTargetLevel, ID: "c-1"}); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("expected ErrInvalidCommand, got %v", err)
	}
	if _, err := Encode("x", 0, Command{Kind: KindScram}); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("expected ErrInvalidCommand for missing id, got %v", err)
	}
}

func TestEncodeRejectsNonFiniteLevel(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		v := v
		cmd := Command{Kind: KindSetTargetLevel, ID: "c-1", Level: &v}
		if _, err := Encode("x", 0, cmd); !errors.Is(err, ErrInvalidCommand) {
			t.Fatalf("level %v: expected ErrInvalidCommand, got %v", v, err)
		}
	}
}

func TestDecodeStatusKeepsSensors(t *testing.T) {
	in := StatusFrame{
		Boot:          1_700_000_000_000,
		Seq:           9,
		PoweredOn:     true,
		SafetyEnabled: true,
		TargetLevel:   4,
		TripCause:     TripNone,
		Sensors:       SensorSnapshot{Formed: true, OutputRate: 4, MaxOutput: 20, CoolantFrac: 0.9},
	}
	data, err := Encode("core", 0, in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	pkt, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := pkt.Message.(StatusFrame); got != in {
		t.Fatalf("status mismatch:\n got=%+v\nwant=%+v", got, in)
	}
}

func TestDecodeUnknownTypeIsReported(t *testing.T) {
	body, _ := cbor.Marshal(map[string]int{"x": 1})
	data, err := cbor.Marshal(Envelope{Type: "robot.move", From: "turtle", Body: body})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := Decode(data); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestDecodeGarbageIsMalformed(t *testing.T) {
	if _, err := Decode([]byte("hello, reactor")); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestDecodeUnknownKindIsMalformed(t *testing.T) {
	body, _ := cbor.Marshal(map[string]string{"kind": "self_destruct", "id": "c-1"})
	data, _ := cbor.Marshal(Envelope{Type: TypeCommand, From: "x", Body: body})
	if _, err := Decode(data); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestKindNamesRoundTrip(t *testing.T) {
	for _, k := range AllKinds {
		got, err := ParseKind(k.String())
		if err != nil {
			t.Fatalf("parse %s: %v", k, err)
		}
		if got != k {
			t.Fatalf("parse %s: got %s", k, got)
		}
	}
	if _, err := ParseKind("launch"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if CommandKind(0).Valid() || CommandKind(len(AllKinds)+1).Valid() {
		t.Fatalf("out-of-range kinds must be invalid")
	}
}

func TestTripCauseAutomatic(t *testing.T) {
	cases := map[TripCause]bool{
		TripNone:    false,
		TripManual:  false,
		TripDamage:  true,
		TripCoolant: true,
		TripWaste:   true,
		TripHeated:  true,
	}
	for cause, want := range cases {
		if got := cause.Automatic(); got != want {
			t.Errorf("%q.Automatic() = %t, want %t", cause, got, want)
		}
	}
}
