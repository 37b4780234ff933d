package protocol

import "testing"

func TestToServerJSONRoundTrip(t *testing.T) {
	msg := ToServer{Body: ActionRequest{ID: 7, Name: "increment", Args: []byte{0x01, 0x02}}}

	data, err := EncodeToServer(EncodingJSON, msg)
	if err != nil {
		t.Fatalf("EncodeToServer: %v", err)
	}

	got, err := DecodeToServer(data, false)
	if err != nil {
		t.Fatalf("DecodeToServer: %v", err)
	}

	ar, ok := got.Body.(ActionRequest)
	if !ok {
		t.Fatalf("expected ActionRequest, got %T", got.Body)
	}
	if ar.ID != 7 || ar.Name != "increment" {
		t.Errorf("unexpected ActionRequest: %+v", ar)
	}
}

func TestToServerCBORRoundTrip(t *testing.T) {
	msg := ToServer{Body: SubscriptionRequest{EventName: "tick", Subscribe: true}}

	data, err := EncodeToServer(EncodingCBOR, msg)
	if err != nil {
		t.Fatalf("EncodeToServer: %v", err)
	}

	got, err := DecodeToServer(data, true)
	if err != nil {
		t.Fatalf("DecodeToServer: %v", err)
	}

	sr, ok := got.Body.(SubscriptionRequest)
	if !ok {
		t.Fatalf("expected SubscriptionRequest, got %T", got.Body)
	}
	if sr.EventName != "tick" || !sr.Subscribe {
		t.Errorf("unexpected SubscriptionRequest: %+v", sr)
	}
}

func TestToClientEnvelopeVariants(t *testing.T) {
	actionID := uint64(3)
	cases := []ToClientBody{
		Init{ActorID: "a1", ConnectionID: "c1", ConnectionToken: "t1"},
		ActionResponse{ID: 3, Output: []byte{0xa0}},
		Event{Name: "tick", Args: []byte{0x80}},
		Error{Group: "rivetkit", Code: "not_found", Message: "nope", ActionID: &actionID},
	}

	for _, body := range cases {
		for _, enc := range []EncodingKind{EncodingJSON, EncodingCBOR} {
			data, err := EncodeToClient(enc, ToClient{Body: body})
			if err != nil {
				t.Fatalf("EncodeToClient(%s, %T): %v", enc, body, err)
			}
			got, err := DecodeToClient(data, enc == EncodingCBOR)
			if err != nil {
				t.Fatalf("DecodeToClient(%s, %T): %v", enc, body, err)
			}
			if got.Body.tag() != body.tag() {
				t.Errorf("tag mismatch: got %s, want %s", got.Body.tag(), body.tag())
			}
		}
	}
}

func TestDecodeToClientToleratesEitherEncoding(t *testing.T) {
	msg := ToClient{Body: Event{Name: "x", Args: []byte{0x80}}}

	cborData, err := EncodeToClient(EncodingCBOR, msg)
	if err != nil {
		t.Fatalf("EncodeToClient: %v", err)
	}

	// Decoder is told to prefer JSON but the frame is actually CBOR — it
	// must still succeed by falling back.
	got, err := DecodeToClient(cborData, false)
	if err != nil {
		t.Fatalf("DecodeToClient fallback: %v", err)
	}
	if _, ok := got.Body.(Event); !ok {
		t.Fatalf("expected Event, got %T", got.Body)
	}
}

func TestEncodeDecodeArgsRoundTrip(t *testing.T) {
	args := []any{"hello", float64(42), map[string]any{"nested": true}}

	data, err := EncodeArgs(args)
	if err != nil {
		t.Fatalf("EncodeArgs: %v", err)
	}

	got, err := DecodeArgs(data)
	if err != nil {
		t.Fatalf("DecodeArgs: %v", err)
	}
	if len(got) != len(args) {
		t.Fatalf("expected %d args, got %d", len(args), len(got))
	}
}

func TestNewActorKeyRejectsOversizedEntry(t *testing.T) {
	long := make([]byte, ActorKeyMaxEntryBytes+1)
	for i := range long {
		long[i] = 'x'
	}

	if _, err := NewActorKey(string(long)); err == nil {
		t.Fatal("expected error for oversized actor key entry")
	}

	if _, err := NewActorKey("ok", "also-ok"); err != nil {
		t.Fatalf("unexpected error for valid key: %v", err)
	}
}
