package bus

import (
	"bytes"
	"encoding/json"
	"reflect"
	"testing"
)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestRequestRoundTrip(t *testing.T) {
	cases := []Request{
		{Kind: ReqList},
		{Kind: ReqGet, ID: "cpu-0"},
		{Kind: ReqCreate, Config: raw(`{"cores":2}`)},
		{Kind: ReqErase, ID: "cpu-0"},
		{Kind: ReqBulkCreate, Configs: []json.RawMessage{raw(`{"a":1}`), raw(`{"b":2}`)}},
		{Kind: ReqBulkErase, IDs: []string{"a", "b", "c"}},
		{Kind: ReqStart, ID: "cpu-0", Dynamic: raw(`{"dynamic":true}`)},
		{Kind: ReqStart, ID: "cpu-0", Dynamic: nil},
		{Kind: ReqStop, ID: "cpu-0"},
		{Kind: ReqToggle, ID: "cpu-0", ToggleWith: "cpu-1", Dynamic: raw(`{}`)},
		{Kind: ReqResultList},
		{Kind: ReqResultGet, ID: "result-0"},
		{Kind: ReqResultErase, ID: "result-0"},
	}

	for _, want := range cases {
		f, err := EncodeRequest(want)
		if err != nil {
			t.Fatalf("EncodeRequest(%+v): %v", want, err)
		}
		got, err := DecodeRequest(f)
		if err != nil {
			t.Fatalf("DecodeRequest after encoding %+v: %v", want, err)
		}
		if !requestEqual(got, want) {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
		}
	}
}

func requestEqual(a, b Request) bool {
	if a.Kind != b.Kind || a.ID != b.ID || a.ToggleWith != b.ToggleWith {
		return false
	}
	if !bytes.Equal(normRaw(a.Config), normRaw(b.Config)) {
		return false
	}
	if !bytes.Equal(normRaw(a.Dynamic), normRaw(b.Dynamic)) {
		return false
	}
	if !reflect.DeepEqual(a.IDs, b.IDs) && !(len(a.IDs) == 0 && len(b.IDs) == 0) {
		return false
	}
	if len(a.Configs) != len(b.Configs) {
		return false
	}
	for i := range a.Configs {
		if !bytes.Equal(a.Configs[i], b.Configs[i]) {
			return false
		}
	}
	return true
}

// normRaw treats nil and empty-but-non-nil RawMessage as equivalent: Frame
// round-tripping cannot distinguish "absent" from "zero-length".
func normRaw(r json.RawMessage) []byte {
	if len(r) == 0 {
		return nil
	}
	return r
}

func TestReplyRoundTrip(t *testing.T) {
	cases := []Reply{
		{Kind: RepOK},
		{Kind: RepError, Error: &BusError{Kind: "not_found", Message: "no such generator"}},
		{Kind: RepGenerator, Generator: raw(`{"id":"cpu-0"}`)},
		{Kind: RepGeneratorList, Generators: []json.RawMessage{raw(`{"id":"a"}`), raw(`{"id":"b"}`)}},
		{Kind: RepResult, Result: raw(`{"id":"result-0"}`)},
		{Kind: RepResultList, Results: []json.RawMessage{raw(`{}`)}},
		{Kind: RepBulkCreated, CreatedIDs: []string{"a", "b"}},
		{Kind: RepBulkErased, BulkErrors: nil},
		{Kind: RepBulkErased, BulkErrors: []BulkItemError{{ID: "a", Message: "busy"}}},
	}

	for _, want := range cases {
		f, err := EncodeReply(want)
		if err != nil {
			t.Fatalf("EncodeReply(%+v): %v", want, err)
		}
		got, err := DecodeReply(f)
		if err != nil {
			t.Fatalf("DecodeReply after encoding %+v: %v", want, err)
		}
		if !replyEqual(got, want) {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
		}
	}
}

func replyEqual(a, b Reply) bool {
	if a.Kind != b.Kind {
		return false
	}
	if (a.Error == nil) != (b.Error == nil) {
		return false
	}
	if a.Error != nil && *a.Error != *b.Error {
		return false
	}
	if !bytes.Equal(normRaw(a.Generator), normRaw(b.Generator)) {
		return false
	}
	if !bytes.Equal(normRaw(a.Result), normRaw(b.Result)) {
		return false
	}
	if !reflect.DeepEqual(a.CreatedIDs, b.CreatedIDs) && !(len(a.CreatedIDs) == 0 && len(b.CreatedIDs) == 0) {
		return false
	}
	if !reflect.DeepEqual(a.BulkErrors, b.BulkErrors) && !(len(a.BulkErrors) == 0 && len(b.BulkErrors) == 0) {
		return false
	}
	return true
}

func TestDecodeRequestUnknownDiscriminant(t *testing.T) {
	f := Frame{Parts: [][]byte{{255}}}
	if _, err := DecodeRequest(f); err == nil {
		t.Fatal("expected error for unknown discriminant")
	}
}

func TestDecodeRequestTruncated(t *testing.T) {
	f, err := EncodeRequest(Request{Kind: ReqGet, ID: "cpu-0"})
	if err != nil {
		t.Fatal(err)
	}
	// Drop the ID part to simulate a truncated frame.
	f.Parts = f.Parts[:1]
	if _, err := DecodeRequest(f); err == nil {
		t.Fatal("expected error decoding truncated frame")
	}
}

func TestFrameDoneRejectsTrailingParts(t *testing.T) {
	f, err := EncodeRequest(Request{Kind: ReqList})
	if err != nil {
		t.Fatal(err)
	}
	f.push([]byte("unexpected"))
	if _, err := DecodeRequest(f); err == nil {
		t.Fatal("expected trailing-part error")
	}
}

func TestFrameScalarRoundTrip(t *testing.T) {
	var f Frame
	f.PushUint8(7)
	f.PushUint64(1 << 40)
	f.PushInt64(-12345)
	f.PushFloat64(3.14159)
	f.PushBool(true)
	f.PushBool(false)
	f.PushString("hello")
	f.PushBytes([]byte{1, 2, 3})

	if v, err := f.PopUint8(); err != nil || v != 7 {
		t.Fatalf("PopUint8: %v, %v", v, err)
	}
	if v, err := f.PopUint64(); err != nil || v != 1<<40 {
		t.Fatalf("PopUint64: %v, %v", v, err)
	}
	if v, err := f.PopInt64(); err != nil || v != -12345 {
		t.Fatalf("PopInt64: %v, %v", v, err)
	}
	if v, err := f.PopFloat64(); err != nil || v != 3.14159 {
		t.Fatalf("PopFloat64: %v, %v", v, err)
	}
	if v, err := f.PopBool(); err != nil || v != true {
		t.Fatalf("PopBool (true): %v, %v", v, err)
	}
	if v, err := f.PopBool(); err != nil || v != false {
		t.Fatalf("PopBool (false): %v, %v", v, err)
	}
	if v, err := f.PopString(); err != nil || v != "hello" {
		t.Fatalf("PopString: %v, %v", v, err)
	}
	if v, err := f.PopBytes(); err != nil || !bytes.Equal(v, []byte{1, 2, 3}) {
		t.Fatalf("PopBytes: %v, %v", v, err)
	}
	if err := f.Done(); err != nil {
		t.Fatalf("Done: %v", err)
	}
}
