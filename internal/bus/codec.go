package bus

import (
	"encoding/json"
	"fmt"
)

// byteSlices converts a list of JSON payloads to the [][]byte shape
// Frame.PushByteSlices takes.
func byteSlices(rs []json.RawMessage) [][]byte {
	bs := make([][]byte, len(rs))
	for i, r := range rs {
		bs[i] = r
	}
	return bs
}

// popRawMessages pops a count-prefixed payload list as JSON payloads.
func popRawMessages(f *Frame) ([]json.RawMessage, error) {
	bs, err := f.PopByteSlices()
	if err != nil {
		return nil, err
	}
	rs := make([]json.RawMessage, len(bs))
	for i, b := range bs {
		rs[i] = b
	}
	return rs, nil
}

// EncodeRequest serializes a request to a Frame. It never partially
// succeeds: either every part is appended or an error is returned before
// anything is pushed that the caller could mistake for a complete frame.
func EncodeRequest(r Request) (Frame, error) {
	var f Frame
	f.PushUint8(uint8(r.Kind))

	switch r.Kind {
	case ReqList, ReqResultList:
		// no further fields
	case ReqGet, ReqErase, ReqStart, ReqStop, ReqResultGet, ReqResultErase:
		f.PushString(r.ID)
		if r.Kind == ReqStart {
			f.PushBytes(r.Dynamic)
		}
	case ReqCreate:
		f.PushBytes(r.Config)
	case ReqBulkCreate:
		f.PushByteSlices(byteSlices(r.Configs))
	case ReqBulkErase:
		f.PushStrings(r.IDs)
	case ReqToggle:
		f.PushString(r.ID)
		f.PushString(r.ToggleWith)
		f.PushBytes(r.Dynamic)
	default:
		return Frame{}, fmt.Errorf("%w: unknown request kind %d", ErrCodec, r.Kind)
	}

	return f, nil
}

// DecodeRequest deserializes a Frame into a request. An unknown discriminant
// or a truncated payload fails with ErrCodec.
func DecodeRequest(f Frame) (Request, error) {
	kind, err := f.PopUint8()
	if err != nil {
		return Request{}, err
	}

	r := Request{Kind: RequestKind(kind)}
	switch r.Kind {
	case ReqList, ReqResultList:
	case ReqGet, ReqErase, ReqStop, ReqResultGet, ReqResultErase:
		if r.ID, err = f.PopString(); err != nil {
			return Request{}, err
		}
	case ReqStart:
		if r.ID, err = f.PopString(); err != nil {
			return Request{}, err
		}
		if r.Dynamic, err = f.PopBytes(); err != nil {
			return Request{}, err
		}
	case ReqCreate:
		if r.Config, err = f.PopBytes(); err != nil {
			return Request{}, err
		}
	case ReqBulkCreate:
		if r.Configs, err = popRawMessages(&f); err != nil {
			return Request{}, err
		}
	case ReqBulkErase:
		if r.IDs, err = f.PopStrings(); err != nil {
			return Request{}, err
		}
	case ReqToggle:
		if r.ID, err = f.PopString(); err != nil {
			return Request{}, err
		}
		if r.ToggleWith, err = f.PopString(); err != nil {
			return Request{}, err
		}
		if r.Dynamic, err = f.PopBytes(); err != nil {
			return Request{}, err
		}
	default:
		return Request{}, fmt.Errorf("%w: unknown discriminant %d", ErrCodec, kind)
	}

	if err := f.Done(); err != nil {
		return Request{}, err
	}
	return r, nil
}

// EncodeReply serializes a reply to a Frame.
func EncodeReply(r Reply) (Frame, error) {
	var f Frame
	f.PushUint8(uint8(r.Kind))

	switch r.Kind {
	case RepOK:
	case RepError:
		if r.Error == nil {
			return Frame{}, fmt.Errorf("%w: RepError without an Error", ErrCodec)
		}
		f.PushString(r.Error.Kind)
		f.PushString(r.Error.Message)
	case RepGenerator:
		f.PushBytes(r.Generator)
	case RepGeneratorList:
		f.PushByteSlices(byteSlices(r.Generators))
	case RepResult:
		f.PushBytes(r.Result)
	case RepResultList:
		f.PushByteSlices(byteSlices(r.Results))
	case RepBulkCreated:
		f.PushStrings(r.CreatedIDs)
	case RepBulkErased:
		f.PushUint64(uint64(len(r.BulkErrors)))
		for _, be := range r.BulkErrors {
			f.PushString(be.ID)
			f.PushString(be.Message)
		}
	default:
		return Frame{}, fmt.Errorf("%w: unknown reply kind %d", ErrCodec, r.Kind)
	}

	return f, nil
}

// DecodeReply deserializes a Frame into a reply.
func DecodeReply(f Frame) (Reply, error) {
	kind, err := f.PopUint8()
	if err != nil {
		return Reply{}, err
	}

	r := Reply{Kind: ReplyKind(kind)}
	switch r.Kind {
	case RepOK:
	case RepError:
		var k, m string
		if k, err = f.PopString(); err != nil {
			return Reply{}, err
		}
		if m, err = f.PopString(); err != nil {
			return Reply{}, err
		}
		r.Error = &BusError{Kind: k, Message: m}
	case RepGenerator:
		if r.Generator, err = f.PopBytes(); err != nil {
			return Reply{}, err
		}
	case RepGeneratorList:
		if r.Generators, err = popRawMessages(&f); err != nil {
			return Reply{}, err
		}
	case RepResult:
		if r.Result, err = f.PopBytes(); err != nil {
			return Reply{}, err
		}
	case RepResultList:
		if r.Results, err = popRawMessages(&f); err != nil {
			return Reply{}, err
		}
	case RepBulkCreated:
		if r.CreatedIDs, err = f.PopStrings(); err != nil {
			return Reply{}, err
		}
	case RepBulkErased:
		n, err := f.PopUint64()
		if err != nil {
			return Reply{}, err
		}
		r.BulkErrors = make([]BulkItemError, 0, n)
		for i := uint64(0); i < n; i++ {
			id, err := f.PopString()
			if err != nil {
				return Reply{}, err
			}
			msg, err := f.PopString()
			if err != nil {
				return Reply{}, err
			}
			r.BulkErrors = append(r.BulkErrors, BulkItemError{ID: id, Message: msg})
		}
	default:
		return Reply{}, fmt.Errorf("%w: unknown discriminant %d", ErrCodec, kind)
	}

	if err := f.Done(); err != nil {
		return Reply{}, err
	}
	return r, nil
}
