package api

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// decode converts a Struct payload into a typed request via its JSON form.
func decode(in *structpb.Struct, dest any) error {
	if in == nil {
		return errors.Wrap(errInvalidPayload, "empty request")
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return errors.Wrapf(errInvalidPayload, "%v", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return errors.Wrapf(errInvalidPayload, "%v", err)
	}
	return nil
}

// encode converts a typed response into a Struct via its JSON form.
func encode(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal response")
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, errors.Wrap(err, "convert response")
	}
	return out, nil
}
