package redis

import (
	"github.com/curtisnewbie/evbus/encoding/json"
	"github.com/curtisnewbie/evbus/util/errs"
	"github.com/curtisnewbie/evbus/util/strutil"
)

// Value serializer / deserializer.
type Serializer interface {
	Serialize(t any) (string, error)
	Deserialize(ptr any, v string) error
}

type JsonSerializer struct {
}

func (j JsonSerializer) Serialize(t any) (string, error) {
	if v, ok := t.(string); ok {
		return v, nil
	}

	b, err := json.WriteJson(t)
	if err != nil {
		return "", errs.WrapErrf(err, "unable to marshal value to string")
	}
	return strutil.UnsafeByt2Str(b), nil
}

func (j JsonSerializer) Deserialize(ptr any, v string) error {
	if p, ok := ptr.(*string); ok {
		*p = v
		return nil
	}

	if err := json.ParseJson(strutil.UnsafeStr2Byt(v), ptr); err != nil {
		return errs.WrapErrf(err, "unable to unmarshal from string")
	}
	return nil
}
