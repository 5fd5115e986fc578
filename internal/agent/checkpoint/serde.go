package checkpoint

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
)

const (
	TypeJSON     = "json"
	TypeJSONGzip = "json+gzip"
)

// dumpsTyped serializes v, gzip-compressing when compress is set.
func dumpsTyped(v any, compress bool) (string, []byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", nil, err
	}
	if !compress {
		return TypeJSON, raw, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", nil, err
	}
	if err := zw.Close(); err != nil {
		return "", nil, err
	}
	return TypeJSONGzip, buf.Bytes(), nil
}

// loadsTyped is the inverse of dumpsTyped.
func loadsTyped(typ string, data []byte, v any) error {
	switch typ {
	case TypeJSON:
		return json.Unmarshal(data, v)
	case TypeJSONGzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return err
		}
		defer zr.Close()
		raw, err := io.ReadAll(zr)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, v)
	default:
		return fmt.Errorf("unsupported serialization type %q", typ)
	}
}
