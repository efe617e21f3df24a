package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RecordID 记录主键，兼容 JSON 数字和数字字符串
type RecordID int64

func (id *RecordID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			*id = 0
			return nil
		}
		v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid record id %q: %w", s, err)
		}
		*id = RecordID(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	v, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil {
			return fmt.Errorf("invalid record id %s: %w", n, err)
		}
		v = int64(f)
	}
	*id = RecordID(v)
	return nil
}

func (id RecordID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseRecordID 解析路径参数里的 id
func ParseRecordID(s string) (RecordID, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	return RecordID(v), nil
}

// FlexString 兼容 JSON 字符串、数字和 null，统一按字符串保存
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*f = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("flex string: unsupported value %s", data)
		}
		*f = FlexString(n.String())
	}
	return nil
}

// Float 按数字解析，失败返回 false
func (f FlexString) Float() (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(f)), 64)
	return v, err == nil
}

// FlexBool 兼容 true/false、"true"/"yes"/"1" 和 null
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*b = false
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "on", "1":
			*b = true
		default:
			*b = false
		}
	default:
		var v bool
		if err := json.Unmarshal(data, &v); err != nil {
			var n json.Number
			if nerr := json.Unmarshal(data, &n); nerr != nil {
				return err
			}
			*b = n.String() != "0"
			return nil
		}
		*b = FlexBool(v)
	}
	return nil
}
