package session

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field is one raw protobuf field. Payload holds a uint64 for varint and
// fixed width values, and either []Field or []byte for length delimited
// ones, depending on whether the bytes parse as a nested message.
type Field struct {
	Num     protowire.Number
	Type    protowire.Type
	Payload any
}

func (f Field) String() string {
	return f.string(0)
}

func (f Field) string(indent int) string {
	prefix := strings.Repeat("  ", indent)

	switch payload := f.Payload.(type) {
	case []Field:
		if len(payload) == 0 {
			return fmt.Sprintf("%s%d {}", prefix, f.Num)
		}

		str := &strings.Builder{}
		fmt.Fprintf(str, "%s%d {\n", prefix, f.Num)
		for _, sf := range payload {
			fmt.Fprintf(str, "%s\n", sf.string(indent+1))
		}
		fmt.Fprintf(str, "%s}", prefix)
		return str.String()
	case []byte:
		return fmt.Sprintf(`%s%d: "%s"`, prefix, f.Num, payload)
	case uint64:
		if f.Type == protowire.Fixed32Type {
			return fmt.Sprintf("%s%d: 0x%08x", prefix, f.Num, payload)
		}
		return fmt.Sprintf("%s%d: %d", prefix, f.Num, payload)
	default:
		return fmt.Sprintf("%s%d: %v", prefix, f.Num, payload)
	}
}

// ParseFields decodes b without a schema. It returns nil if b is not a
// well formed message.
func ParseFields(b []byte) []Field {
	fields := make([]Field, 0)
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte) error {
		field := Field{Num: num, Type: typ, Payload: v}
		if typ == protowire.BytesType {
			field.Payload = payload
			if sub := ParseFields(payload); sub != nil && len(payload) > 0 {
				field.Payload = sub
			}
		}
		fields = append(fields, field)
		return nil
	})
	if err != nil {
		return nil
	}
	return fields
}
