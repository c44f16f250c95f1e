package logger

import (
	"fmt"
	"strconv"
)

// Field is a key/value pair attached to a log line.
type Field interface {
	Key() string
	String() string
}

type Fields []Field

func (f *Fields) Add(fields ...Field) {
	*f = append(*f, fields...)
}

// Get returns every field with the given key, in the order they were added.
func (f Fields) Get(key string) []Field {
	var matched []Field
	for _, field := range f {
		if field.Key() == key {
			matched = append(matched, field)
		}
	}
	return matched
}

type GenericField struct {
	key   string
	value string
}

func (f GenericField) Key() string {
	return f.key
}

func (f GenericField) String() string {
	return f.value
}

func StringField(key, value string) Field {
	return GenericField{key: key, value: value}
}

func IntField(key string, value int) Field {
	return GenericField{key: key, value: strconv.Itoa(value)}
}

func BoolField(key string, value bool) Field {
	return GenericField{key: key, value: strconv.FormatBool(value)}
}

// StringerField captures value.String() at the time the field is created.
func StringerField(key string, value fmt.Stringer) Field {
	return GenericField{key: key, value: value.String()}
}
