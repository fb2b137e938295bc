package output

import (
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLFormatter formats data as YAML.
type YAMLFormatter struct{}

// Format formats data as YAML. Data is reduced to its JSON form first so
// json tags name the keys, as they do for the other formats.
func (f *YAMLFormatter) Format(w io.Writer, data any) error {
	generic, err := toGeneric(data)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}
