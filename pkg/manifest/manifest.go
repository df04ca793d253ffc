// Package manifest serializes the ordered list of pad block names applied
// to a ciphertext. The serialization is a YAML sequence, so the on-disk
// manifest remains a plain ordered list readable without decoding the rest
// of the archive.
package manifest

import (
	"github.com/jladdjr/penpal/pkg/errs"
	"gopkg.in/yaml.v3"
)

// Encode serializes an ordered list of block names to a YAML sequence.
func Encode(names []string) ([]byte, error) {
	out, err := yaml.Marshal(names)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, "", err)
	}
	return out, nil
}

// Decode parses a YAML sequence of block names. Any document that is not
// a sequence of strings (e.g. a mapping, or a scalar) is rejected as a
// malformed or tampered manifest.
func Decode(b []byte) ([]string, error) {
	var names []string
	if err := yaml.Unmarshal(b, &names); err != nil {
		return nil, errs.Wrap(errs.MalformedCiphertext, "manifest", err)
	}
	if names == nil {
		return nil, errs.New(errs.ManifestTooShort, "manifest")
	}
	return names, nil
}
