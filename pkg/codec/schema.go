package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
)

// Schema is a named, versioned payload shape.
type Schema struct {
	name     string
	version  *semver.Version
	source   string
	compiled *jsonschema.Schema
}

// Compile builds a Schema from a JSON Schema document.
func Compile(name, version, shape string) (*Schema, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("codec: schema %s: invalid version %q: %w", name, version, err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://settlement.schemas.local/%s/%s.schema.json", name, v.String())
	if err := c.AddResource(url, strings.NewReader(shape)); err != nil {
		return nil, fmt.Errorf("codec: schema %s load failed: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("codec: schema %s compile failed: %w", name, err)
	}
	return &Schema{name: name, version: v, source: shape, compiled: compiled}, nil
}

// MustCompile is Compile for package-level schema constants.
func MustCompile(name, version, shape string) *Schema {
	s, err := Compile(name, version, shape)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) Name() string { return s.name }

func (s *Schema) Version() *semver.Version { return s.version }

// Source returns the JSON Schema document the shape was compiled from.
func (s *Schema) Source() string { return s.source }

// Validate checks raw JSON against the shape.
func (s *Schema) Validate(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return protoerr.Wrap(protoerr.KindDecode, "codec."+s.name, err)
	}
	if err := s.compiled.Validate(doc); err != nil {
		return protoerr.Wrap(protoerr.KindDecode, "codec."+s.name, err)
	}
	return nil
}

// Decode validates data and binds it to v. Unknown fields and trailing
// content are rejected.
func (s *Schema) Decode(data []byte, v any) error {
	if err := s.Validate(data); err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return protoerr.Wrap(protoerr.KindDecode, "codec."+s.name, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return protoerr.New(protoerr.KindDecode, "codec."+s.name, "trailing data after payload")
	}
	return nil
}

// Encode validates v's canonical encoding against the shape.
func (s *Schema) Encode(v any) ([]byte, error) {
	b, err := Encode(v)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(b); err != nil {
		return nil, protoerr.Wrap(protoerr.KindInvalidArgument, "codec."+s.name, err)
	}
	return b, nil
}
