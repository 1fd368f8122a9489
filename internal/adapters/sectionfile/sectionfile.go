// Package sectionfile loads cross-section descriptions from YAML.
//
// A description lists roughness subsections, each given either as an
// analytic trapezoid or as a stage table:
//
//	name: Vermilion River near Danville
//	subsections:
//	  - name: channel
//	    roughness: 0.035
//	    trapezoid: {invert: 0, bottom_width: 60, side_slope: 2, max_depth: 25}
//	  - name: left bank
//	    roughness: 0.08
//	    table:
//	      stage: [8, 12, 20]
//	      area: [0, 400, 1200]
//	      top_width: [100, 100, 100]
//	      wetted_perimeter: [100, 104, 112]
package sectionfile

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/dynrat/internal/domain/geometry"
)

// ErrInvalid reports a description that loads but cannot describe a section.
var ErrInvalid = errors.New("invalid section description")

type trapezoidDoc struct {
	Invert      float64 `koanf:"invert"`
	BottomWidth float64 `koanf:"bottom_width" validate:"gte=0"`
	SideSlope   float64 `koanf:"side_slope" validate:"gte=0"`
	MaxDepth    float64 `koanf:"max_depth" validate:"gt=0"`
}

type tableDoc struct {
	Stage           []float64 `koanf:"stage" validate:"min=2"`
	Area            []float64 `koanf:"area" validate:"min=2"`
	TopWidth        []float64 `koanf:"top_width" validate:"min=2"`
	WettedPerimeter []float64 `koanf:"wetted_perimeter" validate:"min=2"`
}

type subsectionDoc struct {
	Name      string        `koanf:"name" validate:"required"`
	Roughness float64       `koanf:"roughness" validate:"gt=0,lt=1"`
	Trapezoid *trapezoidDoc `koanf:"trapezoid" validate:"required_without=Table,excluded_with=Table"`
	Table     *tableDoc     `koanf:"table" validate:"required_without=Trapezoid"`
}

type document struct {
	Name        string          `koanf:"name"`
	Subsections []subsectionDoc `koanf:"subsections" validate:"required,min=1,dive"`
}

// Description is a loaded section.
type Description struct {
	Name         string
	Subsections  []string
	CrossSection geometry.CrossSection
}

// Load reads the description at path.
func Load(path string) (*Description, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load section %s: %w", path, err)
	}
	return build(k)
}

// Parse reads a description from YAML bytes.
func Parse(data []byte) (*Description, error) {
	k := koanf.New(".")
	if err := k.Load(rawProvider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parse section: %w", err)
	}
	return build(k)
}

// rawProvider serves in-memory bytes to koanf.
type rawProvider []byte

func (r rawProvider) ReadBytes() ([]byte, error) { return r, nil }

func (r rawProvider) Read() (map[string]any, error) {
	return nil, errors.New("raw provider does not support Read")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func build(k *koanf.Koanf) (*Description, error) {
	var doc document
	if err := k.UnmarshalWithConf("", &doc, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	parts := make([]geometry.Section, 0, len(doc.Subsections))
	desc := &Description{Name: doc.Name}
	roughness := make([]float64, 0, len(doc.Subsections))
	for i, s := range doc.Subsections {
		var sec geometry.Section
		var err error
		switch {
		case s.Trapezoid != nil:
			t := s.Trapezoid
			sec, err = geometry.NewTrapezoid(t.Invert, t.BottomWidth, t.SideSlope, t.MaxDepth)
		default:
			t := s.Table
			sec, err = geometry.NewTable(geometry.TableSubsection{
				Name:            s.Name,
				Stage:           t.Stage,
				Area:            t.Area,
				TopWidth:        t.TopWidth,
				WettedPerimeter: t.WettedPerimeter,
			})
		}
		if err != nil {
			return nil, fmt.Errorf("subsection %d (%s): %w", i, s.Name, err)
		}
		parts = append(parts, sec)
		roughness = append(roughness, s.Roughness)
		desc.Subsections = append(desc.Subsections, s.Name)
	}

	var sec geometry.Section = parts[0]
	if len(parts) > 1 {
		c, err := geometry.Compose(parts...)
		if err != nil {
			return nil, err
		}
		sec = c
	}
	desc.CrossSection = geometry.CrossSection{Section: sec, Roughness: roughness}
	if err := desc.CrossSection.Validate(); err != nil {
		return nil, err
	}
	return desc, nil
}
