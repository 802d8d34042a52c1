package rtde

import (
	"encoding/xml"
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// Recipe keys used by the cycle program.
const (
	RecipeState    = "state"
	RecipeSetpoint = "setp"
	RecipeWatchdog = "watchdog"
)

// Field names exchanged with the controller program.
const (
	FieldTargetQ       = "target_q"
	FieldActualTCPPose = "actual_TCP_pose"
	FieldActualForce   = "actual_TCP_force"
	FieldHandshake     = "output_int_register_0"
	FieldWatchdog      = "input_int_register_0"
)

// SetpointField returns the input register holding setpoint value i.
func SetpointField(i int) string {
	return "input_double_register_" + strconv.Itoa(i)
}

// RecipeSpec is an ordered list of variables, as listed in a recipe file.
type RecipeSpec struct {
	Names []string
	Types []FieldType
}

// RecipeSet maps recipe keys to their variables.
type RecipeSet map[string]RecipeSpec

// Get returns the recipe stored under key.
func (s RecipeSet) Get(key string) (RecipeSpec, error) {
	spec, ok := s[key]
	if !ok || len(spec.Names) == 0 {
		return RecipeSpec{}, errors.Errorf("recipe %q not defined", key)
	}
	return spec, nil
}

type xmlConfig struct {
	XMLName xml.Name    `xml:"rtde_config"`
	Recipes []xmlRecipe `xml:"recipe"`
}

type xmlRecipe struct {
	Key    string     `xml:"key,attr"`
	Fields []xmlField `xml:"field"`
}

type xmlField struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
}

// ParseRecipes reads an <rtde_config> recipe document.
func ParseRecipes(r io.Reader) (RecipeSet, error) {
	var doc xmlConfig
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decode recipe file")
	}

	set := make(RecipeSet, len(doc.Recipes))
	for _, rec := range doc.Recipes {
		if rec.Key == "" {
			return nil, errors.New("recipe without key")
		}
		var spec RecipeSpec
		for _, f := range rec.Fields {
			t := FieldType(f.Type)
			if t.Size() == 0 {
				return nil, errors.Errorf("recipe %q: field %q has unknown type %q", rec.Key, f.Name, f.Type)
			}
			spec.Names = append(spec.Names, f.Name)
			spec.Types = append(spec.Types, t)
		}
		set[rec.Key] = spec
	}
	return set, nil
}

// LoadRecipes reads a recipe file from disk.
func LoadRecipes(path string) (RecipeSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open recipe file")
	}
	defer f.Close()
	return ParseRecipes(f)
}

// DefaultRecipes matches the controller program the cycle is written for.
func DefaultRecipes() RecipeSet {
	setp := RecipeSpec{}
	for i := range 6 {
		setp.Names = append(setp.Names, SetpointField(i))
		setp.Types = append(setp.Types, TypeDouble)
	}
	return RecipeSet{
		RecipeState: {
			Names: []string{FieldTargetQ, FieldActualTCPPose, FieldActualForce, FieldHandshake},
			Types: []FieldType{TypeVector6D, TypeVector6D, TypeVector6D, TypeInt32},
		},
		RecipeSetpoint: setp,
		RecipeWatchdog: {
			Names: []string{FieldWatchdog},
			Types: []FieldType{TypeInt32},
		},
	}
}

// Recipe is a recipe registered with the controller.
type Recipe struct {
	ID    uint8
	Names []string
	Types []FieldType
}

// Values holds one data package keyed by variable name.
type Values map[string]any

// Decode unpacks a data package payload that starts with the recipe id.
func (r *Recipe) Decode(payload []byte) (Values, error) {
	if len(payload) < 1 {
		return nil, errors.Wrap(ErrProtocol, "empty data package")
	}
	if payload[0] != r.ID {
		return nil, errors.Wrapf(ErrProtocol, "data package for recipe %d, expected %d", payload[0], r.ID)
	}

	b := payload[1:]
	vals := make(Values, len(r.Names))
	for i, name := range r.Names {
		v, err := decodeValue(b, r.Types[i])
		if err != nil {
			return nil, errors.Wrapf(err, "field %s", name)
		}
		vals[name] = v
		b = b[r.Types[i].Size():]
	}
	if len(b) != 0 {
		return nil, errors.Wrapf(ErrProtocol, "%d trailing bytes in data package", len(b))
	}
	return vals, nil
}

// Encode packs values into a data package payload, recipe id first.
// Every variable of the recipe must be present.
func (r *Recipe) Encode(vals Values) ([]byte, error) {
	buf := []byte{r.ID}
	for i, name := range r.Names {
		v, ok := vals[name]
		if !ok {
			return nil, errors.Errorf("recipe %d: missing value for %s", r.ID, name)
		}
		var err error
		if buf, err = appendValue(buf, r.Types[i], v); err != nil {
			return nil, errors.Wrapf(err, "field %s", name)
		}
	}
	return buf, nil
}

// Vector6 returns a VECTOR6D value.
func (v Values) Vector6(name string) ([6]float64, error) {
	x, ok := v[name].([6]float64)
	if !ok {
		return x, errors.Wrapf(ErrType, "%s is not a VECTOR6D value", name)
	}
	return x, nil
}

// Int32 returns an INT32 value.
func (v Values) Int32(name string) (int32, error) {
	x, ok := v[name].(int32)
	if !ok {
		return 0, errors.Wrapf(ErrType, "%s is not an INT32 value", name)
	}
	return x, nil
}
