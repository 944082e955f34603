package gcode

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"gopkg.in/yaml.v3"
	"io"
	"sort"
)

// Names the dispatcher gives special treatment.
const (
	HomeCommand     = "home_all"
	DwellCommand    = "dwell"
	BarrierCommand  = "wait_finish"
	PositionCommand = "get_position"
	TempCommand     = "get_temp"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrFormat         = errors.New("format error")
)

//go:embed commands.yaml
var defaultTable []byte

// entry is one row of the command table as written on disk.
type entry struct {
	GCode      string   `yaml:"gcode"`
	GCodeBase  string   `yaml:"gcode_base"`
	Desc       string   `yaml:"desc"`
	Params     []string `yaml:"params"`
	Aliases    []string `yaml:"aliases"`
	WaitAfter  bool     `yaml:"wait_after"`
	Barrier    *bool    `yaml:"send_barrier_before_wait"`
	LegacyM400 *bool    `yaml:"send_m400_before_wait"`
}

// Registry maps command names to their specs. It is built once and never mutated.
type Registry struct {
	specs   map[string]Spec
	aliases map[string]string
	names   []string
}

// Load reads a YAML command table.
func Load(r io.Reader) (*Registry, error) {
	var table map[string]entry
	if err := yaml.NewDecoder(r).Decode(&table); err != nil {
		return nil, fmt.Errorf("decode command table: %w", err)
	}
	reg := &Registry{
		specs:   make(map[string]Spec, len(table)),
		aliases: make(map[string]string),
		names:   make([]string, 0, len(table)),
	}
	for name, e := range table {
		spec, err := e.spec(name)
		if err != nil {
			return nil, err
		}
		reg.specs[name] = spec
		reg.names = append(reg.names, name)
	}
	for name, e := range table {
		for _, a := range e.Aliases {
			if _, taken := reg.specs[a]; taken {
				return nil, fmt.Errorf("alias %q of %q shadows a command", a, name)
			}
			if other, taken := reg.aliases[a]; taken {
				return nil, fmt.Errorf("alias %q used by %q and %q", a, other, name)
			}
			reg.aliases[a] = name
		}
	}
	sort.Strings(reg.names)
	for _, s := range reg.specs {
		if !s.Barrier {
			continue
		}
		if _, ok := reg.specs[BarrierCommand]; !ok {
			return nil, fmt.Errorf("%q requests a barrier but %q is not defined", s.Name, BarrierCommand)
		}
	}
	return reg, nil
}

// Default returns the registry built from the embedded command table.
func Default() *Registry {
	reg, err := Load(bytes.NewReader(defaultTable))
	if err != nil {
		panic(err)
	}
	return reg
}

func (e entry) spec(name string) (Spec, error) {
	if name == "" {
		return Spec{}, errors.New("command with empty name")
	}
	if (e.GCode == "") == (e.GCodeBase == "") {
		return Spec{}, fmt.Errorf("command %q: exactly one of gcode or gcode_base is required", name)
	}
	if e.GCode != "" && len(e.Params) > 0 {
		return Spec{}, fmt.Errorf("command %q: params only apply to gcode_base", name)
	}
	seen := make(map[string]bool, len(e.Params))
	for _, p := range e.Params {
		if p == "" || seen[p] {
			return Spec{}, fmt.Errorf("command %q: bad or repeated param %q", name, p)
		}
		seen[p] = true
	}
	barrier := false
	switch {
	case e.Barrier != nil:
		barrier = *e.Barrier
	case e.LegacyM400 != nil:
		barrier = *e.LegacyM400
	}
	return Spec{
		Name:      name,
		Desc:      e.Desc,
		Template:  e.GCode,
		Base:      e.GCodeBase,
		Params:    append([]string(nil), e.Params...),
		WaitAfter: e.WaitAfter,
		Barrier:   barrier,
	}, nil
}

// Lookup resolves a command or alias name.
func (r *Registry) Lookup(name string) (Spec, error) {
	if canon, ok := r.aliases[name]; ok {
		name = canon
	}
	s, ok := r.specs[name]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	s.Params = append([]string(nil), s.Params...)
	return s, nil
}

// Names lists canonical command names in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Barrier returns the motion-queue drain command.
func (r *Registry) Barrier() (Spec, error) {
	return r.Lookup(BarrierCommand)
}
