package bytecode

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/calyx/compiler"
	"github.com/chazu/calyx/pkg/value"
)

// WireVersion is bumped whenever the opcode set or the encoding
// below changes; cached units with a different version are recompiled.
const WireVersion = 2

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encoder options: %v", err))
	}
}

// wireUnit is the serialized form of one compiled source unit: the
// clause per top-level form in execution order, plus the globals the
// unit declares. Chunks refer to globals by slot, so a cached unit
// also records the full global table it was compiled against (Base);
// replaying into a session with a different table would shift every
// slot. The loader compares Base against the live table and treats
// any difference as a miss.
type wireUnit struct {
	Version int          `cbor:"v"`
	Base    []string     `cbor:"b,omitempty"`
	Globals []string     `cbor:"g,omitempty"`
	Clauses []wireClause `cbor:"c"`
}

type wireClause struct {
	Patterns  []wirePattern `cbor:"p,omitempty"`
	Bindings  []string      `cbor:"b,omitempty"`
	NumLocals int           `cbor:"n"`
	SlotNames []string      `cbor:"s,omitempty"`
	Chunk     wireChunk     `cbor:"k"`
}

type wireChunk struct {
	Name      string         `cbor:"n"`
	Code      []byte         `cbor:"c"`
	Constants []wireValue    `cbor:"o,omitempty"`
	Functions []wireFunction `cbor:"f,omitempty"`
	SourceMap []wireLoc      `cbor:"m,omitempty"`
}

type wireFunction struct {
	Name    string       `cbor:"n"`
	Clauses []wireClause `cbor:"c"`
}

type wireLoc struct {
	Offset int `cbor:"o"`
	Line   int `cbor:"l"`
	Column int `cbor:"c"`
}

// wireValue encodes a constant-pool value. Kind tags: i integer,
// f float, b boolean, s string, y symbol, e empty list, c cons.
type wireValue struct {
	Kind  string     `cbor:"t"`
	Int   int64      `cbor:"i,omitempty"`
	Float float64    `cbor:"f,omitempty"`
	Bool  bool       `cbor:"b,omitempty"`
	Str   string     `cbor:"s,omitempty"`
	Car   *wireValue `cbor:"a,omitempty"`
	Cdr   *wireValue `cbor:"d,omitempty"`
}

type wirePattern struct {
	Kind    int           `cbor:"k"`
	Literal *wireValue    `cbor:"l,omitempty"`
	Name    string        `cbor:"n,omitempty"`
	Head    *wirePattern  `cbor:"h,omitempty"`
	Tail    *wirePattern  `cbor:"t,omitempty"`
	Elems   []wirePattern `cbor:"e,omitempty"`
	Sym     string        `cbor:"s,omitempty"`
}

// EncodeUnit serializes a compiled unit for the compile cache.
// baseNames is the global table at compile time, before the unit's
// own declarations. Encoding is canonical CBOR, so identical units
// byte-compare equal.
func EncodeUnit(clauses []*CompiledClause, baseNames, globalNames []string) ([]byte, error) {
	u := wireUnit{Version: WireVersion, Base: baseNames, Globals: globalNames}
	for _, c := range clauses {
		wc, err := encodeClause(c)
		if err != nil {
			return nil, err
		}
		u.Clauses = append(u.Clauses, wc)
	}
	return encMode.Marshal(u)
}

// DecodeUnit deserializes a cached compiled unit, returning the
// clauses, the global table the unit was compiled against, and the
// names the unit declares. Returns an error on a version mismatch so
// stale cache entries recompile.
func DecodeUnit(data []byte) ([]*CompiledClause, []string, []string, error) {
	var u wireUnit
	if err := cbor.Unmarshal(data, &u); err != nil {
		return nil, nil, nil, err
	}
	if u.Version != WireVersion {
		return nil, nil, nil, fmt.Errorf("compiled unit version %d, want %d", u.Version, WireVersion)
	}
	out := make([]*CompiledClause, 0, len(u.Clauses))
	for i := range u.Clauses {
		c, err := decodeClause(&u.Clauses[i])
		if err != nil {
			return nil, nil, nil, err
		}
		out = append(out, c)
	}
	return out, u.Base, u.Globals, nil
}

func encodeClause(c *CompiledClause) (wireClause, error) {
	wc := wireClause{
		Bindings:  c.Bindings,
		NumLocals: c.NumLocals,
		SlotNames: c.SlotNames,
	}
	for _, p := range c.Patterns {
		wp, err := encodePattern(p)
		if err != nil {
			return wc, err
		}
		wc.Patterns = append(wc.Patterns, *wp)
	}
	ck, err := encodeChunk(c.Chunk)
	if err != nil {
		return wc, err
	}
	wc.Chunk = ck
	return wc, nil
}

func decodeClause(wc *wireClause) (*CompiledClause, error) {
	c := &CompiledClause{
		Bindings:  wc.Bindings,
		NumLocals: wc.NumLocals,
		SlotNames: wc.SlotNames,
	}
	for i := range wc.Patterns {
		p, err := decodePattern(&wc.Patterns[i])
		if err != nil {
			return nil, err
		}
		c.Patterns = append(c.Patterns, p)
	}
	ck, err := decodeChunk(&wc.Chunk)
	if err != nil {
		return nil, err
	}
	c.Chunk = ck
	return c, nil
}

func encodeChunk(c *Chunk) (wireChunk, error) {
	wc := wireChunk{Name: c.Name, Code: c.Code}
	for _, v := range c.Constants {
		wv, err := encodeValue(v)
		if err != nil {
			return wc, err
		}
		wc.Constants = append(wc.Constants, *wv)
	}
	for _, fn := range c.Functions {
		wf := wireFunction{Name: fn.Name}
		for _, clause := range fn.Clauses {
			cl, err := encodeClause(clause)
			if err != nil {
				return wc, err
			}
			wf.Clauses = append(wf.Clauses, cl)
		}
		wc.Functions = append(wc.Functions, wf)
	}
	for _, loc := range c.SourceMap {
		wc.SourceMap = append(wc.SourceMap, wireLoc(loc))
	}
	return wc, nil
}

func decodeChunk(wc *wireChunk) (*Chunk, error) {
	c := &Chunk{Name: wc.Name, Code: wc.Code}
	for i := range wc.Constants {
		v, err := decodeValue(&wc.Constants[i])
		if err != nil {
			return nil, err
		}
		c.Constants = append(c.Constants, v)
	}
	for i := range wc.Functions {
		fn := &Function{Name: wc.Functions[i].Name}
		for j := range wc.Functions[i].Clauses {
			clause, err := decodeClause(&wc.Functions[i].Clauses[j])
			if err != nil {
				return nil, err
			}
			fn.Clauses = append(fn.Clauses, clause)
		}
		c.Functions = append(c.Functions, fn)
	}
	for _, loc := range wc.SourceMap {
		c.SourceMap = append(c.SourceMap, SourceLocation(loc))
	}
	return c, nil
}

func encodeValue(v value.Value) (*wireValue, error) {
	switch x := v.(type) {
	case value.Int:
		return &wireValue{Kind: "i", Int: int64(x)}, nil
	case value.Float:
		return &wireValue{Kind: "f", Float: float64(x)}, nil
	case value.Bool:
		return &wireValue{Kind: "b", Bool: bool(x)}, nil
	case value.Str:
		return &wireValue{Kind: "s", Str: string(x)}, nil
	case value.Symbol:
		return &wireValue{Kind: "y", Str: string(x)}, nil
	case value.EmptyList:
		return &wireValue{Kind: "e"}, nil
	case *value.Cons:
		car, err := encodeValue(x.Car)
		if err != nil {
			return nil, err
		}
		cdr, err := encodeValue(x.Cdr)
		if err != nil {
			return nil, err
		}
		return &wireValue{Kind: "c", Car: car, Cdr: cdr}, nil
	}
	return nil, fmt.Errorf("constant of type %s is not serializable", value.TypeName(v))
}

func decodeValue(w *wireValue) (value.Value, error) {
	switch w.Kind {
	case "i":
		return value.Int(w.Int), nil
	case "f":
		return value.Float(w.Float), nil
	case "b":
		return value.Bool(w.Bool), nil
	case "s":
		return value.Str(w.Str), nil
	case "y":
		return value.Symbol(w.Str), nil
	case "e":
		return value.Empty, nil
	case "c":
		if w.Car == nil || w.Cdr == nil {
			return nil, fmt.Errorf("cons constant missing car or cdr")
		}
		car, err := decodeValue(w.Car)
		if err != nil {
			return nil, err
		}
		cdr, err := decodeValue(w.Cdr)
		if err != nil {
			return nil, err
		}
		cell := value.NewCons(car, cdr)
		value.Release(car)
		value.Release(cdr)
		return cell, nil
	}
	return nil, fmt.Errorf("unknown constant tag %q", w.Kind)
}

func encodePattern(p *compiler.Pattern) (*wirePattern, error) {
	w := &wirePattern{Kind: int(p.Kind), Name: p.Name, Sym: p.Sym}
	if p.Literal != nil {
		lit, err := encodeValue(NodeToValue(p.Literal))
		if err != nil {
			return nil, err
		}
		w.Literal = lit
	}
	if p.Head != nil {
		h, err := encodePattern(p.Head)
		if err != nil {
			return nil, err
		}
		w.Head = h
	}
	if p.Tail != nil {
		t, err := encodePattern(p.Tail)
		if err != nil {
			return nil, err
		}
		w.Tail = t
	}
	for _, e := range p.Elems {
		we, err := encodePattern(e)
		if err != nil {
			return nil, err
		}
		w.Elems = append(w.Elems, *we)
	}
	return w, nil
}

func decodePattern(w *wirePattern) (*compiler.Pattern, error) {
	p := &compiler.Pattern{Kind: compiler.PatternKind(w.Kind), Name: w.Name, Sym: w.Sym}
	if w.Literal != nil {
		v, err := decodeValue(w.Literal)
		if err != nil {
			return nil, err
		}
		n, err := ValueToNode(v)
		value.Release(v)
		if err != nil {
			return nil, err
		}
		p.Literal = n
	}
	if w.Head != nil {
		h, err := decodePattern(w.Head)
		if err != nil {
			return nil, err
		}
		p.Head = h
	}
	if w.Tail != nil {
		t, err := decodePattern(w.Tail)
		if err != nil {
			return nil, err
		}
		p.Tail = t
	}
	for i := range w.Elems {
		e, err := decodePattern(&w.Elems[i])
		if err != nil {
			return nil, err
		}
		p.Elems = append(p.Elems, e)
	}
	return p, nil
}
