package marketplace

import (
	"fmt"
	"strings"

	"github.com/ccos-run/ccos/pkg/rtfserrors"
	"github.com/ccos-run/ccos/rtfs"
)

// TypeKind discriminates the RTFS native type language used for
// structural schema validation (spec.md §3.8: "primitives, records,
// unions, refinements").
type TypeKind int

const (
	TAny TypeKind = iota
	TInt
	TFloat
	TString
	TBool
	TKeyword
	TVector
	TRecord
	TUnion
	TRefinement
)

// Field is one named, typed slot of a TRecord.
type Field struct {
	Name     string
	Type     TypeExpr
	Optional bool
}

// TypeExpr is the tagged union of the structural schema language.
type TypeExpr struct {
	Kind TypeKind

	Elem *TypeExpr // TVector: element type

	Fields []Field // TRecord

	Variants []TypeExpr // TUnion

	Base   *TypeExpr          // TRefinement: underlying type
	Refine func(rtfs.Value) bool // TRefinement: predicate, e.g. "must be positive"
	RefineDesc string
}

func Any() TypeExpr                  { return TypeExpr{Kind: TAny} }
func Int() TypeExpr                  { return TypeExpr{Kind: TInt} }
func Float() TypeExpr                { return TypeExpr{Kind: TFloat} }
func StringT() TypeExpr              { return TypeExpr{Kind: TString} }
func Bool() TypeExpr                 { return TypeExpr{Kind: TBool} }
func Keyword() TypeExpr              { return TypeExpr{Kind: TKeyword} }
func Vector(elem TypeExpr) TypeExpr  { return TypeExpr{Kind: TVector, Elem: &elem} }
func Record(fields ...Field) TypeExpr { return TypeExpr{Kind: TRecord, Fields: fields} }
func Union(variants ...TypeExpr) TypeExpr { return TypeExpr{Kind: TUnion, Variants: variants} }
func Refine(base TypeExpr, desc string, pred func(rtfs.Value) bool) TypeExpr {
	return TypeExpr{Kind: TRefinement, Base: &base, Refine: pred, RefineDesc: desc}
}

// Validate performs structural validation of v against t, returning a
// SchemaMismatch RuntimeError with a JSON-pointer-style path to the
// offending field on failure (spec.md §4.4 step 2/6).
func Validate(t TypeExpr, v rtfs.Value) error {
	return validateAt(t, v, "$")
}

func validateAt(t TypeExpr, v rtfs.Value, path string) error {
	switch t.Kind {
	case TAny:
		return nil
	case TInt:
		if v.Kind != rtfs.KInt {
			return mismatch(path, "Int", v.Kind.String())
		}
	case TFloat:
		if v.Kind != rtfs.KInt && v.Kind != rtfs.KFloat {
			return mismatch(path, "Float", v.Kind.String())
		}
	case TString:
		if v.Kind != rtfs.KString {
			return mismatch(path, "String", v.Kind.String())
		}
	case TBool:
		if v.Kind != rtfs.KBool {
			return mismatch(path, "Bool", v.Kind.String())
		}
	case TKeyword:
		if v.Kind != rtfs.KKeyword {
			return mismatch(path, "Keyword", v.Kind.String())
		}
	case TVector:
		if v.Kind != rtfs.KVector {
			return mismatch(path, "Vector", v.Kind.String())
		}
		for i, item := range v.Vec {
			if err := validateAt(*t.Elem, item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	case TRecord:
		if v.Kind != rtfs.KMap {
			return mismatch(path, "Record", v.Kind.String())
		}
		for _, f := range t.Fields {
			fv, ok := v.MapGet(f.Name)
			if !ok {
				if f.Optional {
					continue
				}
				return rtfserrors.Newf("marketplace.Validate", rtfserrors.KindSchemaMismatch,
					"%s: missing required field %q", path, f.Name).WithDetail("path", path).WithDetail("field", f.Name)
			}
			if err := validateAt(f.Type, fv, path+"."+f.Name); err != nil {
				return err
			}
		}
	case TUnion:
		var lastErr error
		for _, variant := range t.Variants {
			if err := validateAt(variant, v, path); err == nil {
				return nil
			} else {
				lastErr = err
			}
		}
		if lastErr == nil {
			lastErr = mismatch(path, "Union", v.Kind.String())
		}
		return lastErr
	case TRefinement:
		if err := validateAt(*t.Base, v, path); err != nil {
			return err
		}
		if t.Refine != nil && !t.Refine(v) {
			return rtfserrors.Newf("marketplace.Validate", rtfserrors.KindSchemaMismatch,
				"%s: failed refinement %q", path, t.RefineDesc).WithDetail("path", path)
		}
	default:
		return rtfserrors.Newf("marketplace.Validate", rtfserrors.KindTypeError, "%s: unknown type kind", path)
	}
	return nil
}

func mismatch(path, want, got string) error {
	return rtfserrors.Newf("marketplace.Validate", rtfserrors.KindSchemaMismatch,
		"%s: expected %s, got %s", path, want, got).WithDetail("path", path).WithDetail("expected", want).WithDetail("actual", got)
}

// String renders a TypeExpr for diagnostics/logging.
func (t TypeExpr) String() string {
	switch t.Kind {
	case TAny:
		return "any"
	case TInt:
		return "int"
	case TFloat:
		return "float"
	case TString:
		return "string"
	case TBool:
		return "bool"
	case TKeyword:
		return "keyword"
	case TVector:
		return "[" + t.Elem.String() + "]"
	case TRecord:
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = f.Name + ":" + f.Type.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case TUnion:
		parts := make([]string, len(t.Variants))
		for i, v := range t.Variants {
			parts[i] = v.String()
		}
		return strings.Join(parts, " | ")
	case TRefinement:
		return t.Base.String() + "|" + t.RefineDesc
	default:
		return "unknown"
	}
}
