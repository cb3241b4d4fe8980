package handle

import (
	"fmt"
	"strings"

	"github.com/dexhelper/internal/dex"
)

// MethodRef names a method by descriptors, independent of any dex.
type MethodRef struct {
	Class  string
	Name   string
	Params []string
	Return string
}

// Proto returns the method descriptor, e.g. "(ILjava/lang/String;)V".
func (r MethodRef) Proto() string {
	return dex.MethodDescriptor(r.Params, r.Return)
}

// Shorty returns the shorty of the method, return type first.
func (r MethodRef) Shorty() string {
	return dex.Shorty(r.Return, r.Params)
}

// String renders the ref in smali form: Lcom/a/C;->m(I)V.
func (r MethodRef) String() string {
	return r.Class + "->" + r.Name + r.Proto()
}

// ParseMethodRef parses the smali form produced by MethodRef.String.
func ParseMethodRef(s string) (MethodRef, error) {
	class, rest, ok := strings.Cut(s, "->")
	if !ok || !dex.IsDescriptor(class) {
		return MethodRef{}, fmt.Errorf("method ref %q: expected Lclass;->name(params)ret", s)
	}
	open := strings.IndexByte(rest, '(')
	if open <= 0 {
		return MethodRef{}, fmt.Errorf("method ref %q: missing name or proto", s)
	}
	params, ret, err := dex.ParseMethodDescriptor(rest[open:])
	if err != nil {
		return MethodRef{}, err
	}
	return MethodRef{Class: class, Name: rest[:open], Params: params, Return: ret}, nil
}

// FieldRef names a field by descriptors, independent of any dex.
type FieldRef struct {
	Class string
	Name  string
	Type  string
}

// String renders the ref in smali form: Lcom/a/C;->f:I.
func (r FieldRef) String() string {
	return r.Class + "->" + r.Name + ":" + r.Type
}

// ParseFieldRef parses the smali form produced by FieldRef.String.
func ParseFieldRef(s string) (FieldRef, error) {
	class, rest, ok := strings.Cut(s, "->")
	if !ok || !dex.IsDescriptor(class) {
		return FieldRef{}, fmt.Errorf("field ref %q: expected Lclass;->name:type", s)
	}
	name, typ, ok := strings.Cut(rest, ":")
	if !ok || name == "" || !dex.IsDescriptor(typ) || typ == "V" {
		return FieldRef{}, fmt.Errorf("field ref %q: bad name or type", s)
	}
	return FieldRef{Class: class, Name: name, Type: typ}, nil
}

// ClassRef names a type by descriptor.
type ClassRef struct {
	Descriptor string
}

func (r ClassRef) String() string { return r.Descriptor }

// ParseClassRef accepts a type descriptor or a dotted Java name.
func ParseClassRef(s string) (ClassRef, error) {
	if dex.IsDescriptor(s) {
		return ClassRef{Descriptor: s}, nil
	}
	desc := dex.Descriptor(s)
	if !dex.IsDescriptor(desc) {
		return ClassRef{}, fmt.Errorf("class ref %q: not a descriptor or java name", s)
	}
	return ClassRef{Descriptor: desc}, nil
}
