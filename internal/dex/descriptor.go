package dex

import (
	"fmt"
	"strings"
)

var primitiveNames = map[byte]string{
	'V': "void",
	'Z': "boolean",
	'B': "byte",
	'S': "short",
	'C': "char",
	'I': "int",
	'J': "long",
	'F': "float",
	'D': "double",
}

// ShortyChar returns the shorty character of a type descriptor.
func ShortyChar(desc string) byte {
	if desc == "" {
		return 0
	}
	if desc[0] == '[' {
		return 'L'
	}
	return desc[0]
}

// Shorty derives the shorty of a method from its return and parameter descriptors.
func Shorty(ret string, params []string) string {
	var sb strings.Builder
	sb.WriteByte(ShortyChar(ret))
	for _, p := range params {
		sb.WriteByte(ShortyChar(p))
	}
	return sb.String()
}

// JavaName renders a descriptor in source form: "[Ljava/lang/String;" -> "java.lang.String[]".
func JavaName(desc string) string {
	dims := 0
	for dims < len(desc) && desc[dims] == '[' {
		dims++
	}
	elem := desc[dims:]
	var name string
	switch {
	case len(elem) == 1 && primitiveNames[elem[0]] != "":
		name = primitiveNames[elem[0]]
	case strings.HasPrefix(elem, "L") && strings.HasSuffix(elem, ";"):
		name = strings.ReplaceAll(elem[1:len(elem)-1], "/", ".")
	default:
		name = elem
	}
	return name + strings.Repeat("[]", dims)
}

// Descriptor converts a source-form name back into a descriptor. Strings that
// already look like descriptors are returned unchanged.
func Descriptor(name string) string {
	if IsDescriptor(name) {
		return name
	}
	dims := 0
	for strings.HasSuffix(name, "[]") {
		name = strings.TrimSuffix(name, "[]")
		dims++
	}
	elem := ""
	for c, n := range primitiveNames {
		if n == name {
			elem = string(c)
			break
		}
	}
	if elem == "" {
		elem = "L" + strings.ReplaceAll(name, ".", "/") + ";"
	}
	return strings.Repeat("[", dims) + elem
}

// IsDescriptor reports whether s is a syntactically valid field type descriptor.
func IsDescriptor(s string) bool {
	n, err := descriptorLen(s)
	return err == nil && n == len(s)
}

// ParseMethodDescriptor splits "(ILjava/lang/String;)V" into parameter and return descriptors.
func ParseMethodDescriptor(s string) ([]string, string, error) {
	if !strings.HasPrefix(s, "(") {
		return nil, "", fmt.Errorf("method descriptor %q: missing '('", s)
	}
	rest := s[1:]
	var params []string
	for !strings.HasPrefix(rest, ")") {
		n, err := descriptorLen(rest)
		if err != nil {
			return nil, "", fmt.Errorf("method descriptor %q: %w", s, err)
		}
		params = append(params, rest[:n])
		rest = rest[n:]
	}
	ret := rest[1:]
	if ret != "V" && !IsDescriptor(ret) {
		return nil, "", fmt.Errorf("method descriptor %q: bad return type", s)
	}
	return params, ret, nil
}

// MethodDescriptor joins parameter and return descriptors.
func MethodDescriptor(params []string, ret string) string {
	return "(" + strings.Join(params, "") + ")" + ret
}

func descriptorLen(s string) (int, error) {
	i := 0
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i >= len(s) {
		return 0, fmt.Errorf("truncated descriptor %q", s)
	}
	switch c := s[i]; {
	case c == 'L':
		end := strings.IndexByte(s[i:], ';')
		if end <= 1 {
			return 0, fmt.Errorf("unterminated class descriptor %q", s)
		}
		return i + end + 1, nil
	case c == 'V' && i == 0:
		return 1, nil
	case primitiveNames[c] != "" && c != 'V':
		return i + 1, nil
	default:
		return 0, fmt.Errorf("invalid descriptor %q", s)
	}
}
