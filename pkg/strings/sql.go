package strings

import (
	"fmt"
	"strconv"
	"unicode/utf8"
)

// MaxIdentifierLength is PostgreSQL's NAMEDATALEN-1. Longer names are
// truncated by the server, so a longer name can never match a catalog entry.
const MaxIdentifierLength = 63

// ValidateIdentifier checks that name can be used as a quoted SQL identifier.
// Quoting handles every printable character; what remains is the empty name,
// NUL bytes, invalid UTF-8 and names the server would silently truncate.
func ValidateIdentifier(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("identifier is empty")
	case len(name) > MaxIdentifierLength:
		return fmt.Errorf("identifier %q exceeds %d bytes", name, MaxIdentifierLength)
	case !utf8.ValidString(name):
		return fmt.Errorf("identifier %q is not valid UTF-8", name)
	}
	for i := 0; i < len(name); i++ {
		if name[i] == 0 {
			return fmt.Errorf("identifier %q contains a NUL byte", name)
		}
	}
	return nil
}

// QuoteIdentifier returns name as a double-quoted identifier with embedded
// double quotes doubled.
func QuoteIdentifier(name string) string {
	sb := NewSQLBuilder(len(name) + 2)
	defer sb.Close()
	return sb.WriteIdentifier(name).String()
}

// SQLBuilder provides pooled SQL query building. Identifiers are always
// written quoted; values never go through the builder except as numbered
// placeholders.
type SQLBuilder struct {
	builder *Builder
	size    BuilderSize
}

// NewSQLBuilder creates a new SQL builder
func NewSQLBuilder(estimatedLength int) *SQLBuilder {
	size := sizeFor(estimatedLength)
	return &SQLBuilder{
		builder: GetBuilder(size),
		size:    size,
	}
}

// WriteQuery writes a literal SQL fragment
func (sb *SQLBuilder) WriteQuery(query string) *SQLBuilder {
	sb.builder.WriteString(query)
	return sb
}

// WriteIdentifier writes a quoted identifier, doubling embedded quotes
func (sb *SQLBuilder) WriteIdentifier(name string) *SQLBuilder {
	sb.builder.WriteByte('"')
	for i := 0; i < len(name); i++ {
		if name[i] == '"' {
			sb.builder.WriteString(`""`)
		} else {
			sb.builder.WriteByte(name[i])
		}
	}
	sb.builder.WriteByte('"')
	return sb
}

// WriteStringLiteral writes a quoted string literal. Only constants chosen by
// the program go through here; user supplied values are bound parameters.
func (sb *SQLBuilder) WriteStringLiteral(value string) *SQLBuilder {
	sb.builder.WriteByte('\'')
	for i := 0; i < len(value); i++ {
		if value[i] == '\'' {
			sb.builder.WriteString("''")
		} else {
			sb.builder.WriteByte(value[i])
		}
	}
	sb.builder.WriteByte('\'')
	return sb
}

// WriteParam writes the numbered placeholder $n
func (sb *SQLBuilder) WriteParam(n int) *SQLBuilder {
	sb.builder.WriteByte('$')
	sb.builder.WriteString(strconv.Itoa(n))
	return sb
}

// String returns the built SQL query
func (sb *SQLBuilder) String() string {
	return Clone(sb.builder.String())
}

// Close releases the builder back to the pool
func (sb *SQLBuilder) Close() {
	if sb.builder != nil {
		PutBuilder(sb.builder, sb.size)
		sb.builder = nil
	}
}
