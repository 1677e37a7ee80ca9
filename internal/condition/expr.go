package condition

import (
	"fmt"
	"strings"
)

// Dialect supplies the two pieces of SQL syntax that differ between
// databases when rendering a predicate.
type Dialect struct {
	// QuoteIdentifier wraps a column name in the database's quote characters.
	QuoteIdentifier func(name string) string
	// Placeholder returns the bind marker for the n-th argument (1-based).
	Placeholder func(n int) string
}

// QuestionMark is the placeholder style of SQLite, MySQL and Snowflake.
func QuestionMark(int) string { return "?" }

// Dollar is the PostgreSQL placeholder style ($1, $2, ...).
func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

// AtP is the SQL Server placeholder style (@p1, @p2, ...).
func AtP(n int) string { return fmt.Sprintf("@p%d", n) }

// Writer accumulates SQL text and its bound arguments. A single Writer can
// be shared across a whole statement so placeholders stay numbered in order.
type Writer struct {
	d    Dialect
	sb   strings.Builder
	args []any
}

// NewWriter returns an empty Writer for the dialect.
func NewWriter(d Dialect) *Writer {
	if d.Placeholder == nil {
		d.Placeholder = QuestionMark
	}
	if d.QuoteIdentifier == nil {
		d.QuoteIdentifier = func(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }
	}
	return &Writer{d: d}
}

// Arg binds v and returns its placeholder.
func (w *Writer) Arg(v any) string {
	w.args = append(w.args, v)
	return w.d.Placeholder(len(w.args))
}

// Quote returns the dialect-quoted identifier.
func (w *Writer) Quote(name string) string {
	return w.d.QuoteIdentifier(name)
}

func (w *Writer) WriteString(s string) {
	w.sb.WriteString(s)
}

func (w *Writer) String() string { return w.sb.String() }

// Args returns the bound arguments in placeholder order.
func (w *Writer) Args() []any { return w.args }

// Expr is a compiled predicate.
type Expr interface {
	Render(w *Writer)
}

// Render renders e on its own, returning the SQL fragment and arguments.
func Render(d Dialect, e Expr) (string, []any) {
	w := NewWriter(d)
	if e != nil {
		e.Render(w)
	}
	return w.String(), w.Args()
}

type junction struct {
	logic Logic
	parts []Expr
}

func (j *junction) Render(w *Writer) {
	sep := " AND "
	if j.logic == Or {
		sep = " OR "
	}
	w.WriteString("(")
	for i, p := range j.parts {
		if i > 0 {
			w.WriteString(sep)
		}
		p.Render(w)
	}
	w.WriteString(")")
}

type comparison struct {
	column string
	op     Operator
	value  any
}

func (c *comparison) Render(w *Writer) {
	w.WriteString(w.Quote(c.column) + " " + string(c.op) + " " + w.Arg(c.value))
}

type inList struct {
	column string
	values []any
}

func (in *inList) Render(w *Writer) {
	if len(in.values) == 0 {
		w.WriteString("1 = 0")
		return
	}
	ph := make([]string, len(in.values))
	for i, v := range in.values {
		ph[i] = w.Arg(v)
	}
	w.WriteString(w.Quote(in.column) + " IN (" + strings.Join(ph, ", ") + ")")
}

type between struct {
	column      string
	lower, upper any
}

func (b *between) Render(w *Writer) {
	w.WriteString(w.Quote(b.column) + " BETWEEN " + w.Arg(b.lower) + " AND " + w.Arg(b.upper))
}

type isNull struct {
	column string
}

func (n *isNull) Render(w *Writer) {
	w.WriteString(w.Quote(n.column) + " IS NULL")
}
