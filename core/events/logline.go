package events

import (
	"fmt"
	"strconv"
	"strings"

	"confio/crypto"
	"confio/core/types"
)

// LogLine is a contract log entry of the form "<verb>:<uint64>[:<addr>]".
// Indexers must accept unknown verbs and any number of fields, so Fields keeps
// everything after the verb verbatim.
type LogLine struct {
	Verb    string
	Fields  []string
	Values  []uint64
	Address *crypto.Address
}

// EventType implements Event.
func (l LogLine) EventType() string { return "log." + l.Verb }

// Format renders a log line. Numeric values come first, followed by the
// optional address in its text form.
func Format(verb string, values []uint64, addr *crypto.Address) []byte {
	var b strings.Builder
	b.WriteString(verb)
	for _, v := range values {
		b.WriteByte(':')
		b.WriteString(strconv.FormatUint(v, 10))
	}
	if addr != nil {
		b.WriteByte(':')
		b.WriteString(addr.String())
	}
	return []byte(b.String())
}

// Line is a convenience wrapper around Format for the common
// "<verb>:<amount>:<addr>" shape.
func Line(verb string, amount uint64, addr crypto.Address) []byte {
	return Format(verb, []uint64{amount}, &addr)
}

// Parse decodes a log line. Fields that look like integers land in Values and
// the first field that decodes as an address lands in Address; anything else
// is kept only in Fields.
func Parse(raw []byte) (LogLine, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return LogLine{}, fmt.Errorf("events: empty log line")
	}
	parts := strings.Split(text, ":")
	verb := strings.TrimSpace(parts[0])
	if verb == "" {
		return LogLine{}, fmt.Errorf("events: log line %q has no verb", text)
	}
	line := LogLine{Verb: verb, Fields: parts[1:]}
	for _, field := range line.Fields {
		if v, err := strconv.ParseUint(field, 10, 64); err == nil {
			line.Values = append(line.Values, v)
			continue
		}
		if line.Address == nil {
			if addr, err := crypto.DecodeAddress(field); err == nil {
				a := addr
				line.Address = &a
			}
		}
	}
	return line, nil
}

// Committed is emitted by the ledger for every log line of a confirmed
// application call.
type Committed struct {
	Round uint64
	TxID  types.TxID
	AppID uint64
	Line  LogLine
}

// EventType implements Event.
func (c Committed) EventType() string { return c.Line.EventType() }
