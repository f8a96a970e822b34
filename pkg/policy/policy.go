// Package policy writes and reads serialization policy files.
//
// A policy lists, for one service, every type that may cross the wire in
// either direction together with a signature of its serialized shape. A
// server can compare signatures against its own view of the types to
// reject clients compiled against a different shape.
//
// The format is line oriented:
//
//	@FinalFields, false
//	com.example.Shape, true, false, true, false, com.example.Shape/3480462781, 3480462781
//
// The columns are the type name, serializable and instantiable when sent
// from the client, the same two flags when sent to the client, the type
// id and the signature.
package policy

import (
	"bufio"
	"fmt"
	"hash/crc32"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/715d/rpcoracle/internal/sto"
	"github.com/715d/rpcoracle/pkg/typemodel"
)

// Extension is appended to the service name to form a policy file name.
const Extension = ".rpc.policy"

const finalFieldsHeader = "@FinalFields"

// Flags is the serializability of a type in one direction.
type Flags struct {
	Serializable bool `json:"serializable"`
	Instantiable bool `json:"instantiable"`
}

// Entry is one type in a policy.
type Entry struct {
	Type       string `json:"type"`
	FromClient Flags  `json:"from_client"`
	ToClient   Flags  `json:"to_client"`
	Signature  string `json:"signature"`
}

// ID returns the type id written to the policy.
func (e Entry) ID() string { return e.Type + "/" + e.Signature }

// Policy is the serialization policy of one service.
type Policy struct {
	FinalFields bool    `json:"final_fields"`
	Entries     []Entry `json:"entries"`
}

// FileName returns the policy file name for a service.
func FileName(service string) string { return service + Extension }

// New builds the policy for a service from the oracles of both wire
// directions. Either oracle may be nil when that direction has no types.
func New(u *typemodel.Universe, fromClient, toClient *sto.SerializableTypeOracle) *Policy {
	p := &Policy{}
	entries := make(map[typemodel.Type]*Entry)
	var order []typemodel.Type

	add := func(o *sto.SerializableTypeOracle, set func(*Entry, Flags)) {
		if o == nil {
			return
		}
		p.FinalFields = p.FinalFields || o.FinalFieldsSerialized()
		for _, t := range o.SerializableTypes() {
			e, ok := entries[t]
			if !ok {
				e = &Entry{Type: t.Name(), Signature: Signature(u, o, t)}
				entries[t] = e
				order = append(order, t)
			}
			set(e, Flags{Serializable: true, Instantiable: o.MaybeInstantiated(t)})
		}
	}
	add(fromClient, func(e *Entry, f Flags) { e.FromClient = f })
	add(toClient, func(e *Entry, f Flags) { e.ToClient = f })

	slices.SortFunc(order, typemodel.Compare)
	p.Entries = make([]Entry, 0, len(order))
	for _, t := range order {
		p.Entries = append(p.Entries, *entries[t])
	}
	return p
}

// Signature returns the CRC-32 (IEEE) signature of t's serialized shape:
// its name, then the name and erased type of each serialized field, for t
// and every serializable superclass.
func Signature(u *typemodel.Universe, o *sto.SerializableTypeOracle, t typemodel.Type) string {
	h := crc32.NewIEEE()
	cur := u.Erasure(t)
	io.WriteString(h, cur.Name())
	for cur != nil && o.IsSerializable(cur) {
		for _, f := range o.SerializableFields(cur) {
			io.WriteString(h, f.Name)
			io.WriteString(h, u.Erasure(f.Type).Name())
		}
		super := u.SuperclassOf(cur)
		if super == nil {
			break
		}
		cur = u.Erasure(super)
	}
	return strconv.FormatUint(uint64(h.Sum32()), 10)
}

// Lookup returns the entry for a type name.
func (p *Policy) Lookup(name string) (Entry, bool) {
	i, ok := slices.BinarySearchFunc(p.Entries, name, func(e Entry, name string) int {
		return strings.Compare(e.Type, name)
	})
	if !ok {
		return Entry{}, false
	}
	return p.Entries[i], true
}

// WriteTo writes the policy in its text form.
func (p *Policy) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	b.Grow(64 * (len(p.Entries) + 1))
	fmt.Fprintf(&b, "%s, %t\n", finalFieldsHeader, p.FinalFields)
	for _, e := range p.Entries {
		fmt.Fprintf(&b, "%s, %t, %t, %t, %t, %s, %s\n",
			e.Type,
			e.FromClient.Serializable, e.FromClient.Instantiable,
			e.ToClient.Serializable, e.ToClient.Instantiable,
			e.ID(), e.Signature)
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// Read parses a policy written by WriteTo. Blank lines are ignored.
func Read(r io.Reader) (*Policy, error) {
	p := &Policy{}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		cols := strings.Split(text, ",")
		for i := range cols {
			cols[i] = strings.TrimSpace(cols[i])
		}

		if strings.HasPrefix(text, "@") {
			if cols[0] != finalFieldsHeader || len(cols) != 2 {
				return nil, fmt.Errorf("line %d: unknown policy header %q", line, text)
			}
			v, err := strconv.ParseBool(cols[1])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			p.FinalFields = v
			continue
		}

		e, err := parseEntry(cols)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		p.Entries = append(p.Entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	slices.SortFunc(p.Entries, func(a, b Entry) int { return strings.Compare(a.Type, b.Type) })
	return p, nil
}

func parseEntry(cols []string) (Entry, error) {
	if len(cols) != 7 {
		return Entry{}, fmt.Errorf("expected 7 columns, got %d", len(cols))
	}
	var flags [4]bool
	for i := range flags {
		v, err := strconv.ParseBool(cols[1+i])
		if err != nil {
			return Entry{}, fmt.Errorf("column %d: %w", 2+i, err)
		}
		flags[i] = v
	}
	e := Entry{
		Type:       cols[0],
		FromClient: Flags{Serializable: flags[0], Instantiable: flags[1]},
		ToClient:   Flags{Serializable: flags[2], Instantiable: flags[3]},
		Signature:  cols[6],
	}
	if cols[5] != e.ID() {
		return Entry{}, fmt.Errorf("type id %q does not match %q", cols[5], e.ID())
	}
	return e, nil
}
