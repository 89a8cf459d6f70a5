// Package proto owns the per-direction command tables.
//
// Ownership boundary:
// - direction parsing
// - qualified command names (CTOS_*/STOC_*)
// - id <-> name bijection per direction
package proto

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Direction is one of the two independent command-id spaces.
type Direction string

const (
	CTOS Direction = "CTOS"
	STOC Direction = "STOC"
)

var (
	ErrInvalidDirection  = errors.New("proto: invalid direction")
	ErrInvalidIdentifier = errors.New("proto: invalid identifier")
	ErrUnknownProtocol   = errors.New("proto: unknown protocol")
	ErrDuplicateCommand  = errors.New("proto: duplicate command name")
	ErrInvalidCommand    = errors.New("proto: invalid command name")
)

var qualifiedPattern = regexp.MustCompile(`^(STOC|CTOS)_([_A-Z]+)$`)

// Directions lists both directions in a stable order.
func Directions() []Direction {
	return []Direction{CTOS, STOC}
}

func ParseDirection(raw string) (Direction, error) {
	switch Direction(strings.ToUpper(strings.TrimSpace(raw))) {
	case CTOS:
		return CTOS, nil
	case STOC:
		return STOC, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, raw)
	}
}

// QualifiedName is a direction-prefixed command name such as CTOS_JOIN_GAME.
type QualifiedName struct {
	Direction Direction
	Command   string
}

func (q QualifiedName) String() string {
	return string(q.Direction) + "_" + q.Command
}

// ParseQualifiedName splits "CTOS_PLAYER_INFO" into CTOS and PLAYER_INFO.
func ParseQualifiedName(raw string) (QualifiedName, error) {
	m := qualifiedPattern.FindStringSubmatch(raw)
	if m == nil {
		return QualifiedName{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, raw)
	}
	return QualifiedName{Direction: Direction(m[1]), Command: m[2]}, nil
}

type table struct {
	byID   map[uint8]string
	byName map[string]uint8
}

// Directory maps command ids to canonical names for both directions.
// It is immutable once built.
type Directory struct {
	tables map[Direction]table
}

// NewDirectory builds the bijection for each direction.
// Names are upper-cased; a name used twice in one direction is rejected.
func NewDirectory(raw map[Direction]map[uint8]string) (*Directory, error) {
	d := &Directory{tables: make(map[Direction]table, 2)}
	for _, dir := range Directions() {
		t := table{byID: make(map[uint8]string), byName: make(map[string]uint8)}
		for id, name := range raw[dir] {
			name = strings.ToUpper(strings.TrimSpace(name))
			if !isCommandName(name) {
				log.Error().Str("direction", string(dir)).Uint8("id", id).Str("name", name).
					Msg("proto.NewDirectory invalid command name")
				return nil, fmt.Errorf("%w: %s %d %q", ErrInvalidCommand, dir, id, name)
			}
			if prev, ok := t.byName[name]; ok {
				return nil, fmt.Errorf("%w: %s %s (ids %d and %d)", ErrDuplicateCommand, dir, name, prev, id)
			}
			t.byID[id] = name
			t.byName[name] = id
		}
		d.tables[dir] = t
	}
	for dir := range raw {
		if dir != CTOS && dir != STOC {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDirection, dir)
		}
	}
	return d, nil
}

// Name returns the canonical command name for id.
func (d *Directory) Name(dir Direction, id uint8) (string, bool) {
	name, ok := d.tables[dir].byID[id]
	return name, ok
}

// ID resolves a command name to its numeric id. A decimal id is returned
// unchanged so callers that already hold resolved ids can pass them through.
func (d *Directory) ID(dir Direction, command string) (uint8, error) {
	if n, err := strconv.ParseUint(command, 10, 8); err == nil {
		return uint8(n), nil
	}
	t, ok := d.tables[dir]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDirection, dir)
	}
	id, ok := t.byName[command]
	if !ok {
		return 0, fmt.Errorf("%w: %s %s", ErrUnknownProtocol, dir, command)
	}
	return id, nil
}

// Has reports whether command is a known name in dir.
func (d *Directory) Has(dir Direction, command string) bool {
	_, ok := d.tables[dir].byName[command]
	return ok
}

// Commands lists the names of dir ordered by id.
func (d *Directory) Commands(dir Direction) []string {
	t := d.tables[dir]
	ids := make([]int, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.byID[uint8(id)])
	}
	return out
}

func isCommandName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if !(c >= 'A' && c <= 'Z') && c != '_' {
			return false
		}
	}
	return true
}
