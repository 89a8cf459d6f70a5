package proto

import (
	"errors"
	"reflect"
	"testing"

	"github.com/danmuck/duelwire/internal/testutil/testlog"
)

func testDirectory(t *testing.T) *Directory {
	t.Helper()
	d, err := NewDirectory(map[Direction]map[uint8]string{
		CTOS: {0x10: "PLAYER_INFO", 0x12: "JOIN_GAME", 0x01: "RESPONSE"},
		STOC: {0x01: "GAME_MSG", 0x19: "CHAT"},
	})
	if err != nil {
		t.Fatalf("new directory: %v", err)
	}
	return d
}

func TestParseQualifiedName(t *testing.T) {
	testlog.Start(t)
	q, err := ParseQualifiedName("CTOS_JOIN_GAME")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.Direction != CTOS || q.Command != "JOIN_GAME" {
		t.Fatalf("unexpected parse: %+v", q)
	}
	if q.String() != "CTOS_JOIN_GAME" {
		t.Fatalf("round trip string: %q", q.String())
	}
}

func TestParseQualifiedNameRejectsMalformed(t *testing.T) {
	testlog.Start(t)
	for _, raw := range []string{"", "CTOS", "CTOS_", "ctos_chat", "XTOS_CHAT", "STOC_CHAT1", "STOC_CHAT ", "CTOS-CHAT"} {
		if _, err := ParseQualifiedName(raw); !errors.Is(err, ErrInvalidIdentifier) {
			t.Fatalf("%q: expected ErrInvalidIdentifier, got %v", raw, err)
		}
	}
}

func TestIDResolvesNamesAndPassesNumbersThrough(t *testing.T) {
	testlog.Start(t)
	d := testDirectory(t)

	id, err := d.ID(CTOS, "JOIN_GAME")
	if err != nil || id != 0x12 {
		t.Fatalf("JOIN_GAME: id=%d err=%v", id, err)
	}
	id, err = d.ID(STOC, "CHAT")
	if err != nil || id != 0x19 {
		t.Fatalf("CHAT: id=%d err=%v", id, err)
	}
	id, err = d.ID(CTOS, "200")
	if err != nil || id != 200 {
		t.Fatalf("numeric passthrough: id=%d err=%v", id, err)
	}
}

func TestIDUnknownProtocol(t *testing.T) {
	testlog.Start(t)
	d := testDirectory(t)
	if _, err := d.ID(STOC, "JOIN_GAME"); !errors.Is(err, ErrUnknownProtocol) {
		t.Fatalf("expected ErrUnknownProtocol, got %v", err)
	}
	if _, err := d.ID(CTOS, "256"); !errors.Is(err, ErrUnknownProtocol) {
		t.Fatalf("out-of-range id should not pass through, got %v", err)
	}
}

func TestNameAndCommands(t *testing.T) {
	testlog.Start(t)
	d := testDirectory(t)
	name, ok := d.Name(STOC, 0x01)
	if !ok || name != "GAME_MSG" {
		t.Fatalf("name lookup: ok=%v name=%q", ok, name)
	}
	if _, ok := d.Name(STOC, 0x02); ok {
		t.Fatalf("expected missing id")
	}
	got := d.Commands(CTOS)
	want := []string{"RESPONSE", "PLAYER_INFO", "JOIN_GAME"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("commands order: got=%v want=%v", got, want)
	}
}

func TestNewDirectoryRejectsDuplicateNames(t *testing.T) {
	testlog.Start(t)
	_, err := NewDirectory(map[Direction]map[uint8]string{
		CTOS: {1: "CHAT", 2: "chat"},
	})
	if !errors.Is(err, ErrDuplicateCommand) {
		t.Fatalf("expected ErrDuplicateCommand, got %v", err)
	}
}

func TestNewDirectoryRejectsBadDirection(t *testing.T) {
	testlog.Start(t)
	_, err := NewDirectory(map[Direction]map[uint8]string{"SIDEWAYS": {1: "CHAT"}})
	if !errors.Is(err, ErrInvalidDirection) {
		t.Fatalf("expected ErrInvalidDirection, got %v", err)
	}
}

func TestParseDirection(t *testing.T) {
	testlog.Start(t)
	d, err := ParseDirection(" stoc ")
	if err != nil || d != STOC {
		t.Fatalf("parse direction: d=%q err=%v", d, err)
	}
	if _, err := ParseDirection("up"); !errors.Is(err, ErrInvalidDirection) {
		t.Fatalf("expected ErrInvalidDirection, got %v", err)
	}
}
