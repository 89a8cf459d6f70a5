// Package fixture holds a small duel protocol definition shared by tests.
package fixture

import (
	"testing"

	"github.com/danmuck/duelwire/internal/protocol"
	"github.com/danmuck/duelwire/internal/protocol/proto"
	"github.com/danmuck/duelwire/internal/protocol/schema"
)

// Command ids used throughout the tests.
const (
	CTOSResponse    uint8 = 0x01
	CTOSHandResult  uint8 = 0x03
	CTOSPlayerInfo  uint8 = 0x10
	CTOSCreateGame  uint8 = 0x11
	CTOSJoinGame    uint8 = 0x12
	CTOSChat        uint8 = 0x16
	STOCGameMsg     uint8 = 0x01
	STOCErrorMsg    uint8 = 0x02
	STOCHandResult  uint8 = 0x05
	STOCJoinGame    uint8 = 0x12
	STOCTypeChange  uint8 = 0x13
	STOCChat        uint8 = 0x19
	STOCPlayerEnter uint8 = 0x20
)

func Definition() protocol.Definition {
	return protocol.Definition{
		Typedefs: schema.Typedefs{
			"unsigned char":  "word8",
			"unsigned short": "word16Ule",
			"unsigned int":   "word32Ule",
			"int":            "word32Sle",
			"bool":           "word8",
		},
		Structs: []schema.StructDecl{
			{Name: "HostInfo", Fields: []schema.FieldDecl{
				{Name: "lflist", Type: "unsigned int"},
				{Name: "rule", Type: "unsigned char"},
				{Name: "mode", Type: "unsigned char"},
				{Name: "duel_rule", Type: "unsigned char"},
				{Name: "no_check_deck", Type: "bool"},
				{Name: "no_shuffle_deck", Type: "bool"},
				{Name: "start_lp", Type: "int"},
				{Name: "start_hand", Type: "unsigned char"},
				{Name: "draw_count", Type: "unsigned char"},
				{Name: "time_limit", Type: "unsigned short"},
			}},
			{Name: "CTOS_PlayerInfo", Fields: []schema.FieldDecl{
				{Name: "name", Type: "unsigned short", Length: 20, Encoding: schema.EncodingUTF16LE},
			}},
			{Name: "CTOS_JoinGame", Fields: []schema.FieldDecl{
				{Name: "version", Type: "unsigned short"},
				{Name: "align", Type: "unsigned short"},
				{Name: "gameid", Type: "unsigned int"},
				{Name: "pass", Type: "unsigned short", Length: 20, Encoding: schema.EncodingUTF16LE},
			}},
			{Name: "CTOS_HandResult", Fields: []schema.FieldDecl{
				{Name: "res", Type: "unsigned char"},
			}},
			{Name: "STOC_ErrorMsg", Fields: []schema.FieldDecl{
				{Name: "msg", Type: "unsigned char"},
				{Name: "align", Type: "unsigned char", Length: 3},
				{Name: "code", Type: "unsigned int"},
			}},
			{Name: "STOC_HandResult", Fields: []schema.FieldDecl{
				{Name: "res1", Type: "unsigned char"},
				{Name: "res2", Type: "unsigned char"},
			}},
			{Name: "STOC_JoinGame", Fields: []schema.FieldDecl{
				{Name: "info", Type: "HostInfo"},
			}},
			{Name: "STOC_TypeChange", Fields: []schema.FieldDecl{
				{Name: "type", Type: "unsigned char"},
			}},
			{Name: "STOC_HS_PlayerEnter", Fields: []schema.FieldDecl{
				{Name: "name", Type: "unsigned short", Length: 20, Encoding: schema.EncodingUTF16LE},
				{Name: "pos", Type: "unsigned char"},
			}},
		},
		Protos: map[proto.Direction]map[uint8]string{
			proto.CTOS: {
				CTOSResponse:   "RESPONSE",
				CTOSHandResult: "HAND_RESULT",
				CTOSPlayerInfo: "PLAYER_INFO",
				CTOSCreateGame: "CREATE_GAME",
				CTOSJoinGame:   "JOIN_GAME",
				CTOSChat:       "CHAT",
			},
			proto.STOC: {
				STOCGameMsg:     "GAME_MSG",
				STOCErrorMsg:    "ERROR_MSG",
				STOCHandResult:  "HAND_RESULT",
				STOCJoinGame:    "JOIN_GAME",
				STOCTypeChange:  "TYPE_CHANGE",
				STOCChat:        "CHAT",
				STOCPlayerEnter: "HS_PLAYER_ENTER",
			},
		},
		ProtoStructs: map[proto.Direction]map[string]string{
			proto.CTOS: {
				"PLAYER_INFO": "CTOS_PlayerInfo",
				"JOIN_GAME":   "CTOS_JoinGame",
				"HAND_RESULT": "CTOS_HandResult",
			},
			proto.STOC: {
				"ERROR_MSG":       "STOC_ErrorMsg",
				"HAND_RESULT":     "STOC_HandResult",
				"JOIN_GAME":       "STOC_JoinGame",
				"TYPE_CHANGE":     "STOC_TypeChange",
				"HS_PLAYER_ENTER": "STOC_HS_PlayerEnter",
			},
		},
	}
}

// Catalog compiles Definition or fails the test.
func Catalog(t testing.TB) *protocol.Catalog {
	t.Helper()
	c, err := protocol.NewCatalog(Definition())
	if err != nil {
		t.Fatalf("fixture catalog: %v", err)
	}
	return c
}

// Frame builds a raw wire frame without consulting any catalog.
func Frame(command uint8, payload ...byte) []byte {
	out := []byte{byte(len(payload) + 1), byte((len(payload) + 1) >> 8), command}
	return append(out, payload...)
}

// Concat joins frames into one receive buffer.
func Concat(frames ...[]byte) []byte {
	var out []byte
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}
