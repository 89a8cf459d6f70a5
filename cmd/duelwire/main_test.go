package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/duelwire/internal/capture"
	"github.com/danmuck/duelwire/internal/protocol/frame"
	"github.com/danmuck/duelwire/internal/protocol/proto"
	"github.com/danmuck/duelwire/internal/testutil/testlog"
)

const structsJSON = `{
  "CTOS_PlayerInfo": [{"name": "name", "type": "word16Ule", "length": 20, "encoding": "UTF-16LE"}],
  "STOC_TypeChange": [{"name": "type", "type": "word8"}]
}`

const protoStructsJSON = `{"CTOS": {"PLAYER_INFO": "CTOS_PlayerInfo"}, "STOC": {"TYPE_CHANGE": "STOC_TypeChange"}}`

const constantsJSON = `{"CTOS": {"16": "PLAYER_INFO", "22": "CHAT"}, "STOC": {"19": "TYPE_CHANGE"}}`

func writeDefinitions(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range map[string]string{
		"structs.json":       structsJSON,
		"proto_structs.json": protoStructsJSON,
		"constants.json":     constantsJSON,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		checkDefinitions = ""
		initForce = false
		sendUpstream = ""
		sendWS = false
		sendReplies = 1
		sendWait = 5 * time.Second
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("duelwire %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func TestCheckPrintsLayout(t *testing.T) {
	testlog.Start(t)
	out := execute(t, "check", "--definitions", writeDefinitions(t))
	for _, want := range []string{"CTOS_PlayerInfo", "40", "CTOS_PLAYER_INFO", "STOC_TYPE_CHANGE", "CTOS_CHAT"} {
		if !strings.Contains(out, want) {
			t.Fatalf("check output missing %q:\n%s", want, out)
		}
	}
}

func TestInitWritesLoadableTemplate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "relay.toml")
	out := execute(t, "init", "--config", path)
	if !strings.Contains(out, path) {
		t.Fatalf("unexpected init output: %s", out)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read template: %v", err)
	}
	if !strings.Contains(string(data), "preconnect_allow") {
		t.Fatalf("template missing preconnect_allow:\n%s", data)
	}
}

func TestReplayReportsCounts(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "session.cbor")
	w, err := capture.Create(path)
	if err != nil {
		t.Fatalf("create capture: %v", err)
	}
	player := append([]byte{41, 0, 0x10}, make([]byte, 40)...)
	records := []capture.Record{
		{Session: "s", Direction: proto.CTOS, Data: player},
		{Session: "s", Direction: proto.STOC, Data: []byte{2, 0, 0x13, 1}},
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			t.Fatalf("write record: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close capture: %v", err)
	}

	out := execute(t, "replay", "--definitions", writeDefinitions(t), path)
	if !strings.Contains(out, "sessions  1") {
		t.Fatalf("unexpected replay output:\n%s", out)
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 6 && (fields[0] == "CTOS" || fields[0] == "STOC") && fields[3] != "1" {
			t.Fatalf("expected one frame per direction: %q", line)
		}
	}
}

func TestSendPrintsDecodedReply(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	got := make(chan frame.Frame, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		f, err := frame.ReadFrame(conn, frame.DefaultLimits())
		if err != nil {
			return
		}
		got <- f
		conn.Write([]byte{2, 0, 0x13, 1})
	}()

	out := execute(t, "send", "--definitions", writeDefinitions(t), "--upstream", ln.Addr().String(),
		"CTOS_PLAYER_INFO", "{name: tester}")
	var f frame.Frame
	select {
	case f = <-got:
	case <-time.After(2 * time.Second):
		t.Fatalf("upstream never received a frame")
	}
	if f.Header.Command != 0x10 || len(f.Payload) != 40 || f.Payload[0] != 't' {
		t.Fatalf("unexpected frame at upstream: %+v", f.Header)
	}
	for _, want := range []string{"-> CTOS_PLAYER_INFO 43 bytes", `<- STOC_TYPE_CHANGE 1 bytes {"type":1}`} {
		if !strings.Contains(out, want) {
			t.Fatalf("send output missing %q:\n%s", want, out)
		}
	}
}

func TestSendRejectsServerCommand(t *testing.T) {
	testlog.Start(t)
	rootCmd.SetArgs([]string{"send", "--definitions", writeDefinitions(t), "--upstream", "127.0.0.1:1", "STOC_TYPE_CHANGE"})
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	t.Cleanup(func() {
		checkDefinitions = ""
		sendUpstream = ""
	})
	if err := rootCmd.Execute(); err == nil || !strings.Contains(err.Error(), "not a client command") {
		t.Fatalf("expected client command error, got %v", err)
	}
}
