package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/danmuck/duelwire/internal/config"
	"github.com/danmuck/duelwire/internal/definitions"
	"github.com/danmuck/duelwire/internal/protocol"
	"github.com/danmuck/duelwire/internal/protocol/frame"
	"github.com/danmuck/duelwire/internal/protocol/proto"
	"github.com/danmuck/duelwire/internal/transport"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	sendUpstream string
	sendWS       bool
	sendReplies  int
	sendWait     time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send <CTOS_COMMAND> [payload]",
	Short: "Send one client frame to a duel server and print the replies",
	Long: `Encode one CTOS command, send it to the upstream and decode server frames
until --replies frames arrived or --wait elapsed. The payload is a YAML or
JSON mapping of struct fields; without one an empty payload is sent.

  duelwire send CTOS_PLAYER_INFO '{name: tester}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&checkDefinitions, "definitions", "", "definitions directory")
	sendCmd.Flags().StringVar(&sendUpstream, "upstream", "", "duel server address (default from config)")
	sendCmd.Flags().BoolVar(&sendWS, "ws", false, "treat --upstream as a websocket url")
	sendCmd.Flags().IntVar(&sendReplies, "replies", 1, "server frames to wait for")
	sendCmd.Flags().DurationVar(&sendWait, "wait", 5*time.Second, "how long to wait for replies")
}

func parsePayload(args []string) (any, error) {
	if len(args) < 2 {
		return nil, nil
	}
	var payload map[string]any
	if err := yaml.Unmarshal([]byte(args[1]), &payload); err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	return payload, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	dir, err := definitionsDir()
	if err != nil {
		return err
	}
	catalog, err := definitions.Catalog(dir)
	if err != nil {
		return err
	}
	q, err := proto.ParseQualifiedName(args[0])
	if err != nil {
		return err
	}
	if q.Direction != proto.CTOS {
		return fmt.Errorf("send: %s is not a client command", args[0])
	}
	payload, err := parsePayload(args)
	if err != nil {
		return err
	}
	out, err := catalog.Prepare(args[0], payload)
	if err != nil {
		return err
	}

	cfg := config.Default()
	if sendUpstream == "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = *loaded
	} else {
		cfg.Upstream = sendUpstream
		cfg.UpstreamWS = sendWS
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), sendWait)
	defer cancel()
	var conn transport.Conn
	if cfg.UpstreamWS {
		conn, err = transport.DialMessage(ctx, cfg.Upstream, cfg.Transport)
	} else {
		conn, err = transport.DialStream(ctx, cfg.Upstream, cfg.Transport)
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := transport.Send(ctx, conn, out); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "-> %s %d bytes\n", q, len(out))

	r := transport.NewReader(ctx, conn)
	for i := 0; i < sendReplies; i++ {
		f, err := frame.ReadFrame(r, frame.DefaultLimits())
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, transport.ErrClosed) ||
				errors.Is(err, os.ErrDeadlineExceeded) || ctx.Err() != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "<- %d of %d replies before the connection ended\n", i, sendReplies)
				return nil
			}
			return err
		}
		printReply(cmd.OutOrStdout(), catalog, f)
	}
	return nil
}

func printReply(w io.Writer, catalog *protocol.Catalog, f frame.Frame) {
	name, ok := catalog.Protos().Name(proto.STOC, f.Header.Command)
	if !ok {
		name = fmt.Sprintf("%d", f.Header.Command)
	}
	rec, err := catalog.Decode(proto.STOC, f.Header.Command, f.Payload)
	switch {
	case err != nil:
		fmt.Fprintf(w, "<- STOC_%s %d bytes (%v)\n", name, f.Header.PayloadLen(), err)
	case rec == nil:
		fmt.Fprintf(w, "<- STOC_%s %d bytes\n", name, f.Header.PayloadLen())
	default:
		body, _ := json.Marshal(rec)
		fmt.Fprintf(w, "<- STOC_%s %d bytes %s\n", name, f.Header.PayloadLen(), body)
	}
}
