package plugins

import (
	"strings"

	"github.com/danmuck/duelwire/internal/config"
	"github.com/danmuck/duelwire/internal/protocol/handler"
	"github.com/danmuck/duelwire/internal/protocol/proto"
	"github.com/danmuck/duelwire/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

func init() {
	Register(Trace{})
	Register(ChatFilter{})
}

// Trace logs every known command in both directions from the lowest
// dispatched tier. It runs asynchronously and never changes a frame.
type Trace struct{}

func (Trace) Name() string { return "trace" }

func (Trace) Install(reg *handler.Registry, _ *config.Config) error {
	for _, dir := range proto.Directions() {
		for _, command := range reg.Protos().Commands(dir) {
			qualified := proto.QualifiedName{Direction: dir, Command: command}.String()
			if err := reg.Register(qualified, traceFrame, false, handler.DispatchTiers-1); err != nil {
				return err
			}
		}
	}
	return nil
}

func traceFrame(in handler.Input) handler.Verdict {
	event := log.Debug().Str("direction", string(in.Direction)).Str("command", in.Command).
		Uint8("id", in.ID).Int("bytes", len(in.Payload))
	if in.Record != nil {
		event = event.Interface("record", in.Record)
	}
	event.Msg("plugins.trace frame")
	return handler.Continue()
}

// ChatFilter drops client chat lines containing any word of the config's
// chat_block list, compared case-insensitively. An empty list installs
// nothing.
type ChatFilter struct{}

func (ChatFilter) Name() string { return "chat_filter" }

func (ChatFilter) Install(reg *handler.Registry, cfg *config.Config) error {
	if !reg.Protos().Has(proto.CTOS, "CHAT") {
		log.Warn().Msg("plugins.chat_filter CTOS_CHAT not in catalog, skipped")
		return nil
	}
	words := make([]string, 0, len(cfg.ChatBlock))
	for _, w := range cfg.ChatBlock {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		return nil
	}
	return reg.Register("CTOS_CHAT", func(in handler.Input) handler.Verdict {
		text := strings.ToLower(schema.DecodeText(in.Payload))
		for _, w := range words {
			if strings.Contains(text, w) {
				log.Info().Str("word", w).Msg("plugins.chat_filter line dropped")
				return handler.CancelFrame()
			}
		}
		return handler.Continue()
	}, true, 0)
}
