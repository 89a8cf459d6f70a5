package capture

import (
	"errors"
	"io"

	"github.com/danmuck/duelwire/internal/protocol/dispatch"
	"github.com/danmuck/duelwire/internal/protocol/proto"
	"github.com/rs/zerolog/log"
)

// ReplayOptions mirrors the relay settings the capture was taken under.
type ReplayOptions struct {
	// Preconnect is applied to every CTOS stream.
	Preconnect []string
}

// DirectionReport counts what replaying one direction produced.
type DirectionReport struct {
	Records  int
	Bytes    int
	Frames   int
	Closed   int
	Feedback map[dispatch.FeedbackKind]int
}

type Report struct {
	Sessions   int
	Directions map[proto.Direction]*DirectionReport
}

type pipeKey struct {
	session string
	dir     proto.Direction
}

// Replay feeds every record of r through d, one pipe per session and
// direction. Records after a pipe closed are counted but not dispatched.
func Replay(r io.Reader, d *dispatch.Dispatcher, opts ReplayOptions) (Report, error) {
	report := Report{Directions: make(map[proto.Direction]*DirectionReport, 2)}
	for _, dir := range proto.Directions() {
		report.Directions[dir] = &DirectionReport{Feedback: make(map[dispatch.FeedbackKind]int)}
	}

	pipes := make(map[pipeKey]*dispatch.Pipe)
	sessions := make(map[string]struct{})
	reader := NewReader(r)
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return report, err
		}
		sessions[rec.Session] = struct{}{}
		dr := report.Directions[rec.Direction]
		dr.Records++
		dr.Bytes += len(rec.Data)

		key := pipeKey{session: rec.Session, dir: rec.Direction}
		p, ok := pipes[key]
		if !ok {
			popts := dispatch.PipeOptions{}
			if rec.Direction == proto.CTOS {
				popts.Preconnect = opts.Preconnect
			}
			p = dispatch.NewPipe(d, rec.Direction, popts)
			pipes[key] = p
		}

		step, err := p.Feed(rec.Data)
		if errors.Is(err, dispatch.ErrPipeClosed) {
			continue
		}
		if err != nil {
			dr.Closed++
			log.Debug().Err(err).Str("session", rec.Session).Str("direction", string(rec.Direction)).
				Msg("capture.Replay pipe failed")
			continue
		}
		dr.Frames += len(step.Frames)
		for _, fb := range step.Feedback {
			dr.Feedback[fb.Kind]++
		}
		if step.Close {
			dr.Closed++
			log.Debug().Str("session", rec.Session).Str("direction", string(rec.Direction)).
				Str("reason", step.Reason).Msg("capture.Replay pipe closed")
		}
	}
	report.Sessions = len(sessions)
	log.Info().Int("sessions", report.Sessions).
		Int("ctos_frames", report.Directions[proto.CTOS].Frames).
		Int("stoc_frames", report.Directions[proto.STOC].Frames).
		Msg("capture.Replay done")
	return report, nil
}
