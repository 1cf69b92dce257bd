package dispatch

import (
	"errors"
	"io"

	"github.com/charmbracelet/log"

	"xtensa-gdbstub/rsp"
)

// LoopOutcome reports why Loop returned.
type LoopOutcome int

const (
	// LoopEOF means the transport reached EOF cleanly.
	LoopEOF LoopOutcome = iota
	// LoopContinueRequested means a 'c' packet was received.
	LoopContinueRequested
	// LoopStepRequested means an 's' packet was received.
	LoopStepRequested
	// LoopDetached means a 'D' packet was received and acknowledged; the
	// caller should exit the process.
	LoopDetached
)

// Loop repeatedly receives one RSP frame, dispatches it, and sends the
// reply, until the transport hits EOF or a 'c'/'s'/'D' command ends the
// iteration (spec §4.6). A framing error other than a checksum mismatch
// (ErrFrameOverflow, or any error that isn't ErrBadChecksum/io.EOF)
// terminates the loop and is returned to the caller; a checksum mismatch
// is already handled by rsp.Framer (it NACKs and returns ErrBadChecksum),
// so Loop simply retries the receive.
func Loop(f *rsp.Framer, d *Dispatcher, logger *log.Logger) (LoopOutcome, error) {
	for {
		packet, err := f.Recv()
		if err != nil {
			if errors.Is(err, rsp.ErrBadChecksum) {
				logger.Debug("rsp: nacked malformed packet")
				continue
			}
			if errors.Is(err, io.EOF) {
				logger.Debug("rsp: transport closed")
				return LoopEOF, nil
			}
			return LoopEOF, err
		}

		reply, outcome := d.Dispatch(packet)
		logger.Debug("rsp: dispatched packet", "cmd", firstByte(packet), "replyLen", len(reply))

		if _, err := f.Send(reply); err != nil {
			return LoopEOF, err
		}

		switch outcome {
		case OutcomeDetach:
			return LoopDetached, nil
		case OutcomeContinueRequested:
			return LoopContinueRequested, nil
		case OutcomeStepRequested:
			return LoopStepRequested, nil
		}
	}
}

func firstByte(packet []byte) string {
	if len(packet) == 0 {
		return ""
	}
	return string(packet[0])
}
