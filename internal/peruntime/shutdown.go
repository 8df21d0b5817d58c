// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package peruntime

import (
	"encoding/binary"

	"github.com/sandia-hpc/pe-runtime/internal/port"
	"github.com/sandia-hpc/pe-runtime/internal/wire"
	log "github.com/sandia-hpc/pe-runtime/pkg/minilog"
)

func encodeErrorCode(code int) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(uint32(code)))
	return buf
}

func decodeErrorCode(payload []byte) int {
	if len(payload) < 8 {
		return 0
	}
	return int(int32(binary.LittleEndian.Uint64(payload)))
}

// Shutdown is spec.md section 4.6's two-phase counted shutdown. It
// returns the exit code the process should report: for the main PE,
// the first non-zero code observed across the cohort (spec.md section
// 7: "the main PE's exit code reflects the first fatal condition
// observed across the cohort"); for any other PE, errorCode itself.
func (rt *Runtime) Shutdown(errorCode int) (int, error) {
	if rt.isMain {
		return rt.shutdownMain(errorCode)
	}
	return rt.shutdownChild(errorCode)
}

func (rt *Runtime) shutdownChild(errorCode int) (int, error) {
	rt.Transport.Send(1, wire.OpFinish, encodeErrorCode(errorCode))

	if errorCode != 0 {
		for {
			_, tag, _, err := rt.Transport.Recv(64)
			if err != nil {
				break
			}
			if tag == wire.OpFinish {
				break
			}
			log.Debug("peruntime: ignoring %v awaiting FINISH reply", tag)
		}
	}

	return errorCode, rt.drainAndQuit(errorCode)
}

func (rt *Runtime) shutdownMain(errorCode int) (int, error) {
	outstanding := 0
	for pe := port.PEId(2); int(pe) <= rt.nPEs; pe++ {
		if rt.isFailed(pe) {
			continue
		}
		rt.Transport.Send(pe, wire.OpFinish, encodeErrorCode(errorCode))
		outstanding++
	}

	firstCode := errorCode
	for outstanding > 0 {
		payload, tag, sender, err := rt.Transport.Recv(64)
		if err != nil {
			break
		}
		switch tag {
		case wire.OpFinish:
			outstanding--
			if code := decodeErrorCode(payload); code != 0 && firstCode == 0 {
				firstCode = code
			}
		case wire.OpFail:
			if !rt.isFailed(sender) {
				rt.markFailed(sender)
				outstanding--
				if firstCode == 0 {
					firstCode = int(ExitInternalError)
				}
			}
		default:
			log.Debug("peruntime: ignoring %v during shutdown", tag)
		}
	}

	return firstCode, rt.drainAndQuit(firstCode)
}

// drainAndQuit discards any messages the substrate is still holding
// (spec.md section 4.6: "after the counted phase each PE receives-and
// -discards any remaining messages"), then disconnects; NPEs is
// zeroed by the transport as a sentinel against duplicate shutdowns.
func (rt *Runtime) drainAndQuit(errorCode int) error {
	for rt.Transport.Probe() {
		if _, _, _, err := rt.Transport.Recv(1 << 20); err != nil {
			break
		}
	}
	return rt.Transport.Quit(errorCode)
}
