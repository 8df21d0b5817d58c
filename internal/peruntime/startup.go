// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package peruntime

import (
	"fmt"

	"github.com/sandia-hpc/pe-runtime/internal/config"
	"github.com/sandia-hpc/pe-runtime/internal/datacomms"
	"github.com/sandia-hpc/pe-runtime/internal/mp"
	"github.com/sandia-hpc/pe-runtime/internal/packbuf"
	"github.com/sandia-hpc/pe-runtime/internal/port"
	"github.com/sandia-hpc/pe-runtime/internal/rtt"
	"github.com/sandia-hpc/pe-runtime/internal/wire"
	log "github.com/sandia-hpc/pe-runtime/pkg/minilog"
)

// Startup is spec.md section 4.6's startup sequence: connect the
// transport (which, for the spawn backend, is also where children are
// launched), run the READY/PETIDS handshake, then allocate the pack
// buffer, the RTT, and the system-owner pseudo-thread. args is the
// transport's injected-argument list (spec.md section 4.1); the
// remaining, transport-independent arguments are returned for the
// caller to parse as its own flags.
func Startup(transport mp.Transport, cfg config.Config, args []string) (*Runtime, []string, error) {
	remaining, err := transport.Start(args)
	if err != nil {
		return nil, nil, fmt.Errorf("peruntime: start: %w", err)
	}
	if err := transport.Sync(); err != nil {
		return nil, nil, fmt.Errorf("peruntime: sync: %w", err)
	}

	thisPE := transport.ThisPE()
	nPEs := transport.NPEs()
	isMain := transport.IsMainThread()

	log.SetPE(int(thisPE))
	ring := log.NewRing(DefaultDiagnosticsLines)
	log.AddLogger("ring", ring, log.DEBUG, false)

	if err := exchangeReady(transport, nPEs, isMain); err != nil {
		return nil, nil, fmt.Errorf("peruntime: startup handshake: %w", err)
	}

	table := rtt.New(thisPE)
	pack := packbuf.New(cfg.PackBufferSize)

	rt := &Runtime{
		Config:      cfg,
		Transport:   transport,
		Table:       table,
		Pack:        pack,
		SystemOwner: rtt.NewThread(0),
		thisPE:      thisPE,
		nPEs:        nPEs,
		isMain:      isMain,
		failed:      make(map[port.PEId]bool),
		diagnostics: ring,
	}
	rt.Dispatch = datacomms.New(thisPE, nPEs, table, transport, pack, cfg.Placement)

	log.Info("peruntime: PE %d of %d started (main=%v)", thisPE, nPEs, isMain)
	return rt, remaining, nil
}

// exchangeReady runs spec.md section 4.6's startup protocol on top of
// an already-connected transport: every non-main PE reports READY to
// PE 1; PE 1 waits for N-1 of them and replies with PETIDS (here, the
// trivial address vector 1..N — the transport's own Sync already
// established per-peer connectivity, so PETIDS here is the
// application-level confirmation barrier rather than the thing that
// teaches peers their addresses).
func exchangeReady(t mp.Transport, nPEs int, isMain bool) error {
	if isMain {
		seen := 0
		for seen < nPEs-1 {
			_, tag, sender, err := t.Recv(64)
			if err != nil {
				return fmt.Errorf("recv during startup: %w", err)
			}
			if tag != wire.OpReady {
				log.Debug("peruntime: ignoring %v from PE %d during startup", tag, sender)
				continue
			}
			seen++
		}

		ids := make([]byte, nPEs)
		for i := range ids {
			ids[i] = byte(i + 1)
		}
		for pe := port.PEId(2); int(pe) <= nPEs; pe++ {
			if !t.Send(pe, wire.OpPETIDs, ids) {
				return fmt.Errorf("deliver PETIDS to PE %d", pe)
			}
		}
		return nil
	}

	if !t.Send(1, wire.OpReady, nil) {
		return fmt.Errorf("send READY to main PE")
	}
	for {
		_, tag, _, err := t.Recv(4096)
		if err != nil {
			return fmt.Errorf("recv awaiting PETIDS: %w", err)
		}
		if tag == wire.OpPETIDs {
			return nil
		}
		log.Debug("peruntime: ignoring %v while awaiting PETIDS", tag)
	}
}
