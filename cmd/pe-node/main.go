// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Command pe-node wires a transport backend, the runtime tables, and
// DataComms together into one PE, mirroring the teacher's cmd/minimega
// entrypoint pattern (flags, logger setup, then a blocking main loop).
// With the default "local" backend it runs an entire small cohort
// in-process as a demonstration of spec.md section 8's scenario 1
// (a single DATA delivered end to end); with "meshnet" or "spawn" it
// runs as one PE of a real multi-process cohort.
package main

import (
	"bytes"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"strconv"
	"strings"

	"github.com/sandia-hpc/pe-runtime/internal/config"
	"github.com/sandia-hpc/pe-runtime/internal/datacomms"
	"github.com/sandia-hpc/pe-runtime/internal/heap"
	"github.com/sandia-hpc/pe-runtime/internal/mp"
	"github.com/sandia-hpc/pe-runtime/internal/mp/local"
	"github.com/sandia-hpc/pe-runtime/internal/mp/meshnet"
	"github.com/sandia-hpc/pe-runtime/internal/mp/spawn"
	"github.com/sandia-hpc/pe-runtime/internal/peruntime"
	"github.com/sandia-hpc/pe-runtime/internal/port"
	"github.com/sandia-hpc/pe-runtime/internal/rtt"
	"github.com/sandia-hpc/pe-runtime/internal/wire"
	log "github.com/sandia-hpc/pe-runtime/pkg/minilog"
)

func main() {
	backend := flag.String("backend", "local", "transport backend: local, meshnet, spawn")
	n := flag.Int("n", 3, "cohort size (local backend demo, or spawn main PE)")
	listen := flag.String("listen", "", "this PE's listen address (meshnet backend)")
	peers := flag.String("peers", "", "comma-separated pe=host:port address book (meshnet backend)")
	baseDir := flag.String("base-dir", "/tmp/pe-runtime", "named-inbox directory (spawn backend)")
	packBufferSize := flag.Int("pack-buffer-size", config.DefaultPackBufferSize, "pack buffer size in bytes")
	sendBufferSize := flag.Int("send-buffer-size", config.DefaultSendBufferSize, "transport outbox depth (meshnet backend)")
	random := flag.Bool("random-placement", false, "uniform-random RFORK target selection")
	noLocal := flag.Bool("no-local-placement", false, "disallow RFORK targeting this PE")
	logLevel := flag.String("log-level", "info", "debug, info, warn, error")
	flag.Parse()

	log.AddLogger("stdout", stdlog.New(os.Stdout, "", stdlog.LstdFlags), log.LevelInt(*logLevel), true)
	log.DelLogger("stderr")

	cfg := config.Default()
	cfg.PackBufferSize = *packBufferSize
	cfg.SendBufferSize = *sendBufferSize
	cfg.Placement = config.Placement{Random: *random, NoLocal: *noLocal}

	switch *backend {
	case "local":
		runLocalDemo(*n, cfg)
	case "meshnet":
		runMeshnet(*listen, *peers, cfg)
	case "spawn":
		runSpawn(*baseDir, cfg, *n)
	default:
		fmt.Fprintf(os.Stderr, "unknown backend %q\n", *backend)
		os.Exit(2)
	}
}

// runLocalDemo runs n PEs as goroutines sharing one in-process
// local.Cohort, reproducing spec.md section 8 scenario 1: PE n sends a
// single DATA value to an inport PE 1 allocates, and PE 1 observes it.
func runLocalDemo(n int, cfg config.Config) {
	cohort := local.NewCohort(n, cfg.SendBufferSize)
	portCh := make(chan port.Port, 1)
	done := make(chan error, n)

	for i := 1; i <= n; i++ {
		pe := i
		go func() {
			transport := local.NewBackend(cohort, port.PEId(pe))
			rt, _, err := peruntime.Startup(transport, cfg, []string{strconv.Itoa(n)})
			if err != nil {
				done <- fmt.Errorf("PE %d startup: %w", pe, err)
				return
			}

			switch pe {
			case 1:
				done <- runDemoReceiver(rt, portCh)
			case n:
				done <- runDemoSender(rt, portCh)
			default:
				done <- runIdle(rt)
			}
		}()
	}

	for i := 0; i < n; i++ {
		if err := <-done; err != nil {
			log.Error("pe-node: %v", err)
		}
	}
}

func runDemoReceiver(rt *peruntime.Runtime, portCh chan<- port.Port) error {
	proc := rt.Table.NewProcess(nil)
	p, ok := rt.Table.Process(proc.Process)
	if !ok {
		return fmt.Errorf("demo: process vanished immediately")
	}
	inPort := rt.Table.NewInport(p)
	portCh <- inPort

	in, ok := rt.Table.FindInportByP(inPort)
	if !ok {
		return fmt.Errorf("demo: inport vanished immediately")
	}
	placeholder := in.Current()

	for {
		payload, tag, sender, err := rt.Transport.Recv(1 << 20)
		if err != nil {
			return err
		}
		if tag == wire.OpFinish {
			code, err := rt.Shutdown(0)
			log.Info("pe-node: PE 1 shut down (exit %d)", code)
			return err
		}
		if !tag.IsData() {
			log.Debug("pe-node: ignoring %v from PE %d", tag, sender)
			continue
		}
		msg, err := wire.Decode(bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		if status, err := rt.Dispatch.ProcessDataMsg(tag, msg.Sender, msg.Receiver, msg.Payload); err != nil {
			if status == datacomms.FatalErr {
				peruntime.Fatal(rt, err, peruntime.ExitInternalError)
			}
			return fmt.Errorf("process data msg: %v: %w", status, err)
		}
		if tag == wire.OpData {
			placeholder.Wait()
			log.Info("pe-node: PE 1 received %v", placeholder.Data)
		}
	}
}

func runDemoSender(rt *peruntime.Runtime, portCh <-chan port.Port) error {
	receiver := <-portCh

	th := rtt.NewThread(1)
	rt.Table.NewProcess(th)
	th.SetReceiver(receiver)

	status, blocked, err := rt.Dispatch.SendWrapper(th, datacomms.Mode{Kind: datacomms.KindData}, heap.NewLeaf(int64(42)))
	if err != nil {
		return fmt.Errorf("send demo value: %v: %w", status, err)
	}
	if status != datacomms.OK {
		return fmt.Errorf("send demo value: unexpected status %v (blocked=%v)", status, blocked)
	}
	log.Info("pe-node: sent 42 to %v", receiver)

	code, err := rt.Shutdown(0)
	log.Info("pe-node: last PE shut down (exit %d)", code)
	return err
}

func runIdle(rt *peruntime.Runtime) error {
	for {
		_, tag, _, err := rt.Transport.Recv(1 << 20)
		if err != nil {
			return err
		}
		if tag == wire.OpFinish {
			code, err := rt.Shutdown(0)
			log.Info("pe-node: PE %d shut down (exit %d)", rt.ThisPE(), code)
			return err
		}
	}
}

func runMeshnet(listen, peersFlag string, cfg config.Config) {
	addrs, err := parseAddressBook(peersFlag)
	if err != nil {
		log.Fatal("pe-node: %v", err)
	}

	transport := meshnet.New(listen, addrs, cfg.SendBufferSize)
	runSinglePE(transport, cfg, len(addrs))
}

func runSpawn(baseDir string, cfg config.Config, n int) {
	transport := spawn.New(baseDir, os.Args[0])
	runSinglePE(transport, cfg, n)
}

func runSinglePE(transport mp.Transport, cfg config.Config, n int) {
	rt, _, err := peruntime.Startup(transport, cfg, []string{strconv.Itoa(n)})
	if err != nil {
		log.Fatal("pe-node: startup: %v", err)
	}

	if err := runIdle(rt); err != nil {
		peruntime.Fatal(rt, err, peruntime.ExitInternalError)
	}
}

func parseAddressBook(flagVal string) (meshnet.AddressBook, error) {
	addrs := make(meshnet.AddressBook)
	if flagVal == "" {
		return addrs, fmt.Errorf("pe-node: -peers is required for the meshnet backend")
	}
	for _, pair := range strings.Split(flagVal, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("pe-node: malformed -peers entry %q", pair)
		}
		id, err := strconv.Atoi(kv[0])
		if err != nil {
			return nil, fmt.Errorf("pe-node: malformed PE number in %q: %w", pair, err)
		}
		addrs[port.PEId(id)] = kv[1]
	}
	return addrs, nil
}
