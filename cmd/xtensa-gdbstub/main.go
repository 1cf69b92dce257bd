// Command xtensa-gdbstub replays a captured Xtensa crash snapshot as a
// GDB Remote Serial Protocol stub: a host debugger can attach and
// inspect registers and memory as if the target were halted live, per
// SPEC_FULL.md §1.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"xtensa-gdbstub/dispatch"
	"xtensa-gdbstub/loader"
	"xtensa-gdbstub/rsp"
)

func main() {
	var (
		logPath string
		elfPath string
		listen  string
		verbose bool
	)
	pflag.StringVar(&logPath, "log", "", "path to the crash log (required)")
	pflag.StringVar(&elfPath, "elf", "", "path to the ELF program image (required)")
	pflag.StringVar(&listen, "listen", "", "TCP address to listen on (default: speak RSP over stdio)")
	pflag.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: xtensa-gdbstub --log <crash.txt> --elf <firmware.elf> [--listen host:port]")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "xtensa-gdbstub"})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.InfoLevel)
	}

	if logPath == "" || elfPath == "" {
		pflag.Usage()
		os.Exit(1)
	}

	state, err := loader.LoadCrashLog(logPath)
	if err != nil {
		logger.Error("failed to load crash log", "path", logPath, "err", err)
		os.Exit(1)
	}
	if err := loader.LoadELF(state, elfPath); err != nil {
		logger.Error("failed to load elf image", "path", elfPath, "err", err)
		os.Exit(1)
	}
	logger.Info("loaded snapshot", "regions", len(state.Memory.Regions()), "pc", fmt.Sprintf("%#x", state.Regs.PC))

	d := dispatch.New(state)

	if listen == "" {
		runStdio(d, logger)
		return
	}
	if err := runTCP(listen, d, logger); err != nil {
		logger.Error("gdb server error", "err", err)
		os.Exit(1)
	}
}

// runStdio speaks RSP over the process's own stdin/stdout, matching the
// reference stub's dbg_sys_getc/dbg_sys_putchar transport.
func runStdio(d *dispatch.Dispatcher, logger *log.Logger) {
	f := rsp.NewFramer(stdioReadWriter{})
	runLoop(f, d, logger)
}

// stdioReadWriter adapts os.Stdin/os.Stdout to io.ReadWriter.
type stdioReadWriter struct{}

func (stdioReadWriter) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioReadWriter) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

// runTCP listens on addr and serves exactly one GDB connection at a
// time, matching the teacher's (aykevl-emculator) gdbServer/gdbHandle
// model: concurrent GDB sessions would otherwise trample the same
// DebugState, and RSP only expects one debugger attached anyway.
func runTCP(addr string, d *dispatch.Dispatcher, logger *log.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()
	logger.Info("listening for gdb", "addr", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		logger.Info("gdb connected", "remote", conn.RemoteAddr())
		f := rsp.NewFramer(conn)
		runLoop(f, d, logger)
		conn.Close()
	}
}

func runLoop(f *rsp.Framer, d *dispatch.Dispatcher, logger *log.Logger) {
	if err := dispatch.SendConsoleMessage(f, fmt.Sprintf("xtensa-gdbstub: snapshot loaded, %d region(s)\n", len(d.State.Memory.Regions()))); err != nil {
		logger.Debug("failed to send startup console message", "err", err)
	}

	outcome, err := dispatch.Loop(f, d, logger)
	if err != nil {
		logger.Warn("rsp loop terminated with error", "err", err)
		return
	}
	switch outcome {
	case dispatch.LoopDetached:
		logger.Info("gdb detached")
		os.Exit(0)
	case dispatch.LoopContinueRequested:
		logger.Info("continue requested on a post-mortem snapshot; no effect")
	case dispatch.LoopStepRequested:
		logger.Info("step requested on a post-mortem snapshot; no effect")
	case dispatch.LoopEOF:
		logger.Debug("rsp loop ended at eof")
	}
}
