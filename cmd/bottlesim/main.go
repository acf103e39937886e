package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/adapters/modbus"
	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/app/config"
	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/domain"
	"github.com/SparkyLarks/ISA95-bottling-simulator/internal/sim"
	"github.com/SparkyLarks/ISA95-bottling-simulator/pkg/bottlesim"
)

// Exit codes: 0 normal, 1 config error, 2 schedule error, 3 port bind
// error.
const (
	exitOK       = 0
	exitConfig   = 1
	exitSchedule = 2
	exitBind     = 3
)

func main() {
	args := os.Args[1:]
	cmd := "run"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd = args[0]
		args = args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = runCommand(args)
	case "validate":
		err = validateCommand(args)
	case "decode":
		err = decodeCommand(args)
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Printf("bottlesim %s: %v", cmd, err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitOK)
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, sim.ErrSchedule):
		return exitSchedule
	case errors.Is(err, modbus.ErrBind):
		return exitBind
	case errors.Is(err, config.ErrInvalid):
		return exitConfig
	default:
		return exitConfig
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "Path to YAML configuration")
	speed := fs.Float64("speed", 0, "Override speed_factor")
	port := fs.Int("port", 0, "Override Modbus TCP port")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := bottlesim.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *speed != 0 {
		cfg.Simulator.SpeedFactor = *speed
	}
	if *port != 0 {
		cfg.Modbus.Port = *port
	}

	rt, err := bottlesim.NewRuntime(cfg)
	if err != nil {
		return err
	}

	log.Printf("bottling line simulator | speed=%.1fx | modbus port %d | log %s",
		cfg.Simulator.SpeedFactor, cfg.Modbus.Port, cfg.Logging.TransactionsFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return rt.Run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := bottlesim.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	cat := domain.BuiltInCatalogue()
	sched := sim.BuiltInSchedule(cfg.WeekStartTime(), cat,
		time.Duration(cfg.Breakdowns.MajorDurationMin*float64(time.Minute)))
	if err := sim.ValidateSchedule(sched, cat); err != nil {
		return err
	}
	fmt.Printf("config %s ok: %d schedule blocks\n", *cfgPath, len(sched))
	return nil
}

// decodeCommand polls a running simulator and prints the decoded register
// image.
func decodeCommand(args []string) error {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	host := fs.String("host", "127.0.0.1", "Simulator host")
	port := fs.Int("port", 5020, "Modbus TCP port")
	unit := fs.Int("unit", 1, "Modbus unit id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	regs, err := readHoldingRegisters(*host, *port, uint8(*unit), 0, 56)
	if err != nil {
		return err
	}

	for _, spec := range sim.RegisterMap {
		var value string
		switch spec.Type {
		case sim.TypeUint16:
			value = fmt.Sprintf("%d", regs[spec.Addr])
		case sim.TypeBool:
			value = fmt.Sprintf("%t", regs[spec.Addr] != 0)
		case sim.TypeUint32:
			value = fmt.Sprintf("%d", sim.UnpackUint32(regs[spec.Addr], regs[spec.Addr+1]))
		case sim.TypeFloat32:
			value = fmt.Sprintf("%.2f", sim.UnpackFloat32(regs[spec.Addr], regs[spec.Addr+1]))
		}
		extra := ""
		switch spec.Addr {
		case sim.RLineState:
			extra = " (" + domain.LineState(regs[spec.Addr]).String() + ")"
		case sim.RStopCode:
			if name := domain.StopCodeName(regs[spec.Addr]); name != "" {
				extra = " (" + name + ")"
			}
		}
		fmt.Printf("%-20s %-14s %s%s\n", spec.Name, spec.Station, value, extra)
	}
	return nil
}

func readHoldingRegisters(host string, port int, unit uint8, start, count uint16) ([]uint16, error) {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), 3*time.Second)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(3 * time.Second))

	req := make([]byte, 12)
	binary.BigEndian.PutUint16(req[0:2], 1) // transaction id
	binary.BigEndian.PutUint16(req[2:4], 0) // protocol id
	binary.BigEndian.PutUint16(req[4:6], 6) // length
	req[6] = unit
	req[7] = 0x03
	binary.BigEndian.PutUint16(req[8:10], start)
	binary.BigEndian.PutUint16(req[10:12], count)
	if _, err := conn.Write(req); err != nil {
		return nil, err
	}

	var header [7]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint16(header[4:6])
	body := make([]byte, length-1)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, err
	}
	if body[0]&0x80 != 0 {
		return nil, fmt.Errorf("modbus exception 0x%02x", body[1])
	}
	byteCount := int(body[1])
	values := make([]uint16, byteCount/2)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(body[2+i*2:])
	}
	return values, nil
}

func printUsage() {
	fmt.Printf(`Bottling line digital twin

Usage:
  bottlesim <command> [flags]

Commands:
  run        Start the simulator (default when flags are given directly)
  validate   Load and validate configuration and schedule without running
  decode     Poll a running simulator and print the decoded register image

Examples:
  bottlesim run -config config.yaml -speed 600 -port 5020
  bottlesim validate -config config.yaml
  bottlesim decode -host 127.0.0.1 -port 5020
`)
}
